package roles

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Mapping holds the static group-to-role and role-to-permission tables.
// It is loaded once at startup, validated for totality, and never mutated
// afterwards, so concurrent reads need no locking.
type Mapping struct {
	groupRoles  map[string][]Role
	rolePerms   map[Role][]Permission
	defaultRole Role
}

// mappingFile is the on-disk YAML layout for role configuration
type mappingFile struct {
	Groups      map[string][]string `yaml:"groups"`
	Roles       map[string][]string `yaml:"roles"`
	DefaultRole string              `yaml:"default_role"`
}

// NewMapping creates a validated mapping. Every role referenced by a group
// entry (and the default role) must have a permission entry, even if empty:
// a missing entry is a configuration error, not an empty grant.
func NewMapping(groupRoles map[string][]Role, rolePerms map[Role][]Permission, defaultRole Role) (*Mapping, error) {
	if defaultRole == "" {
		return nil, fmt.Errorf("default role is required")
	}
	if _, ok := rolePerms[defaultRole]; !ok {
		return nil, fmt.Errorf("default role %q has no permission entry", defaultRole)
	}
	for group, rs := range groupRoles {
		for _, r := range rs {
			if _, ok := rolePerms[r]; !ok {
				return nil, fmt.Errorf("group %q maps to role %q which has no permission entry", group, r)
			}
		}
	}

	return &Mapping{
		groupRoles:  groupRoles,
		rolePerms:   rolePerms,
		defaultRole: defaultRole,
	}, nil
}

// DefaultMapping returns the built-in tables used when no mapping file is
// configured. Mirrors the default dataset roles: directory groups prefixed
// "PBI-" map onto the matching report role, everyone else is Public.
func DefaultMapping() *Mapping {
	m, err := NewMapping(
		map[string][]Role{
			"PBI-Admin": {RoleAdmin},
			"PBI-RolA":  {RoleRegionA},
			"PBI-RolB":  {RoleRegionB},
		},
		map[Role][]Permission{
			RoleAdmin:   {PermViewReports, PermExportData, PermManageUsers, PermAdminAccess, PermManageSystem},
			RoleRegionA: {PermViewReports, PermExportData},
			RoleRegionB: {PermViewReports, PermExportData},
			RolePublic:  {PermViewReports},
		},
		RolePublic,
	)
	if err != nil {
		// The built-in tables are total by construction
		panic(fmt.Sprintf("roles: invalid built-in mapping: %v", err))
	}
	return m
}

// LoadMappingFile reads and validates a YAML mapping file
func LoadMappingFile(path string) (*Mapping, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read role mapping file: %w", err)
	}

	var file mappingFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse role mapping file: %w", err)
	}

	groupRoles := make(map[string][]Role, len(file.Groups))
	for group, names := range file.Groups {
		rs := make([]Role, len(names))
		for i, name := range names {
			rs[i] = Role(name)
		}
		groupRoles[group] = rs
	}

	rolePerms := make(map[Role][]Permission, len(file.Roles))
	for name, perms := range file.Roles {
		ps := make([]Permission, len(perms))
		for i, p := range perms {
			ps[i] = Permission(p)
		}
		rolePerms[Role(name)] = ps
	}

	mapping, err := NewMapping(groupRoles, rolePerms, Role(file.DefaultRole))
	if err != nil {
		return nil, fmt.Errorf("invalid role mapping file %s: %w", path, err)
	}
	return mapping, nil
}

// DefaultRole returns the fallback role assigned when no group matches
func (m *Mapping) DefaultRole() Role {
	return m.defaultRole
}

// Resolve maps a set of raw group identifiers to the caller's roles.
// Unknown groups are ignored. The result is deduplicated and sorted so the
// same group set always yields the same role list, which keeps derived
// cache keys stable. An empty union falls back to the default role; the
// result is never empty.
func (m *Mapping) Resolve(groupIDs []string) []Role {
	seen := make(map[Role]struct{})
	for _, group := range groupIDs {
		for _, r := range m.groupRoles[group] {
			seen[r] = struct{}{}
		}
	}

	if len(seen) == 0 {
		// Fail closed to least privilege, not open to no access
		return []Role{m.defaultRole}
	}

	resolved := make([]Role, 0, len(seen))
	for r := range seen {
		resolved = append(resolved, r)
	}
	sort.Slice(resolved, func(i, j int) bool { return resolved[i] < resolved[j] })
	return resolved
}

// PermissionsFor unions the permission sets of the given roles. Roles
// without a permission entry contribute nothing.
func (m *Mapping) PermissionsFor(rs []Role) PermissionSet {
	set := make(PermissionSet)
	for _, r := range rs {
		for _, p := range m.rolePerms[r] {
			set[p] = struct{}{}
		}
	}
	return set
}

// Roles returns the names of all configured roles, sorted
func (m *Mapping) Roles() []Role {
	out := make([]Role, 0, len(m.rolePerms))
	for r := range m.rolePerms {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
