package roles

import (
	"sort"
	"strings"
)

// Role is a named data-access level. Scoped roles are baked into embed
// credentials as row-level-security identities; the reporting platform
// OR-combines their filters.
type Role string

// Built-in roles matching the default dataset configuration
const (
	RoleAdmin   Role = "Admin"
	RoleRegionA Role = "RolA"
	RoleRegionB Role = "RolB"
	RolePublic  Role = "Public"
)

// Permission represents a named capability (resource:action)
type Permission string

const (
	PermViewReports  Permission = "reports:view"
	PermExportData   Permission = "reports:export"
	PermManageUsers  Permission = "users:manage"
	PermAdminAccess  Permission = "admin:access"
	PermManageSystem Permission = "system:manage"
)

// PermissionSet is an unordered set of permissions
type PermissionSet map[Permission]struct{}

// NewPermissionSet builds a set from a list of permissions
func NewPermissionSet(perms ...Permission) PermissionSet {
	set := make(PermissionSet, len(perms))
	for _, p := range perms {
		set[p] = struct{}{}
	}
	return set
}

// Has reports whether the set contains the permission
func (s PermissionSet) Has(p Permission) bool {
	_, ok := s[p]
	return ok
}

// HasAll reports whether the set contains every required permission.
// An empty requirement list is trivially satisfied.
func (s PermissionSet) HasAll(required ...Permission) bool {
	for _, p := range required {
		if !s.Has(p) {
			return false
		}
	}
	return true
}

// Missing returns the required permissions absent from the set, in the
// order they were requested
func (s PermissionSet) Missing(required ...Permission) []Permission {
	var missing []Permission
	for _, p := range required {
		if !s.Has(p) {
			missing = append(missing, p)
		}
	}
	return missing
}

// List returns the permissions in sorted order
func (s PermissionSet) List() []Permission {
	out := make([]Permission, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// RoleNames renders a role list as strings, preserving order
func RoleNames(rs []Role) []string {
	names := make([]string, len(rs))
	for i, r := range rs {
		names[i] = string(r)
	}
	return names
}

// JoinRoles renders a role list as a single string for cache keys and logs
func JoinRoles(rs []Role) string {
	return strings.Join(RoleNames(rs), ",")
}

// Sorted returns a deduplicated copy of the role list in sorted order. The
// input is not modified.
func Sorted(rs []Role) []Role {
	seen := make(map[Role]struct{}, len(rs))
	out := make([]Role, 0, len(rs))
	for _, r := range rs {
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
