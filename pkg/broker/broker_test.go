package broker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabworks/embedgate/pkg/embedcache"
	"github.com/fabworks/embedgate/pkg/fabric"
	"github.com/fabworks/embedgate/pkg/identity"
	"github.com/fabworks/embedgate/pkg/roles"
)

// fakePlatform scripts upstream responses for broker tests.
type fakePlatform struct {
	acquireCalls atomic.Int32
	acquireErrs  []error // consumed per call; nil entry means success
	lastRoles    []roles.Role
	lastDataset  string

	reports   map[string]*fabric.Report
	reportErr error
}

func (f *fakePlatform) Acquire(ctx context.Context, reportID, datasetID string, roleList []roles.Role) (*fabric.Credential, error) {
	call := int(f.acquireCalls.Add(1)) - 1
	f.lastRoles = roleList
	f.lastDataset = datasetID
	if call < len(f.acquireErrs) && f.acquireErrs[call] != nil {
		return nil, f.acquireErrs[call]
	}
	return &fabric.Credential{
		Token:     "embed-token",
		TokenID:   "tok-1",
		ReportID:  reportID,
		DatasetID: datasetID,
		Roles:     roleList,
		ExpiresAt: time.Now().Add(time.Hour),
	}, nil
}

func (f *fakePlatform) GetReport(ctx context.Context, reportID string) (*fabric.Report, error) {
	if f.reportErr != nil {
		return nil, f.reportErr
	}
	if report, ok := f.reports[reportID]; ok {
		return report, nil
	}
	return nil, fabric.ErrResourceNotFound
}

func (f *fakePlatform) ListReports(ctx context.Context) ([]fabric.Report, error) {
	out := make([]fabric.Report, 0, len(f.reports))
	for _, r := range f.reports {
		out = append(out, *r)
	}
	return out, nil
}

func (f *fakePlatform) ListDatasets(ctx context.Context) ([]fabric.Dataset, error) {
	return []fabric.Dataset{{ID: "d-1", Name: "Sales"}}, nil
}

func newTestBroker(t *testing.T, platform Platform) *Broker {
	t.Helper()
	b, err := New(Config{
		Mapping:        roles.DefaultMapping(),
		Cache:          embedcache.New(embedcache.Config{}),
		Platform:       platform,
		InitialBackoff: time.Millisecond,
	})
	require.NoError(t, err)
	return b
}

func claimWithGroups(groups ...string) *identity.Claim {
	return &identity.Claim{
		SubjectID:   "user-1",
		DisplayName: "Test User",
		Email:       "user@example.com",
		Groups:      groups,
	}
}

func TestNewValidation(t *testing.T) {
	platform := &fakePlatform{}
	cache := embedcache.New(embedcache.Config{})
	mapping := roles.DefaultMapping()

	_, err := New(Config{Cache: cache, Platform: platform})
	assert.Error(t, err)
	_, err = New(Config{Mapping: mapping, Platform: platform})
	assert.Error(t, err)
	_, err = New(Config{Mapping: mapping, Cache: cache})
	assert.Error(t, err)
}

func TestGetEmbedAccessResolvesRoles(t *testing.T) {
	platform := &fakePlatform{}
	b := newTestBroker(t, platform)

	access, err := b.GetEmbedAccess(context.Background(), claimWithGroups("PBI-RolA"), "r-1", "d-1")
	require.NoError(t, err)

	assert.Equal(t, "embed-token", access.Credential.Token)
	assert.Equal(t, []roles.Role{roles.RoleRegionA}, access.Roles)
	assert.Equal(t, []roles.Role{roles.RoleRegionA}, platform.lastRoles)
}

func TestGetEmbedAccessUnknownGroupsGetDefaultRole(t *testing.T) {
	platform := &fakePlatform{}
	b := newTestBroker(t, platform)

	access, err := b.GetEmbedAccess(context.Background(), claimWithGroups("some-unrelated-group"), "r-1", "d-1")
	require.NoError(t, err)
	assert.Equal(t, []roles.Role{roles.RolePublic}, access.Roles)
}

func TestGetEmbedAccessDefaultsDatasetFromReport(t *testing.T) {
	platform := &fakePlatform{
		reports: map[string]*fabric.Report{
			"r-1": {ID: "r-1", Name: "Sales", DatasetID: "d-9"},
		},
	}
	b := newTestBroker(t, platform)

	access, err := b.GetEmbedAccess(context.Background(), claimWithGroups("PBI-RolA"), "r-1", "")
	require.NoError(t, err)
	assert.Equal(t, "d-9", access.Credential.DatasetID)
	assert.Equal(t, "d-9", platform.lastDataset)
}

func TestGetEmbedAccessUnknownReport(t *testing.T) {
	platform := &fakePlatform{}
	b := newTestBroker(t, platform)

	_, err := b.GetEmbedAccess(context.Background(), claimWithGroups("PBI-RolA"), "r-missing", "")
	assert.ErrorIs(t, err, fabric.ErrResourceNotFound)
}

func TestGetEmbedAccessSharesCacheAcrossCallers(t *testing.T) {
	platform := &fakePlatform{}
	b := newTestBroker(t, platform)

	// Two different users in the same group share one role scope.
	_, err := b.GetEmbedAccess(context.Background(), claimWithGroups("PBI-RolA"), "r-1", "d-1")
	require.NoError(t, err)

	other := claimWithGroups("PBI-RolA")
	other.SubjectID = "user-2"
	_, err = b.GetEmbedAccess(context.Background(), other, "r-1", "d-1")
	require.NoError(t, err)

	assert.Equal(t, int32(1), platform.acquireCalls.Load())

	// A different role scope triggers its own acquisition.
	_, err = b.GetEmbedAccess(context.Background(), claimWithGroups("PBI-RolB"), "r-1", "d-1")
	require.NoError(t, err)
	assert.Equal(t, int32(2), platform.acquireCalls.Load())
}

func TestGetEmbedAccessRetriesTransientFailures(t *testing.T) {
	platform := &fakePlatform{
		acquireErrs: []error{fabric.ErrUpstreamUnavailable, fabric.ErrUpstreamUnavailable, nil},
	}
	b := newTestBroker(t, platform)

	access, err := b.GetEmbedAccess(context.Background(), claimWithGroups("PBI-RolA"), "r-1", "d-1")
	require.NoError(t, err)
	assert.Equal(t, "embed-token", access.Credential.Token)
	assert.Equal(t, int32(3), platform.acquireCalls.Load())
}

func TestGetEmbedAccessGivesUpAfterMaxRetries(t *testing.T) {
	platform := &fakePlatform{
		acquireErrs: []error{
			fabric.ErrUpstreamUnavailable,
			fabric.ErrUpstreamUnavailable,
			fabric.ErrUpstreamUnavailable,
			fabric.ErrUpstreamUnavailable,
		},
	}
	b := newTestBroker(t, platform)

	_, err := b.GetEmbedAccess(context.Background(), claimWithGroups("PBI-RolA"), "r-1", "d-1")
	assert.ErrorIs(t, err, fabric.ErrUpstreamUnavailable)
	// Initial attempt plus DefaultMaxRetries retries.
	assert.Equal(t, int32(3), platform.acquireCalls.Load())
}

func TestGetEmbedAccessDoesNotRetryPermanentFailures(t *testing.T) {
	platform := &fakePlatform{
		acquireErrs: []error{fabric.ErrInsufficientPermissions},
	}
	b := newTestBroker(t, platform)

	_, err := b.GetEmbedAccess(context.Background(), claimWithGroups("PBI-RolA"), "r-1", "d-1")
	assert.ErrorIs(t, err, fabric.ErrInsufficientPermissions)
	assert.Equal(t, int32(1), platform.acquireCalls.Load())
}

func TestGetEmbedAccessInputValidation(t *testing.T) {
	platform := &fakePlatform{}
	b := newTestBroker(t, platform)

	_, err := b.GetEmbedAccess(context.Background(), nil, "r-1", "d-1")
	assert.ErrorIs(t, err, identity.ErrTokenInvalid)

	_, err = b.GetEmbedAccess(context.Background(), claimWithGroups("PBI-RolA"), "", "d-1")
	assert.ErrorIs(t, err, fabric.ErrResourceNotFound)
}

func TestInvalidateReport(t *testing.T) {
	platform := &fakePlatform{}
	b := newTestBroker(t, platform)

	_, err := b.GetEmbedAccess(context.Background(), claimWithGroups("PBI-RolA"), "r-1", "d-1")
	require.NoError(t, err)
	_, err = b.GetEmbedAccess(context.Background(), claimWithGroups("PBI-RolB"), "r-1", "d-1")
	require.NoError(t, err)

	assert.Equal(t, 2, b.InvalidateReport("r-1"))

	// Next request goes back upstream.
	_, err = b.GetEmbedAccess(context.Background(), claimWithGroups("PBI-RolA"), "r-1", "d-1")
	require.NoError(t, err)
	assert.Equal(t, int32(3), platform.acquireCalls.Load())
}

func TestInvalidateAll(t *testing.T) {
	platform := &fakePlatform{}
	b := newTestBroker(t, platform)

	_, err := b.GetEmbedAccess(context.Background(), claimWithGroups("PBI-RolA"), "r-1", "d-1")
	require.NoError(t, err)
	_, err = b.GetEmbedAccess(context.Background(), claimWithGroups("PBI-RolA"), "r-2", "d-2")
	require.NoError(t, err)

	assert.Equal(t, 2, b.InvalidateAll())
}

func TestPermissionsFor(t *testing.T) {
	b := newTestBroker(t, &fakePlatform{})

	perms := b.PermissionsFor([]roles.Role{roles.RoleAdmin})
	assert.True(t, perms.HasAll(roles.PermViewReports, roles.PermAdminAccess, roles.PermManageUsers))

	perms = b.PermissionsFor([]roles.Role{roles.RolePublic})
	assert.True(t, perms.Has(roles.PermViewReports))
	assert.False(t, perms.Has(roles.PermAdminAccess))
}
