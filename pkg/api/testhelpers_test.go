package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/fabworks/embedgate/pkg/audit"
	"github.com/fabworks/embedgate/pkg/broker"
	"github.com/fabworks/embedgate/pkg/embedcache"
	"github.com/fabworks/embedgate/pkg/fabric"
	"github.com/fabworks/embedgate/pkg/identity"
	"github.com/fabworks/embedgate/pkg/identity/identitytest"
	"github.com/fabworks/embedgate/pkg/middleware"
	"github.com/fabworks/embedgate/pkg/roles"
)

const testAudience = "embedgate-api"

// fakePlatform implements broker.Platform for handler tests
type fakePlatform struct {
	acquireCalls atomic.Int64
	acquireErr   error
	listErr      error
	reports      map[string]*fabric.Report
	datasets     []fabric.Dataset
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{
		reports: map[string]*fabric.Report{
			"r-1": {ID: "r-1", Name: "Sales", EmbedURL: "https://platform.example.com/r-1", DatasetID: "d-1"},
		},
		datasets: []fabric.Dataset{
			{ID: "d-1", Name: "SalesData"},
		},
	}
}

func (p *fakePlatform) Acquire(ctx context.Context, reportID, datasetID string, roleList []roles.Role) (*fabric.Credential, error) {
	p.acquireCalls.Add(1)
	if p.acquireErr != nil {
		return nil, p.acquireErr
	}
	now := time.Now()
	return &fabric.Credential{
		Token:     "tok-" + uuid.NewString(),
		TokenID:   uuid.NewString(),
		EmbedURL:  "https://platform.example.com/" + reportID,
		ReportID:  reportID,
		DatasetID: datasetID,
		Roles:     roleList,
		IssuedAt:  now,
		ExpiresAt: now.Add(time.Hour),
	}, nil
}

func (p *fakePlatform) GetReport(ctx context.Context, reportID string) (*fabric.Report, error) {
	report, ok := p.reports[reportID]
	if !ok {
		return nil, fabric.ErrResourceNotFound
	}
	return report, nil
}

func (p *fakePlatform) ListReports(ctx context.Context) ([]fabric.Report, error) {
	if p.listErr != nil {
		return nil, p.listErr
	}
	out := make([]fabric.Report, 0, len(p.reports))
	for _, r := range p.reports {
		out = append(out, *r)
	}
	return out, nil
}

func (p *fakePlatform) ListDatasets(ctx context.Context) ([]fabric.Dataset, error) {
	if p.listErr != nil {
		return nil, p.listErr
	}
	return p.datasets, nil
}

// testEnv bundles a fully wired server with its collaborators
type testEnv struct {
	server   *Server
	idp      *identitytest.IDP
	platform *fakePlatform
	store    *audit.MemoryStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWithRateLimit(t, nil)
}

func newTestEnvWithRateLimit(t *testing.T, rateLimit func(http.Handler) http.Handler) *testEnv {
	t.Helper()

	idp := identitytest.New(t)

	verifier, err := identity.NewTokenVerifier(context.Background(), identity.Config{
		IssuerURL: idp.Issuer,
		ClientID:  testAudience,
	})
	require.NoError(t, err)

	mapping := roles.DefaultMapping()
	store := audit.NewMemoryStore(100)
	platform := newFakePlatform()

	cache := embedcache.New(embedcache.Config{})
	b, err := broker.New(broker.Config{
		Mapping:  mapping,
		Cache:    cache,
		Platform: platform,
		Audit:    store,
	})
	require.NoError(t, err)

	auth := middleware.NewAuthenticator(middleware.AuthConfig{
		Verifier: verifier,
		Mapping:  mapping,
		Audit:    store,
	})

	server := NewServer(Config{
		Broker:        b,
		Verifier:      verifier,
		Authenticator: auth,
		Audit:         store,
		Store:         store,
		RateLimit:     rateLimit,
	})

	return &testEnv{server: server, idp: idp, platform: platform, store: store}
}

// do issues a request with a signed token for the given groups
func (e *testEnv) do(t *testing.T, method, path string, groups ...string) *httptest.ResponseRecorder {
	t.Helper()

	token := e.idp.SignToken(t, identitytest.TokenOptions{
		Subject:  "user-1",
		Audience: testAudience,
		Groups:   groups,
	})
	req := httptest.NewRequest(method, path, nil)
	req.Header.Set("Authorization", "Bearer "+token)

	rec := httptest.NewRecorder()
	e.server.ServeHTTP(rec, req)
	return rec
}

// doAnonymous issues a request without any Authorization header
func (e *testEnv) doAnonymous(method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	e.server.ServeHTTP(rec, req)
	return rec
}

var _ http.Handler = (*Server)(nil)
