package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabworks/embedgate/pkg/identity/identitytest"
	"github.com/fabworks/embedgate/pkg/middleware"
)

func TestAuthenticatedCallersUseUserBudget(t *testing.T) {
	env := newTestEnvWithRateLimit(t, middleware.NewRateLimitMiddleware().Handler)

	token := env.idp.SignToken(t, identitytest.TokenOptions{
		Subject:  "user-1",
		Audience: testAudience,
	})

	// Well past the anonymous budget (60 + 10 burst) but inside the
	// per-user one (600 + 50); every request must get through.
	for i := 0; i < 100; i++ {
		req := httptest.NewRequest("GET", "/auth/me", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		env.server.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code, "request %d was limited", i+1)
		if i == 0 {
			assert.Equal(t, "600", rec.Header().Get("X-RateLimit-Limit"))
		}
	}
}

func TestAuthenticatedCallersShareAddressIndependently(t *testing.T) {
	env := newTestEnvWithRateLimit(t, middleware.NewRateLimitMiddleware().Handler)

	// Two users behind one NAT address each get their own bucket
	for _, subject := range []string{"user-a", "user-b"} {
		token := env.idp.SignToken(t, identitytest.TokenOptions{
			Subject:  subject,
			Audience: testAudience,
		})
		for i := 0; i < 60; i++ {
			req := httptest.NewRequest("GET", "/auth/me", nil)
			req.Header.Set("Authorization", "Bearer "+token)
			rec := httptest.NewRecorder()
			env.server.ServeHTTP(rec, req)
			require.Equal(t, http.StatusOK, rec.Code, "%s request %d was limited", subject, i+1)
		}
	}
}

func TestAnonymousCallersUseAnonymousBudget(t *testing.T) {
	env := newTestEnvWithRateLimit(t, middleware.NewRateLimitMiddleware().Handler)

	var limited bool
	for i := 0; i < 100; i++ {
		rec := env.doAnonymous("GET", "/auth/status")
		if i == 0 {
			assert.Equal(t, "60", rec.Header().Get("X-RateLimit-Limit"))
		}
		if rec.Code == http.StatusTooManyRequests {
			limited = true
			assert.NotEmpty(t, rec.Header().Get("Retry-After"))
			break
		}
		require.Equal(t, http.StatusOK, rec.Code)
	}
	assert.True(t, limited, "anonymous caller should exhaust the per-IP budget")
}
