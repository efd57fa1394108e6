package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/fabworks/embedgate/pkg/audit"
	"github.com/fabworks/embedgate/pkg/contextkeys"
	"github.com/fabworks/embedgate/pkg/httputil"
	"github.com/fabworks/embedgate/pkg/identity"
	"github.com/fabworks/embedgate/pkg/observability"
	"github.com/fabworks/embedgate/pkg/roles"
)

// AuthConfig holds authenticator dependencies
type AuthConfig struct {
	Verifier identity.Verifier
	Mapping  *roles.Mapping
	Audit    audit.Recorder
	Logger   *observability.Logger
	Metrics  *observability.Metrics
}

// Authenticator validates bearer tokens and resolves the caller's roles.
// Every protected route goes through Authenticate; routes with permission
// requirements additionally wrap RequirePermissions.
type Authenticator struct {
	verifier identity.Verifier
	mapping  *roles.Mapping
	audit    audit.Recorder
	logger   *observability.Logger
	metrics  *observability.Metrics
}

// NewAuthenticator creates an authenticator
func NewAuthenticator(cfg AuthConfig) *Authenticator {
	if cfg.Audit == nil {
		cfg.Audit = audit.NopRecorder()
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &Authenticator{
		verifier: cfg.Verifier,
		mapping:  cfg.Mapping,
		audit:    cfg.Audit,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
	}
}

// Authenticate validates the Authorization header, resolves the caller's
// roles, and stores both in the request context. Requests without a valid
// token get 401; no identity details leak into the response.
func (a *Authenticator) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rawToken := r.Header.Get("Authorization")
		if rawToken == "" {
			a.reject(w, r, "missing authorization header")
			return
		}

		claim, err := a.verifier.Verify(r.Context(), rawToken)
		if err != nil {
			a.reject(w, r, "invalid or expired token")
			return
		}

		resolved := a.mapping.Resolve(claim.Groups)

		if a.metrics != nil {
			a.metrics.AuthAttemptsTotal.WithLabelValues("accepted").Inc()
		}

		ctx := context.WithValue(r.Context(), contextkeys.ClaimKey, claim)
		ctx = context.WithValue(ctx, contextkeys.RolesKey, resolved)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *Authenticator) reject(w http.ResponseWriter, r *http.Request, message string) {
	if a.metrics != nil {
		a.metrics.AuthAttemptsTotal.WithLabelValues("rejected").Inc()
	}

	event := audit.NewEvent(audit.EventTypeAuthRejected, audit.EventStatusFailure)
	event.Method = r.Method
	event.Path = r.URL.Path
	event.IPAddress = ClientIP(r)
	event.RequestID = RequestIDFrom(r.Context())
	event.Message = message
	a.audit.Record(r.Context(), event)

	httputil.WriteUnauthorized(w, message)
}

// RequirePermissions gates a route on the caller holding every listed
// permission. Fails closed: a request whose roles cannot be determined is
// denied. The 403 body names the missing permissions.
func (a *Authenticator) RequirePermissions(required ...roles.Permission) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			resolved, ok := RolesFrom(r.Context())
			if !ok {
				a.deny(w, r, roles.RoleNames(nil), required)
				return
			}

			granted := a.mapping.PermissionsFor(resolved)
			if !granted.HasAll(required...) {
				a.deny(w, r, roles.RoleNames(resolved), granted.Missing(required...))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func (a *Authenticator) deny(w http.ResponseWriter, r *http.Request, roleNames []string, missing []roles.Permission) {
	if a.metrics != nil {
		a.metrics.AccessDeniedTotal.WithLabelValues("insufficient_permissions").Inc()
	}

	event := audit.NewEvent(audit.EventTypeAccessDenied, audit.EventStatusDenied)
	event.Method = r.Method
	event.Path = r.URL.Path
	event.IPAddress = ClientIP(r)
	event.RequestID = RequestIDFrom(r.Context())
	event.Roles = roleNames
	if claim, ok := ClaimFrom(r.Context()); ok {
		event.SubjectID = claim.SubjectID
		event.Subject = claim.DisplayName
	}
	event.Message = "insufficient permissions"
	a.audit.Record(r.Context(), event)

	names := make([]string, len(missing))
	for i, p := range missing {
		names[i] = string(p)
	}
	httputil.WriteForbidden(w, "insufficient permissions", names...)
}

// ClaimFrom returns the authenticated identity stored by Authenticate.
func ClaimFrom(ctx context.Context) (*identity.Claim, bool) {
	claim, ok := ctx.Value(contextkeys.ClaimKey).(*identity.Claim)
	return claim, ok
}

// RolesFrom returns the resolved roles stored by Authenticate.
func RolesFrom(ctx context.Context) ([]roles.Role, bool) {
	resolved, ok := ctx.Value(contextkeys.RolesKey).([]roles.Role)
	return resolved, ok
}

// ClientIP extracts the originating client address, honoring proxy headers.
func ClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return forwarded
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	return r.RemoteAddr
}

// IsAuthError reports whether err stems from token validation, for callers
// that need to distinguish 401 from other failures.
func IsAuthError(err error) bool {
	return errors.Is(err, identity.ErrTokenInvalid)
}
