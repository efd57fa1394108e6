package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/fabworks/embedgate/pkg/httputil"
	"github.com/fabworks/embedgate/pkg/middleware"
	"github.com/fabworks/embedgate/pkg/roles"
)

// MeResponse describes the authenticated caller
type MeResponse struct {
	Subject     string    `json:"subject"`
	DisplayName string    `json:"display_name,omitempty"`
	Email       string    `json:"email,omitempty"`
	Groups      []string  `json:"groups"`
	Roles       []string  `json:"roles"`
	Expiry      time.Time `json:"expiry"`
}

// StatusResponse is returned by the unauthenticated status probe
type StatusResponse struct {
	Authenticated bool   `json:"authenticated"`
	Subject       string `json:"subject,omitempty"`
}

// getMe handles GET /auth/me
func (s *Server) getMe(w http.ResponseWriter, r *http.Request) {
	claim, ok := middleware.ClaimFrom(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}
	resolved, _ := middleware.RolesFrom(r.Context())

	httputil.WriteSuccess(w, MeResponse{
		Subject:     claim.SubjectID,
		DisplayName: claim.DisplayName,
		Email:       claim.Email,
		Groups:      claim.Groups,
		Roles:       roles.RoleNames(resolved),
		Expiry:      claim.Expiry,
	})
}

// getRoles handles GET /auth/roles
func (s *Server) getRoles(w http.ResponseWriter, r *http.Request) {
	resolved, ok := middleware.RolesFrom(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}
	httputil.WriteSuccess(w, map[string][]string{"roles": roles.RoleNames(resolved)})
}

// getPermissions handles GET /auth/permissions
func (s *Server) getPermissions(w http.ResponseWriter, r *http.Request) {
	resolved, ok := middleware.RolesFrom(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	granted := s.broker.PermissionsFor(resolved)
	names := make([]string, 0, len(granted))
	for _, p := range granted.List() {
		names = append(names, string(p))
	}
	httputil.WriteSuccess(w, map[string][]string{"permissions": names})
}

// getStatus handles GET /auth/status. Unlike the protected routes it never
// returns 401: an invalid or absent token reports authenticated=false so
// frontends can probe session state without triggering error handling.
func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	header := r.Header.Get("Authorization")
	if header == "" || !strings.HasPrefix(header, "Bearer ") {
		httputil.WriteSuccess(w, StatusResponse{Authenticated: false})
		return
	}

	claim, err := s.verifier.Verify(r.Context(), strings.TrimPrefix(header, "Bearer "))
	if err != nil {
		httputil.WriteSuccess(w, StatusResponse{Authenticated: false})
		return
	}

	httputil.WriteSuccess(w, StatusResponse{Authenticated: true, Subject: claim.SubjectID})
}
