package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/fabworks/embedgate/pkg/audit"
	"github.com/fabworks/embedgate/pkg/fabric"
	"github.com/fabworks/embedgate/pkg/httputil"
	"github.com/fabworks/embedgate/pkg/identity"
	"github.com/fabworks/embedgate/pkg/middleware"
	"github.com/fabworks/embedgate/pkg/roles"
)

// EmbedAccessResponse is returned by GET /api/v1/access/{reportId}
type EmbedAccessResponse struct {
	Credential   CredentialPayload `json:"credential"`
	RolesApplied []string          `json:"roles_applied"`
}

// CredentialPayload is the embed credential handed to the frontend
type CredentialPayload struct {
	Token     string    `json:"token"`
	TokenID   string    `json:"token_id"`
	EmbedURL  string    `json:"embed_url"`
	ReportID  string    `json:"report_id"`
	DatasetID string    `json:"dataset_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// InvalidateResponse is returned by the cache invalidation endpoints
type InvalidateResponse struct {
	Invalidated int `json:"invalidated"`
}

// getEmbedAccess handles GET /api/v1/access/{reportId}
func (s *Server) getEmbedAccess(w http.ResponseWriter, r *http.Request) {
	reportID, ok := httputil.ParsePathStringOrError(w, r, "reportId")
	if !ok {
		return
	}
	datasetID := httputil.ParseQueryString(r, "dataset_id", "")

	claim, ok := middleware.ClaimFrom(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	access, err := s.broker.GetEmbedAccess(r.Context(), claim, reportID, datasetID)
	if err != nil {
		s.writeBrokerError(w, r, err)
		return
	}

	served := audit.NewEvent(audit.EventTypeTokenServed, audit.EventStatusSuccess)
	served.SubjectID = claim.SubjectID
	served.Subject = claim.DisplayName
	served.Roles = roles.RoleNames(access.Roles)
	served.ReportID = access.Credential.ReportID
	served.DatasetID = access.Credential.DatasetID
	served.RequestID = middleware.RequestIDFrom(r.Context())
	served.IPAddress = middleware.ClientIP(r)
	s.audit.Record(r.Context(), served)

	httputil.WriteSuccess(w, EmbedAccessResponse{
		Credential: CredentialPayload{
			Token:     access.Credential.Token,
			TokenID:   access.Credential.TokenID,
			EmbedURL:  access.Credential.EmbedURL,
			ReportID:  access.Credential.ReportID,
			DatasetID: access.Credential.DatasetID,
			ExpiresAt: access.Credential.ExpiresAt,
		},
		RolesApplied: roles.RoleNames(access.Roles),
	})
}

// invalidateReport handles POST /api/v1/access/invalidate/{reportId}
func (s *Server) invalidateReport(w http.ResponseWriter, r *http.Request) {
	reportID, ok := httputil.ParsePathStringOrError(w, r, "reportId")
	if !ok {
		return
	}

	removed := s.broker.InvalidateReport(reportID)
	s.recordInvalidation(r, reportID, removed)

	httputil.WriteSuccess(w, InvalidateResponse{Invalidated: removed})
}

// invalidateAll handles POST /api/v1/access/invalidate
func (s *Server) invalidateAll(w http.ResponseWriter, r *http.Request) {
	removed := s.broker.InvalidateAll()
	s.recordInvalidation(r, "", removed)

	httputil.WriteSuccess(w, InvalidateResponse{Invalidated: removed})
}

func (s *Server) recordInvalidation(r *http.Request, reportID string, removed int) {
	event := audit.NewEvent(audit.EventTypeCacheInvalidated, audit.EventStatusSuccess)
	if claim, ok := middleware.ClaimFrom(r.Context()); ok {
		event.SubjectID = claim.SubjectID
		event.Subject = claim.DisplayName
	}
	event.ReportID = reportID
	event.RequestID = middleware.RequestIDFrom(r.Context())
	event.IPAddress = middleware.ClientIP(r)
	event.Metadata = map[string]interface{}{"removed": removed}
	s.audit.Record(r.Context(), event)
}

// listReports handles GET /api/v1/reports
func (s *Server) listReports(w http.ResponseWriter, r *http.Request) {
	reports, err := s.broker.ListReports(r.Context())
	if err != nil {
		s.writeBrokerError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, reports)
}

// listDatasets handles GET /api/v1/datasets
func (s *Server) listDatasets(w http.ResponseWriter, r *http.Request) {
	datasets, err := s.broker.ListDatasets(r.Context())
	if err != nil {
		s.writeBrokerError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, datasets)
}

// writeBrokerError maps broker and upstream errors onto HTTP statuses.
// Unknown errors stay 500 and never leak upstream details to the client.
func (s *Server) writeBrokerError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, identity.ErrTokenInvalid):
		httputil.WriteUnauthorized(w, "authentication required")
	case errors.Is(err, fabric.ErrResourceNotFound):
		httputil.WriteNotFound(w, "report or dataset not found")
	case errors.Is(err, fabric.ErrInsufficientPermissions):
		// The service principal, not the caller, lacks upstream rights.
		// Distinct error code so operators can tell this apart from a 403.
		httputil.WriteJSON(w, http.StatusBadGateway, httputil.ErrorResponse{
			Error:   "insufficient_permissions",
			Message: "reporting platform rejected the service principal",
		})
	case errors.Is(err, fabric.ErrUpstreamUnavailable):
		httputil.WriteServiceUnavailable(w, "reporting platform unavailable", 30)
	default:
		s.logger.WithError(err).Error("embed access request failed")
		httputil.WriteInternalError(w, errors.New("internal error"))
	}
}
