package api

import (
	"net/http"

	"github.com/fabworks/embedgate/pkg/audit"
	"github.com/fabworks/embedgate/pkg/httputil"
)

// AuditEventsResponse wraps the admin audit query result
type AuditEventsResponse struct {
	Events []*audit.Event `json:"events"`
	Count  int            `json:"count"`
}

// queryAuditEvents handles GET /admin/audit/events. Supported query
// parameters: type, subject, since (RFC3339), limit.
func (s *Server) queryAuditEvents(w http.ResponseWriter, r *http.Request) {
	limit, err := httputil.ParseQueryInt(r, "limit", 100)
	if err != nil || limit < 0 {
		httputil.WriteBadRequest(w, "limit must be a non-negative integer")
		return
	}

	filter := audit.Filter{
		Type:      audit.EventType(httputil.ParseQueryString(r, "type", "")),
		SubjectID: httputil.ParseQueryString(r, "subject", ""),
		Limit:     limit,
	}

	if r.URL.Query().Get("since") != "" {
		since, err := httputil.ParseQueryTime(r, "since")
		if err != nil {
			httputil.WriteBadRequest(w, "since must be an RFC3339 timestamp")
			return
		}
		filter.Since = since
	}

	events := s.store.Query(filter)
	httputil.WriteSuccess(w, AuditEventsResponse{Events: events, Count: len(events)})
}
