package audit

import (
	"time"

	"github.com/google/uuid"
)

// EventType represents the category of audit event
type EventType string

const (
	// Authentication events
	EventTypeAuthAccepted EventType = "auth.accepted"
	EventTypeAuthRejected EventType = "auth.rejected"

	// Authorization events
	EventTypeAccessDenied EventType = "authz.access_denied"

	// Credential events
	EventTypeTokenIssued      EventType = "token.issued"
	EventTypeTokenServed      EventType = "token.served"
	EventTypeCacheInvalidated EventType = "cache.invalidated"

	// Upstream events
	EventTypeUpstreamFailure EventType = "upstream.failure"
)

// EventStatus represents the outcome of an event
type EventStatus string

const (
	EventStatusSuccess EventStatus = "success"
	EventStatusFailure EventStatus = "failure"
	EventStatusDenied  EventStatus = "denied"
)

// Event represents a single audit log entry
type Event struct {
	ID        string      `json:"id"`
	Timestamp time.Time   `json:"timestamp"`
	Type      EventType   `json:"event_type"`
	Status    EventStatus `json:"status"`

	// Actor information
	SubjectID string   `json:"subject_id,omitempty"`
	Subject   string   `json:"subject,omitempty"`
	Roles     []string `json:"roles,omitempty"`

	// Resource information
	ReportID  string `json:"report_id,omitempty"`
	DatasetID string `json:"dataset_id,omitempty"`

	// Request context
	RequestID string `json:"request_id,omitempty"`
	IPAddress string `json:"ip_address,omitempty"`
	Method    string `json:"method,omitempty"`
	Path      string `json:"path,omitempty"`

	Message  string                 `json:"message,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// NewEvent creates an event with a fresh ID and timestamp
func NewEvent(eventType EventType, status EventStatus) *Event {
	return &Event{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Type:      eventType,
		Status:    status,
	}
}

// Filter selects events when querying a store
type Filter struct {
	Type      EventType
	SubjectID string
	Since     time.Time
	Limit     int
}

// Matches reports whether the event satisfies every set filter field
func (f Filter) Matches(e *Event) bool {
	if f.Type != "" && e.Type != f.Type {
		return false
	}
	if f.SubjectID != "" && e.SubjectID != f.SubjectID {
		return false
	}
	if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
		return false
	}
	return true
}
