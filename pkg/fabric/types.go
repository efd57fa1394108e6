package fabric

import (
	"time"

	"github.com/fabworks/embedgate/pkg/roles"
)

// Credential is a short-lived embed token plus the context needed to
// render one report, with the row-level-security role list that was baked
// in at mint time. Immutable after creation; a credential is never valid
// for a role list other than the one it was minted with.
type Credential struct {
	Token     string       `json:"token"`
	TokenID   string       `json:"token_id"`
	EmbedURL  string       `json:"embed_url"`
	ReportID  string       `json:"report_id"`
	DatasetID string       `json:"dataset_id"`
	Roles     []roles.Role `json:"roles"`
	IssuedAt  time.Time    `json:"issued_at"`
	ExpiresAt time.Time    `json:"expires_at"`
}

// Report is workspace report metadata
type Report struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	EmbedURL  string `json:"embed_url"`
	DatasetID string `json:"dataset_id"`
}

// Dataset is workspace dataset metadata
type Dataset struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	ConfiguredBy string `json:"configured_by,omitempty"`
}

// generateTokenRequest is the platform's GenerateToken payload
type generateTokenRequest struct {
	AccessLevel       string        `json:"accessLevel"`
	DatasetID         string        `json:"datasetId,omitempty"`
	AllowSaveAs       bool          `json:"allowSaveAs"`
	LifetimeInMinutes int           `json:"lifetimeInMinutes,omitempty"`
	Identities        []rlsIdentity `json:"identities,omitempty"`
}

// rlsIdentity carries the row-level-security scope baked into a token
type rlsIdentity struct {
	Username string   `json:"username"`
	Roles    []string `json:"roles"`
	Datasets []string `json:"datasets"`
}

// generateTokenResponse is the platform's GenerateToken response
type generateTokenResponse struct {
	Token      string    `json:"token"`
	TokenID    string    `json:"tokenId"`
	Expiration time.Time `json:"expiration"`
}

// reportResponse is the platform's report metadata shape
type reportResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	EmbedURL  string `json:"embedUrl"`
	DatasetID string `json:"datasetId"`
}

// datasetResponse is the platform's dataset metadata shape
type datasetResponse struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	ConfiguredBy string `json:"configuredBy"`
}

// listResponse wraps the platform's collection responses
type listResponse[T any] struct {
	Value []T `json:"value"`
}

// upstreamError is the platform's error envelope
type upstreamError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}
