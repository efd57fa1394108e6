// Package contextkeys provides centralized context key definitions
//
// IMPORTANT: All context keys used across the application must be defined here.
// This prevents typos, documents dependencies, and makes key usage discoverable.
//
// USAGE PATTERN:
//
//	import "github.com/fabworks/embedgate/pkg/contextkeys"
//	ctx = context.WithValue(ctx, contextkeys.ClaimKey, claim)
//	claim := ctx.Value(contextkeys.ClaimKey).(*identity.Claim)
package contextkeys

// Key is the type for context keys to prevent collisions
type Key string

const (
	// ClaimKey contains *identity.Claim
	// Set by: middleware.Authenticator.Authenticate (pkg/middleware/auth.go)
	// Required by: all protected API endpoints
	// Type: *identity.Claim
	ClaimKey Key = "identity_claim"

	// RolesKey contains []roles.Role resolved from the claim's groups
	// Set by: middleware.Authenticator.Authenticate
	// Required by: access handlers (cache key derivation), auth endpoints
	// Type: []roles.Role
	RolesKey Key = "resolved_roles"

	// RequestIDKey contains request ID string (UUID)
	// Set by: middleware.RequestID
	// Used by: logger, audit trail
	// Type: string
	RequestIDKey Key = "request_id"

	// LoggerKey contains *observability.Logger
	// Set by: middleware.RequestLogger
	// Used by: handlers that need structured logging with request context
	// Type: *observability.Logger
	LoggerKey Key = "logger"

	// RequestStartTimeKey contains request start timestamp
	// Set by: middleware.RequestID
	// Used by: duration calculation for audit events
	// Type: time.Time
	RequestStartTimeKey Key = "request_start_time"
)
