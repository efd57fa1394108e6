// Package middleware provides HTTP middleware for authentication,
// authorization, request identity, and rate limiting.
//
// The Authenticator validates OIDC bearer tokens, resolves the caller's
// data-access roles, and enforces per-route permission requirements.
// Authorization fails closed: a request whose identity or roles cannot be
// established is rejected, never passed through with reduced checks.
//
// Rate limiting comes in two flavors: an in-process token bucket for single
// replicas, and a Redis-backed window counter shared across replicas. The
// distributed limiter fails open on Redis outages.
package middleware
