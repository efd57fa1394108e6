// Package api provides the HTTP surface of the embed access broker.
//
// # Overview
//
// The server exposes three route groups:
//
//   - /api/v1/access/*: role-scoped embed credential issuance and cache
//     invalidation
//   - /api/v1/reports, /api/v1/datasets: workspace catalog passthrough
//   - /auth/*: caller identity introspection
//
// plus an admin audit query endpoint backed by the in-memory audit store.
//
// Every route except /auth/status sits behind bearer-token authentication;
// routes that change state or read admin data additionally require
// permissions resolved from the caller's group memberships. Authorization
// fails closed: absent or unresolvable roles deny access.
//
// # Error Mapping
//
// Upstream failures map onto distinct statuses so clients can react
// appropriately: unknown reports are 404, a misconfigured service
// principal is 502, and transient platform outages are 503 with a
// Retry-After hint.
package api
