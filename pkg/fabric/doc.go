// Package fabric is the client for the reporting platform's REST API. It
// authenticates as the deployment's service principal via the OAuth2
// client-credentials flow, mints role-scoped embed credentials, and looks
// up report and dataset metadata.
//
// The client is stateless per call apart from a small expirable metadata
// cache; embed credentials are cached by pkg/embedcache, never here.
// Upstream failures map onto the broker's error taxonomy:
// 403 → ErrInsufficientPermissions, 404 → ErrResourceNotFound,
// network errors and 5xx → ErrUpstreamUnavailable.
package fabric
