// Package identity validates bearer tokens issued by the organization's
// identity provider and extracts the claims the broker cares about: who
// the caller is and which directory groups they belong to.
//
// Signature, issuer, audience, and expiry checks are delegated to
// coreos/go-oidc, which discovers the provider's signing keys via its
// OIDC metadata and caches the JWKS. Claims are derived per request and
// never persisted.
package identity
