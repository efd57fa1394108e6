// Package identitytest provides a fake OIDC identity provider for tests.
// It serves a discovery document and JWKS over httptest and signs tokens
// with a throwaway RSA key, so verifier behavior can be exercised without
// a real directory tenant.
package identitytest

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const keyID = "test-signing-key"

// IDP is a fake identity provider backed by httptest
type IDP struct {
	Issuer string

	server *httptest.Server
	key    *rsa.PrivateKey
}

// New starts a fake identity provider. The server is shut down
// automatically when the test finishes.
func New(t testing.TB) *IDP {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate RSA key: %v", err)
	}

	idp := &IDP{key: key}

	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", idp.discovery)
	mux.HandleFunc("/keys", idp.jwks)

	idp.server = httptest.NewServer(mux)
	idp.Issuer = idp.server.URL
	t.Cleanup(idp.server.Close)

	return idp
}

func (i *IDP) discovery(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"issuer":                                i.Issuer,
		"authorization_endpoint":                i.Issuer + "/authorize",
		"token_endpoint":                        i.Issuer + "/token",
		"jwks_uri":                              i.Issuer + "/keys",
		"id_token_signing_alg_values_supported": []string{"RS256"},
	})
}

func (i *IDP) jwks(w http.ResponseWriter, r *http.Request) {
	pub := &i.key.PublicKey
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"keys": []map[string]string{{
			"kty": "RSA",
			"alg": "RS256",
			"use": "sig",
			"kid": keyID,
			"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
		}},
	})
}

// TokenOptions controls the claims of a signed test token
type TokenOptions struct {
	Subject     string
	Audience    string
	DisplayName string
	Email       string
	Groups      []string
	Expiry      time.Time
	// Issuer overrides the provider issuer to simulate spoofed tokens
	Issuer string
}

// SignToken returns a signed token with the given options. Zero-value
// fields get sensible defaults (1h expiry, provider issuer).
func (i *IDP) SignToken(t testing.TB, opts TokenOptions) string {
	t.Helper()

	issuer := opts.Issuer
	if issuer == "" {
		issuer = i.Issuer
	}
	expiry := opts.Expiry
	if expiry.IsZero() {
		expiry = time.Now().Add(time.Hour)
	}

	claims := jwt.MapClaims{
		"iss": issuer,
		"sub": opts.Subject,
		"aud": opts.Audience,
		"iat": time.Now().Add(-time.Minute).Unix(),
		"exp": expiry.Unix(),
	}
	if opts.DisplayName != "" {
		claims["name"] = opts.DisplayName
	}
	if opts.Email != "" {
		claims["email"] = opts.Email
	}
	if opts.Groups != nil {
		claims["groups"] = opts.Groups
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = keyID

	signed, err := token.SignedString(i.key)
	if err != nil {
		t.Fatalf("failed to sign test token: %v", err)
	}
	return signed
}

// SignTokenWithKey signs with a key the provider never published, so the
// result fails signature validation
func (i *IDP) SignTokenWithKey(t testing.TB, opts TokenOptions) string {
	t.Helper()

	rogue, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate rogue key: %v", err)
	}

	issuer := opts.Issuer
	if issuer == "" {
		issuer = i.Issuer
	}
	expiry := opts.Expiry
	if expiry.IsZero() {
		expiry = time.Now().Add(time.Hour)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"iss": issuer,
		"sub": opts.Subject,
		"aud": opts.Audience,
		"exp": expiry.Unix(),
	})
	token.Header["kid"] = keyID

	signed, err := token.SignedString(rogue)
	if err != nil {
		t.Fatalf("failed to sign test token: %v", err)
	}
	return signed
}
