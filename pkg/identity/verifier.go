package identity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
)

// ErrTokenInvalid indicates the bearer token is missing, malformed,
// expired, or failed signature/issuer/audience validation. Callers must
// re-authenticate; the failure is never retried server-side.
var ErrTokenInvalid = errors.New("identity token invalid")

// DefaultVerifyTimeout bounds a single verification, including any JWKS
// refresh the verifier performs against the identity provider
const DefaultVerifyTimeout = 5 * time.Second

// Claim is the authenticated caller's identity as asserted by the
// identity provider. Built per request from a validated token and
// discarded when the request ends.
type Claim struct {
	SubjectID   string
	DisplayName string
	Email       string
	Groups      []string
	Expiry      time.Time
}

// Verifier validates raw bearer tokens into Claims
type Verifier interface {
	Verify(ctx context.Context, rawToken string) (*Claim, error)
}

// Config holds identity provider settings
type Config struct {
	// IssuerURL is the OIDC issuer; signing keys are discovered from its
	// metadata document
	IssuerURL string
	// ClientID is the expected token audience
	ClientID string
	// VerifyTimeout bounds each verification call
	VerifyTimeout time.Duration
}

// TokenVerifier validates tokens against the identity provider's
// published signing keys
type TokenVerifier struct {
	verifier *oidc.IDTokenVerifier
	timeout  time.Duration
}

// NewTokenVerifier discovers the identity provider and prepares a
// verifier for its tokens. Discovery is a network call and respects ctx.
func NewTokenVerifier(ctx context.Context, cfg Config) (*TokenVerifier, error) {
	if cfg.IssuerURL == "" {
		return nil, fmt.Errorf("issuer URL is required")
	}
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("client ID is required")
	}

	provider, err := oidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to discover identity provider: %w", err)
	}

	timeout := cfg.VerifyTimeout
	if timeout <= 0 {
		timeout = DefaultVerifyTimeout
	}

	return &TokenVerifier{
		verifier: provider.Verifier(&oidc.Config{ClientID: cfg.ClientID}),
		timeout:  timeout,
	}, nil
}

// tokenClaims is the subset of provider claims the broker consumes
type tokenClaims struct {
	Name              string   `json:"name"`
	Email             string   `json:"email"`
	PreferredUsername string   `json:"preferred_username"`
	Groups            []string `json:"groups"`
}

// Verify validates a raw bearer token and returns the caller's Claim.
// Any validation failure maps to ErrTokenInvalid.
func (v *TokenVerifier) Verify(ctx context.Context, rawToken string) (*Claim, error) {
	rawToken = strings.TrimSpace(strings.TrimPrefix(rawToken, "Bearer "))
	if rawToken == "" {
		return nil, fmt.Errorf("%w: empty token", ErrTokenInvalid)
	}

	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	idToken, err := v.verifier.Verify(ctx, rawToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	var claims tokenClaims
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("%w: failed to parse claims: %v", ErrTokenInvalid, err)
	}

	email := claims.Email
	if email == "" {
		email = claims.PreferredUsername
	}

	displayName := claims.Name
	if displayName == "" {
		displayName = email
	}

	return &Claim{
		SubjectID:   idToken.Subject,
		DisplayName: displayName,
		Email:       email,
		Groups:      claims.Groups,
		Expiry:      idToken.Expiry,
	}, nil
}

// HealthProbe returns a readiness check that fetches the issuer's
// discovery document. A reachable issuer means token validation can
// refresh signing keys when it needs to.
func HealthProbe(issuerURL string) func(ctx context.Context) error {
	wellKnown := strings.TrimSuffix(issuerURL, "/") + "/.well-known/openid-configuration"
	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, wellKnown, nil)
		if err != nil {
			return fmt.Errorf("failed to build discovery request: %w", err)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return fmt.Errorf("identity provider unreachable: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("identity provider discovery returned %d", resp.StatusCode)
		}
		return nil
	}
}
