package fabric

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/fabworks/embedgate/pkg/observability"
	"github.com/fabworks/embedgate/pkg/roles"
)

const (
	// DefaultAPIBaseURL is the reporting platform's REST endpoint
	DefaultAPIBaseURL = "https://api.powerbi.com/v1.0/myorg"
	// DefaultCallTimeout bounds each upstream call so a hung platform
	// cannot block single-flight waiters indefinitely
	DefaultCallTimeout = 10 * time.Second
	// DefaultTokenLifetime is requested for minted embed credentials
	DefaultTokenLifetime = 60 * time.Minute
	// DefaultMetadataTTL is how long report/dataset metadata stays cached
	DefaultMetadataTTL = 15 * time.Minute

	metadataCacheSize = 256
)

// Config holds reporting platform settings
type Config struct {
	// APIBaseURL is the platform REST endpoint
	APIBaseURL string
	// TokenURL is the OAuth2 token endpoint for the service principal
	TokenURL string
	// ClientID and ClientSecret identify the service principal
	ClientID     string
	ClientSecret string
	// Scope requested for the service principal token
	Scope string
	// WorkspaceID is the workspace all reports and datasets live in
	WorkspaceID string
	// TokenLifetime requested for minted embed credentials
	TokenLifetime time.Duration
	// CallTimeout bounds each upstream call
	CallTimeout time.Duration
	// MetadataTTL bounds the report/dataset metadata cache
	MetadataTTL time.Duration
	// Metrics, when set, records per-operation call counts and latency
	Metrics *observability.Metrics
}

// Validate checks required fields
func (c *Config) Validate() error {
	if c.TokenURL == "" {
		return fmt.Errorf("token URL is required")
	}
	if c.ClientID == "" {
		return fmt.Errorf("client ID is required")
	}
	if c.ClientSecret == "" {
		return fmt.Errorf("client secret is required")
	}
	if c.WorkspaceID == "" {
		return fmt.Errorf("workspace ID is required")
	}
	return nil
}

// Client talks to the reporting platform as the service principal
type Client struct {
	cfg         Config
	httpClient  *http.Client
	reportCache *lru.LRU[string, *Report]
	metrics     *observability.Metrics
	now         func() time.Time
}

// NewClient creates a platform client. The underlying transport handles
// service-principal token acquisition and refresh transparently.
func NewClient(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid fabric config: %w", err)
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = DefaultAPIBaseURL
	}
	if cfg.TokenLifetime <= 0 {
		cfg.TokenLifetime = DefaultTokenLifetime
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	if cfg.MetadataTTL <= 0 {
		cfg.MetadataTTL = DefaultMetadataTTL
	}

	creds := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
	}
	if cfg.Scope != "" {
		creds.Scopes = []string{cfg.Scope}
	}

	// Instrumented base transport; the oauth2 layer sits on top so token
	// requests are traced too
	base := &http.Client{
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base)

	return &Client{
		cfg:         cfg,
		httpClient:  creds.Client(ctx),
		reportCache: lru.NewLRU[string, *Report](metadataCacheSize, nil, cfg.MetadataTTL),
		metrics:     cfg.Metrics,
		now:         time.Now,
	}, nil
}

// Acquire mints a role-scoped embed credential for a report. The role
// list is baked into the credential as its row-level-security scope;
// scoped roles are OR-combined by the platform. An admin role list skips
// RLS identities entirely so administrators see unfiltered data.
//
// Stateless per call and safe to retry on ErrUpstreamUnavailable; retry
// policy belongs to the caller, not here. The credential cache owns
// write-after-acquire.
func (c *Client) Acquire(ctx context.Context, reportID, datasetID string, roleList []roles.Role) (*Credential, error) {
	if reportID == "" {
		return nil, fmt.Errorf("report ID is required")
	}
	if len(roleList) == 0 {
		return nil, fmt.Errorf("role list must not be empty")
	}

	report, err := c.GetReport(ctx, reportID)
	if err != nil {
		return nil, err
	}
	if datasetID == "" {
		datasetID = report.DatasetID
	}

	tokenReq := generateTokenRequest{
		AccessLevel: "View",
		DatasetID:   datasetID,
		AllowSaveAs: false,
		Identities:  c.identitiesFor(roleList, datasetID),
	}
	if minutes := int(c.cfg.TokenLifetime.Minutes()); minutes > 0 {
		tokenReq.LifetimeInMinutes = minutes
	}

	var tokenResp generateTokenResponse
	path := fmt.Sprintf("/groups/%s/reports/%s/GenerateToken", c.cfg.WorkspaceID, reportID)
	if err := c.do(ctx, "generate_token", http.MethodPost, path, tokenReq, &tokenResp); err != nil {
		return nil, err
	}

	now := c.now()
	expiresAt := tokenResp.Expiration
	if expiresAt.IsZero() {
		expiresAt = now.Add(c.cfg.TokenLifetime)
	}

	return &Credential{
		Token:     tokenResp.Token,
		TokenID:   tokenResp.TokenID,
		EmbedURL:  report.EmbedURL,
		ReportID:  reportID,
		DatasetID: datasetID,
		Roles:     roleList,
		IssuedAt:  now,
		ExpiresAt: expiresAt,
	}, nil
}

// identitiesFor builds RLS identities for the token request. The
// username only anchors the identity; data filtering comes from the role
// list, so credentials stay shareable across users with the same roles.
func (c *Client) identitiesFor(roleList []roles.Role, datasetID string) []rlsIdentity {
	for _, r := range roleList {
		if r == roles.RoleAdmin {
			return nil
		}
	}
	return []rlsIdentity{{
		Username: c.cfg.ClientID,
		Roles:    roles.RoleNames(roleList),
		Datasets: []string{datasetID},
	}}
}

// GetReport fetches report metadata, served from the expirable cache
// when fresh
func (c *Client) GetReport(ctx context.Context, reportID string) (*Report, error) {
	if report, ok := c.reportCache.Get(reportID); ok {
		return report, nil
	}

	var resp reportResponse
	path := fmt.Sprintf("/groups/%s/reports/%s", c.cfg.WorkspaceID, reportID)
	if err := c.do(ctx, "get_report", http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}

	report := &Report{
		ID:        resp.ID,
		Name:      resp.Name,
		EmbedURL:  resp.EmbedURL,
		DatasetID: resp.DatasetID,
	}
	c.reportCache.Add(reportID, report)
	return report, nil
}

// ListReports returns all reports in the workspace
func (c *Client) ListReports(ctx context.Context) ([]Report, error) {
	var resp listResponse[reportResponse]
	path := fmt.Sprintf("/groups/%s/reports", c.cfg.WorkspaceID)
	if err := c.do(ctx, "list_reports", http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}

	reports := make([]Report, len(resp.Value))
	for i, r := range resp.Value {
		reports[i] = Report{ID: r.ID, Name: r.Name, EmbedURL: r.EmbedURL, DatasetID: r.DatasetID}
	}
	return reports, nil
}

// ListDatasets returns all datasets in the workspace
func (c *Client) ListDatasets(ctx context.Context) ([]Dataset, error) {
	var resp listResponse[datasetResponse]
	path := fmt.Sprintf("/groups/%s/datasets", c.cfg.WorkspaceID)
	if err := c.do(ctx, "list_datasets", http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}

	datasets := make([]Dataset, len(resp.Value))
	for i, d := range resp.Value {
		datasets[i] = Dataset{ID: d.ID, Name: d.Name, ConfiguredBy: d.ConfiguredBy}
	}
	return datasets, nil
}

// Ping checks platform reachability for readiness probes
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.ListDatasets(ctx)
	if errors.Is(err, ErrUpstreamUnavailable) {
		return err
	}
	// Auth/permission errors still prove the platform is reachable
	return nil
}

// do executes one platform call, recording per-operation metrics
func (c *Client) do(ctx context.Context, op, method, path string, body, out interface{}) error {
	start := time.Now()
	err := c.roundTrip(ctx, method, path, body, out)
	if c.metrics != nil {
		result := "success"
		if err != nil {
			result = "error"
		}
		c.metrics.UpstreamRequestsTotal.WithLabelValues(op, result).Inc()
		c.metrics.UpstreamRequestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}
	return err
}

// roundTrip executes one platform call with a bounded timeout and maps
// failures onto the broker's error taxonomy
func (c *Client) roundTrip(ctx context.Context, method, path string, body, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
	defer cancel()

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.APIBaseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			// Rejected service-principal credentials are a deployment
			// fault, not a transient outage
			return fmt.Errorf("%w: token endpoint returned %d", ErrInsufficientPermissions, retrieveErr.Response.StatusCode)
		}
		return fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("%w: malformed response: %v", ErrUpstreamUnavailable, err)
		}
		return nil
	}

	detail := readErrorDetail(resp.Body)
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s %s: %s", ErrInsufficientPermissions, method, path, detail)
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s %s", ErrResourceNotFound, method, path)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("%w: %s %s returned %d: %s", ErrUpstreamUnavailable, method, path, resp.StatusCode, detail)
	default:
		return fmt.Errorf("unexpected status %d from %s %s: %s", resp.StatusCode, method, path, detail)
	}
}

// readErrorDetail pulls a human-readable message out of the platform's
// error envelope, tolerating arbitrary bodies
func readErrorDetail(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil || len(data) == 0 {
		return "no error detail"
	}

	var envelope upstreamError
	if err := json.Unmarshal(data, &envelope); err == nil && envelope.Error.Message != "" {
		return envelope.Error.Message
	}
	return string(data)
}
