package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/fabworks/embedgate/pkg/audit"
	"github.com/fabworks/embedgate/pkg/embedcache"
	"github.com/fabworks/embedgate/pkg/fabric"
	"github.com/fabworks/embedgate/pkg/identity"
	"github.com/fabworks/embedgate/pkg/observability"
	"github.com/fabworks/embedgate/pkg/roles"
)

const (
	// DefaultMaxRetries is how many times a failed acquisition is retried
	// before the upstream error is surfaced.
	DefaultMaxRetries = 2

	// DefaultInitialBackoff seeds the exponential backoff between retries.
	DefaultInitialBackoff = 200 * time.Millisecond
)

// Platform is the subset of the upstream client the broker needs.
// *fabric.Client satisfies it.
type Platform interface {
	Acquire(ctx context.Context, reportID, datasetID string, roleList []roles.Role) (*fabric.Credential, error)
	GetReport(ctx context.Context, reportID string) (*fabric.Report, error)
	ListReports(ctx context.Context) ([]fabric.Report, error)
	ListDatasets(ctx context.Context) ([]fabric.Dataset, error)
}

// Access is the result of a successful embed access request: the credential
// to hand to the client and the roles that were baked into it.
type Access struct {
	Credential *fabric.Credential
	Roles      []roles.Role
}

// Config holds broker settings
type Config struct {
	Mapping  *roles.Mapping
	Cache    *embedcache.Cache
	Platform Platform

	MaxRetries     uint64
	InitialBackoff time.Duration

	Audit   audit.Recorder
	Logger  *observability.Logger
	Metrics *observability.Metrics
}

// Broker resolves a caller's roles and returns a cached or freshly acquired
// embed credential scoped to them.
type Broker struct {
	mapping  *roles.Mapping
	cache    *embedcache.Cache
	platform Platform

	maxRetries     uint64
	initialBackoff time.Duration
	audit          audit.Recorder
	logger         *observability.Logger
	metrics        *observability.Metrics
}

// New creates a broker
func New(cfg Config) (*Broker, error) {
	if cfg.Mapping == nil {
		return nil, fmt.Errorf("role mapping is required")
	}
	if cfg.Cache == nil {
		return nil, fmt.Errorf("credential cache is required")
	}
	if cfg.Platform == nil {
		return nil, fmt.Errorf("platform client is required")
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = DefaultInitialBackoff
	}
	if cfg.Audit == nil {
		cfg.Audit = audit.NopRecorder()
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &Broker{
		mapping:        cfg.Mapping,
		cache:          cfg.Cache,
		platform:       cfg.Platform,
		maxRetries:     cfg.MaxRetries,
		initialBackoff: cfg.InitialBackoff,
		audit:          cfg.Audit,
		logger:         cfg.Logger,
		metrics:        cfg.Metrics,
	}, nil
}

// GetEmbedAccess resolves the caller's roles from their group memberships and
// returns a role-scoped embed credential for the report. Callers with the
// same role set share cached credentials; the dataset defaults to the
// report's own when datasetID is empty.
func (b *Broker) GetEmbedAccess(ctx context.Context, claim *identity.Claim, reportID, datasetID string) (*Access, error) {
	if claim == nil {
		return nil, fmt.Errorf("%w: missing identity", identity.ErrTokenInvalid)
	}
	if reportID == "" {
		return nil, fmt.Errorf("%w: report id is required", fabric.ErrResourceNotFound)
	}

	resolved := b.mapping.Resolve(claim.Groups)

	if datasetID == "" {
		report, err := b.platform.GetReport(ctx, reportID)
		if err != nil {
			return nil, err
		}
		datasetID = report.DatasetID
	}

	key := embedcache.NewKey(reportID, datasetID, resolved)

	cred, err := b.cache.GetOrAcquire(ctx, key, func(acquireCtx context.Context) (*fabric.Credential, error) {
		return b.acquireWithRetry(acquireCtx, reportID, datasetID, resolved)
	})
	if err != nil {
		return nil, err
	}

	return &Access{Credential: cred, Roles: resolved}, nil
}

// acquireWithRetry calls the platform, retrying transient upstream failures
// with exponential backoff. Permission and not-found errors are permanent.
func (b *Broker) acquireWithRetry(ctx context.Context, reportID, datasetID string, roleList []roles.Role) (*fabric.Credential, error) {
	var cred *fabric.Credential

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = b.initialBackoff

	operation := func() error {
		var err error
		cred, err = b.platform.Acquire(ctx, reportID, datasetID, roleList)
		if err == nil {
			return nil
		}
		if errors.Is(err, fabric.ErrUpstreamUnavailable) {
			return err
		}
		return backoff.Permanent(err)
	}

	err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(bo, b.maxRetries), ctx))
	if err != nil {
		failure := audit.NewEvent(audit.EventTypeUpstreamFailure, audit.EventStatusFailure)
		failure.ReportID = reportID
		failure.DatasetID = datasetID
		failure.Message = err.Error()
		b.audit.Record(ctx, failure)
		return nil, err
	}

	issued := audit.NewEvent(audit.EventTypeTokenIssued, audit.EventStatusSuccess)
	issued.ReportID = reportID
	issued.DatasetID = datasetID
	issued.Roles = roles.RoleNames(roleList)
	b.audit.Record(ctx, issued)

	if b.metrics != nil {
		b.metrics.TokensIssuedTotal.WithLabelValues(reportID).Inc()
	}
	b.logger.WithFields(map[string]interface{}{
		"report_id":  reportID,
		"dataset_id": datasetID,
		"roles":      roles.JoinRoles(roleList),
	}).Info("embed credential acquired")

	return cred, nil
}

// ResolveRoles returns the caller's data-access roles.
func (b *Broker) ResolveRoles(claim *identity.Claim) []roles.Role {
	return b.mapping.Resolve(claim.Groups)
}

// PermissionsFor returns the union of permissions granted by the role list.
func (b *Broker) PermissionsFor(roleList []roles.Role) roles.PermissionSet {
	return b.mapping.PermissionsFor(roleList)
}

// ListReports returns the reports visible to the service principal.
func (b *Broker) ListReports(ctx context.Context) ([]fabric.Report, error) {
	return b.platform.ListReports(ctx)
}

// ListDatasets returns the datasets visible to the service principal.
func (b *Broker) ListDatasets(ctx context.Context) ([]fabric.Dataset, error) {
	return b.platform.ListDatasets(ctx)
}

// InvalidateReport drops every cached credential for the report, forcing the
// next request per role scope back upstream. Returns the number removed.
func (b *Broker) InvalidateReport(reportID string) int {
	removed := b.cache.InvalidateReport(reportID)
	b.logger.WithFields(map[string]interface{}{
		"report_id": reportID,
		"removed":   removed,
	}).Info("cached credentials invalidated")
	return removed
}

// InvalidateAll drops every cached credential. Returns the number removed.
func (b *Broker) InvalidateAll() int {
	removed := b.cache.ClearAll()
	b.logger.WithField("removed", removed).Info("all cached credentials invalidated")
	return removed
}
