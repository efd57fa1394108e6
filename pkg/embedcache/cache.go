package embedcache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fabworks/embedgate/pkg/fabric"
	"github.com/fabworks/embedgate/pkg/observability"
	"github.com/fabworks/embedgate/pkg/roles"
)

const (
	// DefaultRefreshBuffer is subtracted from a credential's expiry when
	// deciding freshness, so callers never receive a token about to lapse.
	DefaultRefreshBuffer = 5 * time.Minute

	// DefaultAcquireTimeout bounds a single upstream acquisition.
	DefaultAcquireTimeout = 30 * time.Second

	cacheType = "embed_credentials"
)

// Key identifies one cached credential scope: a report, its dataset, and the
// sorted set of roles baked into the token.
type Key struct {
	ReportID  string
	DatasetID string
	RoleTag   string
}

// NewKey builds a cache key. The role list is sorted and deduplicated so the
// same role set always maps to the same key regardless of input order.
func NewKey(reportID, datasetID string, roleList []roles.Role) Key {
	return Key{
		ReportID:  reportID,
		DatasetID: datasetID,
		RoleTag:   roles.JoinRoles(roles.Sorted(roleList)),
	}
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%s", k.ReportID, k.DatasetID, k.RoleTag)
}

// AcquireFunc fetches a fresh credential from the upstream platform.
type AcquireFunc func(ctx context.Context) (*fabric.Credential, error)

// inflight tracks a single in-progress acquisition. Waiters block on done and
// then read cred/err, which are written exactly once before done closes.
type inflight struct {
	done chan struct{}
	cred *fabric.Credential
	err  error
}

// Config holds cache settings
type Config struct {
	// RefreshBuffer is how long before expiry a credential stops being
	// served from cache.
	RefreshBuffer time.Duration

	// AcquireTimeout bounds each upstream acquisition. Acquisitions run
	// detached from the requesting caller, so this is the only limit.
	AcquireTimeout time.Duration

	Logger  *observability.Logger
	Metrics *observability.Metrics
}

// Cache stores embed credentials keyed by (report, dataset, roles) and
// coalesces concurrent acquisitions for the same key into a single upstream
// call.
type Cache struct {
	mu       sync.Mutex
	entries  map[Key]*fabric.Credential
	inflight map[Key]*inflight

	refreshBuffer  time.Duration
	acquireTimeout time.Duration
	logger         *observability.Logger
	metrics        *observability.Metrics

	now func() time.Time
}

// New creates a credential cache
func New(cfg Config) *Cache {
	if cfg.RefreshBuffer <= 0 {
		cfg.RefreshBuffer = DefaultRefreshBuffer
	}
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = DefaultAcquireTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &Cache{
		entries:        make(map[Key]*fabric.Credential),
		inflight:       make(map[Key]*inflight),
		refreshBuffer:  cfg.RefreshBuffer,
		acquireTimeout: cfg.AcquireTimeout,
		logger:         cfg.Logger,
		metrics:        cfg.Metrics,
		now:            time.Now,
	}
}

// GetOrAcquire returns a fresh cached credential for key, or acquires one.
// Concurrent callers for the same key share a single acquisition; all of them
// receive the same credential or the same error. Failed acquisitions are never
// cached, so the next caller retries upstream.
//
// The acquisition itself runs detached from ctx: a caller disconnecting does
// not abort work that other waiters may still need. ctx only bounds how long
// this caller waits for the result.
func (c *Cache) GetOrAcquire(ctx context.Context, key Key, acquire AcquireFunc) (*fabric.Credential, error) {
	c.mu.Lock()

	if cred, ok := c.entries[key]; ok {
		if c.fresh(cred) {
			c.mu.Unlock()
			c.countHit()
			return cred, nil
		}
		// Stale entry: evict now and fall through to re-acquire.
		delete(c.entries, key)
		c.countEviction("stale")
	}

	if fl, ok := c.inflight[key]; ok {
		c.mu.Unlock()
		c.countCoalesced()
		return c.wait(ctx, fl)
	}

	fl := &inflight{done: make(chan struct{})}
	c.inflight[key] = fl
	c.mu.Unlock()
	c.countMiss()

	go c.runAcquire(key, fl, acquire)

	return c.wait(ctx, fl)
}

// wait blocks until the acquisition completes or the caller's context ends.
func (c *Cache) wait(ctx context.Context, fl *inflight) (*fabric.Credential, error) {
	select {
	case <-fl.done:
		return fl.cred, fl.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// runAcquire performs the upstream call under its own timeout and publishes
// the result to all waiters. Runs in its own goroutine.
func (c *Cache) runAcquire(key Key, fl *inflight, acquire AcquireFunc) {
	defer observability.RecoverPanicWithCallback(c.logger, "credential acquisition", func() {
		c.mu.Lock()
		delete(c.inflight, key)
		c.mu.Unlock()
		if fl.err == nil && fl.cred == nil {
			fl.err = fmt.Errorf("credential acquisition panicked")
		}
		close(fl.done)
	})

	ctx, cancel := context.WithTimeout(context.Background(), c.acquireTimeout)
	defer cancel()

	cred, err := acquire(ctx)

	c.mu.Lock()
	delete(c.inflight, key)
	if err == nil {
		c.entries[key] = cred
		c.updateEntriesGauge(len(c.entries))
	}
	c.mu.Unlock()

	if err != nil {
		c.logger.WithError(err).WithField("cache_key", key.String()).Warn("credential acquisition failed")
	}

	fl.cred, fl.err = cred, err
	close(fl.done)
}

// fresh reports whether the credential is still usable: strictly before
// expiry minus the refresh buffer. Caller holds c.mu or owns cred.
func (c *Cache) fresh(cred *fabric.Credential) bool {
	return c.now().Before(cred.ExpiresAt.Add(-c.refreshBuffer))
}

// Peek returns the cached credential for key without triggering acquisition.
// It returns false for stale or absent entries.
func (c *Cache) Peek(key Key) (*fabric.Credential, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cred, ok := c.entries[key]
	if !ok || !c.fresh(cred) {
		return nil, false
	}
	return cred, true
}

// Invalidate removes the cached credential for key, if any. In-flight
// acquisitions are not interrupted; their result will still be cached.
func (c *Cache) Invalidate(key Key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[key]; !ok {
		return false
	}
	delete(c.entries, key)
	c.countEviction("invalidated")
	c.updateEntriesGauge(len(c.entries))
	return true
}

// InvalidateReport removes every cached credential for reportID across all
// role scopes and datasets. Returns the number of entries removed.
func (c *Cache) InvalidateReport(reportID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for key := range c.entries {
		if key.ReportID == reportID {
			delete(c.entries, key)
			removed++
			c.countEviction("invalidated")
		}
	}
	c.updateEntriesGauge(len(c.entries))
	return removed
}

// ClearAll drops every cached credential. Returns the number of entries removed.
func (c *Cache) ClearAll() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := len(c.entries)
	for key := range c.entries {
		delete(c.entries, key)
		c.countEviction("invalidated")
	}
	c.updateEntriesGauge(0)
	return removed
}

// Sweep removes entries that are no longer fresh. Called periodically by the
// janitor; lookups also evict lazily, so this only reclaims memory for keys
// nobody asks for anymore.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for key, cred := range c.entries {
		if !c.fresh(cred) {
			delete(c.entries, key)
			removed++
			c.countEviction("expired")
		}
	}
	c.updateEntriesGauge(len(c.entries))
	return removed
}

// Len returns the number of cached entries, fresh or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Keys returns the cached keys, for diagnostics.
func (c *Cache) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]string, 0, len(c.entries))
	for key := range c.entries {
		keys = append(keys, key.String())
	}
	return keys
}

func (c *Cache) countHit() {
	if c.metrics != nil {
		c.metrics.CacheHitsTotal.WithLabelValues(cacheType).Inc()
	}
}

func (c *Cache) countMiss() {
	if c.metrics != nil {
		c.metrics.CacheMissesTotal.WithLabelValues(cacheType).Inc()
	}
}

func (c *Cache) countCoalesced() {
	if c.metrics != nil {
		c.metrics.CacheCoalescedTotal.WithLabelValues(cacheType).Inc()
	}
}

func (c *Cache) countEviction(reason string) {
	if c.metrics != nil {
		c.metrics.CacheEvictionsTotal.WithLabelValues(cacheType, reason).Inc()
	}
}

func (c *Cache) updateEntriesGauge(n int) {
	if c.metrics != nil {
		c.metrics.CacheEntriesGauge.WithLabelValues(cacheType).Set(float64(n))
	}
}
