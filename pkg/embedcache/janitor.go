package embedcache

import (
	"fmt"

	"github.com/robfig/cron/v3"

	"github.com/fabworks/embedgate/pkg/observability"
)

// DefaultSweepSchedule runs the sweep every five minutes.
const DefaultSweepSchedule = "@every 5m"

// Janitor periodically sweeps stale credentials out of the cache. Lookups
// already evict lazily, so the janitor only reclaims memory held by keys that
// are never asked for again.
type Janitor struct {
	cron   *cron.Cron
	cache  *Cache
	logger *observability.Logger
}

// NewJanitor schedules a sweep of cache on the given cron schedule
// (e.g. "@every 5m"). Call Start to begin and Stop to halt it.
func NewJanitor(cache *Cache, schedule string, logger *observability.Logger) (*Janitor, error) {
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}

	j := &Janitor{
		cron:   cron.New(),
		cache:  cache,
		logger: logger,
	}

	if _, err := j.cron.AddFunc(schedule, j.sweep); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}

	return j, nil
}

// Start begins the sweep schedule in its own goroutine.
func (j *Janitor) Start() {
	j.cron.Start()
}

// Stop halts the schedule and waits for a running sweep to finish.
func (j *Janitor) Stop() {
	<-j.cron.Stop().Done()
}

func (j *Janitor) sweep() {
	defer observability.RecoverPanic(j.logger, "cache sweep")

	if removed := j.cache.Sweep(); removed > 0 {
		j.logger.WithField("removed", removed).Debug("swept expired embed credentials")
	}
}
