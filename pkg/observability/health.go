package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"
)

// ProbeFunc checks a single dependency and returns an error when it is unreachable.
type ProbeFunc func(ctx context.Context) error

// HealthChecker aggregates dependency probes into liveness and readiness endpoints
type HealthChecker struct {
	version string

	mu     sync.RWMutex
	probes map[string]probe
}

type probe struct {
	fn       ProbeFunc
	optional bool
}

// NewHealthChecker creates a new health checker
func NewHealthChecker(version string) *HealthChecker {
	return &HealthChecker{
		version: version,
		probes:  make(map[string]probe),
	}
}

// AddProbe registers a required dependency probe. A failing required probe
// makes the service unhealthy.
func (h *HealthChecker) AddProbe(name string, fn ProbeFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.probes[name] = probe{fn: fn}
}

// AddOptionalProbe registers an optional dependency probe. A failing optional
// probe degrades the service but keeps it ready.
func (h *HealthChecker) AddOptionalProbe(name string, fn ProbeFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.probes[name] = probe{fn: fn, optional: true}
}

// HealthStatus represents the overall health status
type HealthStatus struct {
	Status       string                      `json:"status"`
	Timestamp    time.Time                   `json:"timestamp"`
	Version      string                      `json:"version,omitempty"`
	Dependencies map[string]DependencyStatus `json:"dependencies,omitempty"`
}

// DependencyStatus represents the health of a single dependency
type DependencyStatus struct {
	Status    string        `json:"status"`
	Message   string        `json:"message,omitempty"`
	Latency   time.Duration `json:"latency_ms,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// Liveness returns a simple liveness probe (always returns 200 if server is running)
func (h *HealthChecker) Liveness(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":    StatusHealthy,
		"timestamp": time.Now(),
	})
}

// Readiness returns a readiness probe (checks all registered dependencies)
func (h *HealthChecker) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := h.Check(ctx)

	w.Header().Set("Content-Type", "application/json")

	// Return 503 if unhealthy, 200 if healthy or degraded
	if status.Status == StatusUnhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}

	json.NewEncoder(w).Encode(status)
}

// Check runs every registered probe and aggregates the results
func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Status:       StatusHealthy,
		Timestamp:    time.Now(),
		Version:      h.version,
		Dependencies: make(map[string]DependencyStatus),
	}

	h.mu.RLock()
	names := make([]string, 0, len(h.probes))
	for name := range h.probes {
		names = append(names, name)
	}
	sort.Strings(names)
	probes := make([]probe, 0, len(names))
	for _, name := range names {
		probes = append(probes, h.probes[name])
	}
	h.mu.RUnlock()

	for i, name := range names {
		dep := h.runProbe(ctx, probes[i])
		status.Dependencies[name] = dep

		if dep.Status != StatusUnhealthy {
			continue
		}
		if probes[i].optional {
			if status.Status != StatusUnhealthy {
				status.Status = StatusDegraded
			}
		} else {
			status.Status = StatusUnhealthy
		}
	}

	return status
}

func (h *HealthChecker) runProbe(ctx context.Context, p probe) DependencyStatus {
	start := time.Now()
	status := DependencyStatus{
		Status:    StatusHealthy,
		Timestamp: time.Now(),
	}

	err := p.fn(ctx)
	status.Latency = time.Since(start)

	if err != nil {
		status.Status = StatusUnhealthy
		status.Message = err.Error()
	}

	return status
}
