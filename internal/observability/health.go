package observability

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// CheckFunc probes one dependency. A nil error means healthy.
type CheckFunc func(ctx context.Context) error

// HealthChecker manages liveness and readiness state.
// Readiness requires SetReady(true) plus every registered check passing.
type HealthChecker struct {
	ready     atomic.Bool
	startTime time.Time

	mu     sync.RWMutex
	checks map[string]CheckFunc
}

// HealthReport is the body served by the health endpoints.
type HealthReport struct {
	Status string            `json:"status"`
	Uptime string            `json:"uptime,omitempty"`
	Checks map[string]string `json:"checks,omitempty"`
}

// NewHealthChecker creates a new health checker.
func NewHealthChecker() *HealthChecker {
	return &HealthChecker{
		startTime: time.Now(),
		checks:    make(map[string]CheckFunc),
	}
}

// SetReady marks the service as ready to accept traffic.
func (h *HealthChecker) SetReady(ready bool) {
	h.ready.Store(ready)
}

// IsReady returns whether recovery finished. It does not run the checks.
func (h *HealthChecker) IsReady() bool {
	return h.ready.Load()
}

// Register adds a named dependency probe (postgres, nats).
func (h *HealthChecker) Register(name string, check CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = check
}

// Liveness always reports alive while the process runs.
func (h *HealthChecker) Liveness() HealthReport {
	return HealthReport{
		Status: "alive",
		Uptime: time.Since(h.startTime).Round(time.Second).String(),
	}
}

// Readiness runs every registered check. ok is false when recovery is still
// in progress or any check fails.
func (h *HealthChecker) Readiness(ctx context.Context) (HealthReport, bool) {
	h.mu.RLock()
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	checks := make(map[string]CheckFunc, len(h.checks))
	for name, fn := range h.checks {
		checks[name] = fn
	}
	h.mu.RUnlock()
	sort.Strings(names)

	ok := h.ready.Load()
	report := HealthReport{Checks: make(map[string]string, len(names))}
	for _, name := range names {
		if err := checks[name](ctx); err != nil {
			report.Checks[name] = err.Error()
			ok = false
			continue
		}
		report.Checks[name] = "ok"
	}

	if ok {
		report.Status = "ready"
	} else {
		report.Status = "not_ready"
	}
	return report, ok
}
