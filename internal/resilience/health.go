package resilience

import (
	"context"
	"sync"
	"time"
)

// HealthStatus of one probed dependency.
type HealthStatus string

const (
	// Healthy means the probe succeeded within its budget.
	Healthy HealthStatus = "HEALTHY"
	// Degraded means the probe succeeded but slowly.
	Degraded HealthStatus = "DEGRADED"
	// Unhealthy means the probe failed.
	Unhealthy HealthStatus = "UNHEALTHY"
)

// HealthResult is one cached probe outcome.
type HealthResult struct {
	Service      string        `json:"service"`
	Status       HealthStatus  `json:"status"`
	ResponseTime time.Duration `json:"response_time"`
	ErrorMessage string        `json:"error_message,omitempty"`
	LastCheck    time.Time     `json:"last_check"`
	Critical     bool          `json:"critical"`
}

// Probe checks one dependency; it must respect the context deadline.
type Probe func(ctx context.Context) error

type registeredProbe struct {
	probe    Probe
	critical bool
}

// HealthChecker runs per-dependency probes and caches results briefly for
// liveness/readiness consumers.
type HealthChecker struct {
	mu       sync.Mutex
	probes   map[string]registeredProbe
	results  map[string]HealthResult
	cacheTTL time.Duration
	timeout  time.Duration
	degraded time.Duration
	breakers *Registry
}

// NewHealthChecker creates a checker caching results for cacheTTL.
func NewHealthChecker(cacheTTL time.Duration, breakers *Registry) *HealthChecker {
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Second
	}
	return &HealthChecker{
		probes:   make(map[string]registeredProbe),
		results:  make(map[string]HealthResult),
		cacheTTL: cacheTTL,
		timeout:  2 * time.Second,
		degraded: 500 * time.Millisecond,
		breakers: breakers,
	}
}

// Register adds a named probe. Critical dependencies gate overall health.
func (h *HealthChecker) Register(name string, critical bool, p Probe) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.probes[name] = registeredProbe{probe: p, critical: critical}
}

// Check probes the named dependency, serving a cached result when fresh.
func (h *HealthChecker) Check(ctx context.Context, name string) (HealthResult, bool) {
	h.mu.Lock()
	rp, ok := h.probes[name]
	if !ok {
		h.mu.Unlock()
		return HealthResult{}, false
	}
	if cached, ok := h.results[name]; ok && time.Since(cached.LastCheck) < h.cacheTTL {
		h.mu.Unlock()
		return cached, true
	}
	h.mu.Unlock()

	probeCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	start := time.Now()
	err := rp.probe(probeCtx)
	elapsed := time.Since(start)

	res := HealthResult{
		Service:      name,
		Status:       Healthy,
		ResponseTime: elapsed,
		LastCheck:    time.Now().UTC(),
		Critical:     rp.critical,
	}
	switch {
	case err != nil:
		res.Status = Unhealthy
		res.ErrorMessage = err.Error()
	case elapsed > h.degraded:
		res.Status = Degraded
	}

	h.mu.Lock()
	h.results[name] = res
	h.mu.Unlock()
	return res, true
}

// CheckAll probes every registered dependency.
func (h *HealthChecker) CheckAll(ctx context.Context) []HealthResult {
	h.mu.Lock()
	names := make([]string, 0, len(h.probes))
	for name := range h.probes {
		names = append(names, name)
	}
	h.mu.Unlock()

	out := make([]HealthResult, 0, len(names))
	for _, name := range names {
		if res, ok := h.Check(ctx, name); ok {
			out = append(out, res)
		}
	}
	return out
}

// Overall is healthy iff all critical services are healthy and no circuit is
// open.
func (h *HealthChecker) Overall(ctx context.Context) bool {
	for _, res := range h.CheckAll(ctx) {
		if res.Critical && res.Status == Unhealthy {
			return false
		}
	}
	if h.breakers != nil && h.breakers.AnyOpen() {
		return false
	}
	return true
}
