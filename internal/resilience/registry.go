package resilience

import (
	"sync"
	"time"
)

// Well-known breaker keys.
const (
	ServiceDatabase = "database"
	ServiceRedis    = "redis"
	ServiceAI       = "ai_service"
)

// Registry holds process-wide circuit breakers keyed by service name.
// Breakers are constructed lazily on first use.
type Registry struct {
	mu               sync.Mutex
	breakers         map[string]*CircuitBreaker
	failureThreshold int
	recoveryTimeout  time.Duration
}

// NewRegistry creates a registry with defaults applied to new breakers.
func NewRegistry(failureThreshold int, recoveryTimeout time.Duration) *Registry {
	return &Registry{
		breakers:         make(map[string]*CircuitBreaker),
		failureThreshold: failureThreshold,
		recoveryTimeout:  recoveryTimeout,
	}
}

// Get returns the breaker for the named service, creating it if needed.
func (r *Registry) Get(name string) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cb, ok := r.breakers[name]; ok {
		return cb
	}
	cb := NewCircuitBreaker(name, r.failureThreshold, r.recoveryTimeout)
	r.breakers[name] = cb
	return cb
}

// AnyOpen reports whether any registered breaker is not CLOSED.
func (r *Registry) AnyOpen() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, cb := range r.breakers {
		if cb.GetState() != StateClosed {
			return true
		}
	}
	return false
}

// Stats returns per-service breaker statistics.
func (r *Registry) Stats() map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]any, len(r.breakers))
	for name, cb := range r.breakers {
		out[name] = cb.Stats()
	}
	return out
}

// ResetAll returns every breaker to CLOSED.
func (r *Registry) ResetAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, cb := range r.breakers {
		cb.Reset()
	}
}
