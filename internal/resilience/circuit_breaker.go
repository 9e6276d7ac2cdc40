// Package resilience provides the circuit breakers, rate limiters, retry
// decorators and health checks shared by all outbound dependencies.
package resilience

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/octup/sentinel/internal/domain"
	"github.com/octup/sentinel/internal/observability"
)

// State of a circuit breaker.
type State int

const (
	// StateClosed indicates the circuit is closed and calls are allowed.
	StateClosed State = iota
	// StateOpen indicates calls fail fast until the recovery timeout elapses.
	StateOpen
	// StateHalfOpen admits a single probe call to test recovery.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreaker implements the three-state breaker: CLOSED opens after
// failureThreshold consecutive failures; OPEN fails fast until
// recoveryTimeout; HALF_OPEN admits exactly one probe whose outcome decides
// the next state.
type CircuitBreaker struct {
	mu sync.Mutex

	name             string
	failureThreshold int
	recoveryTimeout  time.Duration
	now              func() time.Time

	state           State
	failureCount    int
	lastFailureTime time.Time
	probeInFlight   bool

	totalRequests int64
	totalFailures int64
	stateChanges  int64
}

// NewCircuitBreaker creates a breaker for the named service.
func NewCircuitBreaker(name string, failureThreshold int, recoveryTimeout time.Duration) *CircuitBreaker {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	if recoveryTimeout <= 0 {
		recoveryTimeout = 60 * time.Second
	}
	return &CircuitBreaker{
		name:             name,
		failureThreshold: failureThreshold,
		recoveryTimeout:  recoveryTimeout,
		now:              time.Now,
		state:            StateClosed,
	}
}

// Allow reports whether a call may proceed. In OPEN it fails fast with
// domain.ErrCircuitOpen; after the recovery timeout it admits one probe.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return nil
	case StateOpen:
		if cb.now().Sub(cb.lastFailureTime) >= cb.recoveryTimeout {
			cb.setState(StateHalfOpen)
			cb.probeInFlight = true
			slog.Info("circuit breaker admitting probe",
				slog.String("service", cb.name),
				slog.Duration("recovery_timeout", cb.recoveryTimeout))
			return nil
		}
		return fmt.Errorf("op=breaker.%s: %w", cb.name, domain.ErrCircuitOpen)
	case StateHalfOpen:
		if cb.probeInFlight {
			return fmt.Errorf("op=breaker.%s: probe in flight: %w", cb.name, domain.ErrCircuitOpen)
		}
		cb.probeInFlight = true
		return nil
	}
	return fmt.Errorf("op=breaker.%s: %w", cb.name, domain.ErrCircuitOpen)
}

// RecordSuccess records a successful call.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.totalRequests++
	cb.failureCount = 0
	if cb.state == StateHalfOpen {
		cb.probeInFlight = false
		cb.setState(StateClosed)
		slog.Info("circuit breaker closed after successful probe", slog.String("service", cb.name))
	}
}

// RecordFailure records a failed call.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.totalRequests++
	cb.totalFailures++
	cb.failureCount++
	cb.lastFailureTime = cb.now()

	switch cb.state {
	case StateClosed:
		if cb.failureCount >= cb.failureThreshold {
			cb.setState(StateOpen)
			slog.Warn("circuit breaker opened",
				slog.String("service", cb.name),
				slog.Int("failure_count", cb.failureCount),
				slog.Int("failure_threshold", cb.failureThreshold))
		}
	case StateHalfOpen:
		cb.probeInFlight = false
		cb.setState(StateOpen)
		slog.Warn("circuit breaker reopened after failed probe", slog.String("service", cb.name))
	}
}

// Do runs fn under the breaker.
func (cb *CircuitBreaker) Do(ctx domain.Context, fn func(domain.Context) error) error {
	if err := cb.Allow(); err != nil {
		return err
	}
	if err := fn(ctx); err != nil {
		cb.RecordFailure()
		return err
	}
	cb.RecordSuccess()
	return nil
}

// GetState returns the current state.
func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reset returns the breaker to CLOSED and clears counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.setState(StateClosed)
	cb.failureCount = 0
	cb.probeInFlight = false
	cb.lastFailureTime = time.Time{}
}

// Stats returns breaker statistics for health/admin endpoints.
func (cb *CircuitBreaker) Stats() map[string]any {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return map[string]any{
		"service":           cb.name,
		"state":             cb.state.String(),
		"failure_threshold": cb.failureThreshold,
		"recovery_timeout":  cb.recoveryTimeout.String(),
		"failure_count":     cb.failureCount,
		"total_requests":    cb.totalRequests,
		"total_failures":    cb.totalFailures,
		"state_changes":     cb.stateChanges,
	}
}

// setState must be called with the mutex held.
func (cb *CircuitBreaker) setState(s State) {
	if cb.state == s {
		return
	}
	cb.state = s
	cb.stateChanges++
	observability.CircuitBreakerState.WithLabelValues(cb.name).Set(float64(s))
}
