package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/octup/sentinel/internal/domain"
)

// fakeClock lets tests advance breaker time without sleeping.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(threshold int, recovery time.Duration) (*CircuitBreaker, *fakeClock) {
	cb := NewCircuitBreaker("test", threshold, recovery)
	clk := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	cb.now = clk.now
	return cb, clk
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cb, _ := newTestBreaker(3, time.Minute)

	for i := 0; i < 2; i++ {
		cb.RecordFailure()
		require.Equal(t, StateClosed, cb.GetState())
	}
	cb.RecordFailure()
	require.Equal(t, StateOpen, cb.GetState())

	err := cb.Allow()
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrCircuitOpen)
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb, _ := newTestBreaker(3, time.Minute)

	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()
	cb.RecordFailure()
	assert.Equal(t, StateClosed, cb.GetState(), "non-consecutive failures must not open the breaker")
}

func TestCircuitBreaker_HalfOpenAdmitsSingleProbe(t *testing.T) {
	cb, clk := newTestBreaker(1, time.Minute)

	cb.RecordFailure()
	require.Equal(t, StateOpen, cb.GetState())
	require.Error(t, cb.Allow())

	clk.advance(time.Minute)
	require.NoError(t, cb.Allow(), "first call after recovery timeout is the probe")
	require.Equal(t, StateHalfOpen, cb.GetState())

	err := cb.Allow()
	require.Error(t, err, "second concurrent call must fail fast while probe is in flight")
	assert.ErrorIs(t, err, domain.ErrCircuitOpen)
}

func TestCircuitBreaker_ProbeSuccessCloses(t *testing.T) {
	cb, clk := newTestBreaker(1, time.Minute)

	cb.RecordFailure()
	clk.advance(time.Minute)
	require.NoError(t, cb.Allow())
	cb.RecordSuccess()

	assert.Equal(t, StateClosed, cb.GetState())
	assert.NoError(t, cb.Allow())
}

func TestCircuitBreaker_ProbeFailureReopens(t *testing.T) {
	cb, clk := newTestBreaker(1, time.Minute)

	cb.RecordFailure()
	clk.advance(time.Minute)
	require.NoError(t, cb.Allow())
	cb.RecordFailure()

	require.Equal(t, StateOpen, cb.GetState())
	require.Error(t, cb.Allow(), "reopened breaker fails fast until the next timeout")

	clk.advance(time.Minute)
	assert.NoError(t, cb.Allow(), "a fresh probe is admitted after another full timeout")
}

func TestCircuitBreaker_Do(t *testing.T) {
	cb, _ := newTestBreaker(1, time.Minute)
	ctx := context.Background()

	boom := errors.New("boom")
	require.ErrorIs(t, cb.Do(ctx, func(domain.Context) error { return boom }), boom)
	require.Equal(t, StateOpen, cb.GetState())

	err := cb.Do(ctx, func(domain.Context) error { return nil })
	assert.ErrorIs(t, err, domain.ErrCircuitOpen, "fn must not run while open")
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb, _ := newTestBreaker(1, time.Minute)
	cb.RecordFailure()
	require.Equal(t, StateOpen, cb.GetState())

	cb.Reset()
	assert.Equal(t, StateClosed, cb.GetState())
	assert.NoError(t, cb.Allow())
}

func TestCircuitBreaker_Stats(t *testing.T) {
	cb, _ := newTestBreaker(2, time.Minute)
	cb.RecordFailure()
	cb.RecordSuccess()

	stats := cb.Stats()
	assert.Equal(t, "test", stats["service"])
	assert.Equal(t, "closed", stats["state"])
	assert.Equal(t, int64(2), stats["total_requests"])
	assert.Equal(t, int64(1), stats["total_failures"])
}
