package ai

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/octup/sentinel/internal/domain"
)

func TestBudget_ReserveWithinLimit(t *testing.T) {
	t.Parallel()
	b := NewBudget(100, "gpt-4o-mini")
	require.NoError(t, b.Reserve(60))
	require.NoError(t, b.Reserve(40))
	assert.Equal(t, int64(100), b.Used())
}

func TestBudget_ReserveRejectsOverLimit(t *testing.T) {
	t.Parallel()
	b := NewBudget(100, "gpt-4o-mini")
	require.NoError(t, b.Reserve(90))

	err := b.Reserve(20)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrRateLimited)
	assert.Equal(t, int64(90), b.Used(), "rejected reservation must not consume budget")
}

func TestBudget_ResetsOnUTCDayChange(t *testing.T) {
	t.Parallel()
	b := NewBudget(100, "gpt-4o-mini")
	now := time.Date(2026, 1, 1, 23, 50, 0, 0, time.UTC)
	b.now = func() time.Time { return now }

	require.NoError(t, b.Reserve(100))
	require.Error(t, b.Reserve(1))

	now = now.Add(time.Hour) // crosses midnight UTC
	assert.Equal(t, int64(0), b.Used())
	assert.NoError(t, b.Reserve(100))
}

func TestBudget_ChargeAddsCompletionTokens(t *testing.T) {
	t.Parallel()
	b := NewBudget(1000, "gpt-4o-mini")
	require.NoError(t, b.Reserve(100))
	b.Charge(50)
	assert.Equal(t, int64(150), b.Used())
	b.Charge(-5)
	assert.Equal(t, int64(150), b.Used())
}

func TestBudget_DisabledWhenLimitZero(t *testing.T) {
	t.Parallel()
	b := NewBudget(0, "gpt-4o-mini")
	assert.NoError(t, b.Reserve(1 << 30))
}
