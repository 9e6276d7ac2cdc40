package resilience

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/octup/sentinel/internal/domain"
)

func fastRetry(maxRetries int) RetryConfig {
	return RetryConfig{
		MaxRetries:      maxRetries,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
		Multiplier:      2.0,
	}
}

func TestRetry_SucceedsAfterTransientFailures(t *testing.T) {
	t.Parallel()
	attempts := 0
	err := Retry(context.Background(), fastRetry(2), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetry_ExhaustsBudget(t *testing.T) {
	t.Parallel()
	attempts := 0
	boom := errors.New("still broken")
	err := Retry(context.Background(), fastRetry(2), func() error {
		attempts++
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 3, attempts, "initial attempt plus MaxRetries")
}

func TestRetry_PermanentErrorNotRetried(t *testing.T) {
	t.Parallel()
	for _, sentinel := range []error{
		domain.ErrInvalidArgument,
		domain.ErrSchemaInvalid,
		domain.ErrNotFound,
		domain.ErrConflict,
		domain.ErrDuplicate,
		domain.ErrCircuitOpen,
	} {
		attempts := 0
		err := Retry(context.Background(), fastRetry(3), func() error {
			attempts++
			return fmt.Errorf("op=test: %w", sentinel)
		})
		require.ErrorIs(t, err, sentinel)
		assert.Equal(t, 1, attempts, "%v must be permanent", sentinel)
	}
}

func TestRetry_RateLimitedIsRetried(t *testing.T) {
	t.Parallel()
	attempts := 0
	err := Retry(context.Background(), fastRetry(1), func() error {
		attempts++
		return fmt.Errorf("op=test: %w", domain.ErrRateLimited)
	})
	require.ErrorIs(t, err, domain.ErrRateLimited)
	assert.Equal(t, 2, attempts)
}

func TestRetry_CustomRetryable(t *testing.T) {
	t.Parallel()
	cfg := fastRetry(3)
	cfg.Retryable = func(error) bool { return false }
	attempts := 0
	_ = Retry(context.Background(), cfg, func() error {
		attempts++
		return errors.New("whatever")
	})
	assert.Equal(t, 1, attempts)
}

func TestRetry_ContextCancellation(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	err := Retry(ctx, fastRetry(100), func() error {
		attempts++
		if attempts == 1 {
			cancel()
		}
		return errors.New("transient")
	})
	require.Error(t, err)
	assert.LessOrEqual(t, attempts, 2, "cancellation stops the retry loop")
}
