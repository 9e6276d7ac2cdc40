package resilience

import (
	"errors"
	"time"

	backoff "github.com/cenkalti/backoff/v4"

	"github.com/octup/sentinel/internal/domain"
)

// RetryConfig tunes the retry decorator.
type RetryConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	// Retryable classifies errors; nil means DefaultRetryable.
	Retryable func(error) bool
}

// DefaultRetryConfig mirrors the transient-dependency policy: two retries,
// exponential backoff factor 2 with full jitter (backoff/v4 randomizes).
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      2,
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		Multiplier:      2.0,
	}
}

// DefaultRetryable treats validation, duplicate and business-rule errors as
// permanent; everything else (timeouts, resets, 5xx) is retried.
func DefaultRetryable(err error) bool {
	switch {
	case errors.Is(err, domain.ErrInvalidArgument),
		errors.Is(err, domain.ErrSchemaInvalid),
		errors.Is(err, domain.ErrNotFound),
		errors.Is(err, domain.ErrConflict),
		errors.Is(err, domain.ErrDuplicate),
		errors.Is(err, domain.ErrForbidden),
		errors.Is(err, domain.ErrUnauthorized),
		errors.Is(err, domain.ErrCircuitOpen):
		return false
	}
	return true
}

// Retry runs op with exponential backoff per cfg, honoring ctx cancellation.
func Retry(ctx domain.Context, cfg RetryConfig, op func() error) error {
	retryable := cfg.Retryable
	if retryable == nil {
		retryable = DefaultRetryable
	}
	wrapped := func() error {
		err := op()
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = cfg.InitialInterval
	expo.MaxInterval = cfg.MaxInterval
	expo.Multiplier = cfg.Multiplier
	expo.MaxElapsedTime = 0 // bounded by retry count, not wall clock

	bo := backoff.WithContext(backoff.WithMaxRetries(expo, uint64(cfg.MaxRetries)), ctx)
	return backoff.Retry(wrapped, bo)
}
