package resilience

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// SlidingWindowLimiter rejects a key's (N+1)-th request within the window.
// State is process-local; multi-process deployments tolerate independent
// windows per instance.
type SlidingWindowLimiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	now    func() time.Time
	hits   map[string][]time.Time
}

// NewSlidingWindowLimiter creates a limiter allowing limit requests per key
// within window.
func NewSlidingWindowLimiter(limit int, window time.Duration) *SlidingWindowLimiter {
	return &SlidingWindowLimiter{
		limit:  limit,
		window: window,
		now:    time.Now,
		hits:   make(map[string][]time.Time),
	}
}

// Allow records an attempt for key and reports whether it is admitted.
func (l *SlidingWindowLimiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)
	recent := l.hits[key][:0]
	for _, t := range l.hits[key] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}
	if len(recent) >= l.limit {
		l.hits[key] = recent
		return false
	}
	l.hits[key] = append(recent, now)
	return true
}

// TokenBucket wraps x/time/rate for burst-tolerant limiting, used by the DLQ
// replay worker (default 5/s).
type TokenBucket struct {
	limiter *rate.Limiter
}

// NewTokenBucket creates a bucket refilling at perSecond with the given burst.
func NewTokenBucket(perSecond float64, burst int) *TokenBucket {
	if burst <= 0 {
		burst = 1
	}
	return &TokenBucket{limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

// Wait blocks until a token is available or the context is done.
func (b *TokenBucket) Wait(ctx context.Context) error { return b.limiter.Wait(ctx) }

// Allow reports whether a token is immediately available.
func (b *TokenBucket) Allow() bool { return b.limiter.Allow() }
