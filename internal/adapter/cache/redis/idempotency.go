// Package redis implements the idempotency store on Redis: processed-event
// markers with a 24h TTL and short-TTL exclusive locks for in-flight work.
package redis

import (
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/octup/sentinel/internal/domain"
)

// IdempotencyStore records processed (tenant, source, event_id) triples and
// exclusive in-flight locks.
type IdempotencyStore struct {
	rdb     *redis.Client
	ttl     time.Duration
	lockTTL time.Duration
}

// NewIdempotencyStore wraps the client with the given marker and lock TTLs.
func NewIdempotencyStore(rdb *redis.Client, ttl, lockTTL time.Duration) *IdempotencyStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if lockTTL <= 0 {
		lockTTL = 5 * time.Second
	}
	return &IdempotencyStore{rdb: rdb, ttl: ttl, lockTTL: lockTTL}
}

func markerKey(tenant string, source domain.EventSource, eventID string) string {
	return fmt.Sprintf("idem:%s:%s:%s", tenant, source, eventID)
}

func lockKey(tenant string, source domain.EventSource, eventID string) string {
	return fmt.Sprintf("lock:idem:%s:%s:%s", tenant, source, eventID)
}

// AcquireLock takes the short-TTL exclusive lock; false means another worker
// is processing the same event.
func (s *IdempotencyStore) AcquireLock(ctx domain.Context, tenant string, source domain.EventSource, eventID string) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, lockKey(tenant, source, eventID), "1", s.lockTTL).Result()
	if err != nil {
		return false, fmt.Errorf("op=idem.acquire_lock: %w", err)
	}
	return ok, nil
}

// ReleaseLock frees the in-flight lock; expiry would free it anyway.
func (s *IdempotencyStore) ReleaseLock(ctx domain.Context, tenant string, source domain.EventSource, eventID string) error {
	if err := s.rdb.Del(ctx, lockKey(tenant, source, eventID)).Err(); err != nil {
		return fmt.Errorf("op=idem.release_lock: %w", err)
	}
	return nil
}

// IsProcessed reports whether the processed-marker exists.
func (s *IdempotencyStore) IsProcessed(ctx domain.Context, tenant string, source domain.EventSource, eventID string) (bool, error) {
	n, err := s.rdb.Exists(ctx, markerKey(tenant, source, eventID)).Result()
	if err != nil {
		return false, fmt.Errorf("op=idem.is_processed: %w", err)
	}
	return n > 0, nil
}

// MarkProcessed writes the processed-marker with the configured TTL.
func (s *IdempotencyStore) MarkProcessed(ctx domain.Context, tenant string, source domain.EventSource, eventID string) error {
	if err := s.rdb.Set(ctx, markerKey(tenant, source, eventID), "1", s.ttl).Err(); err != nil {
		return fmt.Errorf("op=idem.mark_processed: %w", err)
	}
	return nil
}
