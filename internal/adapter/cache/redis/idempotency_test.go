package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rediscache "github.com/octup/sentinel/internal/adapter/cache/redis"
	"github.com/octup/sentinel/internal/domain"
)

func newStore(t *testing.T) (*rediscache.IdempotencyStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rediscache.NewIdempotencyStore(rdb, time.Hour, 10*time.Second), mr
}

func TestIdempotency_MarkerLifecycle(t *testing.T) {
	t.Parallel()
	store, _ := newStore(t)
	ctx := context.Background()

	done, err := store.IsProcessed(ctx, "t1", domain.SourceShopify, "e1")
	require.NoError(t, err)
	assert.False(t, done)

	require.NoError(t, store.MarkProcessed(ctx, "t1", domain.SourceShopify, "e1"))

	done, err = store.IsProcessed(ctx, "t1", domain.SourceShopify, "e1")
	require.NoError(t, err)
	assert.True(t, done)

	// Markers are scoped to the (tenant, source, event_id) triple.
	done, err = store.IsProcessed(ctx, "t2", domain.SourceShopify, "e1")
	require.NoError(t, err)
	assert.False(t, done)
	done, err = store.IsProcessed(ctx, "t1", domain.SourceWMS, "e1")
	require.NoError(t, err)
	assert.False(t, done)
}

func TestIdempotency_MarkerExpires(t *testing.T) {
	t.Parallel()
	store, mr := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.MarkProcessed(ctx, "t1", domain.SourceShopify, "e1"))
	mr.FastForward(2 * time.Hour)

	done, err := store.IsProcessed(ctx, "t1", domain.SourceShopify, "e1")
	require.NoError(t, err)
	assert.False(t, done, "markers carry the configured TTL")
}

func TestIdempotency_LockExclusivity(t *testing.T) {
	t.Parallel()
	store, _ := newStore(t)
	ctx := context.Background()

	ok, err := store.AcquireLock(ctx, "t1", domain.SourceShopify, "e1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.AcquireLock(ctx, "t1", domain.SourceShopify, "e1")
	require.NoError(t, err)
	assert.False(t, ok, "the lock is exclusive while held")

	// A different event is an independent lock.
	ok, err = store.AcquireLock(ctx, "t1", domain.SourceShopify, "e2")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, store.ReleaseLock(ctx, "t1", domain.SourceShopify, "e1"))
	ok, err = store.AcquireLock(ctx, "t1", domain.SourceShopify, "e1")
	require.NoError(t, err)
	assert.True(t, ok, "release frees the lock immediately")
}

func TestIdempotency_LockExpiresOnCrash(t *testing.T) {
	t.Parallel()
	store, mr := newStore(t)
	ctx := context.Background()

	ok, err := store.AcquireLock(ctx, "t1", domain.SourceShopify, "e1")
	require.NoError(t, err)
	require.True(t, ok)

	// A holder that never releases is covered by the lock TTL.
	mr.FastForward(11 * time.Second)
	ok, err = store.AcquireLock(ctx, "t1", domain.SourceShopify, "e1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestIdempotency_RedisDownSurfacesError(t *testing.T) {
	t.Parallel()
	store, mr := newStore(t)
	mr.Close()

	_, err := store.IsProcessed(context.Background(), "t1", domain.SourceShopify, "e1")
	assert.Error(t, err)
}
