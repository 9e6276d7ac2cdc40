package app

import (
	"context"

	"github.com/redis/go-redis/v9"

	"github.com/octup/sentinel/internal/adapter/repo/postgres"
	"github.com/octup/sentinel/internal/resilience"
)

// RegisterProbes attaches dependency probes to the health checker. Database
// and cache are critical; the AI provider is not, it has a rules fallback.
func RegisterProbes(h *resilience.HealthChecker, pool postgres.PgxPool, rdb *redis.Client, aiProbe resilience.Probe) {
	h.Register(resilience.ServiceDatabase, true, func(ctx context.Context) error {
		_, err := pool.Exec(ctx, "SELECT 1")
		return err
	})
	h.Register(resilience.ServiceRedis, true, func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	})
	if aiProbe != nil {
		h.Register(resilience.ServiceAI, false, aiProbe)
	}
}
