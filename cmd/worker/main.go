// Command worker runs the background loops: DLQ replay, DLQ cleanup and a
// minimal operational HTTP surface (health and metrics).
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"

	"github.com/octup/sentinel/internal/adapter/actions"
	"github.com/octup/sentinel/internal/adapter/ai"
	rediscache "github.com/octup/sentinel/internal/adapter/cache/redis"
	"github.com/octup/sentinel/internal/adapter/repo/postgres"
	"github.com/octup/sentinel/internal/app"
	"github.com/octup/sentinel/internal/config"
	"github.com/octup/sentinel/internal/observability"
	"github.com/octup/sentinel/internal/policy"
	"github.com/octup/sentinel/internal/resilience"
	"github.com/octup/sentinel/internal/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)
	observability.InitMetrics()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("db connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisOpts, err := goredis.ParseURL(cfg.RedisURL)
	if err != nil {
		slog.Error("redis url invalid", slog.Any("error", err))
		os.Exit(1)
	}
	rdb := goredis.NewClient(redisOpts)
	defer func() { _ = rdb.Close() }()

	eventRepo := postgres.NewEventRepo(pool)
	exceptionRepo := postgres.NewExceptionRepo(pool)
	dlqRepo := postgres.NewDLQRepo(pool)
	tenantRepo := postgres.NewTenantRepo(pool)

	policyStore, err := policy.NewStore(tenantRepo, 5*time.Minute)
	if err != nil {
		slog.Error("policy catalog failed", slog.Any("error", err))
		os.Exit(1)
	}

	breakers := resilience.NewRegistry(cfg.BreakerFailureThreshold, cfg.BreakerRecoveryTimeout)
	aiClient := ai.New(cfg, breakers)
	idem := rediscache.NewIdempotencyStore(rdb, cfg.IdempotencyTTL, cfg.IdempotencyLockTTL)
	queue := usecase.NewFollowUpQueue(cfg.FollowUpQueueSize)

	exceptionSvc := usecase.NewExceptionService(exceptionRepo, aiClient, policyStore, cfg)
	analyzer := usecase.NewOrderAnalyzer(aiClient, cfg)
	executor := actions.NewGatewayExecutor(cfg)
	resolutionSvc := usecase.NewResolutionService(exceptionRepo, aiClient, executor, queue, cfg)
	ingestSvc := usecase.NewIngestService(eventRepo, dlqRepo, idem, policyStore, exceptionSvc, analyzer, queue, cfg)
	replaySvc := usecase.NewReplayService(dlqRepo, ingestSvc, exceptionSvc, cfg)

	runner := usecase.NewFollowUpRunner(queue, exceptionSvc, resolutionSvc, dlqRepo, cfg.FollowUpWorkers, cfg.DLQMaxAttempts)
	go runner.Run(ctx)
	go replaySvc.RunReplayLoop(ctx)
	go replaySvc.RunCleanupLoop(ctx)

	health := resilience.NewHealthChecker(5*time.Second, breakers)
	app.RegisterProbes(health, pool, rdb, nil)

	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Get("/readyz", func(w http.ResponseWriter, req *http.Request) {
		if !health.Overall(req.Context()) {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	srvHTTP := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("worker ops server starting", slog.Int("port", cfg.Port))
		errCh <- srvHTTP.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("worker ops server error", slog.Any("error", err))
		}
	}

	stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	_ = srvHTTP.Shutdown(shutdownCtx)
}
