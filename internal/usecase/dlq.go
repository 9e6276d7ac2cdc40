package usecase

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/octup/sentinel/internal/config"
	"github.com/octup/sentinel/internal/domain"
	"github.com/octup/sentinel/internal/observability"
	"github.com/octup/sentinel/internal/resilience"
)

// ReplayReport summarizes one replay pass.
type ReplayReport struct {
	Fetched   int `json:"fetched"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// slaTask is the payload shape for dead-lettered SLA evaluations.
type slaTask struct {
	Tenant        string `json:"tenant"`
	OrderID       string `json:"order_id"`
	CorrelationID string `json:"correlation_id"`
}

// aiTask is the payload shape for dead-lettered classification work.
type aiTask struct {
	Tenant        string `json:"tenant"`
	ExceptionID   string `json:"exception_id"`
	CorrelationID string `json:"correlation_id"`
}

// ReplayService drains the dead-letter queue at a bounded rate, dispatching
// each item to the handler for its source operation.
type ReplayService struct {
	DLQ        domain.DLQRepository
	Ingest     *IngestService
	Exceptions *ExceptionService
	Limiter    *resilience.TokenBucket
	Cfg        config.Config
}

// NewReplayService constructs a ReplayService; the token bucket bounds replay
// throughput so a backlog cannot starve live traffic.
func NewReplayService(dlq domain.DLQRepository, ingest *IngestService, exceptions *ExceptionService, cfg config.Config) *ReplayService {
	rate := cfg.DLQReplayRate
	if rate <= 0 {
		rate = 5
	}
	return &ReplayService{
		DLQ:        dlq,
		Ingest:     ingest,
		Exceptions: exceptions,
		Limiter:    resilience.NewTokenBucket(rate, int(rate)),
		Cfg:        cfg,
	}
}

// Replay processes up to limit due items, optionally scoped to one tenant.
func (s *ReplayService) Replay(ctx domain.Context, tenant string, limit int) (ReplayReport, error) {
	if limit <= 0 || limit > s.Cfg.DLQReplayLimit {
		limit = s.Cfg.DLQReplayLimit
	}
	items, err := s.DLQ.FetchDue(ctx, tenant, limit)
	if err != nil {
		return ReplayReport{}, err
	}

	report := ReplayReport{Fetched: len(items)}
	for _, item := range items {
		if err := s.Limiter.Wait(ctx); err != nil {
			return report, err
		}
		if err := s.replayOne(ctx, item); err != nil {
			report.Failed++
			if markErr := s.DLQ.MarkFailedAttempt(ctx, item.ID, err.Error()); markErr != nil {
				slog.Error("dlq bookkeeping failed", slog.String("item_id", item.ID), slog.Any("error", markErr))
			}
			slog.Warn("dlq replay failed",
				slog.String("item_id", item.ID),
				slog.String("tenant", item.Tenant),
				slog.String("source_operation", item.SourceOperation),
				slog.Int("attempts", item.Attempts+1),
				slog.Any("error", err))
			continue
		}
		report.Succeeded++
		if err := s.DLQ.MarkProcessed(ctx, item.ID); err != nil {
			slog.Error("dlq bookkeeping failed", slog.String("item_id", item.ID), slog.Any("error", err))
		}
	}

	s.updateDepthGauge(ctx)
	return report, nil
}

func (s *ReplayService) replayOne(ctx domain.Context, item domain.DLQItem) error {
	ctx = observability.ContextWithCorrelationID(ctx, item.CorrelationID)
	switch item.SourceOperation {
	case domain.OpIngestEvent:
		var ev domain.OrderEvent
		if err := json.Unmarshal(item.Payload, &ev); err != nil {
			return fmt.Errorf("op=dlq.replay: decode event: %w: %v", domain.ErrInvalidArgument, err)
		}
		return s.Ingest.Reprocess(ctx, ev)
	case domain.OpSLAEvaluation:
		var t slaTask
		if err := json.Unmarshal(item.Payload, &t); err != nil {
			return fmt.Errorf("op=dlq.replay: decode sla task: %w: %v", domain.ErrInvalidArgument, err)
		}
		_, err := s.Ingest.EvaluateOrderSLA(ctx, t.Tenant, t.OrderID, t.CorrelationID, nil)
		return err
	case domain.OpAIAnalysis:
		var t aiTask
		if err := json.Unmarshal(item.Payload, &t); err != nil {
			return fmt.Errorf("op=dlq.replay: decode ai task: %w: %v", domain.ErrInvalidArgument, err)
		}
		_, err := s.Exceptions.Classify(ctx, t.Tenant, t.ExceptionID)
		return err
	default:
		return fmt.Errorf("op=dlq.replay: unknown source operation %q: %w", item.SourceOperation, domain.ErrInvalidArgument)
	}
}

// Stats returns dead-letter counts for operators.
func (s *ReplayService) Stats(ctx domain.Context, tenant string) (domain.DLQStats, error) {
	return s.DLQ.Stats(ctx, tenant)
}

// Cleanup hard-deletes terminal items older than the retention window.
func (s *ReplayService) Cleanup(ctx domain.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		olderThan = time.Duration(s.Cfg.DLQRetentionDays) * 24 * time.Hour
	}
	n, err := s.DLQ.Cleanup(ctx, olderThan)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		slog.Info("dlq cleanup removed items", slog.Int64("removed", n))
	}
	return n, nil
}

// RunReplayLoop replays due items on a fixed interval until ctx is done.
func (s *ReplayService) RunReplayLoop(ctx domain.Context) {
	interval := s.Cfg.DLQReplayInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Replay(ctx, "", s.Cfg.DLQReplayLimit); err != nil {
				slog.Warn("scheduled dlq replay failed", slog.Any("error", err))
			}
		}
	}
}

// RunCleanupLoop prunes terminal items on a fixed interval until ctx is done.
func (s *ReplayService) RunCleanupLoop(ctx domain.Context) {
	interval := s.Cfg.DLQCleanupInterval
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Cleanup(ctx, 0); err != nil {
				slog.Warn("scheduled dlq cleanup failed", slog.Any("error", err))
			}
		}
	}
}

func (s *ReplayService) updateDepthGauge(ctx domain.Context) {
	stats, err := s.DLQ.Stats(ctx, "")
	if err != nil {
		return
	}
	observability.DLQDepth.Set(float64(stats.Pending))
}
