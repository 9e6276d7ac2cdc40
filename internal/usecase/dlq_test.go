package usecase_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/octup/sentinel/internal/domain"
	"github.com/octup/sentinel/internal/usecase"
)

type replayFixture struct {
	*ingestFixture
	replay *usecase.ReplayService
}

func newReplayFixture(t *testing.T) *replayFixture {
	t.Helper()
	base := newIngestFixture(t)
	cfg := testConfig()
	cfg.DLQReplayRate = 1000 // rate limiting is not under test here
	exceptions := usecase.NewExceptionService(base.exRepo, &fakeAIClient{}, base.policy, cfg)
	return &replayFixture{
		ingestFixture: base,
		replay:        usecase.NewReplayService(base.dlq, base.svc, exceptions, cfg),
	}
}

func enqueueItem(t *testing.T, dlq *fakeDLQRepo, id, op string, payload any) {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	_, err = dlq.Enqueue(context.Background(), domain.DLQItem{
		ID:              id,
		Tenant:          "t1",
		Payload:         raw,
		MaxAttempts:     1,
		SourceOperation: op,
	})
	require.NoError(t, err)
}

func TestReplay_IngestEventItem(t *testing.T) {
	t.Parallel()
	f := newReplayFixture(t)
	enqueueItem(t, f.dlq, "d1", domain.OpIngestEvent, domain.OrderEvent{
		Tenant:  "t1",
		OrderID: "o1",
		EventID: "e1",
		Payload: map[string]any{"financial_status": "failed"},
	})

	report, err := f.replay.Replay(context.Background(), "t1", 10)
	require.NoError(t, err)
	assert.Equal(t, usecase.ReplayReport{Fetched: 1, Succeeded: 1}, report)
	assert.Equal(t, []string{"d1"}, f.dlq.processed)

	// Re-running enrichment opened the exception the original pass lost.
	exs, _, err := f.exRepo.List(context.Background(), "t1", domain.ExceptionFilter{})
	require.NoError(t, err)
	require.Len(t, exs, 1)
	assert.Equal(t, domain.ReasonPaymentFailed, exs[0].ReasonCode)
}

func TestReplay_SLAEvaluationItem(t *testing.T) {
	t.Parallel()
	f := newReplayFixture(t)
	f.policy.sla = domain.SLAPolicy{Rules: []domain.SLARule{{
		Reason:      domain.ReasonPickDelay,
		AnchorEvent: "order_paid", TerminalEvent: "pick_completed",
		ThresholdMinutes: 60,
	}}}
	_, err := f.events.Insert(context.Background(), domain.OrderEvent{
		Tenant: "t1", Source: domain.SourceShopify, EventType: "order_paid",
		EventID: "e1", OrderID: "o1",
		OccurredAt: time.Now().UTC().Add(-2 * time.Hour),
	})
	require.NoError(t, err)
	enqueueItem(t, f.dlq, "d1", domain.OpSLAEvaluation,
		map[string]string{"tenant": "t1", "order_id": "o1", "correlation_id": "corr-1"})

	report, err := f.replay.Replay(context.Background(), "t1", 10)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Succeeded)

	exs, _, err := f.exRepo.List(context.Background(), "t1", domain.ExceptionFilter{})
	require.NoError(t, err)
	require.Len(t, exs, 1)
	assert.Equal(t, domain.ReasonPickDelay, exs[0].ReasonCode)
}

func TestReplay_AIAnalysisItem(t *testing.T) {
	t.Parallel()
	f := newReplayFixture(t)
	ex := openException(t, f.exRepo, "t1", "o1", domain.ReasonPickDelay)
	enqueueItem(t, f.dlq, "d1", domain.OpAIAnalysis,
		map[string]string{"tenant": "t1", "exception_id": ex.ID, "correlation_id": "corr-1"})

	report, err := f.replay.Replay(context.Background(), "t1", 10)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Succeeded)
	assert.NotEmpty(t, f.exRepo.get(ex.ID).AILabel, "the replayed classification stuck")
}

func TestReplay_UnknownOperationFails(t *testing.T) {
	t.Parallel()
	f := newReplayFixture(t)
	enqueueItem(t, f.dlq, "d1", "launch_missiles", map[string]string{})

	report, err := f.replay.Replay(context.Background(), "t1", 10)
	require.NoError(t, err)
	assert.Equal(t, usecase.ReplayReport{Fetched: 1, Failed: 1}, report)
	assert.Equal(t, []string{"d1"}, f.dlq.failed)

	// MaxAttempts 1 means the single failure is terminal.
	stats, err := f.replay.Stats(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)
	assert.Zero(t, stats.Pending)
}

func TestReplay_MalformedPayloadFails(t *testing.T) {
	t.Parallel()
	f := newReplayFixture(t)
	_, err := f.dlq.Enqueue(context.Background(), domain.DLQItem{
		ID: "d1", Tenant: "t1", Payload: []byte("{not json"),
		MaxAttempts: 1, SourceOperation: domain.OpIngestEvent,
	})
	require.NoError(t, err)

	report, err := f.replay.Replay(context.Background(), "t1", 10)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
}

func TestReplay_MixedBatchCounts(t *testing.T) {
	t.Parallel()
	f := newReplayFixture(t)
	enqueueItem(t, f.dlq, "d1", domain.OpIngestEvent, domain.OrderEvent{
		Tenant: "t1", OrderID: "o1", EventID: "e1",
	})
	enqueueItem(t, f.dlq, "d2", "bogus", map[string]string{})

	report, err := f.replay.Replay(context.Background(), "t1", 10)
	require.NoError(t, err)
	assert.Equal(t, usecase.ReplayReport{Fetched: 2, Succeeded: 1, Failed: 1}, report)
}

func TestReplay_HonorsLimit(t *testing.T) {
	t.Parallel()
	f := newReplayFixture(t)
	for _, id := range []string{"d1", "d2", "d3"} {
		enqueueItem(t, f.dlq, id, domain.OpIngestEvent, domain.OrderEvent{
			Tenant: "t1", OrderID: "o-" + id, EventID: "e-" + id,
		})
	}

	report, err := f.replay.Replay(context.Background(), "t1", 1)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Fetched)
}

func TestReplay_CleanupRemovesTerminalItems(t *testing.T) {
	t.Parallel()
	f := newReplayFixture(t)
	ctx := context.Background()
	enqueueItem(t, f.dlq, "d1", "bogus", map[string]string{})
	enqueueItem(t, f.dlq, "d2", domain.OpIngestEvent, domain.OrderEvent{Tenant: "t1", OrderID: "o1", EventID: "e1"})

	_, err := f.replay.Replay(ctx, "t1", 10)
	require.NoError(t, err)
	require.Equal(t, 2, f.dlq.len())

	removed, err := f.replay.Cleanup(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed, "both terminal items are pruned")
	assert.Zero(t, f.dlq.len())
}
