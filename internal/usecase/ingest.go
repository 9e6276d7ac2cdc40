package usecase

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/octup/sentinel/internal/config"
	"github.com/octup/sentinel/internal/domain"
	"github.com/octup/sentinel/internal/observability"
	"github.com/octup/sentinel/internal/sla"
)

// Ingest outcome statuses surfaced to callers.
const (
	IngestAccepted           = "accepted"
	IngestDuplicate          = "duplicate"
	IngestAcceptedWithErrors = "accepted_with_errors"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// EventInput is the wire-level event submitted by a connector.
type EventInput struct {
	EventID    string         `json:"event_id" validate:"required,max=128"`
	OrderID    string         `json:"order_id" validate:"required,max=128"`
	EventType  string         `json:"event_type" validate:"required,max=64"`
	OccurredAt time.Time      `json:"occurred_at" validate:"required"`
	Payload    map[string]any `json:"payload"`
}

// IngestResult reports what happened to one submitted event.
type IngestResult struct {
	EventID      string   `json:"event_id"`
	Status       string   `json:"status"`
	ExceptionIDs []string `json:"exception_ids,omitempty"`
}

// IngestService runs the ingestion pipeline: idempotency, persistence, order
// analysis, SLA evaluation, exception upserts and follow-up scheduling. The
// event itself is never lost: enrichment failures dead-letter and the call
// still reports the event accepted.
type IngestService struct {
	Events     domain.EventRepository
	DLQ        domain.DLQRepository
	Idem       domain.IdempotencyStore
	Policy     domain.PolicyStore
	Exceptions *ExceptionService
	Analyzer   *OrderAnalyzer
	Queue      domain.FollowUpQueue
	Cfg        config.Config
}

// NewIngestService constructs an IngestService.
func NewIngestService(events domain.EventRepository, dlq domain.DLQRepository, idem domain.IdempotencyStore,
	policy domain.PolicyStore, exceptions *ExceptionService, analyzer *OrderAnalyzer,
	queue domain.FollowUpQueue, cfg config.Config) *IngestService {
	return &IngestService{
		Events: events, DLQ: dlq, Idem: idem, Policy: policy,
		Exceptions: exceptions, Analyzer: analyzer, Queue: queue, Cfg: cfg,
	}
}

// IngestEvent processes one event end to end.
func (s *IngestService) IngestEvent(ctx domain.Context, tenant string, source domain.EventSource, in EventInput) (IngestResult, error) {
	if err := s.validateInput(source, in); err != nil {
		return IngestResult{}, err
	}

	// Fast path: already processed. A cache miss or cache failure falls
	// through; the unique index below is the source of truth.
	if done, err := s.Idem.IsProcessed(ctx, tenant, source, in.EventID); err != nil {
		slog.Warn("idempotency check unavailable", slog.Any("error", err))
	} else if done {
		observability.EventsDuplicateTotal.WithLabelValues(tenant, string(source)).Inc()
		return IngestResult{EventID: in.EventID, Status: IngestDuplicate}, nil
	}

	locked, err := s.Idem.AcquireLock(ctx, tenant, source, in.EventID)
	if err != nil {
		slog.Warn("idempotency lock unavailable", slog.Any("error", err))
	} else if !locked {
		// Another worker is processing this exact event right now.
		return IngestResult{EventID: in.EventID, Status: IngestDuplicate}, nil
	}
	if locked {
		defer func() {
			if err := s.Idem.ReleaseLock(ctx, tenant, source, in.EventID); err != nil {
				slog.Warn("idempotency unlock failed", slog.Any("error", err))
			}
		}()
	}

	ev := domain.OrderEvent{
		Tenant:        tenant,
		Source:        source,
		EventType:     in.EventType,
		EventID:       in.EventID,
		OrderID:       in.OrderID,
		OccurredAt:    in.OccurredAt.UTC(),
		Payload:       in.Payload,
		CorrelationID: observability.CorrelationIDFromContext(ctx),
	}
	id, err := s.Events.Insert(ctx, ev)
	if err != nil {
		if isDuplicate(err) {
			observability.EventsDuplicateTotal.WithLabelValues(tenant, string(source)).Inc()
			s.markProcessed(ctx, tenant, source, in.EventID)
			return IngestResult{EventID: in.EventID, Status: IngestDuplicate}, nil
		}
		return IngestResult{}, err
	}
	ev.ID = id
	observability.EventsIngestedTotal.WithLabelValues(tenant, string(source)).Inc()

	res := IngestResult{EventID: in.EventID, Status: IngestAccepted}
	exIDs, enrichErr := s.enrich(ctx, ev)
	res.ExceptionIDs = exIDs
	if enrichErr != nil {
		s.deadLetter(ctx, ev, domain.OpIngestEvent, enrichErr)
		res.Status = IngestAcceptedWithErrors
	}

	s.markProcessed(ctx, tenant, source, in.EventID)
	return res, nil
}

// BatchItemResult is the per-item outcome of a batch submission.
type BatchItemResult struct {
	Index        int      `json:"index"`
	EventID      string   `json:"event_id"`
	Status       string   `json:"status"`
	Error        string   `json:"error,omitempty"`
	ExceptionIDs []string `json:"exception_ids,omitempty"`
}

// BatchResult summarizes a batch submission.
type BatchResult struct {
	Accepted   int               `json:"accepted"`
	Duplicates int               `json:"duplicates"`
	Rejected   int               `json:"rejected"`
	Errors     int               `json:"errors"`
	Items      []BatchItemResult `json:"items"`
}

const maxBatchSize = 1000

// IngestBatch persists a batch in one round trip and fans enrichment out over
// a fixed worker pool. Invalid items are rejected individually; the rest of
// the batch proceeds.
func (s *IngestService) IngestBatch(ctx domain.Context, tenant string, source domain.EventSource, items []EventInput) (BatchResult, error) {
	if len(items) == 0 {
		return BatchResult{}, fmt.Errorf("op=ingest.batch: empty batch: %w", domain.ErrInvalidArgument)
	}
	if len(items) > maxBatchSize {
		return BatchResult{}, fmt.Errorf("op=ingest.batch: %d items exceeds limit %d: %w", len(items), maxBatchSize, domain.ErrInvalidArgument)
	}

	res := BatchResult{Items: make([]BatchItemResult, len(items))}
	correlationID := observability.CorrelationIDFromContext(ctx)

	seen := make(map[string]struct{}, len(items))
	var evs []domain.OrderEvent
	var evIdx []int
	for i, in := range items {
		res.Items[i] = BatchItemResult{Index: i, EventID: in.EventID}
		if err := s.validateInput(source, in); err != nil {
			res.Items[i].Status = "rejected"
			res.Items[i].Error = err.Error()
			res.Rejected++
			continue
		}
		if _, dup := seen[in.EventID]; dup {
			res.Items[i].Status = IngestDuplicate
			res.Duplicates++
			continue
		}
		seen[in.EventID] = struct{}{}
		evs = append(evs, domain.OrderEvent{
			ID:            uuid.New().String(),
			Tenant:        tenant,
			Source:        source,
			EventType:     in.EventType,
			EventID:       in.EventID,
			OrderID:       in.OrderID,
			OccurredAt:    in.OccurredAt.UTC(),
			Payload:       in.Payload,
			CorrelationID: correlationID,
		})
		evIdx = append(evIdx, i)
	}

	if len(evs) == 0 {
		return res, nil
	}

	insertedIDs, err := s.Events.InsertBatch(ctx, evs)
	if err != nil {
		return res, err
	}

	// InsertBatch ignores conflicts and returns only the IDs it wrote; the
	// rest were duplicates of previously stored events.
	wrote := make(map[string]struct{}, len(insertedIDs))
	for _, id := range insertedIDs {
		wrote[id] = struct{}{}
	}
	inserted := make([]domain.OrderEvent, 0, len(insertedIDs))
	insertedItem := make([]int, 0, len(insertedIDs))
	for j := range evs {
		i := evIdx[j]
		if _, ok := wrote[evs[j].ID]; ok {
			inserted = append(inserted, evs[j])
			insertedItem = append(insertedItem, i)
			res.Items[i].Status = IngestAccepted
			res.Accepted++
			observability.EventsIngestedTotal.WithLabelValues(tenant, string(source)).Inc()
		} else {
			res.Items[i].Status = IngestDuplicate
			res.Duplicates++
			observability.EventsDuplicateTotal.WithLabelValues(tenant, string(source)).Inc()
		}
	}

	workers := s.Cfg.BatchWorkers
	if workers <= 0 {
		workers = 8
	}
	work := make(chan int)
	var mu sync.Mutex
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range work {
				exIDs, enrichErr := s.enrich(ctx, inserted[j])
				mu.Lock()
				i := insertedItem[j]
				res.Items[i].ExceptionIDs = exIDs
				if enrichErr != nil {
					res.Items[i].Status = IngestAcceptedWithErrors
					res.Errors++
				}
				mu.Unlock()
				if enrichErr != nil {
					s.deadLetter(ctx, inserted[j], domain.OpIngestEvent, enrichErr)
				}
				s.markProcessed(ctx, tenant, source, inserted[j].EventID)
			}
		}()
	}
	for j := range inserted {
		work <- j
	}
	close(work)
	wg.Wait()

	return res, nil
}

// Reprocess re-runs enrichment for a previously persisted event; the DLQ
// replay worker calls this with the dead-lettered payload.
func (s *IngestService) Reprocess(ctx domain.Context, ev domain.OrderEvent) error {
	_, err := s.enrich(ctx, ev)
	return err
}

// EvaluateOrderSLA re-runs SLA evaluation for one order and upserts any
// resulting exceptions. Evaluation is deterministic; repeated calls converge.
func (s *IngestService) EvaluateOrderSLA(ctx domain.Context, tenant, orderID, correlationID string, rawOrder map[string]any) ([]string, error) {
	events, err := s.Events.ListByOrder(ctx, tenant, orderID)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, nil
	}
	policy, err := s.Policy.SLAPolicy(ctx, tenant)
	if err != nil {
		return nil, err
	}
	recent, err := s.Events.CountRecent(ctx, tenant, time.Hour)
	if err != nil {
		slog.Warn("recent order count unavailable, high-volume multiplier off", slog.Any("error", err))
		recent = 0
	}

	breaches := sla.Evaluate(sla.Input{
		Events:           events,
		Policy:           policy,
		Now:              time.Now().UTC(),
		RecentOrderCount: recent,
	})

	var ids []string
	for _, b := range breaches {
		contextData := map[string]any{
			"breach": map[string]any{
				"actual_minutes": b.ActualMinutes,
				"sla_minutes":    b.SLAMinutes,
				"delay_minutes":  b.DelayMinutes,
				"anchor_event":   b.AnchorEvent,
				"terminal_event": b.TerminalEvent,
			},
		}
		if rawOrder != nil {
			contextData["raw_order"] = rawOrder
		}
		ex, created, err := s.Exceptions.Open(ctx, tenant, orderID, b.ReasonCode, contextData, correlationID)
		if err != nil {
			return ids, err
		}
		if created {
			ids = append(ids, ex.ID)
			s.scheduleFollowUps(ex)
		}
	}
	return ids, nil
}

// enrich runs the post-persist pipeline for one stored event: order analysis
// on the payload, then SLA evaluation over the whole timeline.
func (s *IngestService) enrich(ctx domain.Context, ev domain.OrderEvent) ([]string, error) {
	var ids []string

	if len(ev.Payload) > 0 {
		report := s.Analyzer.Analyze(ctx, ev.Payload)
		if report.HasProblems {
			for _, p := range report.Problems {
				contextData := map[string]any{
					"raw_order": ev.Payload,
					"problem": map[string]any{
						"field":  p.Field,
						"reason": p.Reason,
					},
					"analysis_method": report.AnalysisMethod,
				}
				ex, created, err := s.Exceptions.Open(ctx, ev.Tenant, ev.OrderID, p.Type, contextData, ev.CorrelationID)
				if err != nil {
					return ids, fmt.Errorf("op=ingest.enrich: %w", err)
				}
				if created {
					ids = append(ids, ex.ID)
					s.scheduleFollowUps(ex)
				}
			}
		}
	}

	slaIDs, err := s.EvaluateOrderSLA(ctx, ev.Tenant, ev.OrderID, ev.CorrelationID, ev.Payload)
	ids = append(ids, slaIDs...)
	if err != nil {
		return ids, fmt.Errorf("op=ingest.enrich: %w", err)
	}
	return ids, nil
}

func (s *IngestService) scheduleFollowUps(ex domain.Exception) {
	task := domain.FollowUpTask{
		Tenant:        ex.Tenant,
		ExceptionID:   ex.ID,
		OrderID:       ex.OrderID,
		CorrelationID: ex.CorrelationID,
	}
	task.Kind = domain.FollowUpClassify
	s.Queue.Enqueue(task)
	if s.Policy.ReasonMeta(ex.ReasonCode).AutoResolveEligible {
		task.Kind = domain.FollowUpResolution
		s.Queue.Enqueue(task)
	}
}

func (s *IngestService) validateInput(source domain.EventSource, in EventInput) error {
	if !domain.ValidSource(source) {
		return fmt.Errorf("op=ingest.validate: source %q: %w", source, domain.ErrInvalidArgument)
	}
	if err := validate.Struct(in); err != nil {
		return fmt.Errorf("op=ingest.validate: %v: %w", err, domain.ErrSchemaInvalid)
	}
	if !domain.ValidEventType(source, in.EventType) {
		return fmt.Errorf("op=ingest.validate: event_type %q not valid for source %q: %w",
			in.EventType, source, domain.ErrSchemaInvalid)
	}
	if in.OccurredAt.After(time.Now().Add(5 * time.Minute)) {
		return fmt.Errorf("op=ingest.validate: occurred_at in the future: %w", domain.ErrSchemaInvalid)
	}
	return nil
}

func (s *IngestService) markProcessed(ctx domain.Context, tenant string, source domain.EventSource, eventID string) {
	if err := s.Idem.MarkProcessed(ctx, tenant, source, eventID); err != nil {
		slog.Warn("idempotency marker write failed", slog.Any("error", err))
	}
}

// deadLetter captures a failed enrichment so the event's side effects can be
// replayed later; the event row itself is already durable.
func (s *IngestService) deadLetter(ctx domain.Context, ev domain.OrderEvent, op string, cause error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		slog.Error("dead-letter marshal failed", slog.Any("error", err))
		return
	}
	item := domain.DLQItem{
		ID:              ulid.Make().String(),
		Tenant:          ev.Tenant,
		Payload:         payload,
		ErrorClass:      classifyError(cause),
		ErrorMessage:    cause.Error(),
		StackTrace:      string(debug.Stack()),
		MaxAttempts:     s.Cfg.DLQMaxAttempts,
		CorrelationID:   ev.CorrelationID,
		SourceOperation: op,
	}
	if _, err := s.DLQ.Enqueue(ctx, item); err != nil {
		slog.Error("dead-letter enqueue failed",
			slog.String("tenant", ev.Tenant),
			slog.String("event_id", ev.EventID),
			slog.Any("error", err))
		return
	}
	observability.DLQEnqueuedTotal.WithLabelValues(op).Inc()
	slog.Warn("enrichment dead-lettered",
		slog.String("tenant", ev.Tenant),
		slog.String("event_id", ev.EventID),
		slog.String("source_operation", op),
		slog.Any("error", cause))
}

func isDuplicate(err error) bool {
	return err != nil && errors.Is(err, domain.ErrDuplicate)
}

func classifyError(err error) string {
	switch {
	case errors.Is(err, domain.ErrCircuitOpen), errors.Is(err, domain.ErrUpstreamTimeout), errors.Is(err, domain.ErrRateLimited):
		return "transient_dependency"
	case errors.Is(err, domain.ErrInvalidArgument), errors.Is(err, domain.ErrSchemaInvalid):
		return "validation"
	default:
		return "internal"
	}
}
