package usecase

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/octup/sentinel/internal/domain"
	"github.com/octup/sentinel/internal/observability"
)

// ChanFollowUpQueue is the bounded in-process follow-up buffer. Enqueue never
// blocks the ingest path: a full queue drops the task and the drop is counted.
type ChanFollowUpQueue struct {
	ch chan domain.FollowUpTask
}

// NewFollowUpQueue builds a queue with the given capacity.
func NewFollowUpQueue(size int) *ChanFollowUpQueue {
	if size <= 0 {
		size = 10000
	}
	return &ChanFollowUpQueue{ch: make(chan domain.FollowUpTask, size)}
}

// Enqueue offers the task; false means it was dropped on a full queue.
func (q *ChanFollowUpQueue) Enqueue(task domain.FollowUpTask) bool {
	select {
	case q.ch <- task:
		observability.FollowUpQueueDepth.Set(float64(len(q.ch)))
		return true
	default:
		observability.FollowUpDroppedTotal.Inc()
		slog.Warn("follow-up task dropped, queue full",
			slog.String("kind", string(task.Kind)),
			slog.String("tenant", task.Tenant),
			slog.String("exception_id", task.ExceptionID))
		return false
	}
}

// Dequeue blocks until a task arrives or ctx is done.
func (q *ChanFollowUpQueue) Dequeue(ctx domain.Context) (domain.FollowUpTask, error) {
	select {
	case t := <-q.ch:
		observability.FollowUpQueueDepth.Set(float64(len(q.ch)))
		return t, nil
	case <-ctx.Done():
		return domain.FollowUpTask{}, ctx.Err()
	}
}

// Len returns the number of buffered tasks.
func (q *ChanFollowUpQueue) Len() int { return len(q.ch) }

// FollowUpRunner drains the queue with a fixed worker pool, dispatching each
// task to the owning service. Classification tasks that fail on a transient
// dependency are dead-lettered so replay can finish them.
type FollowUpRunner struct {
	Queue       domain.FollowUpQueue
	Exceptions  *ExceptionService
	Resolution  *ResolutionService
	DLQ         domain.DLQRepository
	Workers     int
	maxAttempts int
}

// NewFollowUpRunner wires the runner; workers <= 0 defaults to 4.
func NewFollowUpRunner(q domain.FollowUpQueue, ex *ExceptionService, res *ResolutionService,
	dlq domain.DLQRepository, workers, dlqMaxAttempts int) *FollowUpRunner {
	if workers <= 0 {
		workers = 4
	}
	if dlqMaxAttempts <= 0 {
		dlqMaxAttempts = 3
	}
	return &FollowUpRunner{
		Queue: q, Exceptions: ex, Resolution: res, DLQ: dlq,
		Workers: workers, maxAttempts: dlqMaxAttempts,
	}
}

// Run blocks until ctx is done; task failures are logged, never fatal.
func (r *FollowUpRunner) Run(ctx domain.Context) {
	var wg sync.WaitGroup
	for i := 0; i < r.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				task, err := r.Queue.Dequeue(ctx)
				if err != nil {
					return
				}
				if err := r.handle(ctx, task); err != nil {
					slog.Warn("follow-up task failed",
						slog.String("kind", string(task.Kind)),
						slog.String("tenant", task.Tenant),
						slog.String("exception_id", task.ExceptionID),
						slog.String("correlation_id", task.CorrelationID),
						slog.Any("error", err))
				}
			}
		}()
	}
	wg.Wait()
}

func (r *FollowUpRunner) handle(ctx domain.Context, task domain.FollowUpTask) error {
	ctx = observability.ContextWithCorrelationID(ctx, task.CorrelationID)
	switch task.Kind {
	case domain.FollowUpClassify:
		_, err := r.Exceptions.Classify(ctx, task.Tenant, task.ExceptionID)
		if err != nil {
			r.deadLetterClassify(ctx, task, err)
		}
		return err
	case domain.FollowUpResolution:
		_, err := r.Resolution.Attempt(ctx, task.Tenant, task.ExceptionID)
		return err
	case domain.FollowUpReview:
		return r.Exceptions.FlagForReview(ctx, task.Tenant, task.ExceptionID)
	default:
		return fmt.Errorf("op=followup.handle: unknown kind %q: %w", task.Kind, domain.ErrInvalidArgument)
	}
}

// deadLetterClassify parks a failed classification so replay can finish it.
// Only transient dependency failures are parked; anything else would fail the
// same way on replay.
func (r *FollowUpRunner) deadLetterClassify(ctx domain.Context, task domain.FollowUpTask, cause error) {
	if r.DLQ == nil || classifyError(cause) != "transient_dependency" {
		return
	}
	payload, err := json.Marshal(aiTask{
		Tenant:        task.Tenant,
		ExceptionID:   task.ExceptionID,
		CorrelationID: task.CorrelationID,
	})
	if err != nil {
		return
	}
	item := domain.DLQItem{
		ID:              ulid.Make().String(),
		Tenant:          task.Tenant,
		Payload:         payload,
		ErrorClass:      classifyError(cause),
		ErrorMessage:    cause.Error(),
		StackTrace:      string(debug.Stack()),
		MaxAttempts:     r.maxAttempts,
		CorrelationID:   task.CorrelationID,
		SourceOperation: domain.OpAIAnalysis,
	}
	if _, err := r.DLQ.Enqueue(ctx, item); err != nil {
		slog.Error("dead-letter enqueue failed",
			slog.String("tenant", task.Tenant),
			slog.String("exception_id", task.ExceptionID),
			slog.Any("error", err))
		return
	}
	observability.DLQEnqueuedTotal.WithLabelValues(domain.OpAIAnalysis).Inc()
	slog.Warn("classification dead-lettered",
		slog.String("tenant", task.Tenant),
		slog.String("exception_id", task.ExceptionID),
		slog.Any("error", cause))
}
