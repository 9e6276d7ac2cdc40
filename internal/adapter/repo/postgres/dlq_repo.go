package postgres

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"

	"github.com/octup/sentinel/internal/domain"
)

// DLQRepo stores failed work items and their retry bookkeeping.
type DLQRepo struct{ Pool PgxPool }

// NewDLQRepo constructs a DLQRepo with the given pool.
func NewDLQRepo(p PgxPool) *DLQRepo { return &DLQRepo{Pool: p} }

const dlqCols = `id, tenant, payload, error_class, error_message, stack_trace, attempts, max_attempts,
	next_retry_at, status, correlation_id, source_operation, created_at, updated_at`

// Enqueue writes a new PENDING item. NextRetryAt defaults to now+5m when the
// caller leaves it zero.
func (r *DLQRepo) Enqueue(ctx domain.Context, item domain.DLQItem) (string, error) {
	tracer := otel.Tracer("repo.dlq")
	ctx, span := tracer.Start(ctx, "dlq.Enqueue")
	defer span.End()

	id := item.ID
	if id == "" {
		id = uuid.New().String()
	}
	next := item.NextRetryAt
	if next.IsZero() {
		next = time.Now().UTC().Add(domain.NextRetryDelay(0))
	}
	maxAttempts := item.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	now := time.Now().UTC()
	q := `INSERT INTO dlq (id, tenant, payload, error_class, error_message, stack_trace, attempts,
	        max_attempts, next_retry_at, status, correlation_id, source_operation, created_at, updated_at)
	      VALUES ($1,$2,$3,$4,$5,$6,0,$7,$8,'PENDING',$9,$10,$11,$11)`
	_, err := r.Pool.Exec(ctx, q, id, item.Tenant, item.Payload, item.ErrorClass, item.ErrorMessage,
		item.StackTrace, maxAttempts, next, item.CorrelationID, item.SourceOperation, now)
	if err != nil {
		return "", fmt.Errorf("op=dlq.enqueue: %w", err)
	}
	return id, nil
}

// FetchDue returns up to limit PENDING items whose next_retry_at has passed,
// oldest first, optionally filtered by tenant.
func (r *DLQRepo) FetchDue(ctx domain.Context, tenant string, limit int) ([]domain.DLQItem, error) {
	tracer := otel.Tracer("repo.dlq")
	ctx, span := tracer.Start(ctx, "dlq.FetchDue")
	defer span.End()

	if limit <= 0 {
		limit = 50
	}
	q := `SELECT ` + dlqCols + ` FROM dlq
	      WHERE status='PENDING' AND next_retry_at <= now() AND ($1 = '' OR tenant = $1)
	      ORDER BY next_retry_at ASC LIMIT $2`
	rows, err := r.Pool.Query(ctx, q, tenant, limit)
	if err != nil {
		return nil, fmt.Errorf("op=dlq.fetch_due: %w", err)
	}
	defer rows.Close()

	var out []domain.DLQItem
	for rows.Next() {
		var it domain.DLQItem
		if err := rows.Scan(&it.ID, &it.Tenant, &it.Payload, &it.ErrorClass, &it.ErrorMessage,
			&it.StackTrace, &it.Attempts, &it.MaxAttempts, &it.NextRetryAt, &it.Status,
			&it.CorrelationID, &it.SourceOperation, &it.CreatedAt, &it.UpdatedAt); err != nil {
			return nil, fmt.Errorf("op=dlq.fetch_due: %w", err)
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// MarkProcessed finishes an item successfully.
func (r *DLQRepo) MarkProcessed(ctx domain.Context, id string) error {
	tracer := otel.Tracer("repo.dlq")
	ctx, span := tracer.Start(ctx, "dlq.MarkProcessed")
	defer span.End()

	q := `UPDATE dlq SET status='PROCESSED', updated_at=now() WHERE id=$1`
	tag, err := r.Pool.Exec(ctx, q, id)
	if err != nil {
		return fmt.Errorf("op=dlq.mark_processed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=dlq.mark_processed: %w", domain.ErrNotFound)
	}
	return nil
}

// MarkFailedAttempt increments attempts, schedules the next retry with
// min(5*2^attempts, 60) minutes of backoff, and flips to FAILED once the
// budget is exhausted.
func (r *DLQRepo) MarkFailedAttempt(ctx domain.Context, id string, errMsg string) error {
	tracer := otel.Tracer("repo.dlq")
	ctx, span := tracer.Start(ctx, "dlq.MarkFailedAttempt")
	defer span.End()

	q := `SELECT attempts, max_attempts FROM dlq WHERE id=$1`
	var attempts, maxAttempts int
	if err := r.Pool.QueryRow(ctx, q, id).Scan(&attempts, &maxAttempts); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("op=dlq.mark_failed: %w", domain.ErrNotFound)
		}
		return fmt.Errorf("op=dlq.mark_failed: %w", err)
	}

	attempts++
	status := domain.DLQPending
	if attempts >= maxAttempts {
		status = domain.DLQFailed
	}
	next := time.Now().UTC().Add(domain.NextRetryDelay(attempts))
	uq := `UPDATE dlq SET attempts=$2, status=$3, next_retry_at=$4, error_message=$5, updated_at=now() WHERE id=$1`
	if _, err := r.Pool.Exec(ctx, uq, id, attempts, status, next, errMsg); err != nil {
		return fmt.Errorf("op=dlq.mark_failed: %w", err)
	}
	return nil
}

// Stats summarizes dead-letter state, optionally scoped to one tenant.
func (r *DLQRepo) Stats(ctx domain.Context, tenant string) (domain.DLQStats, error) {
	tracer := otel.Tracer("repo.dlq")
	ctx, span := tracer.Start(ctx, "dlq.Stats")
	defer span.End()

	var s domain.DLQStats
	q := `SELECT status, COUNT(*) FROM dlq WHERE ($1 = '' OR tenant = $1) GROUP BY status`
	rows, err := r.Pool.Query(ctx, q, tenant)
	if err != nil {
		return s, fmt.Errorf("op=dlq.stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return s, fmt.Errorf("op=dlq.stats: %w", err)
		}
		switch domain.DLQStatus(status) {
		case domain.DLQPending:
			s.Pending = n
		case domain.DLQProcessed:
			s.Processed = n
		case domain.DLQFailed:
			s.Failed = n
		}
	}
	if err := rows.Err(); err != nil {
		return s, fmt.Errorf("op=dlq.stats: %w", err)
	}

	var oldest *time.Time
	oq := `SELECT MIN(created_at) FROM dlq WHERE status='PENDING' AND ($1 = '' OR tenant = $1)`
	if err := r.Pool.QueryRow(ctx, oq, tenant).Scan(&oldest); err == nil {
		s.OldestPendingAt = oldest
	}
	return s, nil
}

// Cleanup hard-deletes terminal rows older than the cutoff and returns the
// number removed.
func (r *DLQRepo) Cleanup(ctx domain.Context, olderThan time.Duration) (int64, error) {
	tracer := otel.Tracer("repo.dlq")
	ctx, span := tracer.Start(ctx, "dlq.Cleanup")
	defer span.End()

	cutoff := time.Now().UTC().Add(-olderThan)
	q := `DELETE FROM dlq WHERE status IN ('PROCESSED','FAILED') AND updated_at < $1`
	tag, err := r.Pool.Exec(ctx, q, cutoff)
	if err != nil {
		return 0, fmt.Errorf("op=dlq.cleanup: %w", err)
	}
	return tag.RowsAffected(), nil
}
