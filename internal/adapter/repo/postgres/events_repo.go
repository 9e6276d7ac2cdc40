package postgres

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"

	"github.com/octup/sentinel/internal/domain"
)

// EventRepo is the append-only store for order events.
type EventRepo struct{ Pool PgxPool }

// NewEventRepo constructs an EventRepo with the given pool.
func NewEventRepo(p PgxPool) *EventRepo { return &EventRepo{Pool: p} }

// Insert persists one event. A unique-index violation on
// (tenant, source, event_id) is reported as domain.ErrDuplicate; the database
// is the source of truth for duplicate suppression.
func (r *EventRepo) Insert(ctx domain.Context, ev domain.OrderEvent) (string, error) {
	tracer := otel.Tracer("repo.events")
	ctx, span := tracer.Start(ctx, "events.Insert")
	defer span.End()

	id := ev.ID
	if id == "" {
		id = uuid.New().String()
	}
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return "", fmt.Errorf("op=event.insert: %w: %v", domain.ErrInvalidArgument, err)
	}
	q := `INSERT INTO order_events (id, tenant, source, event_type, event_id, order_id, occurred_at, payload, correlation_id, created_at)
	      VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`
	_, err = r.Pool.Exec(ctx, q, id, ev.Tenant, ev.Source, ev.EventType, ev.EventID, ev.OrderID,
		ev.OccurredAt.UTC(), payload, ev.CorrelationID, time.Now().UTC())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return "", fmt.Errorf("op=event.insert: %w", domain.ErrDuplicate)
		}
		return "", fmt.Errorf("op=event.insert: %w", err)
	}
	return id, nil
}

// InsertBatch bulk-inserts events with ignore-on-conflict semantics inside a
// single transaction and returns the IDs of rows actually written.
func (r *EventRepo) InsertBatch(ctx domain.Context, evs []domain.OrderEvent) ([]string, error) {
	tracer := otel.Tracer("repo.events")
	ctx, span := tracer.Start(ctx, "events.InsertBatch")
	defer span.End()

	if len(evs) == 0 {
		return nil, nil
	}
	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("op=event.insert_batch: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	q := `INSERT INTO order_events (id, tenant, source, event_type, event_id, order_id, occurred_at, payload, correlation_id, created_at)
	      VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	      ON CONFLICT (tenant, source, event_id) DO NOTHING`
	inserted := make([]string, 0, len(evs))
	now := time.Now().UTC()
	for _, ev := range evs {
		id := ev.ID
		if id == "" {
			id = uuid.New().String()
		}
		payload, err := json.Marshal(ev.Payload)
		if err != nil {
			return nil, fmt.Errorf("op=event.insert_batch: %w: %v", domain.ErrInvalidArgument, err)
		}
		tag, err := tx.Exec(ctx, q, id, ev.Tenant, ev.Source, ev.EventType, ev.EventID, ev.OrderID,
			ev.OccurredAt.UTC(), payload, ev.CorrelationID, now)
		if err != nil {
			return nil, fmt.Errorf("op=event.insert_batch: %w", err)
		}
		if tag.RowsAffected() > 0 {
			inserted = append(inserted, id)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("op=event.insert_batch: %w", err)
	}
	return inserted, nil
}

// ListByOrder returns the timeline for (tenant, orderID) ordered by
// occurred_at.
func (r *EventRepo) ListByOrder(ctx domain.Context, tenant, orderID string) ([]domain.OrderEvent, error) {
	tracer := otel.Tracer("repo.events")
	ctx, span := tracer.Start(ctx, "events.ListByOrder")
	defer span.End()

	q := `SELECT id, tenant, source, event_type, event_id, order_id, occurred_at, payload, correlation_id, created_at
	      FROM order_events WHERE tenant=$1 AND order_id=$2 ORDER BY occurred_at ASC`
	rows, err := r.Pool.Query(ctx, q, tenant, orderID)
	if err != nil {
		return nil, fmt.Errorf("op=event.list_by_order: %w", err)
	}
	defer rows.Close()

	var out []domain.OrderEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("op=event.list_by_order: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// CountRecent returns the distinct order count for the tenant in the trailing
// window; the SLA engine uses it for the high-volume multiplier.
func (r *EventRepo) CountRecent(ctx domain.Context, tenant string, window time.Duration) (int, error) {
	tracer := otel.Tracer("repo.events")
	ctx, span := tracer.Start(ctx, "events.CountRecent")
	defer span.End()

	q := `SELECT COUNT(DISTINCT order_id) FROM order_events WHERE tenant=$1 AND created_at > $2`
	var n int
	if err := r.Pool.QueryRow(ctx, q, tenant, time.Now().UTC().Add(-window)).Scan(&n); err != nil {
		return 0, fmt.Errorf("op=event.count_recent: %w", err)
	}
	return n, nil
}

func scanEvent(rows pgx.Rows) (domain.OrderEvent, error) {
	var ev domain.OrderEvent
	var payload []byte
	if err := rows.Scan(&ev.ID, &ev.Tenant, &ev.Source, &ev.EventType, &ev.EventID, &ev.OrderID,
		&ev.OccurredAt, &payload, &ev.CorrelationID, &ev.CreatedAt); err != nil {
		return domain.OrderEvent{}, err
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &ev.Payload); err != nil {
			return domain.OrderEvent{}, err
		}
	}
	return ev, nil
}
