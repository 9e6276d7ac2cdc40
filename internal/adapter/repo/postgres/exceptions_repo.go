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

// ExceptionRepo holds mutable exception records.
type ExceptionRepo struct{ Pool PgxPool }

// NewExceptionRepo constructs an ExceptionRepo with the given pool.
func NewExceptionRepo(p PgxPool) *ExceptionRepo { return &ExceptionRepo{Pool: p} }

const exceptionCols = `id, tenant, order_id, reason_code, status, severity, ai_label, ai_confidence,
	ops_note, client_note, context_data, correlation_id, resolution_attempts, max_resolution_attempts,
	last_resolution_at, resolution_blocked, resolution_block_reason, created_at, updated_at, resolved_at`

// UpsertOpen creates an exception or, when an identical OPEN one already
// exists for (tenant, order_id, reason_code), refreshes its context_data and
// updated_at only. The bool result reports whether a new row was created.
func (r *ExceptionRepo) UpsertOpen(ctx domain.Context, ex domain.Exception) (domain.Exception, bool, error) {
	tracer := otel.Tracer("repo.exceptions")
	ctx, span := tracer.Start(ctx, "exceptions.UpsertOpen")
	defer span.End()

	id := ex.ID
	if id == "" {
		id = uuid.New().String()
	}
	ctxData, err := json.Marshal(ex.ContextData)
	if err != nil {
		return domain.Exception{}, false, fmt.Errorf("op=exception.upsert: %w: %v", domain.ErrInvalidArgument, err)
	}
	now := time.Now().UTC()
	q := `INSERT INTO exceptions (id, tenant, order_id, reason_code, status, severity, context_data,
	        correlation_id, max_resolution_attempts, created_at, updated_at)
	      VALUES ($1,$2,$3,$4,'OPEN',$5,$6,$7,$8,$9,$9)`
	_, err = r.Pool.Exec(ctx, q, id, ex.Tenant, ex.OrderID, ex.ReasonCode, ex.Severity,
		ctxData, ex.CorrelationID, ex.MaxResolutionAttempts, now)
	if err == nil {
		created, getErr := r.Get(ctx, ex.Tenant, id)
		return created, true, getErr
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		return domain.Exception{}, false, fmt.Errorf("op=exception.upsert: %w", err)
	}

	// Identical open exception exists: refresh context only.
	uq := `UPDATE exceptions SET context_data = context_data || $4, updated_at = $5
	       WHERE tenant=$1 AND order_id=$2 AND reason_code=$3 AND status='OPEN'
	       RETURNING ` + exceptionCols
	row := r.Pool.QueryRow(ctx, uq, ex.Tenant, ex.OrderID, ex.ReasonCode, ctxData, now)
	updated, err := scanException(row)
	if err != nil {
		return domain.Exception{}, false, fmt.Errorf("op=exception.upsert: %w", err)
	}
	return updated, false, nil
}

// Get loads one exception scoped to the tenant. Cross-tenant access yields
// ErrNotFound to avoid existence leakage.
func (r *ExceptionRepo) Get(ctx domain.Context, tenant, id string) (domain.Exception, error) {
	tracer := otel.Tracer("repo.exceptions")
	ctx, span := tracer.Start(ctx, "exceptions.Get")
	defer span.End()

	q := `SELECT ` + exceptionCols + ` FROM exceptions WHERE tenant=$1 AND id=$2`
	row := r.Pool.QueryRow(ctx, q, tenant, id)
	ex, err := scanException(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Exception{}, fmt.Errorf("op=exception.get: %w", domain.ErrNotFound)
		}
		return domain.Exception{}, fmt.Errorf("op=exception.get: %w", err)
	}
	return ex, nil
}

// List returns a page of exceptions plus the total matching count.
func (r *ExceptionRepo) List(ctx domain.Context, tenant string, f domain.ExceptionFilter) ([]domain.Exception, int, error) {
	tracer := otel.Tracer("repo.exceptions")
	ctx, span := tracer.Start(ctx, "exceptions.List")
	defer span.End()

	where := `WHERE tenant=$1`
	args := []any{tenant}
	add := func(cond string, v any) {
		args = append(args, v)
		where += fmt.Sprintf(" AND %s=$%d", cond, len(args))
	}
	if f.Status != "" {
		add("status", f.Status)
	}
	if f.ReasonCode != "" {
		add("reason_code", f.ReasonCode)
	}
	if f.Severity != "" {
		add("severity", f.Severity)
	}
	if f.OrderID != "" {
		add("order_id", f.OrderID)
	}

	var total int
	if err := r.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM exceptions `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("op=exception.list: %w", err)
	}

	page, size := f.Page, f.PageSize
	if page < 1 {
		page = 1
	}
	if size < 1 || size > 100 {
		size = 20
	}
	args = append(args, size, (page-1)*size)
	q := fmt.Sprintf(`SELECT %s FROM exceptions %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		exceptionCols, where, len(args)-1, len(args))
	rows, err := r.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("op=exception.list: %w", err)
	}
	defer rows.Close()

	var out []domain.Exception
	for rows.Next() {
		ex, err := scanException(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("op=exception.list: %w", err)
		}
		out = append(out, ex)
	}
	return out, total, rows.Err()
}

// Update persists mutated lifecycle fields. The row is matched on
// (tenant, id) so cross-tenant writes cannot occur.
func (r *ExceptionRepo) Update(ctx domain.Context, ex domain.Exception) error {
	tracer := otel.Tracer("repo.exceptions")
	ctx, span := tracer.Start(ctx, "exceptions.Update")
	defer span.End()

	ctxData, err := json.Marshal(ex.ContextData)
	if err != nil {
		return fmt.Errorf("op=exception.update: %w: %v", domain.ErrInvalidArgument, err)
	}
	q := `UPDATE exceptions SET status=$3, severity=$4, ai_label=$5, ai_confidence=$6, ops_note=$7,
	        client_note=$8, context_data=$9, resolution_attempts=$10, last_resolution_at=$11,
	        resolution_blocked=$12, resolution_block_reason=$13, updated_at=$14, resolved_at=$15
	      WHERE tenant=$1 AND id=$2`
	tag, err := r.Pool.Exec(ctx, q, ex.Tenant, ex.ID, ex.Status, ex.Severity, ex.AILabel, ex.AIConfidence,
		ex.OpsNote, ex.ClientNote, ctxData, ex.ResolutionAttempts, ex.LastResolutionAt,
		ex.ResolutionBlocked, ex.ResolutionBlockReason, time.Now().UTC(), ex.ResolvedAt)
	if err != nil {
		return fmt.Errorf("op=exception.update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=exception.update: %w", domain.ErrNotFound)
	}
	return nil
}

// Stats aggregates exception counts for the tenant.
func (r *ExceptionRepo) Stats(ctx domain.Context, tenant string) (domain.ExceptionStats, error) {
	tracer := otel.Tracer("repo.exceptions")
	ctx, span := tracer.Start(ctx, "exceptions.Stats")
	defer span.End()

	stats := domain.ExceptionStats{
		ByStatus:   map[string]int{},
		BySeverity: map[string]int{},
		ByReason:   map[string]int{},
	}
	q := `SELECT status, severity, reason_code, COUNT(*) FROM exceptions WHERE tenant=$1
	      GROUP BY status, severity, reason_code`
	rows, err := r.Pool.Query(ctx, q, tenant)
	if err != nil {
		return stats, fmt.Errorf("op=exception.stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status, severity, reason string
		var n int
		if err := rows.Scan(&status, &severity, &reason, &n); err != nil {
			return stats, fmt.Errorf("op=exception.stats: %w", err)
		}
		stats.Total += n
		stats.ByStatus[status] += n
		stats.BySeverity[severity] += n
		stats.ByReason[reason] += n
	}
	return stats, rows.Err()
}

func scanException(row pgx.Row) (domain.Exception, error) {
	var ex domain.Exception
	var ctxData []byte
	if err := row.Scan(&ex.ID, &ex.Tenant, &ex.OrderID, &ex.ReasonCode, &ex.Status, &ex.Severity,
		&ex.AILabel, &ex.AIConfidence, &ex.OpsNote, &ex.ClientNote, &ctxData, &ex.CorrelationID,
		&ex.ResolutionAttempts, &ex.MaxResolutionAttempts, &ex.LastResolutionAt,
		&ex.ResolutionBlocked, &ex.ResolutionBlockReason, &ex.CreatedAt, &ex.UpdatedAt, &ex.ResolvedAt); err != nil {
		return domain.Exception{}, err
	}
	if len(ctxData) > 0 {
		if err := json.Unmarshal(ctxData, &ex.ContextData); err != nil {
			return domain.Exception{}, err
		}
	}
	return ex, nil
}
