package postgres

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"

	"github.com/octup/sentinel/internal/domain"
)

// TenantRepo loads tenant records; creation happens out-of-band.
type TenantRepo struct{ Pool PgxPool }

// NewTenantRepo constructs a TenantRepo with the given pool.
func NewTenantRepo(p PgxPool) *TenantRepo { return &TenantRepo{Pool: p} }

// Get loads one tenant by id.
func (r *TenantRepo) Get(ctx domain.Context, id string) (domain.Tenant, error) {
	tracer := otel.Tracer("repo.tenants")
	ctx, span := tracer.Start(ctx, "tenants.Get")
	defer span.End()

	q := `SELECT id, display_name, sla_config, billing, created_at, updated_at FROM tenants WHERE id=$1`
	row := r.Pool.QueryRow(ctx, q, id)
	var t domain.Tenant
	var slaRaw, billingRaw []byte
	if err := row.Scan(&t.ID, &t.DisplayName, &slaRaw, &billingRaw, &t.CreatedAt, &t.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Tenant{}, fmt.Errorf("op=tenant.get: %w", domain.ErrNotFound)
		}
		return domain.Tenant{}, fmt.Errorf("op=tenant.get: %w", err)
	}
	if len(slaRaw) > 0 {
		if err := json.Unmarshal(slaRaw, &t.SLA); err != nil {
			return domain.Tenant{}, fmt.Errorf("op=tenant.get: sla config: %w", err)
		}
	}
	if len(billingRaw) > 0 {
		if err := json.Unmarshal(billingRaw, &t.Billing); err != nil {
			return domain.Tenant{}, fmt.Errorf("op=tenant.get: billing: %w", err)
		}
	}
	return t, nil
}
