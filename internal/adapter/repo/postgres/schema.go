package postgres

import (
	"context"
	"fmt"
)

// Schema is applied at startup; production deployments run the same DDL via
// their migration tooling (out of the core's scope).
const Schema = `
CREATE TABLE IF NOT EXISTS tenants (
	id           TEXT PRIMARY KEY,
	display_name TEXT NOT NULL DEFAULT '',
	sla_config   JSONB NOT NULL DEFAULT '{}',
	billing      JSONB NOT NULL DEFAULT '{}',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS order_events (
	id             UUID PRIMARY KEY,
	tenant         TEXT NOT NULL REFERENCES tenants(id),
	source         TEXT NOT NULL,
	event_type     TEXT NOT NULL,
	event_id       TEXT NOT NULL,
	order_id       TEXT NOT NULL,
	occurred_at    TIMESTAMPTZ NOT NULL,
	payload        JSONB NOT NULL DEFAULT '{}',
	correlation_id TEXT NOT NULL DEFAULT '',
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	CONSTRAINT order_events_tenant_source_event_uniq UNIQUE (tenant, source, event_id)
);
CREATE INDEX IF NOT EXISTS order_events_tenant_order_idx
	ON order_events (tenant, order_id, occurred_at);

CREATE TABLE IF NOT EXISTS exceptions (
	id                      UUID PRIMARY KEY,
	tenant                  TEXT NOT NULL REFERENCES tenants(id),
	order_id                TEXT NOT NULL,
	reason_code             TEXT NOT NULL,
	status                  TEXT NOT NULL DEFAULT 'OPEN',
	severity                TEXT NOT NULL DEFAULT 'MEDIUM',
	ai_label                TEXT NOT NULL DEFAULT '',
	ai_confidence           DOUBLE PRECISION,
	ops_note                TEXT NOT NULL DEFAULT '',
	client_note             TEXT NOT NULL DEFAULT '',
	context_data            JSONB NOT NULL DEFAULT '{}',
	correlation_id          TEXT NOT NULL DEFAULT '',
	resolution_attempts     INT NOT NULL DEFAULT 0,
	max_resolution_attempts INT NOT NULL DEFAULT 2,
	last_resolution_at      TIMESTAMPTZ,
	resolution_blocked      BOOLEAN NOT NULL DEFAULT FALSE,
	resolution_block_reason TEXT NOT NULL DEFAULT '',
	created_at              TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at              TIMESTAMPTZ NOT NULL DEFAULT now(),
	resolved_at             TIMESTAMPTZ
);
CREATE UNIQUE INDEX IF NOT EXISTS exceptions_open_uniq
	ON exceptions (tenant, order_id, reason_code) WHERE status = 'OPEN';
CREATE INDEX IF NOT EXISTS exceptions_resolution_idx
	ON exceptions (tenant, status, resolution_blocked, resolution_attempts);

CREATE TABLE IF NOT EXISTS dlq (
	id               UUID PRIMARY KEY,
	tenant           TEXT NOT NULL DEFAULT '',
	payload          JSONB NOT NULL,
	error_class      TEXT NOT NULL DEFAULT '',
	error_message    TEXT NOT NULL DEFAULT '',
	stack_trace      TEXT NOT NULL DEFAULT '',
	attempts         INT NOT NULL DEFAULT 0,
	max_attempts     INT NOT NULL DEFAULT 3,
	next_retry_at    TIMESTAMPTZ NOT NULL,
	status           TEXT NOT NULL DEFAULT 'PENDING',
	correlation_id   TEXT NOT NULL DEFAULT '',
	source_operation TEXT NOT NULL DEFAULT '',
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS dlq_next_retry_idx ON dlq (status, next_retry_at);
`

// Migrate applies the schema.
func Migrate(ctx context.Context, pool PgxPool) error {
	if _, err := pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("op=postgres.migrate: %w", err)
	}
	return nil
}
