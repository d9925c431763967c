package store

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema is applied at startup; every statement is idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS subscriptions (
	id          UUID PRIMARY KEY,
	target_url  TEXT NOT NULL,
	secret      TEXT,
	event_types TEXT[] NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS webhook_deliveries (
	id              UUID PRIMARY KEY,
	subscription_id UUID NOT NULL REFERENCES subscriptions(id),
	event_type      TEXT NOT NULL,
	payload         JSONB NOT NULL,
	status          TEXT NOT NULL DEFAULT 'pending',
	retry_count     INT NOT NULL DEFAULT 0,
	last_attempt    TIMESTAMPTZ,
	next_retry      TIMESTAMPTZ,
	response_status INT,
	response_body   TEXT,
	error_message   TEXT,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_deliveries_due
	ON webhook_deliveries (next_retry)
	WHERE status = 'failed';

CREATE INDEX IF NOT EXISTS idx_deliveries_subscription
	ON webhook_deliveries (subscription_id, created_at DESC);
`

// Migrate applies the schema.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, Schema)
	return err
}
