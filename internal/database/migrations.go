package database

import (
	"context"
	"database/sql"
	"fmt"
)

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS orders (
		id             TEXT PRIMARY KEY,
		amount         NUMERIC(12,2) NOT NULL CHECK (amount > 0),
		status         TEXT NOT NULL,
		method         TEXT NOT NULL DEFAULT '',
		customer_email TEXT NOT NULL DEFAULT '',
		customer_phone TEXT NOT NULL DEFAULT '',
		items          JSONB NOT NULL DEFAULT '[]',
		created_at     TIMESTAMPTZ NOT NULL,
		updated_at     TIMESTAMPTZ NOT NULL,
		paid_at        TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS orders_status_updated_idx ON orders (status, updated_at)`,
	`CREATE TABLE IF NOT EXISTS payments (
		id          UUID PRIMARY KEY,
		order_id    TEXT NOT NULL REFERENCES orders (id),
		method      TEXT NOT NULL,
		amount      NUMERIC(12,2) NOT NULL,
		status      TEXT NOT NULL,
		entity      TEXT NOT NULL DEFAULT '',
		reference   TEXT NOT NULL DEFAULT '',
		request_id  TEXT NOT NULL DEFAULT '',
		payment_url TEXT NOT NULL DEFAULT '',
		valid_until TIMESTAMPTZ,
		error       TEXT NOT NULL DEFAULT '',
		created_at  TIMESTAMPTZ NOT NULL,
		updated_at  TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS payments_order_method_idx ON payments (order_id, method)`,
	`CREATE INDEX IF NOT EXISTS payments_reference_idx ON payments (reference) WHERE reference <> ''`,
	`CREATE TABLE IF NOT EXISTS confirmations (
		id          UUID PRIMARY KEY,
		dedup_key   TEXT NOT NULL UNIQUE,
		order_id    TEXT NOT NULL,
		amount      NUMERIC(12,2) NOT NULL,
		entity      TEXT NOT NULL DEFAULT '',
		reference   TEXT NOT NULL DEFAULT '',
		raw_method  TEXT NOT NULL DEFAULT '',
		paid_at     TIMESTAMPTZ NOT NULL,
		outcome     TEXT NOT NULL,
		received_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS confirmations_outcome_idx ON confirmations (outcome)`,
}

// Migrate creates the schema; every statement is idempotent.
func Migrate(ctx context.Context, db *sql.DB) error {
	for _, query := range migrations {
		if _, err := db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to migrate: %w", err)
		}
	}
	return nil
}
