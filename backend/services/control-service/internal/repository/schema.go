package repository

import (
	"context"
	"database/sql"
	"fmt"

	libdb "prepaidgrid/backend/libs/db"
)

type migration struct {
	name string
	up   string
}

// migrations are applied in order and recorded in schema_migrations.
var migrations = []migration{
	{
		name: "0001_create_ledger",
		up: `
CREATE TABLE IF NOT EXISTS ledger (
    id            SMALLINT PRIMARY KEY CHECK (id = 1),
    balance_kwh   DOUBLE PRECISION NOT NULL DEFAULT 0 CHECK (balance_kwh >= 0),
    price_per_kwh DOUBLE PRECISION NOT NULL,
    last_counters JSONB NOT NULL DEFAULT '{}',
    updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`,
	},
	{
		name: "0002_create_relays",
		up: `
CREATE TABLE IF NOT EXISTS relays (
    id                    BIGSERIAL PRIMARY KEY,
    name                  TEXT NOT NULL,
    meter_id              TEXT NOT NULL DEFAULT '',
    mode                  TEXT NOT NULL DEFAULT 'automatic',
    state                 TEXT NOT NULL DEFAULT 'off',
    priority              SMALLINT NOT NULL DEFAULT 3 CHECK (priority BETWEEN 1 AND 5),
    threshold_kwh         DOUBLE PRECISION NOT NULL DEFAULT 5 CHECK (threshold_kwh >= 0),
    last_manual_change_at TIMESTAMPTZ,
    last_auto_sync_at     TIMESTAMPTZ,
    created_at            TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`,
	},
	{
		name: "0003_create_relay_audit",
		up: `
CREATE TABLE IF NOT EXISTS relay_audit (
    id             BIGSERIAL PRIMARY KEY,
    relay_id       BIGINT NOT NULL REFERENCES relays (id) ON DELETE CASCADE,
    previous_state TEXT NOT NULL,
    new_state      TEXT NOT NULL,
    reason         TEXT NOT NULL,
    mode           TEXT NOT NULL,
    balance_kwh    DOUBLE PRECISION NOT NULL,
    created_at     TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_relay_audit_relay ON relay_audit (relay_id, created_at DESC)`,
	},
	{
		name: "0004_create_recharges",
		up: `
CREATE TABLE IF NOT EXISTS recharges (
    id                 BIGSERIAL PRIMARY KEY,
    amount_mzn         NUMERIC(12, 2) NOT NULL,
    fixed_fees_mzn     NUMERIC(12, 2) NOT NULL,
    vat_percent        NUMERIC(5, 2) NOT NULL,
    price_per_kwh      DOUBLE PRECISION NOT NULL,
    net_mzn            NUMERIC(12, 2) NOT NULL,
    net_after_vat_mzn  NUMERIC(12, 2) NOT NULL,
    credited_kwh       DOUBLE PRECISION NOT NULL,
    balance_before_kwh DOUBLE PRECISION NOT NULL,
    balance_after_kwh  DOUBLE PRECISION NOT NULL,
    created_at         TIMESTAMPTZ NOT NULL
)`,
	},
	{
		name: "0005_create_meter_readings",
		up: `
CREATE TABLE IF NOT EXISTS meter_readings (
    id           BIGSERIAL PRIMARY KEY,
    meter_id     TEXT NOT NULL,
    voltage      DOUBLE PRECISION NOT NULL DEFAULT 0,
    current      DOUBLE PRECISION NOT NULL DEFAULT 0,
    power        DOUBLE PRECISION NOT NULL DEFAULT 0,
    energy       DOUBLE PRECISION NOT NULL DEFAULT 0,
    power_factor DOUBLE PRECISION NOT NULL DEFAULT 0,
    frequency    DOUBLE PRECISION NOT NULL DEFAULT 0,
    recorded_at  TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_meter_readings_meter ON meter_readings (meter_id, recorded_at DESC)`,
	},
	{
		name: "0006_create_users",
		up: `
CREATE TABLE IF NOT EXISTS users (
    id            BIGSERIAL PRIMARY KEY,
    email         TEXT NOT NULL UNIQUE,
    password_hash TEXT NOT NULL,
    role          TEXT NOT NULL DEFAULT 'operator',
    created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`,
	},
	{
		name: "0007_index_meter_readings_time",
		up:   `CREATE INDEX IF NOT EXISTS idx_meter_readings_recorded_at ON meter_readings (recorded_at)`,
	},
}

const createMigrationsTable = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    name       TEXT PRIMARY KEY,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// EnsureSchema applies pending migrations.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, createMigrationsTable); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}
	for _, m := range migrations {
		var applied bool
		err := db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE name = $1)`, m.name).Scan(&applied)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", m.name, err)
		}
		if applied {
			continue
		}
		err = libdb.WithTx(ctx, db, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, m.up); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (name) VALUES ($1)`, m.name)
			return err
		})
		if err != nil {
			return fmt.Errorf("apply migration %s: %w", m.name, err)
		}
	}
	return nil
}
