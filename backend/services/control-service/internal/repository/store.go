// Package repository persists the control state in Postgres.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	libdb "prepaidgrid/backend/libs/db"
	"prepaidgrid/backend/services/control-service/internal/apperr"
	"prepaidgrid/backend/services/control-service/internal/models"
)

// Store is the durable side of the engine.
type Store struct {
	db *sql.DB
}

// NewStore wraps an open pool.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// LoadLedger returns the singleton ledger row, creating it with defaultPrice when absent.
func (s *Store) LoadLedger(ctx context.Context, defaultPrice float64) (models.LedgerState, error) {
	const query = `
		SELECT balance_kwh, price_per_kwh, last_counters, updated_at
		FROM ledger
		WHERE id = 1
	`
	var (
		state    models.LedgerState
		counters []byte
	)
	err := s.db.QueryRowContext(ctx, query).Scan(&state.BalanceKWh, &state.PricePerKWh, &counters, &state.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		const insert = `
			INSERT INTO ledger (id, balance_kwh, price_per_kwh, last_counters, updated_at)
			VALUES (1, 0, $1, '{}', $2)
			ON CONFLICT (id) DO NOTHING
		`
		now := time.Now().UTC()
		if _, err := s.db.ExecContext(ctx, insert, defaultPrice, now); err != nil {
			return models.LedgerState{}, fmt.Errorf("init ledger: %w", err)
		}
		return models.LedgerState{PricePerKWh: defaultPrice, Counters: map[string]float64{}, UpdatedAt: now}, nil
	}
	if err != nil {
		return models.LedgerState{}, fmt.Errorf("load ledger: %w", err)
	}
	state.Counters = map[string]float64{}
	if len(counters) > 0 {
		if err := json.Unmarshal(counters, &state.Counters); err != nil {
			return models.LedgerState{}, fmt.Errorf("decode ledger counters: %w", err)
		}
	}
	return state, nil
}

const relayColumns = `id, name, meter_id, mode, state, priority, threshold_kwh, last_manual_change_at, last_auto_sync_at, created_at`

// ListRelays returns every relay.
func (s *Store) ListRelays(ctx context.Context) ([]models.Relay, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+relayColumns+` FROM relays ORDER BY priority, id`)
	if err != nil {
		return nil, fmt.Errorf("list relays: %w", err)
	}
	defer rows.Close()

	var relays []models.Relay
	for rows.Next() {
		var (
			r              models.Relay
			manual, synced sql.NullTime
		)
		if err := rows.Scan(&r.ID, &r.Name, &r.MeterID, &r.Mode, &r.State, &r.Priority, &r.ThresholdKWh, &manual, &synced, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan relay: %w", err)
		}
		r.LastManualChangeAt = timePtr(manual)
		r.LastAutoSyncAt = timePtr(synced)
		relays = append(relays, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list relays: %w", err)
	}
	return relays, nil
}

// InsertRelay creates a relay row and returns it with its id.
func (s *Store) InsertRelay(ctx context.Context, r models.Relay) (models.Relay, error) {
	const query = `
		INSERT INTO relays (name, meter_id, mode, state, priority, threshold_kwh, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`
	err := s.db.QueryRowContext(ctx, query, r.Name, r.MeterID, r.Mode, r.State, r.Priority, r.ThresholdKWh, r.CreatedAt).Scan(&r.ID)
	if err != nil {
		return models.Relay{}, fmt.Errorf("insert relay: %w", err)
	}
	return r, nil
}

// DeleteRelay removes a relay; its audit rows cascade.
func (s *Store) DeleteRelay(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM relays WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete relay: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete relay: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("relay %d: %w", id, apperr.ErrNotFound)
	}
	return nil
}

// CommitCycle writes a whole cycle in one transaction and fills generated ids.
func (s *Store) CommitCycle(ctx context.Context, batch *models.CycleBatch) error {
	return libdb.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if batch.Ledger != nil {
			if err := updateLedger(ctx, tx, batch.Ledger); err != nil {
				return err
			}
		}
		for i := range batch.Relays {
			if err := updateRelay(ctx, tx, &batch.Relays[i]); err != nil {
				return err
			}
		}
		for i := range batch.Audit {
			if err := insertAudit(ctx, tx, &batch.Audit[i]); err != nil {
				return err
			}
		}
		if batch.Recharge != nil {
			if err := insertRecharge(ctx, tx, batch.Recharge); err != nil {
				return err
			}
		}
		for i := range batch.Readings {
			if err := insertReading(ctx, tx, &batch.Readings[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

func updateLedger(ctx context.Context, tx *sql.Tx, state *models.LedgerState) error {
	counters, err := json.Marshal(state.Counters)
	if err != nil {
		return fmt.Errorf("encode counters: %w", err)
	}
	const query = `
		UPDATE ledger
		SET balance_kwh = $1, price_per_kwh = $2, last_counters = $3, updated_at = $4
		WHERE id = 1
	`
	if _, err := tx.ExecContext(ctx, query, state.BalanceKWh, state.PricePerKWh, counters, state.UpdatedAt); err != nil {
		return fmt.Errorf("update ledger: %w", err)
	}
	return nil
}

func updateRelay(ctx context.Context, tx *sql.Tx, r *models.Relay) error {
	const query = `
		UPDATE relays
		SET name = $2, meter_id = $3, mode = $4, state = $5, priority = $6, threshold_kwh = $7,
		    last_manual_change_at = $8, last_auto_sync_at = $9
		WHERE id = $1
	`
	res, err := tx.ExecContext(ctx, query, r.ID, r.Name, r.MeterID, r.Mode, r.State, r.Priority, r.ThresholdKWh,
		nullTime(r.LastManualChangeAt), nullTime(r.LastAutoSyncAt))
	if err != nil {
		return fmt.Errorf("update relay %d: %w", r.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("update relay %d: %w", r.ID, apperr.ErrNotFound)
	}
	return nil
}

func insertAudit(ctx context.Context, tx *sql.Tx, e *models.AuditEntry) error {
	const query = `
		INSERT INTO relay_audit (relay_id, previous_state, new_state, reason, mode, balance_kwh, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`
	if err := tx.QueryRowContext(ctx, query, e.RelayID, e.PreviousState, e.NewState, e.Reason, e.Mode, e.BalanceKWh, e.CreatedAt).Scan(&e.ID); err != nil {
		return fmt.Errorf("insert audit: %w", err)
	}
	return nil
}

func insertRecharge(ctx context.Context, tx *sql.Tx, r *models.Recharge) error {
	const query = `
		INSERT INTO recharges (amount_mzn, fixed_fees_mzn, vat_percent, price_per_kwh, net_mzn, net_after_vat_mzn,
		                       credited_kwh, balance_before_kwh, balance_after_kwh, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id
	`
	err := tx.QueryRowContext(ctx, query, r.AmountMZN, r.FixedFeesMZN, r.VATPercent, r.PricePerKWh, r.NetMZN,
		r.NetAfterVATMZN, r.CreditedKWh, r.BalanceBeforeKWh, r.BalanceAfterKWh, r.CreatedAt).Scan(&r.ID)
	if err != nil {
		return fmt.Errorf("insert recharge: %w", err)
	}
	return nil
}

func insertReading(ctx context.Context, tx *sql.Tx, m *models.MeterReading) error {
	const query = `
		INSERT INTO meter_readings (meter_id, voltage, current, power, energy, power_factor, frequency, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	if _, err := tx.ExecContext(ctx, query, m.MeterID, m.Voltage, m.Current, m.Power, m.Energy, m.PowerFactor, m.Frequency, m.LastSeenAt); err != nil {
		return fmt.Errorf("insert reading: %w", err)
	}
	return nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
