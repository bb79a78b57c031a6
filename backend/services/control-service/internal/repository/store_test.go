package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prepaidgrid/backend/services/control-service/internal/apperr"
	"prepaidgrid/backend/services/control-service/internal/models"
)

var t0 = time.Date(2025, 11, 20, 6, 0, 0, 0, time.UTC)

func setupMockStore(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *Store) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db, mock, NewStore(db)
}

func TestLoadLedgerDecodesCounters(t *testing.T) {
	_, mock, store := setupMockStore(t)

	mock.ExpectQuery(`SELECT balance_kwh, price_per_kwh, last_counters, updated_at\s+FROM ledger`).
		WillReturnRows(sqlmock.NewRows([]string{"balance_kwh", "price_per_kwh", "last_counters", "updated_at"}).
			AddRow(42.5, 0.75, []byte(`{"pzem1":1234.5}`), t0))

	state, err := store.LoadLedger(context.Background(), 0.75)
	require.NoError(t, err)
	assert.Equal(t, 42.5, state.BalanceKWh)
	assert.Equal(t, 1234.5, state.Counters["pzem1"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadLedgerCreatesMissingRow(t *testing.T) {
	_, mock, store := setupMockStore(t)

	mock.ExpectQuery(`FROM ledger`).WillReturnError(sql.ErrNoRows)
	mock.ExpectExec(`INSERT INTO ledger`).
		WithArgs(0.9, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	state, err := store.LoadLedger(context.Background(), 0.9)
	require.NoError(t, err)
	assert.Equal(t, 0.0, state.BalanceKWh)
	assert.Equal(t, 0.9, state.PricePerKWh)
	assert.NotNil(t, state.Counters)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListRelaysScansNullableTimes(t *testing.T) {
	_, mock, store := setupMockStore(t)

	rows := sqlmock.NewRows([]string{"id", "name", "meter_id", "mode", "state", "priority", "threshold_kwh", "last_manual_change_at", "last_auto_sync_at", "created_at"}).
		AddRow(1, "kitchen", "pzem1", "automatic", "on", 1, 5.0, nil, t0, t0).
		AddRow(2, "pump", "pzem1", "manual", "off", 2, 3.0, t0, nil, t0)
	mock.ExpectQuery(`SELECT id, name, meter_id, mode, state`).WillReturnRows(rows)

	relays, err := store.ListRelays(context.Background())
	require.NoError(t, err)
	require.Len(t, relays, 2)
	assert.Equal(t, models.ModeAutomatic, relays[0].Mode)
	assert.Equal(t, models.StateOn, relays[0].State)
	assert.Nil(t, relays[0].LastManualChangeAt)
	require.NotNil(t, relays[0].LastAutoSyncAt)
	assert.Equal(t, models.ModeManual, relays[1].Mode)
	require.NotNil(t, relays[1].LastManualChangeAt)
	assert.True(t, relays[1].LastManualChangeAt.Equal(t0))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCommitCycleWritesEverythingInOneTx(t *testing.T) {
	_, mock, store := setupMockStore(t)

	batch := &models.CycleBatch{
		Ledger: &models.LedgerState{BalanceKWh: 4.5, PricePerKWh: 0.75, Counters: map[string]float64{"pzem1": 101.5}, UpdatedAt: t0},
		Relays: []models.Relay{{ID: 1, Name: "kitchen", MeterID: "pzem1", Mode: models.ModeAutomatic, State: models.StateOff, Priority: 1, ThresholdKWh: 5}},
		Audit: []models.AuditEntry{{
			RelayID: 1, PreviousState: models.StateOn, NewState: models.StateOff,
			Reason: models.ReasonLowBalance, Mode: models.ModeAutomatic, BalanceKWh: 4.5, CreatedAt: t0,
		}},
		Readings: []models.MeterReading{{MeterID: "pzem1", Voltage: 230, Energy: 101.5, LastSeenAt: t0}},
		Recharge: &models.Recharge{AmountMZN: 115, CreditedKWh: 119.84, CreatedAt: t0},
	}

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE ledger`).
		WithArgs(4.5, 0.75, []byte(`{"pzem1":101.5}`), t0).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE relays`).
		WithArgs(int64(1), "kitchen", "pzem1", "automatic", "off", 1, 5.0, nil, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`INSERT INTO relay_audit`).
		WithArgs(int64(1), "on", "off", "low_balance", "automatic", 4.5, t0).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))
	mock.ExpectQuery(`INSERT INTO recharges`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(3))
	mock.ExpectExec(`INSERT INTO meter_readings`).
		WithArgs("pzem1", 230.0, 0.0, 0.0, 101.5, 0.0, 0.0, t0).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	require.NoError(t, store.CommitCycle(context.Background(), batch))
	assert.Equal(t, int64(7), batch.Audit[0].ID)
	assert.Equal(t, int64(3), batch.Recharge.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCommitCycleRollsBackOnError(t *testing.T) {
	_, mock, store := setupMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE ledger`).WillReturnError(errors.New("deadlock detected"))
	mock.ExpectRollback()

	err := store.CommitCycle(context.Background(), &models.CycleBatch{
		Ledger: &models.LedgerState{BalanceKWh: 1, PricePerKWh: 0.75, UpdatedAt: t0},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "deadlock detected")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCommitCycleMissingRelay(t *testing.T) {
	_, mock, store := setupMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE relays`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := store.CommitCycle(context.Background(), &models.CycleBatch{Relays: []models.Relay{{ID: 9}}})
	assert.True(t, apperr.IsNotFound(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertAndDeleteRelay(t *testing.T) {
	_, mock, store := setupMockStore(t)

	mock.ExpectQuery(`INSERT INTO relays`).
		WithArgs("boiler", "pzem1", "automatic", "off", 3, 5.0, t0).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(12))
	mock.ExpectExec(`DELETE FROM relays`).WithArgs(int64(12)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM relays`).WithArgs(int64(12)).WillReturnResult(sqlmock.NewResult(0, 0))

	r, err := store.InsertRelay(context.Background(), models.Relay{
		Name: "boiler", MeterID: "pzem1", Mode: models.ModeAutomatic, State: models.StateOff, Priority: 3, ThresholdKWh: 5, CreatedAt: t0,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(12), r.ID)

	require.NoError(t, store.DeleteRelay(context.Background(), 12))
	assert.True(t, apperr.IsNotFound(store.DeleteRelay(context.Background(), 12)))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListAuditPaginates(t *testing.T) {
	_, mock, store := setupMockStore(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM relay_audit`).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(120))
	mock.ExpectQuery(`FROM relay_audit\s+WHERE relay_id = \$1\s+ORDER BY`).
		WithArgs(int64(1), 50, 50).
		WillReturnRows(sqlmock.NewRows([]string{"id", "relay_id", "previous_state", "new_state", "reason", "mode", "balance_kwh", "created_at"}).
			AddRow(70, 1, "on", "off", "low_balance", "automatic", 4.9, t0))

	entries, info, err := store.ListAudit(context.Background(), 1, Page{Number: 2})
	require.NoError(t, err)
	assert.Equal(t, PageInfo{Page: 2, PerPage: 50, Total: 120}, info)
	require.Len(t, entries, 1)
	assert.Equal(t, models.ReasonLowBalance, entries[0].Reason)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListRechargesDefaultsToTenPerPage(t *testing.T) {
	_, mock, store := setupMockStore(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM recharges`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(`FROM recharges\s+ORDER BY`).
		WithArgs(10, 0).
		WillReturnRows(sqlmock.NewRows([]string{"id", "amount_mzn", "fixed_fees_mzn", "vat_percent", "price_per_kwh", "net_mzn", "net_after_vat_mzn", "credited_kwh", "balance_before_kwh", "balance_after_kwh", "created_at"}).
			AddRow(1, 115.0, 8.0, 16.0, 0.75, 107.0, 89.88, 119.84, 0.0, 119.84, t0))

	out, info, err := store.ListRecharges(context.Background(), Page{})
	require.NoError(t, err)
	assert.Equal(t, 10, info.PerPage)
	require.Len(t, out, 1)
	assert.Equal(t, 119.84, out[0].CreditedKWh)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListReadingsCapsPageSize(t *testing.T) {
	_, mock, store := setupMockStore(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM meter_readings`).
		WithArgs("pzem1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(`FROM meter_readings\s+WHERE meter_id`).
		WithArgs("pzem1", maxPerPage, 0).
		WillReturnRows(sqlmock.NewRows([]string{"meter_id", "voltage", "current", "power", "energy", "power_factor", "frequency", "recorded_at"}))

	out, info, err := store.ListReadings(context.Background(), "pzem1", Page{PerPage: 10000})
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Equal(t, maxPerPage, info.PerPage)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUsers(t *testing.T) {
	_, mock, store := setupMockStore(t)

	mock.ExpectQuery(`INSERT INTO users`).
		WithArgs("ops@example.com", "hash", "operator").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(1, t0))
	mock.ExpectQuery(`INSERT INTO users`).
		WithArgs("ops@example.com", "hash", "operator").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(`FROM users`).
		WithArgs("ops@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "password_hash", "role", "created_at"}).
			AddRow(1, "ops@example.com", "hash", "operator", t0))
	mock.ExpectQuery(`FROM users`).
		WithArgs("nobody@example.com").
		WillReturnError(sql.ErrNoRows)

	u := &models.User{Email: " OPS@example.com ", PasswordHash: "hash", Role: "operator"}
	require.NoError(t, store.CreateUser(context.Background(), u))
	assert.Equal(t, int64(1), u.ID)

	dup := &models.User{Email: "ops@example.com", PasswordHash: "hash", Role: "operator"}
	assert.True(t, apperr.IsConflict(store.CreateUser(context.Background(), dup)))

	got, err := store.GetUserByEmail(context.Background(), "Ops@Example.com")
	require.NoError(t, err)
	assert.Equal(t, "hash", got.PasswordHash)

	_, err = store.GetUserByEmail(context.Background(), "nobody@example.com")
	assert.True(t, apperr.IsNotFound(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureSchemaAppliesPendingMigrations(t *testing.T) {
	db, mock, _ := setupMockStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS schema_migrations`).WillReturnResult(sqlmock.NewResult(0, 0))
	for i, m := range migrations {
		applied := i == 0
		mock.ExpectQuery(`SELECT EXISTS`).
			WithArgs(m.name).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(applied))
		if applied {
			continue
		}
		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta(m.up)).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec(`INSERT INTO schema_migrations`).WithArgs(m.name).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()
	}

	require.NoError(t, EnsureSchema(context.Background(), db))
	assert.NoError(t, mock.ExpectationsWereMet())
}
