package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"prepaidgrid/backend/services/control-service/internal/apperr"
	"prepaidgrid/backend/services/control-service/internal/models"
)

// Page selects a 1-based page of a listing.
type Page struct {
	Number  int
	PerPage int
}

const maxPerPage = 200

func (p Page) normalize(defaultPerPage int) Page {
	if p.Number < 1 {
		p.Number = 1
	}
	if p.PerPage < 1 {
		p.PerPage = defaultPerPage
	}
	if p.PerPage > maxPerPage {
		p.PerPage = maxPerPage
	}
	return p
}

func (p Page) offset() int {
	return (p.Number - 1) * p.PerPage
}

// PageInfo describes the returned slice of a paginated listing.
type PageInfo struct {
	Page    int `json:"page"`
	PerPage int `json:"per_page"`
	Total   int `json:"total"`
}

// Default page sizes.
const (
	DefaultAuditPerPage    = 50
	DefaultRechargePerPage = 10
	DefaultReadingPerPage  = 50
)

// ListAudit returns the transitions of one relay, newest first.
func (s *Store) ListAudit(ctx context.Context, relayID int64, page Page) ([]models.AuditEntry, PageInfo, error) {
	page = page.normalize(DefaultAuditPerPage)
	info := PageInfo{Page: page.Number, PerPage: page.PerPage}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM relay_audit WHERE relay_id = $1`, relayID).Scan(&info.Total); err != nil {
		return nil, info, fmt.Errorf("count audit: %w", err)
	}

	const query = `
		SELECT id, relay_id, previous_state, new_state, reason, mode, balance_kwh, created_at
		FROM relay_audit
		WHERE relay_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := s.db.QueryContext(ctx, query, relayID, page.PerPage, page.offset())
	if err != nil {
		return nil, info, fmt.Errorf("list audit: %w", err)
	}
	defer rows.Close()

	entries := make([]models.AuditEntry, 0, page.PerPage)
	for rows.Next() {
		var e models.AuditEntry
		if err := rows.Scan(&e.ID, &e.RelayID, &e.PreviousState, &e.NewState, &e.Reason, &e.Mode, &e.BalanceKWh, &e.CreatedAt); err != nil {
			return nil, info, fmt.Errorf("scan audit: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, info, fmt.Errorf("list audit: %w", err)
	}
	return entries, info, nil
}

// ListRecharges returns ledger credits, newest first.
func (s *Store) ListRecharges(ctx context.Context, page Page) ([]models.Recharge, PageInfo, error) {
	page = page.normalize(DefaultRechargePerPage)
	info := PageInfo{Page: page.Number, PerPage: page.PerPage}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM recharges`).Scan(&info.Total); err != nil {
		return nil, info, fmt.Errorf("count recharges: %w", err)
	}

	const query = `
		SELECT id, amount_mzn, fixed_fees_mzn, vat_percent, price_per_kwh, net_mzn, net_after_vat_mzn,
		       credited_kwh, balance_before_kwh, balance_after_kwh, created_at
		FROM recharges
		ORDER BY created_at DESC, id DESC
		LIMIT $1 OFFSET $2
	`
	rows, err := s.db.QueryContext(ctx, query, page.PerPage, page.offset())
	if err != nil {
		return nil, info, fmt.Errorf("list recharges: %w", err)
	}
	defer rows.Close()

	out := make([]models.Recharge, 0, page.PerPage)
	for rows.Next() {
		var r models.Recharge
		if err := rows.Scan(&r.ID, &r.AmountMZN, &r.FixedFeesMZN, &r.VATPercent, &r.PricePerKWh, &r.NetMZN,
			&r.NetAfterVATMZN, &r.CreditedKWh, &r.BalanceBeforeKWh, &r.BalanceAfterKWh, &r.CreatedAt); err != nil {
			return nil, info, fmt.Errorf("scan recharge: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, info, fmt.Errorf("list recharges: %w", err)
	}
	return out, info, nil
}

// ListReadings returns the stored history of one meter, newest first.
func (s *Store) ListReadings(ctx context.Context, meterID string, page Page) ([]models.MeterReading, PageInfo, error) {
	page = page.normalize(DefaultReadingPerPage)
	info := PageInfo{Page: page.Number, PerPage: page.PerPage}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM meter_readings WHERE meter_id = $1`, meterID).Scan(&info.Total); err != nil {
		return nil, info, fmt.Errorf("count readings: %w", err)
	}

	const query = `
		SELECT meter_id, voltage, current, power, energy, power_factor, frequency, recorded_at
		FROM meter_readings
		WHERE meter_id = $1
		ORDER BY recorded_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := s.db.QueryContext(ctx, query, meterID, page.PerPage, page.offset())
	if err != nil {
		return nil, info, fmt.Errorf("list readings: %w", err)
	}
	defer rows.Close()

	out := make([]models.MeterReading, 0, page.PerPage)
	for rows.Next() {
		var m models.MeterReading
		if err := rows.Scan(&m.MeterID, &m.Voltage, &m.Current, &m.Power, &m.Energy, &m.PowerFactor, &m.Frequency, &m.LastSeenAt); err != nil {
			return nil, info, fmt.Errorf("scan reading: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, info, fmt.Errorf("list readings: %w", err)
	}
	return out, info, nil
}

// CreateUser inserts an operator account.
func (s *Store) CreateUser(ctx context.Context, user *models.User) error {
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))
	const query = `
		INSERT INTO users (email, password_hash, role)
		VALUES ($1, $2, $3)
		ON CONFLICT (email) DO NOTHING
		RETURNING id, created_at
	`
	err := s.db.QueryRowContext(ctx, query, user.Email, user.PasswordHash, user.Role).Scan(&user.ID, &user.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.Conflict("user", "email %s already registered", user.Email)
	}
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// GetUserByEmail fetches an operator account.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	const query = `
		SELECT id, email, password_hash, role, created_at
		FROM users
		WHERE email = $1
		LIMIT 1
	`
	row := s.db.QueryRowContext(ctx, query, strings.ToLower(strings.TrimSpace(email)))
	var user models.User
	if err := row.Scan(&user.ID, &user.Email, &user.PasswordHash, &user.Role, &user.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user %s: %w", email, apperr.ErrNotFound)
		}
		return nil, err
	}
	return &user, nil
}
