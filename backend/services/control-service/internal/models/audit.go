package models

import "time"

// Reason records why a relay changed state.
type Reason string

// Audit reasons.
const (
	ReasonManual           Reason = "manual"
	ReasonLowBalance       Reason = "low_balance"
	ReasonBalanceRecovered Reason = "balance_recovered"
	ReasonSystem           Reason = "system"
)

// AuditEntry is one immutable relay transition record.
type AuditEntry struct {
	ID            int64     `db:"id" json:"id"`
	RelayID       int64     `db:"relay_id" json:"relay_id"`
	PreviousState State     `db:"previous_state" json:"previous_state"`
	NewState      State     `db:"new_state" json:"new_state"`
	Reason        Reason    `db:"reason" json:"reason"`
	Mode          Mode      `db:"mode" json:"mode"`
	BalanceKWh    float64   `db:"balance_kwh" json:"balance_kwh"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}
