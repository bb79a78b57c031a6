package models

import "time"

// Mode selects which authority may change a relay's state.
type Mode string

// State is the switching state of a relay.
type State string

// Relay modes.
const (
	ModeManual    Mode = "manual"
	ModeAutomatic Mode = "automatic"
)

// Relay states.
const (
	StateOn  State = "on"
	StateOff State = "off"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	return m == ModeManual || m == ModeAutomatic
}

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	return s == StateOn || s == StateOff
}

// Opposite returns the other state.
func (s State) Opposite() State {
	if s == StateOn {
		return StateOff
	}
	return StateOn
}

// Relay is the registry record of one physical actuator.
type Relay struct {
	ID                 int64      `db:"id" json:"id"`
	Name               string     `db:"name" json:"name"`
	MeterID            string     `db:"meter_id" json:"meter_id"`
	Mode               Mode       `db:"mode" json:"mode"`
	State              State      `db:"state" json:"state"`
	Priority           int        `db:"priority" json:"priority"`
	ThresholdKWh       float64    `db:"threshold_kwh" json:"threshold_kwh"`
	LastManualChangeAt *time.Time `db:"last_manual_change_at" json:"last_manual_change_at,omitempty"`
	LastAutoSyncAt     *time.Time `db:"last_auto_sync_at" json:"last_auto_sync_at,omitempty"`
	CreatedAt          time.Time  `db:"created_at" json:"created_at"`
}

// ProtectionRemaining returns how long the manual protection window stays open at now.
// Zero means the relay is not protected.
func (r Relay) ProtectionRemaining(now time.Time, window time.Duration) time.Duration {
	if r.LastManualChangeAt == nil {
		return 0
	}
	elapsed := now.Sub(*r.LastManualChangeAt)
	if elapsed >= window {
		return 0
	}
	return window - elapsed
}

// Protected reports whether non-manual writers must leave the relay alone at now.
func (r Relay) Protected(now time.Time, window time.Duration) bool {
	return r.ProtectionRemaining(now, window) > 0
}

// Clone returns a deep copy, detaching the timestamp pointers.
func (r Relay) Clone() Relay {
	out := r
	if r.LastManualChangeAt != nil {
		t := *r.LastManualChangeAt
		out.LastManualChangeAt = &t
	}
	if r.LastAutoSyncAt != nil {
		t := *r.LastAutoSyncAt
		out.LastAutoSyncAt = &t
	}
	return out
}
