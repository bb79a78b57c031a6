package models

import "time"

// MeterReading is the latest electrical snapshot reported by one meter.
type MeterReading struct {
	MeterID     string    `db:"meter_id" json:"meter_id"`
	Voltage     float64   `db:"voltage" json:"voltage"`
	Current     float64   `db:"current" json:"current"`
	Power       float64   `db:"power" json:"power"`
	Energy      float64   `db:"energy" json:"energy"`
	PowerFactor float64   `db:"power_factor" json:"power_factor"`
	Frequency   float64   `db:"frequency" json:"frequency"`
	Connected   bool      `db:"-" json:"connected"`
	LastSeenAt  time.Time `db:"recorded_at" json:"last_seen_at"`
}

// DeviceRelayState is a relay state as reported by the field device.
type DeviceRelayState struct {
	RelayID int64
	State   State
}
