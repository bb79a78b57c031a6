package models

import "time"

// Peak is the highest active power seen by any meter within a period.
type Peak struct {
	MeterID string    `json:"meter_id"`
	PowerW  float64   `json:"power_w"`
	At      time.Time `json:"at"`
	// Live is set when nothing was stored for the period and the value comes from the
	// telemetry cache instead.
	Live bool `json:"live"`
}

// DailyPeak is the highest power of one calendar day (UTC).
type DailyPeak struct {
	Date   time.Time `json:"date"`
	Label  string    `json:"label"`
	PowerW float64   `json:"power_w"`
}
