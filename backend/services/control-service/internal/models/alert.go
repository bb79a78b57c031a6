package models

import "time"

// Severity of an alert handed to the notification transports.
type Severity string

// Alert severities.
const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Alert is a notification request produced by the control core.
type Alert struct {
	EventClass string    `json:"event_class"`
	Message    string    `json:"message"`
	Severity   Severity  `json:"severity"`
	RaisedAt   time.Time `json:"raised_at"`
}
