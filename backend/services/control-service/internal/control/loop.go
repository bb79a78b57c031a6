// Package control decides which Automatic relays must switch for the current balance.
package control

import (
	"time"

	"prepaidgrid/backend/services/control-service/internal/models"
)

// Decision is a state change the loop wants applied to one relay.
type Decision struct {
	RelayID int64
	Target  models.State
	Reason  models.Reason
}

// Skip explains why a relay was left untouched.
type Skip string

// Skip reasons.
const (
	SkipManual    Skip = "manual"
	SkipProtected Skip = "protected"
	SkipSteady    Skip = "steady"
)

// Result is the outcome of one pass.
type Result struct {
	Decisions []Decision
	Skipped   map[int64]Skip
}

// Pass evaluates relays, which must already be ordered by priority, against the balance.
// It does not mutate anything.
//
// A relay at or below its threshold that is On is shed; one above its threshold that is
// Off is restored. Manual relays and relays inside the protection window are skipped.
func Pass(relays []models.Relay, balanceKWh float64, now time.Time, window time.Duration) Result {
	res := Result{Skipped: make(map[int64]Skip)}
	for _, r := range relays {
		switch {
		case r.Mode != models.ModeAutomatic:
			res.Skipped[r.ID] = SkipManual
		case r.Protected(now, window):
			res.Skipped[r.ID] = SkipProtected
		case balanceKWh <= r.ThresholdKWh && r.State == models.StateOn:
			res.Decisions = append(res.Decisions, Decision{RelayID: r.ID, Target: models.StateOff, Reason: models.ReasonLowBalance})
		case balanceKWh > r.ThresholdKWh && r.State == models.StateOff:
			res.Decisions = append(res.Decisions, Decision{RelayID: r.ID, Target: models.StateOn, Reason: models.ReasonBalanceRecovered})
		default:
			res.Skipped[r.ID] = SkipSteady
		}
	}
	return res
}
