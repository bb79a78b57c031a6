package alerts

import (
	"fmt"
	"time"

	"prepaidgrid/backend/services/control-service/internal/models"
)

// Event classes. Per-relay and per-meter classes carry the id after a colon.
const (
	ClassLowBalance      = "low_balance"
	ClassPeakConsumption = "peak_consumption"
	ClassRelayShed       = "relay_shed"
	ClassMeterOffline    = "meter_offline"
)

// Rules holds the alert thresholds.
type Rules struct {
	LowBalanceKWh    float64
	PeakRatio        float64
	MeterPowerLimitW float64
	OfflineAfter     time.Duration
}

// DefaultRules mirrors the shipped configuration.
func DefaultRules() Rules {
	return Rules{
		LowBalanceKWh:    5,
		PeakRatio:        0.8,
		MeterPowerLimitW: 1000,
		OfflineAfter:     2 * time.Minute,
	}
}

// Input is what the rules look at. Meters is a telemetry snapshot; Shed lists relays
// switched Off for low balance in the cycle being evaluated.
type Input struct {
	BalanceKWh float64
	Meters     []models.MeterReading
	Shed       []models.Relay
}

// Candidate pairs an event class with its predicate and the alert to send if it fires.
type Candidate struct {
	Class     string
	Predicate bool
	Alert     models.Alert
}

// Candidates evaluates every rule against in. Rules that cannot apply, such as the
// peak rule without meters, are omitted.
func (r Rules) Candidates(in Input, now time.Time) []Candidate {
	out := []Candidate{r.lowBalance(in, now)}

	if c, ok := r.peak(in, now); ok {
		out = append(out, c)
	}

	for _, relay := range in.Shed {
		class := fmt.Sprintf("%s:%d", ClassRelayShed, relay.ID)
		out = append(out, Candidate{
			Class:     class,
			Predicate: true,
			Alert: models.Alert{
				EventClass: class,
				Message:    fmt.Sprintf("Relay %q switched off: balance %.2f kWh at or below threshold %.2f kWh", relay.Name, in.BalanceKWh, relay.ThresholdKWh),
				Severity:   models.SeverityWarning,
				RaisedAt:   now,
			},
		})
	}

	if r.OfflineAfter > 0 {
		for _, m := range in.Meters {
			class := ClassMeterOffline + ":" + m.MeterID
			silent := now.Sub(m.LastSeenAt)
			out = append(out, Candidate{
				Class:     class,
				Predicate: !m.LastSeenAt.IsZero() && silent > r.OfflineAfter,
				Alert: models.Alert{
					EventClass: class,
					Message:    fmt.Sprintf("Meter %s offline for %s", m.MeterID, silent.Round(time.Second)),
					Severity:   models.SeverityCritical,
					RaisedAt:   now,
				},
			})
		}
	}
	return out
}

func (r Rules) lowBalance(in Input, now time.Time) Candidate {
	return Candidate{
		Class:     ClassLowBalance,
		Predicate: in.BalanceKWh <= r.LowBalanceKWh,
		Alert: models.Alert{
			EventClass: ClassLowBalance,
			Message:    fmt.Sprintf("Energy balance low: %.2f kWh remaining (limit %.2f kWh)", in.BalanceKWh, r.LowBalanceKWh),
			Severity:   models.SeverityCritical,
			RaisedAt:   now,
		},
	}
}

func (r Rules) peak(in Input, now time.Time) (Candidate, bool) {
	if len(in.Meters) == 0 || r.MeterPowerLimitW <= 0 || r.PeakRatio <= 0 {
		return Candidate{}, false
	}
	var total float64
	for _, m := range in.Meters {
		if m.Connected {
			total += m.Power
		}
	}
	limit := r.MeterPowerLimitW * float64(len(in.Meters))
	return Candidate{
		Class:     ClassPeakConsumption,
		Predicate: total >= r.PeakRatio*limit,
		Alert: models.Alert{
			EventClass: ClassPeakConsumption,
			Message:    fmt.Sprintf("Peak consumption: %.0f W of %.0f W capacity", total, limit),
			Severity:   models.SeverityWarning,
			RaisedAt:   now,
		},
	}, true
}
