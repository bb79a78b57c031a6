// Package ledger maintains the prepaid energy credit balance.
package ledger

import (
	"math"
	"time"

	"prepaidgrid/backend/services/control-service/internal/apperr"
	"prepaidgrid/backend/services/control-service/internal/models"
)

// DefaultEpsilonKWh is the smallest consumption (1 Wh) that is charged and persisted.
const DefaultEpsilonKWh = 0.001

// Consumption describes the outcome of one ApplyConsumption call.
type Consumption struct {
	TotalDeltaKWh    float64
	PerMeterKWh      map[string]float64
	Rebaselined      []string
	BalanceBeforeKWh float64
	BalanceAfterKWh  float64
	// Charged is true when the balance was decremented and must be persisted.
	Charged bool
}

// Ledger is the in-memory authority over the credit balance. It is not safe for
// concurrent use; the engine serializes access.
type Ledger struct {
	state   models.LedgerState
	epsilon float64
}

// New builds a ledger from its persisted state.
func New(state models.LedgerState, epsilon float64) *Ledger {
	if epsilon <= 0 {
		epsilon = DefaultEpsilonKWh
	}
	state = state.Clone()
	if state.BalanceKWh < 0 {
		state.BalanceKWh = 0
	}
	return &Ledger{state: state, epsilon: epsilon}
}

// Balance returns the current balance in kWh.
func (l *Ledger) Balance() float64 {
	return l.state.BalanceKWh
}

// PricePerKWh returns the configured energy price.
func (l *Ledger) PricePerKWh() float64 {
	return l.state.PricePerKWh
}

// Snapshot returns a detached copy of the ledger state.
func (l *Ledger) Snapshot() models.LedgerState {
	return l.state.Clone()
}

// Restore resets the ledger to a previous Snapshot.
func (l *Ledger) Restore(state models.LedgerState) {
	l.state = state.Clone()
}

// ApplyConsumption charges the energy consumed since the last known counter of every
// meter in counters (meter id to cumulative kWh).
//
// A meter seen for the first time, or whose counter went backwards, is re-baselined
// without charge. Non-finite counters are ignored. When the summed delta does not exceed epsilon nothing is charged and
// the positive deltas stay pending, so sub-epsilon consumption accumulates until it
// crosses the threshold.
func (l *Ledger) ApplyConsumption(counters map[string]float64, now time.Time) Consumption {
	result := Consumption{
		PerMeterKWh:      make(map[string]float64, len(counters)),
		BalanceBeforeKWh: l.state.BalanceKWh,
		BalanceAfterKWh:  l.state.BalanceKWh,
	}
	if l.state.Counters == nil {
		l.state.Counters = make(map[string]float64)
	}

	for meterID, current := range counters {
		if math.IsNaN(current) || math.IsInf(current, 0) {
			continue
		}
		previous, known := l.state.Counters[meterID]
		if !known || current < previous {
			l.state.Counters[meterID] = current
			result.Rebaselined = append(result.Rebaselined, meterID)
			continue
		}
		delta := current - previous
		if delta > 0 {
			result.PerMeterKWh[meterID] = delta
			result.TotalDeltaKWh += delta
		}
	}

	if result.TotalDeltaKWh <= l.epsilon {
		return result
	}

	for meterID := range result.PerMeterKWh {
		l.state.Counters[meterID] = counters[meterID]
	}
	l.state.BalanceKWh = math.Max(0, l.state.BalanceKWh-result.TotalDeltaKWh)
	l.state.UpdatedAt = now
	result.BalanceAfterKWh = l.state.BalanceKWh
	result.Charged = true
	return result
}

// ApplyRecharge credits a computed quote and returns the immutable credit record.
func (l *Ledger) ApplyRecharge(q Quote, now time.Time) models.Recharge {
	before := l.state.BalanceKWh
	l.state.BalanceKWh = before + q.CreditedKWh
	l.state.UpdatedAt = now
	return models.Recharge{
		AmountMZN:        q.AmountMZN,
		FixedFeesMZN:     q.FixedFeesMZN,
		VATPercent:       q.VATPercent,
		PricePerKWh:      q.PricePerKWh,
		NetMZN:           q.NetMZN,
		NetAfterVATMZN:   q.NetAfterVATMZN,
		CreditedKWh:      q.CreditedKWh,
		BalanceBeforeKWh: before,
		BalanceAfterKWh:  l.state.BalanceKWh,
		CreatedAt:        now,
	}
}

// SetPrice changes the price per kWh used for new recharges and valuations.
func (l *Ledger) SetPrice(price float64, now time.Time) error {
	if price <= 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		return apperr.Invalid("price_per_kwh", "must be positive, got %v", price)
	}
	l.state.PricePerKWh = price
	l.state.UpdatedAt = now
	return nil
}

// ValueMZN is the remaining balance priced at the current tariff.
func (l *Ledger) ValueMZN() float64 {
	return l.state.BalanceKWh * l.state.PricePerKWh
}
