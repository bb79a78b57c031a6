package models

import "time"

// LedgerState is the durable shape of the energy credit ledger.
type LedgerState struct {
	BalanceKWh  float64            `db:"balance_kwh" json:"balance_kwh"`
	PricePerKWh float64            `db:"price_per_kwh" json:"price_per_kwh"`
	Counters    map[string]float64 `db:"last_counters" json:"last_counters"`
	UpdatedAt   time.Time          `db:"updated_at" json:"updated_at"`
}

// Clone returns a copy with its own counters map.
func (l LedgerState) Clone() LedgerState {
	out := l
	out.Counters = make(map[string]float64, len(l.Counters))
	for k, v := range l.Counters {
		out.Counters[k] = v
	}
	return out
}

// Recharge is an immutable ledger credit record.
type Recharge struct {
	ID               int64     `db:"id" json:"id"`
	AmountMZN        float64   `db:"amount_mzn" json:"amount_mzn"`
	FixedFeesMZN     float64   `db:"fixed_fees_mzn" json:"fixed_fees_mzn"`
	VATPercent       float64   `db:"vat_percent" json:"vat_percent"`
	PricePerKWh      float64   `db:"price_per_kwh" json:"price_per_kwh"`
	NetMZN           float64   `db:"net_mzn" json:"net_mzn"`
	NetAfterVATMZN   float64   `db:"net_after_vat_mzn" json:"net_after_vat_mzn"`
	CreditedKWh      float64   `db:"credited_kwh" json:"credited_kwh"`
	BalanceBeforeKWh float64   `db:"balance_before_kwh" json:"balance_before_kwh"`
	BalanceAfterKWh  float64   `db:"balance_after_kwh" json:"balance_after_kwh"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
}
