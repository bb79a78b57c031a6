package ledger

import (
	"math"

	"github.com/shopspring/decimal"

	"prepaidgrid/backend/services/control-service/internal/apperr"
)

// Fee is a fixed administrative charge deducted from every recharge.
type Fee struct {
	Name      string  `yaml:"name" json:"name"`
	AmountMZN float64 `yaml:"amount" json:"amount_mzn"`
}

// Tariff is the pricing snapshot a recharge is computed against.
type Tariff struct {
	PricePerKWh float64
	Fees        []Fee
	VATPercent  float64
}

// Quote is the result of pricing a recharge amount. Monetary and energy figures are
// rounded to two decimals.
type Quote struct {
	AmountMZN      float64 `json:"amount_mzn"`
	FixedFeesMZN   float64 `json:"fixed_fees_mzn"`
	VATPercent     float64 `json:"vat_percent"`
	PricePerKWh    float64 `json:"price_per_kwh"`
	NetMZN         float64 `json:"net_mzn"`
	NetAfterVATMZN float64 `json:"net_after_vat_mzn"`
	CreditedKWh    float64 `json:"credited_kwh"`
}

var hundred = decimal.NewFromInt(100)

// Calculate prices amountMZN:
//
//	net         = amount - sum(fees)
//	netAfterVat = net * (1 - vat/100)
//	kWh         = netAfterVat / price
func Calculate(amountMZN float64, tariff Tariff) (Quote, error) {
	if !finite(amountMZN) || amountMZN <= 0 {
		return Quote{}, apperr.Invalid("amount_mzn", "must be positive, got %v", amountMZN)
	}
	if !finite(tariff.PricePerKWh) || tariff.PricePerKWh <= 0 {
		return Quote{}, apperr.Invalid("price_per_kwh", "must be positive, got %v", tariff.PricePerKWh)
	}
	if !finite(tariff.VATPercent) || tariff.VATPercent < 0 || tariff.VATPercent >= 100 {
		return Quote{}, apperr.Invalid("vat_percent", "must be within [0, 100), got %v", tariff.VATPercent)
	}

	amount := decimal.NewFromFloat(amountMZN)
	fees := decimal.Zero
	for _, f := range tariff.Fees {
		if !finite(f.AmountMZN) || f.AmountMZN < 0 {
			return Quote{}, apperr.Invalid("fees", "fee %q must not be negative", f.Name)
		}
		fees = fees.Add(decimal.NewFromFloat(f.AmountMZN))
	}

	net := amount.Sub(fees)
	if !net.IsPositive() {
		return Quote{}, apperr.Invalid("amount_mzn", "%v does not cover fixed fees of %v", amountMZN, fees.InexactFloat64())
	}

	vat := decimal.NewFromFloat(tariff.VATPercent)
	netAfterVat := net.Mul(decimal.NewFromInt(1).Sub(vat.Div(hundred)))
	kwh := netAfterVat.Div(decimal.NewFromFloat(tariff.PricePerKWh))

	return Quote{
		AmountMZN:      amountMZN,
		FixedFeesMZN:   fees.Round(2).InexactFloat64(),
		VATPercent:     tariff.VATPercent,
		PricePerKWh:    tariff.PricePerKWh,
		NetMZN:         net.Round(2).InexactFloat64(),
		NetAfterVATMZN: netAfterVat.Round(2).InexactFloat64(),
		CreditedKWh:    kwh.Round(2).InexactFloat64(),
	}, nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
