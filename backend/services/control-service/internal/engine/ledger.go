package engine

import (
	"context"

	"go.uber.org/zap"

	"prepaidgrid/backend/services/control-service/internal/ledger"
	"prepaidgrid/backend/services/control-service/internal/models"
)

func (e *Engine) tariff() ledger.Tariff {
	return ledger.Tariff{
		PricePerKWh: e.ledger.PricePerKWh(),
		Fees:        e.opts.Fees,
		VATPercent:  e.opts.VATPercent,
	}
}

// PreviewRecharge prices amountMZN at the current tariff without applying it.
func (e *Engine) PreviewRecharge(amountMZN float64) (ledger.Quote, error) {
	e.mu.Lock()
	tariff := e.tariff()
	e.mu.Unlock()
	return ledger.Calculate(amountMZN, tariff)
}

// Recharge credits amountMZN to the ledger and runs a control pass in the same cycle so
// shed relays recover at once.
func (e *Engine) Recharge(ctx context.Context, amountMZN float64) (models.Recharge, error) {
	e.mu.Lock()
	now := e.opts.Now()

	quote, err := ledger.Calculate(amountMZN, e.tariff())
	if err != nil {
		e.mu.Unlock()
		return models.Recharge{}, err
	}

	sp := e.save()
	rec := e.ledger.ApplyRecharge(quote, now)
	state := e.ledger.Snapshot()
	batch := &models.CycleBatch{Ledger: &state, Recharge: &rec}
	cmds, shed := e.controlPass(batch, now)

	if err := e.commit(ctx, "recharge", batch); err != nil {
		e.rollback(sp)
		e.mu.Unlock()
		return models.Recharge{}, err
	}
	e.logTransitions(batch)
	e.enqueue(cmds, now)
	e.logger.Info("recharge applied",
		zap.Float64("amount_mzn", rec.AmountMZN),
		zap.Float64("credited_kwh", rec.CreditedKWh),
		zap.Float64("balance_kwh", rec.BalanceAfterKWh),
	)
	fired := e.evaluateAlerts(ctx, shed, now)
	dash := e.dashboard(now)
	e.mu.Unlock()

	e.afterUnlock(fired, &dash)
	return *batch.Recharge, nil
}

// SetPrice updates the price per kWh used for recharges and balance valuation.
func (e *Engine) SetPrice(ctx context.Context, price float64) (models.LedgerState, error) {
	e.mu.Lock()
	now := e.opts.Now()
	sp := e.save()

	if err := e.ledger.SetPrice(price, now); err != nil {
		e.mu.Unlock()
		return models.LedgerState{}, err
	}
	state := e.ledger.Snapshot()
	if err := e.commit(ctx, "set_price", &models.CycleBatch{Ledger: &state}); err != nil {
		e.rollback(sp)
		e.mu.Unlock()
		return models.LedgerState{}, err
	}
	e.logger.Info("price updated", zap.Float64("price_per_kwh", price))
	dash := e.dashboard(now)
	e.mu.Unlock()

	e.afterUnlock(nil, &dash)
	return state, nil
}
