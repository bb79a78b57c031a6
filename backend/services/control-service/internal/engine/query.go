package engine

import (
	"time"

	"prepaidgrid/backend/services/control-service/internal/models"
	"prepaidgrid/backend/services/control-service/internal/queue"
)

// RelayView is a relay with its remaining protection time.
type RelayView struct {
	models.Relay
	ProtectionRemainingSeconds int `json:"protection_remaining_seconds"`
}

// Dashboard is a read-only snapshot of the whole control state.
type Dashboard struct {
	BalanceKWh      float64               `json:"balance_kwh"`
	PricePerKWh     float64               `json:"price_per_kwh"`
	BalanceValueMZN float64               `json:"balance_value_mzn"`
	LivePowerW      float64               `json:"live_power_w"`
	Meters          []models.MeterReading `json:"meters"`
	Relays          []RelayView           `json:"relays"`
	PendingCommands int                   `json:"pending_commands"`
	GeneratedAt     time.Time             `json:"generated_at"`
}

// dashboard must be called with the lock held.
func (e *Engine) dashboard(now time.Time) Dashboard {
	relays := e.relays.List()
	views := make([]RelayView, 0, len(relays))
	for _, r := range relays {
		remaining := r.ProtectionRemaining(now, e.relays.Window())
		views = append(views, RelayView{
			Relay:                      r,
			ProtectionRemainingSeconds: int((remaining + time.Second - 1) / time.Second),
		})
	}
	return Dashboard{
		BalanceKWh:      e.ledger.Balance(),
		PricePerKWh:     e.ledger.PricePerKWh(),
		BalanceValueMZN: e.ledger.ValueMZN(),
		LivePowerW:      e.cache.LivePower(now, e.opts.LivenessWindow),
		Meters:          e.cache.Snapshot(now, e.opts.LivenessWindow),
		Relays:          views,
		PendingCommands: e.queue.Len(),
		GeneratedAt:     now,
	}
}

// Dashboard returns the current snapshot.
func (e *Engine) Dashboard() Dashboard {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dashboard(e.opts.Now())
}

// Ledger returns a copy of the ledger state.
func (e *Engine) Ledger() models.LedgerState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ledger.Snapshot()
}

// Relays lists every relay ordered by priority.
func (e *Engine) Relays() []models.Relay {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.relays.List()
}

// Relay returns one relay.
func (e *Engine) Relay(id int64) (models.Relay, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.relays.Get(id)
}

// PollCommand pops the oldest pending command as a device token. It returns an empty
// string when nothing is queued.
func (e *Engine) PollCommand() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	cmd, ok := e.queue.Dequeue()
	if !ok {
		return ""
	}
	return cmd.Token()
}

// PendingCommands lists queued commands without consuming them.
func (e *Engine) PendingCommands() []queue.Command {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.queue.Pending()
}

// Meters returns the cached last reading of every meter.
func (e *Engine) Meters() []models.MeterReading {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cache.Snapshot(e.opts.Now(), e.opts.LivenessWindow)
}
