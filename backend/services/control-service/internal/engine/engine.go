// Package engine is the coordinator of the control core. Every operation takes the single
// engine mutex for its whole duration, so telemetry, ledger, relay mirror, command queue
// and dedup set always change together.
package engine

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"prepaidgrid/backend/services/control-service/internal/alerts"
	"prepaidgrid/backend/services/control-service/internal/apperr"
	"prepaidgrid/backend/services/control-service/internal/control"
	"prepaidgrid/backend/services/control-service/internal/ledger"
	"prepaidgrid/backend/services/control-service/internal/models"
	"prepaidgrid/backend/services/control-service/internal/queue"
	"prepaidgrid/backend/services/control-service/internal/relay"
	"prepaidgrid/backend/services/control-service/internal/telemetry"
)

// Store persists the staged output of a cycle.
type Store interface {
	CommitCycle(ctx context.Context, batch *models.CycleBatch) error
	InsertRelay(ctx context.Context, r models.Relay) (models.Relay, error)
	DeleteRelay(ctx context.Context, id int64) error
}

// Notifier receives alerts after the engine lock is released. Implementations must not
// block on network I/O.
type Notifier interface {
	Notify(alerts []models.Alert)
}

// Publisher receives a dashboard snapshot after every committed change.
type Publisher interface {
	PublishDashboard(d Dashboard)
}

// Options tunes the engine. Zero values select defaults.
type Options struct {
	ProtectWindow  time.Duration
	LivenessWindow time.Duration
	EpsilonKWh     float64
	WriteTimeout   time.Duration
	Fees           []ledger.Fee
	VATPercent     float64
	Rules          alerts.Rules
	Now            func() time.Time
}

func (o *Options) defaults() {
	if o.ProtectWindow <= 0 {
		o.ProtectWindow = relay.DefaultProtectWindow
	}
	if o.LivenessWindow <= 0 {
		o.LivenessWindow = time.Minute
	}
	if o.EpsilonKWh <= 0 {
		o.EpsilonKWh = ledger.DefaultEpsilonKWh
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 3 * time.Second
	}
	if o.Rules == (alerts.Rules{}) {
		o.Rules = alerts.DefaultRules()
	}
	if o.Now == nil {
		o.Now = func() time.Time { return time.Now().UTC() }
	}
}

// Bootstrap is the persisted state an engine starts from.
type Bootstrap struct {
	Ledger models.LedgerState
	Relays []models.Relay
}

// Engine owns all mutable control state.
type Engine struct {
	mu sync.Mutex

	cache  *telemetry.Cache
	ledger *ledger.Ledger
	relays *relay.Registry
	queue  *queue.Queue
	dedup  *alerts.Dedup

	store     Store
	notifier  Notifier
	publisher Publisher
	opts      Options
	logger    *zap.Logger
}

// New builds an engine. notifier and publisher may be nil.
func New(boot Bootstrap, store Store, dedup *alerts.Dedup, notifier Notifier, publisher Publisher, opts Options, logger *zap.Logger) *Engine {
	opts.defaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	if dedup == nil {
		dedup = alerts.NewDedup(nil, logger)
	}
	return &Engine{
		cache:     telemetry.NewCache(),
		ledger:    ledger.New(boot.Ledger, opts.EpsilonKWh),
		relays:    relay.NewRegistry(boot.Relays, opts.ProtectWindow),
		queue:     queue.New(),
		dedup:     dedup,
		store:     store,
		notifier:  notifier,
		publisher: publisher,
		opts:      opts,
		logger:    logger,
	}
}

type savepoint struct {
	cache  map[string]models.MeterReading
	ledger models.LedgerState
	relays map[int64]models.Relay
}

func (e *Engine) save() savepoint {
	return savepoint{
		cache:  e.cache.Export(),
		ledger: e.ledger.Snapshot(),
		relays: e.relays.Export(),
	}
}

func (e *Engine) rollback(sp savepoint) {
	e.cache.Restore(sp.cache)
	e.ledger.Restore(sp.ledger)
	e.relays.Restore(sp.relays)
}

// commit writes batch with the bounded write timeout. The caller's cancellation is
// ignored so a started cycle always runs to completion or rollback.
func (e *Engine) commit(ctx context.Context, op string, batch *models.CycleBatch) error {
	if batch.Empty() {
		return nil
	}
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.opts.WriteTimeout)
	defer cancel()
	if err := e.store.CommitCycle(wctx, batch); err != nil {
		e.logger.Error("cycle commit failed, rolled back", zap.String("op", op), zap.Error(err))
		return &apperr.PersistenceError{Op: op, Err: err}
	}
	return nil
}

// pending is a command staged until its batch commits.
type pending struct {
	relayID int64
	action  models.State
}

func (e *Engine) enqueue(cmds []pending, now time.Time) []queue.Command {
	out := make([]queue.Command, 0, len(cmds))
	for _, c := range cmds {
		out = append(out, e.queue.Enqueue(c.relayID, c.action, now))
	}
	return out
}

// controlPass runs the automatic loop against the current balance, applies the decisions
// to the mirror and stages their rows and commands.
func (e *Engine) controlPass(batch *models.CycleBatch, now time.Time) (cmds []pending, shed []models.Relay) {
	balance := e.ledger.Balance()
	res := control.Pass(e.relays.List(), balance, now, e.relays.Window())
	for _, d := range res.Decisions {
		tr, err := e.relays.AutoSetState(d.RelayID, d.Target, d.Reason, balance, now)
		if err != nil {
			e.logger.Warn("control decision rejected", zap.Int64("relay_id", d.RelayID), zap.Error(err))
			continue
		}
		if tr == nil {
			continue
		}
		stage(batch, tr)
		cmds = append(cmds, pending{relayID: d.RelayID, action: d.Target})
		if d.Reason == models.ReasonLowBalance {
			shed = append(shed, tr.Relay)
		}
	}
	return cmds, shed
}

func stage(batch *models.CycleBatch, tr *relay.Transition) {
	for i := range batch.Relays {
		if batch.Relays[i].ID == tr.Relay.ID {
			batch.Relays[i] = tr.Relay.Clone()
			batch.Audit = append(batch.Audit, tr.Audit)
			return
		}
	}
	batch.Relays = append(batch.Relays, tr.Relay.Clone())
	batch.Audit = append(batch.Audit, tr.Audit)
}

func (e *Engine) logTransitions(batch *models.CycleBatch) {
	for _, a := range batch.Audit {
		e.logger.Info("relay transition",
			zap.Int64("relay_id", a.RelayID),
			zap.String("from", string(a.PreviousState)),
			zap.String("to", string(a.NewState)),
			zap.String("reason", string(a.Reason)),
			zap.Float64("balance_kwh", a.BalanceKWh),
		)
	}
}

// evaluateAlerts must be called with the lock held.
func (e *Engine) evaluateAlerts(ctx context.Context, shed []models.Relay, now time.Time) []models.Alert {
	in := alerts.Input{
		BalanceKWh: e.ledger.Balance(),
		Meters:     e.cache.Snapshot(now, e.opts.LivenessWindow),
		Shed:       shed,
	}
	return e.dedup.Filter(ctx, e.opts.Rules.Candidates(in, now), now)
}

// afterUnlock hands alerts and the dashboard to the outbound collaborators.
func (e *Engine) afterUnlock(fired []models.Alert, dash *Dashboard) {
	if len(fired) > 0 && e.notifier != nil {
		e.notifier.Notify(fired)
	}
	if dash != nil && e.publisher != nil {
		e.publisher.PublishDashboard(*dash)
	}
}
