package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"prepaidgrid/backend/services/control-service/internal/apperr"
	"prepaidgrid/backend/services/control-service/internal/models"
	"prepaidgrid/backend/services/control-service/internal/relay"
)

// SetState applies an operator state command to a Manual relay and queues the matching
// device command. Requesting the current state succeeds without side effects.
func (e *Engine) SetState(ctx context.Context, id int64, target models.State) (models.Relay, error) {
	return e.manual(ctx, id, func(balance float64, now time.Time) (*relay.Transition, error) {
		return e.relays.ManualSetState(id, target, balance, now)
	})
}

// Toggle flips a Manual relay.
func (e *Engine) Toggle(ctx context.Context, id int64) (models.Relay, error) {
	return e.manual(ctx, id, func(balance float64, now time.Time) (*relay.Transition, error) {
		return e.relays.Toggle(id, balance, now)
	})
}

func (e *Engine) manual(ctx context.Context, id int64, apply func(balance float64, now time.Time) (*relay.Transition, error)) (models.Relay, error) {
	e.mu.Lock()
	now := e.opts.Now()
	sp := e.save()

	tr, err := apply(e.ledger.Balance(), now)
	if err != nil {
		e.mu.Unlock()
		return models.Relay{}, err
	}
	if tr == nil {
		r, err := e.relays.Get(id)
		e.mu.Unlock()
		return r, err
	}

	batch := &models.CycleBatch{}
	stage(batch, tr)
	if err := e.commit(ctx, "manual_state", batch); err != nil {
		e.rollback(sp)
		e.mu.Unlock()
		return models.Relay{}, err
	}
	e.logTransitions(batch)
	e.enqueue([]pending{{relayID: id, action: tr.Relay.State}}, now)
	dash := e.dashboard(now)
	e.mu.Unlock()

	e.afterUnlock(nil, &dash)
	return tr.Relay, nil
}

// SetMode switches a relay between Manual and Automatic.
func (e *Engine) SetMode(ctx context.Context, id int64, mode models.Mode) (models.Relay, error) {
	e.mu.Lock()
	now := e.opts.Now()
	sp := e.save()

	r, changed, err := e.relays.SetMode(id, mode, now)
	if err != nil || !changed {
		e.mu.Unlock()
		return r, err
	}
	if err := e.commit(ctx, "set_mode", &models.CycleBatch{Relays: []models.Relay{r}}); err != nil {
		e.rollback(sp)
		e.mu.Unlock()
		return models.Relay{}, err
	}
	e.logger.Info("relay mode changed", zap.Int64("relay_id", id), zap.String("mode", string(mode)))
	dash := e.dashboard(now)
	e.mu.Unlock()

	e.afterUnlock(nil, &dash)
	return r, nil
}

// ClearProtection closes a relay's protection window and immediately runs the automatic
// control pass so the relay catches up with the balance.
func (e *Engine) ClearProtection(ctx context.Context, id int64) (models.Relay, error) {
	e.mu.Lock()
	now := e.opts.Now()
	sp := e.save()

	r, err := e.relays.ClearProtection(id)
	if err != nil {
		e.mu.Unlock()
		return models.Relay{}, err
	}
	batch := &models.CycleBatch{Relays: []models.Relay{r}}
	cmds, shed := e.controlPass(batch, now)

	if err := e.commit(ctx, "clear_protection", batch); err != nil {
		e.rollback(sp)
		e.mu.Unlock()
		return models.Relay{}, err
	}
	e.logTransitions(batch)
	e.enqueue(cmds, now)
	fired := e.evaluateAlerts(ctx, shed, now)
	r, _ = e.relays.Get(id)
	dash := e.dashboard(now)
	e.mu.Unlock()

	e.afterUnlock(fired, &dash)
	return r, nil
}

// CreateRelay registers a new Automatic relay.
func (e *Engine) CreateRelay(ctx context.Context, cfg relay.Config) (models.Relay, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	r, err := relay.NewRelay(cfg, e.opts.Now())
	if err != nil {
		return models.Relay{}, err
	}
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.opts.WriteTimeout)
	defer cancel()
	created, err := e.store.InsertRelay(wctx, r)
	if err != nil {
		return models.Relay{}, &apperr.PersistenceError{Op: "create_relay", Err: err}
	}
	if err := e.relays.Put(created); err != nil {
		return models.Relay{}, err
	}
	e.logger.Info("relay created", zap.Int64("relay_id", created.ID), zap.String("name", created.Name))
	return created, nil
}

// UpdateRelay changes a relay's name, meter, priority and threshold, then runs the
// automatic control pass so a moved threshold takes effect at once.
func (e *Engine) UpdateRelay(ctx context.Context, id int64, cfg relay.Config) (models.Relay, error) {
	e.mu.Lock()
	now := e.opts.Now()
	sp := e.save()

	r, err := e.relays.Reconfigure(id, cfg)
	if err != nil {
		e.mu.Unlock()
		return models.Relay{}, err
	}
	if err := e.relays.Put(r); err != nil {
		e.mu.Unlock()
		return models.Relay{}, err
	}
	batch := &models.CycleBatch{Relays: []models.Relay{r}}
	cmds, shed := e.controlPass(batch, now)

	if err := e.commit(ctx, "update_relay", batch); err != nil {
		e.rollback(sp)
		e.mu.Unlock()
		return models.Relay{}, err
	}
	e.logTransitions(batch)
	e.enqueue(cmds, now)
	fired := e.evaluateAlerts(ctx, shed, now)
	r, _ = e.relays.Get(id)
	dash := e.dashboard(now)
	e.mu.Unlock()

	e.afterUnlock(fired, &dash)
	return r, nil
}

// DeleteRelay removes a relay and purges its pending commands. Audit rows cascade in
// storage.
func (e *Engine) DeleteRelay(ctx context.Context, id int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := e.relays.Get(id); err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.opts.WriteTimeout)
	defer cancel()
	if err := e.store.DeleteRelay(wctx, id); err != nil {
		if apperr.IsNotFound(err) {
			return err
		}
		return &apperr.PersistenceError{Op: "delete_relay", Err: fmt.Errorf("relay %d: %w", id, err)}
	}
	_ = e.relays.Remove(id)
	purged := e.queue.PurgeRelay(id)
	e.logger.Info("relay deleted", zap.Int64("relay_id", id), zap.Int("purged_commands", purged))
	return nil
}
