package relay

import (
	"time"

	"prepaidgrid/backend/services/control-service/internal/apperr"
	"prepaidgrid/backend/services/control-service/internal/models"
)

// SetMode switches relay id between Manual and Automatic. Entering Manual opens the
// protection window; entering Automatic leaves any open window in place. changed is
// false when the relay already had that mode.
func (g *Registry) SetMode(id int64, mode models.Mode, now time.Time) (r models.Relay, changed bool, err error) {
	if !mode.Valid() {
		return models.Relay{}, false, apperr.Invalid("mode", "unknown mode %q", mode)
	}
	r, err = g.Get(id)
	if err != nil {
		return models.Relay{}, false, err
	}
	if r.Mode == mode {
		return r, false, nil
	}
	r.Mode = mode
	if mode == models.ModeManual {
		stamp := now
		r.LastManualChangeAt = &stamp
	}
	g.relays[id] = r.Clone()
	return r, true, nil
}

// ManualSetState applies an operator state command. The relay must be in Manual mode.
// Setting the current state is a successful no-op and returns a nil transition.
func (g *Registry) ManualSetState(id int64, target models.State, balanceKWh float64, now time.Time) (*Transition, error) {
	if !target.Valid() {
		return nil, apperr.Invalid("state", "unknown state %q", target)
	}
	r, err := g.Get(id)
	if err != nil {
		return nil, err
	}
	if r.Mode != models.ModeManual {
		return nil, apperr.Conflict("relay", "relay %d is in %s mode; switch to manual first", id, r.Mode)
	}
	if r.State == target {
		return nil, nil
	}
	stamp := now
	r.LastManualChangeAt = &stamp
	return g.commit(r, target, models.ReasonManual, balanceKWh, now), nil
}

// Toggle flips the state of a Manual relay.
func (g *Registry) Toggle(id int64, balanceKWh float64, now time.Time) (*Transition, error) {
	r, err := g.Get(id)
	if err != nil {
		return nil, err
	}
	return g.ManualSetState(id, r.State.Opposite(), balanceKWh, now)
}

// ClearProtection closes the protection window of relay id immediately.
func (g *Registry) ClearProtection(id int64) (models.Relay, error) {
	r, err := g.Get(id)
	if err != nil {
		return models.Relay{}, err
	}
	r.LastManualChangeAt = nil
	g.relays[id] = r.Clone()
	return r, nil
}

// AutoSetState applies a control loop decision. Manual or protected relays reject it
// with a ConflictError; a decision matching the current state is a nil transition.
func (g *Registry) AutoSetState(id int64, target models.State, reason models.Reason, balanceKWh float64, now time.Time) (*Transition, error) {
	r, err := g.Get(id)
	if err != nil {
		return nil, err
	}
	if err := g.automaticWritable(r, now); err != nil {
		return nil, err
	}
	if r.State == target {
		return nil, nil
	}
	return g.commit(r, target, reason, balanceKWh, now), nil
}

// Reconcile adopts a state reported by the field device. Reports for unknown, Manual or
// protected relays, and reports matching the mirror, are dropped with a nil transition.
func (g *Registry) Reconcile(id int64, reported models.State, balanceKWh float64, now time.Time) *Transition {
	r, err := g.Get(id)
	if err != nil || !reported.Valid() {
		return nil
	}
	if g.automaticWritable(r, now) != nil || r.State == reported {
		return nil
	}
	stamp := now
	r.LastAutoSyncAt = &stamp
	return g.commit(r, reported, models.ReasonSystem, balanceKWh, now)
}

func (g *Registry) automaticWritable(r models.Relay, now time.Time) error {
	if r.Mode != models.ModeAutomatic {
		return apperr.Conflict("relay", "relay %d is in %s mode", r.ID, r.Mode)
	}
	if remaining := r.ProtectionRemaining(now, g.window); remaining > 0 {
		return apperr.Conflict("relay", "relay %d is protected for another %s", r.ID, remaining.Round(time.Second))
	}
	return nil
}

func (g *Registry) commit(r models.Relay, target models.State, reason models.Reason, balanceKWh float64, now time.Time) *Transition {
	entry := models.AuditEntry{
		RelayID:       r.ID,
		PreviousState: r.State,
		NewState:      target,
		Reason:        reason,
		Mode:          r.Mode,
		BalanceKWh:    balanceKWh,
		CreatedAt:     now,
	}
	r.State = target
	g.relays[r.ID] = r.Clone()
	return &Transition{Relay: r, Audit: entry}
}
