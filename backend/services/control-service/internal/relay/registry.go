// Package relay mirrors the durable relay registry in memory and enforces which writer
// may change a relay's state.
package relay

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"prepaidgrid/backend/services/control-service/internal/apperr"
	"prepaidgrid/backend/services/control-service/internal/models"
)

// DefaultProtectWindow is how long automatic and device writers leave a relay alone
// after a manual action.
const DefaultProtectWindow = 30 * time.Second

// Defaults applied to newly created relays.
const (
	DefaultPriority     = 3
	DefaultThresholdKWh = 5.0
)

// Transition is one accepted state change together with its audit record.
type Transition struct {
	Relay models.Relay
	Audit models.AuditEntry
}

// Config holds the operator-editable relay attributes.
type Config struct {
	Name         string  `json:"name"`
	MeterID      string  `json:"meter_id"`
	Priority     int     `json:"priority"`
	ThresholdKWh float64 `json:"threshold_kwh"`
}

// Validate checks the configurable attributes.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return apperr.Invalid("name", "is required")
	}
	if c.Priority < 1 || c.Priority > 5 {
		return apperr.Invalid("priority", "must be between 1 and 5, got %d", c.Priority)
	}
	if c.ThresholdKWh < 0 {
		return apperr.Invalid("threshold_kwh", "must not be negative, got %v", c.ThresholdKWh)
	}
	return nil
}

// Registry is the in-memory mirror of the relay table. Not safe for concurrent use.
type Registry struct {
	relays map[int64]models.Relay
	window time.Duration
}

// NewRegistry loads relays into a fresh mirror.
func NewRegistry(relays []models.Relay, window time.Duration) *Registry {
	if window <= 0 {
		window = DefaultProtectWindow
	}
	g := &Registry{relays: make(map[int64]models.Relay, len(relays)), window: window}
	for _, r := range relays {
		g.relays[r.ID] = r.Clone()
	}
	return g
}

// Window returns the protection window length.
func (g *Registry) Window() time.Duration {
	return g.window
}

// Get returns a copy of relay id.
func (g *Registry) Get(id int64) (models.Relay, error) {
	r, ok := g.relays[id]
	if !ok {
		return models.Relay{}, fmt.Errorf("relay %d: %w", id, apperr.ErrNotFound)
	}
	return r.Clone(), nil
}

// List returns copies of all relays ordered by priority, then id.
func (g *Registry) List() []models.Relay {
	out := make([]models.Relay, 0, len(g.relays))
	for _, r := range g.relays {
		out = append(out, r.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Len reports how many relays are registered.
func (g *Registry) Len() int {
	return len(g.relays)
}

// Export copies the whole registry for rollback.
func (g *Registry) Export() map[int64]models.Relay {
	out := make(map[int64]models.Relay, len(g.relays))
	for id, r := range g.relays {
		out[id] = r.Clone()
	}
	return out
}

// Restore replaces the registry contents with an Export result.
func (g *Registry) Restore(saved map[int64]models.Relay) {
	g.relays = make(map[int64]models.Relay, len(saved))
	for id, r := range saved {
		g.relays[id] = r.Clone()
	}
}

// NewRelay builds an unsaved Automatic relay, initially Off. A zero priority selects
// DefaultPriority.
func NewRelay(cfg Config, now time.Time) (models.Relay, error) {
	if cfg.Priority == 0 {
		cfg.Priority = DefaultPriority
	}
	if err := cfg.Validate(); err != nil {
		return models.Relay{}, err
	}
	return models.Relay{
		Name:         strings.TrimSpace(cfg.Name),
		MeterID:      cfg.MeterID,
		Mode:         models.ModeAutomatic,
		State:        models.StateOff,
		Priority:     cfg.Priority,
		ThresholdKWh: cfg.ThresholdKWh,
		CreatedAt:    now,
	}, nil
}

// Put inserts or replaces a persisted relay.
func (g *Registry) Put(r models.Relay) error {
	if r.ID <= 0 {
		return apperr.Invalid("id", "relay must be persisted before registration")
	}
	g.relays[r.ID] = r.Clone()
	return nil
}

// Reconfigure returns relay id with cfg applied, without storing it.
func (g *Registry) Reconfigure(id int64, cfg Config) (models.Relay, error) {
	r, err := g.Get(id)
	if err != nil {
		return models.Relay{}, err
	}
	if err := cfg.Validate(); err != nil {
		return models.Relay{}, err
	}
	r.Name = strings.TrimSpace(cfg.Name)
	r.MeterID = cfg.MeterID
	r.Priority = cfg.Priority
	r.ThresholdKWh = cfg.ThresholdKWh
	return r, nil
}

// Remove deletes relay id from the mirror.
func (g *Registry) Remove(id int64) error {
	if _, ok := g.relays[id]; !ok {
		return fmt.Errorf("relay %d: %w", id, apperr.ErrNotFound)
	}
	delete(g.relays, id)
	return nil
}
