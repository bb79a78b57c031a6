// Package alerts decides which notifications to raise and suppresses repeats of the same
// event class within one hour bucket.
package alerts

import (
	"context"
	"time"

	"go.uber.org/zap"

	"prepaidgrid/backend/services/control-service/internal/models"
)

const bucketLayout = "2006010215"

// DefaultTimeout bounds the key set round trips of one Filter call.
const DefaultTimeout = 250 * time.Millisecond

// Dedup rate-limits event classes to one signal per hour bucket.
type Dedup struct {
	keys     KeySet
	fallback *MemoryKeySet
	timeout  time.Duration
	logger   *zap.Logger
}

// NewDedup uses keys as the primary set. When the primary fails the in-memory fallback
// answers so an outage never silences alerts entirely.
func NewDedup(keys KeySet, logger *zap.Logger) *Dedup {
	if logger == nil {
		logger = zap.NewNop()
	}
	fallback := NewMemoryKeySet()
	if keys == nil {
		keys = fallback
	}
	return &Dedup{keys: keys, fallback: fallback, timeout: DefaultTimeout, logger: logger}
}

// SetTimeout changes the budget of one Filter call. Non-positive values are ignored.
func (d *Dedup) SetTimeout(timeout time.Duration) {
	if timeout > 0 {
		d.timeout = timeout
	}
}

// Key returns the dedup key of eventClass for the hour bucket containing now.
func Key(eventClass string, now time.Time) string {
	return eventClass + ":" + now.UTC().Format(bucketLayout)
}

// Evaluate reports whether a notification for eventClass should fire. It fires when
// predicate holds and the class has not fired yet in the current hour bucket.
func (d *Dedup) Evaluate(ctx context.Context, eventClass string, predicate bool, now time.Time) bool {
	if !predicate {
		return false
	}
	key := Key(eventClass, now)
	expiresAt := now.UTC().Truncate(time.Hour).Add(time.Hour)

	fresh, err := d.keys.Add(ctx, key, expiresAt, now)
	if err != nil {
		d.logger.Warn("dedup key set unavailable, using local set", zap.String("key", key), zap.Error(err))
		fresh, _ = d.fallback.Add(ctx, key, expiresAt, now)
	}
	return fresh
}

// Purge drops expired keys. Called before each evaluation pass.
func (d *Dedup) Purge(ctx context.Context, now time.Time) {
	if err := d.keys.Purge(ctx, now); err != nil {
		d.logger.Warn("purge dedup keys", zap.Error(err))
	}
	if d.keys != KeySet(d.fallback) {
		_ = d.fallback.Purge(ctx, now)
	}
}

// Filter purges expired keys, then returns the alerts of the candidates that fire.
// A slow primary set is cut off after the timeout and the local set answers instead.
func (d *Dedup) Filter(ctx context.Context, candidates []Candidate, now time.Time) []models.Alert {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
	defer cancel()
	d.Purge(ctx, now)
	var out []models.Alert
	for _, c := range candidates {
		if d.Evaluate(ctx, c.Class, c.Predicate, now) {
			out = append(out, c.Alert)
		}
	}
	return out
}
