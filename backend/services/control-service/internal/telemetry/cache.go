// Package telemetry keeps the last reading reported by every meter.
package telemetry

import (
	"sort"
	"time"

	"prepaidgrid/backend/services/control-service/internal/models"
)

// Cache holds the newest reading per meter. It has no lock of its own: the engine
// serializes every access under its cycle mutex.
type Cache struct {
	readings map[string]models.MeterReading
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{readings: make(map[string]models.MeterReading)}
}

// Ingest replaces the cached reading for meterID and stamps it as seen at now.
func (c *Cache) Ingest(meterID string, reading models.MeterReading, now time.Time) {
	reading.MeterID = meterID
	reading.Connected = true
	reading.LastSeenAt = now
	c.readings[meterID] = reading
}

// Get returns the cached reading for meterID.
func (c *Cache) Get(meterID string) (models.MeterReading, bool) {
	r, ok := c.readings[meterID]
	return r, ok
}

// IsLive reports whether meterID reported within window before now.
func (c *Cache) IsLive(meterID string, now time.Time, window time.Duration) bool {
	r, ok := c.readings[meterID]
	if !ok || r.LastSeenAt.IsZero() {
		return false
	}
	return now.Sub(r.LastSeenAt) <= window
}

// Snapshot returns all readings ordered by meter id with Connected derived from window.
func (c *Cache) Snapshot(now time.Time, window time.Duration) []models.MeterReading {
	out := make([]models.MeterReading, 0, len(c.readings))
	for id, r := range c.readings {
		r.Connected = c.IsLive(id, now, window)
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MeterID < out[j].MeterID })
	return out
}

// LivePower sums the active power of meters that are live at now.
func (c *Cache) LivePower(now time.Time, window time.Duration) float64 {
	var total float64
	for id, r := range c.readings {
		if c.IsLive(id, now, window) {
			total += r.Power
		}
	}
	return total
}

// Export copies the cache content, for rollback.
func (c *Cache) Export() map[string]models.MeterReading {
	out := make(map[string]models.MeterReading, len(c.readings))
	for k, v := range c.readings {
		out[k] = v
	}
	return out
}

// Restore replaces the cache content with a previous Export.
func (c *Cache) Restore(readings map[string]models.MeterReading) {
	c.readings = make(map[string]models.MeterReading, len(readings))
	for k, v := range readings {
		c.readings[k] = v
	}
}
