package engine

import (
	"context"
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"prepaidgrid/backend/services/control-service/internal/apperr"
	"prepaidgrid/backend/services/control-service/internal/models"
	"prepaidgrid/backend/services/control-service/internal/queue"
)

// TelemetryInput is one device upload: meter readings keyed by meter id and, optionally,
// the relay states the device currently drives.
type TelemetryInput struct {
	Meters map[string]models.MeterReading
	Relays []models.DeviceRelayState
}

// CycleReport summarizes a committed ingestion cycle.
type CycleReport struct {
	CycleID      string              `json:"cycle_id"`
	ChargedKWh   float64             `json:"charged_kwh"`
	BalanceKWh   float64             `json:"balance_kwh"`
	Rebaselined  []string            `json:"rebaselined,omitempty"`
	Transitions  []models.AuditEntry `json:"transitions,omitempty"`
	Commands     []queue.Command     `json:"commands,omitempty"`
	AlertsRaised []models.Alert      `json:"alerts_raised,omitempty"`
}

// Ingest runs one full cycle: cache update, consumption charge, device reconciliation,
// automatic control pass and alert evaluation. On a failed commit every in-memory change
// is rolled back, no command is enqueued and a PersistenceError is returned.
func (e *Engine) Ingest(ctx context.Context, in TelemetryInput) (CycleReport, error) {
	if len(in.Meters) == 0 && len(in.Relays) == 0 {
		return CycleReport{}, apperr.Invalid("meters", "payload carries no readings")
	}
	meterIDs := make([]string, 0, len(in.Meters))
	for id := range in.Meters {
		if strings.TrimSpace(id) == "" {
			return CycleReport{}, apperr.Invalid("meters", "meter id must not be empty")
		}
		meterIDs = append(meterIDs, id)
	}
	sort.Strings(meterIDs)

	cycleID := uuid.NewString()
	logger := e.logger.With(zap.String("cycle_id", cycleID))

	e.mu.Lock()
	report, fired, dash, err := e.ingestLocked(ctx, in, meterIDs, logger)
	e.mu.Unlock()

	if err != nil {
		return CycleReport{}, err
	}
	report.CycleID = cycleID
	report.AlertsRaised = fired
	e.afterUnlock(fired, dash)
	return report, nil
}

func (e *Engine) ingestLocked(ctx context.Context, in TelemetryInput, meterIDs []string, logger *zap.Logger) (CycleReport, []models.Alert, *Dashboard, error) {
	now := e.opts.Now()
	sp := e.save()
	batch := &models.CycleBatch{}

	counters := make(map[string]float64, len(meterIDs))
	for _, id := range meterIDs {
		e.cache.Ingest(id, in.Meters[id], now)
		reading, _ := e.cache.Get(id)
		batch.Readings = append(batch.Readings, reading)
		counters[id] = reading.Energy
	}

	consumption := e.ledger.ApplyConsumption(counters, now)
	if consumption.Charged {
		state := e.ledger.Snapshot()
		batch.Ledger = &state
	}
	if len(consumption.Rebaselined) > 0 {
		logger.Info("meter counters re-baselined", zap.Strings("meters", consumption.Rebaselined))
	}

	balance := e.ledger.Balance()
	for _, rep := range in.Relays {
		if tr := e.relays.Reconcile(rep.RelayID, rep.State, balance, now); tr != nil {
			stage(batch, tr)
		}
	}

	cmds, shed := e.controlPass(batch, now)

	if err := e.commit(ctx, "ingest", batch); err != nil {
		e.rollback(sp)
		return CycleReport{}, nil, nil, err
	}
	e.logTransitions(batch)

	report := CycleReport{
		BalanceKWh:  e.ledger.Balance(),
		Rebaselined: consumption.Rebaselined,
		Transitions: batch.Audit,
		Commands:    e.enqueue(cmds, now),
	}
	if consumption.Charged {
		report.ChargedKWh = consumption.TotalDeltaKWh
		logger.Debug("consumption charged",
			zap.Float64("delta_kwh", consumption.TotalDeltaKWh),
			zap.Float64("balance_kwh", report.BalanceKWh),
		)
	}

	fired := e.evaluateAlerts(ctx, shed, now)
	dash := e.dashboard(now)
	return report, fired, &dash, nil
}

// Sweep evaluates the time-based alerts without new telemetry, e.g. meters gone silent.
func (e *Engine) Sweep(ctx context.Context) []models.Alert {
	e.mu.Lock()
	now := e.opts.Now()
	fired := e.evaluateAlerts(ctx, nil, now)
	e.mu.Unlock()

	e.afterUnlock(fired, nil)
	return fired
}
