package handlers

import (
	"context"

	"prepaidgrid/backend/services/control-service/internal/engine"
	"prepaidgrid/backend/services/control-service/internal/ledger"
	"prepaidgrid/backend/services/control-service/internal/models"
	"prepaidgrid/backend/services/control-service/internal/queue"
	"prepaidgrid/backend/services/control-service/internal/relay"
	"prepaidgrid/backend/services/control-service/internal/repository"
)

// Controller is the part of the engine the HTTP surface drives.
type Controller interface {
	Ingest(ctx context.Context, in engine.TelemetryInput) (engine.CycleReport, error)
	PollCommand() string
	PendingCommands() []queue.Command

	Dashboard() engine.Dashboard
	Ledger() models.LedgerState
	SetPrice(ctx context.Context, price float64) (models.LedgerState, error)
	PreviewRecharge(amountMZN float64) (ledger.Quote, error)
	Recharge(ctx context.Context, amountMZN float64) (models.Recharge, error)

	Relays() []models.Relay
	Relay(id int64) (models.Relay, error)
	CreateRelay(ctx context.Context, cfg relay.Config) (models.Relay, error)
	UpdateRelay(ctx context.Context, id int64, cfg relay.Config) (models.Relay, error)
	DeleteRelay(ctx context.Context, id int64) error
	SetMode(ctx context.Context, id int64, mode models.Mode) (models.Relay, error)
	SetState(ctx context.Context, id int64, target models.State) (models.Relay, error)
	Toggle(ctx context.Context, id int64) (models.Relay, error)
	ClearProtection(ctx context.Context, id int64) (models.Relay, error)
}

// History serves the paginated listings straight from storage.
type History interface {
	ListAudit(ctx context.Context, relayID int64, page repository.Page) ([]models.AuditEntry, repository.PageInfo, error)
	ListRecharges(ctx context.Context, page repository.Page) ([]models.Recharge, repository.PageInfo, error)
	ListReadings(ctx context.Context, meterID string, page repository.Page) ([]models.MeterReading, repository.PageInfo, error)
}
