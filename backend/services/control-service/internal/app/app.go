package app

import (
	"context"
	"database/sql"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	libdb "prepaidgrid/backend/libs/db"
	libredis "prepaidgrid/backend/libs/redis"
	"prepaidgrid/backend/services/control-service/internal/alerts"
	"prepaidgrid/backend/services/control-service/internal/auth"
	"prepaidgrid/backend/services/control-service/internal/config"
	"prepaidgrid/backend/services/control-service/internal/engine"
	httpserver "prepaidgrid/backend/services/control-service/internal/http"
	"prepaidgrid/backend/services/control-service/internal/http/handlers"
	"prepaidgrid/backend/services/control-service/internal/http/middleware"
	"prepaidgrid/backend/services/control-service/internal/ledger"
	"prepaidgrid/backend/services/control-service/internal/mqtt"
	"prepaidgrid/backend/services/control-service/internal/notify"
	"prepaidgrid/backend/services/control-service/internal/peaks"
	"prepaidgrid/backend/services/control-service/internal/repository"
	"prepaidgrid/backend/services/control-service/internal/ws"
)

const notifyBuffer = 64

// App wires control service dependencies.
type App struct {
	server        *httpserver.Server
	engine        *engine.Engine
	dispatcher    *notify.Dispatcher
	subscriber    *mqtt.Subscriber
	db            *sql.DB
	redis         *goredis.Client
	sweepInterval time.Duration
	logger        *zap.Logger
}

// New connects storage, restores the persisted state and builds every component.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	sqlDB, err := libdb.NewPostgresDB(cfg.Database.DSN)
	if err != nil {
		return nil, err
	}
	a := &App{db: sqlDB, sweepInterval: cfg.Alerts.SweepInterval, logger: logger}

	if cfg.Database.Migrate {
		if err := repository.EnsureSchema(ctx, sqlDB); err != nil {
			a.Close()
			return nil, err
		}
	}

	store := repository.NewStore(sqlDB)
	ledgerState, err := store.LoadLedger(ctx, cfg.Tariff.PricePerKWh)
	if err != nil {
		a.Close()
		return nil, err
	}
	relays, err := store.ListRelays(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	logger.Info("control state restored",
		zap.Float64("balance_kwh", ledgerState.BalanceKWh),
		zap.Int("relays", len(relays)),
		zap.Int("known_meters", len(ledgerState.Counters)),
	)

	dedup := alerts.NewDedup(a.dedupKeys(cfg.Redis), logger)
	dedup.SetTimeout(cfg.Alerts.DedupTimeout)

	hub := ws.NewHub(logger)
	transports := []notify.Transport{notify.NewBrowserTransport(hub)}
	if cfg.Telegram.BotToken != "" && cfg.Telegram.ChatID != "" {
		transports = append(transports, notify.NewTelegramTransport(cfg.Telegram.BaseURL, cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.Timeout))
	}
	a.dispatcher = notify.NewDispatcher(transports, notifyBuffer, cfg.Telegram.Timeout, logger)

	a.engine = engine.New(
		engine.Bootstrap{Ledger: ledgerState, Relays: relays},
		store,
		dedup,
		a.dispatcher,
		hub,
		engine.Options{
			ProtectWindow:  cfg.Control.ProtectWindow,
			LivenessWindow: cfg.Control.LivenessWindow,
			EpsilonKWh:     cfg.Control.EpsilonKWh,
			WriteTimeout:   cfg.Database.WriteTimeout,
			Fees: []ledger.Fee{
				{Name: "garbage", AmountMZN: cfg.Tariff.GarbageFeeMZN},
				{Name: "radio", AmountMZN: cfg.Tariff.RadioFeeMZN},
			},
			VATPercent: cfg.Tariff.VATPercent,
			Rules: alerts.Rules{
				LowBalanceKWh:    cfg.Alerts.LowBalanceKWh,
				PeakRatio:        cfg.Alerts.PeakRatio,
				MeterPowerLimitW: cfg.Alerts.MeterPowerLimitW,
				OfflineAfter:     cfg.Alerts.OfflineAfter,
			},
		},
		logger,
	)

	tokens := auth.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	authService := auth.NewService(store, auth.NewBcryptHasher(0), tokens, logger)
	if cfg.Auth.AdminEmail != "" {
		if err := authService.EnsureUser(ctx, cfg.Auth.AdminEmail, cfg.Auth.AdminPassword, "admin"); err != nil {
			a.Close()
			return nil, err
		}
	}
	if len(cfg.Auth.DeviceAPIKeys) == 0 {
		logger.Warn("no device api keys configured, telemetry and command polling will be rejected")
	}

	wsServer := ws.NewServer(hub, func() interface{} { return a.engine.Dashboard() }, cfg.HTTP.WriteTimeout, logger)

	router := httpserver.NewRouter(httpserver.RouterDeps{
		Device:    handlers.NewDeviceHandlers(a.engine, logger),
		Ledger:    handlers.NewLedgerHandlers(a.engine, store, logger),
		Relays:    handlers.NewRelayHandlers(a.engine, store, logger),
		Meters:    handlers.NewMeterHandlers(store, logger),
		Peaks:     handlers.NewPeakHandlers(peaks.NewService(store, a.engine, nil, logger), logger),
		Login:     handlers.NewLoginHandler(authService, logger),
		Health:    handlers.NewHealthHandler(),
		Dashboard: wsServer.HandleWS,
	}, middleware.APIKeyMiddleware(cfg.Auth.DeviceAPIKeys), middleware.AuthMiddleware(tokens))
	a.server = httpserver.NewServer(cfg.HTTPAddress(), router, logger, middleware.RequestLogger(logger))

	if cfg.MQTT.Broker != "" {
		a.subscriber = mqtt.NewSubscriber(mqtt.Options{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
			Topic:    cfg.MQTT.Topic,
			QoS:      byte(cfg.MQTT.QoS),
		}, a.engine, logger)
	}

	return a, nil
}

// dedupKeys returns the shared Redis key set, or nil for the in-memory one when Redis is
// not configured or unreachable.
func (a *App) dedupKeys(cfg config.RedisConfig) alerts.KeySet {
	if cfg.Addr == "" {
		return nil
	}
	client, err := libredis.NewRedisClient(libredis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
	if err != nil {
		a.logger.Warn("redis unavailable, alert dedup stays in memory", zap.String("addr", cfg.Addr), zap.Error(err))
		return nil
	}
	a.redis = client
	return alerts.NewRedisKeySet(client, cfg.KeyPrefix)
}

// Run serves HTTP, delivers notifications and sweeps time-based alerts until ctx is done.
func (a *App) Run(ctx context.Context) error {
	if a.subscriber != nil {
		if err := a.subscriber.Start(); err != nil {
			a.logger.Warn("mqtt not connected yet, retrying in background", zap.Error(err))
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.server.Run(gctx)
	})
	g.Go(func() error {
		a.dispatcher.Run(gctx)
		return nil
	})
	g.Go(func() error {
		a.sweep(gctx)
		return nil
	})
	return g.Wait()
}

func (a *App) sweep(ctx context.Context) {
	if a.sweepInterval <= 0 {
		return
	}
	ticker := time.NewTicker(a.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if fired := a.engine.Sweep(ctx); len(fired) > 0 {
				a.logger.Info("sweep raised alerts", zap.Int("count", len(fired)))
			}
		}
	}
}

// Close releases resources.
func (a *App) Close() {
	if a.subscriber != nil {
		a.subscriber.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("failed to close redis", zap.Error(err))
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("failed to close db", zap.Error(err))
		}
	}
}
