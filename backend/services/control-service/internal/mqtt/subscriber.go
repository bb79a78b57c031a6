// Package mqtt feeds telemetry published by field devices into the engine.
package mqtt

import (
	"context"
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"prepaidgrid/backend/services/control-service/internal/apperr"
	"prepaidgrid/backend/services/control-service/internal/engine"
)

// Ingester runs an ingestion cycle.
type Ingester interface {
	Ingest(ctx context.Context, in engine.TelemetryInput) (engine.CycleReport, error)
}

// Options configures the broker connection.
type Options struct {
	Broker   string
	ClientID string
	Username string
	Password string
	Topic    string
	QoS      byte
}

// Subscriber consumes the telemetry topic.
type Subscriber struct {
	client   paho.Client
	opts     Options
	ingester Ingester
	logger   *zap.Logger
	timeout  time.Duration
}

// NewSubscriber prepares a client; nothing connects until Start.
func NewSubscriber(opts Options, ingester Ingester, logger *zap.Logger) *Subscriber {
	co := paho.NewClientOptions()
	co.AddBroker(opts.Broker)
	co.SetClientID(opts.ClientID)
	if opts.Username != "" {
		co.SetUsername(opts.Username)
	}
	if opts.Password != "" {
		co.SetPassword(opts.Password)
	}
	co.SetAutoReconnect(true)
	co.SetCleanSession(true)
	co.SetConnectRetry(true)

	s := &Subscriber{opts: opts, ingester: ingester, logger: logger, timeout: 10 * time.Second}
	co.SetOnConnectHandler(func(c paho.Client) {
		// Subscriptions are lost with a clean session, so resubscribe on every connect.
		if token := c.Subscribe(opts.Topic, opts.QoS, s.handle); token.Wait() && token.Error() != nil {
			logger.Error("mqtt subscribe failed", zap.String("topic", opts.Topic), zap.Error(token.Error()))
			return
		}
		logger.Info("mqtt subscribed", zap.String("topic", opts.Topic))
	})
	co.SetConnectionLostHandler(func(_ paho.Client, err error) {
		logger.Warn("mqtt connection lost", zap.Error(err))
	})
	s.client = paho.NewClient(co)
	return s
}

// Start connects to the broker.
func (s *Subscriber) Start() error {
	token := s.client.Connect()
	if !token.WaitTimeout(s.timeout) {
		return fmt.Errorf("mqtt: connect to %s timed out", s.opts.Broker)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt: connect to %s: %w", s.opts.Broker, err)
	}
	return nil
}

// Close disconnects, waiting briefly for in-flight work.
func (s *Subscriber) Close() {
	s.client.Disconnect(250)
}

func (s *Subscriber) handle(_ paho.Client, msg paho.Message) {
	s.Process(msg.Topic(), msg.Payload())
}

// Process decodes one message and runs it through the engine. Errors are logged; a
// failed cycle is re-derived from the next message.
func (s *Subscriber) Process(topic string, payload []byte) {
	in, err := engine.DecodeTelemetry(payload)
	if err != nil {
		s.logger.Warn("discarding telemetry message", zap.String("topic", topic), zap.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	report, err := s.ingester.Ingest(ctx, in)
	switch {
	case err == nil:
		s.logger.Debug("mqtt telemetry ingested", zap.String("cycle_id", report.CycleID), zap.Float64("balance_kwh", report.BalanceKWh))
	case apperr.IsValidation(err):
		s.logger.Warn("invalid telemetry message", zap.String("topic", topic), zap.Error(err))
	default:
		s.logger.Error("telemetry ingestion failed", zap.String("topic", topic), zap.Error(err))
	}
}
