// Package notify delivers alerts to the outbound transports, away from the engine lock.
package notify

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"prepaidgrid/backend/services/control-service/internal/apperr"
	"prepaidgrid/backend/services/control-service/internal/models"
)

// Transport sends one alert over one channel.
type Transport interface {
	Name() string
	Send(ctx context.Context, alert models.Alert) error
}

// Dispatcher buffers alerts and fans them out to every transport from its own goroutine.
// Failures are logged and never retried.
type Dispatcher struct {
	transports []Transport
	queue      chan models.Alert
	timeout    time.Duration
	logger     *zap.Logger

	wg sync.WaitGroup
}

// NewDispatcher builds a dispatcher with room for buffer pending alerts.
func NewDispatcher(transports []Transport, buffer int, timeout time.Duration, logger *zap.Logger) *Dispatcher {
	if buffer <= 0 {
		buffer = 64
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		transports: transports,
		queue:      make(chan models.Alert, buffer),
		timeout:    timeout,
		logger:     logger,
	}
}

// Notify queues alerts without blocking. Alerts that do not fit are dropped.
func (d *Dispatcher) Notify(alerts []models.Alert) {
	for _, a := range alerts {
		select {
		case d.queue <- a:
		default:
			d.logger.Warn("notification queue full, dropping alert", zap.String("event_class", a.EventClass))
		}
	}
}

// Run delivers queued alerts until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	d.wg.Add(1)
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case a := <-d.queue:
			d.Deliver(ctx, a)
		}
	}
}

// Wait blocks until Run has returned.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Deliver sends a to every transport and returns the failures.
func (d *Dispatcher) Deliver(ctx context.Context, a models.Alert) []error {
	var failures []error
	for _, t := range d.transports {
		sctx, cancel := context.WithTimeout(ctx, d.timeout)
		err := t.Send(sctx, a)
		cancel()
		if err != nil {
			extErr := &apperr.ExternalServiceError{Service: t.Name(), Err: err}
			d.logger.Warn("notification failed",
				zap.String("transport", t.Name()),
				zap.String("event_class", a.EventClass),
				zap.Error(extErr),
			)
			failures = append(failures, extErr)
			continue
		}
		d.logger.Info("notification sent",
			zap.String("transport", t.Name()),
			zap.String("event_class", a.EventClass),
			zap.String("severity", string(a.Severity)),
		)
	}
	return failures
}
