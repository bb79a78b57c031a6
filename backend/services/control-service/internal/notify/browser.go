package notify

import (
	"context"

	"prepaidgrid/backend/services/control-service/internal/models"
)

// BrowserPublisher is the dashboard side of the browser channel.
type BrowserPublisher interface {
	PublishAlert(a models.Alert) int
}

// BrowserTransport pushes alerts to connected dashboards. Having no viewers is not an
// error.
type BrowserTransport struct {
	hub BrowserPublisher
}

// NewBrowserTransport wraps a dashboard publisher.
func NewBrowserTransport(hub BrowserPublisher) *BrowserTransport {
	return &BrowserTransport{hub: hub}
}

func (b *BrowserTransport) Name() string { return "browser" }

func (b *BrowserTransport) Send(_ context.Context, a models.Alert) error {
	b.hub.PublishAlert(a)
	return nil
}
