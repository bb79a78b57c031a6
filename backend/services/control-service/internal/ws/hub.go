// Package ws pushes dashboard snapshots and alerts to connected browsers.
package ws

import (
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"prepaidgrid/backend/services/control-service/internal/engine"
	"prepaidgrid/backend/services/control-service/internal/models"
)

// Message is the envelope of every frame sent to browsers.
type Message struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
	SentAt  time.Time   `json:"sent_at"`
}

// Message types.
const (
	TypeDashboard = "dashboard"
	TypeAlert     = "alert"
)

// Hub tracks dashboard clients.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	logger  *zap.Logger
}

// NewHub returns an empty hub.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{clients: make(map[string]*Client), logger: logger}
}

func (h *Hub) add(c *Client) {
	h.mu.Lock()
	h.clients[c.ID()] = c
	h.mu.Unlock()
}

// remove unregisters a client and closes its send channel exactly once.
func (h *Hub) remove(id string) {
	h.mu.Lock()
	c, ok := h.clients[id]
	delete(h.clients, id)
	h.mu.Unlock()
	if ok {
		close(c.send)
	}
}

// Count reports connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func encode(msgType string, payload interface{}) ([]byte, error) {
	return json.Marshal(Message{Type: msgType, Payload: payload, SentAt: time.Now().UTC()})
}

func (h *Hub) sendTo(c *Client, msgType string, payload interface{}) {
	data, err := encode(msgType, payload)
	if err != nil {
		h.logger.Error("encode dashboard message", zap.String("type", msgType), zap.Error(err))
		return
	}
	c.enqueue(data)
}

// Broadcast sends one message to every client and returns how many accepted it.
func (h *Hub) Broadcast(msgType string, payload interface{}) int {
	data, err := encode(msgType, payload)
	if err != nil {
		h.logger.Error("encode dashboard message", zap.String("type", msgType), zap.Error(err))
		return 0
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	delivered := 0
	for _, c := range h.clients {
		if c.enqueue(data) {
			delivered++
		}
	}
	return delivered
}

// PublishDashboard broadcasts a snapshot.
func (h *Hub) PublishDashboard(d engine.Dashboard) {
	h.Broadcast(TypeDashboard, d)
}

// PublishAlert broadcasts an alert.
func (h *Hub) PublishAlert(a models.Alert) int {
	return h.Broadcast(TypeAlert, a)
}
