package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Server upgrades dashboard requests to websocket feeds.
type Server struct {
	hub          *Hub
	snapshot     func() interface{}
	writeTimeout time.Duration
	logger       *zap.Logger
	upgrader     websocket.Upgrader
}

// NewServer builds the upgrade handler. snapshot, when set, provides the first frame
// sent to a new client.
func NewServer(hub *Hub, snapshot func() interface{}, writeTimeout time.Duration, logger *zap.Logger) *Server {
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	return &Server{
		hub:          hub,
		snapshot:     snapshot,
		writeTimeout: writeTimeout,
		logger:       logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// HandleWS serves GET /ws/dashboard.
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	client := newClient(uuid.NewString(), conn, s.writeTimeout, s.logger, func(id string) {
		s.hub.remove(id)
		cancel()
	})
	s.hub.add(client)

	if s.snapshot != nil {
		s.hub.sendTo(client, TypeDashboard, s.snapshot())
	}

	go client.run(ctx)
	s.logger.Info("dashboard client connected", zap.String("client_id", client.ID()))
}
