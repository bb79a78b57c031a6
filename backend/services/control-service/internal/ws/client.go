package ws

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 16
)

// Client is one dashboard browser connection. The feed is one-way: inbound frames other
// than control frames are read and discarded.
type Client struct {
	id           string
	conn         *websocket.Conn
	send         chan []byte
	writeTimeout time.Duration
	logger       *zap.Logger
	onClose      func(id string)
}

func newClient(id string, conn *websocket.Conn, writeTimeout time.Duration, logger *zap.Logger, onClose func(string)) *Client {
	return &Client{
		id:           id,
		conn:         conn,
		send:         make(chan []byte, sendBuffer),
		writeTimeout: writeTimeout,
		logger:       logger,
		onClose:      onClose,
	}
}

// ID returns the connection identifier.
func (c *Client) ID() string {
	return c.id
}

func (c *Client) run(ctx context.Context) {
	go c.writePump(ctx)
	c.readPump(ctx)
}

func (c *Client) readPump(ctx context.Context) {
	defer c.cleanup()
	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if _, _, err := c.conn.ReadMessage(); err != nil {
			c.logger.Debug("dashboard client read closed", zap.String("client_id", c.id), zap.Error(err))
			return
		}
	}
}

func (c *Client) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-c.send:
			if !ok {
				_ = c.write(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.write(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// enqueue drops the message when the client is too slow to keep up.
func (c *Client) enqueue(msg []byte) bool {
	select {
	case c.send <- msg:
		return true
	default:
		c.logger.Warn("dropping dashboard message, buffer full", zap.String("client_id", c.id))
		return false
	}
}

func (c *Client) write(messageType int, data []byte) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.conn.WriteMessage(messageType, data)
}

func (c *Client) cleanup() {
	_ = c.conn.Close()
	if c.onClose != nil {
		c.onClose(c.id)
	}
}
