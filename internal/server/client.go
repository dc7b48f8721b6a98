// Individual WebSocket clients: read/write pumps, rate limiting, and
// lifecycle control for each connection.
package server

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	pongWait     = 60 * time.Second
	pingInterval = 54 * time.Second
	writeWait    = 10 * time.Second
)

// frameHandler receives inbound frames and the disconnect notification
// for a client. The Server implements it.
type frameHandler interface {
	HandleFrame(c *Client, raw []byte)
	Disconnected(c *Client)
}

// Client is one authenticated websocket connection. The identity resolved
// at the handshake is bound here for the connection's whole lifetime, so
// disconnect never re-runs authentication.
type Client struct {
	id       string
	username string
	addr     string

	conn    *websocket.Conn
	send    chan []byte
	hub     *Hub
	handler frameHandler
	log     *slog.Logger

	// rooms is guarded by the hub mutex.
	rooms  map[string]struct{}
	closed bool

	maxMessageSize int64
	rateLimiter    *rateLimiter
	rateLimit      RateLimitConfig

	closeOnce sync.Once
}

// newClient binds a verified identity to an upgraded connection. The send
// channel is buffered so room fan-out never blocks on a slow reader.
func newClient(conn *websocket.Conn, hub *Hub, handler frameHandler, username, addr string, cfg Config, log *slog.Logger) *Client {
	if conn != nil {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}
	limits := RateLimitConfig{Burst: cfg.RateLimitBurst, RefillInterval: cfg.RateLimitRefill}
	return &Client{
		id:             uuid.NewString(),
		username:       username,
		addr:           addr,
		conn:           conn,
		send:           make(chan []byte, 256),
		hub:            hub,
		handler:        handler,
		log:            log,
		rooms:          make(map[string]struct{}),
		maxMessageSize: cfg.MaxMessageSize,
		rateLimiter:    newRateLimiter(limits),
		rateLimit:      limits,
	}
}

// Username returns the identity bound at connect time.
func (c *Client) Username() string {
	return c.username
}

// setupReadConnection configures read deadlines and the pong handler.
func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.log.Error("setting initial read deadline", "conn", c.id, "error", err)
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			c.log.Error("setting read deadline in pong handler", "conn", c.id, "error", err)
		}
		return nil
	})
}

// handleReadError logs the error with appropriate severity; the read loop
// always stops after any read error.
func (c *Client) handleReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.log.Warn("message exceeded maximum size", "conn", c.id, "max_bytes", c.maxMessageSize)
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure):
		c.log.Info("client disconnected", "conn", c.id, "user", c.username)
	case errors.Is(err, io.EOF), isExpectedCloseError(err):
		c.log.Info("client connection closed", "conn", c.id, "user", c.username)
	default:
		c.log.Warn("websocket read error", "conn", c.id, "error", err)
	}
}

// checkRateLimit reports whether the inbound frame may be processed.
func (c *Client) checkRateLimit() bool {
	if c.rateLimiter != nil && !c.rateLimiter.allow() {
		c.log.Warn("rate limit exceeded, frame discarded",
			"conn", c.id, "user", c.username,
			"burst", c.rateLimit.Burst, "interval", c.rateLimit.RefillInterval)
		return false
	}
	return true
}

func (c *Client) readPump() {
	defer func() {
		c.closeOnce.Do(func() {
			c.handler.Disconnected(c)
		})
		c.hub.Unregister(c)
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			c.log.Error("closing connection in readPump", "conn", c.id, "error", err)
		}
	}()

	c.setupReadConnection()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.handleReadError(err)
			break
		}
		if !c.checkRateLimit() {
			continue
		}
		c.handler.HandleFrame(c, raw)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.closeConnection()
	}()

	for c.processWriteEvent(ticker) {
	}
}

// processWriteEvent waits for the next write event and returns false when
// the pump should stop.
func (c *Client) processWriteEvent(ticker *time.Ticker) bool {
	select {
	case frame, ok := <-c.send:
		return c.handleOutbound(frame, ok)
	case <-ticker.C:
		return c.handlePing()
	}
}

func (c *Client) closeConnection() {
	if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
		c.log.Error("closing connection in writePump", "conn", c.id, "error", err)
	}
}

// handleOutbound writes a queued frame and returns false when the
// connection should close.
func (c *Client) handleOutbound(frame []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.log.Error("setting write deadline", "conn", c.id, "error", err)
		return false
	}
	if !ok {
		if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil && !isExpectedCloseError(err) {
			c.log.Error("writing close message", "conn", c.id, "error", err)
		}
		return false
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		if !isExpectedCloseError(err) {
			c.log.Error("writing frame", "conn", c.id, "error", err)
		}
		return false
	}
	return true
}

// handlePing keeps the connection alive between frames.
func (c *Client) handlePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.log.Error("setting write deadline for ping", "conn", c.id, "error", err)
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		if !isExpectedCloseError(err) {
			c.log.Error("writing ping", "conn", c.id, "error", err)
		}
		return false
	}
	return true
}
