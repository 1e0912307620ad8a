package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/jscharber/convosense/pkg/logger"
	"github.com/jscharber/convosense/pkg/tracing"
)

var (
	// ErrClientClosed is returned when emitting to a connection that has gone away.
	ErrClientClosed = errors.New("realtime client is closed")
	// ErrSendBufferFull is returned when a slow client is dropped.
	ErrSendBufferFull = errors.New("realtime send buffer is full")
)

// Envelope is the frame exchanged in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type outgoing struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data,omitempty"`
}

// EventHandler handles one inbound event. Handlers emit their own replies;
// the returned error is only recorded on the span.
type EventHandler func(ctx context.Context, c *Client, data json.RawMessage) error

// Client is one WebSocket connection registered with a Hub.
type Client struct {
	id       string
	hub      *Hub
	conn     *websocket.Conn
	limiter  *rate.Limiter
	logger   *logger.Logger
	dispatch map[string]EventHandler

	// rooms is guarded by hub.mu
	rooms map[string]struct{}

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

// ID returns the connection id sent to the client in the connected event.
func (c *Client) ID() string { return c.id }

// Emit queues event for delivery to this client.
func (c *Client) Emit(event string, data interface{}) error {
	payload, err := json.Marshal(outgoing{Event: event, Data: data})
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", event, err)
	}
	return c.enqueue(payload)
}

func (c *Client) emitError(event, message string) {
	_ = c.Emit(event, ErrorPayload{Message: message})
}

func (c *Client) enqueue(payload []byte) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClientClosed
	}
	select {
	case c.send <- payload:
		c.mu.Unlock()
		return nil
	default:
		c.mu.Unlock()
	}

	c.logger.Warn("Send buffer full, dropping connection")
	c.hub.unregister(c)
	return ErrSendBufferFull
}

// close stops the write pump. Safe to call more than once.
func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// readPump reads frames and dispatches them one at a time in receipt order.
// It never closes the connection; unregister stops writePump, which sends the
// close frame and then closes.
func (c *Client) readPump() {
	defer c.hub.unregister(c)

	cfg := c.hub.config
	c.conn.SetReadLimit(cfg.MaxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(cfg.PongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(cfg.PongTimeout))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.WithField("error", err.Error()).Warn("WebSocket read failed")
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(cfg.PongTimeout))

		if !c.limiter.Allow() {
			c.emitError(EventError, "Rate limit exceeded")
			continue
		}
		if !c.handle(message) {
			return
		}
	}
}

// handle dispatches one frame. It returns false when the client asked to disconnect.
func (c *Client) handle(message []byte) bool {
	var env Envelope
	if err := json.Unmarshal(message, &env); err != nil || env.Event == "" {
		c.emitError(EventError, "Invalid message format")
		return true
	}

	if c.hub.metrics != nil {
		c.hub.metrics.RealtimeMessages.Inc()
	}
	if env.Event == EventDisconnect {
		return false
	}

	handler, ok := c.dispatch[env.Event]
	if !ok {
		c.emitError(EventError, fmt.Sprintf("Unknown event: %s", env.Event))
		return true
	}

	ctx := context.WithValue(context.Background(), logger.ConnectionIDKey, c.id)
	ctx, span := c.hub.startSpan(ctx, env.Event, c.id)
	defer span.End()

	if err := handler(ctx, c, env.Data); err != nil {
		tracing.RecordError(span, err)
		c.logger.WithContext(ctx).WithFields(map[string]interface{}{
			"event": env.Event,
			"error": err.Error(),
		}).Debug("Realtime event failed")
	}
	return true
}

// writePump is the only writer on the connection and the only place it is closed.
func (c *Client) writePump() {
	cfg := c.hub.config
	ticker := time.NewTicker(cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
