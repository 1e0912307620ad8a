// Package realtime serves the WebSocket event channel: text, face and image
// analysis requests plus conversation rooms.
package realtime

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/jscharber/convosense/internal/server/response"
	"github.com/jscharber/convosense/pkg/analysis"
	"github.com/jscharber/convosense/pkg/events"
	"github.com/jscharber/convosense/pkg/logger"
	"github.com/jscharber/convosense/pkg/metrics"
	"github.com/jscharber/convosense/pkg/tracing"
)

// Hub tracks connections and conversation rooms.
type Hub struct {
	config   Config
	analyzer *analysis.Analyzer
	tracing  *tracing.TracingService
	logger   *logger.Logger
	metrics  *metrics.ServiceMetrics
	upgrader websocket.Upgrader
	now      func() time.Time

	mu      sync.RWMutex
	clients map[string]*Client
	rooms   map[string]map[*Client]struct{}
}

// NewHub creates a hub. ts, log and m may be nil.
func NewHub(config Config, analyzer *analysis.Analyzer, ts *tracing.TracingService, log *logger.Logger, m *metrics.ServiceMetrics) *Hub {
	if log == nil {
		log = logger.GetDefault()
	}

	h := &Hub{
		config:   config,
		analyzer: analyzer,
		tracing:  ts,
		logger:   log.WithField("component", "realtime"),
		metrics:  m,
		now:      time.Now,
		clients:  make(map[string]*Client),
		rooms:    make(map[string]map[*Client]struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:   config.ReadBufferSize,
		WriteBufferSize:  config.WriteBufferSize,
		HandshakeTimeout: config.HandshakeTimeout,
		CheckOrigin:      h.checkOrigin,
	}
	return h
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.config.AllowedOrigins) == 0 {
		return true
	}
	for _, allowed := range h.config.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// ServeHTTP upgrades the request and starts the connection pumps.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.ConnectionCount() >= h.config.MaxConnections {
		response.WriteError(w, logger.RequestIDFromContext(r.Context()), http.StatusServiceUnavailable,
			response.ErrorCodeServiceUnavailable, "Too many connections", nil)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		h.logger.WithField("error", err.Error()).Debug("WebSocket upgrade failed")
		return
	}

	id := uuid.New().String()
	c := &Client{
		id:      id,
		hub:     h,
		conn:    conn,
		limiter: rate.NewLimiter(rate.Limit(h.config.MessageRate), h.config.MessageBurst),
		logger:  h.logger.WithField(string(logger.ConnectionIDKey), id),
		rooms:   make(map[string]struct{}),
		send:    make(chan []byte, h.config.SendBufferSize),
	}
	c.dispatch = h.dispatchTable()

	if !h.register(c) {
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "too many connections"))
		conn.Close()
		return
	}

	_ = c.Emit(EventConnected, ConnectedPayload{ID: id})

	go c.writePump()
	go c.readPump()
}

func (h *Hub) register(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.clients) >= h.config.MaxConnections {
		return false
	}
	h.clients[c.id] = c
	if h.metrics != nil {
		h.metrics.RealtimeConnections.Inc()
	}
	h.logger.WithField(string(logger.ConnectionIDKey), c.id).Debug("Client connected")
	return true
}

// unregister removes c from the hub and all of its rooms.
func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c.id]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c.id)
	for room := range c.rooms {
		h.removeFromRoomLocked(c, room)
	}
	h.mu.Unlock()

	c.close()
	if h.metrics != nil {
		h.metrics.RealtimeConnections.Dec()
	}
	h.logger.WithField(string(logger.ConnectionIDKey), c.id).Debug("Client disconnected")
}

// Join adds c to room.
func (h *Hub) Join(c *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c.id]; !ok {
		return
	}
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[*Client]struct{})
		h.rooms[room] = members
	}
	members[c] = struct{}{}
	c.rooms[room] = struct{}{}
}

// Leave removes c from room.
func (h *Hub) Leave(c *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeFromRoomLocked(c, room)
}

func (h *Hub) removeFromRoomLocked(c *Client, room string) {
	delete(c.rooms, room)
	members, ok := h.rooms[room]
	if !ok {
		return
	}
	delete(members, c)
	if len(members) == 0 {
		delete(h.rooms, room)
	}
}

// Broadcast emits event to every connected client.
func (h *Hub) Broadcast(event string, data interface{}) {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	h.emitAll(targets, event, data)
}

// BroadcastToRoom emits event to the members of room.
func (h *Hub) BroadcastToRoom(room, event string, data interface{}) {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.rooms[room]))
	for c := range h.rooms[room] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	h.emitAll(targets, event, data)
}

// emitAll runs without hub.mu held; a full client unregisters itself.
func (h *Hub) emitAll(targets []*Client, event string, data interface{}) {
	for _, c := range targets {
		if err := c.Emit(event, data); err != nil && err != ErrClientClosed {
			h.logger.WithFields(map[string]interface{}{
				"event":                       event,
				string(logger.ConnectionIDKey): c.id,
				"error":                       err.Error(),
			}).Warn("Failed to emit realtime event")
		}
	}
}

// HandleEvent forwards conversation lifecycle events to clients.
func (h *Hub) HandleEvent(ctx context.Context, event *events.Event) error {
	switch event.Type {
	case events.EventConversationCreated:
		h.Broadcast(EventConversationCreated, event.Data)
	case events.EventConversationUpdated:
		h.BroadcastToRoom(RoomName(event.ConversationID), EventConversationUpdated, event.Data)
	case events.EventConversationDeleted:
		h.BroadcastToRoom(RoomName(event.ConversationID), EventConversationDeleted, event.Data)
	}
	return nil
}

// ConnectionCount returns the number of registered clients.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// RoomSize returns the number of clients in room.
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// MaxConnections returns the configured connection limit.
func (h *Hub) MaxConnections() int {
	return h.config.MaxConnections
}

// GetMetrics returns hub statistics.
func (h *Hub) GetMetrics() map[string]interface{} {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return map[string]interface{}{
		"active_connections": len(h.clients),
		"rooms":              len(h.rooms),
		"max_connections":    h.config.MaxConnections,
	}
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		h.unregister(c)
	}
}

func (h *Hub) startSpan(ctx context.Context, event, connectionID string) (context.Context, trace.Span) {
	if h.tracing == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return h.tracing.StartSocketSpan(ctx, event, connectionID)
}
