package progress

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// RingReader serves catchup queries from the per-task event ring.
// Implemented by *bus.Bus.
type RingReader interface {
	RecentEvents(ctx context.Context, taskID string, limit int) ([][]byte, error)
	RingDepth(ctx context.Context, taskID string) (int64, error)
}

// Hub manages WebSocket connections and channel subscriptions.
// Each Go process (pod) has one Hub instance. Unlike the durable side of
// the system, the hub is purely local state: the Redis listener feeds it
// every task event, and it fans out to whichever clients are subscribed.
type Hub struct {
	// Active connections: connection_id → *Connection
	connections map[string]*Connection
	mu          sync.RWMutex

	// Channel subscriptions: channel → set of connection_ids
	channels  map[string]map[string]bool
	channelMu sync.RWMutex

	ring         RingReader
	ringCapacity int

	// Write timeout for WebSocket sends
	writeTimeout time.Duration
}

// Connection represents a single WebSocket client.
//
// subscriptions is accessed WITHOUT a lock. This is safe because all reads
// and writes (subscribe, unsubscribe, unregisterConnection) happen on the
// single goroutine that owns this connection (HandleConnection's read loop
// and its deferred cleanup). If a Connection is ever mutated from a
// different goroutine (e.g. an admin "kick" feature), subscriptions must be
// protected by a mutex.
type Connection struct {
	ID            string
	Conn          *websocket.Conn
	subscriptions map[string]bool
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewHub creates a new Hub. ringCapacity is the configured per-task ring
// size; a full ring means catchup continuity cannot be proven.
func NewHub(ring RingReader, ringCapacity int, writeTimeout time.Duration) *Hub {
	return &Hub{
		connections:  make(map[string]*Connection),
		channels:     make(map[string]map[string]bool),
		ring:         ring,
		ringCapacity: ringCapacity,
		writeTimeout: writeTimeout,
	}
}

// HandleConnection manages the lifecycle of a single WebSocket connection.
// Called by the WebSocket HTTP handler after upgrade. Blocks until the
// connection closes.
func (h *Hub) HandleConnection(parentCtx context.Context, conn *websocket.Conn) {
	connID := uuid.New().String()
	ctx, cancel := context.WithCancel(parentCtx)

	c := &Connection{
		ID:            connID,
		Conn:          conn,
		subscriptions: make(map[string]bool),
		ctx:           ctx,
		cancel:        cancel,
	}

	h.registerConnection(c)
	defer h.unregisterConnection(c)

	h.sendJSON(c, map[string]string{
		"type":          "connection.established",
		"connection_id": connID,
	})

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			// Connection closed or error, exit read loop
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Warn("Invalid WebSocket message",
				"connection_id", connID, "error", err)
			continue
		}

		h.handleClientMessage(ctx, c, &msg)
	}
}

// Broadcast sends an event payload to all connections subscribed to the
// given channel. Called by the Redis listener for every task event.
func (h *Hub) Broadcast(channel string, event []byte) {
	h.channelMu.RLock()
	connIDs, exists := h.channels[channel]
	if !exists {
		h.channelMu.RUnlock()
		return
	}
	// Copy IDs to avoid holding the lock during sends
	ids := make([]string, 0, len(connIDs))
	for id := range connIDs {
		ids = append(ids, id)
	}
	h.channelMu.RUnlock()

	// Snapshot connection pointers under the lock, then release before
	// sending. Holding mu.RLock during potentially slow writes (up to
	// writeTimeout per connection) would stall register/unregister.
	h.mu.RLock()
	conns := make([]*Connection, 0, len(ids))
	for _, id := range ids {
		if conn, ok := h.connections[id]; ok {
			conns = append(conns, conn)
		}
	}
	h.mu.RUnlock()

	for _, conn := range conns {
		if err := h.sendRaw(conn, event); err != nil {
			slog.Warn("Failed to send to WebSocket client",
				"connection_id", conn.ID, "error", err)
		}
	}
}

// ActiveConnections returns the count of active WebSocket connections.
func (h *Hub) ActiveConnections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// subscriberCount returns the number of subscribers for a channel.
// Unexported, used by tests to poll instead of sleeping.
func (h *Hub) subscriberCount(channel string) int {
	h.channelMu.RLock()
	defer h.channelMu.RUnlock()
	return len(h.channels[channel])
}

// handleClientMessage dispatches a client message to the appropriate handler.
func (h *Hub) handleClientMessage(ctx context.Context, c *Connection, msg *ClientMessage) {
	switch msg.Action {
	case "subscribe":
		if !validChannel(msg.Channel) {
			h.sendJSON(c, map[string]string{"type": "error", "message": "a task channel is required for subscribe"})
			return
		}
		h.subscribe(c, msg.Channel)
		h.sendJSON(c, map[string]string{
			"type":    "subscription.confirmed",
			"channel": msg.Channel,
		})
		// Auto catch-up: deliver ring events so late subscribers can
		// splice into the live stream.
		h.handleCatchup(ctx, c, msg.Channel, -1)

	case "unsubscribe":
		if !validChannel(msg.Channel) {
			h.sendJSON(c, map[string]string{"type": "error", "message": "a task channel is required for unsubscribe"})
			return
		}
		h.unsubscribe(c, msg.Channel)

	case "catchup":
		if !validChannel(msg.Channel) {
			h.sendJSON(c, map[string]string{"type": "error", "message": "a task channel is required for catchup"})
			return
		}
		if msg.LastSequence != nil {
			h.handleCatchup(ctx, c, msg.Channel, *msg.LastSequence)
		}

	case "ping":
		h.sendJSON(c, map[string]string{"type": "pong"})
	}
}

// validChannel accepts only task channels; the cancel side-channel is
// internal and not subscribable.
func validChannel(channel string) bool {
	return strings.HasPrefix(channel, "task:") &&
		len(channel) > len("task:") &&
		!strings.HasSuffix(channel, ":cancel")
}

func taskIDFromChannel(channel string) string {
	return strings.TrimPrefix(channel, "task:")
}

// subscribe registers a connection for a channel. The Redis listener holds
// a single pattern subscription covering every task channel, so no
// per-channel upstream work is needed here.
func (h *Hub) subscribe(c *Connection, channel string) {
	h.channelMu.Lock()
	if _, exists := h.channels[channel]; !exists {
		h.channels[channel] = make(map[string]bool)
	}
	h.channels[channel][c.ID] = true
	h.channelMu.Unlock()

	c.subscriptions[channel] = true
}

// unsubscribe removes a connection from a channel.
func (h *Hub) unsubscribe(c *Connection, channel string) {
	h.channelMu.Lock()
	if subs, exists := h.channels[channel]; exists {
		delete(subs, c.ID)
		if len(subs) == 0 {
			delete(h.channels, channel)
		}
	}
	h.channelMu.Unlock()

	delete(c.subscriptions, channel)
}

// handleCatchup replays ring events with sequence > lastSequence to the
// client, oldest first. lastSequence < 0 replays the whole ring.
//
// When the ring is at capacity, older events have already fallen off, so
// continuity past the ring's oldest entry cannot be proven; the client is
// told via catchup.overflow to reload state over HTTP instead.
func (h *Hub) handleCatchup(ctx context.Context, c *Connection, channel string, lastSequence int64) {
	if h.ring == nil {
		return
	}
	taskID := taskIDFromChannel(channel)

	events, err := h.ring.RecentEvents(ctx, taskID, 0)
	if err != nil {
		slog.Error("Catchup query failed", "channel", channel, "error", err)
		return
	}

	for _, evt := range events {
		if lastSequence >= 0 {
			var envelope struct {
				Sequence int64 `json:"sequence"`
			}
			if err := json.Unmarshal(evt, &envelope); err != nil {
				continue
			}
			if envelope.Sequence <= lastSequence {
				continue
			}
		}
		if err := h.sendRaw(c, evt); err != nil {
			slog.Warn("Failed to send catchup event",
				"connection_id", c.ID, "error", err)
			return
		}
	}

	depth, err := h.ring.RingDepth(ctx, taskID)
	if err != nil {
		slog.Error("Catchup depth query failed", "channel", channel, "error", err)
		return
	}
	if depth >= int64(h.ringCapacity) {
		h.sendJSON(c, map[string]any{
			"type":     "catchup.overflow",
			"channel":  channel,
			"has_more": true,
		})
	}
}

// registerConnection adds a connection to the tracking map.
func (h *Hub) registerConnection(c *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connections[c.ID] = c
}

// unregisterConnection removes a connection and all its subscriptions.
func (h *Hub) unregisterConnection(c *Connection) {
	for ch := range c.subscriptions {
		h.unsubscribe(c, ch)
	}

	h.mu.Lock()
	delete(h.connections, c.ID)
	h.mu.Unlock()

	c.cancel()
	_ = c.Conn.Close(websocket.StatusNormalClosure, "")
}

// sendJSON marshals and sends a JSON message to a single connection.
func (h *Hub) sendJSON(c *Connection, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Warn("Failed to marshal WebSocket message",
			"connection_id", c.ID, "error", err)
		return
	}
	if err := h.sendRaw(c, data); err != nil {
		slog.Warn("Failed to send WebSocket message",
			"connection_id", c.ID, "error", err)
	}
}

// sendRaw sends raw bytes to a single connection with a write timeout.
func (h *Hub) sendRaw(c *Connection, data []byte) error {
	writeCtx, cancel := context.WithTimeout(c.ctx, h.writeTimeout)
	defer cancel()
	return c.Conn.Write(writeCtx, websocket.MessageText, data)
}
