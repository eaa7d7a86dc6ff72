package services

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"pricepulse/models"
)

// Constants for hub configuration
const (
	MaxWebSocketClients   = 100 // Maximum concurrent WebSocket clients
	WebSocketWriteTimeout = 10 * time.Second
	WebSocketPongTimeout  = 60 * time.Second
	WebSocketPingInterval = 30 * time.Second
	WebSocketReadLimit    = 512
	ClientSendBuffer      = 256
)

// GroupGlobal is joined by every connection for its whole lifetime.
const GroupGlobal = "global"

// InstrumentGroup names the interest group for one instrument. A
// connection is a member only while it owns an active alert on that
// instrument.
func InstrumentGroup(instrumentID string) string {
	return "instrument-" + instrumentID
}

// Client represents one WebSocket subscriber connection.
type Client struct {
	id   string
	conn *websocket.Conn

	mu     sync.Mutex
	closed bool
	send   chan []byte
}

// ID returns the connection's identity.
func (c *Client) ID() string {
	return c.id
}

// trySend queues a payload without blocking. Sends and close serialize
// on the client's own lock, so a disconnect racing a delivery drops the
// message instead of hitting a closed channel. Only a live client with
// a full buffer reports false; a closed client reports true so racing
// callers do not evict it again.
func (c *Client) trySend(payload []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return true
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// close shuts the client down exactly once, releasing the send channel
// and the underlying connection.
func (c *Client) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	c.mu.Unlock()

	if c.conn != nil {
		c.conn.Close()
	}
}

// BroadcastHub manages subscriber connections and their group
// memberships, and delivers events to groups or individual connections.
// Delivery is fire-and-forget: a connection that disconnects mid-delivery
// simply does not receive the message.
type BroadcastHub struct {
	mu      sync.RWMutex
	clients map[string]*Client            // connection id -> client
	groups  map[string]map[string]*Client // group name -> connection id -> client

	registry *AlertRegistry
	store    AlertStore
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// NewBroadcastHub creates a hub wired to the given registry and durable
// store. Inbound upgrades are accepted only from allowedOrigin (or from
// non-browser clients sending no Origin header).
func NewBroadcastHub(registry *AlertRegistry, store AlertStore, allowedOrigin string, logger *zap.Logger) *BroadcastHub {
	return &BroadcastHub{
		clients:  make(map[string]*Client),
		groups:   make(map[string]map[string]*Client),
		registry: registry,
		store:    store,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || origin == allowedOrigin
			},
		},
	}
}

// HandleWebSocket upgrades an inbound request into a subscriber
// connection. Subscription to the global group is implicit on connect.
func (h *BroadcastHub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	atCapacity := len(h.clients) >= MaxWebSocketClients
	h.mu.RUnlock()

	if atCapacity {
		http.Error(w, "Server at capacity", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &Client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, ClientSendBuffer),
	}

	if !h.register(client) {
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "Server at capacity"))
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump(h)
}

// register adds a client and joins it to the global group. Returns false
// when the hub is at capacity.
func (h *BroadcastHub) register(client *Client) bool {
	h.mu.Lock()
	if len(h.clients) >= MaxWebSocketClients {
		h.mu.Unlock()
		h.logger.Warn("client rejected, hub at capacity", zap.Int("max_clients", MaxWebSocketClients))
		return false
	}
	h.clients[client.id] = client
	h.joinLocked(client, GroupGlobal)
	count := len(h.clients)
	h.mu.Unlock()

	h.logger.Info("client connected", zap.String("conn_id", client.id), zap.Int("client_count", count))
	return true
}

// Unregister removes a client from the hub and every group, releases its
// alert, and closes the connection. Safe to call more than once.
func (h *BroadcastHub) Unregister(client *Client) {
	h.mu.Lock()
	_, known := h.clients[client.id]
	if known {
		delete(h.clients, client.id)
		for group, members := range h.groups {
			delete(members, client.id)
			if len(members) == 0 {
				delete(h.groups, group)
			}
		}
	}
	count := len(h.clients)
	h.mu.Unlock()

	if known {
		h.releaseAlert(client.id)
		h.logger.Info("client disconnected", zap.String("conn_id", client.id), zap.Int("client_count", count))
	}
	client.close()
}

// Join adds a connection to a group. Membership is visible to the very
// next Publish.
func (h *BroadcastHub) Join(connID, group string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	client, ok := h.clients[connID]
	if !ok {
		return
	}
	h.joinLocked(client, group)
}

func (h *BroadcastHub) joinLocked(client *Client, group string) {
	members, ok := h.groups[group]
	if !ok {
		members = make(map[string]*Client)
		h.groups[group] = members
	}
	members[client.id] = client
}

// Leave removes a connection from a group. The global group is never left
// until disconnect.
func (h *BroadcastHub) Leave(connID, group string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	members, ok := h.groups[group]
	if !ok {
		return
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(h.groups, group)
	}
}

// Publish delivers an event to every connection in the group at call
// time. Fire-and-forget: clients whose buffers are full are evicted, not
// retried.
func (h *BroadcastHub) Publish(group, msgType string, data interface{}) {
	payload, err := json.Marshal(models.NewWSMessage(msgType, data))
	if err != nil {
		h.logger.Error("marshal broadcast message failed", zap.String("type", msgType), zap.Error(err))
		return
	}

	h.mu.RLock()
	members := make([]*Client, 0, len(h.groups[group]))
	for _, client := range h.groups[group] {
		members = append(members, client)
	}
	h.mu.RUnlock()

	var dead []*Client
	for _, client := range members {
		if !client.trySend(payload) {
			dead = append(dead, client)
		}
	}
	for _, client := range dead {
		h.logger.Warn("client send buffer full, evicting", zap.String("conn_id", client.id))
		h.Unregister(client)
	}
}

// SendTo delivers an event to exactly one connection if it is still live.
// A vanished connection is a no-op, not an error.
func (h *BroadcastHub) SendTo(connID, msgType string, data interface{}) bool {
	h.mu.RLock()
	client, ok := h.clients[connID]
	h.mu.RUnlock()
	if !ok {
		return false
	}

	payload, err := json.Marshal(models.NewWSMessage(msgType, data))
	if err != nil {
		h.logger.Error("marshal message failed", zap.String("type", msgType), zap.Error(err))
		return false
	}

	if client.trySend(payload) {
		return true
	}
	h.logger.Warn("client send buffer full, evicting", zap.String("conn_id", connID))
	h.Unregister(client)
	return false
}

// handleSetAlert processes an inbound setAlert command: any prior alert
// for the connection is deactivated before the new one is stored, so the
// registry holds exactly one alert per connection.
func (h *BroadcastHub) handleSetAlert(client *Client, input models.AlertInput) {
	if err := input.Validate(); err != nil {
		h.SendTo(client.id, models.EventError, models.ErrorPayload{
			Type:    models.ErrorTypeAlert,
			Message: err.Error(),
		})
		return
	}

	ctx := context.Background()

	if prev := h.registry.Clear(client.id); prev != nil {
		h.Leave(client.id, InstrumentGroup(prev.InstrumentID))
		if _, err := h.store.Deactivate(ctx, prev.ID); err != nil {
			h.logger.Warn("failed to deactivate replaced alert",
				zap.String("alert_id", prev.ID), zap.Error(err))
		}
	}

	alert, err := h.store.Create(ctx, client.id, input)
	if err != nil {
		h.logger.Warn("failed to create alert", zap.String("conn_id", client.id), zap.Error(err))
		h.SendTo(client.id, models.EventError, models.ErrorPayload{
			Type:    models.ErrorTypeAlert,
			Message: err.Error(),
		})
		return
	}

	h.registry.Set(client.id, alert)
	h.Join(client.id, InstrumentGroup(alert.InstrumentID))

	h.SendTo(client.id, models.EventAlertSet, models.AlertSetPayload{
		AlertID:      alert.ID,
		InstrumentID: alert.InstrumentID,
		TargetPrice:  alert.TargetPrice,
		Condition:    alert.Condition,
	})
}

// releaseAlert clears a connection's registry entry and deactivates the
// durable record. Clear is idempotent, so concurrent disconnect paths
// deactivate at most once.
func (h *BroadcastHub) releaseAlert(connID string) {
	alert := h.registry.Clear(connID)
	if alert == nil {
		return
	}

	h.Leave(connID, InstrumentGroup(alert.InstrumentID))

	if _, err := h.store.Deactivate(context.Background(), alert.ID); err != nil {
		h.logger.Warn("failed to deactivate alert on disconnect",
			zap.String("alert_id", alert.ID), zap.Error(err))
	}
}

// ConnectionIDs returns the ids of all live connections.
func (h *BroadcastHub) ConnectionIDs() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	ids := make([]string, 0, len(h.clients))
	for id := range h.clients {
		ids = append(ids, id)
	}
	return ids
}

// ClientCount returns the number of connected clients.
func (h *BroadcastHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// GroupCounts returns the member count of every group.
func (h *BroadcastHub) GroupCounts() map[string]int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	counts := make(map[string]int, len(h.groups))
	for group, members := range h.groups {
		counts[group] = len(members)
	}
	return counts
}

// DisconnectAll unregisters every live connection, releasing their
// alerts. Used by the shutdown drain.
func (h *BroadcastHub) DisconnectAll() {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	for _, client := range clients {
		h.Unregister(client)
	}
}

// writePump writes messages to the WebSocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(WebSocketPingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(WebSocketWriteTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(WebSocketWriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump reads commands from the WebSocket connection
func (c *Client) readPump(h *BroadcastHub) {
	defer h.Unregister(c)

	c.conn.SetReadLimit(WebSocketReadLimit)
	c.conn.SetReadDeadline(time.Now().Add(WebSocketPongTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(WebSocketPongTimeout))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn("websocket read error", zap.String("conn_id", c.id), zap.Error(err))
			}
			break
		}

		var cmd models.WSCommand
		if err := json.Unmarshal(message, &cmd); err != nil {
			continue
		}

		switch cmd.Action {
		case models.ActionSetAlert:
			h.handleSetAlert(c, cmd.Data)
		}
	}
}
