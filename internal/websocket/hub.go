// Package websocket fans retrieval progress out to WebSocket subscribers, keyed by target address.
package websocket

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const writeWait = 5 * time.Second

// Client wraps a WebSocket connection. gorilla connections allow one concurrent writer,
// so every write goes through mu.
type Client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// Conn returns the underlying WebSocket connection.
func (c *Client) Conn() *websocket.Conn {
	return c.conn
}

func (c *Client) write(msg []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, msg)
}

// CloseNormal sends a normal close frame. The read loop then sees the close and unregisters.
func (c *Client) CloseNormal(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason),
		time.Now().Add(writeWait),
	)
}

// Hub manages active WebSocket connections per target address.
// Several subscribers may watch the same address.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]struct{} // target -> set of clients
	maxPer  int
	log     zerolog.Logger
}

// NewHub creates a new Hub with a per-target connection limit.
func NewHub(maxPerTarget int, log zerolog.Logger) *Hub {
	if maxPerTarget <= 0 {
		maxPerTarget = 10
	}
	return &Hub{
		clients: make(map[string]map[*Client]struct{}),
		maxPer:  maxPerTarget,
		log:     log.With().Str("component", "websocket").Logger(),
	}
}

// Register adds a WebSocket connection for target.
// If the per-target limit is exceeded, the new connection is closed and nil is returned.
func (h *Hub) Register(target string, conn *websocket.Conn) *Client {
	h.mu.Lock()
	defer h.mu.Unlock()

	targetClients, ok := h.clients[target]
	if !ok {
		targetClients = make(map[*Client]struct{})
		h.clients[target] = targetClients
	}

	if len(targetClients) >= h.maxPer {
		h.log.Warn().Int("max", h.maxPer).Msg("Too many subscribers for target, closing new connection")
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "too many connections for this address"),
			time.Now().Add(writeWait),
		)
		_ = conn.Close()
		return nil
	}

	client := &Client{conn: conn}
	targetClients[client] = struct{}{}
	return client
}

// Unregister removes a client for target and closes the connection.
func (h *Hub) Unregister(target string, client *Client) {
	if client == nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if targetClients, ok := h.clients[target]; ok {
		delete(targetClients, client)
		if len(targetClients) == 0 {
			delete(h.clients, target)
		}
	}

	_ = client.conn.Close()
}

// Send broadcasts a message to all active clients for target.
func (h *Hub) Send(target string, msg []byte) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients[target]))
	for client := range h.clients[target] {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	for _, client := range clients {
		if err := client.write(msg); err != nil {
			h.log.Debug().Err(err).Msg("Failed to write to subscriber, dropping it")
			go h.Unregister(target, client)
		}
	}
}

// SendJSON marshals v and broadcasts it.
func (h *Hub) SendJSON(target string, v any) {
	msg, err := json.Marshal(v)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to encode WebSocket message")
		return
	}
	h.Send(target, msg)
}

// ActiveConnections returns the number of active WebSocket connections for target.
func (h *Hub) ActiveConnections(target string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.clients[target])
}
