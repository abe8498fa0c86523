package ws

import (
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"nhooyr.io/websocket"

	"github.com/emberlink/ember/internal/logging"
	"github.com/emberlink/ember/internal/metrics"
)

// Hub tracks the active connection per user. One connection per user: a
// newer login supersedes the old one.
type Hub struct {
	mu      sync.RWMutex
	clients map[uuid.UUID]*Client

	log zerolog.Logger
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[uuid.UUID]*Client),
		log:     logging.Component("ws"),
	}
}

// Register adds the client, closing any previous connection for the same
// user.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	prev := h.clients[c.userID]
	h.clients[c.userID] = c
	total := len(h.clients)
	h.mu.Unlock()

	if prev != nil {
		prev.closeWith(websocket.StatusPolicyViolation, "superseded by a newer connection")
	}
	metrics.WsConnections.Set(float64(total))
	h.log.Info().Stringer("user", c.userID).Int("total", total).Msg("connected")
}

// Unregister removes the client if it is still the user's current one.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if h.clients[c.userID] == c {
		delete(h.clients, c.userID)
	}
	total := len(h.clients)
	h.mu.Unlock()

	c.closeWith(websocket.StatusNormalClosure, "")
	metrics.WsConnections.Set(float64(total))
	h.log.Info().Stringer("user", c.userID).Int("total", total).Msg("disconnected")
}

// Send pushes a frame to the user's connection, if any. Never blocks.
func (h *Hub) Send(userID uuid.UUID, frame *Frame) {
	h.mu.RLock()
	c := h.clients[userID]
	h.mu.RUnlock()
	if c == nil {
		return
	}
	c.trySendFrame(frame)
}

// Shutdown closes every connection. Called after the actors have drained
// so clients see the room.ended frames first.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[uuid.UUID]*Client)
	h.mu.Unlock()

	for _, c := range clients {
		c.closeWith(websocket.StatusGoingAway, "server shutting down")
	}
	metrics.WsConnections.Set(0)
}
