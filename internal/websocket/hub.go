// Package websocket pushes call console updates to connected dashboards and
// relays commands to the browser that holds the live call.
package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/dukerupert/carecall/internal/model"
)

const (
	TypeCallState           = "call_state"
	TypeTransportDisconnect = "transport_disconnect"
)

// Message is a server-to-browser notification.
type Message struct {
	Type string             `json:"type"`
	Room string             `json:"room,omitempty"`
	Call *model.CallSession `json:"call,omitempty"`
}

// CallState announces the current call session.
func CallState(cs model.CallSession) Message {
	return Message{Type: TypeCallState, Room: cs.RoomName, Call: &cs}
}

// DisconnectCommand tells the browser to leave room.
func DisconnectCommand(room string) Message {
	return Message{Type: TypeTransportDisconnect, Room: room}
}

// Hub maintains the set of active WebSocket clients and broadcasts messages.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	logger  *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients: make(map[*Client]struct{}),
		logger:  logger,
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

// Unregister removes a client from the hub and closes its send channel.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// Broadcast queues msg for every client and returns how many accepted it.
// Clients with a full buffer miss the message.
func (h *Hub) Broadcast(msg Message) int {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("marshal broadcast", "type", msg.Type, "error", err)
		return 0
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for c := range h.clients {
		select {
		case c.send <- data:
			delivered++
		default:
			h.logger.Debug("dropping message for slow client", "type", msg.Type)
		}
	}
	return delivered
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ErrNoListeners means no dashboard was connected to receive a command.
var ErrNoListeners = errors.New("no dashboard connected")

// TransportRelay releases the live call by asking the connected dashboards
// to leave the room; the media session itself lives in the browser.
type TransportRelay struct {
	hub *Hub
}

func NewTransportRelay(hub *Hub) *TransportRelay {
	return &TransportRelay{hub: hub}
}

func (r *TransportRelay) Disconnect(ctx context.Context, room string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.hub.Broadcast(DisconnectCommand(room)) == 0 {
		return ErrNoListeners
	}
	return nil
}
