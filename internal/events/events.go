// Package events fans call lifecycle changes out to the dashboards and, when
// configured, to a message broker for downstream consumers.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/dukerupert/carecall/internal/model"
	"github.com/dukerupert/carecall/internal/websocket"
)

// Notifier matches call.Notifier.
type Notifier interface {
	CallChanged(ctx context.Context, cs model.CallSession)
}

// Fanout forwards each change to every notifier in order.
type Fanout []Notifier

func (f Fanout) CallChanged(ctx context.Context, cs model.CallSession) {
	for _, n := range f {
		n.CallChanged(ctx, cs)
	}
}

// HubSink pushes the full session to connected dashboards.
type HubSink struct {
	hub *websocket.Hub
}

func NewHubSink(hub *websocket.Hub) *HubSink {
	return &HubSink{hub: hub}
}

func (s *HubSink) CallChanged(ctx context.Context, cs model.CallSession) {
	s.hub.Broadcast(websocket.CallState(cs))
}

// Publisher sends a message body to an exchange.
type Publisher interface {
	Publish(exchange string, body []byte) error
}

// CallEvent is the broker representation of a status change. Transport
// credentials are never included.
type CallEvent struct {
	Type       string           `json:"type"`
	Status     model.CallStatus `json:"status"`
	Previous   model.CallStatus `json:"previous"`
	Room       string           `json:"room,omitempty"`
	CalleeID   model.ID         `json:"callee_id,omitempty"`
	CallLogID  model.ID         `json:"call_log_id,omitempty"`
	Mood       model.Mood       `json:"mood,omitempty"`
	Generation int64            `json:"generation"`
	OccurredAt time.Time        `json:"occurred_at"`
}

// LifecycleSink publishes one CallEvent per status change; repeated updates
// within a status (poll attempts) are not published.
type LifecycleSink struct {
	mu       sync.Mutex
	pub      Publisher
	exchange string
	logger   *slog.Logger
	last     model.CallStatus
	lastRoom string
}

func NewLifecycleSink(pub Publisher, exchange string, logger *slog.Logger) *LifecycleSink {
	return &LifecycleSink{
		pub:      pub,
		exchange: exchange,
		logger:   logger,
		last:     model.CallNotConnected,
	}
}

func (s *LifecycleSink) CallChanged(ctx context.Context, cs model.CallSession) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cs.Status == s.last {
		return
	}
	ev := CallEvent{
		Type:       "call." + string(cs.Status),
		Status:     cs.Status,
		Previous:   s.last,
		Room:       cs.RoomName,
		CallLogID:  cs.CallLogID,
		Generation: cs.Generation,
		OccurredAt: cs.UpdatedAt,
	}
	if ev.Room == "" {
		// The room is cleared on summary retrieval; keep the one it belonged to.
		ev.Room = s.lastRoom
	}
	if cs.Callee != nil {
		ev.CalleeID = cs.Callee.ID
	}
	if cs.Analysis != nil {
		ev.Mood = cs.Analysis.Mood
	}
	s.last = cs.Status
	s.lastRoom = cs.RoomName

	body, err := json.Marshal(ev)
	if err != nil {
		s.logger.Error("marshal call event", "error", err)
		return
	}
	if err := s.pub.Publish(s.exchange, body); err != nil {
		s.logger.Warn("publish call event", "type", ev.Type, "error", err)
	}
}
