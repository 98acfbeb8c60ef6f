// Package feed provides a WebSocket broadcast of live show events.
package feed

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// EventType identifies the kind of show event being broadcast.
type EventType string

const (
	// EventTopicOpened signals the host opened a new round topic.
	EventTopicOpened EventType = "topic_opened"
	// EventTurnRecorded signals a contestant message was recorded.
	EventTurnRecorded EventType = "turn_recorded"
	// EventReplyScored signals the host replied and scored a turn.
	EventReplyScored EventType = "reply_scored"
	// EventGameEnded signals the derivation protocol completed.
	EventGameEnded EventType = "game_ended"
)

// Event is one broadcast message on the spectator feed.
type Event struct {
	Type      EventType `json:"type"`
	AgentID   string    `json:"agent_id,omitempty"`
	AgentName string    `json:"agent_name,omitempty"`
	Content   string    `json:"content,omitempty"`
	Score     *int      `json:"score,omitempty"`
	RoomID    string    `json:"room_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Hub fans show events out to connected spectators. Broadcasting never
// blocks the caller: writes run with a short deadline and dead connections
// are dropped.
type Hub struct {
	mu    sync.RWMutex
	conns map[*websocket.Conn]struct{}

	writeTimeout time.Duration
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		conns:        make(map[*websocket.Conn]struct{}),
		writeTimeout: 5 * time.Second,
	}
}

// ServeHTTP upgrades the request and keeps the connection registered until
// the client disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("failed to accept feed websocket", "error", err, "ip", r.RemoteAddr)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "feed closed"); closeErr != nil {
			slog.Debug("failed to close feed websocket", "error", closeErr)
		}
	}()

	h.register(ws)
	defer h.unregister(ws)
	slog.Info("spectator joined feed", "ip", r.RemoteAddr)

	// Spectators only listen; reading drains control frames and detects
	// disconnects.
	for {
		if _, _, err := ws.Read(r.Context()); err != nil {
			return
		}
	}
}

// Publish broadcasts an event to every connected spectator.
func (h *Hub) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		slog.Warn("failed to marshal feed event", "type", event.Type, "error", err)
		return
	}

	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.conns))
	for conn := range h.conns {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()

	for _, conn := range conns {
		ctx, cancel := context.WithTimeout(context.Background(), h.writeTimeout)
		err := conn.Write(ctx, websocket.MessageText, payload)
		cancel()
		if err != nil {
			slog.Debug("dropping slow feed subscriber", "error", err)
			h.unregister(conn)
			_ = conn.Close(websocket.StatusPolicyViolation, "write timeout")
		}
	}
}

// Count returns the number of connected spectators.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

func (h *Hub) register(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[conn] = struct{}{}
}

func (h *Hub) unregister(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, conn)
}
