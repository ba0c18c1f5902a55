package services

import (
	"encoding/json"
	"sync"
	"time"

	"civic-hazard-backend/internal/models"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// FeedEvent is a message pushed to connected feed clients.
type FeedEvent struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
}

// FeedHub manages the WebSocket connections of authority users watching the
// live report feed.
type FeedHub struct {
	mu          sync.RWMutex
	connections map[string]*websocket.Conn
}

// NewFeedHub creates a new feed hub
func NewFeedHub() *FeedHub {
	return &FeedHub{
		connections: make(map[string]*websocket.Conn),
	}
}

// Register registers a feed connection for a user, replacing any previous one.
func (h *FeedHub) Register(userID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if existing, ok := h.connections[userID]; ok {
		existing.Close()
	}
	h.connections[userID] = conn

	log.Info().Str("user_id", userID).Msg("Feed connection registered")
}

// Unregister removes a user's feed connection.
func (h *FeedHub) Unregister(userID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if conn, ok := h.connections[userID]; ok {
		conn.Close()
		delete(h.connections, userID)
		log.Info().Str("user_id", userID).Msg("Feed connection unregistered")
	}
}

// ConnectedClients returns the number of live feed connections.
func (h *FeedHub) ConnectedClients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// Broadcast sends an event to every connected client. Dead connections are
// evicted on write failure.
func (h *FeedHub) Broadcast(event FeedEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("type", event.Type).Msg("Failed to marshal feed event")
		return
	}

	h.mu.RLock()
	conns := make(map[string]*websocket.Conn, len(h.connections))
	for id, conn := range h.connections {
		conns[id] = conn
	}
	h.mu.RUnlock()

	for userID, conn := range conns {
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Warn().Err(err).Str("user_id", userID).Msg("Evicting dead feed connection")
			h.Unregister(userID)
		}
	}
}

// BroadcastReportCreated announces a newly created report.
func (h *FeedHub) BroadcastReportCreated(report *models.Report) {
	h.Broadcast(FeedEvent{
		Type:      "report_created",
		Timestamp: time.Now(),
		Data:      report,
	})
}

// BroadcastStatusChanged announces a report status change.
func (h *FeedHub) BroadcastStatusChanged(report *models.Report, oldStatus models.Status) {
	h.Broadcast(FeedEvent{
		Type:      "status_changed",
		Timestamp: time.Now(),
		Data: map[string]any{
			"report":     report,
			"old_status": oldStatus,
			"new_status": report.Status,
		},
	})
}
