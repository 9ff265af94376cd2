package main

import (
	"log"
	"net/http"
	"sync"
	"time"

	"codeclash/internal/duel"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var spectatorUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// SpectatorHub manages WebSocket connections for duel spectators. Events
// arrive through the Redis Stream consumer group, never from the engine
// directly, so any instance can serve spectators for any duel.
type SpectatorHub struct {
	duels map[string]*SpectatorRoom
	mu    sync.RWMutex
}

// SpectatorRoom holds connections watching a specific duel
type SpectatorRoom struct {
	sessionID string
	clients   map[*websocket.Conn]*SpectatorClient
	mu        sync.RWMutex
	consumer  *duel.StreamConsumer
}

// SpectatorClient represents a connected spectator
type SpectatorClient struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

var (
	spectatorHub     *SpectatorHub
	spectatorHubOnce sync.Once
)

// GetSpectatorHub returns the singleton spectator hub
func GetSpectatorHub() *SpectatorHub {
	spectatorHubOnce.Do(func() {
		spectatorHub = &SpectatorHub{
			duels: make(map[string]*SpectatorRoom),
		}
	})
	return spectatorHub
}

// Register registers a new WebSocket connection for a duel
func (h *SpectatorHub) Register(sessionID string, conn *websocket.Conn) *SpectatorClient {
	h.mu.Lock()
	room, exists := h.duels[sessionID]
	if !exists {
		room = &SpectatorRoom{
			sessionID: sessionID,
			clients:   make(map[*websocket.Conn]*SpectatorClient),
			consumer:  duel.NewStreamConsumer(h),
		}
		h.duels[sessionID] = room

		// Start the consumer group only when Redis is available
		if room.consumer != nil {
			if err := room.consumer.StartConsumerGroup(sessionID); err != nil {
				log.Printf("spectator stream for %s unavailable: %v", sessionID, err)
			}
		}
	}
	h.mu.Unlock()

	client := &SpectatorClient{conn: conn}

	room.mu.Lock()
	room.clients[conn] = client
	count := len(room.clients)
	room.mu.Unlock()

	h.broadcastPresence(sessionID, count)
	return client
}

// Unregister removes a WebSocket connection
func (h *SpectatorHub) Unregister(sessionID string, conn *websocket.Conn) {
	h.mu.RLock()
	room, exists := h.duels[sessionID]
	h.mu.RUnlock()
	if !exists {
		return
	}

	room.mu.Lock()
	delete(room.clients, conn)
	count := len(room.clients)
	room.mu.Unlock()

	h.broadcastPresence(sessionID, count)
}

// BroadcastToSpectators forwards one stream event to every spectator of the
// duel. Implements the stream consumer's hub interface.
func (h *SpectatorHub) BroadcastToSpectators(sessionID string, event *duel.StreamEvent) {
	h.mu.RLock()
	room, exists := h.duels[sessionID]
	h.mu.RUnlock()
	if !exists {
		return
	}

	room.mu.RLock()
	clients := make([]*SpectatorClient, 0, len(room.clients))
	for _, client := range room.clients {
		clients = append(clients, client)
	}
	room.mu.RUnlock()

	for _, client := range clients {
		client.WriteJSON(event)
	}
}

func (h *SpectatorHub) broadcastPresence(sessionID string, count int) {
	h.mu.RLock()
	room, exists := h.duels[sessionID]
	h.mu.RUnlock()
	if !exists {
		return
	}

	presence := map[string]interface{}{
		"type":      "spectator_presence",
		"connected": count,
		"timestamp": time.Now().UnixMilli(),
	}

	room.mu.RLock()
	clients := make([]*SpectatorClient, 0, len(room.clients))
	for _, client := range room.clients {
		clients = append(clients, client)
	}
	room.mu.RUnlock()

	for _, client := range clients {
		client.WriteJSON(presence)
	}
}

// WriteJSON safely writes JSON to the WebSocket connection
func (c *SpectatorClient) WriteJSON(v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(v)
}

// SpectatorWebsocketHandler handles WebSocket connections for duel
// spectators. Spectating needs no account; the stream carries only what
// participants already broadcast.
func SpectatorWebsocketHandler(c *gin.Context) {
	sessionID := c.Param("sessionID")
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "sessionID is required"})
		return
	}

	conn, err := spectatorUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	hub := GetSpectatorHub()
	hub.Register(sessionID, conn)
	defer hub.Unregister(sessionID, conn)

	// Spectators only listen; reads just detect the close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}
