package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"codeclash/internal/duel"
	"codeclash/metrics"
	"codeclash/middlewares"
	"codeclash/structs"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var duelUpgrader = websocket.Upgrader{
	// In production, adjust the CheckOrigin function to allow only trusted origins.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const judgeCallTimeout = 60 * time.Second

// DuelHub manages the live websocket connections of duel participants and
// implements the engine's Broadcaster.
type DuelHub struct {
	engine  *duel.Engine
	limiter *duel.RateLimiter

	mu    sync.RWMutex
	rooms map[string]*duelRoom
}

type duelRoom struct {
	sessionID string
	mu        sync.RWMutex
	clients   map[string]*duelClient // userID -> connection
}

type duelClient struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	userID  string
}

// NewDuelHub creates the hub.
func NewDuelHub(engine *duel.Engine, limiter *duel.RateLimiter) *DuelHub {
	return &DuelHub{
		engine:  engine,
		limiter: limiter,
		rooms:   make(map[string]*duelRoom),
	}
}

// WriteJSON safely writes JSON to the WebSocket connection
func (c *duelClient) WriteJSON(v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteJSON(v)
}

// Deliver fans one engine message out to the room. An empty target
// broadcasts; Exclude suppresses the echo back to the sender.
func (h *DuelHub) Deliver(sessionID string, out duel.Outbound) {
	h.mu.RLock()
	room, exists := h.rooms[sessionID]
	h.mu.RUnlock()
	if !exists {
		return
	}

	if out.Message.Timestamp == 0 {
		out.Message.Timestamp = time.Now().UnixMilli()
	}

	room.mu.RLock()
	targets := make([]*duelClient, 0, len(room.clients))
	for userID, client := range room.clients {
		if out.Target != "" && userID != out.Target {
			continue
		}
		if out.Exclude != "" && userID == out.Exclude {
			continue
		}
		targets = append(targets, client)
	}
	room.mu.RUnlock()

	for _, client := range targets {
		if err := client.WriteJSON(out.Message); err != nil {
			log.Printf("duel %s: write to %s failed: %v", sessionID, client.userID, err)
		}
	}
}

// register adds a connection, closing any previous connection the same user
// holds. The newest handle always wins.
func (h *DuelHub) register(sessionID, userID string, conn *websocket.Conn) *duelClient {
	h.mu.Lock()
	room, exists := h.rooms[sessionID]
	if !exists {
		room = &duelRoom{sessionID: sessionID, clients: make(map[string]*duelClient)}
		h.rooms[sessionID] = room
	}
	h.mu.Unlock()

	client := &duelClient{conn: conn, userID: userID}

	room.mu.Lock()
	if old, dup := room.clients[userID]; dup {
		old.conn.Close()
	}
	room.clients[userID] = client
	room.mu.Unlock()

	metrics.WSConnections.Inc()
	return client
}

// unregister removes the connection if it is still the user's current one.
func (h *DuelHub) unregister(sessionID string, client *duelClient) bool {
	h.mu.Lock()
	room, exists := h.rooms[sessionID]
	h.mu.Unlock()
	if !exists {
		return false
	}

	room.mu.Lock()
	current := room.clients[client.userID] == client
	if current {
		delete(room.clients, client.userID)
	}
	empty := len(room.clients) == 0
	room.mu.Unlock()

	if current {
		metrics.WSConnections.Dec()
	}
	if empty {
		h.mu.Lock()
		if r, ok := h.rooms[sessionID]; ok && r == room {
			room.mu.RLock()
			if len(room.clients) == 0 {
				delete(h.rooms, sessionID)
			}
			room.mu.RUnlock()
		}
		h.mu.Unlock()
	}
	return current
}

// DuelWebsocketHandler upgrades a participant's duel channel. Auth rides a
// token query parameter since browsers cannot set headers on websocket
// dials.
func (h *DuelHub) DuelWebsocketHandler(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		log.Println("WebSocket connection failed: missing token")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Missing token"})
		return
	}
	claims, err := middlewares.ValidateToken(token)
	if err != nil {
		log.Printf("WebSocket connection failed: invalid token - %v", err)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
		return
	}
	userID := claims.UserID

	sessionID := c.Param("sessionID")
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "sessionID is required"})
		return
	}
	if err := h.engine.Authorize(sessionID, userID); err != nil {
		log.Printf("WebSocket connection refused for %s on %s: %v", userID, sessionID, err)
		c.JSON(http.StatusForbidden, gin.H{"error": "Not a participant of this duel"})
		return
	}

	conn, err := duelUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Println("WebSocket upgrade error:", err)
		return
	}

	client := h.register(sessionID, userID, conn)
	defer conn.Close()

	// First frame is always the snapshot: reconnection is a fresh snapshot,
	// never a message replay.
	snapshot, err := h.engine.Snapshot(sessionID, userID)
	if err != nil {
		log.Printf("duel %s: snapshot for %s failed: %v", sessionID, userID, err)
		conn.Close()
		return
	}
	client.WriteJSON(structs.ServerMessage{
		Type:      structs.MsgSnapshot,
		Snapshot:  snapshot,
		Timestamp: time.Now().UnixMilli(),
	})

	h.engine.MarkConnected(sessionID, userID)
	log.Printf("duel %s: %s connected", sessionID, userID)

	h.readLoop(sessionID, client)

	// Only report the disconnect if a newer handle has not replaced this
	// one; reconnects must not flap presence.
	if h.unregister(sessionID, client) {
		h.engine.MarkDisconnected(sessionID, userID)
		log.Printf("duel %s: %s disconnected", sessionID, userID)
	}
}

func (h *DuelHub) readLoop(sessionID string, client *duelClient) {
	conn := client.conn
	userID := client.userID

	conn.SetReadLimit(256 * 1024)
	conn.SetReadDeadline(time.Now().Add(90 * time.Second))

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("duel %s: read error for %s: %v", sessionID, userID, err)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(90 * time.Second))

		var msg structs.ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			h.sendError(client, "malformed message")
			continue
		}

		switch msg.Type {
		case structs.MsgHeartbeat:
			client.WriteJSON(structs.ServerMessage{
				Type:      structs.MsgHeartbeat,
				Timestamp: time.Now().UnixMilli(),
			})
		case structs.MsgCodeUpdate:
			if err := h.engine.HandleCodeUpdate(sessionID, userID, msg.Language, msg.Code); err != nil {
				h.sendError(client, err.Error())
			}
		case structs.MsgTypingStatus:
			isTyping := msg.IsTyping != nil && *msg.IsTyping
			if err := h.engine.HandleTyping(sessionID, userID, isTyping); err != nil {
				h.sendError(client, err.Error())
			}
		case structs.MsgRunTests:
			if !h.limiter.Allow(sessionID, userID) {
				h.sendError(client, "test run rate limit reached, slow down")
				continue
			}
			// Judge calls block; keep the read loop free.
			go h.runJudge(sessionID, client, msg, false)
		case structs.MsgSubmit:
			go h.runJudge(sessionID, client, msg, true)
		default:
			h.sendError(client, "unknown message type: "+msg.Type)
		}
	}
}

func (h *DuelHub) runJudge(sessionID string, client *duelClient, msg structs.ClientMessage, scoring bool) {
	ctx, cancel := context.WithTimeout(context.Background(), judgeCallTimeout)
	defer cancel()

	var err error
	if scoring {
		_, err = h.engine.Submit(ctx, sessionID, client.userID, msg.Code, msg.Language)
	} else {
		_, err = h.engine.RunTests(ctx, sessionID, client.userID, msg.Code, msg.Language)
	}
	if err != nil {
		h.sendError(client, err.Error())
	}
}

func (h *DuelHub) sendError(client *duelClient, detail string) {
	err := client.WriteJSON(structs.ServerMessage{
		Type:      structs.MsgError,
		Error:     detail,
		Timestamp: time.Now().UnixMilli(),
	})
	if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		log.Printf("websocket error frame write failed: %v", err)
	}
}
