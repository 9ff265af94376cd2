package routes

import (
	"errors"
	"log"
	"net/http"
	"strconv"

	"codeclash/db"
	"codeclash/internal/duel"
	"codeclash/models"
	"codeclash/services"

	"github.com/gin-gonic/gin"
)

var (
	duelEngine    *duel.Engine
	matchmaker    *services.MatchmakingService
	duelPublisher *duel.RedisPublisher
)

// SetupDuelRoutes registers the duel REST surface on an authenticated group.
func SetupDuelRoutes(group *gin.RouterGroup, engine *duel.Engine, mm *services.MatchmakingService, publisher *duel.RedisPublisher) {
	duelEngine = engine
	matchmaker = mm
	duelPublisher = publisher

	group.POST("/matchmaking/join", JoinMatchmakingHandler)
	group.POST("/matchmaking/leave", LeaveMatchmakingHandler)
	group.POST("/duels/room", CreateRoomDuelHandler)
	group.POST("/duels/room/join", JoinRoomDuelHandler)
	group.POST("/duels/ai", CreateAIDuelHandler)
	group.GET("/duels/active", GetActiveDuelHandler)
	group.POST("/duels/:sessionID/cancel", CancelDuelHandler)
	group.GET("/duels/history", GetDuelHistoryHandler)
	group.GET("/duels/:sessionID/events", GetDuelEventsHandler)
}

// statusForError maps the service error taxonomy onto HTTP statuses.
func statusForError(err error) int {
	switch {
	case errors.Is(err, models.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrAuthentication):
		return http.StatusUnauthorized
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, models.ErrJudgeUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func identityFromContext(c *gin.Context) (string, string, bool) {
	userID, exists := c.Get("userID")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized: user not found in context"})
		return "", "", false
	}
	displayName, _ := c.Get("displayName")
	name, _ := displayName.(string)
	if name == "" {
		name = userID.(string)
	}
	return userID.(string), name, true
}

type duelSetupInput struct {
	Difficulty string `json:"difficulty"`
	Category   string `json:"category"`
	Theme      string `json:"theme"`
	Language   string `json:"language"`
}

// JoinMatchmakingHandler handles POST /matchmaking/join. A waiting player
// gets queued; when a compatible player is already waiting the response
// carries the new session ID.
func JoinMatchmakingHandler(c *gin.Context) {
	userID, displayName, ok := identityFromContext(c)
	if !ok {
		return
	}

	var input duelSetupInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input"})
		return
	}

	result, err := matchmaker.Enqueue(userID, displayName, input.Difficulty, input.Category)
	if err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

// LeaveMatchmakingHandler handles POST /matchmaking/leave.
func LeaveMatchmakingHandler(c *gin.Context) {
	userID, _, ok := identityFromContext(c)
	if !ok {
		return
	}
	removed := matchmaker.Dequeue(userID)
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}

// CreateRoomDuelHandler handles POST /duels/room and returns the snapshot
// including the shareable room code.
func CreateRoomDuelHandler(c *gin.Context) {
	userID, displayName, ok := identityFromContext(c)
	if !ok {
		return
	}

	var input duelSetupInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input"})
		return
	}

	snapshot, err := duelEngine.CreatePrivateRoom(c.Request.Context(), userID, displayName, input.Difficulty, input.Category, input.Theme, input.Language)
	if err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

// JoinRoomDuelHandler handles POST /duels/room/join with a room code.
func JoinRoomDuelHandler(c *gin.Context) {
	userID, displayName, ok := identityFromContext(c)
	if !ok {
		return
	}

	var input struct {
		RoomCode string `json:"roomCode"`
	}
	if err := c.ShouldBindJSON(&input); err != nil || input.RoomCode == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input"})
		return
	}

	snapshot, err := duelEngine.JoinRoom(input.RoomCode, userID, displayName)
	if err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

// CreateAIDuelHandler handles POST /duels/ai.
func CreateAIDuelHandler(c *gin.Context) {
	userID, displayName, ok := identityFromContext(c)
	if !ok {
		return
	}

	var input duelSetupInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input"})
		return
	}

	snapshot, err := duelEngine.CreateAIDuel(c.Request.Context(), userID, displayName, input.Difficulty, input.Category, input.Theme, input.Language)
	if err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

// GetActiveDuelHandler handles GET /duels/active; this is the polling and
// reconnection entry point.
func GetActiveDuelHandler(c *gin.Context) {
	userID, _, ok := identityFromContext(c)
	if !ok {
		return
	}

	snapshot, err := duelEngine.GetActiveOrWaiting(userID)
	if err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

// CancelDuelHandler handles POST /duels/:sessionID/cancel.
func CancelDuelHandler(c *gin.Context) {
	userID, _, ok := identityFromContext(c)
	if !ok {
		return
	}

	sessionID := c.Param("sessionID")
	if err := duelEngine.Cancel(sessionID, userID); err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"cancelled": true})
}

// GetDuelHistoryHandler handles GET /duels/history.
func GetDuelHistoryHandler(c *gin.Context) {
	userID, _, ok := identityFromContext(c)
	if !ok {
		return
	}

	limit, _ := strconv.ParseInt(c.DefaultQuery("limit", "20"), 10, 64)
	duels, err := db.GetDuelHistory(c.Request.Context(), userID, limit)
	if err != nil {
		log.Printf("history query failed for %s: %v", userID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error fetching duel history"})
		return
	}
	if duels == nil {
		duels = []models.DuelSession{}
	}
	c.JSON(http.StatusOK, duels)
}

// GetDuelEventsHandler handles GET /duels/:sessionID/events, paging through
// the duel's Redis event stream for spectators and post-game review.
func GetDuelEventsHandler(c *gin.Context) {
	if _, _, ok := identityFromContext(c); !ok {
		return
	}
	if duelPublisher == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Event stream not configured"})
		return
	}

	sessionID := c.Param("sessionID")
	afterID := c.Query("after")
	count, _ := strconv.ParseInt(c.DefaultQuery("count", "100"), 10, 64)
	if count <= 0 || count > 1000 {
		count = 100
	}

	msgs, err := duelPublisher.ReadEvents(c.Request.Context(), sessionID, afterID, count)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error fetching duel events"})
		return
	}

	events := make([]gin.H, 0, len(msgs))
	for _, m := range msgs {
		events = append(events, gin.H{"id": m.ID, "data": m.Values["data"]})
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}
