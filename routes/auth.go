package routes

import (
	"net/http"
	"strings"

	"codeclash/middlewares"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// GuestLoginHandler handles POST /auth/guest. Full account management lives
// in the identity service; the duel platform only needs a signed identity
// to bind websocket channels and duel seats to.
func GuestLoginHandler(c *gin.Context) {
	var input struct {
		DisplayName string `json:"displayName"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input"})
		return
	}
	displayName := strings.TrimSpace(input.DisplayName)
	if displayName == "" || len(displayName) > 32 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "displayName must be 1-32 characters"})
		return
	}

	userID := "guest:" + uuid.NewString()
	token, err := middlewares.GenerateToken(userID, displayName)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to issue token"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token":       token,
		"userId":      userID,
		"displayName": displayName,
	})
}

// VerifyTokenHandler handles POST /auth/verify for clients checking a
// stored token before reconnecting.
func VerifyTokenHandler(c *gin.Context) {
	var input struct {
		Token string `json:"token"`
	}
	if err := c.ShouldBindJSON(&input); err != nil || input.Token == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input"})
		return
	}

	claims, err := middlewares.ValidateToken(input.Token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"valid": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"valid":       true,
		"userId":      claims.UserID,
		"displayName": claims.DisplayName,
	})
}
