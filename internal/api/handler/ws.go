package handler

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"randolink/backend/internal/relay"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Allows connections from any origin. Lock down in production.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeWebSocket upgrades the request and hands the connection to the relay
// hub. Banned users are refused before the upgrade.
func (h *Handler) ServeWebSocket(c *gin.Context) {
	anonID, ok := h.bearerAnonID(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token or expired"})
		return
	}

	banned, err := h.Store.IsUserBanned(anonID)
	if err != nil {
		log.Printf("handler: ban check for %s: %v", anonID, err)
	}
	if banned {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Account temporarily restricted"})
		return
	}

	displayName := "Stranger"
	if user, err := h.Store.GetUserByID(anonID); err == nil && user.DisplayName != "" {
		displayName = user.DisplayName
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to upgrade connection"})
		return
	}

	client := relay.NewWSClient(h.Hub, conn, anonID, displayName)
	h.Hub.RegisterCh <- client
	client.Run()
}
