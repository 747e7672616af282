package chat

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/ageniuscoder/codecollab/backend/internal/auth"
)

// RegisterWS mounts GET /ws for authenticated clients.
// Auth works via:
// 1) Query:  ?token=<JWT>
// 2) Header: Authorization: Bearer <JWT>
func RegisterWS(rg *gin.RouterGroup, hub *Hub, jwtSecret string, allowedOrigins []string) {
	policy := newOriginPolicy(allowedOrigins, hub.logger)
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     policy.check,
	}

	rg.GET("/ws", func(c *gin.Context) {
		token := c.Query("token")
		if token == "" {
			token = auth.BearerToken(c.GetHeader("Authorization"))
		}
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			return
		}
		cl, err := auth.ParseToken(jwtSecret, token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			hub.logger.Debugf("websocket upgrade failed: %v", err)
			return
		}

		client := NewClient(hub, conn, cl.UserID)
		hub.Attach(client)

		go client.writePump()
		go client.readPump()
	})
}
