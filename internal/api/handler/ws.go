package handler

import (
	"net/http"

	"campusconnect/backend/internal/chathub"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Websocket clients authenticate with a token, not by origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeWebSocket upgrades an authenticated request and hands the connection
// to the hub, which marks the user online for as long as it lives.
func (h *Handler) ServeWebSocket(c *gin.Context) {
	uid := userID(c)
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.String("user_id", uid), zap.Error(err))
		return
	}

	client := chathub.NewWebSocketClient(h.hub, conn, uid, h.log)
	if !h.hub.Register(client) {
		conn.Close()
		return
	}
	client.Run()
}
