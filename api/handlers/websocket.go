package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/remote-agent-terminal/gateway/internal/ws"
)

// WebSocketHandler hands terminal connections to the gateway.
type WebSocketHandler struct {
	gateway *ws.Gateway
}

// NewWebSocketHandler creates a new WebSocketHandler.
func NewWebSocketHandler(gateway *ws.Gateway) *WebSocketHandler {
	return &WebSocketHandler{gateway: gateway}
}

// Attach handles WS /ws/:sessionId - binds to a session, creating it with
// defaults when it does not exist. Errors are reported on the socket.
func (h *WebSocketHandler) Attach(c *gin.Context) {
	h.gateway.ServeSession(c.Writer, c.Request, c.Param("sessionId"), getUserID(c))
}

// Control handles WS /ws - the first frame must be CREATE_SESSION.
func (h *WebSocketHandler) Control(c *gin.Context) {
	h.gateway.ServeControl(c.Writer, c.Request, getUserID(c))
}

// RegisterRoutes registers the WebSocket routes.
func (h *WebSocketHandler) RegisterRoutes(r gin.IRoutes) {
	r.GET("/ws", h.Control)
	r.GET("/ws/:sessionId", h.Attach)
}
