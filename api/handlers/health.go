package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/remote-agent-terminal/gateway/internal/session"
)

// Health handles GET /health.
func Health(m *session.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":   "ok",
			"sessions": m.Count(),
		})
	}
}

// RegisterOps registers the health and metrics endpoints. A nil metrics
// handler leaves /metrics unregistered.
func RegisterOps(r gin.IRoutes, m *session.Manager, metrics http.Handler) {
	r.GET("/health", Health(m))
	if metrics != nil {
		r.GET("/metrics", gin.WrapH(metrics))
	}
}
