package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// OwnerHeader carries the caller identity until a real authentication
// layer sets "userID" on the context.
const OwnerHeader = "X-Owner-ID"

const defaultOwner = "default-user"

// OwnerMiddleware copies the owner header into the context.
func OwnerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, exists := c.Get("userID"); !exists {
			if owner := c.GetHeader(OwnerHeader); owner != "" {
				c.Set("userID", owner)
			}
		}
		c.Next()
	}
}

// getUserID extracts the user ID from the request context.
func getUserID(c *gin.Context) string {
	if userID, exists := c.Get("userID"); exists {
		if id, ok := userID.(string); ok && id != "" {
			return id
		}
	}
	return defaultOwner
}

// CORSMiddleware answers preflight requests and sets CORS headers for
// origins accepted by allowed.
func CORSMiddleware(allowed func(origin string) bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" && allowed(origin) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
			c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
			c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With, "+OwnerHeader)
			c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, DELETE")
			c.Writer.Header().Add("Vary", "Origin")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
