package middleware

import (
	"crypto/subtle"
	"net/http"
	"time"

	"orderbot_backend/platform/logger"

	"github.com/gin-gonic/gin"
)

// RequestTimer logs every request with its status and latency.
func RequestTimer(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latencyMs := float64(time.Since(start).Microseconds()) / 1000
		log.HTTPRequest(c.Request.Method, c.Request.URL.Path, c.Writer.Status(), latencyMs, c.ClientIP())
	}
}

// APIKeyAuth guards the operator API with a static key in the X-API-Key
// header. An empty configured key disables the check for local use.
func APIKeyAuth(apiKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if apiKey == "" {
			c.Next()
			return
		}
		provided := c.GetHeader("X-API-Key")
		if subtle.ConstantTimeCompare([]byte(provided), []byte(apiKey)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid api key"})
			return
		}
		c.Next()
	}
}
