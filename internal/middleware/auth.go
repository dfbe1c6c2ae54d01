package middleware

import (
	"crypto/subtle"
	"net/http"
	"time"

	"channel-gate/internal/response"
	"channel-gate/pkg/logging"

	"github.com/gin-gonic/gin"
)

// CronSecretHeader carries the shared secret for operator endpoints
const CronSecretHeader = "X-CRON-SECRET"

// CronSecretMiddleware requires the shared secret header.
// An empty secret leaves the route open.
func CronSecretMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			c.Next()
			return
		}

		provided := c.GetHeader(CronSecretHeader)
		if provided == "" {
			response.AbortJSON(c, http.StatusUnauthorized, "Missing "+CronSecretHeader)
			return
		}

		if subtle.ConstantTimeCompare([]byte(provided), []byte(secret)) != 1 {
			logging.Warnf("Rejected operator request - path: %s, ip: %s", c.FullPath(), c.ClientIP())
			response.AbortJSON(c, http.StatusUnauthorized, "Invalid "+CronSecretHeader)
			return
		}

		c.Set("request_time", time.Now())
		c.Next()
	}
}

// RequestLogger logs one line per request through the service logger
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logging.Debugf("%s %s -> %d (%s)", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	}
}
