package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kbukum/meshkit/logger"
)

var quietPaths = map[string]bool{
	"/health":  true,
	"/metrics": true,
}

// RequestLogger logs each request with method, route, status and
// duration. Operational endpoints are skipped; heartbeats log at debug.
func RequestLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if quietPaths[c.Request.URL.Path] {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()
		d := time.Since(start)
		status := c.Writer.Status()

		fields := logger.Fields(
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"route", c.FullPath(),
			"status", status,
			logger.FieldDuration, d.Milliseconds(),
		)
		reqLog := log.WithContext(c.Request.Context())
		switch {
		case status >= 500:
			reqLog.Error("request completed", fields)
		case status >= 400:
			reqLog.Warn("request completed", fields)
		default:
			reqLog.Debug("request completed", fields)
		}
	}
}
