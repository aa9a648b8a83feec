package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gin-gonic/gin"
)

// RequestLogger logs one line per request. Server errors log at error level,
// client errors at warn, everything else at debug.
func RequestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		status := c.Writer.Status()
		l := logger.With("method", c.Request.Method).
			With("path", path).
			With("status", status).
			With("duration", time.Since(start)).
			With("client_ip", c.ClientIP())

		switch {
		case status >= http.StatusInternalServerError:
			l.Error("request failed")
		case status >= http.StatusBadRequest:
			l.Warn("request rejected")
		default:
			l.Debug("request served")
		}
	}
}

func Recovery(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.With("panic", r).
					With("path", c.Request.URL.Path).
					With("stack", string(debug.Stack())).
					Error("handler panicked")
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error":   "internal_error",
					"message": "Internal server error",
				})
			}
		}()
		c.Next()
	}
}
