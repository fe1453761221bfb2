package api

import (
	"time"

	"frictionlog/app/internal/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// RequestLogger attaches a request ID and logs one line per request with
// method, path, status, and duration.
func RequestLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		reqID := c.GetHeader("X-Request-ID")
		if reqID == "" {
			// WithRequest reads the header, so a generated ID goes there too.
			reqID = uuid.New().String()
			c.Request.Header.Set("X-Request-ID", reqID)
		}
		c.Header("X-Request-ID", reqID)

		start := time.Now()
		c.Next()

		log.WithRequest(c.Request).WithFields(logrus.Fields{
			"status":      c.Writer.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
		}).Info("request completed")
	}
}
