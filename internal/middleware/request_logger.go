package middleware

import (
	"net/http"
	"time"

	"swipeskills/internal/logging"
	"swipeskills/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const RequestIDHeader = "X-Request-ID"

// RequestLogger puts a request-scoped logrus entry on the request context,
// recovers panics and logs completion with status and duration.
func RequestLogger(base *logrus.Logger) gin.HandlerFunc {
	if base == nil {
		base = logrus.StandardLogger()
	}
	return func(c *gin.Context) {
		start := time.Now()
		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}

		entry := base.WithFields(logrus.Fields{
			"request_id":  requestID,
			"method":      c.Request.Method,
			"path":        c.Request.URL.Path,
			"remote_addr": c.ClientIP(),
		})
		c.Request = c.Request.WithContext(logging.WithLogger(c.Request.Context(), entry))
		c.Header(RequestIDHeader, requestID)

		defer func() {
			if rec := recover(); rec != nil {
				entry.WithField("panic", rec).Error("panic recovered")
				util.InternalServerError(c, "Internal server error")
				c.Abort()
			}
			status := c.Writer.Status()
			fields := logrus.Fields{
				"status":   status,
				"duration": time.Since(start).String(),
			}
			if uid := c.GetString("userID"); uid != "" {
				fields["user_id"] = uid
			}
			if status >= http.StatusInternalServerError {
				entry.WithFields(fields).Error("request completed")
				return
			}
			entry.WithFields(fields).Info("request completed")
		}()

		c.Next()
	}
}
