package middleware

import (
	"regexp"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Wikid82/argus/backend/internal/logger"
)

const TraceIDKey = "traceID"
const TraceIDHeader = "X-Trace-ID"

var validTraceID = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)

// TraceID threads a trace identifier through the request. A well-formed
// X-Trace-ID from the caller is reused; otherwise a uuid is generated.
func TraceID() gin.HandlerFunc {
	return func(c *gin.Context) {
		tid := c.GetHeader(TraceIDHeader)
		if !validTraceID.MatchString(tid) {
			tid = uuid.New().String()
		}
		c.Set(TraceIDKey, tid)
		c.Writer.Header().Set(TraceIDHeader, tid)
		c.Set("logger", logger.WithTrace(tid))
		c.Next()
	}
}

// GetTraceID returns the request's trace identifier, or "" outside TraceID.
func GetTraceID(c *gin.Context) string {
	return c.GetString(TraceIDKey)
}

// GetRequestLogger retrieves the request-scoped logger from context or the global logger
func GetRequestLogger(c *gin.Context) *logrus.Entry {
	if v, ok := c.Get("logger"); ok {
		if entry, ok := v.(*logrus.Entry); ok {
			return entry
		}
	}
	return logger.Log()
}
