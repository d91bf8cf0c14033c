package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
)

const SensorKeyHeader = "X-Sensor-Key"

// SensorKey requires sensors to present the shared key whose bcrypt hash is
// keyHash. An empty keyHash disables the check.
func SensorKey(keyHash string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if keyHash == "" {
			c.Next()
			return
		}
		key := c.GetHeader(SensorKeyHeader)
		if key == "" || bcrypt.CompareHashAndPassword([]byte(keyHash), []byte(key)) != nil {
			GetRequestLogger(c).WithField("client", c.ClientIP()).Warn("rejected sensor push with bad key")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":    "invalid_sensor_key",
				"message":  "sensor key missing or invalid",
				"trace_id": GetTraceID(c),
			})
			return
		}
		c.Next()
	}
}
