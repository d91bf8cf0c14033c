package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Wikid82/argus/backend/internal/api/middleware"
)

// respondOK writes the success envelope.
func respondOK(c *gin.Context, message string, data interface{}) {
	c.JSON(http.StatusOK, gin.H{
		"code":     0,
		"message":  message,
		"data":     data,
		"trace_id": middleware.GetTraceID(c),
	})
}

// respondError writes the error envelope.
func respondError(c *gin.Context, status int, code, message string) {
	c.JSON(status, gin.H{
		"error":    code,
		"message":  message,
		"trace_id": middleware.GetTraceID(c),
	})
}
