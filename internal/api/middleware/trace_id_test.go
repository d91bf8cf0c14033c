package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/Wikid82/argus/backend/internal/logger"
)

func TestTraceIDAddsHeaderAndLogger(t *testing.T) {
	buf := &bytes.Buffer{}
	logger.Init(true, buf)

	router := gin.New()
	router.Use(TraceID())
	router.GET("/test", func(c *gin.Context) {
		if _, ok := c.Get("logger"); !ok {
			t.Fatalf("expected request-scoped logger in context")
		}
		c.String(200, GetTraceID(c))
	})

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(TraceIDHeader))
	assert.Equal(t, w.Header().Get(TraceIDHeader), w.Body.String())
}

func TestTraceIDHonoursCallerValue(t *testing.T) {
	router := gin.New()
	router.Use(TraceID())
	router.GET("/test", func(c *gin.Context) { c.String(200, GetTraceID(c)) })

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set(TraceIDHeader, "sensor-batch-42")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, "sensor-batch-42", w.Body.String())
	assert.Equal(t, "sensor-batch-42", w.Header().Get(TraceIDHeader))

	req = httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set(TraceIDHeader, "bad value\nwith newline")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.NotEqual(t, "bad value\nwith newline", w.Body.String())
	assert.Len(t, w.Body.String(), 36)
}
