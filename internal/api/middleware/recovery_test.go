package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Wikid82/argus/backend/internal/logger"
)

func panicRouter(verbose bool, msg string) *gin.Engine {
	router := gin.New()
	router.Use(TraceID())
	router.Use(Recovery(verbose))
	router.POST("/api/v1/events", func(c *gin.Context) {
		panic(msg)
	})
	return router
}

func TestRecovery_VerboseLogsStacktrace(t *testing.T) {
	buf := &bytes.Buffer{}
	logger.Init(true, buf)

	w := httptest.NewRecorder()
	panicRouter(true, "ingest panic").ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/events?sensor=edge-1", nil))

	require.Equal(t, http.StatusInternalServerError, w.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "internal_error", body["error"])
	assert.Equal(t, w.Header().Get(TraceIDHeader), body["trace_id"])

	out := buf.String()
	assert.Contains(t, out, "PANIC: ingest panic")
	assert.Contains(t, out, "Stacktrace:")
	assert.Contains(t, out, "trace_id")
	assert.NotContains(t, out, "edge-1")
}

func TestRecovery_BriefWhenNotVerbose(t *testing.T) {
	buf := &bytes.Buffer{}
	logger.Init(false, buf)

	w := httptest.NewRecorder()
	panicRouter(false, "brief panic").ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/events", nil))

	require.Equal(t, http.StatusInternalServerError, w.Code)
	out := buf.String()
	assert.Contains(t, out, "PANIC: brief panic")
	assert.NotContains(t, out, "Stacktrace:")
}

func TestRecovery_RedactsCredentialHeaders(t *testing.T) {
	tests := []struct {
		name   string
		header string
		value  string
	}{
		{"operator bearer token", "Authorization", "Bearer op-secret-token"},
		{"sensor shared key", "X-Sensor-Key", "sensor-shared-secret"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			logger.Init(true, buf)

			req := httptest.NewRequest(http.MethodPost, "/api/v1/events", nil)
			req.Header.Set(tt.header, tt.value)
			w := httptest.NewRecorder()
			panicRouter(true, "sensitive panic").ServeHTTP(w, req)

			require.Equal(t, http.StatusInternalServerError, w.Code)
			out := buf.String()
			assert.NotContains(t, out, tt.value)
			assert.Contains(t, out, "<redacted>")
		})
	}
}
