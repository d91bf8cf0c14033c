package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestSecurityHeaders(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name          string
		isDevelopment bool
		checkHeaders  func(t *testing.T, resp *httptest.ResponseRecorder)
	}{
		{
			name:          "production mode sets HSTS",
			isDevelopment: false,
			checkHeaders: func(t *testing.T, resp *httptest.ResponseRecorder) {
				assert.Contains(t, resp.Header().Get("Strict-Transport-Security"), "max-age=31536000")
			},
		},
		{
			name:          "development mode skips HSTS",
			isDevelopment: true,
			checkHeaders: func(t *testing.T, resp *httptest.ResponseRecorder) {
				assert.Empty(t, resp.Header().Get("Strict-Transport-Security"))
			},
		},
		{
			name:          "api hardening headers",
			isDevelopment: false,
			checkHeaders: func(t *testing.T, resp *httptest.ResponseRecorder) {
				assert.Equal(t, "DENY", resp.Header().Get("X-Frame-Options"))
				assert.Equal(t, "nosniff", resp.Header().Get("X-Content-Type-Options"))
				assert.Equal(t, "no-referrer", resp.Header().Get("Referrer-Policy"))
				assert.Equal(t, "no-store", resp.Header().Get("Cache-Control"))
				assert.Contains(t, resp.Header().Get("Content-Security-Policy"), "default-src 'none'")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := gin.New()
			router.Use(SecurityHeaders(SecurityHeadersConfig{IsDevelopment: tt.isDevelopment}))
			router.GET("/test", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			resp := httptest.NewRecorder()
			router.ServeHTTP(resp, req)

			assert.Equal(t, http.StatusOK, resp.Code)
			tt.checkHeaders(t, resp)
		})
	}
}
