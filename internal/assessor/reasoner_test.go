package assessor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Wikid82/argus/backend/internal/config"
)

func newTestClient(t *testing.T, url string) *OllamaClient {
	t.Helper()
	c, err := NewOllamaClient(config.ReasonerConfig{BaseURL: url, Model: "llama2", Timeout: time.Second, RatePerSecond: 100, Burst: 10})
	require.NoError(t, err)
	return c
}

func TestOllamaClient_Assess(t *testing.T) {
	var got generateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"model":    "llama2",
			"response": `{"score": 88, "reason": "bruteforce burst", "action_suggest": "BLOCK"}`,
			"done":     true,
		})
	}))
	defer srv.Close()

	op, err := newTestClient(t, srv.URL+"/").Assess(context.Background(), Request{IP: "1.2.3.4", Label: "ssh", AttackCount: 9})
	require.NoError(t, err)
	assert.Equal(t, float64(88), op.Score)
	assert.Equal(t, "BLOCK", op.ActionSuggest)
	assert.Equal(t, "llama2", op.Model)

	assert.Equal(t, "json", got.Format)
	assert.False(t, got.Stream)
	assert.Contains(t, got.Prompt, "1.2.3.4")
}

func TestOllamaClient_Errors(t *testing.T) {
	status := http.StatusOK
	body := `{"response": "not json at all"}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()
	c := newTestClient(t, srv.URL)

	_, err := c.Assess(context.Background(), Request{IP: "1.1.1.1"})
	assert.ErrorIs(t, err, ErrBadResponse)

	body = `{"response": "{\"reason\": \"no score\"}"}`
	_, err = c.Assess(context.Background(), Request{IP: "1.1.1.1"})
	assert.ErrorIs(t, err, ErrBadResponse)

	status = http.StatusServiceUnavailable
	_, err = c.Assess(context.Background(), Request{IP: "1.1.1.1"})
	assert.EqualError(t, err, "reasoner HTTP error: 503")
}

func TestOllamaClient_CircuitOpensAfterFailures(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()
	c := newTestClient(t, srv.URL)

	for i := 0; i < 5; i++ {
		_, err := c.Assess(context.Background(), Request{IP: "1.1.1.1"})
		assert.Error(t, err)
	}
	_, err := c.Assess(context.Background(), Request{IP: "1.1.1.1"})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, 5, calls)
}

func TestNewOllamaClient_RequiresURL(t *testing.T) {
	_, err := NewOllamaClient(config.ReasonerConfig{})
	assert.Error(t, err)
}
