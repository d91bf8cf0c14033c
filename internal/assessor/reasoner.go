package assessor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/Wikid82/argus/backend/internal/config"
	"github.com/Wikid82/argus/backend/internal/version"
)

// Request describes the event being scored.
type Request struct {
	IP          string
	Label       string
	AttackCount int
}

// Opinion is what a reasoning service returned. Score is left untyped because
// models do not reliably emit integers.
type Opinion struct {
	Score         interface{} `json:"score"`
	Reason        string      `json:"reason"`
	ActionSuggest string      `json:"action_suggest"`
	Model         string      `json:"model,omitempty"`
	Degraded      bool        `json:"degraded,omitempty"`
}

// Reasoner scores a threat. Implementations must honour ctx cancellation.
type Reasoner interface {
	Assess(ctx context.Context, req Request) (*Opinion, error)
}

var (
	ErrCircuitOpen = errors.New("reasoner circuit open")
	ErrBadResponse = errors.New("reasoner returned a malformed response")
)

const systemPrompt = "You are a security analysis assistant. Reply with a JSON risk assessment."

// OllamaClient talks to an Ollama compatible /api/generate endpoint in JSON mode.
type OllamaClient struct {
	baseURL string
	model   string
	http    *http.Client
	limiter *rate.Limiter
	breaker *circuitBreaker
}

// NewOllamaClient builds a client from the reasoner config.
func NewOllamaClient(cfg config.ReasonerConfig) (*OllamaClient, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("ARGUS_LLM_BASE_URL is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	return &OllamaClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		model:   cfg.Model,
		http:    &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(limit, burst),
		breaker: newCircuitBreaker(5, 30*time.Second),
	}, nil
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	System string `json:"system,omitempty"`
	Format string `json:"format"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Model    string `json:"model"`
	Response string `json:"response"`
}

// Assess implements Reasoner.
func (c *OllamaClient) Assess(ctx context.Context, req Request) (*Opinion, error) {
	if c.breaker.Open() {
		return nil, ErrCircuitOpen
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}

	body, err := json.Marshal(generateRequest{
		Model:  c.model,
		Prompt: buildPrompt(req),
		System: systemPrompt,
		Format: "json",
	})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", version.UserAgent())

	resp, err := c.http.Do(httpReq)
	if err != nil {
		c.breaker.Fail()
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode >= 500 {
			c.breaker.Fail()
		}
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("reasoner HTTP error: %d", resp.StatusCode)
	}

	var gen generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&gen); err != nil {
		c.breaker.Fail()
		return nil, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}

	var op Opinion
	if err := json.Unmarshal([]byte(gen.Response), &op); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	if op.Score == nil {
		return nil, fmt.Errorf("%w: missing score", ErrBadResponse)
	}
	c.breaker.Success()
	if op.Model == "" {
		op.Model = gen.Model
	}
	return &op, nil
}

func buildPrompt(req Request) string {
	return fmt.Sprintf(`Assess the following threat event and give a risk score:
- attacker ip: %s
- attack type: %s
- attack count: %d

Reply in JSON:
{"score": 0-100, "reason": "short justification", "action_suggest": "BLOCK" or "MONITOR"}`,
		req.IP, req.Label, req.AttackCount)
}

type circuitBreaker struct {
	mu            sync.Mutex
	failures      int
	openUntil     time.Time
	threshold     int
	resetDuration time.Duration
}

func newCircuitBreaker(threshold int, reset time.Duration) *circuitBreaker {
	return &circuitBreaker{threshold: threshold, resetDuration: reset}
}

func (b *circuitBreaker) Open() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.openUntil.IsZero() {
		return false
	}
	if time.Now().After(b.openUntil) {
		b.openUntil = time.Time{}
		b.failures = 0
		return false
	}
	return true
}

func (b *circuitBreaker) Fail() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	if b.failures >= b.threshold {
		b.openUntil = time.Now().Add(b.resetDuration)
	}
}

func (b *circuitBreaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.openUntil = time.Time{}
}
