// Package device drives the network enforcement point that applies block rules.
package device

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/Wikid82/argus/backend/internal/config"
)

// ToolBlockIP is the tool name understood by the device control server.
const ToolBlockIP = "block_ip"

// Result is the outcome of one device call. Error is set whenever Success is false.
type Result struct {
	Success bool                   `json:"success"`
	Error   string                 `json:"error,omitempty"`
	Detail  map[string]interface{} `json:"result,omitempty"`
}

// Controller applies block rules on a network device.
type Controller interface {
	Block(ctx context.Context, ip string, deviceID *int) Result
}

// New selects the controller for cfg.Mode.
func New(cfg config.DeviceConfig) (Controller, error) {
	switch cfg.Mode {
	case "", "mock":
		return NewMock(), nil
	case "http":
		return NewHTTPController(cfg.URL, cfg.Timeout), nil
	default:
		return nil, fmt.Errorf("unsupported device mode %q", cfg.Mode)
	}
}

var retryable = []string{
	"timeout", "timed out", "deadline exceeded", "connection", "connect",
	"rate limit", "too many requests", "temporarily unavailable",
}

var nonRetryable = []string{
	"unauthorized", "forbidden", "invalid", "not found", "authentication",
}

var (
	// statusCode finds a status reported as "HTTP error: NNN" or as a bare
	// three digit word. Digits inside URLs, ports or addresses do not match.
	statusCode    = regexp.MustCompile(`(?:http error:\s*|^|[\s(\[])([1-5]\d\d)(?:$|[\s).,;\]])`)
	permanentCode = map[string]bool{"400": true, "401": true, "403": true, "404": true, "422": true}
)

// IsRetryable reports whether a failed call is worth repeating. Timeouts,
// connection trouble, throttling and server errors are retried; auth,
// validation and not-found failures will not heal by themselves. Anything
// unrecognised is retried.
func IsRetryable(msg string) bool {
	m := strings.ToLower(msg)
	for _, p := range retryable {
		if strings.Contains(m, p) {
			return true
		}
	}
	for _, match := range statusCode.FindAllStringSubmatch(m, -1) {
		code := match[1]
		if code == "429" || code[0] == '5' {
			return true
		}
		if permanentCode[code] {
			return false
		}
	}
	for _, p := range nonRetryable {
		if strings.Contains(m, p) {
			return false
		}
	}
	return true
}
