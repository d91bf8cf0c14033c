package device

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/Wikid82/argus/backend/internal/util"
	"github.com/Wikid82/argus/backend/internal/version"
)

// HTTPController calls a device control server's tool endpoint.
type HTTPController struct {
	baseURL string
	client  *http.Client
}

func NewHTTPController(baseURL string, timeout time.Duration) *HTTPController {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPController{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

type toolCall struct {
	Tool      string                 `json:"tool"`
	Arguments map[string]interface{} `json:"arguments"`
}

type toolResponse struct {
	Success *bool                  `json:"success"`
	Error   string                 `json:"error"`
	Message string                 `json:"message"`
	Result  map[string]interface{} `json:"result"`
}

// Block implements Controller.
func (c *HTTPController) Block(ctx context.Context, ip string, deviceID *int) Result {
	args := map[string]interface{}{"ip": ip, "device_id": nil}
	if deviceID != nil {
		args["device_id"] = *deviceID
	}
	body, err := json.Marshal(toolCall{Tool: ToolBlockIP, Arguments: args})
	if err != nil {
		return Result{Error: "Unexpected error: " + err.Error()}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/tools/call", bytes.NewReader(body))
	if err != nil {
		return Result{Error: "Unexpected error: " + err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := c.client.Do(req)
	if err != nil {
		return Result{Error: transportError(c.baseURL, err)}
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{
			Error:  fmt.Sprintf("HTTP error: %d", resp.StatusCode),
			Detail: map[string]interface{}{"body": util.Truncate(string(raw), 500)},
		}
	}

	var tr toolResponse
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &tr); err != nil {
			return Result{Error: "Unexpected error: invalid tool response: " + err.Error()}
		}
	}
	if tr.Success != nil && !*tr.Success {
		msg := strings.TrimSpace(tr.Error)
		if msg == "" {
			msg = strings.TrimSpace(tr.Message)
		}
		if msg == "" {
			msg = "mcp_call_failed"
		}
		return Result{Error: msg, Detail: tr.Result}
	}
	return Result{Success: true, Detail: tr.Result}
}

func transportError(baseURL string, err error) string {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "Timeout error: " + err.Error()
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return "Connection error: Cannot connect to device server at " + baseURL
	}
	return "Unexpected error: " + err.Error()
}
