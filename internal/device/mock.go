package device

import (
	"context"
	"time"
)

// Mock pretends every block succeeds. It is the default for local development.
type Mock struct {
	now func() time.Time
}

func NewMock() *Mock {
	return &Mock{now: time.Now}
}

// Block implements Controller.
func (m *Mock) Block(ctx context.Context, ip string, deviceID *int) Result {
	if err := ctx.Err(); err != nil {
		return Result{Error: "Unexpected error: " + err.Error()}
	}
	now := m.now().UTC()
	detail := map[string]interface{}{
		"action":    "block",
		"ip":        ip,
		"rule_id":   "rule_" + now.Format("20060102150405"),
		"timestamp": now.Format(time.RFC3339),
	}
	if deviceID != nil {
		detail["device_id"] = *deviceID
	}
	return Result{Success: true, Detail: detail}
}
