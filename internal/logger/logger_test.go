package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithTrace_JSONOutput(t *testing.T) {
	buf := &bytes.Buffer{}
	Init(false, buf)

	WithTrace("trace-123").Info("event approved")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "trace-123", line["trace_id"])
	assert.Equal(t, "event approved", line["msg"])
}

func TestInit_DebugEnablesDebugLevel(t *testing.T) {
	buf := &bytes.Buffer{}
	Init(true, buf)

	Log().Debug("backoff scheduled")
	assert.Contains(t, buf.String(), "backoff scheduled")

	Init(false, buf)
	buf.Reset()
	Log().Debug("hidden")
	assert.Empty(t, buf.String())
}
