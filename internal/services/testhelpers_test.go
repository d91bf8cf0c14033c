package services

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/Wikid82/argus/backend/internal/assessor"
	"github.com/Wikid82/argus/backend/internal/database"
	"github.com/Wikid82/argus/backend/internal/device"
	"github.com/Wikid82/argus/backend/internal/models"
)

func setupServicesTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.Connect(filepath.Join(t.TempDir(), "argus.db"))
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

type failingReasoner struct{}

func (failingReasoner) Assess(context.Context, assessor.Request) (*assessor.Opinion, error) {
	return nil, errors.New("reasoner unavailable")
}

// scriptedDevice fails the first failures calls with errMsg, then succeeds.
type scriptedDevice struct {
	mu       sync.Mutex
	failures int
	errMsg   string
	calls    int
	ips      []string
}

func (d *scriptedDevice) Block(_ context.Context, ip string, _ *int) device.Result {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	d.ips = append(d.ips, ip)
	if d.failures < 0 || d.calls <= d.failures {
		return device.Result{Error: d.errMsg}
	}
	return device.Result{Success: true, Detail: map[string]interface{}{"rule_id": "r-1"}}
}

func (d *scriptedDevice) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

type panickingDevice struct{}

func (panickingDevice) Block(context.Context, string, *int) device.Result {
	panic("driver exploded")
}

// panicOnIPDevice panics for one address and succeeds for every other.
type panicOnIPDevice struct{ ip string }

func (d panicOnIPDevice) Block(_ context.Context, ip string, _ *int) device.Result {
	if ip == d.ip {
		panic("driver exploded")
	}
	return device.Result{Success: true}
}

type recordingEscalator struct {
	mu      sync.Mutex
	reasons []string
}

func (r *recordingEscalator) Escalate(_ models.ExecutionTask, _ models.ThreatEvent, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reasons = append(r.reasons, reason)
}

func (r *recordingEscalator) Reasons() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.reasons...)
}

type noopSubmitter struct {
	submitted []uint
}

func (n *noopSubmitter) Submit(taskID uint, _ string) {
	n.submitted = append(n.submitted, taskID)
}

// newTestEngine returns an engine whose backoff waits are recorded instead of slept.
func newTestEngine(db *gorm.DB, ctrl device.Controller, esc Escalator) (*ExecutionEngine, *[]time.Duration) {
	e := NewExecutionEngine(db, ctrl, NewAuditService(db), EngineOptions{Workers: 2, BaseDelay: time.Second, Escalator: esc})
	var mu sync.Mutex
	delays := []time.Duration{}
	e.sleep = func(ctx context.Context, d time.Duration) error {
		mu.Lock()
		delays = append(delays, d)
		mu.Unlock()
		return ctx.Err()
	}
	return e, &delays
}

func seedEvent(t *testing.T, db *gorm.DB, ip string, score int, status models.EventStatus) models.ThreatEvent {
	t.Helper()
	ev := models.ThreatEvent{
		IP:            ip,
		Source:        "hfish",
		SourceVendor:  "hfish",
		SourceType:    models.SourceTypeAttackSource,
		SourceEventID: uuid.NewString(),
		AttackCount:   1,
		AIScore:       score,
		ActionSuggest: models.ActionMonitor,
		Status:        status,
		TraceID:       "seed-trace",
	}
	require.NoError(t, db.Create(&ev).Error)
	return ev
}

func seedTask(t *testing.T, db *gorm.DB, eventID uint) models.ExecutionTask {
	t.Helper()
	task := models.ExecutionTask{EventID: eventID, Action: models.ActionBlock, State: models.TaskStateQueued, TraceID: "task-trace"}
	require.NoError(t, db.Create(&task).Error)
	return task
}
