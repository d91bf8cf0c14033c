package models

import "time"

// TaskState is the state of an ExecutionTask.
type TaskState string

const (
	TaskStateQueued         TaskState = "QUEUED"
	TaskStateRunning        TaskState = "RUNNING"
	TaskStateFailed         TaskState = "FAILED"
	TaskStateRetrying       TaskState = "RETRYING"
	TaskStateSuccess        TaskState = "SUCCESS"
	TaskStateManualRequired TaskState = "MANUAL_REQUIRED"
)

// MaxBlockRetries bounds the number of failed enforcement attempts per task.
const MaxBlockRetries = 3

// TerminalTaskStates never mutate once reached.
var TerminalTaskStates = []TaskState{TaskStateSuccess, TaskStateManualRequired}

// ActiveTaskStates are the states a task holds while its workflow is alive.
var ActiveTaskStates = []TaskState{TaskStateQueued, TaskStateRunning, TaskStateFailed, TaskStateRetrying}

// IsTerminal reports whether the state is final.
func (s TaskState) IsTerminal() bool {
	return s == TaskStateSuccess || s == TaskStateManualRequired
}

// ExecutionTask is one attempt to enforce an approved decision on a device.
type ExecutionTask struct {
	ID           uint       `json:"id" gorm:"primaryKey"`
	EventID      uint       `json:"event_id" gorm:"not null;index"`
	DeviceID     *int       `json:"device_id,omitempty"`
	Action       string     `json:"action" gorm:"not null"`
	State        TaskState  `json:"state" gorm:"not null;default:'QUEUED';index"`
	RetryCount   int        `json:"retry_count" gorm:"not null;default:0"`
	ErrorMessage string     `json:"error_message,omitempty" gorm:"type:text"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
	TraceID      string     `json:"trace_id" gorm:"column:trace_id;not null;index"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at" gorm:"index"`
}
