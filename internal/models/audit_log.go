package models

import "time"

// Audit results.
const (
	AuditResultSuccess = "success"
	AuditResultFailed  = "failed"
)

// AuditLog is an append-only record of a state-changing action.
type AuditLog struct {
	ID           uint      `json:"id" gorm:"primaryKey"`
	UUID         string    `json:"uuid" gorm:"uniqueIndex"`
	Actor        string    `json:"actor" gorm:"not null"`
	Action       string    `json:"action" gorm:"not null;index"`
	Target       string    `json:"target"`
	TargetType   string    `json:"target_type"`
	TargetIP     string    `json:"target_ip,omitempty" gorm:"column:target_ip"`
	Reason       string    `json:"reason" gorm:"type:text"`
	Result       string    `json:"result"`
	ErrorMessage string    `json:"error_message,omitempty" gorm:"type:text"`
	TraceID      string    `json:"trace_id" gorm:"column:trace_id;not null;index"`
	CreatedAt    time.Time `json:"created_at" gorm:"index"`
}
