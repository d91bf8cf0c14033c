package models

import (
	"time"

	"gorm.io/datatypes"
)

// EventStatus is the lifecycle status of a ThreatEvent.
type EventStatus string

const (
	EventStatusPending   EventStatus = "PENDING"
	EventStatusApproved  EventStatus = "APPROVED"
	EventStatusRejected  EventStatus = "REJECTED"
	EventStatusExecuting EventStatus = "EXECUTING"
	EventStatusDone      EventStatus = "DONE"
	EventStatusFailed    EventStatus = "FAILED"
)

// eventTransitions lists, for each target status, the statuses it may be reached from.
var eventTransitions = map[EventStatus][]EventStatus{
	EventStatusApproved:  {EventStatusPending},
	EventStatusRejected:  {EventStatusPending},
	EventStatusExecuting: {EventStatusApproved},
	EventStatusDone:      {EventStatusExecuting},
	EventStatusFailed:    {EventStatusApproved, EventStatusExecuting},
}

// AllowedPredecessors returns the statuses an event must currently hold to move to s.
func (s EventStatus) AllowedPredecessors() []EventStatus {
	return eventTransitions[s]
}

// CanTransition reports whether an event may move from s to next.
func (s EventStatus) CanTransition(next EventStatus) bool {
	for _, from := range eventTransitions[next] {
		if from == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the status never changes again.
func (s EventStatus) IsTerminal() bool {
	switch s {
	case EventStatusRejected, EventStatusDone, EventStatusFailed:
		return true
	}
	return false
}

// Source types produced by the alert normalizer.
const (
	SourceTypeAttackSource = "attack_source"
	SourceTypeAttackDetail = "attack_detail"
	SourceTypeLegacyAlert  = "legacy_alert"
)

// Suggested actions.
const (
	ActionBlock   = "BLOCK"
	ActionMonitor = "MONITOR"
)

// ThreatEvent is one observed or reported attack. It is never deleted: once a
// decision has been taken on it the row is the record of that decision.
type ThreatEvent struct {
	ID            uint           `json:"id" gorm:"primaryKey"`
	IP            string         `json:"ip" gorm:"column:ip;not null;index"`
	Source        string         `json:"source" gorm:"not null;index"`
	SourceVendor  string         `json:"source_vendor" gorm:"not null;uniqueIndex:idx_threat_event_source"`
	SourceType    string         `json:"source_type"`
	SourceEventID string         `json:"source_event_id" gorm:"column:source_event_id;not null;uniqueIndex:idx_threat_event_source"`
	AttackCount   int            `json:"attack_count" gorm:"not null;default:1"`
	AssetIP       *string        `json:"asset_ip,omitempty" gorm:"column:asset_ip"`
	ServiceName   *string        `json:"service_name,omitempty"`
	ServiceType   string         `json:"service_type,omitempty"`
	ThreatLabel   string         `json:"threat_label,omitempty"`
	IsWhite       int            `json:"is_white"`
	AIScore       int            `json:"ai_score" gorm:"column:ai_score;index"`
	AIReason      string         `json:"ai_reason" gorm:"column:ai_reason;type:text"`
	ActionSuggest string         `json:"action_suggest"`
	Status        EventStatus    `json:"status" gorm:"not null;default:'PENDING';index"`
	TraceID       string         `json:"trace_id" gorm:"column:trace_id;not null;index"`
	RawPayload    datatypes.JSON `json:"raw_payload,omitempty"`
	ExtraJSON     datatypes.JSON `json:"extra_json,omitempty" gorm:"column:extra_json"`
	CreatedAt     time.Time      `json:"created_at" gorm:"index"`
	UpdatedAt     time.Time      `json:"updated_at"`
}
