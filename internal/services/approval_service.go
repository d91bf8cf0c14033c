package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Wikid82/argus/backend/internal/logger"
	"github.com/Wikid82/argus/backend/internal/models"
)

// TaskSubmitter schedules an execution task to run.
type TaskSubmitter interface {
	Submit(taskID uint, traceID string)
}

// ApprovalResult reports the task created by an approval as observed right
// after scheduling.
type ApprovalResult struct {
	TaskID     uint             `json:"task_id"`
	TaskState  models.TaskState `json:"task_state"`
	RetryCount int              `json:"retry_count"`
}

// ApprovalService records operator decisions on pending events.
type ApprovalService struct {
	db              *gorm.DB
	audit           *AuditService
	engine          TaskSubmitter
	defaultDeviceID *int
}

func NewApprovalService(db *gorm.DB, audit *AuditService, engine TaskSubmitter, defaultDeviceID *int) *ApprovalService {
	return &ApprovalService{db: db, audit: audit, engine: engine, defaultDeviceID: defaultDeviceID}
}

// Approve moves a PENDING event to APPROVED, creates its block task and hands
// the task to the execution engine.
func (s *ApprovalService) Approve(ctx context.Context, eventID uint, actor, reason, traceID string) (*ApprovalResult, error) {
	if strings.TrimSpace(traceID) == "" {
		traceID = uuid.NewString()
	}

	var task models.ExecutionTask
	var event models.ThreatEvent
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.decide(tx, eventID, models.EventStatusApproved, &event); err != nil {
			return err
		}
		task = models.ExecutionTask{
			EventID:  eventID,
			DeviceID: s.defaultDeviceID,
			Action:   models.ActionBlock,
			State:    models.TaskStateQueued,
			TraceID:  traceID,
		}
		if err := tx.Create(&task).Error; err != nil {
			return fmt.Errorf("create execution task: %w", err)
		}
		s.audit.LogTx(tx, AuditEntry{
			Actor:      actor,
			Action:     AuditActionApprove,
			Target:     fmt.Sprintf("threat_event:%d", eventID),
			TargetType: "threat_event",
			TargetIP:   event.IP,
			Reason:     map[string]interface{}{"reason": reason, "task_id": task.ID},
			Result:     models.AuditResultSuccess,
			TraceID:    traceID,
		})
		return nil
	})
	if err != nil {
		s.auditRefused(AuditActionApprove, eventID, actor, reason, traceID, err)
		return nil, err
	}

	logger.WithTrace(traceID).WithField("event_id", eventID).WithField("task_id", task.ID).Info("event approved")
	s.engine.Submit(task.ID, traceID)

	res := &ApprovalResult{TaskID: task.ID, TaskState: models.TaskStateQueued}
	var current models.ExecutionTask
	if err := s.db.WithContext(ctx).Select("state", "retry_count").First(&current, task.ID).Error; err == nil {
		res.TaskState = current.State
		res.RetryCount = current.RetryCount
	}
	return res, nil
}

// Reject moves a PENDING event to REJECTED. No task is created.
func (s *ApprovalService) Reject(ctx context.Context, eventID uint, actor, reason, traceID string) error {
	if strings.TrimSpace(traceID) == "" {
		traceID = uuid.NewString()
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var event models.ThreatEvent
		if err := s.decide(tx, eventID, models.EventStatusRejected, &event); err != nil {
			return err
		}
		s.audit.LogTx(tx, AuditEntry{
			Actor:      actor,
			Action:     AuditActionReject,
			Target:     fmt.Sprintf("threat_event:%d", eventID),
			TargetType: "threat_event",
			TargetIP:   event.IP,
			Reason:     map[string]interface{}{"reason": reason},
			Result:     models.AuditResultSuccess,
			TraceID:    traceID,
		})
		return nil
	})
	if err != nil {
		s.auditRefused(AuditActionReject, eventID, actor, reason, traceID, err)
		return err
	}
	logger.WithTrace(traceID).WithField("event_id", eventID).Info("event rejected")
	return nil
}

// decide performs the conditional PENDING -> to update inside tx.
func (s *ApprovalService) decide(tx *gorm.DB, eventID uint, to models.EventStatus, event *models.ThreatEvent) error {
	if err := tx.First(event, eventID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrEventNotFound
		}
		return err
	}
	res := tx.Model(&models.ThreatEvent{}).
		Where("id = ? AND status IN ?", eventID, to.AllowedPredecessors()).
		Updates(map[string]interface{}{"status": to, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: event %d is %s", ErrInvalidTransition, eventID, event.Status)
	}
	event.Status = to
	return nil
}

func (s *ApprovalService) auditRefused(action string, eventID uint, actor, reason, traceID string, err error) {
	if !errors.Is(err, ErrInvalidTransition) && !errors.Is(err, ErrEventNotFound) {
		return
	}
	s.audit.Log(AuditEntry{
		Actor:        actor,
		Action:       action,
		Target:       fmt.Sprintf("threat_event:%d", eventID),
		TargetType:   "threat_event",
		Reason:       map[string]interface{}{"reason": reason},
		Result:       models.AuditResultFailed,
		ErrorMessage: err.Error(),
		TraceID:      traceID,
	})
}

// GetTask returns one execution task.
func (s *ApprovalService) GetTask(ctx context.Context, id uint) (*models.ExecutionTask, error) {
	var task models.ExecutionTask
	if err := s.db.WithContext(ctx).First(&task, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTaskNotFound
		}
		return nil, err
	}
	return &task, nil
}
