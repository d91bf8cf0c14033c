package services

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"gorm.io/gorm"

	"github.com/Wikid82/argus/backend/internal/logger"
	"github.com/Wikid82/argus/backend/internal/metrics"
	"github.com/Wikid82/argus/backend/internal/models"
)

// OrphanedTaskReason is recorded on tasks the reaper ends.
const OrphanedTaskReason = "orphaned_task"

// TaskReaper ends tasks whose workflow is no longer running, for example
// because the process stopped mid-retry.
type TaskReaper struct {
	db         *gorm.DB
	audit      *AuditService
	escalator  Escalator
	staleAfter time.Duration
	now        func() time.Time

	cron *cron.Cron
}

func NewTaskReaper(db *gorm.DB, audit *AuditService, escalator Escalator, staleAfter time.Duration) *TaskReaper {
	if staleAfter <= 0 {
		staleAfter = 15 * time.Minute
	}
	return &TaskReaper{
		db:         db,
		audit:      audit,
		escalator:  escalator,
		staleAfter: staleAfter,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Start runs Sweep on schedule until Stop is called.
func (r *TaskReaper) Start(schedule string) error {
	c := cron.New()
	if _, err := c.AddFunc(schedule, func() {
		if _, err := r.Sweep(context.Background()); err != nil {
			logger.Log().WithError(err).Error("stale task sweep failed")
		}
	}); err != nil {
		return fmt.Errorf("invalid reaper schedule %q: %w", schedule, err)
	}
	r.cron = c
	c.Start()
	return nil
}

// Stop halts the schedule and waits for a running sweep.
func (r *TaskReaper) Stop() {
	if r.cron == nil {
		return
	}
	<-r.cron.Stop().Done()
}

// Sweep forces every non-terminal task untouched for longer than the stale
// window to MANUAL_REQUIRED and fails its event. It returns the number of
// tasks ended.
func (r *TaskReaper) Sweep(ctx context.Context) (int, error) {
	cutoff := r.now().Add(-r.staleAfter)
	var active []models.ExecutionTask
	if err := r.db.WithContext(ctx).
		Where("state IN ?", models.ActiveTaskStates).
		Find(&active).Error; err != nil {
		return 0, err
	}

	ended := 0
	for _, task := range active {
		if !task.UpdatedAt.Before(cutoff) {
			continue
		}
		now := r.now()
		// Only end the task if nothing touched it since it was read.
		res := r.db.WithContext(ctx).Model(&models.ExecutionTask{}).
			Where("id = ? AND state = ? AND retry_count = ?", task.ID, task.State, task.RetryCount).
			Updates(map[string]interface{}{
				"state":         models.TaskStateManualRequired,
				"error_message": OrphanedTaskReason,
				"ended_at":      now,
				"updated_at":    now,
			})
		if res.Error != nil {
			return ended, res.Error
		}
		if res.RowsAffected == 0 {
			continue
		}
		ended++

		var event models.ThreatEvent
		r.db.WithContext(ctx).Model(&models.ThreatEvent{}).
			Where("id = ? AND status IN ?", task.EventID, models.EventStatusFailed.AllowedPredecessors()).
			Updates(map[string]interface{}{"status": models.EventStatusFailed, "updated_at": now})
		_ = r.db.WithContext(ctx).Limit(1).Find(&event, task.EventID).Error

		metrics.IncTaskFinished(string(models.TaskStateManualRequired))
		r.audit.Log(AuditEntry{
			Actor:        ActorReaper,
			Action:       AuditActionBlockExecute,
			Target:       fmt.Sprintf("execution_task:%d", task.ID),
			TargetType:   "execution_task",
			TargetIP:     event.IP,
			Reason:       map[string]interface{}{"previous_state": task.State, "retry_count": task.RetryCount, "state": models.TaskStateManualRequired},
			Result:       models.AuditResultFailed,
			ErrorMessage: OrphanedTaskReason,
			TraceID:      task.TraceID,
		})
		task.State = models.TaskStateManualRequired
		if r.escalator != nil {
			if event.ID == 0 {
				event.ID = task.EventID
			}
			r.escalator.Escalate(task, event, OrphanedTaskReason)
		}
		logger.WithTrace(task.TraceID).WithField("task_id", task.ID).Warn("stale execution task forced to manual handling")
	}
	return ended, nil
}
