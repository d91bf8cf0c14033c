package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
	"gorm.io/gorm"

	"github.com/Wikid82/argus/backend/internal/device"
	"github.com/Wikid82/argus/backend/internal/logger"
	"github.com/Wikid82/argus/backend/internal/metrics"
	"github.com/Wikid82/argus/backend/internal/models"
)

// EngineOptions tunes an ExecutionEngine.
type EngineOptions struct {
	// Workers bounds concurrent device calls across all tasks.
	Workers int
	// BaseDelay is the first retry delay; each further retry doubles it.
	BaseDelay time.Duration
	Escalator Escalator
}

// ExecutionEngine drives approved block tasks to a terminal state.
type ExecutionEngine struct {
	db        *gorm.DB
	device    device.Controller
	audit     *AuditService
	escalator Escalator
	sem       *semaphore.Weighted
	baseDelay time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewExecutionEngine(db *gorm.DB, ctrl device.Controller, audit *AuditService, opts EngineOptions) *ExecutionEngine {
	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}
	base := opts.BaseDelay
	if base <= 0 {
		base = time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &ExecutionEngine{
		db:        db,
		device:    ctrl,
		audit:     audit,
		escalator: opts.Escalator,
		sem:       semaphore.NewWeighted(int64(workers)),
		baseDelay: base,
		ctx:       ctx,
		cancel:    cancel,
		now:       func() time.Time { return time.Now().UTC() },
		sleep:     sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RetryDelay is the wait after the retryCount-th failed attempt.
func (e *ExecutionEngine) RetryDelay(retryCount int) time.Duration {
	if retryCount < 1 {
		retryCount = 1
	}
	return e.baseDelay * time.Duration(1<<uint(retryCount-1))
}

// Submit runs the task's workflow in the background on the engine's own
// context and returns immediately.
func (e *ExecutionEngine) Submit(taskID uint, traceID string) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.Run(taskID, traceID)
	}()
}

// Shutdown stops pending backoff waits and waits for running workflows.
func (e *ExecutionEngine) Shutdown(ctx context.Context) error {
	e.cancel()
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run drives one task to SUCCESS or MANUAL_REQUIRED. It never panics and
// never returns an error: anything unexpected forces the task to manual
// handling with the cause recorded.
func (e *ExecutionEngine) Run(taskID uint, traceID string) {
	log := logger.WithTrace(traceID).WithField("task_id", taskID)
	var eventID uint
	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", r).Error("execution workflow panicked")
			e.forceManual(taskID, eventID, traceID, fmt.Sprintf("panic: %v", r))
		}
	}()

	var task models.ExecutionTask
	if err := e.db.First(&task, taskID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Warn("execution task vanished before it could run")
			return
		}
		e.forceManual(taskID, 0, traceID, err.Error())
		return
	}
	if task.State.IsTerminal() {
		return
	}
	eventID = task.EventID

	var event models.ThreatEvent
	if err := e.db.First(&event, task.EventID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			e.forceManual(taskID, 0, traceID, "threat_event_not_found")
			return
		}
		e.forceManual(taskID, eventID, traceID, err.Error())
		return
	}

	if err := e.loop(log, &task, &event, traceID); err != nil {
		log.WithError(err).Error("execution workflow failed")
		e.forceManual(taskID, eventID, traceID, err.Error())
	}
}

func (e *ExecutionEngine) loop(log *logrus.Entry, task *models.ExecutionTask, event *models.ThreatEvent, traceID string) error {
	firstAttempt := task.StartedAt == nil
	for {
		retry, err := e.boundedAttempt(log, task, event, traceID, firstAttempt)
		if err != nil || !retry {
			return err
		}
		firstAttempt = false

		delay := e.RetryDelay(task.RetryCount)
		log.WithField("retry_count", task.RetryCount).WithField("delay", delay.String()).Info("block attempt failed, retrying")
		if err := e.sleep(e.ctx, delay); err != nil {
			return fmt.Errorf("engine stopped: %w", err)
		}
	}
}

// boundedAttempt runs attempt while holding a worker slot. The slot is
// released even when the device call panics.
func (e *ExecutionEngine) boundedAttempt(log *logrus.Entry, task *models.ExecutionTask, event *models.ThreatEvent, traceID string, first bool) (bool, error) {
	if err := e.sem.Acquire(e.ctx, 1); err != nil {
		return false, fmt.Errorf("engine stopped: %w", err)
	}
	defer e.sem.Release(1)
	return e.attempt(log, task, event, traceID, first)
}

// attempt makes one device call and records its outcome. retry reports
// whether the caller should back off and try again.
func (e *ExecutionEngine) attempt(log *logrus.Entry, task *models.ExecutionTask, event *models.ThreatEvent, traceID string, first bool) (retry bool, err error) {
	now := e.now()
	fields := map[string]interface{}{"state": models.TaskStateRunning}
	if first {
		fields["started_at"] = now
	}
	ok, err := e.updateTask(task.ID, fields)
	if err != nil || !ok {
		return false, err
	}
	if first {
		if _, err := e.moveEvent(event.ID, models.EventStatusExecuting); err != nil {
			return false, err
		}
	}

	start := time.Now()
	res := e.device.Block(e.ctx, event.IP, task.DeviceID)
	metrics.ObserveBlockAttempt(res.Success, time.Since(start))

	if res.Success {
		return false, e.succeed(log, task, event, traceID, res)
	}

	msg := res.Error
	if msg == "" {
		msg = "device_call_failed"
	}
	task.RetryCount++
	task.ErrorMessage = msg
	if _, err := e.updateTask(task.ID, map[string]interface{}{"retry_count": task.RetryCount, "error_message": msg}); err != nil {
		return false, err
	}

	if task.RetryCount >= models.MaxBlockRetries || !device.IsRetryable(msg) {
		return false, e.escalate(log, task, event, traceID, msg)
	}

	if _, err := e.updateTask(task.ID, map[string]interface{}{"state": models.TaskStateFailed}); err != nil {
		return false, err
	}
	ok, err = e.updateTask(task.ID, map[string]interface{}{"state": models.TaskStateRetrying})
	return ok && err == nil, err
}

func (e *ExecutionEngine) succeed(log *logrus.Entry, task *models.ExecutionTask, event *models.ThreatEvent, traceID string, res device.Result) error {
	ok, err := e.updateTask(task.ID, map[string]interface{}{
		"state":         models.TaskStateSuccess,
		"error_message": "",
		"ended_at":      e.now(),
	})
	if err != nil || !ok {
		return err
	}
	if _, err := e.moveEvent(event.ID, models.EventStatusDone); err != nil {
		return err
	}
	metrics.IncTaskFinished(string(models.TaskStateSuccess))
	e.audit.Log(AuditEntry{
		Actor:      ActorExecutor,
		Action:     AuditActionBlockExecute,
		Target:     fmt.Sprintf("execution_task:%d", task.ID),
		TargetType: "execution_task",
		TargetIP:   event.IP,
		Reason:     map[string]interface{}{"attempt": task.RetryCount + 1, "result": res.Detail},
		Result:     models.AuditResultSuccess,
		TraceID:    traceID,
	})
	log.WithField("ip", event.IP).Info("block applied")
	return nil
}

func (e *ExecutionEngine) escalate(log *logrus.Entry, task *models.ExecutionTask, event *models.ThreatEvent, traceID, msg string) error {
	ok, err := e.updateTask(task.ID, map[string]interface{}{
		"state":    models.TaskStateManualRequired,
		"ended_at": e.now(),
	})
	if err != nil || !ok {
		return err
	}
	if _, err := e.moveEvent(event.ID, models.EventStatusFailed); err != nil {
		return err
	}
	task.State = models.TaskStateManualRequired
	e.finishManual(*task, event, traceID, msg)
	log.WithField("ip", event.IP).WithField("error", msg).Warn("block needs manual handling")
	return nil
}

// forceManual ends a task whose workflow cannot continue. eventID may be zero
// when the event is unknown.
func (e *ExecutionEngine) forceManual(taskID, eventID uint, traceID, msg string) {
	ok, err := e.updateTask(taskID, map[string]interface{}{
		"state":         models.TaskStateManualRequired,
		"error_message": msg,
		"ended_at":      e.now(),
	})
	if err != nil {
		logger.WithTrace(traceID).WithError(err).WithField("task_id", taskID).Error("failed to force task to manual handling")
		return
	}
	if !ok {
		return
	}

	var task models.ExecutionTask
	_ = e.db.First(&task, taskID).Error
	var event *models.ThreatEvent
	if eventID != 0 {
		if _, err := e.moveEvent(eventID, models.EventStatusFailed); err != nil {
			logger.WithTrace(traceID).WithError(err).WithField("event_id", eventID).Error("failed to mark event failed")
		}
		var ev models.ThreatEvent
		if e.db.First(&ev, eventID).Error == nil {
			event = &ev
		}
	}
	e.finishManual(task, event, traceID, msg)
}

func (e *ExecutionEngine) finishManual(task models.ExecutionTask, event *models.ThreatEvent, traceID, msg string) {
	metrics.IncTaskFinished(string(models.TaskStateManualRequired))
	entry := AuditEntry{
		Actor:        ActorExecutor,
		Action:       AuditActionBlockExecute,
		Target:       fmt.Sprintf("execution_task:%d", task.ID),
		TargetType:   "execution_task",
		Reason:       map[string]interface{}{"attempt": task.RetryCount, "state": models.TaskStateManualRequired, "error": msg},
		Result:       models.AuditResultFailed,
		ErrorMessage: msg,
		TraceID:      traceID,
	}
	ev := models.ThreatEvent{ID: task.EventID}
	if event != nil {
		entry.TargetIP = event.IP
		ev = *event
	}
	e.audit.Log(entry)
	if e.escalator != nil {
		e.escalator.Escalate(task, ev, msg)
	}
}

// updateTask applies fields unless the task is already terminal. ok is false
// when the guard matched no row.
func (e *ExecutionEngine) updateTask(id uint, fields map[string]interface{}) (ok bool, err error) {
	fields["updated_at"] = e.now()
	res := e.db.Model(&models.ExecutionTask{}).
		Where("id = ? AND state NOT IN ?", id, models.TerminalTaskStates).
		Updates(fields)
	return res.RowsAffected > 0, res.Error
}

// moveEvent advances an event only from the statuses that may precede to.
func (e *ExecutionEngine) moveEvent(id uint, to models.EventStatus) (bool, error) {
	res := e.db.Model(&models.ThreatEvent{}).
		Where("id = ? AND status IN ?", id, to.AllowedPredecessors()).
		Updates(map[string]interface{}{"status": to, "updated_at": e.now()})
	return res.RowsAffected > 0, res.Error
}
