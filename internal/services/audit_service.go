package services

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Wikid82/argus/backend/internal/logger"
	"github.com/Wikid82/argus/backend/internal/models"
)

// Actors recorded on audit entries written by the system itself.
const (
	ActorIngestor = "hfish_ingestor"
	ActorExecutor = "defense_executor"
	ActorReaper   = "task_reaper"
)

// Audit actions.
const (
	AuditActionIngest        = "hfish_ingest"
	AuditActionIngestInvalid = "hfish_ingest_invalid"
	AuditActionApprove       = "approve_event"
	AuditActionReject        = "reject_event"
	AuditActionBlockExecute  = "block_ip_execute"
	AuditActionAccessDenied  = "access_denied"
)

// AuditEntry is the input to AuditService.Log. Reason is stored as JSON text.
type AuditEntry struct {
	Actor        string
	Action       string
	Target       string
	TargetType   string
	TargetIP     string
	Reason       map[string]interface{}
	Result       string
	ErrorMessage string
	TraceID      string
}

// AuditFilter narrows AuditService.List.
type AuditFilter struct {
	TraceID string
	Action  string
	Limit   int
}

// AuditService appends to the audit trail.
type AuditService struct {
	db *gorm.DB
}

func NewAuditService(db *gorm.DB) *AuditService {
	return &AuditService{db: db}
}

// Log stores an audit entry. A failed write is logged and otherwise ignored so
// that auditing never breaks the operation being audited.
func (s *AuditService) Log(e AuditEntry) *models.AuditLog {
	return s.LogTx(s.db, e)
}

// LogTx is Log bound to tx, so the entry commits or rolls back with it.
func (s *AuditService) LogTx(tx *gorm.DB, e AuditEntry) *models.AuditLog {
	a := &models.AuditLog{
		UUID:         uuid.NewString(),
		Actor:        e.Actor,
		Action:       e.Action,
		Target:       e.Target,
		TargetType:   e.TargetType,
		TargetIP:     e.TargetIP,
		Result:       e.Result,
		ErrorMessage: e.ErrorMessage,
		TraceID:      strings.TrimSpace(e.TraceID),
		CreatedAt:    time.Now().UTC(),
	}
	if a.Result == "" {
		a.Result = models.AuditResultSuccess
	}
	if a.TraceID == "" {
		a.TraceID = uuid.NewString()
	}
	if e.Reason != nil {
		if b, err := json.Marshal(e.Reason); err == nil {
			a.Reason = string(b)
		}
	}
	if err := tx.Create(a).Error; err != nil {
		logger.WithTrace(a.TraceID).WithError(err).WithField("action", a.Action).Error("failed to write audit entry")
		return nil
	}
	return a
}

// List returns the newest entries matching f.
func (s *AuditService) List(f AuditFilter) ([]models.AuditLog, error) {
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	q := s.db.Model(&models.AuditLog{})
	if tid := strings.TrimSpace(f.TraceID); tid != "" {
		q = q.Where("trace_id = ?", tid)
	}
	if action := strings.TrimSpace(f.Action); action != "" {
		q = q.Where("action = ?", action)
	}
	var logs []models.AuditLog
	err := q.Order("created_at desc").Order("id desc").Limit(limit).Find(&logs).Error
	return logs, err
}
