package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Wikid82/argus/backend/internal/assessor"
	"github.com/Wikid82/argus/backend/internal/ingest"
	"github.com/Wikid82/argus/backend/internal/logger"
	"github.com/Wikid82/argus/backend/internal/metrics"
	"github.com/Wikid82/argus/backend/internal/models"
)

const recentEventsLimit = 100

// IngestResult is returned to the sensor after a batch has been stored.
type IngestResult struct {
	EventID         *uint                    `json:"event_id"`
	EventIDs        []uint                   `json:"event_ids"`
	DedupedEventIDs []uint                   `json:"deduped_event_ids"`
	InvalidReasons  []string                 `json:"invalid_reasons"`
	TrendPoints     []ingest.NormalizedTrend `json:"trend_points"`
	TraceID         string                   `json:"trace_id"`
}

// UpstreamError carries the sensor's own failure report.
type UpstreamError struct {
	Code    int
	Message string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s: code %d", ErrUpstreamRejected, e.Code)
}

func (e *UpstreamError) Unwrap() error { return ErrUpstreamRejected }

// EventService stores and queries threat events.
type EventService struct {
	db         *gorm.DB
	assessor   *assessor.Assessor
	audit      *AuditService
	normalizer *ingest.Normalizer
}

func NewEventService(db *gorm.DB, a *assessor.Assessor, audit *AuditService) *EventService {
	return &EventService{db: db, assessor: a, audit: audit, normalizer: ingest.NewNormalizer()}
}

type outcomeKind int

const (
	outcomeNew outcomeKind = iota
	outcomeExisting
	outcomeRepeat
)

// outcome tracks one normalized event through both ingestion phases.
type outcome struct {
	kind   outcomeKind
	id     uint
	row    *models.ThreatEvent
	repeat int
}

// Ingest normalizes, scores and stores a sensor batch. Events whose
// idempotency key is already stored are reported as deduplicated and left
// untouched. All new events of a batch commit together or not at all.
func (s *EventService) Ingest(ctx context.Context, alert ingest.Alert, traceID string) (*IngestResult, error) {
	if strings.TrimSpace(traceID) == "" {
		traceID = uuid.NewString()
	}
	log := logger.WithTrace(traceID)

	if alert.ResponseCode != 0 {
		s.audit.Log(AuditEntry{
			Actor:      ActorIngestor,
			Action:     AuditActionIngest,
			Target:     "threat_event",
			TargetType: "ingest",
			Reason: map[string]interface{}{
				"error":            "upstream_response_invalid",
				"response_code":    alert.ResponseCode,
				"response_message": alert.ResponseMessage,
			},
			Result:  models.AuditResultFailed,
			TraceID: traceID,
		})
		return nil, &UpstreamError{Code: alert.ResponseCode, Message: alert.ResponseMessage}
	}

	batch := s.normalizer.Normalize(alert, traceID)

	outcomes, err := s.resolve(ctx, batch.Events)
	if err == nil {
		err = s.persist(ctx, outcomes)
	}
	if err != nil {
		log.WithError(err).Error("failed to persist threat events")
		s.audit.Log(AuditEntry{
			Actor:        ActorIngestor,
			Action:       AuditActionIngest,
			Target:       "threat_event",
			TargetType:   "ingest",
			Reason:       map[string]interface{}{"error": "db_persist_failed", "detail": err.Error()},
			Result:       models.AuditResultFailed,
			ErrorMessage: err.Error(),
			TraceID:      traceID,
		})
		return nil, fmt.Errorf("%w: %v", ErrPersistFailed, err)
	}

	res := &IngestResult{
		EventIDs:        []uint{},
		DedupedEventIDs: []uint{},
		InvalidReasons:  batch.Invalid,
		TrendPoints:     batch.Trend,
		TraceID:         traceID,
	}
	if res.InvalidReasons == nil {
		res.InvalidReasons = []string{}
	}
	for _, o := range outcomes {
		switch o.kind {
		case outcomeNew:
			res.EventIDs = append(res.EventIDs, o.id)
		case outcomeExisting:
			res.DedupedEventIDs = append(res.DedupedEventIDs, o.id)
		case outcomeRepeat:
			res.DedupedEventIDs = append(res.DedupedEventIDs, outcomes[o.repeat].id)
		}
	}
	switch {
	case len(res.EventIDs) > 0:
		res.EventID = &res.EventIDs[0]
	case len(res.DedupedEventIDs) > 0:
		res.EventID = &res.DedupedEventIDs[0]
	}

	metrics.AddIngestOutcome(len(res.EventIDs), len(res.DedupedEventIDs), len(res.InvalidReasons))
	s.audit.Log(AuditEntry{
		Actor:      ActorIngestor,
		Action:     AuditActionIngest,
		Target:     "threat_event",
		TargetType: "ingest",
		Reason: map[string]interface{}{
			"source":   ingest.Vendor,
			"ingested": len(res.EventIDs),
			"deduped":  len(res.DedupedEventIDs),
			"invalid":  len(res.InvalidReasons),
		},
		Result:  models.AuditResultSuccess,
		TraceID: traceID,
	})
	if len(res.InvalidReasons) > 0 {
		s.audit.Log(AuditEntry{
			Actor:      ActorIngestor,
			Action:     AuditActionIngestInvalid,
			Target:     "threat_event",
			TargetType: "ingest",
			Reason:     map[string]interface{}{"invalid_reasons": res.InvalidReasons},
			Result:     models.AuditResultFailed,
			TraceID:    traceID,
		})
	}

	log.WithField("ingested", len(res.EventIDs)).WithField("deduped", len(res.DedupedEventIDs)).
		WithField("invalid", len(res.InvalidReasons)).Info("sensor batch ingested")
	return res, nil
}

// resolve looks every event up by key and scores the ones not yet stored.
// It runs outside the write transaction so slow assessments hold no locks.
func (s *EventService) resolve(ctx context.Context, events []ingest.Event) ([]outcome, error) {
	outcomes := make([]outcome, 0, len(events))
	firstByKey := make(map[string]int, len(events))

	for _, ev := range events {
		if idx, ok := firstByKey[ev.Key()]; ok {
			outcomes = append(outcomes, outcome{kind: outcomeRepeat, repeat: idx})
			continue
		}
		firstByKey[ev.Key()] = len(outcomes)

		existing, err := s.findByKey(s.db.WithContext(ctx), ev.SourceVendor, ev.SourceEventID)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			outcomes = append(outcomes, outcome{kind: outcomeExisting, id: existing.ID})
			continue
		}

		a := s.assessor.Assess(ctx, ev.IP, ev.ThreatLabel, ev.AttackCount)
		row, err := newEventRow(ev, a)
		if err != nil {
			return nil, err
		}
		outcomes = append(outcomes, outcome{kind: outcomeNew, row: row})
	}
	return outcomes, nil
}

// persist inserts the new rows in one transaction. A row that lost an insert
// race to a concurrent batch becomes a dedup of the winning row.
func (s *EventService) persist(ctx context.Context, outcomes []outcome) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range outcomes {
			o := &outcomes[i]
			if o.kind != outcomeNew {
				continue
			}
			res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(o.row)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected > 0 {
				o.id = o.row.ID
				continue
			}
			winner, err := s.findByKey(tx, o.row.SourceVendor, o.row.SourceEventID)
			if err != nil {
				return err
			}
			if winner == nil {
				return errors.New("insert skipped without a conflicting row")
			}
			o.kind = outcomeExisting
			o.id = winner.ID
		}
		return nil
	})
}

func (s *EventService) findByKey(db *gorm.DB, vendor, eventID string) (*models.ThreatEvent, error) {
	var ev models.ThreatEvent
	res := db.Where("source_vendor = ? AND source_event_id = ?", vendor, eventID).Limit(1).Find(&ev)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}
	return &ev, nil
}

func newEventRow(ev ingest.Event, a assessor.Assessment) (*models.ThreatEvent, error) {
	extra := make(map[string]interface{}, len(ev.Extra)+1)
	for k, v := range ev.Extra {
		extra[k] = v
	}
	extra["ai_assessment"] = a.Provenance
	extraJSON, err := json.Marshal(extra)
	if err != nil {
		return nil, fmt.Errorf("encode extra_json: %w", err)
	}

	row := &models.ThreatEvent{
		IP:            ev.IP,
		Source:        ev.Source,
		SourceVendor:  ev.SourceVendor,
		SourceType:    ev.SourceType,
		SourceEventID: ev.SourceEventID,
		AttackCount:   ev.AttackCount,
		AssetIP:       ev.AssetIP,
		ServiceName:   ev.ServiceName,
		ServiceType:   ev.ServiceType,
		ThreatLabel:   ev.ThreatLabel,
		IsWhite:       ev.IsWhite,
		AIScore:       a.Score,
		AIReason:      a.Reason,
		ActionSuggest: a.ActionSuggest,
		Status:        models.EventStatusPending,
		TraceID:       ev.TraceID,
		ExtraJSON:     datatypes.JSON(extraJSON),
		CreatedAt:     ev.OccurredAt,
	}
	if len(ev.Raw) > 0 {
		row.RawPayload = datatypes.JSON(ev.Raw)
	}
	return row, nil
}

// Get returns one event.
func (s *EventService) Get(ctx context.Context, id uint) (*models.ThreatEvent, error) {
	var ev models.ThreatEvent
	if err := s.db.WithContext(ctx).First(&ev, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrEventNotFound
		}
		return nil, err
	}
	return &ev, nil
}

// List returns the newest events, optionally filtered by status.
func (s *EventService) List(ctx context.Context, status string) ([]models.ThreatEvent, error) {
	q := s.db.WithContext(ctx).Model(&models.ThreatEvent{})
	if status = strings.TrimSpace(status); status != "" {
		q = q.Where("status = ?", strings.ToUpper(status))
	}
	var events []models.ThreatEvent
	err := q.Order("created_at desc").Order("id desc").Limit(recentEventsLimit).Find(&events).Error
	return events, err
}
