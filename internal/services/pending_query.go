package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/Wikid82/argus/backend/internal/ingest"
	"github.com/Wikid82/argus/backend/internal/models"
)

// PendingQuery filters the approval queue. Fields are bound from the query string.
type PendingQuery struct {
	Status    string `form:"status"`
	StartTime string `form:"start_time"`
	EndTime   string `form:"end_time"`
	MinScore  *int   `form:"min_score" binding:"omitempty,min=0,max=100"`
	MaxScore  *int   `form:"max_score" binding:"omitempty,min=0,max=100"`
	RiskLevel string `form:"risk_level" binding:"omitempty,oneof=LOW MEDIUM HIGH CRITICAL low medium high critical"`
	Source    string `form:"source"`
	Page      int    `form:"page,default=1" binding:"min=1"`
	PageSize  int    `form:"page_size,default=20" binding:"min=1,max=100"`
	SortBy    string `form:"sort_by,default=created_at" binding:"omitempty,oneof=created_at updated_at ai_score ip status"`
	SortOrder string `form:"sort_order,default=desc" binding:"omitempty,oneof=asc desc ASC DESC"`
}

// PendingPage is one page of the approval queue.
type PendingPage struct {
	Items      []models.ThreatEvent `json:"items"`
	Total      int64                `json:"total"`
	Page       int                  `json:"page"`
	PageSize   int                  `json:"page_size"`
	TotalPages int                  `json:"total_pages"`
}

// ValidationError reports a rejected query parameter.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func invalidParam(field, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

type scoreRange struct{ min, max int }

var riskLevels = map[string]scoreRange{
	"LOW":      {0, 39},
	"MEDIUM":   {40, 69},
	"HIGH":     {70, 89},
	"CRITICAL": {90, 100},
}

var sortColumns = map[string]string{
	"created_at": "created_at",
	"updated_at": "updated_at",
	"ai_score":   "ai_score",
	"ip":         "ip",
	"status":     "status",
}

type pendingFilter struct {
	status    string
	start     *time.Time
	end       *time.Time
	minScore  *int
	maxScore  *int
	risk      *scoreRange
	source    string
	page      int
	pageSize  int
	sortBy    string
	sortOrder string
}

// validate applies defaults and checks every parameter. Binding tags catch most
// problems first; this is the authority when the query is built in code.
func (q PendingQuery) validate() (*pendingFilter, error) {
	f := &pendingFilter{page: q.Page, pageSize: q.PageSize}
	if f.page == 0 {
		f.page = 1
	}
	if f.pageSize == 0 {
		f.pageSize = 20
	}
	if f.page < 1 {
		return nil, invalidParam("page", "page must be >= 1")
	}
	if f.pageSize < 1 || f.pageSize > 100 {
		return nil, invalidParam("page_size", "page_size must be between 1 and 100")
	}

	var err error
	if f.start, err = parseFilterTime(q.StartTime, "start_time"); err != nil {
		return nil, err
	}
	if f.end, err = parseFilterTime(q.EndTime, "end_time"); err != nil {
		return nil, err
	}
	if f.start != nil && f.end != nil && f.start.After(*f.end) {
		return nil, invalidParam("start_time", "start_time must be <= end_time")
	}

	if q.MinScore != nil && (*q.MinScore < 0 || *q.MinScore > 100) {
		return nil, invalidParam("min_score", "min_score must be between 0 and 100")
	}
	if q.MaxScore != nil && (*q.MaxScore < 0 || *q.MaxScore > 100) {
		return nil, invalidParam("max_score", "max_score must be between 0 and 100")
	}
	if q.MinScore != nil && q.MaxScore != nil && *q.MinScore > *q.MaxScore {
		return nil, invalidParam("min_score", "min_score must be <= max_score")
	}
	f.minScore, f.maxScore = q.MinScore, q.MaxScore

	if lvl := strings.ToUpper(strings.TrimSpace(q.RiskLevel)); lvl != "" {
		r, ok := riskLevels[lvl]
		if !ok {
			return nil, invalidParam("risk_level", "risk_level must be one of LOW, MEDIUM, HIGH, CRITICAL")
		}
		f.risk = &r
	}

	sortBy := strings.TrimSpace(q.SortBy)
	if sortBy == "" {
		sortBy = "created_at"
	}
	col, ok := sortColumns[sortBy]
	if !ok {
		return nil, invalidParam("sort_by", "sort_by must be one of created_at, updated_at, ai_score, ip, status")
	}
	f.sortBy = col

	f.sortOrder = strings.ToLower(strings.TrimSpace(q.SortOrder))
	if f.sortOrder == "" {
		f.sortOrder = "desc"
	}
	if f.sortOrder != "asc" && f.sortOrder != "desc" {
		return nil, invalidParam("sort_order", "sort_order must be asc or desc")
	}

	f.status = strings.ToUpper(strings.TrimSpace(q.Status))
	if f.status == "" {
		f.status = string(models.EventStatusPending)
	}
	f.source = strings.TrimSpace(q.Source)
	return f, nil
}

func parseFilterTime(v, field string) (*time.Time, error) {
	if strings.TrimSpace(v) == "" {
		return nil, nil
	}
	t, ok := ingest.ParseTime(v)
	if !ok {
		return nil, invalidParam(field, "invalid %s, expected ISO8601 or 'YYYY-MM-DD HH:MM:SS'", field)
	}
	return &t, nil
}

// QueryPending returns one page of events awaiting a decision.
func (s *EventService) QueryPending(ctx context.Context, q PendingQuery) (*PendingPage, error) {
	f, err := q.validate()
	if err != nil {
		return nil, err
	}

	db := s.db.WithContext(ctx).Model(&models.ThreatEvent{}).Where("status = ?", f.status)
	if f.start != nil {
		db = db.Where("created_at >= ?", *f.start)
	}
	if f.end != nil {
		db = db.Where("created_at <= ?", *f.end)
	}
	if f.source != "" {
		db = db.Where("source = ?", f.source)
	}
	if f.risk != nil {
		db = db.Where("ai_score BETWEEN ? AND ?", f.risk.min, f.risk.max)
	}
	if f.minScore != nil {
		db = db.Where("ai_score >= ?", *f.minScore)
	}
	if f.maxScore != nil {
		db = db.Where("ai_score <= ?", *f.maxScore)
	}

	db = db.Session(&gorm.Session{})

	var total int64
	if err := db.Count(&total).Error; err != nil {
		return nil, err
	}

	items := []models.ThreatEvent{}
	err = db.Order(f.sortBy + " " + f.sortOrder).Order("id " + f.sortOrder).
		Offset((f.page - 1) * f.pageSize).Limit(f.pageSize).Find(&items).Error
	if err != nil {
		return nil, err
	}

	totalPages := 0
	if total > 0 {
		totalPages = int((total + int64(f.pageSize) - 1) / int64(f.pageSize))
	}
	return &PendingPage{Items: items, Total: total, Page: f.page, PageSize: f.pageSize, TotalPages: totalPages}, nil
}
