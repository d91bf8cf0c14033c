package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/Wikid82/argus/backend/internal/api/middleware"
	"github.com/Wikid82/argus/backend/internal/ingest"
	"github.com/Wikid82/argus/backend/internal/services"
	"github.com/Wikid82/argus/backend/internal/util"
)

// DefenseHandler serves sensor ingestion, the approval queue and the audit trail.
type DefenseHandler struct {
	events    *services.EventService
	approvals *services.ApprovalService
	audit     *services.AuditService
}

func NewDefenseHandler(events *services.EventService, approvals *services.ApprovalService, audit *services.AuditService) *DefenseHandler {
	return &DefenseHandler{events: events, approvals: approvals, audit: audit}
}

type decisionRequest struct {
	Reason string `json:"reason"`
}

// Ingest accepts a sensor batch.
func (h *DefenseHandler) Ingest(c *gin.Context) {
	var alert ingest.Alert
	if err := c.ShouldBindJSON(&alert); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_json", "request body is not a valid alert payload")
		return
	}

	res, err := h.events.Ingest(c.Request.Context(), alert, middleware.GetTraceID(c))
	if err != nil {
		var upstream *services.UpstreamError
		switch {
		case errors.As(err, &upstream):
			respondError(c, http.StatusBadGateway, "upstream_response_invalid",
				fmt.Sprintf("sensor reported code %d: %s", upstream.Code, util.Truncate(upstream.Message, 200)))
		case errors.Is(err, services.ErrPersistFailed):
			respondError(c, http.StatusInternalServerError, "db_persist_failed", "failed to store threat events")
		default:
			middleware.GetRequestLogger(c).WithError(err).Error("ingest failed")
			respondError(c, http.StatusInternalServerError, "internal_error", "ingest failed")
		}
		return
	}
	respondOK(c, "ingested", res)
}

// ListEvents returns the newest events, optionally filtered by ?status=.
func (h *DefenseHandler) ListEvents(c *gin.Context) {
	events, err := h.events.List(c.Request.Context(), c.Query("status"))
	if err != nil {
		middleware.GetRequestLogger(c).WithError(err).Error("list events failed")
		respondError(c, http.StatusInternalServerError, "internal_error", "failed to list events")
		return
	}
	respondOK(c, "ok", events)
}

// Pending returns one page of the approval queue.
func (h *DefenseHandler) Pending(c *gin.Context) {
	var q services.PendingQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		field, msg := bindingProblem(err)
		c.JSON(http.StatusBadRequest, gin.H{
			"error":    "invalid_parameter",
			"field":    field,
			"message":  msg,
			"trace_id": middleware.GetTraceID(c),
		})
		return
	}

	page, err := h.events.QueryPending(c.Request.Context(), q)
	if err != nil {
		var verr *services.ValidationError
		if errors.As(err, &verr) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":    "invalid_parameter",
				"field":    verr.Field,
				"message":  verr.Message,
				"trace_id": middleware.GetTraceID(c),
			})
			return
		}
		middleware.GetRequestLogger(c).WithError(err).Error("pending query failed")
		respondError(c, http.StatusInternalServerError, "internal_error", "failed to query pending events")
		return
	}
	respondOK(c, "ok", page)
}

// Approve approves a pending event and schedules its block task.
func (h *DefenseHandler) Approve(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req decisionRequest
	_ = c.ShouldBindJSON(&req)

	res, err := h.approvals.Approve(c.Request.Context(), id, actorName(c), req.Reason, middleware.GetTraceID(c))
	if err != nil {
		h.decisionError(c, err)
		return
	}
	respondOK(c, "approved", res)
}

// Reject closes a pending event without enforcement.
func (h *DefenseHandler) Reject(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req decisionRequest
	_ = c.ShouldBindJSON(&req)

	if err := h.approvals.Reject(c.Request.Context(), id, actorName(c), req.Reason, middleware.GetTraceID(c)); err != nil {
		h.decisionError(c, err)
		return
	}
	respondOK(c, "rejected", gin.H{"event_id": id, "status": "REJECTED"})
}

// GetTask returns an execution task.
func (h *DefenseHandler) GetTask(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	task, err := h.approvals.GetTask(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, services.ErrTaskNotFound) {
			respondError(c, http.StatusNotFound, "task_not_found", err.Error())
			return
		}
		middleware.GetRequestLogger(c).WithError(err).Error("get task failed")
		respondError(c, http.StatusInternalServerError, "internal_error", "failed to load task")
		return
	}
	respondOK(c, "ok", task)
}

// Audit lists audit entries filtered by trace_id and action.
func (h *DefenseHandler) Audit(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	entries, err := h.audit.List(services.AuditFilter{
		TraceID: c.Query("trace_id"),
		Action:  c.Query("action"),
		Limit:   limit,
	})
	if err != nil {
		middleware.GetRequestLogger(c).WithError(err).Error("list audit failed")
		respondError(c, http.StatusInternalServerError, "internal_error", "failed to list audit entries")
		return
	}
	respondOK(c, "ok", entries)
}

func (h *DefenseHandler) decisionError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrEventNotFound):
		respondError(c, http.StatusNotFound, "event_not_found", err.Error())
	case errors.Is(err, services.ErrInvalidTransition):
		respondError(c, http.StatusConflict, "invalid_status", err.Error())
	default:
		middleware.GetRequestLogger(c).WithError(err).Error("decision failed")
		respondError(c, http.StatusInternalServerError, "internal_error", "failed to record decision")
	}
}

func parseID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		respondError(c, http.StatusBadRequest, "invalid_id", "id must be a positive integer")
		return 0, false
	}
	return uint(id), true
}

func actorName(c *gin.Context) string {
	if u := middleware.CurrentUser(c); u != nil {
		return u.Username
	}
	return "anonymous"
}

// bindingProblem names the first offending query field.
func bindingProblem(err error) (string, string) {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		field := formName(fe.StructField())
		if fe.Param() != "" {
			return field, fmt.Sprintf("%s must satisfy %s=%s", field, fe.Tag(), fe.Param())
		}
		return field, fmt.Sprintf("%s must satisfy %s", field, fe.Tag())
	}
	return "", util.SanitizeForLog(err.Error())
}

var formNames = map[string]string{
	"MinScore":  "min_score",
	"MaxScore":  "max_score",
	"RiskLevel": "risk_level",
	"Page":      "page",
	"PageSize":  "page_size",
	"SortBy":    "sort_by",
	"SortOrder": "sort_order",
}

func formName(structField string) string {
	if n, ok := formNames[structField]; ok {
		return n
	}
	return strings.ToLower(structField)
}
