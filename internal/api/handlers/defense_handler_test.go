package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/Wikid82/argus/backend/internal/api/handlers"
	"github.com/Wikid82/argus/backend/internal/api/middleware"
	"github.com/Wikid82/argus/backend/internal/assessor"
	"github.com/Wikid82/argus/backend/internal/device"
	"github.com/Wikid82/argus/backend/internal/models"
	"github.com/Wikid82/argus/backend/internal/services"
)

type defenseFixture struct {
	router *gin.Engine
	db     *gorm.DB
	engine *services.ExecutionEngine
}

func setupDefenseTest(t *testing.T) *defenseFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db := handlers.OpenTestDB(t)

	audit := services.NewAuditService(db)
	events := services.NewEventService(db, assessor.New(nil), audit)
	engine := services.NewExecutionEngine(db, device.NewMock(), audit, services.EngineOptions{Workers: 2, BaseDelay: time.Millisecond})
	t.Cleanup(func() { _ = engine.Shutdown(context.Background()) })
	approvals := services.NewApprovalService(db, audit, engine, nil)
	h := handlers.NewDefenseHandler(events, approvals, audit)

	r := gin.New()
	r.Use(middleware.TraceID())
	r.POST("/alerts", h.Ingest)
	r.GET("/events", h.ListEvents)
	r.GET("/pending", h.Pending)
	r.POST("/events/:id/approve", h.Approve)
	r.POST("/events/:id/reject", h.Reject)
	r.GET("/tasks/:id", h.GetTask)
	r.GET("/audit", h.Audit)
	return &defenseFixture{router: r, db: db, engine: engine}
}

func (f *defenseFixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd *bytes.Buffer
	if body != "" {
		rd = bytes.NewBufferString(body)
	} else {
		rd = &bytes.Buffer{}
	}
	req, _ := http.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(middleware.TraceIDHeader, "trace-handler")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	TraceID string          `json:"trace_id"`
	Error   string          `json:"error"`
	Field   string          `json:"field"`
}

func decode(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return env
}

const listBatch = `{"response_code":0,"list_infos":[
	{"client_id":"c-1","attack_ip":"1.2.3.4","attack_count":5,"service_name":"ssh"},
	{"client_id":"c-2","attack_ip":"5.6.7.8","attack_count":1},
	{"client_id":"c-3"}
]}`

func TestDefenseHandler_Ingest(t *testing.T) {
	f := setupDefenseTest(t)

	w := f.do(t, http.MethodPost, "/alerts", listBatch)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	env := decode(t, w)
	assert.Equal(t, 0, env.Code)
	assert.Equal(t, "trace-handler", env.TraceID)

	var res services.IngestResult
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.Len(t, res.EventIDs, 2)
	assert.Empty(t, res.DedupedEventIDs)
	assert.Len(t, res.InvalidReasons, 1)

	w = f.do(t, http.MethodPost, "/alerts", listBatch)
	require.Equal(t, http.StatusOK, w.Code)
	var again services.IngestResult
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &again))
	assert.Empty(t, again.EventIDs)
	assert.ElementsMatch(t, res.EventIDs, again.DedupedEventIDs)
}

func TestDefenseHandler_IngestErrors(t *testing.T) {
	f := setupDefenseTest(t)

	w := f.do(t, http.MethodPost, "/alerts", `{"list_infos": [`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_json", decode(t, w).Error)

	w = f.do(t, http.MethodPost, "/alerts", `{"response_code": 5, "response_message": "sensor down"}`)
	assert.Equal(t, http.StatusBadGateway, w.Code)
	env := decode(t, w)
	assert.Equal(t, "upstream_response_invalid", env.Error)
	assert.Equal(t, "trace-handler", env.TraceID)

	var count int64
	f.db.Model(&models.ThreatEvent{}).Count(&count)
	assert.Zero(t, count)
}

func TestDefenseHandler_ApproveFlow(t *testing.T) {
	f := setupDefenseTest(t)
	w := f.do(t, http.MethodPost, "/alerts", listBatch)
	require.Equal(t, http.StatusOK, w.Code)
	var res services.IngestResult
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &res))
	id := res.EventIDs[0]

	w = f.do(t, http.MethodPost, "/events/"+itoa(id)+"/approve", `{"reason":"scanner"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var approval services.ApprovalResult
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &approval))
	assert.NotZero(t, approval.TaskID)

	var task models.ExecutionTask
	require.Eventually(t, func() bool {
		w := f.do(t, http.MethodGet, "/tasks/"+itoa(approval.TaskID), "")
		if w.Code != http.StatusOK {
			return false
		}
		task = models.ExecutionTask{}
		_ = json.Unmarshal(decode(t, w).Data, &task)
		return task.State == models.TaskStateSuccess
	}, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, f.engine.Shutdown(context.Background()))
	assert.Equal(t, "trace-handler", task.TraceID)

	w = f.do(t, http.MethodGet, "/events?status=done", "")
	require.Equal(t, http.StatusOK, w.Code)
	var done []models.ThreatEvent
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &done))
	require.Len(t, done, 1)
	assert.Equal(t, id, done[0].ID)

	w = f.do(t, http.MethodPost, "/events/"+itoa(id)+"/approve", "")
	assert.Equal(t, http.StatusConflict, w.Code)
	w = f.do(t, http.MethodPost, "/events/"+itoa(id)+"/reject", "")
	assert.Equal(t, http.StatusConflict, w.Code)

	w = f.do(t, http.MethodGet, "/audit?trace_id=trace-handler&action="+services.AuditActionBlockExecute, "")
	require.Equal(t, http.StatusOK, w.Code)
	var entries []models.AuditLog
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, models.AuditResultSuccess, entries[0].Result)
}

func TestDefenseHandler_RejectAndNotFound(t *testing.T) {
	f := setupDefenseTest(t)
	w := f.do(t, http.MethodPost, "/alerts", listBatch)
	var res services.IngestResult
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &res))

	w = f.do(t, http.MethodPost, "/events/"+itoa(res.EventIDs[1])+"/reject", `{"reason":"benign"}`)
	assert.Equal(t, http.StatusOK, w.Code)

	var tasks int64
	f.db.Model(&models.ExecutionTask{}).Count(&tasks)
	assert.Zero(t, tasks)

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodPost, "/events/999/approve", "").Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodPost, "/events/999/reject", "").Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/tasks/999", "").Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/events/abc/approve", "").Code)
}

func TestDefenseHandler_Pending(t *testing.T) {
	f := setupDefenseTest(t)
	w := f.do(t, http.MethodPost, "/alerts", listBatch)
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodGet, "/pending?risk_level=CRITICAL&page_size=10", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var page services.PendingPage
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &page))
	assert.Equal(t, int64(1), page.Total)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "1.2.3.4", page.Items[0].IP)

	tests := []struct {
		query string
		field string
	}{
		{"page_size=101", "page_size"},
		{"page=0", "page"},
		{"sort_by=password", "sort_by"},
		{"sort_order=sideways", "sort_order"},
		{"min_score=150", "min_score"},
		{"min_score=80&max_score=10", "min_score"},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			w := f.do(t, http.MethodGet, "/pending?"+tt.query, "")
			assert.Equal(t, http.StatusBadRequest, w.Code)
			env := decode(t, w)
			assert.Equal(t, "invalid_parameter", env.Error)
			assert.Equal(t, tt.field, env.Field)
		})
	}
}

func itoa(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}
