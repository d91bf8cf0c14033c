package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuditService_LogFillsDefaults(t *testing.T) {
	db := setupServicesTestDB(t)
	svc := NewAuditService(db)

	a := svc.Log(AuditEntry{Actor: "alice", Action: "approve_event", Reason: map[string]interface{}{"reason": "ok"}})
	require.NotNil(t, a)
	assert.NotEmpty(t, a.UUID)
	assert.NotEmpty(t, a.TraceID)
	assert.Equal(t, "success", a.Result)
	assert.JSONEq(t, `{"reason":"ok"}`, a.Reason)
	assert.False(t, a.CreatedAt.IsZero())
}

func TestAuditService_List(t *testing.T) {
	db := setupServicesTestDB(t)
	svc := NewAuditService(db)
	svc.Log(AuditEntry{Actor: "a", Action: "approve_event", TraceID: "t1"})
	svc.Log(AuditEntry{Actor: "a", Action: "reject_event", TraceID: "t1"})
	svc.Log(AuditEntry{Actor: "b", Action: "approve_event", TraceID: "t2"})

	logs, err := svc.List(AuditFilter{TraceID: "t1"})
	require.NoError(t, err)
	assert.Len(t, logs, 2)

	logs, err = svc.List(AuditFilter{Action: "approve_event"})
	require.NoError(t, err)
	assert.Len(t, logs, 2)

	logs, err = svc.List(AuditFilter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "t2", logs[0].TraceID)
}

func TestAuditService_LogSwallowsWriteErrors(t *testing.T) {
	db := setupServicesTestDB(t)
	svc := NewAuditService(db)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	assert.NotPanics(t, func() {
		assert.Nil(t, svc.Log(AuditEntry{Actor: "a", Action: "x"}))
	})
}
