package routes

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/Wikid82/argus/backend/internal/api/handlers"
	"github.com/Wikid82/argus/backend/internal/api/middleware"
	"github.com/Wikid82/argus/backend/internal/config"
	"github.com/Wikid82/argus/backend/internal/rbac"
	"github.com/Wikid82/argus/backend/internal/services"
)

// DefensePrefix is the versioned mount of the defense routes. The same routes
// are also served at the root for sensors configured against older releases.
const DefensePrefix = "/api/v1/defense"

// Dependencies are the services the HTTP surface is built on.
type Dependencies struct {
	Events    *services.EventService
	Approvals *services.ApprovalService
	Audit     *services.AuditService
	Authz     rbac.Authorizer
	// Registry is exposed at /metrics when set.
	Registry *prometheus.Registry
}

// Register wires up the API routes.
func Register(router *gin.Engine, db *gorm.DB, cfg config.Config, deps Dependencies) error {
	if deps.Events == nil || deps.Approvals == nil || deps.Audit == nil {
		return errors.New("register routes: services are required")
	}
	if deps.Authz == nil {
		return errors.New("register routes: authorizer is required")
	}

	router.GET("/api/v1/health", handlers.HealthHandler(db))
	if deps.Registry != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{})))
	}

	h := handlers.NewDefenseHandler(deps.Events, deps.Approvals, deps.Audit)
	mountDefense(router.Group(DefensePrefix), h, cfg, deps)
	mountDefense(router.Group(""), h, cfg, deps)
	return nil
}

func mountDefense(g *gin.RouterGroup, h *handlers.DefenseHandler, cfg config.Config, deps Dependencies) {
	need := func(perm string) gin.HandlerFunc {
		return middleware.RequirePermission(deps.Authz, deps.Audit, perm)
	}

	g.POST("/alerts", middleware.SensorKey(cfg.SensorKeyHash), h.Ingest)
	g.GET("/events", h.ListEvents)
	g.GET("/pending", need(rbac.PermViewEvents), h.Pending)
	g.POST("/events/:id/approve", need(rbac.PermApproveEvent), h.Approve)
	g.POST("/events/:id/reject", need(rbac.PermRejectEvent), h.Reject)
	g.GET("/tasks/:id", need(rbac.PermViewEvents), h.GetTask)
	g.GET("/audit", need(rbac.PermViewAudit), h.Audit)
}
