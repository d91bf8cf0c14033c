package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/Wikid82/argus/backend/internal/models"
	"github.com/Wikid82/argus/backend/internal/rbac"
	"github.com/Wikid82/argus/backend/internal/services"
)

const UserKey = "user"

// RequirePermission rejects requests whose bearer token is missing or invalid
// (401) or whose user lacks permission (403). Denials are audited when audit
// is non-nil.
func RequirePermission(authz rbac.Authorizer, audit *services.AuditService, permission string) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := authz.CurrentUser(bearerToken(c))
		if err != nil {
			GetRequestLogger(c).WithError(err).Debug("rejected unauthenticated request")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":    "unauthorized",
				"message":  "authentication required",
				"trace_id": GetTraceID(c),
			})
			return
		}

		if !authz.HasPermission(user, permission) {
			if audit != nil {
				audit.Log(services.AuditEntry{
					Actor:      user.Username,
					Action:     services.AuditActionAccessDenied,
					Target:     SanitizePath(c.Request.URL.Path),
					TargetType: "endpoint",
					Reason:     map[string]interface{}{"required_permission": permission, "role": user.Role},
					Result:     models.AuditResultFailed,
					TraceID:    GetTraceID(c),
				})
			}
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":               "permission_denied",
				"message":             "missing permission " + permission,
				"required_permission": permission,
				"trace_id":            GetTraceID(c),
			})
			return
		}

		c.Set(UserKey, user)
		c.Next()
	}
}

// CurrentUser returns the user stored by RequirePermission.
func CurrentUser(c *gin.Context) *rbac.User {
	if v, ok := c.Get(UserKey); ok {
		if u, ok := v.(*rbac.User); ok {
			return u
		}
	}
	return nil
}

func bearerToken(c *gin.Context) string {
	h := c.GetHeader("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}
