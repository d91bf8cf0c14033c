package handlers

import (
	"net"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/Wikid82/argus/backend/internal/version"
)

// getLocalIP returns the non-loopback local IP of the host
func getLocalIP() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return ""
	}
	for _, address := range addrs {
		if ipnet, ok := address.(*net.IPNet); ok && !ipnet.IP.IsLoopback() {
			if ipnet.IP.To4() != nil {
				return ipnet.IP.String()
			}
		}
	}
	return ""
}

// HealthHandler responds with service metadata and the store's reachability.
// An unreachable store turns the response into a 503.
func HealthHandler(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		status, code, store := "ok", http.StatusOK, "ok"
		if err := pingStore(c, db); err != nil {
			status, code, store = "degraded", http.StatusServiceUnavailable, "unreachable"
		}
		c.JSON(code, gin.H{
			"status":      status,
			"database":    store,
			"service":     version.Name,
			"version":     version.Version,
			"git_commit":  version.GitCommit,
			"build_time":  version.BuildTime,
			"internal_ip": getLocalIP(),
		})
	}
}

func pingStore(c *gin.Context, db *gorm.DB) error {
	if db == nil {
		return gorm.ErrInvalidDB
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(c.Request.Context())
}
