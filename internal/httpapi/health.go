package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/datapub/entitlements/internal/config"
)

// HealthHandler serves the health check endpoint.
type HealthHandler struct {
	db  *gorm.DB
	cfg *config.Config
}

// NewHealthHandler constructs a HealthHandler.
func NewHealthHandler(db *gorm.DB, cfg *config.Config) *HealthHandler {
	return &HealthHandler{db: db, cfg: cfg}
}

// Health checks database connectivity and reports the build.
func (h *HealthHandler) Health(c *gin.Context) {
	sqlDB, errDB := h.db.DB()
	if errDB != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	if errPing := sqlDB.PingContext(c.Request.Context()); errPing != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"app":    h.cfg.AppName,
		"commit": h.cfg.Commit,
	})
}
