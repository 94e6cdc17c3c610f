// Package httpapi wires the HTTP surface over the domain services.
package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/datapub/entitlements/internal/activity"
	"github.com/datapub/entitlements/internal/apperr"
	"github.com/datapub/entitlements/internal/config"
	"github.com/datapub/entitlements/internal/dataset"
	"github.com/datapub/entitlements/internal/entitlement"
	"github.com/datapub/entitlements/internal/user"
)

// RegisterRoutes registers all routes on the engine.
func RegisterRoutes(r *gin.Engine, conn *gorm.DB, cfg *config.Config,
	users *user.Service, entitlements *entitlement.Service,
	datasets *dataset.Service, activities *activity.Service) {

	healthHandler := NewHealthHandler(conn, cfg)
	r.GET("/health", healthHandler.Health)

	v1 := r.Group("/v1")

	userHandler := NewUserHandler(users, entitlements)
	v1.GET("/users", userHandler.List)
	v1.POST("/users", userHandler.Create)
	v1.GET("/users/:key/:value", userHandler.GetByKey)
	v1.DELETE("/users/:user_id", userHandler.Delete)
	v1.POST("/users/:user_id/update_api_key", userHandler.UpdateAPIKey)
	v1.PATCH("/users/contact_preference", userHandler.UpdateContactPreferences)
	v1.GET("/users/licence/:user_id", userHandler.Licences)
	v1.GET("/users/licence/:user_id/:licence_id", userHandler.LicenceAgreement)
	v1.POST("/users/licence", userHandler.AgreeLicence)
	v1.GET("/users/dataset-access/:user_id", userHandler.DatasetAccess)
	v1.GET("/users/dataset-activity/:user_id", userHandler.DatasetActivity)

	datasetHandler := NewDatasetHandler(datasets)
	v1.GET("/datasets", datasetHandler.List)
	v1.POST("/datasets", datasetHandler.Replace)
	v1.GET("/datasets/:name", datasetHandler.Get)
	v1.GET("/datasets/:name/history", datasetHandler.History)
	v1.GET("/datasets/download/:name/:file", datasetHandler.Download)
	v1.GET("/datasets/download/history/:name/:file/:date", datasetHandler.DownloadHistorical)
	v1.PUT("/datasets/historical_cache", datasetHandler.RebuildHistoryCache)

	activityHandler := NewActivityHandler(activities)
	v1.GET("/activities/:user_id", activityHandler.ListByUser)
	v1.POST("/activities", activityHandler.Add)
}

// respondError maps a service error onto its HTTP status and body.
func respondError(c *gin.Context, err error) {
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		c.JSON(appErr.Status, gin.H{"error": appErr.Message, "code": appErr.Code})
		return
	}
	log.Errorf("unhandled error on %s %s: %v", c.Request.Method, c.Request.URL.Path, err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
}

// pathUint parses a numeric path parameter, responding 400 itself on failure.
func pathUint(c *gin.Context, name string) (uint64, bool) {
	value, errParse := strconv.ParseUint(c.Param(name), 10, 64)
	if errParse != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return value, true
}
