package httpapi

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/datapub/entitlements/internal/activity"
)

// ActivityHandler serves the activity log.
type ActivityHandler struct {
	activities *activity.Service
}

// NewActivityHandler constructs an ActivityHandler.
func NewActivityHandler(activities *activity.Service) *ActivityHandler {
	return &ActivityHandler{activities: activities}
}

// ListByUser returns the user's activity events, newest first.
func (h *ActivityHandler) ListByUser(c *gin.Context) {
	userID, ok := pathUint(c, "user_id")
	if !ok {
		return
	}
	events, errList := h.activities.ListByUser(c.Request.Context(), userID)
	if errList != nil {
		respondError(c, errList)
		return
	}
	c.JSON(http.StatusOK, events)
}

// Add records one activity event.
func (h *ActivityHandler) Add(c *gin.Context) {
	var body activity.AddParams
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if body.UserID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing user_id"})
		return
	}
	if strings.TrimSpace(body.ActivityType) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing activity_type"})
		return
	}

	event, errAdd := h.activities.Add(c.Request.Context(), body)
	if errAdd != nil {
		respondError(c, errAdd)
		return
	}
	c.JSON(http.StatusCreated, event)
}
