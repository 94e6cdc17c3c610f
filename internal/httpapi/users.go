package httpapi

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/datapub/entitlements/internal/entitlement"
	"github.com/datapub/entitlements/internal/user"
)

// UserHandler serves user accounts and their licence agreements.
type UserHandler struct {
	users        *user.Service
	entitlements *entitlement.Service
}

// NewUserHandler constructs a UserHandler.
func NewUserHandler(users *user.Service, entitlements *entitlement.Service) *UserHandler {
	return &UserHandler{users: users, entitlements: entitlements}
}

// List returns all user records.
func (h *UserHandler) List(c *gin.Context) {
	records, errList := h.users.GetAll(c.Request.Context())
	if errList != nil {
		respondError(c, errList)
		return
	}
	c.JSON(http.StatusOK, records)
}

// Create registers a new user.
func (h *UserHandler) Create(c *gin.Context) {
	var body user.CreateParams
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(body.Email) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing email"})
		return
	}
	if strings.TrimSpace(body.UserType) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing user_type"})
		return
	}

	details, errCreate := h.users.Create(c.Request.Context(), body)
	if errCreate != nil {
		respondError(c, errCreate)
		return
	}
	c.JSON(http.StatusCreated, details)
}

// GetByKey looks a user up by identifier column.
func (h *UserHandler) GetByKey(c *gin.Context) {
	details, errGet := h.users.GetByKey(c.Request.Context(), c.Param("key"), c.Param("value"))
	if errGet != nil {
		respondError(c, errGet)
		return
	}
	c.JSON(http.StatusOK, details)
}

// Delete removes a user and its dependants.
func (h *UserHandler) Delete(c *gin.Context) {
	userID, ok := pathUint(c, "user_id")
	if !ok {
		return
	}
	if errDelete := h.users.Delete(c.Request.Context(), userID); errDelete != nil {
		respondError(c, errDelete)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "user deleted"})
}

// UpdateAPIKey rotates the user's API key.
func (h *UserHandler) UpdateAPIKey(c *gin.Context) {
	userID, ok := pathUint(c, "user_id")
	if !ok {
		return
	}
	key, errUpdate := h.users.UpdateAPIKey(c.Request.Context(), userID)
	if errUpdate != nil {
		respondError(c, errUpdate)
		return
	}
	c.JSON(http.StatusOK, gin.H{"api_key": key})
}

// UpdateContactPreferences replaces the user's contact preferences.
func (h *UserHandler) UpdateContactPreferences(c *gin.Context) {
	var body user.ContactPreferenceParams
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	preferences, errUpdate := h.users.UpdateContactPreferences(c.Request.Context(), body)
	if errUpdate != nil {
		respondError(c, errUpdate)
		return
	}
	c.JSON(http.StatusOK, gin.H{"contact_preferences": preferences})
}

// Licences resolves all of the user's licence agreements.
func (h *UserHandler) Licences(c *gin.Context) {
	userID, ok := pathUint(c, "user_id")
	if !ok {
		return
	}
	agreements, errList := h.entitlements.UserLicences(c.Request.Context(), userID)
	if errList != nil {
		respondError(c, errList)
		return
	}
	c.JSON(http.StatusOK, agreements)
}

// LicenceAgreement resolves one licence agreement.
func (h *UserHandler) LicenceAgreement(c *gin.Context) {
	userID, ok := pathUint(c, "user_id")
	if !ok {
		return
	}
	agreement, errGet := h.entitlements.LicenceAgreement(c.Request.Context(), userID, c.Param("licence_id"))
	if errGet != nil {
		respondError(c, errGet)
		return
	}
	c.JSON(http.StatusOK, agreement)
}

type agreeLicenceRequest struct {
	UserID    uint64                    `json:"user_id"`
	LicenceID string                    `json:"licence_id"`
	Licences  []entitlement.TierRequest `json:"licences"`
}

// AgreeLicence records licence agreements. A payload carrying a licences
// array is applied as a batch of tier changes; otherwise a single licence_id
// is agreed.
func (h *UserHandler) AgreeLicence(c *gin.Context) {
	var body agreeLicenceRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	if len(body.Licences) > 0 {
		groups, errMulti := h.entitlements.ManageMultiAgreement(c.Request.Context(), body.UserID, body.Licences)
		if errMulti != nil {
			respondError(c, errMulti)
			return
		}
		c.JSON(http.StatusOK, gin.H{"user_id": body.UserID, "groups": groups})
		return
	}

	if strings.TrimSpace(body.LicenceID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing licence_id"})
		return
	}
	linkID, errAgree := h.entitlements.ManageAgreement(c.Request.Context(), body.UserID, body.LicenceID)
	if errAgree != nil {
		respondError(c, errAgree)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": linkID, "user_id": body.UserID, "licence_id": body.LicenceID})
}

// DatasetAccess returns the user's dataset access summaries.
func (h *UserHandler) DatasetAccess(c *gin.Context) {
	userID, ok := pathUint(c, "user_id")
	if !ok {
		return
	}
	access, errAccess := h.entitlements.AccessView(c.Request.Context(), userID)
	if errAccess != nil {
		respondError(c, errAccess)
		return
	}
	c.JSON(http.StatusOK, access)
}

// DatasetActivity returns the user's per-dataset agreement and download
// summaries.
func (h *UserHandler) DatasetActivity(c *gin.Context) {
	userID, ok := pathUint(c, "user_id")
	if !ok {
		return
	}
	summaries, errActivity := h.entitlements.DatasetActivity(c.Request.Context(), userID)
	if errActivity != nil {
		respondError(c, errActivity)
		return
	}
	c.JSON(http.StatusOK, summaries)
}
