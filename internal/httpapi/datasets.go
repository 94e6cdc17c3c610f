package httpapi

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/datapub/entitlements/internal/dataset"
)

// DatasetHandler serves the dataset catalogue.
type DatasetHandler struct {
	datasets *dataset.Service
}

// NewDatasetHandler constructs a DatasetHandler.
func NewDatasetHandler(datasets *dataset.Service) *DatasetHandler {
	return &DatasetHandler{datasets: datasets}
}

// List returns catalogue records, enriched unless simple=true is passed.
// The external query parameter narrows the listing to external or managed
// datasets.
func (h *DatasetHandler) List(c *gin.Context) {
	var opts dataset.ListOptions
	if raw, ok := c.GetQuery("external"); ok {
		external := raw == "true"
		opts.External = &external
	}
	opts.Simple = c.Query("simple") == "true"

	records, errList := h.datasets.List(c.Request.Context(), opts)
	if errList != nil {
		respondError(c, errList)
		return
	}
	c.JSON(http.StatusOK, records)
}

// Get returns one catalogue record with its metadata.
func (h *DatasetHandler) Get(c *gin.Context) {
	details, errGet := h.datasets.GetByName(c.Request.Context(), c.Param("name"))
	if errGet != nil {
		respondError(c, errGet)
		return
	}
	c.JSON(http.StatusOK, details)
}

// History returns the dataset's publication history.
func (h *DatasetHandler) History(c *gin.Context) {
	entries, errHistory := h.datasets.History(c.Request.Context(), c.Param("name"))
	if errHistory != nil {
		respondError(c, errHistory)
		return
	}
	c.JSON(http.StatusOK, gin.H{"dataset_history": entries})
}

// Replace swaps a dataset definition and its licences.
func (h *DatasetHandler) Replace(c *gin.Context) {
	var body dataset.ReplaceParams
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(body.Name) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing name"})
		return
	}

	record, errReplace := h.datasets.Replace(c.Request.Context(), body)
	if errReplace != nil {
		respondError(c, errReplace)
		return
	}
	c.JSON(http.StatusCreated, record)
}

// Download presigns a URL for a current dataset file.
func (h *DatasetHandler) Download(c *gin.Context) {
	link, errLink := h.datasets.DownloadLink(c.Request.Context(), c.Param("name"), c.Param("file"))
	if errLink != nil {
		respondError(c, errLink)
		return
	}
	c.JSON(http.StatusOK, gin.H{"link": link})
}

// DownloadHistorical presigns a URL for a dated historical dataset file.
func (h *DatasetHandler) DownloadHistorical(c *gin.Context) {
	link, errLink := h.datasets.HistoricalDownloadLink(c.Request.Context(),
		c.Param("name"), c.Param("file"), c.Param("date"))
	if errLink != nil {
		respondError(c, errLink)
		return
	}
	c.JSON(http.StatusOK, gin.H{"link": link})
}

// RebuildHistoryCache rewrites every dataset's history cache.
func (h *DatasetHandler) RebuildHistoryCache(c *gin.Context) {
	if errRebuild := h.datasets.RebuildHistoryCache(c.Request.Context()); errRebuild != nil {
		respondError(c, errRebuild)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "historical cache updated"})
}
