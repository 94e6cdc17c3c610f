// Package dataset implements the dataset catalogue: listings, metadata
// enrichment from the object store, publication history, download links and
// catalogue replacement.
package dataset

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/datapub/entitlements/internal/apperr"
	"github.com/datapub/entitlements/internal/models"
	"github.com/datapub/entitlements/internal/storage"
	"github.com/datapub/entitlements/internal/util"
)

// Object keys within a dataset's prefix.
const (
	metadataKey     = "metadata.json"
	historyPrefix   = "history/"
	historyCacheKey = "history/history_cache.json"
)

// Service owns the dataset catalogue and its object-store artefacts.
type Service struct {
	db               *gorm.DB
	store            storage.ObjectStore
	bucket           string
	restrictedBucket string
}

// NewService builds a Service. bucket holds public dataset artefacts,
// restrictedBucket the private ones.
func NewService(conn *gorm.DB, store storage.ObjectStore, bucket, restrictedBucket string) *Service {
	return &Service{
		db:               conn,
		store:            store,
		bucket:           bucket,
		restrictedBucket: restrictedBucket,
	}
}

// metadata is the per-dataset metadata document kept alongside its files.
type metadata struct {
	FileCount       int              `json:"file_count"`
	FileSize        float64          `json:"file_size"`
	LastUpdated     string           `json:"last_updated"`
	Fee             any              `json:"fee"`
	TechSpecURL     string           `json:"tech_spec_url"`
	Format          string           `json:"format"`
	UpdateFrequency string           `json:"update_frequency"`
	Resources       []map[string]any `json:"resources"`
	PublicResources []map[string]any `json:"public_resources"`
}

// Details is a catalogue record enriched with its current metadata document.
// External datasets carry the bare record only.
type Details struct {
	models.Dataset
	FileCount       int              `json:"file_count,omitempty"`
	FileSize        string           `json:"file_size,omitempty"`
	LastUpdated     string           `json:"last_updated,omitempty"`
	Fee             any              `json:"fee,omitempty"`
	TechSpecURL     string           `json:"tech_spec_url,omitempty"`
	Format          string           `json:"format,omitempty"`
	UpdateFrequency string           `json:"update_frequency,omitempty"`
	Resources       []map[string]any `json:"resources,omitempty"`
	PublicResources []map[string]any `json:"public_resources,omitempty"`
}

// LicenceParams is one licence definition within a catalogue replacement.
type LicenceParams struct {
	LicenceName string `json:"licence_id"`
	Status      string `json:"status"`
	Title       string `json:"title"`
	URL         string `json:"url"`
	LastUpdated string `json:"last_updated"` // yyyy-mm-dd
	Created     string `json:"created"`      // yyyy-mm-dd
}

// ReplaceParams is the catalogue replacement payload for one dataset and the
// licences grouped under it.
type ReplaceParams struct {
	Name        string  `json:"name"`
	Title       string  `json:"title"`
	Version     *string `json:"version"`
	URL         *string `json:"url"`
	Description *string `json:"description"`
	LicenceName *string `json:"licence_id"`
	State       string  `json:"state"`
	Type        string  `json:"type"`
	Private     bool    `json:"private"`
	External    bool    `json:"external"`

	Licences []LicenceParams `json:"licences"`
}

// ListOptions filters and shapes a catalogue listing.
type ListOptions struct {
	External *bool // Filter on the external flag when set.
	Simple   bool  // Skip metadata enrichment.
}

// List returns the catalogue, each non-external record enriched with its
// metadata document unless Simple is set. A record whose metadata document is
// missing is listed bare rather than failing the whole listing.
func (s *Service) List(ctx context.Context, opts ListOptions) ([]Details, error) {
	query := s.db.WithContext(ctx).Order("id ASC")
	if opts.External != nil {
		query = query.Where("external = ?", *opts.External)
	}
	var records []models.Dataset
	if errFind := query.Find(&records).Error; errFind != nil {
		return nil, apperr.StorageRead(errFind)
	}

	out := make([]Details, 0, len(records))
	for i := range records {
		if opts.Simple {
			out = append(out, Details{Dataset: records[i]})
			continue
		}
		details, errEnrich := s.enrich(ctx, &records[i])
		if errors.Is(errEnrich, storage.ErrNotFound) {
			log.Warnf("no metadata for dataset %s, listing bare", records[i].Name)
			out = append(out, Details{Dataset: records[i]})
			continue
		}
		if errEnrich != nil {
			return nil, apperr.Wrap(errEnrich, apperr.CodeObjectStore, http.StatusInternalServerError,
				"failed to fetch metadata for dataset %s", records[i].Name)
		}
		out = append(out, *details)
	}
	return out, nil
}

// GetByName returns one catalogue record enriched with its metadata document.
func (s *Service) GetByName(ctx context.Context, name string) (*Details, error) {
	record, errFind := s.getDataset(ctx, name)
	if errFind != nil {
		return nil, errFind
	}

	details, errEnrich := s.enrich(ctx, record)
	if errors.Is(errEnrich, storage.ErrNotFound) {
		return nil, apperr.NotFound(apperr.CodeDatasetNotFound, "no metadata for dataset %s", name)
	}
	if errEnrich != nil {
		return nil, apperr.Wrap(errEnrich, apperr.CodeObjectStore, http.StatusInternalServerError,
			"failed to fetch metadata for dataset %s", name)
	}
	return details, nil
}

// enrich overlays a record with its metadata document. External records are
// returned bare; their metadata lives outside the managed store.
func (s *Service) enrich(ctx context.Context, record *models.Dataset) (*Details, error) {
	details := Details{Dataset: *record}
	if record.External {
		return &details, nil
	}

	var meta metadata
	key := record.Name + "/" + metadataKey
	if errGet := s.store.GetJSON(ctx, s.bucketFor(record), key, &meta); errGet != nil {
		return nil, errGet
	}

	lastUpdated, errDate := util.FormatLastUpdated(meta.LastUpdated, "")
	if errDate != nil {
		return nil, errDate
	}

	details.FileCount = meta.FileCount
	details.FileSize = util.FormatFileSize(meta.FileSize)
	details.LastUpdated = lastUpdated
	details.Fee = meta.Fee
	details.TechSpecURL = meta.TechSpecURL
	details.Format = meta.Format
	details.UpdateFrequency = meta.UpdateFrequency
	details.Resources = formatResourceSizes(meta.Resources)
	details.PublicResources = formatResourceSizes(meta.PublicResources)
	return &details, nil
}

// History returns the dataset's publication history, newest first, with each
// entry's date rendered according to the dataset's update frequency.
func (s *Service) History(ctx context.Context, name string) ([]map[string]any, error) {
	record, errFind := s.getDataset(ctx, name)
	if errFind != nil {
		return nil, errFind
	}

	var entries []map[string]any
	key := record.Name + "/" + historyCacheKey
	if errGet := s.store.GetJSON(ctx, s.bucketFor(record), key, &entries); errGet != nil {
		if errors.Is(errGet, storage.ErrNotFound) {
			return nil, apperr.NotFound(apperr.CodeDatasetNotFound, "no history for dataset %s", name)
		}
		return nil, apperr.Wrap(errGet, apperr.CodeObjectStore, http.StatusInternalServerError,
			"failed to fetch history for dataset %s", name)
	}

	for _, entry := range entries {
		raw, _ := entry["last_updated"].(string)
		frequency, _ := entry["update_frequency"].(string)

		layout, errLayout := historyDateLayout(frequency)
		if errLayout != nil {
			return nil, errLayout
		}
		formatted, errDate := util.FormatLastUpdated(raw, layout)
		if errDate != nil {
			return nil, errDate
		}
		entry["last_updated"] = formatted

		if resources, ok := entry["resources"].([]any); ok {
			for _, item := range resources {
				if resource, ok := item.(map[string]any); ok {
					if size, ok := resource["file_size"].(float64); ok {
						resource["file_size"] = util.FormatFileSize(size)
					}
				}
			}
		}
	}
	return entries, nil
}

// Replace swaps the named dataset and its licences for the supplied
// definitions. Existing rows are removed and reinserted, so the records get
// fresh ids; agreements are unaffected because they join on names.
func (s *Service) Replace(ctx context.Context, params ReplaceParams) (*models.Dataset, error) {
	record := models.Dataset{
		Name:        params.Name,
		Title:       params.Title,
		Version:     params.Version,
		URL:         params.URL,
		Description: params.Description,
		LicenceName: params.LicenceName,
		State:       params.State,
		Type:        params.Type,
		Private:     params.Private,
		External:    params.External,
	}
	if record.State == "" {
		record.State = "active"
	}

	errTx := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if errDelete := tx.Where("name = ?", params.Name).Delete(&models.Dataset{}).Error; errDelete != nil {
			return errDelete
		}
		if errCreate := tx.Create(&record).Error; errCreate != nil {
			return errCreate
		}

		for _, licence := range params.Licences {
			lastUpdated, errLast := parseDay(licence.LastUpdated)
			if errLast != nil {
				return errLast
			}
			created, errCreated := parseDay(licence.Created)
			if errCreated != nil {
				return errCreated
			}

			if errDelete := tx.Where("licence_name = ?", licence.LicenceName).
				Delete(&models.Licence{}).Error; errDelete != nil {
				return errDelete
			}
			row := models.Licence{
				LicenceName: licence.LicenceName,
				Status:      licence.Status,
				Title:       licence.Title,
				URL:         licence.URL,
				LastUpdated: lastUpdated,
				Created:     created,
				DatasetName: &record.Name,
			}
			if errCreate := tx.Create(&row).Error; errCreate != nil {
				return errCreate
			}
		}
		return nil
	})
	if errTx != nil {
		return nil, apperr.StorageWrite(errTx)
	}

	log.Infof("replaced dataset %s", params.Name)
	return &record, nil
}

// DownloadLink presigns a download URL for a current dataset file.
func (s *Service) DownloadLink(ctx context.Context, name, file string) (string, error) {
	return s.presign(ctx, name, name+"/"+file)
}

// HistoricalDownloadLink presigns a download URL for a file from a dated
// publication under the dataset's history prefix.
func (s *Service) HistoricalDownloadLink(ctx context.Context, name, file, date string) (string, error) {
	return s.presign(ctx, name, name+"/"+historyPrefix+date+"/"+file)
}

// RebuildHistoryCache walks every dataset prefix in both buckets and rewrites
// its history cache from the per-month metadata documents, newest first.
// Months without a metadata document are skipped rather than failing the
// whole rebuild.
func (s *Service) RebuildHistoryCache(ctx context.Context) error {
	for _, bucket := range []string{s.bucket, s.restrictedBucket} {
		prefixes, errList := s.store.ListPrefixes(ctx, bucket, "")
		if errList != nil {
			return apperr.Wrap(errList, apperr.CodeObjectStore, http.StatusInternalServerError,
				"failed to list datasets in bucket %s", bucket)
		}

		for _, prefix := range prefixes {
			if errBuild := s.rebuildOne(ctx, bucket, prefix); errBuild != nil {
				return errBuild
			}
		}
	}
	return nil
}

// rebuildOne rewrites the history cache for a single dataset prefix.
func (s *Service) rebuildOne(ctx context.Context, bucket, prefix string) error {
	months, errList := s.store.ListPrefixes(ctx, bucket, prefix+historyPrefix)
	if errList != nil {
		return apperr.Wrap(errList, apperr.CodeObjectStore, http.StatusInternalServerError,
			"failed to list history for %s", prefix)
	}

	var history []map[string]any
	for _, month := range months {
		var meta map[string]any
		errGet := s.store.GetJSON(ctx, bucket, month+metadataKey, &meta)
		if errors.Is(errGet, storage.ErrNotFound) {
			log.Debugf("no metadata under %s, skipping", month)
			continue
		}
		if errGet != nil {
			log.Errorf("failed to read metadata under %s, skipping: %v", month, errGet)
			continue
		}
		history = append(history, meta)
	}
	if len(history) == 0 {
		return nil
	}

	sort.SliceStable(history, func(i, j int) bool {
		return historyDate(history[i]).After(historyDate(history[j]))
	})

	data, errMarshal := json.Marshal(history)
	if errMarshal != nil {
		return fmt.Errorf("dataset: marshal history cache for %s: %w", prefix, errMarshal)
	}
	if errPut := s.store.Put(ctx, bucket, prefix+historyCacheKey, data); errPut != nil {
		return apperr.Wrap(errPut, apperr.CodeObjectStore, http.StatusInternalServerError,
			"failed to write history cache for %s", prefix)
	}

	log.Infof("rebuilt history cache for %s (%d entries)", prefix, len(history))
	return nil
}

// presign resolves the dataset to pick the right bucket and builds the URL.
func (s *Service) presign(ctx context.Context, name, key string) (string, error) {
	record, errFind := s.getDataset(ctx, name)
	if errFind != nil {
		return "", errFind
	}

	link, errSign := s.store.PresignGet(ctx, s.bucketFor(record), key, true)
	if errSign != nil {
		return "", apperr.Wrap(errSign, apperr.CodeObjectStore, http.StatusInternalServerError,
			"failed to presign %s", key)
	}
	return link, nil
}

// getDataset fetches one catalogue record by name.
func (s *Service) getDataset(ctx context.Context, name string) (*models.Dataset, error) {
	var record models.Dataset
	errFind := s.db.WithContext(ctx).Where("name = ?", name).First(&record).Error
	if errors.Is(errFind, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound(apperr.CodeDatasetNotFound, "dataset %s not found", name)
	}
	if errFind != nil {
		return nil, apperr.StorageRead(errFind)
	}
	return &record, nil
}

// bucketFor picks the bucket a dataset's artefacts live in.
func (s *Service) bucketFor(record *models.Dataset) string {
	if record.Private {
		return s.restrictedBucket
	}
	return s.bucket
}

// historyDateLayout maps an update frequency onto the display layout for
// history entries. The set is closed; an unknown frequency is a metadata
// defect.
func historyDateLayout(frequency string) (string, error) {
	switch frequency {
	case "Daily":
		return "2 January 2006", nil
	case "Monthly", "Every 3 months":
		return "January 2006", nil
	default:
		return "", fmt.Errorf("dataset: unknown update frequency %q", frequency)
	}
}

// historyDate extracts the sortable date of a history entry, zero when the
// entry has none.
func historyDate(entry map[string]any) time.Time {
	raw, _ := entry["last_updated"].(string)
	parsed, errParse := util.ParseMetadataDate(raw)
	if errParse != nil {
		return time.Time{}
	}
	return parsed
}

// formatResourceSizes renders each resource's numeric file_size human
// readable, leaving other fields untouched.
func formatResourceSizes(resources []map[string]any) []map[string]any {
	for _, resource := range resources {
		if size, ok := resource["file_size"].(float64); ok {
			resource["file_size"] = util.FormatFileSize(size)
		}
	}
	return resources
}

// parseDay parses a yyyy-mm-dd date column value.
func parseDay(value string) (time.Time, error) {
	parsed, errParse := time.Parse("2006-01-02", value)
	if errParse != nil {
		return time.Time{}, fmt.Errorf("dataset: parse date %q: %w", value, errParse)
	}
	return parsed, nil
}
