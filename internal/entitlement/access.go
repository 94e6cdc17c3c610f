package entitlement

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/datapub/entitlements/internal/apperr"
	"github.com/datapub/entitlements/internal/models"
)

// timestampMicros is the wire layout for agreement and download timestamps.
const timestampMicros = "2006-01-02T15:04:05.000000"

// Synthetic bucket collecting all licenced datasets in the access view.
const (
	licencedBucketName  = "licenced"
	licencedBucketTitle = "Free datasets"
)

// LicenceEntry is one licence within a dataset access summary.
type LicenceEntry struct {
	Title  string `json:"title"`
	Agreed bool   `json:"agreed"`
}

// DatasetAccess is a consumer-facing access summary for one dataset.
type DatasetAccess struct {
	ID       uint64                  `json:"id,omitempty"`
	Name     string                  `json:"name"`
	Title    string                  `json:"title"`
	Type     string                  `json:"type,omitempty"`
	Licences map[string]LicenceEntry `json:"licences"`
}

// DownloadEntry is one download within a dataset activity summary.
type DownloadEntry struct {
	Date string `json:"date"`
	File string `json:"file"`
}

// DatasetActivitySummary combines a dataset's agreement state with the user's
// download history. LicenceAgreedDate is entirely absent (not null) when no
// licence is agreed; callers distinguish the missing key from an empty value.
type DatasetActivitySummary struct {
	ID                uint64          `json:"id"`
	Name              string          `json:"name"`
	Private           bool            `json:"private"`
	Title             string          `json:"title"`
	LicenceAgreed     bool            `json:"licence_agreed"`
	LicenceAgreedDate string          `json:"licence_agreed_date,omitempty"`
	DownloadHistory   []DownloadEntry `json:"download_history"`
}

// UserDatasetSummary is the per-dataset agreement summary attached to a user
// lookup. DateAgreed is nulled when several licence titles merge into one
// dataset, because a single date no longer describes them.
type UserDatasetSummary struct {
	DateAgreed   *string  `json:"date_agreed"`
	Private      bool     `json:"private"`
	ValidLicence bool     `json:"valid_licence"`
	LicenceType  string   `json:"licence_type"`
	Licences     []string `json:"licences"`
}

// AccessView assembles the ordered access summaries for every non-open
// dataset: per-licence agreement state, sample datasets folded into their
// parents, and all licenced datasets bucketed under one synthetic entry.
func (s *Service) AccessView(ctx context.Context, userID uint64) ([]DatasetAccess, error) {
	if errUser := ensureUserExists(ctx, s.db, userID); errUser != nil {
		return nil, errUser
	}

	var datasets []models.Dataset
	if errFind := s.db.WithContext(ctx).
		Where("external = ?", false).
		Order("id ASC").
		Find(&datasets).Error; errFind != nil {
		return nil, apperr.StorageRead(errFind)
	}

	var entries []DatasetAccess
	for _, ds := range datasets {
		if ds.Type == models.DatasetTypeOpen {
			continue
		}

		licences, errLicences := licencesForDataset(ctx, s.db, ds.Name)
		if errLicences != nil {
			return nil, errLicences
		}

		licenceMap := make(map[string]LicenceEntry, len(licences))
		for _, licence := range licences {
			resolved, errResolve := ResolveAgreement(ctx, s.db, userID, licence.LicenceName)
			if errResolve != nil {
				return nil, errResolve
			}
			licenceMap[licence.LicenceName] = LicenceEntry{Title: licence.Title, Agreed: resolved.Valid}
		}

		entries = append(entries, DatasetAccess{
			ID:       ds.ID,
			Name:     ds.Name,
			Title:    ds.Title,
			Type:     ds.Type,
			Licences: licenceMap,
		})
	}

	folded, errFold := foldSamples(entries)
	if errFold != nil {
		return nil, errFold
	}
	return bucketLicenced(folded), nil
}

// DatasetActivity assembles per-dataset agreement state and download history
// for a user. Multi-licence datasets use OR semantics: the first valid
// licence short-circuits, and no agreement date is reported for them.
func (s *Service) DatasetActivity(ctx context.Context, userID uint64) ([]DatasetActivitySummary, error) {
	if errUser := ensureUserExists(ctx, s.db, userID); errUser != nil {
		return nil, errUser
	}

	var datasets []models.Dataset
	if errFind := s.db.WithContext(ctx).
		Where("external = ?", false).
		Order("id ASC").
		Find(&datasets).Error; errFind != nil {
		return nil, apperr.StorageRead(errFind)
	}

	summaries := make([]DatasetActivitySummary, 0, len(datasets))
	for _, ds := range datasets {
		downloads, errDownloads := downloadHistory(ctx, s.db, userID, ds.Name)
		if errDownloads != nil {
			return nil, errDownloads
		}

		summary := DatasetActivitySummary{
			ID:              ds.ID,
			Name:            ds.Name,
			Private:         ds.Private,
			Title:           ds.Title,
			DownloadHistory: downloads,
		}

		licences, errLicences := licencesForDataset(ctx, s.db, ds.Name)
		if errLicences != nil {
			return nil, errLicences
		}

		if len(licences) > 1 {
			for _, licence := range licences {
				resolved, errResolve := ResolveAgreement(ctx, s.db, userID, licence.LicenceName)
				if errResolve != nil {
					return nil, errResolve
				}
				if resolved.Valid {
					summary.LicenceAgreed = true
					break
				}
			}
		} else {
			licenceName := ""
			if ds.LicenceName != nil {
				licenceName = *ds.LicenceName
			}
			resolved, errResolve := ResolveAgreement(ctx, s.db, userID, licenceName)
			if errResolve != nil {
				return nil, errResolve
			}
			if resolved.Valid {
				summary.LicenceAgreed = true
				summary.LicenceAgreedDate = resolved.DateAgreed.Format(timestampMicros)
			}
		}

		summaries = append(summaries, summary)
	}
	return summaries, nil
}

// BuildUserDatasets summarizes every dataset the user holds a valid agreement
// for, keyed by dataset name. Freemium tier titles are sorted by precedence;
// an unknown tier fails the whole call.
func BuildUserDatasets(ctx context.Context, conn *gorm.DB, userID uint64) (map[string]UserDatasetSummary, error) {
	var links []models.TermsLink
	if errFind := conn.WithContext(ctx).
		Where("user_id = ?", userID).
		Find(&links).Error; errFind != nil {
		return nil, apperr.StorageRead(errFind)
	}

	access := make(map[string]UserDatasetSummary)
	for _, link := range links {
		resolved, errResolve := ResolveAgreement(ctx, conn, userID, link.LicenceName)
		if errResolve != nil {
			return nil, errResolve
		}
		if !resolved.Valid {
			continue
		}

		var licence models.Licence
		if errLicence := conn.WithContext(ctx).
			Where("licence_name = ?", link.LicenceName).
			First(&licence).Error; errLicence != nil {
			return nil, apperr.StorageRead(errLicence)
		}
		if licence.DatasetName == nil {
			return nil, fmt.Errorf("entitlement: licence %s is not linked to a dataset", licence.LicenceName)
		}

		var dataset models.Dataset
		if errDataset := conn.WithContext(ctx).
			Where("name = ?", *licence.DatasetName).
			First(&dataset).Error; errDataset != nil {
			return nil, apperr.StorageRead(errDataset)
		}

		if existing, ok := access[dataset.Name]; ok {
			existing.Licences = append(existing.Licences, licence.Title)
			existing.DateAgreed = nil
			access[dataset.Name] = existing
		} else {
			agreed := resolved.DateAgreed.Format("2006-01-02 15:04:05.000000")
			access[dataset.Name] = UserDatasetSummary{
				DateAgreed:   &agreed,
				Private:      dataset.Private,
				ValidLicence: true,
				LicenceType:  dataset.Type,
				Licences:     []string{licence.Title},
			}
		}
	}

	for name, summary := range access {
		if summary.LicenceType != models.DatasetTypeFreemium {
			continue
		}
		if errSort := SortTierTitles(summary.Licences); errSort != nil {
			return nil, fmt.Errorf("entitlement: dataset %s: %w", name, errSort)
		}
	}
	return access, nil
}

// foldSamples merges each {parent}_sample dataset into its parent: the
// parent's own licence entry becomes "Full dataset", the sample's becomes
// "Sample" and moves into the parent's licence map, and the standalone sample
// entry is dropped. A sample without a parent is a catalogue defect.
func foldSamples(entries []DatasetAccess) ([]DatasetAccess, error) {
	for _, entry := range entries {
		if !strings.HasSuffix(entry.Name, models.SampleSuffix) {
			continue
		}
		parentName := strings.TrimSuffix(entry.Name, models.SampleSuffix)

		parentIdx := -1
		for i := range entries {
			if entries[i].Name == parentName {
				parentIdx = i
				break
			}
		}
		if parentIdx < 0 {
			return nil, fmt.Errorf("entitlement: sample dataset %s has no parent %s", entry.Name, parentName)
		}

		sampleLicence, ok := entry.Licences[entry.Name]
		if !ok {
			return nil, fmt.Errorf("entitlement: sample dataset %s has no licence entry under its own name", entry.Name)
		}
		parentOwn, ok := entries[parentIdx].Licences[parentName]
		if !ok {
			return nil, fmt.Errorf("entitlement: dataset %s has no licence entry under its own name", parentName)
		}

		parentOwn.Title = "Full dataset"
		entries[parentIdx].Licences[parentName] = parentOwn
		sampleLicence.Title = "Sample"
		entries[parentIdx].Licences[entry.Name] = sampleLicence
	}

	kept := make([]DatasetAccess, 0, len(entries))
	for _, entry := range entries {
		if !strings.HasSuffix(entry.Name, models.SampleSuffix) {
			kept = append(kept, entry)
		}
	}
	return kept, nil
}

// bucketLicenced lumps every licenced dataset into one synthetic entry titled
// "Free datasets", appended after the untouched non-licenced entries.
func bucketLicenced(entries []DatasetAccess) []DatasetAccess {
	bucket := DatasetAccess{
		Name:     licencedBucketName,
		Title:    licencedBucketTitle,
		Licences: map[string]LicenceEntry{},
	}

	out := make([]DatasetAccess, 0, len(entries)+1)
	for _, entry := range entries {
		if entry.Type != models.DatasetTypeLicenced {
			out = append(out, entry)
			continue
		}
		if own, ok := entry.Licences[entry.Name]; ok {
			own.Title = entry.Title
			entry.Licences[entry.Name] = own
		}
		for name, licence := range entry.Licences {
			bucket.Licences[name] = licence
		}
	}
	return append(out, bucket)
}

// licencesForDataset lists the licence variants grouped under a dataset name.
func licencesForDataset(ctx context.Context, conn *gorm.DB, datasetName string) ([]models.Licence, error) {
	var licences []models.Licence
	if errFind := conn.WithContext(ctx).
		Where("dataset_name = ?", datasetName).
		Order("id ASC").
		Find(&licences).Error; errFind != nil {
		return nil, apperr.StorageRead(errFind)
	}
	return licences, nil
}

// downloadHistory lists the user's downloads for a dataset, newest first.
func downloadHistory(ctx context.Context, conn *gorm.DB, userID uint64, datasetName string) ([]DownloadEntry, error) {
	var rows []models.Activity
	if errFind := conn.WithContext(ctx).
		Where("user_id = ? AND dataset_name = ? AND activity_type = ?", userID, datasetName, models.ActivityTypeDownload).
		Order("timestamp DESC").
		Find(&rows).Error; errFind != nil {
		return nil, apperr.StorageRead(errFind)
	}

	downloads := make([]DownloadEntry, 0, len(rows))
	for _, row := range rows {
		downloads = append(downloads, DownloadEntry{
			Date: row.Timestamp.Format(timestampMicros),
			File: row.File,
		})
	}
	return downloads, nil
}

// ensureUserExists resolves a user id to a 404 when absent.
func ensureUserExists(ctx context.Context, conn *gorm.DB, userID uint64) error {
	var user models.User
	errFind := conn.WithContext(ctx).First(&user, userID).Error
	if errors.Is(errFind, gorm.ErrRecordNotFound) {
		return apperr.NotFound(apperr.CodeUserNotFound, "user %d not found", userID)
	}
	if errFind != nil {
		return apperr.StorageRead(errFind)
	}
	return nil
}
