package models

import "time"

// Dataset access types.
const (
	DatasetTypeOpen         = "open"
	DatasetTypeLicenced     = "licenced"
	DatasetTypeRestricted   = "restricted"
	DatasetTypeConfidential = "confidential"
	DatasetTypeFreemium     = "freemium"
)

// SampleSuffix marks a restricted-preview counterpart of a parent dataset.
const SampleSuffix = "_sample"

// Dataset is a named, versioned resource descriptor.
type Dataset struct {
	ID uint64 `gorm:"primaryKey;autoIncrement" json:"dataset_id"` // Primary key. Replaced wholesale on upsert-by-name.

	Name        string  `gorm:"type:text;not null;uniqueIndex" json:"name"` // Natural key.
	Title       string  `gorm:"type:text;not null" json:"title"`            // Display title.
	Version     *string `gorm:"type:text" json:"version"`                   // Version label.
	URL         *string `gorm:"type:text" json:"url"`                       // Landing page URL.
	Description *string `gorm:"type:text" json:"description"`               // Description.
	LicenceName *string `gorm:"type:text;index" json:"licence_id"`          // Governing licence for single-licence datasets.

	State string `gorm:"type:text;not null;default:active" json:"state"` // Lifecycle state.
	Type  string `gorm:"type:text;not null;index" json:"type"`           // Access type, one of the DatasetType constants.

	Private  bool `gorm:"not null;default:false" json:"private"`  // Served from the restricted bucket.
	External bool `gorm:"not null;default:false" json:"external"` // Metadata lives outside the managed store.

	MetadataCreated time.Time `gorm:"not null;autoCreateTime" json:"metadata_created"` // Creation timestamp.
}

// IsSample reports whether the dataset is a sample counterpart of a parent dataset.
func (d *Dataset) IsSample() bool {
	return len(d.Name) > len(SampleSuffix) && d.Name[len(d.Name)-len(SampleSuffix):] == SampleSuffix
}
