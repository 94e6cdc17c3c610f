package models

import "time"

// Licence is a named licence definition. Variants of a freemium family share a
// DatasetName and follow the {family}_{tier} naming convention.
type Licence struct {
	ID uint64 `gorm:"primaryKey;autoIncrement" json:"id"` // Primary key. Replaced wholesale on upsert-by-name.

	LicenceName string `gorm:"type:text;not null;uniqueIndex" json:"licence_id"` // Natural key.
	Status      string `gorm:"type:text;not null" json:"status"`                 // Lifecycle status.
	Title       string `gorm:"type:text;not null" json:"title"`                  // Display title.
	URL         string `gorm:"type:text;not null" json:"url"`                    // Licence document URL.

	LastUpdated time.Time `gorm:"type:date;not null" json:"last_updated"` // Re-issue date; agreements older than this are superseded.
	Created     time.Time `gorm:"type:date;not null" json:"created"`      // First issue date.

	DatasetName *string `gorm:"type:text;index" json:"dataset_name"` // Groups licence variants under one dataset.
}
