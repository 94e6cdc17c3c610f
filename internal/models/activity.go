package models

import "time"

// ActivityTypeDownload is the activity type recorded for dataset file downloads.
const ActivityTypeDownload = "download"

// Activity is an append-only log row. Rows are never updated, only inserted and
// bulk-deleted when the owning user is removed.
type Activity struct {
	ID uint64 `gorm:"primaryKey;autoIncrement" json:"activity_id"` // Primary key.

	UserID       uint64  `gorm:"not null;index" json:"user_details_id"`      // Acting user.
	DatasetName  *string `gorm:"type:text;index" json:"dataset_id"`          // Target dataset, nullable.
	ActivityType string  `gorm:"type:text;not null" json:"activity_type"`    // Activity kind, e.g. download.
	IPAddress    string  `gorm:"type:text;not null" json:"ip_address"`       // Caller address.
	API          bool    `gorm:"not null" json:"api"`                        // True when performed through the API.
	File         string  `gorm:"type:text;not null" json:"file"`             // Affected file name.

	Timestamp time.Time `gorm:"not null;autoCreateTime;index" json:"timestamp"` // Event time.
}
