package models

import "time"

// UserType classifies account holders (personal, uk organisation, overseas organisation).
type UserType struct {
	ID uint64 `gorm:"primaryKey;autoIncrement" json:"user_type_id"` // Primary key.

	UserType string `gorm:"type:text;not null;uniqueIndex" json:"user_type"` // Classification name.

	DateAdded time.Time `gorm:"not null;autoCreateTime" json:"date_added"` // Creation timestamp.
}
