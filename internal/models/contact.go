package models

import "time"

// Contact is a user's contact-preference channel. The full set for a user is
// replaced on every update, never diffed.
type Contact struct {
	ID uint64 `gorm:"primaryKey;autoIncrement" json:"contact_id"` // Primary key.

	UserID      uint64 `gorm:"not null;index" json:"user_details_id"`   // Owning user.
	ContactType string `gorm:"type:text;not null" json:"contact_type"`  // Channel name, e.g. email.

	DateAdded time.Time `gorm:"not null;autoCreateTime" json:"date_added"` // Creation timestamp.
}
