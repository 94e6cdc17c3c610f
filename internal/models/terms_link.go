package models

import "time"

// TermsLink records a user accepting a specific licence variant at a point in time.
// Multiple rows per user and licence are allowed; only the newest is consulted for
// validity, older rows remain as an audit trail.
type TermsLink struct {
	ID uint64 `gorm:"primaryKey;autoIncrement" json:"user_terms_link_id"` // Primary key.

	UserID      uint64 `gorm:"not null;index" json:"user_details_id"`      // Agreeing user.
	LicenceName string `gorm:"type:text;not null;index" json:"licence_id"` // Accepted licence variant.

	DateAgreed time.Time `gorm:"not null;autoCreateTime" json:"date_agreed"` // Acceptance timestamp.
}
