package models

import "time"

// User is the local identity record for a data-licensing account holder.
type User struct {
	ID uint64 `gorm:"primaryKey;autoIncrement" json:"user_details_id"` // Primary key.

	UserTypeID uint64  `gorm:"not null;index" json:"user_type_id"`      // Classification reference.
	LdapID     string  `gorm:"type:text;not null;index" json:"ldap_id"` // External directory account id.
	APIKey     string  `gorm:"type:text;not null;index" json:"api_key"` // Opaque per-user API key.
	Email      *string `gorm:"type:text;index" json:"email"`            // Contact email, nullable.

	Title     string `gorm:"type:text;not null" json:"title"`      // Salutation.
	FirstName string `gorm:"type:text;not null" json:"first_name"` // Given name.
	LastName  string `gorm:"type:text;not null" json:"last_name"`  // Family name.

	Contactable bool `gorm:"not null;default:false" json:"contactable"` // True when any contact preference exists.

	TelephoneNumber string  `gorm:"type:text;not null" json:"telephone_number"` // Phone number.
	AddressLine1    string  `gorm:"type:text;not null" json:"address_line_1"`   // Address line 1.
	AddressLine2    *string `gorm:"type:text" json:"address_line_2"`            // Address line 2, nullable.
	City            string  `gorm:"type:text;not null" json:"city"`             // City.
	County          *string `gorm:"type:text" json:"county"`                    // County, nullable.
	Postcode        *string `gorm:"type:text" json:"postcode"`                  // Postcode, nullable.
	Country         *string `gorm:"type:text" json:"country"`                   // Country, nullable.

	CountryOfIncorporation *string `gorm:"type:text" json:"country_of_incorporation"` // Organisation incorporation country.
	OrganisationName       *string `gorm:"type:text" json:"organisation_name"`        // Organisation name.
	OrganisationType       *string `gorm:"type:text" json:"organisation_type"`        // Organisation type.
	RegistrationNumber     *string `gorm:"type:text" json:"registration_number"`      // Company registration number.

	DateAdded time.Time `gorm:"not null;autoCreateTime" json:"date_added"` // Creation timestamp.
}
