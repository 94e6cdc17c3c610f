// Package entitlement implements the licence-entitlement and dataset-access
// resolution engine: agreement validity, freemium tier reconciliation and the
// consumer-facing access views.
package entitlement

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/datapub/entitlements/internal/apperr"
	"github.com/datapub/entitlements/internal/models"
)

// Agreement is the resolved state of a user's acceptance of one licence.
type Agreement struct {
	UserID      uint64     `json:"user_id"`
	LicenceName string     `json:"licence"`
	Valid       bool       `json:"valid_licence"`
	DateAgreed  *time.Time `json:"date_agreed"`
}

// ResolveAgreement determines whether the user currently holds a valid
// agreement for the named licence. Only the newest terms link is consulted;
// a licence re-issue (last_updated after the agreement date) invalidates it
// without touching the row. A missing licence definition resolves invalid.
// The call has no side effects and is safe to repeat.
func ResolveAgreement(ctx context.Context, conn *gorm.DB, userID uint64, licenceName string) (Agreement, error) {
	result := Agreement{UserID: userID, LicenceName: licenceName}

	var link models.TermsLink
	errFind := conn.WithContext(ctx).
		Where("user_id = ? AND licence_name = ?", userID, licenceName).
		Order("date_agreed DESC").
		First(&link).Error
	if errors.Is(errFind, gorm.ErrRecordNotFound) {
		return result, nil
	}
	if errFind != nil {
		return result, apperr.StorageRead(errFind)
	}

	dateAgreed := link.DateAgreed
	result.DateAgreed = &dateAgreed

	var licence models.Licence
	errLicence := conn.WithContext(ctx).
		Where("licence_name = ?", licenceName).
		First(&licence).Error
	if errors.Is(errLicence, gorm.ErrRecordNotFound) {
		// Fail closed: an agreement against an unknown licence grants nothing.
		return result, nil
	}
	if errLicence != nil {
		return result, apperr.StorageRead(errLicence)
	}

	result.Valid = !dayOf(licence.LastUpdated).After(dayOf(dateAgreed))
	return result, nil
}

// dayOf truncates a timestamp to its UTC calendar day. Agreements made on the
// day a licence takes effect count as valid.
func dayOf(t time.Time) time.Time {
	year, month, day := t.UTC().Date()
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}
