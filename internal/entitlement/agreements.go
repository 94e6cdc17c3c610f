package entitlement

import (
	"context"
	"errors"
	"net/http"
	"strings"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/datapub/entitlements/internal/apperr"
	"github.com/datapub/entitlements/internal/models"
)

// freemiumFamily is the licence-name fragment shared by all tiers of the
// freemium dataset. Its tiers map onto a single external group.
const freemiumFamily = "res_cov"

// DirectoryClient is the slice of the identity service used for group sync.
type DirectoryClient interface {
	HandleRole(ctx context.Context, ldapID string, groups map[string]bool) error
	UpdateGroupsWithRetry(ctx context.Context, ldapID string, groups map[string]bool)
}

// Service coordinates licence agreements between local state and the
// directory's group membership.
type Service struct {
	db        *gorm.DB
	directory DirectoryClient
}

// NewService builds a Service.
func NewService(conn *gorm.DB, directory DirectoryClient) *Service {
	return &Service{db: conn, directory: directory}
}

// UserLicences resolves the current agreement state of every licence the user
// has ever accepted.
func (s *Service) UserLicences(ctx context.Context, userID uint64) ([]Agreement, error) {
	if errUser := ensureUserExists(ctx, s.db, userID); errUser != nil {
		return nil, errUser
	}

	var links []models.TermsLink
	if errFind := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id ASC").
		Find(&links).Error; errFind != nil {
		return nil, apperr.StorageRead(errFind)
	}

	seen := make(map[string]bool, len(links))
	agreements := make([]Agreement, 0, len(links))
	for _, link := range links {
		if seen[link.LicenceName] {
			continue
		}
		seen[link.LicenceName] = true

		resolved, errResolve := ResolveAgreement(ctx, s.db, userID, link.LicenceName)
		if errResolve != nil {
			return nil, errResolve
		}
		agreements = append(agreements, resolved)
	}
	return agreements, nil
}

// LicenceAgreement resolves the user's agreement state for one licence.
func (s *Service) LicenceAgreement(ctx context.Context, userID uint64, licenceName string) (Agreement, error) {
	if errUser := ensureUserExists(ctx, s.db, userID); errUser != nil {
		return Agreement{}, errUser
	}
	return ResolveAgreement(ctx, s.db, userID, licenceName)
}

// ManageAgreement records the user's acceptance of a licence and grants the
// matching directory group. The group is only granted on the first agreement
// within the licence's family; re-agreements after a licence re-issue insert
// a fresh terms link without touching the directory. A directory failure
// rolls the terms link back so local state never outruns group membership.
// The returned id is the new terms link's.
func (s *Service) ManageAgreement(ctx context.Context, userID uint64, licenceID string) (uint64, error) {
	var user models.User
	errUser := s.db.WithContext(ctx).First(&user, userID).Error
	if errors.Is(errUser, gorm.ErrRecordNotFound) {
		return 0, apperr.NotFound(apperr.CodeUserNotFound, "user %d not found", userID)
	}
	if errUser != nil {
		return 0, apperr.StorageRead(errUser)
	}

	storeName := licenceID
	freemium, errFreemium := s.isFreemium(ctx, licenceID)
	if errFreemium != nil {
		return 0, errFreemium
	}
	if freemium {
		storeName = licenceID + DirectSuffix
	}

	needRole, errNeed := s.familyUnheld(ctx, userID, licenceID)
	if errNeed != nil {
		return 0, errNeed
	}

	link := models.TermsLink{UserID: userID, LicenceName: storeName}
	errTx := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if errCreate := tx.Create(&link).Error; errCreate != nil {
			return errCreate
		}
		if needRole {
			return s.directory.HandleRole(ctx, user.LdapID, map[string]bool{licenceID: true})
		}
		return nil
	})
	if errTx != nil {
		return 0, apperr.Wrap(errTx, apperr.CodeLicenceAgree, http.StatusBadRequest,
			"failed to agree licence %s for user %d", licenceID, userID)
	}

	log.Infof("user %d agreed licence %s", userID, storeName)
	return link.ID, nil
}

// ManageMultiAgreement applies a batch of per-tier agree/withdraw decisions,
// diffs them against the user's current agreements, reconciles the freemium
// family into a single group flag, and pushes the resulting group diff to the
// directory. Directory sync is best effort; local state commits regardless.
// The returned map is the group diff that was pushed.
func (s *Service) ManageMultiAgreement(ctx context.Context, userID uint64, requests []TierRequest) (map[string]bool, error) {
	var user models.User
	errUser := s.db.WithContext(ctx).First(&user, userID).Error
	if errors.Is(errUser, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound(apperr.CodeUserNotFound, "user %d not found", userID)
	}
	if errUser != nil {
		return nil, apperr.StorageRead(errUser)
	}

	var links []models.TermsLink
	if errFind := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Find(&links).Error; errFind != nil {
		return nil, apperr.StorageRead(errFind)
	}
	current := make([]string, 0, len(links))
	held := make(map[string]bool, len(links))
	for _, link := range links {
		if !held[link.LicenceName] {
			held[link.LicenceName] = true
			current = append(current, link.LicenceName)
		}
	}

	groups := map[string]bool{}
	errTx := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, request := range requests {
			switch {
			case request.Agreed && !held[request.LicenceName]:
				link := models.TermsLink{UserID: userID, LicenceName: request.LicenceName}
				if errCreate := tx.Create(&link).Error; errCreate != nil {
					return errCreate
				}
				group, errGroup := s.groupForLicence(ctx, request.LicenceName)
				if errGroup != nil {
					return errGroup
				}
				groups[group] = true
			case !request.Agreed && held[request.LicenceName]:
				if errDelete := tx.
					Where("user_id = ? AND licence_name = ?", userID, request.LicenceName).
					Delete(&models.TermsLink{}).Error; errDelete != nil {
					return errDelete
				}
				group, errGroup := s.groupForLicence(ctx, request.LicenceName)
				if errGroup != nil {
					return errGroup
				}
				groups[group] = false
			}
		}

		var familyTiers []TierRequest
		for _, request := range requests {
			if strings.Contains(request.LicenceName, freemiumFamily) {
				familyTiers = append(familyTiers, request)
			}
		}
		if len(familyTiers) > 0 {
			groups = ReconcileFreemium(freemiumFamily, familyTiers, groups, current)
		}

		if len(groups) > 0 {
			s.directory.UpdateGroupsWithRetry(ctx, user.LdapID, groups)
		}
		return nil
	})
	if errTx != nil {
		return nil, apperr.Wrap(errTx, apperr.CodeLicenceAgree, http.StatusBadRequest,
			"failed to update licence agreements for user %d", userID)
	}

	return groups, nil
}

// isFreemium reports whether the licence belongs to a freemium dataset. A
// licence with no dataset entry is treated as non-freemium rather than
// failing the agreement.
func (s *Service) isFreemium(ctx context.Context, licenceID string) (bool, error) {
	var dataset models.Dataset
	errFind := s.db.WithContext(ctx).
		Where("name = ?", licenceID).
		First(&dataset).Error
	if errors.Is(errFind, gorm.ErrRecordNotFound) {
		log.Warnf("no dataset found for licence %s, assuming non-freemium", licenceID)
		return false, nil
	}
	if errFind != nil {
		return false, apperr.StorageRead(errFind)
	}
	return dataset.Type == models.DatasetTypeFreemium, nil
}

// familyUnheld reports whether the user holds no agreement for any licence
// variant grouped under the dataset named licenceID.
func (s *Service) familyUnheld(ctx context.Context, userID uint64, licenceID string) (bool, error) {
	licences, errLicences := licencesForDataset(ctx, s.db, licenceID)
	if errLicences != nil {
		return false, errLicences
	}

	for _, licence := range licences {
		var count int64
		if errCount := s.db.WithContext(ctx).
			Model(&models.TermsLink{}).
			Where("user_id = ? AND licence_name = ?", userID, licence.LicenceName).
			Count(&count).Error; errCount != nil {
			return false, apperr.StorageRead(errCount)
		}
		if count > 0 {
			return false, nil
		}
	}
	return true, nil
}

// groupForLicence maps a licence name onto the directory group it controls,
// which is the name of the dataset the licence belongs to.
func (s *Service) groupForLicence(ctx context.Context, licenceName string) (string, error) {
	var licence models.Licence
	errFind := s.db.WithContext(ctx).
		Where("licence_name = ?", licenceName).
		First(&licence).Error
	if errFind != nil {
		return "", apperr.StorageRead(errFind)
	}
	if licence.DatasetName == nil {
		return "", apperr.New(apperr.CodeLicenceNotFound, http.StatusBadRequest,
			"licence %s is not linked to a dataset", licenceName)
	}
	return *licence.DatasetName, nil
}
