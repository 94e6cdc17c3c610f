// Package user implements account lifecycle: registration across the local
// store, the identity directory and the verification service, lookups, API
// key rotation and contact preference management.
package user

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/datapub/entitlements/internal/accountapi"
	"github.com/datapub/entitlements/internal/apperr"
	"github.com/datapub/entitlements/internal/entitlement"
	"github.com/datapub/entitlements/internal/models"
	"github.com/datapub/entitlements/internal/verification"
)

// AccountClient is the slice of the identity service used here.
type AccountClient interface {
	Create(ctx context.Context, params accountapi.NewAccountParams) (string, error)
	Delete(ctx context.Context, ldapID string) error
	Activate(ctx context.Context, ldapID string) error
	Acknowledge(ctx context.Context, ldapID string) error
}

// VerificationClient opens verification cases for new registrations.
type VerificationClient interface {
	CreateCase(ctx context.Context, params verification.CaseParams) error
}

// Service owns user records and their contact preferences.
type Service struct {
	db       *gorm.DB
	account  AccountClient
	verifier VerificationClient
}

// NewService builds a Service.
func NewService(conn *gorm.DB, account AccountClient, verifier VerificationClient) *Service {
	return &Service{db: conn, account: account, verifier: verifier}
}

// CreateParams is the registration payload.
type CreateParams struct {
	UserType               string   `json:"user_type"`
	Email                  string   `json:"email"`
	Title                  string   `json:"title"`
	FirstName              string   `json:"first_name"`
	LastName               string   `json:"last_name"`
	ContactPreferences     []string `json:"contact_preferences"`
	TelephoneNumber        string   `json:"telephone_number"`
	AddressLine1           string   `json:"address_line_1"`
	AddressLine2           string   `json:"address_line_2"`
	City                   string   `json:"city"`
	County                 string   `json:"county"`
	Postcode               string   `json:"postcode"`
	Country                string   `json:"country"`
	CountryOfIncorporation string   `json:"country_of_incorporation"`
	OrganisationName       string   `json:"organisation_name"`
	OrganisationType       string   `json:"organisation_type"`
	RegistrationNumber     string   `json:"registration_number"`
}

// Details is a user record expanded with its type name, contact preferences
// and resolved dataset agreements.
type Details struct {
	models.User
	UserType           string                                    `json:"user_type"`
	ContactPreferences []string                                  `json:"contact_preferences"`
	Datasets           map[string]entitlement.UserDatasetSummary `json:"datasets"`
}

// ContactPreferenceParams is the contact preference replacement payload.
type ContactPreferenceParams struct {
	UserID             uint64   `json:"user_id"`
	Contactable        bool     `json:"contactable"`
	ContactPreferences []string `json:"contact_preferences"`
}

// Create registers a user across all three systems: a directory account, the
// local record with its contact preferences, and a verification case. UK
// organisations are acknowledged (held pending manual approval); everyone
// else is activated immediately. Any failure after the directory account
// exists tears down everything already created, so a registration either
// completes whole or leaves no trace.
func (s *Service) Create(ctx context.Context, params CreateParams) (*Details, error) {
	userType, errType := s.GetUserType(ctx, params.UserType)
	if errType != nil {
		return nil, errType
	}

	ldapID, errAccount := s.account.Create(ctx, accountapi.NewAccountParams{
		UserType:         params.UserType,
		Email:            params.Email,
		FirstName:        params.FirstName,
		LastName:         params.LastName,
		OrganisationName: params.OrganisationName,
	})
	if errAccount != nil {
		return nil, apperr.Wrap(errAccount, apperr.CodeCreateUser, http.StatusBadRequest,
			"failed to create user %s", params.Email)
	}

	email := params.Email
	record := models.User{
		UserTypeID:             userType.ID,
		LdapID:                 ldapID,
		APIKey:                 uuid.NewString(),
		Email:                  &email,
		Title:                  params.Title,
		FirstName:              params.FirstName,
		LastName:               params.LastName,
		Contactable:            len(params.ContactPreferences) > 0,
		TelephoneNumber:        params.TelephoneNumber,
		AddressLine1:           params.AddressLine1,
		AddressLine2:           blankToNil(params.AddressLine2),
		City:                   params.City,
		County:                 blankToNil(params.County),
		Postcode:               blankToNil(params.Postcode),
		Country:                blankToNil(params.Country),
		CountryOfIncorporation: blankToNil(params.CountryOfIncorporation),
		OrganisationName:       blankToNil(params.OrganisationName),
		OrganisationType:       blankToNil(params.OrganisationType),
		RegistrationNumber:     blankToNil(params.RegistrationNumber),
	}

	errTx := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if errCreate := tx.Create(&record).Error; errCreate != nil {
			return errCreate
		}
		for _, preference := range params.ContactPreferences {
			contact := models.Contact{UserID: record.ID, ContactType: preference}
			if errContact := tx.Create(&contact).Error; errContact != nil {
				return errContact
			}
		}
		return nil
	})
	if errTx != nil {
		s.compensate(ctx, ldapID, record.ID)
		return nil, apperr.Wrap(errTx, apperr.CodeCreateUser, http.StatusBadRequest,
			"failed to create user %s", params.Email)
	}

	if errCase := s.verifier.CreateCase(ctx, verification.CaseParams{
		UserID:           record.ID,
		LdapID:           ldapID,
		UserType:         params.UserType,
		RegistrationData: registrationData(params),
	}); errCase != nil {
		s.compensate(ctx, ldapID, record.ID)
		return nil, apperr.Wrap(errCase, apperr.CodeCreateUser, http.StatusBadRequest,
			"failed to create user %s", params.Email)
	}

	var errStatus error
	if strings.Contains(params.UserType, "organisation-uk") {
		errStatus = s.account.Acknowledge(ctx, ldapID)
	} else {
		errStatus = s.account.Activate(ctx, ldapID)
	}
	if errStatus != nil {
		s.compensate(ctx, ldapID, record.ID)
		return nil, apperr.Wrap(errStatus, apperr.CodeCreateUser, http.StatusBadRequest,
			"failed to create user %s", params.Email)
	}

	log.Infof("created user %d (%s)", record.ID, params.UserType)
	return s.GetByKey(ctx, "user_details_id", strconv.FormatUint(record.ID, 10))
}

// Delete removes a user and everything hanging off it. Deleting an already
// deleted user is a 404, not a no-op.
func (s *Service) Delete(ctx context.Context, userID uint64) error {
	errTx := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var record models.User
		errFind := tx.First(&record, userID).Error
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return apperr.NotFound(apperr.CodeUserNotFound, "user %d not found", userID)
		}
		if errFind != nil {
			return errFind
		}

		for _, dependent := range []any{&models.TermsLink{}, &models.Activity{}, &models.Contact{}} {
			if errDelete := tx.Where("user_id = ?", userID).Delete(dependent).Error; errDelete != nil {
				return errDelete
			}
		}
		return tx.Delete(&record).Error
	})
	if errTx != nil {
		return apperr.Wrap(errTx, apperr.CodeDeleteUser, http.StatusInternalServerError,
			"failed to delete user %d", userID)
	}

	log.Infof("deleted user %d", userID)
	return nil
}

// GetAll lists every user record.
func (s *Service) GetAll(ctx context.Context) ([]models.User, error) {
	var users []models.User
	if errFind := s.db.WithContext(ctx).Order("id ASC").Find(&users).Error; errFind != nil {
		return nil, apperr.StorageRead(errFind)
	}
	return users, nil
}

// GetByKey looks a user up by one of the supported identifier columns and
// expands the record with type, contact preferences and dataset agreements.
func (s *Service) GetByKey(ctx context.Context, key, value string) (*Details, error) {
	var column string
	switch key {
	case "user_details_id":
		column = "id"
	case "email":
		column = "email"
	case "api_key":
		column = "api_key"
	case "ldap_id":
		column = "ldap_id"
	default:
		return nil, apperr.NotFound(apperr.CodeBadLookupKey, "cannot look users up by %s", key)
	}

	var record models.User
	errFind := s.db.WithContext(ctx).Where(fmt.Sprintf("%s = ?", column), value).First(&record).Error
	if errors.Is(errFind, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound(apperr.CodeUserNotFound, "user with %s %s not found", key, value)
	}
	if errFind != nil {
		return nil, apperr.StorageRead(errFind)
	}

	var userType models.UserType
	if errType := s.db.WithContext(ctx).First(&userType, record.UserTypeID).Error; errType != nil {
		return nil, apperr.StorageRead(errType)
	}

	preferences, errPrefs := s.contactPreferences(ctx, record.ID)
	if errPrefs != nil {
		return nil, errPrefs
	}

	datasets, errDatasets := entitlement.BuildUserDatasets(ctx, s.db, record.ID)
	if errDatasets != nil {
		return nil, errDatasets
	}

	return &Details{
		User:               record,
		UserType:           userType.UserType,
		ContactPreferences: preferences,
		Datasets:           datasets,
	}, nil
}

// GetUserType resolves a user type by name.
func (s *Service) GetUserType(ctx context.Context, name string) (*models.UserType, error) {
	var userType models.UserType
	errFind := s.db.WithContext(ctx).Where("user_type = ?", name).First(&userType).Error
	if errors.Is(errFind, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound(apperr.CodeUserTypeNotFound, "user type %s not found", name)
	}
	if errFind != nil {
		return nil, apperr.StorageRead(errFind)
	}
	return &userType, nil
}

// UpdateAPIKey rotates the user's API key and returns the new one. The old
// key stops working immediately.
func (s *Service) UpdateAPIKey(ctx context.Context, userID uint64) (string, error) {
	var record models.User
	errFind := s.db.WithContext(ctx).First(&record, userID).Error
	if errors.Is(errFind, gorm.ErrRecordNotFound) {
		return "", apperr.NotFound(apperr.CodeUserNotFound, "user %d not found", userID)
	}
	if errFind != nil {
		return "", apperr.StorageRead(errFind)
	}

	key := uuid.NewString()
	if errSave := s.db.WithContext(ctx).
		Model(&record).
		Update("api_key", key).Error; errSave != nil {
		return "", apperr.Wrap(errSave, apperr.CodeResetAPIKey, http.StatusBadRequest,
			"failed to reset api key for user %d", userID)
	}

	log.Infof("reset api key for user %d", userID)
	return key, nil
}

// UpdateContactPreferences replaces the user's contact preferences wholesale
// and returns the stored set.
func (s *Service) UpdateContactPreferences(ctx context.Context, params ContactPreferenceParams) ([]string, error) {
	var record models.User
	errFind := s.db.WithContext(ctx).First(&record, params.UserID).Error
	if errors.Is(errFind, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound(apperr.CodeUserNotFound, "user %d not found", params.UserID)
	}
	if errFind != nil {
		return nil, apperr.StorageRead(errFind)
	}

	errTx := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if errDelete := tx.Where("user_id = ?", params.UserID).Delete(&models.Contact{}).Error; errDelete != nil {
			return errDelete
		}
		for _, preference := range params.ContactPreferences {
			contact := models.Contact{UserID: params.UserID, ContactType: preference}
			if errCreate := tx.Create(&contact).Error; errCreate != nil {
				return errCreate
			}
		}
		return tx.Model(&record).Update("contactable", params.Contactable).Error
	})
	if errTx != nil {
		return nil, apperr.StorageWrite(errTx)
	}

	return s.contactPreferences(ctx, params.UserID)
}

// contactPreferences lists the user's contact preference types.
func (s *Service) contactPreferences(ctx context.Context, userID uint64) ([]string, error) {
	var contacts []models.Contact
	if errFind := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id ASC").
		Find(&contacts).Error; errFind != nil {
		return nil, apperr.StorageRead(errFind)
	}
	preferences := make([]string, 0, len(contacts))
	for _, contact := range contacts {
		preferences = append(preferences, contact.ContactType)
	}
	return preferences, nil
}

// compensate tears down a half-created registration. Failures here are
// logged and swallowed; there is nothing further to fall back to.
func (s *Service) compensate(ctx context.Context, ldapID string, userID uint64) {
	if errDelete := s.account.Delete(ctx, ldapID); errDelete != nil {
		log.Errorf("rollback: failed to delete directory account %s: %v", ldapID, errDelete)
	}
	if userID == 0 {
		return
	}
	if errContacts := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Delete(&models.Contact{}).Error; errContacts != nil {
		log.Errorf("rollback: failed to delete contacts for user %d: %v", userID, errContacts)
	}
	if errUser := s.db.WithContext(ctx).Delete(&models.User{}, userID).Error; errUser != nil {
		log.Errorf("rollback: failed to delete user %d: %v", userID, errUser)
	}
}

// registrationData flattens the payload for the verification case. Marshal
// round-tripping keeps the wire field names in one place, on the struct tags.
func registrationData(params CreateParams) map[string]any {
	data, errMarshal := json.Marshal(params)
	if errMarshal != nil {
		return map[string]any{}
	}
	var out map[string]any
	if errUnmarshal := json.Unmarshal(data, &out); errUnmarshal != nil {
		return map[string]any{}
	}
	return out
}

// blankToNil maps empty optional fields to NULL rather than empty strings.
func blankToNil(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}
