// Package activity records and lists user activity events such as downloads.
package activity

import (
	"context"
	"errors"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/datapub/entitlements/internal/apperr"
	"github.com/datapub/entitlements/internal/models"
)

// Service owns the activity log.
type Service struct {
	db *gorm.DB
}

// NewService builds a Service.
func NewService(conn *gorm.DB) *Service {
	return &Service{db: conn}
}

// AddParams is the payload for recording one activity event.
type AddParams struct {
	UserID       uint64  `json:"user_id"`
	DatasetName  *string `json:"dataset_id"`
	ActivityType string  `json:"activity_type"`
	IPAddress    string  `json:"ip_address"`
	API          bool    `json:"api"`
	File         string  `json:"file"`
}

// ListByUser returns the user's activity events, newest first.
func (s *Service) ListByUser(ctx context.Context, userID uint64) ([]models.Activity, error) {
	var user models.User
	errUser := s.db.WithContext(ctx).First(&user, userID).Error
	if errors.Is(errUser, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound(apperr.CodeUserNotFound, "user %d not found", userID)
	}
	if errUser != nil {
		return nil, apperr.StorageRead(errUser)
	}

	var events []models.Activity
	if errFind := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("timestamp DESC").
		Find(&events).Error; errFind != nil {
		return nil, apperr.StorageRead(errFind)
	}
	return events, nil
}

// Add records one activity event.
func (s *Service) Add(ctx context.Context, params AddParams) (*models.Activity, error) {
	event := models.Activity{
		UserID:       params.UserID,
		DatasetName:  params.DatasetName,
		ActivityType: params.ActivityType,
		IPAddress:    params.IPAddress,
		API:          params.API,
		File:         params.File,
	}
	if errCreate := s.db.WithContext(ctx).Create(&event).Error; errCreate != nil {
		return nil, apperr.StorageWrite(errCreate)
	}

	log.Debugf("recorded %s activity for user %d", params.ActivityType, params.UserID)
	return &event, nil
}
