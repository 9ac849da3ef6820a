package service

import (
	"context"
	"fmt"

	"github.com/go-playground/validator/v10"

	"crate_backend/internal/model"
	"crate_backend/internal/repository"
)

type AddressInput struct {
	Label       string  `json:"label"`
	AddressLine string  `json:"addressLine" validate:"required"`
	Latitude    float64 `json:"latitude" validate:"gte=-90,lte=90"`
	Longitude   float64 `json:"longitude" validate:"gte=-180,lte=180"`
}

type SettingsService struct {
	settings repository.SettingsRepository
	validate *validator.Validate
}

func NewSettingsService(settings repository.SettingsRepository) *SettingsService {
	return &SettingsService{settings: settings, validate: newValidator()}
}

// Get returns the user's settings, creating the defaults on first access.
func (s *SettingsService) Get(ctx context.Context, userID string) (*model.Settings, error) {
	settings, err := s.settings.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("settings for %s: %w", userID, err)
	}
	return settings, nil
}

func (s *SettingsService) UpdateNotifications(ctx context.Context, userID string, prefs model.NotificationPreferences) (*model.Settings, error) {
	settings, err := s.settings.UpsertNotificationPreferences(ctx, userID, prefs)
	if err != nil {
		return nil, fmt.Errorf("update notifications for %s: %w", userID, err)
	}
	return settings, nil
}

// SaveDeliveryAddress replaces the current delivery address or stores the first one.
func (s *SettingsService) SaveDeliveryAddress(ctx context.Context, userID string, in AddressInput) (*model.Settings, error) {
	if err := s.validate.Struct(in); err != nil {
		return nil, validationFailure(err)
	}
	settings, err := s.settings.SaveDeliveryAddress(ctx, userID, model.Address{
		Label:       in.Label,
		AddressLine: in.AddressLine,
		Latitude:    in.Latitude,
		Longitude:   in.Longitude,
	})
	if err != nil {
		return nil, fmt.Errorf("save delivery address for %s: %w", userID, err)
	}
	return settings, nil
}
