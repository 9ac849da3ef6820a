package repository

import (
	"context"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"crate_backend/internal/model"
)

type SettingsRepository interface {
	GetOrCreate(ctx context.Context, userID string) (*model.Settings, error)
	UpsertNotificationPreferences(ctx context.Context, userID string, prefs model.NotificationPreferences) (*model.Settings, error)
	SaveDeliveryAddress(ctx context.Context, userID string, address model.Address) (*model.Settings, error)
}

type gormSettingsRepository struct {
	db *gorm.DB
}

func NewSettingsRepository(db *gorm.DB) SettingsRepository {
	return &gormSettingsRepository{db: db}
}

// GetOrCreate inserts default settings unless a row already exists and then
// reads the row back, so concurrent first reads never create duplicates.
func (r *gormSettingsRepository) GetOrCreate(ctx context.Context, userID string) (*model.Settings, error) {
	return getOrCreateSettings(r.db.WithContext(ctx), userID)
}

func getOrCreateSettings(db *gorm.DB, userID string) (*model.Settings, error) {
	defaults := &model.Settings{
		UserID:                  userID,
		DeliveryAddresses:       datatypes.JSONSlice[model.Address]{},
		NotificationPreferences: model.DefaultNotificationPreferences(),
	}
	if err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoNothing: true,
	}).Create(defaults).Error; err != nil {
		return nil, translate(err)
	}

	var settings model.Settings
	if err := db.Where("user_id = ?", userID).First(&settings).Error; err != nil {
		return nil, translate(err)
	}
	return &settings, nil
}

func (r *gormSettingsRepository) UpsertNotificationPreferences(ctx context.Context, userID string, prefs model.NotificationPreferences) (*model.Settings, error) {
	db := r.db.WithContext(ctx)
	row := &model.Settings{
		UserID:                  userID,
		DeliveryAddresses:       datatypes.JSONSlice[model.Address]{},
		NotificationPreferences: prefs,
	}
	if err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"notify_email", "notify_push", "updated_at"}),
	}).Create(row).Error; err != nil {
		return nil, translate(err)
	}

	var settings model.Settings
	if err := db.Where("user_id = ?", userID).First(&settings).Error; err != nil {
		return nil, translate(err)
	}
	return &settings, nil
}

func (r *gormSettingsRepository) SaveDeliveryAddress(ctx context.Context, userID string, address model.Address) (*model.Settings, error) {
	var saved *model.Settings
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		settings, err := getOrCreateSettings(tx, userID)
		if err != nil {
			return err
		}
		settings.PutAddress(address)
		if err := tx.Model(&model.Settings{}).
			Where("id = ?", settings.ID).
			Update("delivery_addresses", settings.DeliveryAddresses).Error; err != nil {
			return err
		}
		saved = settings
		return nil
	})
	if err != nil {
		return nil, translate(err)
	}
	return saved, nil
}
