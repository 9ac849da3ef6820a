package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"crate_backend/internal/model"
)

type WebhookEventRepository interface {
	CreateIfNotExists(ctx context.Context, event *model.WebhookEvent) (bool, *model.WebhookEvent, error)
	MarkProcessed(ctx context.Context, id uint, processingError string) error
}

type gormWebhookEventRepository struct {
	db *gorm.DB
}

func NewWebhookEventRepository(db *gorm.DB) WebhookEventRepository {
	return &gormWebhookEventRepository{db: db}
}

func (r *gormWebhookEventRepository) CreateIfNotExists(ctx context.Context, event *model.WebhookEvent) (bool, *model.WebhookEvent, error) {
	db := r.db.WithContext(ctx)
	tx := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "provider"}, {Name: "provider_event_id"}},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, translate(tx.Error)
	}

	created := tx.RowsAffected > 0
	var stored model.WebhookEvent
	if err := db.Where("provider = ? AND provider_event_id = ?", event.Provider, event.ProviderEventID).
		First(&stored).Error; err != nil {
		return false, nil, translate(err)
	}
	return created, &stored, nil
}

func (r *gormWebhookEventRepository) MarkProcessed(ctx context.Context, id uint, processingError string) error {
	now := time.Now()
	updates := map[string]interface{}{
		"processed_at":     &now,
		"processing_error": processingError,
	}
	return translate(r.db.WithContext(ctx).Model(&model.WebhookEvent{}).Where("id = ?", id).Updates(updates).Error)
}
