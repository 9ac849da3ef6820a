package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"crate_backend/internal/model"
	"crate_backend/pkg/subscription"
)

type SubscriptionRepository interface {
	Create(ctx context.Context, sub *model.Subscription) error
	FindByID(ctx context.Context, id string) (*model.Subscription, error)
	FindByGatewaySubscriptionID(ctx context.Context, gatewaySubscriptionID string) (*model.Subscription, error)
	FindByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*model.Subscription, error)
	ListByUser(ctx context.Context, userID string) ([]model.Subscription, error)
	ListByStatus(ctx context.Context, userID string, paymentStatus model.PaymentStatus, status model.Status) ([]model.Subscription, error)
	ListStalledRegistrations(ctx context.Context, updatedBefore time.Time, maxAttempts, limit int) ([]model.Subscription, error)
	ListBillingBetween(ctx context.Context, from, to time.Time) ([]model.Subscription, error)
	Update(ctx context.Context, id string, updates map[string]interface{}) error
	UpdateByGatewaySubscriptionID(ctx context.Context, gatewaySubscriptionID string, updates map[string]interface{}) (*model.Subscription, error)
	TransitionStatus(ctx context.Context, id string, from, to model.Status) (bool, error)
	RecordRegistrationFailure(ctx context.Context, id, message string, retryable bool) error
	AppendBillingCycle(ctx context.Context, subscriptionID string, cycle *model.BillingCycle, updates map[string]interface{}) (bool, error)
}

type gormSubscriptionRepository struct {
	db *gorm.DB
}

func NewSubscriptionRepository(db *gorm.DB) SubscriptionRepository {
	return &gormSubscriptionRepository{db: db}
}

func orderedCycles(db *gorm.DB) *gorm.DB {
	return db.Order("sequence ASC")
}

func (r *gormSubscriptionRepository) Create(ctx context.Context, sub *model.Subscription) error {
	return translate(r.db.WithContext(ctx).Create(sub).Error)
}

func (r *gormSubscriptionRepository) FindByID(ctx context.Context, id string) (*model.Subscription, error) {
	var sub model.Subscription
	if err := r.db.WithContext(ctx).Preload("BillingCycles", orderedCycles).
		Where("id = ?", id).First(&sub).Error; err != nil {
		return nil, translate(err)
	}
	return &sub, nil
}

func (r *gormSubscriptionRepository) FindByGatewaySubscriptionID(ctx context.Context, gatewaySubscriptionID string) (*model.Subscription, error) {
	var sub model.Subscription
	if err := r.db.WithContext(ctx).Preload("BillingCycles", orderedCycles).
		Where("gateway_subscription_id = ?", gatewaySubscriptionID).First(&sub).Error; err != nil {
		return nil, translate(err)
	}
	return &sub, nil
}

func (r *gormSubscriptionRepository) FindByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*model.Subscription, error) {
	var sub model.Subscription
	if err := r.db.WithContext(ctx).Where("gateway_order_id = ?", gatewayOrderID).First(&sub).Error; err != nil {
		return nil, translate(err)
	}
	return &sub, nil
}

func (r *gormSubscriptionRepository) ListByUser(ctx context.Context, userID string) ([]model.Subscription, error) {
	var subs []model.Subscription
	err := r.db.WithContext(ctx).Preload("BillingCycles", orderedCycles).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&subs).Error
	return subs, translate(err)
}

func (r *gormSubscriptionRepository) ListByStatus(ctx context.Context, userID string, paymentStatus model.PaymentStatus, status model.Status) ([]model.Subscription, error) {
	var subs []model.Subscription
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND payment_status = ? AND status = ?", userID, paymentStatus, status).
		Order("created_at ASC").
		Find(&subs).Error
	return subs, translate(err)
}

// ListStalledRegistrations returns records that stopped before the linked
// state and have not been touched since updatedBefore. Records the provider
// rejected, or that already failed maxAttempts times, are left alone.
func (r *gormSubscriptionRepository) ListStalledRegistrations(ctx context.Context, updatedBefore time.Time, maxAttempts, limit int) ([]model.Subscription, error) {
	var subs []model.Subscription
	err := r.db.WithContext(ctx).
		Where("registration_state <> ? AND gateway_order_id IS NULL AND status <> ? AND updated_at < ?",
			subscription.StateLinked, model.StatusCancelled, updatedBefore).
		Where("registration_retryable = ? AND registration_attempts < ?", true, maxAttempts).
		Order("updated_at ASC").
		Limit(limit).
		Find(&subs).Error
	return subs, translate(err)
}

func (r *gormSubscriptionRepository) ListBillingBetween(ctx context.Context, from, to time.Time) ([]model.Subscription, error) {
	var subs []model.Subscription
	err := r.db.WithContext(ctx).
		Where("status = ? AND payment_status = ? AND autopay = ? AND next_billing_date >= ? AND next_billing_date < ?",
			model.StatusActive, model.PaymentStatusCompleted, true, from, to).
		Find(&subs).Error
	return subs, translate(err)
}

func (r *gormSubscriptionRepository) Update(ctx context.Context, id string, updates map[string]interface{}) error {
	res := r.db.WithContext(ctx).Model(&model.Subscription{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *gormSubscriptionRepository) UpdateByGatewaySubscriptionID(ctx context.Context, gatewaySubscriptionID string, updates map[string]interface{}) (*model.Subscription, error) {
	res := r.db.WithContext(ctx).Model(&model.Subscription{}).
		Where("gateway_subscription_id = ?", gatewaySubscriptionID).
		Updates(updates)
	if res.Error != nil {
		return nil, translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, ErrNotFound
	}
	return r.FindByGatewaySubscriptionID(ctx, gatewaySubscriptionID)
}

// TransitionStatus moves a record from one lifecycle status to another and
// reports whether the row was in the expected status.
func (r *gormSubscriptionRepository) TransitionStatus(ctx context.Context, id string, from, to model.Status) (bool, error) {
	res := r.db.WithContext(ctx).Model(&model.Subscription{}).
		Where("id = ? AND status = ?", id, from).
		Update("status", to)
	if res.Error != nil {
		return false, translate(res.Error)
	}
	return res.RowsAffected > 0, nil
}

// RecordRegistrationFailure stores the failure message and counts the attempt.
func (r *gormSubscriptionRepository) RecordRegistrationFailure(ctx context.Context, id, message string, retryable bool) error {
	return r.Update(ctx, id, map[string]interface{}{
		"registration_error":     message,
		"registration_retryable": retryable,
		"registration_attempts":  gorm.Expr("registration_attempts + 1"),
	})
}

// AppendBillingCycle records a charge and applies updates to the parent in one
// transaction. A cycle for an already recorded payment id is a no-op and
// reports false.
func (r *gormSubscriptionRepository) AppendBillingCycle(ctx context.Context, subscriptionID string, cycle *model.BillingCycle, updates map[string]interface{}) (bool, error) {
	created := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing int64
		if err := tx.Model(&model.BillingCycle{}).
			Where("subscription_id = ? AND gateway_payment_id = ?", subscriptionID, cycle.GatewayPaymentID).
			Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			return nil
		}

		// serialize appends per subscription so sequences stay dense
		var parent model.Subscription
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Select("id").
			Where("id = ?", subscriptionID).
			First(&parent).Error; err != nil {
			return err
		}

		var lastSequence int
		if err := tx.Model(&model.BillingCycle{}).
			Where("subscription_id = ?", subscriptionID).
			Select("COALESCE(MAX(sequence), 0)").
			Scan(&lastSequence).Error; err != nil {
			return err
		}

		cycle.SubscriptionID = subscriptionID
		cycle.Sequence = lastSequence + 1
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "subscription_id"}, {Name: "gateway_payment_id"}},
			DoNothing: true,
		}).Create(cycle)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}

		if err := tx.Model(&model.Subscription{}).Where("id = ?", subscriptionID).Updates(updates).Error; err != nil {
			return err
		}
		created = true
		return nil
	})
	if err != nil {
		return false, translate(err)
	}
	return created, nil
}
