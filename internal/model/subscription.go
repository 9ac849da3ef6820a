package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"crate_backend/pkg/subscription"
)

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusFailed    PaymentStatus = "failed"
)

type Status string

const (
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusCancelled Status = "cancelled"
)

type LineItem struct {
	ProductID int     `json:"productId"`
	Name      string  `json:"name" validate:"required"`
	Quantity  int     `json:"quantity" validate:"gt=0"`
	Price     float64 `json:"price" validate:"gte=0"`
	MRP       float64 `json:"mrp" validate:"gte=0"`
	Unit      string  `json:"unit"`
}

// Subscription is a user's recurring order. Each successful recurring charge
// appends a BillingCycle instead of cloning the row.
type Subscription struct {
	ID               string                        `json:"id" gorm:"type:varchar(36);primaryKey"`
	UserID           string                        `json:"userId" gorm:"type:varchar(64);index;not null"`
	SubscriptionName string                        `json:"subscriptionName" gorm:"not null"`
	Items            datatypes.JSONSlice[LineItem] `json:"items"`
	TotalItems       int                           `json:"totalItems"`
	Subtotal         float64                       `json:"subtotal"`
	PlatformFee      float64                       `json:"platformFee"`
	TotalMRP         float64                       `json:"totalMRP"`
	TotalSavings     float64                       `json:"totalSavings"`
	GrandTotal       float64                       `json:"grandTotal"`

	PaymentStatus  PaymentStatus `json:"paymentStatus" gorm:"type:varchar(20);index;not null"`
	PaymentID      string        `json:"paymentId,omitempty"`
	GatewayTokenID string        `json:"gatewayTokenId,omitempty"`

	Status          Status     `json:"status" gorm:"type:varchar(20);index;not null"`
	NextBillingDate time.Time  `json:"nextBillingDate"`
	StartAt         *time.Time `json:"startAt,omitempty"`
	Autopay         bool       `json:"autopay"`

	GatewayPlanID         *string                        `json:"gatewayPlanId,omitempty" gorm:"type:varchar(64)"`
	GatewaySubscriptionID *string                        `json:"gatewaySubscriptionId,omitempty" gorm:"type:varchar(64);uniqueIndex"`
	GatewayOrderID        *string                        `json:"gatewayOrderId,omitempty" gorm:"type:varchar(64);uniqueIndex"`
	CheckoutURL           string                         `json:"checkoutUrl,omitempty"`
	RegistrationState     subscription.RegistrationState `json:"registrationState" gorm:"type:varchar(32);index;not null"`
	RegistrationError     string                         `json:"registrationError,omitempty"`
	// RegistrationRetryable is false once the provider rejected a step outright.
	RegistrationRetryable bool                           `json:"registrationRetryable" gorm:"not null;default:true"`
	RegistrationAttempts  int                            `json:"registrationAttempts" gorm:"not null;default:0"`

	BillingCycles []BillingCycle `json:"billingCycles,omitempty" gorm:"foreignKey:SubscriptionID"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (s *Subscription) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.RegistrationState == "" {
		s.RegistrationState = subscription.StatePending
	}
	return nil
}

// GatewaySubscription returns the provider subscription id or "".
func (s *Subscription) GatewaySubscription() string {
	if s.GatewaySubscriptionID == nil {
		return ""
	}
	return *s.GatewaySubscriptionID
}

// GatewayPlan returns the provider plan id or "".
func (s *Subscription) GatewayPlan() string {
	if s.GatewayPlanID == nil {
		return ""
	}
	return *s.GatewayPlanID
}

// LatestCycle returns the most recent billing cycle when cycles are loaded.
func (s *Subscription) LatestCycle() *BillingCycle {
	var latest *BillingCycle
	for i := range s.BillingCycles {
		if latest == nil || s.BillingCycles[i].Sequence > latest.Sequence {
			latest = &s.BillingCycles[i]
		}
	}
	return latest
}

// BillingCycle records one successful recurring charge.
type BillingCycle struct {
	ID               string    `json:"id" gorm:"type:varchar(36);primaryKey"`
	SubscriptionID   string    `json:"subscriptionId" gorm:"type:varchar(36);not null;uniqueIndex:idx_cycle_payment,priority:1;uniqueIndex:idx_cycle_sequence,priority:1"`
	Sequence         int       `json:"sequence" gorm:"not null;uniqueIndex:idx_cycle_sequence,priority:2"`
	GatewayPaymentID string    `json:"gatewayPaymentId" gorm:"type:varchar(64);not null;uniqueIndex:idx_cycle_payment,priority:2"`
	Amount           float64   `json:"amount"`
	GatewayTokenID   string    `json:"gatewayTokenId,omitempty"`
	BilledAt         time.Time `json:"billedAt"`
	NextBillingDate  time.Time `json:"nextBillingDate"`
	CreatedAt        time.Time `json:"createdAt"`
}

func (c *BillingCycle) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}

// WebhookEvent is a received provider callback, unique per provider event id.
type WebhookEvent struct {
	ID              uint       `json:"id" gorm:"primaryKey"`
	Provider        string     `json:"provider" gorm:"type:varchar(20);not null;uniqueIndex:idx_webhook_provider_event,priority:1"`
	ProviderEventID string     `json:"providerEventId" gorm:"type:varchar(100);not null;uniqueIndex:idx_webhook_provider_event,priority:2"`
	EventType       string     `json:"eventType" gorm:"type:varchar(64)"`
	Payload         string     `json:"-" gorm:"type:text"`
	SignatureValid  bool       `json:"signatureValid"`
	ProcessedAt     *time.Time `json:"processedAt"`
	ProcessingError string     `json:"processingError,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
}
