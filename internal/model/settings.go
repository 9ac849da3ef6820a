package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Address struct {
	Label       string  `json:"label"`
	AddressLine string  `json:"addressLine"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
}

type NotificationPreferences struct {
	Email bool `json:"email"`
	Push  bool `json:"push"`
}

// DefaultNotificationPreferences are applied when settings are created lazily.
func DefaultNotificationPreferences() NotificationPreferences {
	return NotificationPreferences{Email: true, Push: false}
}

// Settings holds one row per user. Only index 0 of DeliveryAddresses is
// treated as the current address.
type Settings struct {
	ID                      string                       `json:"id" gorm:"type:varchar(36);primaryKey"`
	UserID                  string                       `json:"userId" gorm:"type:varchar(64);uniqueIndex;not null"`
	DeliveryAddresses       datatypes.JSONSlice[Address] `json:"deliveryAddresses"`
	NotificationPreferences NotificationPreferences      `json:"notificationPreferences" gorm:"embedded;embeddedPrefix:notify_"`
	CreatedAt               time.Time                    `json:"createdAt"`
	UpdatedAt               time.Time                    `json:"updatedAt"`
}

func (s *Settings) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.DeliveryAddresses == nil {
		s.DeliveryAddresses = datatypes.JSONSlice[Address]{}
	}
	return nil
}

func (s *Settings) AfterFind(tx *gorm.DB) error {
	if s.DeliveryAddresses == nil {
		s.DeliveryAddresses = datatypes.JSONSlice[Address]{}
	}
	return nil
}

// CurrentAddress returns the active delivery address, if any.
func (s *Settings) CurrentAddress() (Address, bool) {
	if len(s.DeliveryAddresses) == 0 {
		return Address{}, false
	}
	return s.DeliveryAddresses[0], true
}

// PutAddress replaces the current address or stores the first one.
func (s *Settings) PutAddress(a Address) {
	if len(s.DeliveryAddresses) > 0 {
		s.DeliveryAddresses[0] = a
		return
	}
	s.DeliveryAddresses = append(s.DeliveryAddresses, a)
}
