package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	AuthProviderPassword = "password"
	AuthProviderGoogle   = "google"
)

// PostalAddress is the profile address kept on the user row.
type PostalAddress struct {
	HouseNo    string `json:"houseNo"`
	Street     string `json:"street"`
	Landmark   string `json:"landmark"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
}

type User struct {
	ID           string        `json:"id" gorm:"type:varchar(36);primaryKey"`
	FullName     string        `json:"fullName" gorm:"not null"`
	Email        string        `json:"email" gorm:"uniqueIndex;not null"`
	Phone        string        `json:"phone"`
	Address      PostalAddress `json:"address" gorm:"embedded;embeddedPrefix:address_"`
	Password     string        `json:"-" gorm:"not null"`
	AuthProvider string        `json:"authProvider" gorm:"type:varchar(20);not null"`
	CreatedAt    time.Time     `json:"createdAt"`
	UpdatedAt    time.Time     `json:"updatedAt"`
}

func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	u.Email = NormalizeEmail(u.Email)
	if u.AuthProvider == "" {
		u.AuthProvider = AuthProviderPassword
	}
	return nil
}

// Profile is the shape the frontend renders on the account page.
type Profile struct {
	ID          string        `json:"id"`
	FullName    string        `json:"fullName"`
	Email       string        `json:"email"`
	Phone       string        `json:"phone"`
	Address     PostalAddress `json:"address"`
	MemberSince string        `json:"memberSince"`
}

func (u *User) GetProfile() Profile {
	return Profile{
		ID:          u.ID,
		FullName:    u.FullName,
		Email:       u.Email,
		Phone:       u.Phone,
		Address:     u.Address,
		MemberSince: u.CreatedAt.UTC().Format("2006-01-02"),
	}
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
