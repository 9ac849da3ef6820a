package service

import (
	"context"
	"fmt"
	"strings"

	"crate_backend/internal/model"
	"crate_backend/internal/repository"
)

// ProfileInput carries a partial profile update; nil fields are left unchanged.
type ProfileInput struct {
	FullName *string              `json:"fullName"`
	Phone    *string              `json:"phone"`
	Address  *model.PostalAddress `json:"address"`
}

type UserService struct {
	users repository.UserRepository
}

func NewUserService(users repository.UserRepository) *UserService {
	return &UserService{users: users}
}

func (s *UserService) Me(ctx context.Context, userID string) (*model.Profile, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("user %s: %w", userID, err)
	}
	profile := user.GetProfile()
	return &profile, nil
}

func (s *UserService) UpdateProfile(ctx context.Context, userID string, in ProfileInput) (*model.Profile, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("user %s: %w", userID, err)
	}

	fullName, phone, address := user.FullName, user.Phone, user.Address
	if in.FullName != nil {
		if strings.TrimSpace(*in.FullName) == "" {
			return nil, invalid("fullName cannot be empty")
		}
		fullName = strings.TrimSpace(*in.FullName)
	}
	if in.Phone != nil {
		phone = strings.TrimSpace(*in.Phone)
	}
	if in.Address != nil {
		address = *in.Address
	}

	updated, err := s.users.UpdateProfile(ctx, userID, fullName, phone, address)
	if err != nil {
		return nil, fmt.Errorf("update profile: %w", err)
	}
	profile := updated.GetProfile()
	return &profile, nil
}
