package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2/log"
	"golang.org/x/crypto/bcrypt"
	"google.golang.org/api/idtoken"

	"crate_backend/internal/model"
	"crate_backend/internal/repository"
)

type TokenIssuer interface {
	GenerateToken(userID, email string) (string, error)
}

type GoogleIdentity struct {
	Email string
	Name  string
}

// GoogleVerifier validates a Google Sign-In ID token.
type GoogleVerifier interface {
	Verify(ctx context.Context, credential string) (*GoogleIdentity, error)
}

type idTokenVerifier struct {
	audience string
}

func NewGoogleVerifier(clientID string) GoogleVerifier {
	return &idTokenVerifier{audience: clientID}
}

func (v *idTokenVerifier) Verify(ctx context.Context, credential string) (*GoogleIdentity, error) {
	payload, err := idtoken.Validate(ctx, credential, v.audience)
	if err != nil {
		return nil, err
	}
	email, _ := payload.Claims["email"].(string)
	if email == "" {
		return nil, errors.New("token has no email claim")
	}
	if verified, ok := payload.Claims["email_verified"].(bool); ok && !verified {
		return nil, errors.New("google email is not verified")
	}
	name, _ := payload.Claims["name"].(string)
	return &GoogleIdentity{Email: email, Name: name}, nil
}

type SignupInput struct {
	FullName string `json:"fullName" validate:"required"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
	Phone    string `json:"phone"`
}

type LoginInput struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type AuthResult struct {
	Token string        `json:"token"`
	User  model.Profile `json:"user"`
}

type AuthService struct {
	users    repository.UserRepository
	tokens   TokenIssuer
	google   GoogleVerifier
	notifier Notifier
	validate *validator.Validate
}

func NewAuthService(users repository.UserRepository, tokens TokenIssuer, google GoogleVerifier, notifier Notifier) *AuthService {
	if notifier == nil {
		notifier = NoopNotifier{}
	}
	return &AuthService{users: users, tokens: tokens, google: google, notifier: notifier, validate: newValidator()}
}

func (s *AuthService) issue(user *model.User) (*AuthResult, error) {
	token, err := s.tokens.GenerateToken(user.ID, user.Email)
	if err != nil {
		return nil, fmt.Errorf("generate token: %w", err)
	}
	return &AuthResult{Token: token, User: user.GetProfile()}, nil
}

func (s *AuthService) Signup(ctx context.Context, in SignupInput) (*AuthResult, error) {
	in.Email = model.NormalizeEmail(in.Email)
	in.FullName = strings.TrimSpace(in.FullName)
	if err := s.validate.Struct(in); err != nil {
		return nil, validationFailure(err)
	}

	if _, err := s.users.FindByEmail(ctx, in.Email); err == nil {
		return nil, fmt.Errorf("email %s: %w", in.Email, ErrConflict)
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &model.User{
		FullName:     in.FullName,
		Email:        in.Email,
		Phone:        in.Phone,
		Password:     string(hashed),
		AuthProvider: model.AuthProviderPassword,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, fmt.Errorf("email %s: %w", in.Email, ErrConflict)
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	s.notifier.Welcome(ctx, user)
	return s.issue(user)
}

func (s *AuthService) Login(ctx context.Context, in LoginInput) (*AuthResult, error) {
	if err := s.validate.Struct(in); err != nil {
		return nil, validationFailure(err)
	}

	user, err := s.users.FindByEmail(ctx, in.Email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, err
	}
	if user.Password == "" {
		return nil, ErrUnauthorized
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(in.Password)); err != nil {
		return nil, ErrUnauthorized
	}
	return s.issue(user)
}

// GoogleLogin verifies the credential and signs in the matching user,
// creating the account on first use.
func (s *AuthService) GoogleLogin(ctx context.Context, credential string) (*AuthResult, error) {
	if strings.TrimSpace(credential) == "" {
		return nil, invalid("Missing Google credential")
	}
	if s.google == nil {
		return nil, fmt.Errorf("google login: %w", ErrNotConfigured)
	}

	identity, err := s.google.Verify(ctx, credential)
	if err != nil {
		log.Warnf("google credential rejected: %v", err)
		return nil, ErrInvalidGoogle
	}

	user, err := s.users.FindByEmail(ctx, identity.Email)
	if err == nil {
		return s.issue(user)
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	user = &model.User{
		FullName:     identity.Name,
		Email:        identity.Email,
		AuthProvider: model.AuthProviderGoogle,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if !errors.Is(err, repository.ErrDuplicate) {
			return nil, fmt.Errorf("create user: %w", err)
		}
		// lost a race with a concurrent first login
		if user, err = s.users.FindByEmail(ctx, identity.Email); err != nil {
			return nil, err
		}
		return s.issue(user)
	}

	s.notifier.Welcome(ctx, user)
	return s.issue(user)
}
