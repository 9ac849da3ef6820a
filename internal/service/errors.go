package service

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"crate_backend/internal/repository"
)

var (
	ErrNotFound         = repository.ErrNotFound
	ErrConflict         = errors.New("already exists")
	ErrUnauthorized     = errors.New("invalid email or password")
	ErrInvalidGoogle    = errors.New("invalid Google credentials")
	ErrInvalidSignature = errors.New("invalid signature")
	ErrNothingToPause   = errors.New("no active subscriptions")
	ErrNotConfigured    = errors.New("not configured")
	ErrLocked           = errors.New("registration already in progress")
)

// ValidationError is returned for input the caller must correct.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func invalid(format string, args ...interface{}) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// validationFailure turns validator field errors into one readable message.
func validationFailure(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return &ValidationError{Message: err.Error()}
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s is required", fe.Field()))
		case "email":
			msgs = append(msgs, fmt.Sprintf("%s must be a valid email", fe.Field()))
		case "min":
			msgs = append(msgs, fmt.Sprintf("%s must be at least %s", fe.Field(), fe.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
		}
	}
	return &ValidationError{Message: strings.Join(msgs, "; ")}
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}
