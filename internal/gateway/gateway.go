// Package gateway talks to the payment provider that bills recurring crates.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

const (
	ProviderRazorpay = "razorpay"
	ProviderStripe   = "stripe"
)

// Gateway is the set of provider calls the subscription workflow needs.
type Gateway interface {
	Name() string
	CreatePlan(ctx context.Context, req PlanRequest) (*Plan, error)
	CreateSubscription(ctx context.Context, req SubscriptionRequest) (*Subscription, error)
	FetchSubscription(ctx context.Context, id string) (*Subscription, error)
	PauseSubscription(ctx context.Context, id string) (*Subscription, error)
	CreateOrder(ctx context.Context, req OrderRequest) (*Order, error)
	FetchPayment(ctx context.Context, id string) (*Payment, error)
}

type PlanRequest struct {
	Period   string
	Interval int
	Name     string
	Amount   int64 // minor units
	Currency string
	Notes    map[string]string
}

type Plan struct {
	ID string
}

type SubscriptionRequest struct {
	PlanID         string
	TotalCount     int
	Quantity       int
	CustomerNotify bool
	CustomerEmail  string
	StartAt        *time.Time
	Notes          map[string]string
}

type Subscription struct {
	ID       string
	PlanID   string
	Status   string
	ShortURL string
	ChargeAt *time.Time
}

type OrderRequest struct {
	Amount   int64
	Currency string
	Receipt  string
	Notes    map[string]string
}

type Order struct {
	ID       string
	Amount   int64
	Currency string
	Receipt  string
}

type Payment struct {
	ID      string
	OrderID string
	Status  string
	Amount  int64
	TokenID string
}

// Error is a provider rejection or transport failure.
type Error struct {
	Op          string
	StatusCode  int
	Code        string
	Description string
	Err         error
}

func (e *Error) Error() string {
	switch {
	case e.Description != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Description)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("%s: status %d", e.Op, e.StatusCode)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether another attempt may succeed.
func (e *Error) Retryable() bool {
	if e.StatusCode == 0 {
		return e.Err != nil && !errors.Is(e.Err, context.Canceled)
	}
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}

// Message returns the provider description when present.
func Message(err error) string {
	var gwErr *Error
	if errors.As(err, &gwErr) && gwErr.Description != "" {
		return gwErr.Description
	}
	return err.Error()
}
