package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"crate_backend/internal/gateway"
	"crate_backend/internal/model"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:svc_%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(
		&model.User{},
		&model.Settings{},
		&model.Subscription{},
		&model.BillingCycle{},
		&model.WebhookEvent{},
	))
	return db
}

type fakeGateway struct {
	mu sync.Mutex

	plans         []gateway.PlanRequest
	subscriptions []gateway.SubscriptionRequest
	orders        []gateway.OrderRequest
	paused        []string
	fetches       int
	planCalls     int

	planErr    error
	subErr     error
	pauseErrs  map[string]error
	chargeAt   *time.Time
	paymentTok string
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{pauseErrs: map[string]error{}}
}

func (f *fakeGateway) Name() string { return "fake" }

func (f *fakeGateway) CreatePlan(_ context.Context, req gateway.PlanRequest) (*gateway.Plan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.planCalls++
	if f.planErr != nil {
		return nil, f.planErr
	}
	f.plans = append(f.plans, req)
	return &gateway.Plan{ID: fmt.Sprintf("plan_%d", len(f.plans))}, nil
}

func (f *fakeGateway) CreateSubscription(_ context.Context, req gateway.SubscriptionRequest) (*gateway.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subErr != nil {
		return nil, f.subErr
	}
	f.subscriptions = append(f.subscriptions, req)
	id := fmt.Sprintf("sub_%d", len(f.subscriptions))
	return &gateway.Subscription{
		ID:       id,
		PlanID:   req.PlanID,
		Status:   "created",
		ShortURL: "https://rzp.io/i/" + id,
		ChargeAt: f.chargeAt,
	}, nil
}

func (f *fakeGateway) FetchSubscription(_ context.Context, id string) (*gateway.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	return &gateway.Subscription{ID: id, Status: "created", ShortURL: "https://rzp.io/i/" + id, ChargeAt: f.chargeAt}, nil
}

func (f *fakeGateway) PauseSubscription(_ context.Context, id string) (*gateway.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.pauseErrs[id]; err != nil {
		return nil, err
	}
	f.paused = append(f.paused, id)
	return &gateway.Subscription{ID: id, Status: "paused"}, nil
}

func (f *fakeGateway) CreateOrder(_ context.Context, req gateway.OrderRequest) (*gateway.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders = append(f.orders, req)
	return &gateway.Order{ID: fmt.Sprintf("order_%d", len(f.orders)), Amount: req.Amount, Currency: req.Currency, Receipt: req.Receipt}, nil
}

func (f *fakeGateway) FetchPayment(_ context.Context, id string) (*gateway.Payment, error) {
	return &gateway.Payment{ID: id, Status: "captured", TokenID: f.paymentTok}, nil
}

type recordingNotifier struct {
	mu       sync.Mutex
	welcomed []string
	created  []string
	charged  []string
	paused   [][]PauseResult
	upcoming []string
}

func (n *recordingNotifier) Welcome(_ context.Context, user *model.User) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.welcomed = append(n.welcomed, user.Email)
}

func (n *recordingNotifier) SubscriptionCreated(_ context.Context, sub *model.Subscription) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.created = append(n.created, sub.ID)
}

func (n *recordingNotifier) ChargeRecorded(_ context.Context, _ *model.Subscription, cycle *model.BillingCycle) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.charged = append(n.charged, cycle.GatewayPaymentID)
}

func (n *recordingNotifier) SubscriptionsPaused(_ context.Context, _ string, results []PauseResult) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.paused = append(n.paused, results)
}

func (n *recordingNotifier) UpcomingCharge(_ context.Context, sub *model.Subscription, _ int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.upcoming = append(n.upcoming, sub.ID)
}

func validInput() CreateSubscriptionInput {
	return CreateSubscriptionInput{
		SubscriptionName: "Weekly veggies",
		Items: []model.LineItem{
			{ProductID: 1, Name: "Tomato", Quantity: 2, Price: 40, MRP: 50, Unit: "kg"},
			{ProductID: 2, Name: "Onion", Quantity: 1, Price: 30.5, MRP: 35, Unit: "kg"},
		},
		TotalItems:   3,
		Subtotal:     110.5,
		PlatformFee:  9.5,
		TotalMRP:     135,
		TotalSavings: 24.5,
		GrandTotal:   120,
	}
}
