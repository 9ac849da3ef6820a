package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"crate_backend/internal/gateway"
	"crate_backend/internal/model"
	"crate_backend/internal/repository"
	"crate_backend/pkg/lock"
	"crate_backend/pkg/signature"
	"crate_backend/pkg/subscription"
)

const (
	// Razorpay rejects charges below one rupee.
	minimumChargeMinor = 100
	planNameLimit      = 80
	receiptLimit       = 40
)

var (
	totalsTolerance = decimal.NewFromFloat(0.01)
	minimumCharge   = decimal.New(minimumChargeMinor, -2)
)

type SubscriptionOptions struct {
	// KeySecret signs checkout callbacks.
	KeySecret     string
	Currency      string
	TotalCycles   int
	StrictTotals  bool
	BillingPeriod time.Duration
	// MaxRegistrationAttempts bounds how often the sweeper retries a record.
	MaxRegistrationAttempts int
}

type SubscriptionService struct {
	subs     repository.SubscriptionRepository
	users    repository.UserRepository
	gateway  gateway.Gateway
	locker   lock.Locker
	notifier Notifier
	validate *validator.Validate
	opts     SubscriptionOptions
	now      func() time.Time
}

func NewSubscriptionService(
	subs repository.SubscriptionRepository,
	users repository.UserRepository,
	gw gateway.Gateway,
	locker lock.Locker,
	notifier Notifier,
	opts SubscriptionOptions,
) *SubscriptionService {
	if opts.Currency == "" {
		opts.Currency = "INR"
	}
	if opts.TotalCycles <= 0 {
		opts.TotalCycles = 12
	}
	if opts.BillingPeriod <= 0 {
		opts.BillingPeriod = 30 * 24 * time.Hour
	}
	if opts.MaxRegistrationAttempts <= 0 {
		opts.MaxRegistrationAttempts = 5
	}
	if locker == nil {
		locker = lock.NewLocalLocker()
	}
	if notifier == nil {
		notifier = NoopNotifier{}
	}
	return &SubscriptionService{
		subs:     subs,
		users:    users,
		gateway:  gw,
		locker:   locker,
		notifier: notifier,
		validate: newValidator(),
		opts:     opts,
		now:      time.Now,
	}
}

type CreateSubscriptionInput struct {
	SubscriptionName string           `json:"subscriptionName" validate:"required"`
	Items            []model.LineItem `json:"items" validate:"required,min=1,dive"`
	TotalItems       int              `json:"totalItems" validate:"gte=0"`
	Subtotal         float64          `json:"subtotal" validate:"gte=0"`
	PlatformFee      float64          `json:"platformFee" validate:"gte=0"`
	TotalMRP         float64          `json:"totalMRP" validate:"gte=0"`
	TotalSavings     float64          `json:"totalSavings"`
	GrandTotal       float64          `json:"grandTotal"`
	// StartAt defers the first charge.
	StartAt *time.Time `json:"startAt"`
}

type VerifyPaymentInput struct {
	PaymentID      string `json:"razorpay_payment_id" validate:"required"`
	SubscriptionID string `json:"razorpay_subscription_id" validate:"required"`
	Signature      string `json:"razorpay_signature" validate:"required"`
}

type VerifyOrderInput struct {
	PaymentID string `json:"razorpay_payment_id" validate:"required"`
	OrderID   string `json:"razorpay_order_id" validate:"required"`
	Signature string `json:"razorpay_signature" validate:"required"`
}

type PauseResult struct {
	SubscriptionID        string `json:"subscriptionId"`
	SubscriptionName      string `json:"subscriptionName"`
	GatewaySubscriptionID string `json:"gatewaySubscriptionId,omitempty"`
	Paused                bool   `json:"paused"`
	Error                 string `json:"error,omitempty"`
}

type PauseSummary struct {
	Results []PauseResult `json:"results"`
	Paused  int           `json:"paused"`
	Failed  int           `json:"failed"`
}

// toMinor converts a major unit amount to the provider's minor units.
func toMinor(amount float64) int64 {
	return decimal.NewFromFloat(amount).Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

func fromMinor(amount int64) float64 {
	return decimal.New(amount, -2).InexactFloat64()
}

func truncateRunes(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit])
}

func receiptFor(id string) string {
	r := "rcpt_" + strings.ReplaceAll(id, "-", "")
	if len(r) > receiptLimit {
		r = r[:receiptLimit]
	}
	return r
}

func (s *SubscriptionService) checkInput(in *CreateSubscriptionInput) error {
	in.SubscriptionName = strings.TrimSpace(in.SubscriptionName)
	if err := s.validate.Struct(in); err != nil {
		return validationFailure(err)
	}
	if in.GrandTotal <= 0 {
		return invalid("grandTotal must be greater than zero")
	}
	if decimal.NewFromFloat(in.GrandTotal).LessThan(minimumCharge) {
		return invalid("grandTotal must be at least 1.00 %s", s.opts.Currency)
	}
	if s.opts.StrictTotals {
		return checkTotals(in)
	}
	return nil
}

// checkTotals recomputes the aggregates from the line items.
func checkTotals(in *CreateSubscriptionInput) error {
	var quantity int
	subtotal, mrp := decimal.Zero, decimal.Zero
	for _, it := range in.Items {
		q := decimal.NewFromInt(int64(it.Quantity))
		quantity += it.Quantity
		subtotal = subtotal.Add(decimal.NewFromFloat(it.Price).Mul(q))
		mrp = mrp.Add(decimal.NewFromFloat(it.MRP).Mul(q))
	}
	if quantity != in.TotalItems {
		return invalid("totalItems does not match items: expected %d", quantity)
	}

	checks := []struct {
		field string
		want  decimal.Decimal
		got   float64
	}{
		{"subtotal", subtotal, in.Subtotal},
		{"totalMRP", mrp, in.TotalMRP},
		{"totalSavings", mrp.Sub(subtotal), in.TotalSavings},
		{"grandTotal", subtotal.Add(decimal.NewFromFloat(in.PlatformFee)), in.GrandTotal},
	}
	for _, c := range checks {
		if c.want.Sub(decimal.NewFromFloat(c.got)).Abs().GreaterThan(totalsTolerance) {
			return invalid("%s does not match items: expected %s", c.field, c.want.StringFixed(2))
		}
	}
	return nil
}

func (s *SubscriptionService) newRecord(userID string, in CreateSubscriptionInput) *model.Subscription {
	next := s.now().Add(s.opts.BillingPeriod)
	if in.StartAt != nil && in.StartAt.After(s.now()) {
		next = *in.StartAt
	}
	return &model.Subscription{
		UserID:                userID,
		SubscriptionName:      in.SubscriptionName,
		Items:                 datatypes.JSONSlice[model.LineItem](in.Items),
		TotalItems:            in.TotalItems,
		Subtotal:              in.Subtotal,
		PlatformFee:           in.PlatformFee,
		TotalMRP:              in.TotalMRP,
		TotalSavings:          in.TotalSavings,
		GrandTotal:            in.GrandTotal,
		PaymentStatus:         model.PaymentStatusPending,
		Status:                model.StatusActive,
		Autopay:               true,
		NextBillingDate:       next,
		StartAt:               in.StartAt,
		RegistrationState:     subscription.StatePending,
		RegistrationRetryable: true,
	}
}

// Create validates and stores a pending subscription without contacting the gateway.
func (s *SubscriptionService) Create(ctx context.Context, userID string, in CreateSubscriptionInput) (*model.Subscription, error) {
	if err := s.checkInput(&in); err != nil {
		return nil, err
	}
	sub := s.newRecord(userID, in)
	if err := s.subs.Create(ctx, sub); err != nil {
		return nil, fmt.Errorf("create subscription: %w", err)
	}
	return sub, nil
}

// CreateAndRegister stores the subscription and registers it with the
// gateway. On a gateway failure the stored record is returned with the error
// so the caller can resume registration later.
func (s *SubscriptionService) CreateAndRegister(ctx context.Context, userID string, in CreateSubscriptionInput) (*model.Subscription, error) {
	sub, err := s.Create(ctx, userID, in)
	if err != nil {
		return nil, err
	}
	registered, err := s.Register(ctx, userID, sub.ID)
	if err != nil {
		return sub, err
	}
	s.notifier.SubscriptionCreated(ctx, registered)
	return registered, nil
}

// Register drives the record through plan, subscription and link steps,
// persisting after each one. Steps whose output is already stored are skipped.
func (s *SubscriptionService) Register(ctx context.Context, userID, id string) (*model.Subscription, error) {
	unlock, err := s.locker.Acquire(ctx, "subscription:"+id)
	if err != nil {
		if errors.Is(err, lock.ErrBusy) {
			return nil, ErrLocked
		}
		return nil, fmt.Errorf("lock subscription %s: %w", id, err)
	}
	defer unlock()

	sub, err := s.subs.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("subscription %s: %w", id, err)
	}
	if userID != "" && sub.UserID != userID {
		return nil, fmt.Errorf("subscription %s: %w", id, ErrNotFound)
	}
	if sub.GatewayOrderID != nil {
		return nil, invalid("subscription %s uses order checkout", id)
	}
	if sub.Status == model.StatusCancelled {
		return nil, invalid("subscription %s is cancelled", id)
	}

	var remote *gateway.Subscription
	for !subscription.IsTerminal(sub.RegistrationState) {
		step, next, ok := subscription.NextStep(sub.RegistrationState)
		if !ok {
			return nil, fmt.Errorf("subscription %s: unknown registration state %q", id, sub.RegistrationState)
		}

		updates, err := s.runStep(ctx, sub, step, &remote)
		if err != nil {
			s.recordRegistrationError(ctx, sub.ID, step, err)
			return nil, fmt.Errorf("register subscription %s: %w", id, err)
		}
		updates["registration_state"] = next
		updates["registration_error"] = ""
		updates["registration_retryable"] = true
		updates["registration_attempts"] = 0
		if err := s.subs.Update(ctx, sub.ID, updates); err != nil {
			return nil, fmt.Errorf("save registration step %s: %w", step, err)
		}
		sub.RegistrationState = next
		log.Infof("subscription %s reached %s", sub.ID, next)
	}

	return s.subs.FindByID(ctx, id)
}

func (s *SubscriptionService) runStep(ctx context.Context, sub *model.Subscription, step subscription.Step, remote **gateway.Subscription) (map[string]interface{}, error) {
	updates := map[string]interface{}{}

	switch step {
	case subscription.StepCreatePlan:
		if sub.GatewayPlan() != "" {
			return updates, nil
		}
		plan, err := s.gateway.CreatePlan(ctx, gateway.PlanRequest{
			Period:   "monthly",
			Interval: 1,
			Name:     truncateRunes(sub.SubscriptionName, planNameLimit),
			Amount:   toMinor(sub.GrandTotal),
			Currency: s.opts.Currency,
			Notes:    map[string]string{"subscriptionId": sub.ID},
		})
		if err != nil {
			return nil, err
		}
		sub.GatewayPlanID = &plan.ID
		updates["gateway_plan_id"] = plan.ID

	case subscription.StepCreateSubscription:
		if sub.GatewaySubscription() != "" {
			return updates, nil
		}
		req := gateway.SubscriptionRequest{
			PlanID:         sub.GatewayPlan(),
			TotalCount:     s.opts.TotalCycles,
			Quantity:       1,
			CustomerNotify: true,
			Notes:          map[string]string{"subscriptionId": sub.ID},
		}
		if sub.StartAt != nil && sub.StartAt.After(s.now()) {
			req.StartAt = sub.StartAt
		}
		if s.users != nil {
			if user, err := s.users.FindByID(ctx, sub.UserID); err == nil {
				req.CustomerEmail = user.Email
			}
		}
		created, err := s.gateway.CreateSubscription(ctx, req)
		if err != nil {
			return nil, err
		}
		*remote = created
		sub.GatewaySubscriptionID = &created.ID
		updates["gateway_subscription_id"] = created.ID

	case subscription.StepLink:
		linked := *remote
		if linked == nil {
			fetched, err := s.gateway.FetchSubscription(ctx, sub.GatewaySubscription())
			if err != nil {
				return nil, err
			}
			linked = fetched
		}
		sub.CheckoutURL = linked.ShortURL
		updates["checkout_url"] = linked.ShortURL
		if linked.ChargeAt != nil {
			sub.NextBillingDate = *linked.ChargeAt
			updates["next_billing_date"] = *linked.ChargeAt
		}

	default:
		return nil, fmt.Errorf("unknown registration step %q", step)
	}

	return updates, nil
}

func (s *SubscriptionService) recordRegistrationError(ctx context.Context, id string, step subscription.Step, cause error) {
	msg := fmt.Sprintf("%s: %s", step, gateway.Message(cause))
	retryable := true
	var gwErr *gateway.Error
	if errors.As(cause, &gwErr) {
		retryable = gwErr.Retryable()
	}
	log.Errorf("subscription %s registration failed at %s (retryable=%t): %v", id, step, retryable, cause)
	if err := s.subs.RecordRegistrationFailure(ctx, id, msg, retryable); err != nil {
		log.Errorf("could not record registration error for %s: %v", id, err)
	}
}

// ResumeStalled retries registration for records stuck before the linked
// state for longer than idle. Records the provider rejected with a 4xx wait
// for the user to call Register again.
func (s *SubscriptionService) ResumeStalled(ctx context.Context, idle time.Duration, limit int) (int, error) {
	stalled, err := s.subs.ListStalledRegistrations(ctx, s.now().Add(-idle), s.opts.MaxRegistrationAttempts, limit)
	if err != nil {
		return 0, fmt.Errorf("list stalled registrations: %w", err)
	}

	resumed := 0
	for _, sub := range stalled {
		if _, err := s.Register(ctx, "", sub.ID); err != nil {
			log.Warnf("resume registration for %s failed: %v", sub.ID, err)
			continue
		}
		resumed++
	}
	return resumed, nil
}

// VerifyPayment checks the checkout callback signature and marks the
// subscription paid.
func (s *SubscriptionService) VerifyPayment(ctx context.Context, in VerifyPaymentInput) (*model.Subscription, error) {
	if err := s.validate.Struct(in); err != nil {
		return nil, validationFailure(err)
	}
	if s.opts.KeySecret == "" {
		return nil, fmt.Errorf("razorpay key secret: %w", ErrNotConfigured)
	}
	if !signature.VerifyPayment(in.PaymentID, in.SubscriptionID, in.Signature, s.opts.KeySecret) {
		return nil, ErrInvalidSignature
	}

	sub, err := s.subs.UpdateByGatewaySubscriptionID(ctx, in.SubscriptionID, map[string]interface{}{
		"payment_status": model.PaymentStatusCompleted,
		"payment_id":     in.PaymentID,
	})
	if err != nil {
		return nil, fmt.Errorf("subscription %s: %w", in.SubscriptionID, err)
	}
	return sub, nil
}

// CreateOrderCheckout stores a subscription paid through a one-off order
// whose token is reused for later charges.
func (s *SubscriptionService) CreateOrderCheckout(ctx context.Context, userID string, in CreateSubscriptionInput) (*model.Subscription, *gateway.Order, error) {
	if err := s.checkInput(&in); err != nil {
		return nil, nil, err
	}

	sub := s.newRecord(userID, in)
	sub.ID = uuid.NewString()

	order, err := s.gateway.CreateOrder(ctx, gateway.OrderRequest{
		Amount:   toMinor(sub.GrandTotal),
		Currency: s.opts.Currency,
		Receipt:  receiptFor(sub.ID),
		Notes: map[string]string{
			"userId":           userID,
			"subscriptionId":   sub.ID,
			"subscriptionName": sub.SubscriptionName,
		},
	})
	if err != nil {
		return nil, nil, fmt.Errorf("create order: %w", err)
	}

	sub.GatewayOrderID = &order.ID
	if err := s.subs.Create(ctx, sub); err != nil {
		return nil, nil, fmt.Errorf("create subscription: %w", err)
	}
	return sub, order, nil
}

// VerifyOrderPayment checks an order checkout signature, captures the
// payment token and marks the subscription paid.
func (s *SubscriptionService) VerifyOrderPayment(ctx context.Context, userID string, in VerifyOrderInput) (*model.Subscription, error) {
	if err := s.validate.Struct(in); err != nil {
		return nil, validationFailure(err)
	}
	if s.opts.KeySecret == "" {
		return nil, fmt.Errorf("razorpay key secret: %w", ErrNotConfigured)
	}
	if !signature.VerifyOrderPayment(in.OrderID, in.PaymentID, in.Signature, s.opts.KeySecret) {
		return nil, ErrInvalidSignature
	}

	sub, err := s.subs.FindByGatewayOrderID(ctx, in.OrderID)
	if err != nil {
		return nil, fmt.Errorf("order %s: %w", in.OrderID, err)
	}
	if userID != "" && sub.UserID != userID {
		return nil, fmt.Errorf("order %s: %w", in.OrderID, ErrNotFound)
	}

	payment, err := s.gateway.FetchPayment(ctx, in.PaymentID)
	if err != nil {
		return nil, fmt.Errorf("fetch payment %s: %w", in.PaymentID, err)
	}

	updates := map[string]interface{}{
		"payment_status": model.PaymentStatusCompleted,
		"payment_id":     in.PaymentID,
	}
	if payment.TokenID != "" {
		updates["gateway_token_id"] = payment.TokenID
	}
	if err := s.subs.Update(ctx, sub.ID, updates); err != nil {
		return nil, fmt.Errorf("update subscription %s: %w", sub.ID, err)
	}
	return s.subs.FindByID(ctx, sub.ID)
}

func (s *SubscriptionService) List(ctx context.Context, userID string) ([]model.Subscription, error) {
	subs, err := s.subs.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	return subs, nil
}

// PauseAll pauses every paid active subscription of the user. Each one is
// handled independently and reported in the summary.
func (s *SubscriptionService) PauseAll(ctx context.Context, userID string) (*PauseSummary, error) {
	subs, err := s.subs.ListByStatus(ctx, userID, model.PaymentStatusCompleted, model.StatusActive)
	if err != nil {
		return nil, fmt.Errorf("list active subscriptions: %w", err)
	}
	if len(subs) == 0 {
		return nil, ErrNothingToPause
	}

	summary := &PauseSummary{Results: make([]PauseResult, 0, len(subs))}
	for i := range subs {
		result := s.pauseOne(ctx, &subs[i])
		if result.Paused {
			summary.Paused++
		} else {
			summary.Failed++
		}
		summary.Results = append(summary.Results, result)
	}

	if summary.Paused > 0 {
		s.notifier.SubscriptionsPaused(ctx, userID, summary.Results)
	}
	return summary, nil
}

func (s *SubscriptionService) pauseOne(ctx context.Context, sub *model.Subscription) PauseResult {
	result := PauseResult{
		SubscriptionID:        sub.ID,
		SubscriptionName:      sub.SubscriptionName,
		GatewaySubscriptionID: sub.GatewaySubscription(),
	}

	if gwID := sub.GatewaySubscription(); gwID != "" {
		if _, err := s.gateway.PauseSubscription(ctx, gwID); err != nil {
			log.Warnf("pause %s at gateway failed: %v", gwID, err)
			result.Error = gateway.Message(err)
			return result
		}
	}

	ok, err := s.subs.TransitionStatus(ctx, sub.ID, model.StatusActive, model.StatusPaused)
	switch {
	case err != nil:
		result.Error = err.Error()
	case !ok:
		result.Error = "subscription is no longer active"
	default:
		result.Paused = true
	}
	return result
}

// SendChargeReminders notifies users whose active subscriptions bill on the
// day that is daysAhead days from now.
func (s *SubscriptionService) SendChargeReminders(ctx context.Context, daysAhead int) (int, error) {
	now := s.now()
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).AddDate(0, 0, daysAhead)
	due, err := s.subs.ListBillingBetween(ctx, day, day.AddDate(0, 0, 1))
	if err != nil {
		return 0, fmt.Errorf("list upcoming charges: %w", err)
	}
	for i := range due {
		s.notifier.UpcomingCharge(ctx, &due[i], daysAhead)
	}
	return len(due), nil
}
