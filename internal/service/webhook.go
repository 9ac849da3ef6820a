package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/webhook"

	"crate_backend/internal/gateway"
	"crate_backend/internal/model"
	"crate_backend/internal/repository"
	"crate_backend/pkg/signature"
)

const (
	EventSubscriptionCharged   = "subscription.charged"
	EventSubscriptionPaused    = "subscription.paused"
	EventSubscriptionResumed   = "subscription.resumed"
	EventSubscriptionActivated = "subscription.activated"
	EventSubscriptionCancelled = "subscription.cancelled"
	EventSubscriptionCompleted = "subscription.completed"
	EventSubscriptionHalted    = "subscription.halted"
	EventPaymentFailed         = "payment.failed"
)

type WebhookOptions struct {
	RazorpaySecret string
	VerifyRazorpay bool
	StripeSecret   string
	BillingPeriod  time.Duration
}

// WebhookService reconciles provider callbacks into the subscription store.
type WebhookService struct {
	subs     repository.SubscriptionRepository
	events   repository.WebhookEventRepository
	notifier Notifier
	opts     WebhookOptions
	now      func() time.Time
}

func NewWebhookService(subs repository.SubscriptionRepository, events repository.WebhookEventRepository, notifier Notifier, opts WebhookOptions) *WebhookService {
	if opts.BillingPeriod <= 0 {
		opts.BillingPeriod = 30 * 24 * time.Hour
	}
	if notifier == nil {
		notifier = NoopNotifier{}
	}
	return &WebhookService{subs: subs, events: events, notifier: notifier, opts: opts, now: time.Now}
}

type razorpayEnvelope struct {
	ID      string `json:"id"`
	Event   string `json:"event"`
	Payload struct {
		Subscription json.RawMessage `json:"subscription"`
		Payment      json.RawMessage `json:"payment"`
	} `json:"payload"`
}

type subscriptionEntity struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	NextBillingAt *int64 `json:"next_billing_at"`
	CurrentEnd    *int64 `json:"current_end"`
}

type paymentEntity struct {
	ID      string `json:"id"`
	Amount  int64  `json:"amount"`
	OrderID string `json:"order_id"`
	TokenID string `json:"token_id"`
}

// unwrapEntity decodes either {"entity": {...}} or a bare object into out.
func unwrapEntity(raw json.RawMessage, out interface{}) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var wrapped struct {
		Entity json.RawMessage `json:"entity"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return err
	}
	if len(wrapped.Entity) > 0 && string(wrapped.Entity) != "null" {
		raw = wrapped.Entity
	}
	return json.Unmarshal(raw, out)
}

func unixTime(v *int64) *time.Time {
	if v == nil || *v <= 0 {
		return nil
	}
	t := time.Unix(*v, 0).UTC()
	return &t
}

// charge is a provider neutral recurring charge notification.
type charge struct {
	GatewaySubscriptionID string
	PaymentID             string
	AmountMinor           int64
	TokenID               string
	NextBillingAt         *time.Time
}

// HandleRazorpay verifies and applies one Razorpay webhook delivery.
// eventID is the x-razorpay-event-id header and may be empty.
func (s *WebhookService) HandleRazorpay(ctx context.Context, body []byte, sig, eventID string) error {
	if s.opts.VerifyRazorpay {
		if s.opts.RazorpaySecret == "" {
			return fmt.Errorf("razorpay webhook secret: %w", ErrNotConfigured)
		}
		if !signature.VerifyWebhook(body, sig, s.opts.RazorpaySecret) {
			return ErrInvalidSignature
		}
	}

	var env razorpayEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return invalid("malformed webhook payload: %v", err)
	}
	if env.Event == "" {
		return invalid("webhook event is missing")
	}
	if eventID == "" {
		eventID = env.ID
	}
	if eventID == "" {
		sum := sha256.Sum256(body)
		eventID = hex.EncodeToString(sum[:])
	}

	return s.record(ctx, &model.WebhookEvent{
		Provider:        gateway.ProviderRazorpay,
		ProviderEventID: eventID,
		EventType:       env.Event,
		Payload:         string(body),
		SignatureValid:  s.opts.VerifyRazorpay,
	}, func() error {
		return s.applyRazorpay(ctx, &env)
	})
}

// record stores the event and runs apply unless an earlier delivery of the
// same event was already processed successfully.
func (s *WebhookService) record(ctx context.Context, event *model.WebhookEvent, apply func() error) error {
	created, stored, err := s.events.CreateIfNotExists(ctx, event)
	if err != nil {
		return fmt.Errorf("record webhook event: %w", err)
	}
	if !created && stored.ProcessedAt != nil && stored.ProcessingError == "" {
		log.Infof("webhook %s/%s already processed", event.Provider, event.ProviderEventID)
		return nil
	}

	applyErr := apply()
	msg := ""
	if applyErr != nil {
		msg = applyErr.Error()
	}
	if err := s.events.MarkProcessed(ctx, stored.ID, msg); err != nil {
		log.Errorf("could not mark webhook %d processed: %v", stored.ID, err)
	}
	return applyErr
}

func (s *WebhookService) applyRazorpay(ctx context.Context, env *razorpayEnvelope) error {
	var sub subscriptionEntity
	if err := unwrapEntity(env.Payload.Subscription, &sub); err != nil {
		return invalid("malformed subscription entity: %v", err)
	}
	var pay paymentEntity
	if err := unwrapEntity(env.Payload.Payment, &pay); err != nil {
		return invalid("malformed payment entity: %v", err)
	}

	switch env.Event {
	case EventSubscriptionCharged:
		if sub.ID == "" || pay.ID == "" {
			return invalid("subscription.charged requires subscription and payment ids")
		}
		next := unixTime(sub.NextBillingAt)
		if next == nil {
			next = unixTime(sub.CurrentEnd)
		}
		return s.applyCharge(ctx, charge{
			GatewaySubscriptionID: sub.ID,
			PaymentID:             pay.ID,
			AmountMinor:           pay.Amount,
			TokenID:               pay.TokenID,
			NextBillingAt:         next,
		})
	case EventSubscriptionPaused:
		return s.applyLifecycle(ctx, sub.ID, map[string]interface{}{"status": model.StatusPaused})
	case EventSubscriptionResumed, EventSubscriptionActivated:
		return s.applyLifecycle(ctx, sub.ID, map[string]interface{}{"status": model.StatusActive})
	case EventSubscriptionCancelled, EventSubscriptionCompleted:
		return s.applyLifecycle(ctx, sub.ID, map[string]interface{}{"status": model.StatusCancelled})
	case EventSubscriptionHalted:
		return s.applyLifecycle(ctx, sub.ID, map[string]interface{}{"payment_status": model.PaymentStatusFailed})
	case EventPaymentFailed:
		if sub.ID != "" {
			return s.applyLifecycle(ctx, sub.ID, map[string]interface{}{"payment_status": model.PaymentStatusFailed})
		}
		return s.failOrder(ctx, pay.OrderID)
	default:
		log.Infof("ignoring razorpay event %s", env.Event)
		return nil
	}
}

// applyCharge appends a billing cycle for the charge. A payment id that was
// already recorded for the subscription is acknowledged without changes.
func (s *WebhookService) applyCharge(ctx context.Context, c charge) error {
	sub, err := s.subs.FindByGatewaySubscriptionID(ctx, c.GatewaySubscriptionID)
	if err != nil {
		return fmt.Errorf("subscription %s: %w", c.GatewaySubscriptionID, err)
	}

	now := s.now()
	next := now.Add(s.opts.BillingPeriod)
	if c.NextBillingAt != nil {
		next = *c.NextBillingAt
	}
	amount := sub.GrandTotal
	if c.AmountMinor > 0 {
		amount = fromMinor(c.AmountMinor)
	}

	cycle := &model.BillingCycle{
		GatewayPaymentID: c.PaymentID,
		Amount:           amount,
		GatewayTokenID:   c.TokenID,
		BilledAt:         now,
		NextBillingDate:  next,
	}
	updates := map[string]interface{}{
		"payment_status":    model.PaymentStatusCompleted,
		"payment_id":        c.PaymentID,
		"next_billing_date": next,
		"status":            model.StatusActive,
	}
	if c.TokenID != "" {
		updates["gateway_token_id"] = c.TokenID
	}

	created, err := s.subs.AppendBillingCycle(ctx, sub.ID, cycle, updates)
	if err != nil {
		return fmt.Errorf("append billing cycle: %w", err)
	}
	if !created {
		log.Infof("charge %s for subscription %s already recorded", c.PaymentID, sub.ID)
		return nil
	}

	sub.PaymentStatus = model.PaymentStatusCompleted
	sub.PaymentID = c.PaymentID
	sub.NextBillingDate = next
	sub.Status = model.StatusActive
	log.Infof("recorded cycle %d for subscription %s", cycle.Sequence, sub.ID)
	s.notifier.ChargeRecorded(ctx, sub, cycle)
	return nil
}

// applyLifecycle mirrors a provider status change. Events for subscriptions
// this service never registered are acknowledged.
func (s *WebhookService) applyLifecycle(ctx context.Context, gatewaySubscriptionID string, updates map[string]interface{}) error {
	if gatewaySubscriptionID == "" {
		return invalid("subscription id is missing")
	}
	if _, err := s.subs.UpdateByGatewaySubscriptionID(ctx, gatewaySubscriptionID, updates); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			log.Warnf("webhook for unknown subscription %s ignored", gatewaySubscriptionID)
			return nil
		}
		return fmt.Errorf("update subscription %s: %w", gatewaySubscriptionID, err)
	}
	return nil
}

func (s *WebhookService) failOrder(ctx context.Context, orderID string) error {
	if orderID == "" {
		log.Infof("payment.failed without subscription or order ignored")
		return nil
	}
	sub, err := s.subs.FindByGatewayOrderID(ctx, orderID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			log.Warnf("payment.failed for unknown order %s ignored", orderID)
			return nil
		}
		return err
	}
	return s.subs.Update(ctx, sub.ID, map[string]interface{}{"payment_status": model.PaymentStatusFailed})
}

// HandleStripe verifies and applies one Stripe webhook delivery.
func (s *WebhookService) HandleStripe(ctx context.Context, body []byte, sigHeader string) error {
	if s.opts.StripeSecret == "" {
		return fmt.Errorf("stripe webhook secret: %w", ErrNotConfigured)
	}
	event, err := webhook.ConstructEvent(body, sigHeader, s.opts.StripeSecret)
	if err != nil {
		log.Warnf("stripe webhook rejected: %v", err)
		return ErrInvalidSignature
	}

	return s.record(ctx, &model.WebhookEvent{
		Provider:        gateway.ProviderStripe,
		ProviderEventID: event.ID,
		EventType:       string(event.Type),
		Payload:         string(body),
		SignatureValid:  true,
	}, func() error {
		return s.applyStripe(ctx, &event)
	})
}

func (s *WebhookService) applyStripe(ctx context.Context, event *stripe.Event) error {
	switch event.Type {
	case "invoice.paid":
		var inv stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return invalid("malformed invoice: %v", err)
		}
		if inv.Subscription == nil || inv.Subscription.ID == "" {
			log.Infof("invoice %s is not for a subscription", inv.ID)
			return nil
		}
		c := charge{
			GatewaySubscriptionID: inv.Subscription.ID,
			PaymentID:             inv.ID,
			AmountMinor:           inv.AmountPaid,
		}
		if inv.PaymentIntent != nil && inv.PaymentIntent.ID != "" {
			c.PaymentID = inv.PaymentIntent.ID
		}
		if inv.Lines != nil && len(inv.Lines.Data) > 0 && inv.Lines.Data[0].Period != nil {
			c.NextBillingAt = unixTime(&inv.Lines.Data[0].Period.End)
		}
		return s.applyCharge(ctx, c)

	case "invoice.payment_failed":
		var inv stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return invalid("malformed invoice: %v", err)
		}
		if inv.Subscription == nil {
			return nil
		}
		return s.applyLifecycle(ctx, inv.Subscription.ID, map[string]interface{}{"payment_status": model.PaymentStatusFailed})

	case "customer.subscription.deleted", "customer.subscription.paused", "customer.subscription.resumed":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return invalid("malformed subscription: %v", err)
		}
		status := model.StatusCancelled
		switch event.Type {
		case "customer.subscription.paused":
			status = model.StatusPaused
		case "customer.subscription.resumed":
			status = model.StatusActive
		}
		return s.applyLifecycle(ctx, sub.ID, map[string]interface{}{"status": status})

	default:
		log.Infof("ignoring stripe event %s", event.Type)
		return nil
	}
}
