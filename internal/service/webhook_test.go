package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v74"

	"crate_backend/internal/model"
	"crate_backend/internal/repository"
	"crate_backend/pkg/signature"
)

const webhookSecret = "whsec_test"

type webhookFixture struct {
	svc      *WebhookService
	subs     repository.SubscriptionRepository
	notifier *recordingNotifier
}

func newWebhookFixture(t *testing.T) *webhookFixture {
	db := newTestDB(t)
	f := &webhookFixture{
		subs:     repository.NewSubscriptionRepository(db),
		notifier: &recordingNotifier{},
	}
	f.svc = NewWebhookService(f.subs, repository.NewWebhookEventRepository(db), f.notifier, WebhookOptions{
		RazorpaySecret: webhookSecret,
		VerifyRazorpay: true,
		StripeSecret:   "whsec_stripe",
	})
	return f
}

func (f *webhookFixture) seed(t *testing.T, gatewayID string) *model.Subscription {
	t.Helper()
	sub := &model.Subscription{
		UserID:           "user-1",
		SubscriptionName: "Weekly veggies",
		GrandTotal:       499,
		PaymentStatus:    model.PaymentStatusPending,
		Status:           model.StatusPaused,
		Autopay:          true,
	}
	sub.GatewaySubscriptionID = &gatewayID
	require.NoError(t, f.subs.Create(context.Background(), sub))
	return sub
}

func chargedPayload(subID, paymentID string, nextBillingAt int64) []byte {
	return []byte(fmt.Sprintf(`{"event":"subscription.charged","payload":{"subscription":{"entity":{"id":%q,"status":"active","next_billing_at":%d}},"payment":{"entity":{"id":%q,"amount":49900,"token_id":"token_1"}}}}`,
		subID, nextBillingAt, paymentID))
}

func sign(body []byte) string {
	return signature.Sign(webhookSecret, body)
}

func TestChargedWebhookAppendsCycle(t *testing.T) {
	f := newWebhookFixture(t)
	ctx := context.Background()
	sub := f.seed(t, "sub_1")

	body := chargedPayload("sub_1", "pay_1", 1893456000)
	require.NoError(t, f.svc.HandleRazorpay(ctx, body, sign(body), "evt_1"))

	stored, err := f.subs.FindByID(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusCompleted, stored.PaymentStatus)
	assert.Equal(t, model.StatusActive, stored.Status)
	assert.Equal(t, "pay_1", stored.PaymentID)
	assert.Equal(t, "token_1", stored.GatewayTokenID)
	assert.Equal(t, int64(1893456000), stored.NextBillingDate.Unix())

	require.Len(t, stored.BillingCycles, 1)
	cycle := stored.BillingCycles[0]
	assert.Equal(t, 1, cycle.Sequence)
	assert.Equal(t, 499.0, cycle.Amount)
	assert.Equal(t, []string{"pay_1"}, f.notifier.charged)
}

func TestChargedWebhookDuplicateIsNoop(t *testing.T) {
	f := newWebhookFixture(t)
	ctx := context.Background()
	sub := f.seed(t, "sub_1")

	body := chargedPayload("sub_1", "pay_1", 1893456000)
	require.NoError(t, f.svc.HandleRazorpay(ctx, body, sign(body), "evt_1"))
	require.NoError(t, f.svc.HandleRazorpay(ctx, body, sign(body), "evt_1"))
	// same charge redelivered under a new event id
	require.NoError(t, f.svc.HandleRazorpay(ctx, body, sign(body), "evt_2"))

	stored, err := f.subs.FindByID(ctx, sub.ID)
	require.NoError(t, err)
	assert.Len(t, stored.BillingCycles, 1)
	assert.Len(t, f.notifier.charged, 1)
}

func TestChargedWebhookAcceptsBareEntities(t *testing.T) {
	f := newWebhookFixture(t)
	ctx := context.Background()
	sub := f.seed(t, "sub_1")

	body := []byte(`{"event":"subscription.charged","payload":{"subscription":{"id":"sub_1","current_end":1893456000},"payment":{"id":"pay_9","amount":49900}}}`)
	require.NoError(t, f.svc.HandleRazorpay(ctx, body, sign(body), ""))

	stored, err := f.subs.FindByID(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, "pay_9", stored.PaymentID)
	assert.Equal(t, int64(1893456000), stored.NextBillingDate.Unix())
}

func TestChargedWebhookUnknownSubscription(t *testing.T) {
	f := newWebhookFixture(t)
	body := chargedPayload("sub_missing", "pay_1", 1893456000)

	err := f.svc.HandleRazorpay(context.Background(), body, sign(body), "evt_1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestWebhookSignatureChecks(t *testing.T) {
	f := newWebhookFixture(t)
	ctx := context.Background()
	sub := f.seed(t, "sub_1")
	body := chargedPayload("sub_1", "pay_1", 1893456000)

	err := f.svc.HandleRazorpay(ctx, body, "deadbeef", "evt_1")
	assert.ErrorIs(t, err, ErrInvalidSignature)

	stored, err := f.subs.FindByID(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusPending, stored.PaymentStatus)
	assert.Empty(t, stored.BillingCycles)

	f.svc.opts.RazorpaySecret = ""
	err = f.svc.HandleRazorpay(ctx, body, sign(body), "evt_1")
	assert.ErrorIs(t, err, ErrNotConfigured)

	f.svc.opts.VerifyRazorpay = false
	require.NoError(t, f.svc.HandleRazorpay(ctx, body, "", "evt_1"))
}

func TestLifecycleWebhooks(t *testing.T) {
	f := newWebhookFixture(t)
	ctx := context.Background()
	sub := f.seed(t, "sub_1")

	send := func(event string) {
		body := []byte(fmt.Sprintf(`{"event":%q,"payload":{"subscription":{"entity":{"id":"sub_1"}}}}`, event))
		require.NoError(t, f.svc.HandleRazorpay(ctx, body, sign(body), ""))
	}

	send(EventSubscriptionResumed)
	stored, _ := f.subs.FindByID(ctx, sub.ID)
	assert.Equal(t, model.StatusActive, stored.Status)

	send(EventSubscriptionPaused)
	stored, _ = f.subs.FindByID(ctx, sub.ID)
	assert.Equal(t, model.StatusPaused, stored.Status)

	send(EventSubscriptionHalted)
	stored, _ = f.subs.FindByID(ctx, sub.ID)
	assert.Equal(t, model.PaymentStatusFailed, stored.PaymentStatus)

	send(EventSubscriptionCancelled)
	stored, _ = f.subs.FindByID(ctx, sub.ID)
	assert.Equal(t, model.StatusCancelled, stored.Status)

	body := []byte(`{"event":"subscription.paused","payload":{"subscription":{"entity":{"id":"sub_other"}}}}`)
	assert.NoError(t, f.svc.HandleRazorpay(ctx, body, sign(body), ""))

	body = []byte(`{"event":"order.paid","payload":{}}`)
	assert.NoError(t, f.svc.HandleRazorpay(ctx, body, sign(body), ""))
}

func TestMalformedWebhook(t *testing.T) {
	f := newWebhookFixture(t)
	body := []byte(`not json`)
	err := f.svc.HandleRazorpay(context.Background(), body, sign(body), "")
	var vErr *ValidationError
	assert.ErrorAs(t, err, &vErr)
}

func stripeHeader(payload []byte, secret string, ts time.Time) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", ts.Unix(), payload)
	return fmt.Sprintf("t=%d,v1=%s", ts.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

func TestStripeInvoicePaid(t *testing.T) {
	f := newWebhookFixture(t)
	ctx := context.Background()
	sub := f.seed(t, "sub_s1")

	payload := []byte(fmt.Sprintf(`{"id":"evt_s1","object":"event","api_version":%q,"type":"invoice.paid","data":{"object":{"id":"in_1","object":"invoice","subscription":"sub_s1","payment_intent":"pi_1","amount_paid":49900,"lines":{"object":"list","data":[{"id":"il_1","period":{"start":1890000000,"end":1893456000}}]}}}}`, stripe.APIVersion))

	err := f.svc.HandleStripe(ctx, payload, stripeHeader(payload, "wrong", time.Now()))
	assert.ErrorIs(t, err, ErrInvalidSignature)

	require.NoError(t, f.svc.HandleStripe(ctx, payload, stripeHeader(payload, "whsec_stripe", time.Now())))

	stored, err := f.subs.FindByID(ctx, sub.ID)
	require.NoError(t, err)
	require.Len(t, stored.BillingCycles, 1)
	assert.Equal(t, "pi_1", stored.BillingCycles[0].GatewayPaymentID)
	assert.Equal(t, int64(1893456000), stored.NextBillingDate.Unix())
}

func TestStripeSubscriptionDeleted(t *testing.T) {
	f := newWebhookFixture(t)
	ctx := context.Background()
	sub := f.seed(t, "sub_s1")

	payload := []byte(fmt.Sprintf(`{"id":"evt_s2","object":"event","api_version":%q,"type":"customer.subscription.deleted","data":{"object":{"id":"sub_s1","object":"subscription"}}}`, stripe.APIVersion))
	require.NoError(t, f.svc.HandleStripe(ctx, payload, stripeHeader(payload, "whsec_stripe", time.Now())))

	stored, err := f.subs.FindByID(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, stored.Status)
}
