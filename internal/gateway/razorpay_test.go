package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRazorpay(t *testing.T, handler http.HandlerFunc) *RazorpayClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewRazorpayClient(RazorpayOptions{
		KeyID:           "rzp_test_key",
		KeySecret:       "secret",
		BaseURL:         srv.URL,
		Timeout:         2 * time.Second,
		MaxRetries:      3,
		InitialInterval: time.Millisecond,
	})
	require.NoError(t, err)
	return c
}

func TestNewRazorpayClientRequiresKeys(t *testing.T) {
	_, err := NewRazorpayClient(RazorpayOptions{KeyID: "id"})
	assert.Error(t, err)
}

func TestCreatePlanSendsItem(t *testing.T) {
	c := newTestRazorpay(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/plans", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "rzp_test_key", user)
		assert.Equal(t, "secret", pass)

		var body map[string]interface{}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "monthly", body["period"])
		assert.EqualValues(t, 1, body["interval"])
		item := body["item"].(map[string]interface{})
		assert.EqualValues(t, 49900, item["amount"])
		assert.Equal(t, "INR", item["currency"])
		assert.Equal(t, "Weekly veggies", item["name"])

		w.Write([]byte(`{"id":"plan_123"}`))
	})

	plan, err := c.CreatePlan(context.Background(), PlanRequest{
		Period: "monthly", Interval: 1, Name: "Weekly veggies", Amount: 49900, Currency: "INR",
	})
	require.NoError(t, err)
	assert.Equal(t, "plan_123", plan.ID)
}

func TestCreateSubscriptionParsesChargeAt(t *testing.T) {
	start := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	c := newTestRazorpay(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "plan_123", body["plan_id"])
		assert.EqualValues(t, 12, body["total_count"])
		assert.EqualValues(t, 1, body["quantity"])
		assert.EqualValues(t, 1, body["customer_notify"])
		assert.EqualValues(t, start.Unix(), body["start_at"])
		notes := body["notes"].(map[string]interface{})
		assert.Equal(t, "local-1", notes["subscriptionId"])

		w.Write([]byte(`{"id":"sub_123","status":"created","short_url":"https://rzp.io/i/abc","charge_at":1893456000}`))
	})

	sub, err := c.CreateSubscription(context.Background(), SubscriptionRequest{
		PlanID: "plan_123", TotalCount: 12, Quantity: 1, CustomerNotify: true,
		StartAt: &start, Notes: map[string]string{"subscriptionId": "local-1"},
	})
	require.NoError(t, err)
	assert.Equal(t, "sub_123", sub.ID)
	assert.Equal(t, "https://rzp.io/i/abc", sub.ShortURL)
	require.NotNil(t, sub.ChargeAt)
	assert.Equal(t, int64(1893456000), sub.ChargeAt.Unix())
}

func TestClientErrorIsNotRetried(t *testing.T) {
	var calls int32
	c := newTestRazorpay(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"code":"BAD_REQUEST_ERROR","description":"The amount must be atleast INR 1.00"}}`))
	})

	_, err := c.CreateOrder(context.Background(), OrderRequest{Amount: 10, Currency: "INR", Receipt: "rcpt_1"})
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	var gwErr *Error
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, http.StatusBadRequest, gwErr.StatusCode)
	assert.Equal(t, "BAD_REQUEST_ERROR", gwErr.Code)
	assert.Equal(t, "The amount must be atleast INR 1.00", Message(err))
}

func TestServerErrorIsRetried(t *testing.T) {
	var calls int32
	c := newTestRazorpay(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"id":"pay_1","order_id":"order_1","status":"captured","amount":49900,"token_id":"token_1"}`))
	})

	payment, err := c.FetchPayment(context.Background(), "pay_1")
	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	assert.Equal(t, "token_1", payment.TokenID)
	assert.Equal(t, "order_1", payment.OrderID)
}

func TestRetriesAreBounded(t *testing.T) {
	var calls int32
	c := newTestRazorpay(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := c.FetchSubscription(context.Background(), "sub_1")
	require.Error(t, err)
	assert.Equal(t, int32(4), atomic.LoadInt32(&calls))
}

func TestPauseSubscription(t *testing.T) {
	c := newTestRazorpay(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/subscriptions/sub_9/pause", r.URL.Path)
		var body map[string]interface{}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "now", body["pause_at"])
		w.Write([]byte(`{"id":"sub_9","status":"paused"}`))
	})

	sub, err := c.PauseSubscription(context.Background(), "sub_9")
	require.NoError(t, err)
	assert.Equal(t, "paused", sub.Status)
	assert.Nil(t, sub.ChargeAt)
}

func TestErrorRetryable(t *testing.T) {
	assert.True(t, (&Error{StatusCode: 503}).Retryable())
	assert.True(t, (&Error{StatusCode: 429}).Retryable())
	assert.False(t, (&Error{StatusCode: 404}).Retryable())
	assert.False(t, (&Error{Err: context.Canceled}).Retryable())
}
