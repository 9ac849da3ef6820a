package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v74"
)

func newTestStripe(t *testing.T, handler http.HandlerFunc) *StripeClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		URL:               stripe.String(srv.URL),
		MaxNetworkRetries: stripe.Int64(0),
	})
	return NewStripeClientWithBackends("sk_test_123", &stripe.Backends{API: backend})
}

func TestStripeCreatePlanCreatesRecurringPrice(t *testing.T) {
	c := newTestStripe(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/prices", r.URL.Path)
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "inr", r.PostForm.Get("currency"))
		assert.Equal(t, "49900", r.PostForm.Get("unit_amount"))
		assert.Equal(t, "month", r.PostForm.Get("recurring[interval]"))
		assert.Equal(t, "Weekly veggies", r.PostForm.Get("product_data[name]"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"price_123","object":"price"}`))
	})

	plan, err := c.CreatePlan(context.Background(), PlanRequest{
		Period: "monthly", Interval: 1, Name: "Weekly veggies", Amount: 49900, Currency: "INR",
	})
	require.NoError(t, err)
	assert.Equal(t, "price_123", plan.ID)
}

func TestStripeErrorsAreTyped(t *testing.T) {
	c := newTestStripe(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":{"type":"invalid_request_error","code":"resource_missing","message":"No such subscription: 'sub_x'"}}`))
	})

	_, err := c.PauseSubscription(context.Background(), "sub_x")
	require.Error(t, err)

	var gwErr *Error
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, http.StatusNotFound, gwErr.StatusCode)
	assert.Equal(t, "No such subscription: 'sub_x'", gwErr.Description)
	assert.False(t, gwErr.Retryable())
}
