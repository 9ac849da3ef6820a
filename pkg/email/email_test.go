package email

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEmailServiceRequiresKey(t *testing.T) {
	_, err := NewEmailService("", "from@example.com")
	assert.Error(t, err)
}

func TestRenderChargeReceipt(t *testing.T) {
	s, err := NewEmailService("re_test", "12Crate <noreply@12crate.in>")
	require.NoError(t, err)

	html, err := s.Render("charge_receipt.html", ChargeReceiptData{
		Name:             "Asha",
		SubscriptionName: "Weekly veggies",
		PaymentID:        "pay_1",
		Amount:           499,
		Currency:         "INR",
		Cycle:            2,
		NextBillingDate:  time.Date(2030, 2, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.Contains(t, html, "INR 499.00")
	assert.Contains(t, html, "01 Feb 2030")
	assert.Contains(t, html, "cycle 2")
}

func TestSendPostsToResend(t *testing.T) {
	var got EmailData
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer re_test", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"id":"email_1"}`))
	}))
	defer srv.Close()

	s, err := NewEmailService("re_test", "12Crate <noreply@12crate.in>")
	require.NoError(t, err)
	s.WithEndpoint(srv.URL)

	require.NoError(t, s.SendWelcomeEmail(context.Background(), "asha@example.com", "Asha"))
	assert.Equal(t, "asha@example.com", got.To)
	assert.Equal(t, "12Crate <noreply@12crate.in>", got.From)
	assert.Contains(t, got.Html, "Asha")
}

func TestSendSurfacesProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"message":"invalid from"}`))
	}))
	defer srv.Close()

	s, err := NewEmailService("re_test", "bad")
	require.NoError(t, err)
	s.WithEndpoint(srv.URL)

	err = s.SendPausedSummaryEmail(context.Background(), "asha@example.com", PausedSummaryData{Name: "Asha"})
	assert.ErrorContains(t, err, "invalid from")
}
