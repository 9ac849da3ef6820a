package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crate_backend/internal/model"
	"crate_backend/internal/repository"
	"crate_backend/pkg/email"
)

type fakeMailer struct {
	receipts []email.ChargeReceiptData
	to       []string
}

func (m *fakeMailer) SendWelcomeEmail(context.Context, string, string) error { return nil }
func (m *fakeMailer) SendSubscriptionCreatedEmail(context.Context, string, email.SubscriptionCreatedData) error {
	return nil
}
func (m *fakeMailer) SendPausedSummaryEmail(context.Context, string, email.PausedSummaryData) error {
	return nil
}
func (m *fakeMailer) SendUpcomingChargeEmail(context.Context, string, email.UpcomingChargeData) error {
	return nil
}

func (m *fakeMailer) SendChargeReceiptEmail(_ context.Context, to string, data email.ChargeReceiptData) error {
	m.to = append(m.to, to)
	m.receipts = append(m.receipts, data)
	return nil
}

func TestEmailNotifierHonorsPreference(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	users := repository.NewUserRepository(db)
	settings := repository.NewSettingsRepository(db)
	mailer := &fakeMailer{}
	n := NewEmailNotifier(mailer, users, settings, "INR")

	user := &model.User{FullName: "Asha", Email: "asha@example.com", Password: "x"}
	require.NoError(t, users.Create(ctx, user))

	sub := &model.Subscription{UserID: user.ID, SubscriptionName: "Weekly veggies"}
	cycle := &model.BillingCycle{GatewayPaymentID: "pay_1", Amount: 499, Sequence: 1}

	n.ChargeRecorded(ctx, sub, cycle)
	n.Wait()
	require.Len(t, mailer.receipts, 1)
	assert.Equal(t, "asha@example.com", mailer.to[0])
	assert.Equal(t, "pay_1", mailer.receipts[0].PaymentID)
	assert.Equal(t, "INR", mailer.receipts[0].Currency)

	_, err := settings.UpsertNotificationPreferences(ctx, user.ID, model.NotificationPreferences{Email: false})
	require.NoError(t, err)
	n.ChargeRecorded(ctx, sub, cycle)
	n.Wait()
	assert.Len(t, mailer.receipts, 1)
}

type slowMailer struct {
	fakeMailer
	release     chan struct{}
	ctxErr      error
	hasDeadline bool
}

func (m *slowMailer) SendChargeReceiptEmail(ctx context.Context, to string, data email.ChargeReceiptData) error {
	<-m.release
	m.ctxErr = ctx.Err()
	_, m.hasDeadline = ctx.Deadline()
	return m.fakeMailer.SendChargeReceiptEmail(ctx, to, data)
}

func TestEmailNotifierSendsInBackground(t *testing.T) {
	db := newTestDB(t)
	users := repository.NewUserRepository(db)
	settings := repository.NewSettingsRepository(db)
	mailer := &slowMailer{release: make(chan struct{})}
	n := NewEmailNotifier(mailer, users, settings, "INR")

	user := &model.User{FullName: "Asha", Email: "asha@example.com", Password: "x"}
	require.NoError(t, users.Create(context.Background(), user))

	ctx, cancel := context.WithCancel(context.Background())
	returned := make(chan struct{})
	go func() {
		n.ChargeRecorded(ctx, &model.Subscription{UserID: user.ID, SubscriptionName: "Weekly veggies"},
			&model.BillingCycle{GatewayPaymentID: "pay_1", Amount: 499, Sequence: 1})
		close(returned)
	}()

	select {
	case <-returned:
	case <-time.After(2 * time.Second):
		t.Fatal("ChargeRecorded waited for the mailer")
	}

	// the request finishing must not cancel the send
	cancel()
	close(mailer.release)
	n.Wait()

	assert.NoError(t, mailer.ctxErr)
	assert.True(t, mailer.hasDeadline)
	require.Len(t, mailer.receipts, 1)
	assert.Equal(t, "pay_1", mailer.receipts[0].PaymentID)
}
