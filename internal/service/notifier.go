package service

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"crate_backend/internal/model"
	"crate_backend/internal/repository"
	"crate_backend/pkg/email"
)

// Notifier sends customer facing messages. Implementations log failures and
// never return them, so a lost email never fails a billing operation.
type Notifier interface {
	Welcome(ctx context.Context, user *model.User)
	SubscriptionCreated(ctx context.Context, sub *model.Subscription)
	ChargeRecorded(ctx context.Context, sub *model.Subscription, cycle *model.BillingCycle)
	SubscriptionsPaused(ctx context.Context, userID string, results []PauseResult)
	UpcomingCharge(ctx context.Context, sub *model.Subscription, daysLeft int)
}

// Mailer is the subset of the email service used for notifications.
type Mailer interface {
	SendWelcomeEmail(ctx context.Context, to, name string) error
	SendSubscriptionCreatedEmail(ctx context.Context, to string, data email.SubscriptionCreatedData) error
	SendChargeReceiptEmail(ctx context.Context, to string, data email.ChargeReceiptData) error
	SendPausedSummaryEmail(ctx context.Context, to string, data email.PausedSummaryData) error
	SendUpcomingChargeEmail(ctx context.Context, to string, data email.UpcomingChargeData) error
}

type NoopNotifier struct{}

func (NoopNotifier) Welcome(context.Context, *model.User)                                    {}
func (NoopNotifier) SubscriptionCreated(context.Context, *model.Subscription)                {}
func (NoopNotifier) ChargeRecorded(context.Context, *model.Subscription, *model.BillingCycle) {}
func (NoopNotifier) SubscriptionsPaused(context.Context, string, []PauseResult)              {}
func (NoopNotifier) UpcomingCharge(context.Context, *model.Subscription, int)                {}

const notifyTimeout = 30 * time.Second

// EmailNotifier emails users whose email preference is on. Sends run in the
// background and return to the caller immediately; Wait drains them.
type EmailNotifier struct {
	mailer   Mailer
	users    repository.UserRepository
	settings repository.SettingsRepository
	currency string
	timeout  time.Duration
	wg       sync.WaitGroup
}

func NewEmailNotifier(mailer Mailer, users repository.UserRepository, settings repository.SettingsRepository, currency string) *EmailNotifier {
	return &EmailNotifier{mailer: mailer, users: users, settings: settings, currency: currency, timeout: notifyTimeout}
}

// dispatch runs send on a context detached from the caller's cancellation
// and bounded by n.timeout.
func (n *EmailNotifier) dispatch(ctx context.Context, send func(ctx context.Context)) {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.timeout)
		defer cancel()
		send(ctx)
	}()
}

// Wait blocks until every dispatched notification has finished.
func (n *EmailNotifier) Wait() {
	n.wg.Wait()
}

// recipient resolves the user and reports whether they accept email.
func (n *EmailNotifier) recipient(ctx context.Context, userID string) (*model.User, bool) {
	prefs, err := n.settings.GetOrCreate(ctx, userID)
	if err != nil {
		log.Warnf("notify: settings lookup for %s failed: %v", userID, err)
		return nil, false
	}
	if !prefs.NotificationPreferences.Email {
		return nil, false
	}
	user, err := n.users.FindByID(ctx, userID)
	if err != nil {
		log.Warnf("notify: user lookup for %s failed: %v", userID, err)
		return nil, false
	}
	return user, true
}

func (n *EmailNotifier) Welcome(ctx context.Context, user *model.User) {
	to, name := user.Email, user.FullName
	n.dispatch(ctx, func(ctx context.Context) {
		if err := n.mailer.SendWelcomeEmail(ctx, to, name); err != nil {
			log.Errorf("Could not send welcome email: %v", err)
		}
	})
}

func (n *EmailNotifier) SubscriptionCreated(ctx context.Context, sub *model.Subscription) {
	sub = cloneSubscription(sub)
	n.dispatch(ctx, func(ctx context.Context) {
		user, ok := n.recipient(ctx, sub.UserID)
		if !ok {
			return
		}
		items := make([]email.LineItemData, 0, len(sub.Items))
		for _, it := range sub.Items {
			items = append(items, email.LineItemData{Name: it.Name, Quantity: it.Quantity, Unit: it.Unit, Price: it.Price})
		}
		err := n.mailer.SendSubscriptionCreatedEmail(ctx, user.Email, email.SubscriptionCreatedData{
			Name:             user.FullName,
			SubscriptionName: sub.SubscriptionName,
			Items:            items,
			GrandTotal:       sub.GrandTotal,
			Currency:         n.currency,
			NextBillingDate:  sub.NextBillingDate,
			CheckoutURL:      sub.CheckoutURL,
		})
		if err != nil {
			log.Errorf("Could not send subscription email: %v", err)
		}
	})
}

func (n *EmailNotifier) ChargeRecorded(ctx context.Context, sub *model.Subscription, cycle *model.BillingCycle) {
	sub, c := cloneSubscription(sub), *cycle
	cycle = &c
	n.dispatch(ctx, func(ctx context.Context) {
		user, ok := n.recipient(ctx, sub.UserID)
		if !ok {
			return
		}
		err := n.mailer.SendChargeReceiptEmail(ctx, user.Email, email.ChargeReceiptData{
			Name:             user.FullName,
			SubscriptionName: sub.SubscriptionName,
			PaymentID:        cycle.GatewayPaymentID,
			Amount:           cycle.Amount,
			Currency:         n.currency,
			Cycle:            cycle.Sequence,
			NextBillingDate:  cycle.NextBillingDate,
		})
		if err != nil {
			log.Errorf("Could not send charge receipt: %v", err)
		}
	})
}

func (n *EmailNotifier) SubscriptionsPaused(ctx context.Context, userID string, results []PauseResult) {
	results = append([]PauseResult(nil), results...)
	n.dispatch(ctx, func(ctx context.Context) {
		user, ok := n.recipient(ctx, userID)
		if !ok {
			return
		}
		data := email.PausedSummaryData{Name: user.FullName}
		for _, r := range results {
			data.Subscriptions = append(data.Subscriptions, email.PausedSubscriptionData{
				SubscriptionName: r.SubscriptionName,
				Paused:           r.Paused,
				Error:            r.Error,
			})
		}
		if err := n.mailer.SendPausedSummaryEmail(ctx, user.Email, data); err != nil {
			log.Errorf("Could not send pause summary: %v", err)
		}
	})
}

func (n *EmailNotifier) UpcomingCharge(ctx context.Context, sub *model.Subscription, daysLeft int) {
	sub = cloneSubscription(sub)
	n.dispatch(ctx, func(ctx context.Context) {
		user, ok := n.recipient(ctx, sub.UserID)
		if !ok {
			return
		}
		err := n.mailer.SendUpcomingChargeEmail(ctx, user.Email, email.UpcomingChargeData{
			Name:             user.FullName,
			SubscriptionName: sub.SubscriptionName,
			Amount:           sub.GrandTotal,
			Currency:         n.currency,
			ChargeDate:       sub.NextBillingDate,
			DaysLeft:         daysLeft,
		})
		if err != nil {
			log.Errorf("Could not send upcoming charge reminder: %v", err)
		}
	})
}

func cloneSubscription(sub *model.Subscription) *model.Subscription {
	c := *sub
	c.BillingCycles = nil
	return &c
}
