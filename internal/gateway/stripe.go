package gateway

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/client"
)

// StripeClient maps the workflow onto prices, subscriptions and payment
// intents. Plans become recurring prices and orders become payment intents.
type StripeClient struct {
	api *client.API
}

func NewStripeClient(secretKey string) (*StripeClient, error) {
	if strings.TrimSpace(secretKey) == "" {
		return nil, errors.New("STRIPE_SECRET_KEY is not configured")
	}
	api := &client.API{}
	api.Init(secretKey, nil)
	return &StripeClient{api: api}, nil
}

// NewStripeClientWithBackends is used by tests to point the client at a fake server.
func NewStripeClientWithBackends(secretKey string, backends *stripe.Backends) *StripeClient {
	api := &client.API{}
	api.Init(secretKey, backends)
	return &StripeClient{api: api}
}

func (c *StripeClient) Name() string { return ProviderStripe }

func stripeInterval(period string) string {
	switch period {
	case "daily":
		return string(stripe.PriceRecurringIntervalDay)
	case "weekly":
		return string(stripe.PriceRecurringIntervalWeek)
	case "yearly":
		return string(stripe.PriceRecurringIntervalYear)
	default:
		return string(stripe.PriceRecurringIntervalMonth)
	}
}

func (c *StripeClient) CreatePlan(ctx context.Context, req PlanRequest) (*Plan, error) {
	params := &stripe.PriceParams{
		Currency:   stripe.String(strings.ToLower(req.Currency)),
		UnitAmount: stripe.Int64(req.Amount),
		Recurring: &stripe.PriceRecurringParams{
			Interval:      stripe.String(stripeInterval(req.Period)),
			IntervalCount: stripe.Int64(int64(req.Interval)),
		},
		ProductData: &stripe.PriceProductDataParams{
			Name: stripe.String(req.Name),
		},
	}
	params.Context = ctx
	for k, v := range req.Notes {
		params.AddMetadata(k, v)
	}

	price, err := c.api.Prices.New(params)
	if err != nil {
		return nil, stripeError("create plan", err)
	}
	return &Plan{ID: price.ID}, nil
}

func (c *StripeClient) CreateSubscription(ctx context.Context, req SubscriptionRequest) (*Subscription, error) {
	customerParams := &stripe.CustomerParams{}
	customerParams.Context = ctx
	if req.CustomerEmail != "" {
		customerParams.Email = stripe.String(req.CustomerEmail)
	}
	for k, v := range req.Notes {
		customerParams.AddMetadata(k, v)
	}
	cust, err := c.api.Customers.New(customerParams)
	if err != nil {
		return nil, stripeError("create customer", err)
	}

	params := &stripe.SubscriptionParams{
		Customer: stripe.String(cust.ID),
		Items: []*stripe.SubscriptionItemsParams{
			{
				Price:    stripe.String(req.PlanID),
				Quantity: stripe.Int64(int64(req.Quantity)),
			},
		},
		PaymentBehavior: stripe.String("default_incomplete"),
	}
	params.Context = ctx
	if req.StartAt != nil {
		params.BillingCycleAnchor = stripe.Int64(req.StartAt.Unix())
	}
	for k, v := range req.Notes {
		params.AddMetadata(k, v)
	}
	params.AddExpand("latest_invoice")

	sub, err := c.api.Subscriptions.New(params)
	if err != nil {
		return nil, stripeError("create subscription", err)
	}
	return fromStripeSubscription(sub), nil
}

func (c *StripeClient) FetchSubscription(ctx context.Context, id string) (*Subscription, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	params.AddExpand("latest_invoice")

	sub, err := c.api.Subscriptions.Get(id, params)
	if err != nil {
		return nil, stripeError("fetch subscription", err)
	}
	return fromStripeSubscription(sub), nil
}

func (c *StripeClient) PauseSubscription(ctx context.Context, id string) (*Subscription, error) {
	params := &stripe.SubscriptionParams{
		PauseCollection: &stripe.SubscriptionPauseCollectionParams{
			Behavior: stripe.String(string(stripe.SubscriptionPauseCollectionBehaviorVoid)),
		},
	}
	params.Context = ctx

	sub, err := c.api.Subscriptions.Update(id, params)
	if err != nil {
		return nil, stripeError("pause subscription", err)
	}
	return fromStripeSubscription(sub), nil
}

func (c *StripeClient) CreateOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	params := &stripe.PaymentIntentParams{
		Amount:           stripe.Int64(req.Amount),
		Currency:         stripe.String(strings.ToLower(req.Currency)),
		Description:      stripe.String(req.Receipt),
		SetupFutureUsage: stripe.String(string(stripe.PaymentIntentSetupFutureUsageOffSession)),
	}
	params.Context = ctx
	for k, v := range req.Notes {
		params.AddMetadata(k, v)
	}

	pi, err := c.api.PaymentIntents.New(params)
	if err != nil {
		return nil, stripeError("create order", err)
	}
	return &Order{ID: pi.ID, Amount: pi.Amount, Currency: strings.ToUpper(string(pi.Currency)), Receipt: req.Receipt}, nil
}

func (c *StripeClient) FetchPayment(ctx context.Context, id string) (*Payment, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx

	pi, err := c.api.PaymentIntents.Get(id, params)
	if err != nil {
		return nil, stripeError("fetch payment", err)
	}
	out := &Payment{ID: pi.ID, OrderID: pi.ID, Status: string(pi.Status), Amount: pi.Amount}
	if pi.PaymentMethod != nil {
		out.TokenID = pi.PaymentMethod.ID
	}
	return out, nil
}

func fromStripeSubscription(sub *stripe.Subscription) *Subscription {
	out := &Subscription{ID: sub.ID, Status: string(sub.Status)}
	if sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0].Price != nil {
		out.PlanID = sub.Items.Data[0].Price.ID
	}
	if sub.LatestInvoice != nil {
		out.ShortURL = sub.LatestInvoice.HostedInvoiceURL
	}
	if sub.CurrentPeriodEnd > 0 {
		t := time.Unix(sub.CurrentPeriodEnd, 0).UTC()
		out.ChargeAt = &t
	}
	return out
}

func stripeError(op string, err error) error {
	var se *stripe.Error
	if errors.As(err, &se) {
		return &Error{
			Op:          op,
			StatusCode:  se.HTTPStatusCode,
			Code:        string(se.Code),
			Description: se.Msg,
			Err:         err,
		}
	}
	return &Error{Op: op, Err: err}
}
