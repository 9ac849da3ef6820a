package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gofiber/fiber/v2/log"
)

const defaultRazorpayBaseURL = "https://api.razorpay.com/v1"

type RazorpayOptions struct {
	KeyID      string
	KeySecret  string
	BaseURL    string
	Timeout    time.Duration
	MaxRetries uint64
	// InitialInterval is the first retry delay; later delays grow exponentially.
	InitialInterval time.Duration
	HTTPClient      *http.Client
}

// RazorpayClient is a REST client for the plans, subscriptions, orders and
// payments APIs.
type RazorpayClient struct {
	keyID      string
	keySecret  string
	baseURL    string
	timeout    time.Duration
	maxRetries uint64
	interval   time.Duration
	httpClient *http.Client
}

func NewRazorpayClient(opts RazorpayOptions) (*RazorpayClient, error) {
	if strings.TrimSpace(opts.KeyID) == "" || strings.TrimSpace(opts.KeySecret) == "" {
		return nil, errors.New("RAZORPAY_KEY_ID/RAZORPAY_KEY_SECRET are not configured")
	}
	c := &RazorpayClient{
		keyID:      opts.KeyID,
		keySecret:  opts.KeySecret,
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		timeout:    opts.Timeout,
		maxRetries: opts.MaxRetries,
		interval:   opts.InitialInterval,
		httpClient: opts.HTTPClient,
	}
	if c.baseURL == "" {
		c.baseURL = defaultRazorpayBaseURL
	}
	if c.timeout <= 0 {
		c.timeout = 15 * time.Second
	}
	if c.interval <= 0 {
		c.interval = 500 * time.Millisecond
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{}
	}
	return c, nil
}

func (c *RazorpayClient) Name() string { return ProviderRazorpay }

type razorpayErrorBody struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

type razorpayPlan struct {
	ID string `json:"id"`
}

type razorpaySubscription struct {
	ID       string `json:"id"`
	PlanID   string `json:"plan_id"`
	Status   string `json:"status"`
	ShortURL string `json:"short_url"`
	ChargeAt *int64 `json:"charge_at"`
}

func (s razorpaySubscription) toSubscription() *Subscription {
	out := &Subscription{ID: s.ID, PlanID: s.PlanID, Status: s.Status, ShortURL: s.ShortURL}
	if s.ChargeAt != nil && *s.ChargeAt > 0 {
		t := time.Unix(*s.ChargeAt, 0).UTC()
		out.ChargeAt = &t
	}
	return out
}

type razorpayOrder struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
}

type razorpayPayment struct {
	ID      string `json:"id"`
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
	Amount  int64  `json:"amount"`
	TokenID string `json:"token_id"`
}

func (c *RazorpayClient) CreatePlan(ctx context.Context, req PlanRequest) (*Plan, error) {
	body := map[string]interface{}{
		"period":   req.Period,
		"interval": req.Interval,
		"item": map[string]interface{}{
			"name":     req.Name,
			"amount":   req.Amount,
			"currency": req.Currency,
		},
	}
	if len(req.Notes) > 0 {
		body["notes"] = req.Notes
	}

	var out razorpayPlan
	if err := c.do(ctx, "create plan", http.MethodPost, "/plans", body, &out); err != nil {
		return nil, err
	}
	return &Plan{ID: out.ID}, nil
}

func (c *RazorpayClient) CreateSubscription(ctx context.Context, req SubscriptionRequest) (*Subscription, error) {
	notify := 0
	if req.CustomerNotify {
		notify = 1
	}
	body := map[string]interface{}{
		"plan_id":         req.PlanID,
		"total_count":     req.TotalCount,
		"quantity":        req.Quantity,
		"customer_notify": notify,
	}
	if req.StartAt != nil {
		body["start_at"] = req.StartAt.Unix()
	}
	if len(req.Notes) > 0 {
		body["notes"] = req.Notes
	}

	var out razorpaySubscription
	if err := c.do(ctx, "create subscription", http.MethodPost, "/subscriptions", body, &out); err != nil {
		return nil, err
	}
	return out.toSubscription(), nil
}

func (c *RazorpayClient) FetchSubscription(ctx context.Context, id string) (*Subscription, error) {
	var out razorpaySubscription
	if err := c.do(ctx, "fetch subscription", http.MethodGet, "/subscriptions/"+id, nil, &out); err != nil {
		return nil, err
	}
	return out.toSubscription(), nil
}

func (c *RazorpayClient) PauseSubscription(ctx context.Context, id string) (*Subscription, error) {
	body := map[string]interface{}{"pause_at": "now"}
	var out razorpaySubscription
	if err := c.do(ctx, "pause subscription", http.MethodPost, "/subscriptions/"+id+"/pause", body, &out); err != nil {
		return nil, err
	}
	return out.toSubscription(), nil
}

func (c *RazorpayClient) CreateOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	body := map[string]interface{}{
		"amount":          req.Amount,
		"currency":        req.Currency,
		"receipt":         req.Receipt,
		"payment_capture": 1,
	}
	if len(req.Notes) > 0 {
		body["notes"] = req.Notes
	}

	var out razorpayOrder
	if err := c.do(ctx, "create order", http.MethodPost, "/orders", body, &out); err != nil {
		return nil, err
	}
	return &Order{ID: out.ID, Amount: out.Amount, Currency: out.Currency, Receipt: out.Receipt}, nil
}

func (c *RazorpayClient) FetchPayment(ctx context.Context, id string) (*Payment, error) {
	var out razorpayPayment
	if err := c.do(ctx, "fetch payment", http.MethodGet, "/payments/"+id, nil, &out); err != nil {
		return nil, err
	}
	return &Payment{ID: out.ID, OrderID: out.OrderID, Status: out.Status, Amount: out.Amount, TokenID: out.TokenID}, nil
}

// do sends one API call, retrying transport failures, 429 and 5xx with
// exponential backoff. Any other 4xx is returned immediately.
func (c *RazorpayClient) do(ctx context.Context, op, method, path string, in, out interface{}) error {
	var payload []byte
	if in != nil {
		var err error
		if payload, err = json.Marshal(in); err != nil {
			return fmt.Errorf("%s: marshal request: %w", op, err)
		}
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.interval
	policy.MaxInterval = 10 * c.interval
	retry := backoff.WithContext(backoff.WithMaxRetries(policy, c.maxRetries), ctx)

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := c.attempt(ctx, op, method, path, payload, out)
		if err == nil {
			return nil
		}
		var gwErr *Error
		if errors.As(err, &gwErr) && gwErr.Retryable() {
			log.Warnf("razorpay %s attempt %d failed: %v", op, attempt, err)
			return err
		}
		return backoff.Permanent(err)
	}, retry)
}

func (c *RazorpayClient) attempt(ctx context.Context, op, method, path string, payload []byte, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	req.SetBasicAuth(c.keyID, c.keySecret)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &Error{Op: op, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &Error{Op: op, StatusCode: resp.StatusCode, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		gwErr := &Error{Op: op, StatusCode: resp.StatusCode}
		var eb razorpayErrorBody
		if json.Unmarshal(respBody, &eb) == nil {
			gwErr.Code = eb.Error.Code
			gwErr.Description = eb.Error.Description
		}
		if gwErr.Description == "" {
			gwErr.Description = fmt.Sprintf("status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(respBody)))
		}
		return gwErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}
