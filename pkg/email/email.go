package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2/log"
)

const defaultResendURL = "https://api.resend.com/emails"

type EmailService struct {
	apiKey     string
	from       string
	endpoint   string
	httpClient *http.Client
	templates  *template.Template
}

type EmailData struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	Html    string `json:"html"`
}

// Template data structures
type WelcomeEmailData struct {
	Name string
}

type LineItemData struct {
	Name     string
	Quantity int
	Unit     string
	Price    float64
}

type SubscriptionCreatedData struct {
	Name             string
	SubscriptionName string
	Items            []LineItemData
	GrandTotal       float64
	Currency         string
	NextBillingDate  time.Time
	CheckoutURL      string
}

type ChargeReceiptData struct {
	Name             string
	SubscriptionName string
	PaymentID        string
	Amount           float64
	Currency         string
	Cycle            int
	NextBillingDate  time.Time
}

type PausedSubscriptionData struct {
	SubscriptionName string
	Paused           bool
	Error            string
}

type PausedSummaryData struct {
	Name          string
	Subscriptions []PausedSubscriptionData
}

type UpcomingChargeData struct {
	Name             string
	SubscriptionName string
	Amount           float64
	Currency         string
	ChargeDate       time.Time
	DaysLeft         int
}

func NewEmailService(apiKey, from string) (*EmailService, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("resend API key is required")
	}

	templates, err := loadTemplates()
	if err != nil {
		return nil, fmt.Errorf("error loading email templates: %w", err)
	}

	return &EmailService{
		apiKey:     apiKey,
		from:       from,
		endpoint:   defaultResendURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		templates:  templates,
	}, nil
}

// WithEndpoint points the service at another Resend compatible endpoint.
func (s *EmailService) WithEndpoint(endpoint string) *EmailService {
	s.endpoint = endpoint
	return s
}

// Render executes a named template into HTML.
func (s *EmailService) Render(templateName string, data interface{}) (string, error) {
	var body bytes.Buffer
	if err := s.templates.ExecuteTemplate(&body, templateName, data); err != nil {
		return "", fmt.Errorf("template execution error: %w", err)
	}
	return body.String(), nil
}

func (s *EmailService) sendTemplateEmail(ctx context.Context, to, subject, templateName string, data interface{}) error {
	html, err := s.Render(templateName, data)
	if err != nil {
		return err
	}

	jsonData, err := json.Marshal(EmailData{
		From:    s.from,
		To:      to,
		Subject: subject,
		Html:    html,
	})
	if err != nil {
		return fmt.Errorf("error marshaling email data: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("error sending email: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return fmt.Errorf("error reading response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("resend API error: status=%d body=%s", resp.StatusCode, string(respBody))
	}

	log.Infof("Sent %s to %s", templateName, to)
	return nil
}

func (s *EmailService) SendWelcomeEmail(ctx context.Context, email, name string) error {
	return s.sendTemplateEmail(ctx, email, "Welcome to 12Crate!", "welcome.html", WelcomeEmailData{Name: name})
}

func (s *EmailService) SendSubscriptionCreatedEmail(ctx context.Context, email string, data SubscriptionCreatedData) error {
	subject := fmt.Sprintf("Your crate \"%s\" is set up", data.SubscriptionName)
	return s.sendTemplateEmail(ctx, email, subject, "subscription_created.html", data)
}

func (s *EmailService) SendChargeReceiptEmail(ctx context.Context, email string, data ChargeReceiptData) error {
	subject := fmt.Sprintf("Payment received for %s", data.SubscriptionName)
	return s.sendTemplateEmail(ctx, email, subject, "charge_receipt.html", data)
}

func (s *EmailService) SendPausedSummaryEmail(ctx context.Context, email string, data PausedSummaryData) error {
	return s.sendTemplateEmail(ctx, email, "Your crates are paused", "subscriptions_paused.html", data)
}

func (s *EmailService) SendUpcomingChargeEmail(ctx context.Context, email string, data UpcomingChargeData) error {
	subject := fmt.Sprintf("Your %s crate renews in %d days", data.SubscriptionName, data.DaysLeft)
	return s.sendTemplateEmail(ctx, email, subject, "upcoming_charge.html", data)
}
