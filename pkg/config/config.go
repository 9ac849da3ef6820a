package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	JWT      JWTConfig
	Razorpay RazorpayConfig
	Stripe   StripeConfig
	Google   GoogleConfig
	Redis    RedisConfig
	Email    EmailConfig
	Cron     CronConfig
	Billing  BillingConfig
}

type ServerConfig struct {
	Port           string
	AllowedOrigins string
	AuthRateLimit  int
}

type DatabaseConfig struct {
	URL string
}

type JWTConfig struct {
	Secret string
	TTL    time.Duration
}

type RazorpayConfig struct {
	KeyID         string
	KeySecret     string
	WebhookSecret string
	VerifyWebhook bool
	BaseURL       string
	Timeout       time.Duration
	MaxRetries    uint64
}

type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
}

type GoogleConfig struct {
	ClientID string
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
}

type EmailConfig struct {
	ResendAPIKey string
	From         string
}

type CronConfig struct {
	RegistrationSweep string
	ChargeReminder    string
	ReminderDays      int
}

// BillingConfig holds the business rules applied to subscriptions.
type BillingConfig struct {
	Provider                string
	Currency                string
	TotalCycles             int
	StrictTotals            bool
	BillingPeriod           time.Duration
	RegistrationMaxAttempts int // caps automatic registration retries
}

func Load() *Config {
	godotenv.Load() // optional .env

	return &Config{
		Server: ServerConfig{
			Port:           getEnv("PORT", "5000"),
			AllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "https://www.12crate.in,http://localhost:8080"),
			AuthRateLimit:  getEnvInt("AUTH_RATE_LIMIT", 20),
		},
		Database: DatabaseConfig{
			URL: getEnv("DATABASE_URL", ""),
		},
		JWT: JWTConfig{
			Secret: getEnv("JWT_SECRET", ""),
			TTL:    getEnvDuration("JWT_TTL", 24*time.Hour),
		},
		Razorpay: RazorpayConfig{
			KeyID:         getEnv("RAZORPAY_KEY_ID", ""),
			KeySecret:     getEnv("RAZORPAY_KEY_SECRET", ""),
			WebhookSecret: getEnv("RAZORPAY_WEBHOOK_SECRET", ""),
			VerifyWebhook: getEnvBool("RAZORPAY_WEBHOOK_VERIFY", true),
			BaseURL:       getEnv("RAZORPAY_BASE_URL", "https://api.razorpay.com/v1"),
			Timeout:       getEnvDuration("RAZORPAY_TIMEOUT", 15*time.Second),
			MaxRetries:    uint64(getEnvInt("RAZORPAY_MAX_RETRIES", 3)),
		},
		Stripe: StripeConfig{
			SecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
			WebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),
		},
		Google: GoogleConfig{
			ClientID: getEnv("GOOGLE_CLIENT_ID", ""),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", ""),
			Port:     getEnvInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
		},
		Email: EmailConfig{
			ResendAPIKey: getEnv("RESEND_API_KEY", ""),
			From:         getEnv("EMAIL_FROM", "12Crate <noreply@12crate.in>"),
		},
		Cron: CronConfig{
			RegistrationSweep: getEnv("CRON_REGISTRATION_SWEEP", "*/10 * * * *"),
			ChargeReminder:    getEnv("CRON_CHARGE_REMINDER", "0 9 * * *"),
			ReminderDays:      getEnvInt("CHARGE_REMINDER_DAYS", 3),
		},
		Billing: BillingConfig{
			Provider:                strings.ToLower(getEnv("PAYMENT_PROVIDER", "razorpay")),
			Currency:                getEnv("BILLING_CURRENCY", "INR"),
			TotalCycles:             getEnvInt("BILLING_TOTAL_CYCLES", 12),
			StrictTotals:            getEnvBool("STRICT_TOTALS", true),
			BillingPeriod:           30 * 24 * time.Hour,
			RegistrationMaxAttempts: getEnvInt("REGISTRATION_MAX_ATTEMPTS", 5),
		},
	}
}

// AllowedOrigins returns the CORS origin list in the comma separated form fiber expects.
func (c *Config) AllowedOrigins() string {
	parts := strings.Split(c.Server.AllowedOrigins, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, ",")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if v, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return v
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if v, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return v
	}
	return defaultValue
}
