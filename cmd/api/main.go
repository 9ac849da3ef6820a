package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	redisstorage "github.com/gofiber/storage/redis"
	"github.com/redis/go-redis/v9"

	"crate_backend/internal/controller"
	"crate_backend/internal/gateway"
	"crate_backend/internal/middleware"
	"crate_backend/internal/model"
	"crate_backend/internal/repository"
	"crate_backend/internal/service"
	"crate_backend/pkg/config"
	"crate_backend/pkg/cron"
	"crate_backend/pkg/database"
	"crate_backend/pkg/email"
	"crate_backend/pkg/lock"
	"crate_backend/pkg/utils/jwt"
)

func newGateway(cfg *config.Config) (gateway.Gateway, string, error) {
	switch cfg.Billing.Provider {
	case gateway.ProviderStripe:
		gw, err := gateway.NewStripeClient(cfg.Stripe.SecretKey)
		return gw, "", err
	case gateway.ProviderRazorpay:
		gw, err := gateway.NewRazorpayClient(gateway.RazorpayOptions{
			KeyID:      cfg.Razorpay.KeyID,
			KeySecret:  cfg.Razorpay.KeySecret,
			BaseURL:    cfg.Razorpay.BaseURL,
			Timeout:    cfg.Razorpay.Timeout,
			MaxRetries: cfg.Razorpay.MaxRetries,
		})
		return gw, cfg.Razorpay.KeyID, err
	default:
		return nil, "", fmt.Errorf("unknown PAYMENT_PROVIDER %q", cfg.Billing.Provider)
	}
}

// newAuthLimiter keeps counters in redis when available so every instance
// shares the same budget.
func newAuthLimiter(cfg *config.Config) fiber.Handler {
	limitCfg := limiter.Config{
		Max:        cfg.Server.AuthRateLimit,
		Expiration: time.Minute,
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Too many requests, try again later",
			})
		},
	}
	if cfg.Redis.Host != "" {
		limitCfg.Storage = redisstorage.New(redisstorage.Config{
			Host:     cfg.Redis.Host,
			Port:     cfg.Redis.Port,
			Password: cfg.Redis.Password,
			Database: 1,
		})
	}
	return limiter.New(limitCfg)
}

func main() {
	cfg := config.Load()

	db, err := database.Connect(cfg.Database.URL)
	if err != nil {
		log.Fatalf("Could not connect to database: %v", err)
	}
	if err := database.MigrateDatabase(db,
		&model.User{},
		&model.Settings{},
		&model.Subscription{},
		&model.BillingCycle{},
		&model.WebhookEvent{},
	); err != nil {
		log.Warnf("Migration warning: %v", err)
	}

	tokens, err := jwt.NewManager(cfg.JWT.Secret, cfg.JWT.TTL)
	if err != nil {
		log.Fatalf("Could not initialize tokens: %v", err)
	}

	gw, checkoutKey, err := newGateway(cfg)
	if err != nil {
		log.Fatalf("Could not initialize payment gateway: %v", err)
	}

	var locker lock.Locker = lock.NewLocalLocker()
	if cfg.Redis.Host != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
			Password: cfg.Redis.Password,
		})
		defer rdb.Close()
		locker = lock.NewRedisLocker(rdb, time.Minute, 0)
		log.Infof("Using redis locks at %s:%d", cfg.Redis.Host, cfg.Redis.Port)
	}

	users := repository.NewUserRepository(db)
	settings := repository.NewSettingsRepository(db)
	subs := repository.NewSubscriptionRepository(db)
	events := repository.NewWebhookEventRepository(db)

	var notifier service.Notifier = service.NoopNotifier{}
	var emailNotifier *service.EmailNotifier
	if cfg.Email.ResendAPIKey != "" {
		mailer, err := email.NewEmailService(cfg.Email.ResendAPIKey, cfg.Email.From)
		if err != nil {
			log.Fatalf("Could not initialize email service: %v", err)
		}
		emailNotifier = service.NewEmailNotifier(mailer, users, settings, cfg.Billing.Currency)
		notifier = emailNotifier
		log.Info("Email service initialized")
	}

	var google service.GoogleVerifier
	if cfg.Google.ClientID != "" {
		google = service.NewGoogleVerifier(cfg.Google.ClientID)
	}

	subService := service.NewSubscriptionService(subs, users, gw, locker, notifier, service.SubscriptionOptions{
		KeySecret:               cfg.Razorpay.KeySecret,
		Currency:                cfg.Billing.Currency,
		TotalCycles:             cfg.Billing.TotalCycles,
		StrictTotals:            cfg.Billing.StrictTotals,
		BillingPeriod:           cfg.Billing.BillingPeriod,
		MaxRegistrationAttempts: cfg.Billing.RegistrationMaxAttempts,
	})
	webhooks := service.NewWebhookService(subs, events, notifier, service.WebhookOptions{
		RazorpaySecret: cfg.Razorpay.WebhookSecret,
		VerifyRazorpay: cfg.Razorpay.VerifyWebhook,
		StripeSecret:   cfg.Stripe.WebhookSecret,
		BillingPeriod:  cfg.Billing.BillingPeriod,
	})

	scheduler, err := cron.InitSubscriptionCron(cfg.Cron, subService)
	if err != nil {
		log.Fatalf("Could not initialize subscription cron: %v", err)
	}

	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error": err.Error(),
			})
		},
	})

	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: cfg.AllowedOrigins(),
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
	}))

	controller.SetupRoutes(app, controller.Handlers{
		Auth:          controller.NewAuthController(service.NewAuthService(users, tokens, google, notifier)),
		Users:         controller.NewUserController(service.NewUserService(users)),
		Subscriptions: controller.NewSubscriptionController(subService, gw.Name(), checkoutKey),
		Settings:      controller.NewSettingsController(service.NewSettingsService(settings)),
		Webhooks:      controller.NewWebhookController(webhooks),
	}, middleware.AuthMiddleware(tokens), newAuthLimiter(cfg))

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		log.Info("Shutting down")
		<-scheduler.Stop().Done()
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Errorf("Shutdown error: %v", err)
		}
	}()

	log.Infof("Server is running on port %s", cfg.Server.Port)
	if err := app.Listen(":" + cfg.Server.Port); err != nil {
		log.Fatalf("Server stopped: %v", err)
	}

	// let queued emails go out before exiting
	if emailNotifier != nil {
		emailNotifier.Wait()
	}
}
