package controller

import (
	"github.com/gofiber/fiber/v2"
)

type Handlers struct {
	Auth          *AuthController
	Users         *UserController
	Subscriptions *SubscriptionController
	Settings      *SettingsController
	Webhooks      *WebhookController
}

// SetupRoutes mounts the API. authLimiter may be nil.
func SetupRoutes(app *fiber.App, h Handlers, requireAuth, authLimiter fiber.Handler) {
	api := app.Group("/api")

	// Auth Routes
	auth := api.Group("/auth")
	if authLimiter != nil {
		auth.Use(authLimiter)
	}
	auth.Post("/signup", h.Auth.Signup)
	auth.Post("/login", h.Auth.Login)
	auth.Post("/google", h.Auth.GoogleLogin)

	user := api.Group("/user", requireAuth)
	user.Get("/me", h.Users.GetMe)
	user.Put("/profile", h.Users.UpdateProfile)

	// verify-payment is called from the checkout callback and carries no token
	api.Post("/subscriptions/verify-payment", h.Subscriptions.VerifyPayment)

	subscriptions := api.Group("/subscriptions", requireAuth)
	subscriptions.Post("/", h.Subscriptions.CreateSubscription)
	subscriptions.Get("/", h.Subscriptions.ListSubscriptions)
	subscriptions.Post("/:id/register", h.Subscriptions.RegisterSubscription)

	api.Post("/recurring-order", requireAuth, h.Subscriptions.CreateRecurringOrder)
	api.Post("/recurring-verify", requireAuth, h.Subscriptions.VerifyRecurringOrder)
	api.Post("/pause", requireAuth, h.Subscriptions.PauseSubscriptions)

	settings := api.Group("/settings", requireAuth)
	settings.Get("/", h.Settings.GetSettings)
	settings.Put("/notifications", h.Settings.UpdateNotifications)
	settings.Put("/delivery-address", h.Settings.SaveDeliveryAddress)

	// Provider webhooks
	api.Post("/webhook", h.Webhooks.HandleRazorpayWebhook)
	api.Post("/webhook/stripe", h.Webhooks.HandleStripeWebhook)

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
}
