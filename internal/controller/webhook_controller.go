package controller

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"crate_backend/internal/service"
)

type WebhookController struct {
	webhooks *service.WebhookService
}

func NewWebhookController(webhooks *service.WebhookService) *WebhookController {
	return &WebhookController{webhooks: webhooks}
}

// HandleRazorpayWebhook verifies the raw body against x-razorpay-signature.
func (h *WebhookController) HandleRazorpayWebhook(c *fiber.Ctx) error {
	body := append([]byte(nil), c.Body()...)

	err := h.webhooks.HandleRazorpay(
		c.UserContext(),
		body,
		c.Get("X-Razorpay-Signature"),
		c.Get("X-Razorpay-Event-Id"),
	)
	if err != nil {
		log.Warnf("razorpay webhook: %v", err)
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

func (h *WebhookController) HandleStripeWebhook(c *fiber.Ctx) error {
	body := append([]byte(nil), c.Body()...)

	if err := h.webhooks.HandleStripe(c.UserContext(), body, c.Get("Stripe-Signature")); err != nil {
		log.Warnf("stripe webhook: %v", err)
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"received": true})
}
