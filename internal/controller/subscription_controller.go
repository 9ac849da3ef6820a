package controller

import (
	"github.com/gofiber/fiber/v2"

	"crate_backend/internal/gateway"
	"crate_backend/internal/middleware"
	"crate_backend/internal/model"
	"crate_backend/internal/service"
)

type SubscriptionController struct {
	subs     *service.SubscriptionService
	provider string
	// keyID is the publishable key the checkout widget needs.
	keyID string
}

func NewSubscriptionController(subs *service.SubscriptionService, provider, keyID string) *SubscriptionController {
	return &SubscriptionController{subs: subs, provider: provider, keyID: keyID}
}

func (h *SubscriptionController) checkout(sub *model.Subscription) fiber.Map {
	return fiber.Map{
		"provider":       h.provider,
		"subscriptionId": sub.GatewaySubscription(),
		"shortUrl":       sub.CheckoutURL,
		"keyId":          h.keyID,
	}
}

// CreateSubscription stores the subscription and registers it with the
// gateway. A gateway failure still returns the stored record so the client
// can retry registration.
func (h *SubscriptionController) CreateSubscription(c *fiber.Ctx) error {
	input := new(service.CreateSubscriptionInput)
	if err := c.BodyParser(input); err != nil {
		return badInput(c)
	}

	sub, err := h.subs.CreateAndRegister(c.UserContext(), middleware.UserID(c), *input)
	if err != nil {
		if sub == nil {
			return respondError(c, err)
		}
		status, msg := statusFor(err)
		return c.Status(status).JSON(fiber.Map{
			"error":        msg,
			"subscription": sub,
		})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message":      "Subscription created successfully",
		"subscription": sub,
		"checkout":     h.checkout(sub),
	})
}

func (h *SubscriptionController) RegisterSubscription(c *fiber.Ctx) error {
	sub, err := h.subs.Register(c.UserContext(), middleware.UserID(c), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"message":      "Subscription registered",
		"subscription": sub,
		"checkout":     h.checkout(sub),
	})
}

func (h *SubscriptionController) VerifyPayment(c *fiber.Ctx) error {
	input := new(service.VerifyPaymentInput)
	if err := c.BodyParser(input); err != nil {
		return badInput(c)
	}

	sub, err := h.subs.VerifyPayment(c.UserContext(), *input)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"message":      "Payment verified successfully",
		"subscription": sub,
	})
}

func (h *SubscriptionController) ListSubscriptions(c *fiber.Ctx) error {
	subs, err := h.subs.List(c.UserContext(), middleware.UserID(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"subscriptions": subs})
}

// CreateRecurringOrder starts the order based checkout.
func (h *SubscriptionController) CreateRecurringOrder(c *fiber.Ctx) error {
	input := new(service.CreateSubscriptionInput)
	if err := c.BodyParser(input); err != nil {
		return badInput(c)
	}

	sub, order, err := h.subs.CreateOrderCheckout(c.UserContext(), middleware.UserID(c), *input)
	if err != nil {
		return respondError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message":      "Order created successfully",
		"subscription": sub,
		"order":        orderView(order),
		"keyId":        h.keyID,
	})
}

func orderView(o *gateway.Order) fiber.Map {
	return fiber.Map{
		"id":       o.ID,
		"amount":   o.Amount,
		"currency": o.Currency,
		"receipt":  o.Receipt,
	}
}

func (h *SubscriptionController) VerifyRecurringOrder(c *fiber.Ctx) error {
	input := new(service.VerifyOrderInput)
	if err := c.BodyParser(input); err != nil {
		return badInput(c)
	}

	sub, err := h.subs.VerifyOrderPayment(c.UserContext(), middleware.UserID(c), *input)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"message":      "Payment verified successfully",
		"subscription": sub,
	})
}

// PauseSubscriptions answers 200 when every subscription paused, 207 on a
// partial failure and 502 when none could be paused.
func (h *SubscriptionController) PauseSubscriptions(c *fiber.Ctx) error {
	summary, err := h.subs.PauseAll(c.UserContext(), middleware.UserID(c))
	if err != nil {
		return respondError(c, err)
	}

	status := fiber.StatusOK
	message := "All subscriptions paused"
	switch {
	case summary.Paused == 0:
		status = fiber.StatusBadGateway
		message = "Could not pause subscriptions"
	case summary.Failed > 0:
		status = fiber.StatusMultiStatus
		message = "Some subscriptions could not be paused"
	}

	return c.Status(status).JSON(fiber.Map{
		"message": message,
		"results": summary.Results,
		"paused":  summary.Paused,
		"failed":  summary.Failed,
	})
}
