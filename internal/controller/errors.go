package controller

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"crate_backend/internal/gateway"
	"crate_backend/internal/service"
)

// statusFor maps a service error onto an HTTP status and a client message.
func statusFor(err error) (int, string) {
	var validationErr *service.ValidationError
	var gatewayErr *gateway.Error

	switch {
	case errors.As(err, &validationErr):
		return fiber.StatusBadRequest, validationErr.Message
	case errors.Is(err, service.ErrInvalidSignature):
		return fiber.StatusBadRequest, "Invalid signature"
	case errors.Is(err, service.ErrUnauthorized):
		return fiber.StatusUnauthorized, "Invalid email or password"
	case errors.Is(err, service.ErrInvalidGoogle):
		return fiber.StatusUnauthorized, "Invalid Google credentials"
	case errors.Is(err, service.ErrNothingToPause):
		return fiber.StatusNotFound, "No active subscriptions found"
	case errors.Is(err, service.ErrNotFound):
		return fiber.StatusNotFound, "Not found"
	case errors.Is(err, service.ErrConflict):
		return fiber.StatusConflict, "Already exists"
	case errors.Is(err, service.ErrLocked):
		return fiber.StatusConflict, service.ErrLocked.Error()
	case errors.As(err, &gatewayErr):
		return fiber.StatusBadGateway, gateway.Message(gatewayErr)
	case errors.Is(err, service.ErrNotConfigured):
		return fiber.StatusInternalServerError, "Server is not configured for this operation"
	default:
		return fiber.StatusInternalServerError, "Internal server error"
	}
}

func respondError(c *fiber.Ctx, err error) error {
	status, msg := statusFor(err)
	if status >= fiber.StatusInternalServerError {
		log.Errorf("%s %s: %v", c.Method(), c.Path(), err)
	}
	return c.Status(status).JSON(fiber.Map{"error": msg})
}

func badInput(c *fiber.Ctx) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"error": "Invalid input",
	})
}
