package controller

import (
	"github.com/gofiber/fiber/v2"

	"crate_backend/internal/middleware"
	"crate_backend/internal/model"
	"crate_backend/internal/service"
)

type SettingsController struct {
	settings *service.SettingsService
}

func NewSettingsController(settings *service.SettingsService) *SettingsController {
	return &SettingsController{settings: settings}
}

// GetSettings returns the user's settings, creating the defaults on first read.
func (h *SettingsController) GetSettings(c *fiber.Ctx) error {
	settings, err := h.settings.Get(c.UserContext(), middleware.UserID(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(settings)
}

func (h *SettingsController) UpdateNotifications(c *fiber.Ctx) error {
	input := new(model.NotificationPreferences)
	if err := c.BodyParser(input); err != nil {
		return badInput(c)
	}

	settings, err := h.settings.UpdateNotifications(c.UserContext(), middleware.UserID(c), *input)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"message":  "Notification settings updated",
		"settings": settings,
	})
}

func (h *SettingsController) SaveDeliveryAddress(c *fiber.Ctx) error {
	input := new(service.AddressInput)
	if err := c.BodyParser(input); err != nil {
		return badInput(c)
	}

	settings, err := h.settings.SaveDeliveryAddress(c.UserContext(), middleware.UserID(c), *input)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"message":  "Delivery address saved",
		"settings": settings,
	})
}
