package controller

import (
	"github.com/gofiber/fiber/v2"

	"crate_backend/internal/middleware"
	"crate_backend/internal/service"
)

type UserController struct {
	users *service.UserService
}

func NewUserController(users *service.UserService) *UserController {
	return &UserController{users: users}
}

func (h *UserController) GetMe(c *fiber.Ctx) error {
	profile, err := h.users.Me(c.UserContext(), middleware.UserID(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(profile)
}

func (h *UserController) UpdateProfile(c *fiber.Ctx) error {
	input := new(service.ProfileInput)
	if err := c.BodyParser(input); err != nil {
		return badInput(c)
	}

	profile, err := h.users.UpdateProfile(c.UserContext(), middleware.UserID(c), *input)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"message": "Profile updated successfully",
		"user":    profile,
	})
}
