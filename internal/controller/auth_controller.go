package controller

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"crate_backend/internal/service"
)

type GoogleLoginInput struct {
	Credential string `json:"credential"`
}

type AuthController struct {
	auth *service.AuthService
}

func NewAuthController(auth *service.AuthService) *AuthController {
	return &AuthController{auth: auth}
}

func (h *AuthController) Signup(c *fiber.Ctx) error {
	input := new(service.SignupInput)
	if err := c.BodyParser(input); err != nil {
		return badInput(c)
	}

	result, err := h.auth.Signup(c.UserContext(), *input)
	if err != nil {
		if errors.Is(err, service.ErrConflict) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error": "Email already exists",
			})
		}
		return respondError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(result)
}

func (h *AuthController) Login(c *fiber.Ctx) error {
	input := new(service.LoginInput)
	if err := c.BodyParser(input); err != nil {
		return badInput(c)
	}

	result, err := h.auth.Login(c.UserContext(), *input)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(result)
}

// GoogleLogin exchanges a Google ID token for a session token.
func (h *AuthController) GoogleLogin(c *fiber.Ctx) error {
	input := new(GoogleLoginInput)
	if err := c.BodyParser(input); err != nil {
		return badInput(c)
	}

	result, err := h.auth.GoogleLogin(c.UserContext(), input.Credential)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(result)
}
