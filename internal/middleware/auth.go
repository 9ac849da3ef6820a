package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"crate_backend/pkg/utils/jwt"
)

const claimsKey = "user"

// AuthMiddleware requires a valid bearer token and stores its claims in
// c.Locals("user").
func AuthMiddleware(tokens *jwt.Manager) fiber.Handler {
	return func(c *fiber.Ctx) error {
		header := c.Get(fiber.HeaderAuthorization)
		if header == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "No token provided",
			})
		}

		token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
		claims, err := tokens.ValidateToken(token)
		if err != nil {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "Invalid token",
			})
		}

		c.Locals(claimsKey, claims)
		return c.Next()
	}
}

// UserID returns the authenticated user id, or "" outside AuthMiddleware.
func UserID(c *fiber.Ctx) string {
	claims, ok := c.Locals(claimsKey).(*jwt.Claims)
	if !ok {
		return ""
	}
	return claims.UserID
}
