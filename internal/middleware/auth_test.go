package middleware

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crate_backend/pkg/utils/jwt"
)

func newApp(t *testing.T) (*fiber.App, *jwt.Manager) {
	tokens, err := jwt.NewManager("test-secret", time.Hour)
	require.NoError(t, err)

	app := fiber.New()
	app.Get("/me", AuthMiddleware(tokens), func(c *fiber.Ctx) error {
		return c.SendString(UserID(c))
	})
	return app, tokens
}

func TestAuthMiddleware(t *testing.T) {
	app, tokens := newApp(t)
	token, err := tokens.GenerateToken("user-1", "a@example.com")
	require.NoError(t, err)

	req := httptest.NewRequest("GET", "/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "user-1", string(body))
}

func TestAuthMiddlewareRejects(t *testing.T) {
	app, _ := newApp(t)

	resp, err := app.Test(httptest.NewRequest("GET", "/me", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	req := httptest.NewRequest("GET", "/me", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)
}

func TestUserIDWithoutMiddleware(t *testing.T) {
	app := fiber.New()
	app.Get("/", func(c *fiber.Ctx) error { return c.SendString(UserID(c)) })

	resp, err := app.Test(httptest.NewRequest("GET", "/", nil))
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	assert.Empty(t, string(body))
}
