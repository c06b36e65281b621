package handlers

import (
	"gumroad/internal/domain"
	applog "gumroad/internal/log"
	"gumroad/internal/services"

	"github.com/gofiber/fiber/v2"
)

// RequireSeller enforces a signed-in seller; anonymous callers get a 401 JSON body.
func RequireSeller(auth *services.AuthService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if u := currentUser(c); u != nil {
			return c.Next()
		}
		sid := c.Cookies("sid")
		if sid == "" {
			applog.Security(c, "access.denied.anonymous", nil)
			return unauthorized(c)
		}
		u, err := auth.CurrentUser(c.UserContext(), sid)
		if err != nil || u == nil {
			applog.Security(c, "access.denied.session", map[string]any{"sid": sid})
			return unauthorized(c)
		}
		c.Locals("user", u)
		return c.Next()
	}
}

func currentUser(c *fiber.Ctx) *domain.User {
	u, _ := c.Locals("user").(*domain.User)
	return u
}

func unauthorized(c *fiber.Ctx) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
		"success":       false,
		"error_message": "You must be signed in.",
	})
}
