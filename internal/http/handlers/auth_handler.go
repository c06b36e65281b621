package handlers

import (
	"errors"
	"time"

	"gumroad/internal/log"
	"gumroad/internal/services"
	"gumroad/internal/validate"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

type AuthHandler struct {
	Auth *services.AuthService
}

type loginRequest struct {
	Email    string `json:"email" form:"email"`
	Password string `json:"password" form:"password"`
}

func ensureSID(c *fiber.Ctx) string {
	sid := c.Cookies("sid")
	if sid == "" {
		sid = uuid.NewString()
		c.Cookie(&fiber.Cookie{
			Name:     "sid",
			Value:    sid,
			Path:     "/",
			HTTPOnly: true,
			SameSite: fiber.CookieSameSiteLaxMode,
			Secure:   false,
		})
	}
	return sid
}

func badCreds(c *fiber.Ctx) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
		"success":       false,
		"error_message": "Invalid email or password",
	})
}

func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		log.Security(c, "auth.login.fail", map[string]any{"reason": "bad_body"})
		return badCreds(c)
	}
	email, ok := validate.Email(req.Email)
	if !ok {
		log.Security(c, "auth.login.fail", map[string]any{"email": req.Email, "reason": "bad_format"})
		return badCreds(c)
	}
	if !validate.Password(req.Password) {
		log.Security(c, "auth.login.fail", map[string]any{"email": email, "reason": "bad_password_format"})
		return badCreds(c)
	}

	sid := ensureSID(c)
	u, err := h.Auth.Login(c.UserContext(), sid, email, req.Password)
	if errors.Is(err, services.ErrSuspended) {
		log.Security(c, "auth.login.fail", map[string]any{"email": email, "reason": "suspended"})
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"success":       false,
			"error_message": "This account has been suspended.",
		})
	}
	if err != nil {
		log.Security(c, "auth.login.fail", map[string]any{"email": email})
		return badCreds(c)
	}
	c.Locals("user", u)

	log.Audit(c, "auth.login.success", map[string]any{"email": email})
	return c.JSON(fiber.Map{
		"success": true,
		"user":    fiber.Map{"id": u.ID, "email": u.Email, "name": u.Name},
	})
}

func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	sid := ensureSID(c)
	if err := h.Auth.Logout(c.UserContext(), sid); err != nil {
		log.Error(c, "auth.logout", err, map[string]any{"sid": sid})
	}
	// Expire cookie
	c.Cookie(&fiber.Cookie{
		Name:     "sid",
		Value:    "",
		Path:     "/",
		HTTPOnly: true,
		SameSite: fiber.CookieSameSiteLaxMode,
		Secure:   false,
		Expires:  time.Now().Add(-1 * time.Hour),
	})
	log.Audit(c, "auth.logout", map[string]any{"sid": sid})
	return c.JSON(fiber.Map{"success": true})
}
