package handlers

import (
	"errors"

	applog "gumroad/internal/log"

	"github.com/gofiber/fiber/v2"
)

const genericErrorMessage = "Something went wrong. Please try again."

// ErrorHandler logs unexpected errors and answers with a generic JSON body.
// fiber errors keep their status and carry no body.
func ErrorHandler(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		if fe.Code >= fiber.StatusInternalServerError {
			applog.Error(c, "server.error", err, nil)
		}
		return c.SendStatus(fe.Code)
	}
	applog.Error(c, "server.error", err, nil)
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"success":       false,
		"error_message": genericErrorMessage,
	})
}

// NotFound is the catch-all for unknown routes.
func NotFound(c *fiber.Ctx) error {
	return c.SendStatus(fiber.StatusNotFound)
}
