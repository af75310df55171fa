package handlers

import (
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"github.com/slicebot/slicebot-backend/internal/storage"
)

// acknowledge answers a platform webhook. A session store failure is a 503;
// other failures were already answered to the user and are only logged.
func acknowledge(c *fiber.Ctx, channel string, err error) error {
	if err == nil {
		return c.SendStatus(fiber.StatusOK)
	}
	if errors.Is(err, storage.ErrUnavailable) {
		slog.Error("session store unavailable", "channel", channel, "error", err)
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "Session store unavailable",
		})
	}
	slog.Error("webhook processing failed", "channel", channel, "error", err)
	return c.SendStatus(fiber.StatusOK)
}
