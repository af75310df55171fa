package middleware

import (
	"crypto/subtle"
	"log/slog"

	"github.com/gofiber/fiber/v2"
)

// TelegramSecretHeader carries the secret set with setWebhook
const TelegramSecretHeader = "X-Telegram-Bot-Api-Secret-Token"

// ValidateTelegramSecret rejects webhook calls without the configured secret
func ValidateTelegramSecret(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		got := c.Get(TelegramSecretHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
			slog.Warn("rejected telegram webhook", "ip", c.IP())
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid secret token",
			})
		}
		return c.Next()
	}
}
