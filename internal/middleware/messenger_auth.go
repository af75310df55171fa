package middleware

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// MessengerSignatureHeader carries the app-secret HMAC of the request body
const MessengerSignatureHeader = "X-Hub-Signature-256"

// ValidateMessengerSignature rejects webhook calls not signed with the app secret
func ValidateMessengerSignature(appSecret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		got, ok := strings.CutPrefix(c.Get(MessengerSignatureHeader), "sha256=")
		if !ok {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Missing signature",
			})
		}

		mac := hmac.New(sha256.New, []byte(appSecret))
		mac.Write(c.Body())
		want := hex.EncodeToString(mac.Sum(nil))

		if !hmac.Equal([]byte(strings.ToLower(got)), []byte(want)) {
			slog.Warn("rejected messenger webhook", "ip", c.IP())
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid signature",
			})
		}
		return c.Next()
	}
}
