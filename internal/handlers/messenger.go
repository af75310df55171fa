package handlers

import (
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"github.com/slicebot/slicebot-backend/internal/channels"
)

// MessengerHandler handles facebook page webhook requests
type MessengerHandler struct {
	messenger  *channels.Messenger
	dispatcher channels.Dispatcher
}

// NewMessengerHandler creates a new messenger handler
func NewMessengerHandler(m *channels.Messenger, d channels.Dispatcher) *MessengerHandler {
	return &MessengerHandler{messenger: m, dispatcher: d}
}

// Verify answers the webhook subscription handshake
func (h *MessengerHandler) Verify(c *fiber.Ctx) error {
	challenge, ok := h.messenger.VerifySubscription(
		c.Query("hub.mode"),
		c.Query("hub.verify_token"),
		c.Query("hub.challenge"),
	)
	if !ok {
		slog.Warn("messenger verification rejected", "mode", c.Query("hub.mode"))
		return c.SendStatus(fiber.StatusForbidden)
	}
	return c.SendString(challenge)
}

// HandleWebhook processes a batch of page events
func (h *MessengerHandler) HandleWebhook(c *fiber.Ctx) error {
	var hook channels.MessengerWebhook
	if err := c.BodyParser(&hook); err != nil {
		slog.Warn("invalid messenger webhook", "error", err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid webhook payload",
		})
	}
	if hook.Object != "page" {
		return c.SendStatus(fiber.StatusNotFound)
	}

	err := h.messenger.HandleWebhook(c.UserContext(), h.dispatcher, hook)
	return acknowledge(c, "messenger", err)
}
