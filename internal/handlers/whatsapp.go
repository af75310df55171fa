package handlers

import (
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"github.com/slicebot/slicebot-backend/internal/channels"
)

// WhatsAppHandler handles twilio WhatsApp webhook requests
type WhatsAppHandler struct {
	whatsapp   *channels.WhatsApp
	dispatcher channels.Dispatcher
}

// NewWhatsAppHandler creates a new WhatsApp handler
func NewWhatsAppHandler(w *channels.WhatsApp, d channels.Dispatcher) *WhatsAppHandler {
	return &WhatsAppHandler{whatsapp: w, dispatcher: d}
}

// HandleWebhook processes incoming WhatsApp messages
func (h *WhatsAppHandler) HandleWebhook(c *fiber.Ctx) error {
	// Twilio posts form encoded payloads, status callbacks included
	var payload channels.TwilioWebhookPayload
	if err := c.BodyParser(&payload); err != nil {
		slog.Warn("invalid whatsapp webhook", "error", err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid webhook payload",
		})
	}

	err := h.whatsapp.HandleWebhook(c.UserContext(), h.dispatcher, payload)
	return acknowledge(c, "whatsapp", err)
}
