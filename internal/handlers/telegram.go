package handlers

import (
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/gofiber/fiber/v2"

	"github.com/slicebot/slicebot-backend/internal/channels"
)

// TelegramHandler handles telegram bot webhook requests
type TelegramHandler struct {
	telegram   *channels.Telegram
	dispatcher channels.Dispatcher
}

// NewTelegramHandler creates a new telegram handler
func NewTelegramHandler(tg *channels.Telegram, d channels.Dispatcher) *TelegramHandler {
	return &TelegramHandler{telegram: tg, dispatcher: d}
}

// HandleWebhook processes one bot update
func (h *TelegramHandler) HandleWebhook(c *fiber.Ctx) error {
	var update tgbotapi.Update
	if err := c.BodyParser(&update); err != nil {
		slog.Warn("invalid telegram update", "error", err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid update payload",
		})
	}

	err := h.telegram.HandleUpdate(c.UserContext(), h.dispatcher, update)
	return acknowledge(c, "telegram", err)
}
