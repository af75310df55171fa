package routes

import (
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"github.com/slicebot/slicebot-backend/internal/channels"
	"github.com/slicebot/slicebot-backend/internal/config"
	"github.com/slicebot/slicebot-backend/internal/handlers"
	"github.com/slicebot/slicebot-backend/internal/middleware"
)

// Dependencies are the pieces the routes are served by. A nil channel
// adapter leaves its webhook unregistered.
type Dependencies struct {
	Config     *config.Config
	Dispatcher channels.Dispatcher
	Health     *handlers.HealthHandler

	Telegram  *channels.Telegram
	Messenger *channels.Messenger
	WhatsApp  *channels.WhatsApp
}

// SetupRoutes configures all routes
func SetupRoutes(app *fiber.App, deps Dependencies) {
	cfg := deps.Config
	validate := !cfg.IsDevelopment() && !cfg.DisableWebhookValidation
	if !validate {
		slog.Warn("webhook validation DISABLED")
	}

	app.Get("/", deps.Health.Root)
	app.Get("/health", deps.Health.Check)

	// ========== WEBHOOK ROUTES ==========
	webhooks := app.Group("/webhook")

	if deps.Telegram != nil {
		h := handlers.NewTelegramHandler(deps.Telegram, deps.Dispatcher)
		if validate && cfg.Telegram.WebhookSecret != "" {
			webhooks.Post("/telegram", middleware.ValidateTelegramSecret(cfg.Telegram.WebhookSecret), h.HandleWebhook)
		} else {
			webhooks.Post("/telegram", h.HandleWebhook)
		}
	}

	if deps.Messenger != nil {
		h := handlers.NewMessengerHandler(deps.Messenger, deps.Dispatcher)
		webhooks.Get("/messenger", h.Verify)
		if validate && cfg.Messenger.AppSecret != "" {
			webhooks.Post("/messenger", middleware.ValidateMessengerSignature(cfg.Messenger.AppSecret), h.HandleWebhook)
		} else {
			webhooks.Post("/messenger", h.HandleWebhook)
		}
	}

	if deps.WhatsApp != nil {
		h := handlers.NewWhatsAppHandler(deps.WhatsApp, deps.Dispatcher)
		if validate {
			webhooks.Post("/whatsapp", middleware.ValidateTwilioSignature(cfg.WhatsApp.AuthToken), h.HandleWebhook)
		} else {
			webhooks.Post("/whatsapp", h.HandleWebhook)
		}
	}

	// ========== TEST ROUTES (Development Only) ==========
	if cfg.IsDevelopment() {
		app.Post("/test/dispatch", handlers.NewDispatchHandler(deps.Dispatcher).HandleTestDispatch)
	}
}
