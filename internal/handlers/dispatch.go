package handlers

import (
	"errors"
	"log/slog"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/slicebot/slicebot-backend/internal/channels"
	"github.com/slicebot/slicebot-backend/internal/models"
	"github.com/slicebot/slicebot-backend/internal/storage"
)

// TestDispatchPayload drives the engine without a messaging platform
type TestDispatchPayload struct {
	User     string   `json:"user"`
	Text     string   `json:"text"`
	Callback string   `json:"callback"`
	Command  string   `json:"command"`
	Lat      *float64 `json:"lat"`
	Lon      *float64 `json:"lon"`
}

// DispatchHandler exposes the engine for development
type DispatchHandler struct {
	dispatcher channels.Dispatcher
}

// NewDispatchHandler creates a new development dispatch handler
func NewDispatchHandler(d channels.Dispatcher) *DispatchHandler {
	return &DispatchHandler{dispatcher: d}
}

// HandleTestDispatch runs one event and returns the produced instructions
func (h *DispatchHandler) HandleTestDispatch(c *fiber.Ctx) error {
	var payload TestDispatchPayload
	if err := c.BodyParser(&payload); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid test payload",
		})
	}

	in, err := payload.inbound()
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	slog.Debug("test dispatch", "user", in.Identity, "event", in.Event.Describe())
	reply, err := h.dispatcher.Dispatch(c.UserContext(), in)
	if err != nil {
		status := fiber.StatusInternalServerError
		if errors.Is(err, storage.ErrUnavailable) {
			status = fiber.StatusServiceUnavailable
		}
		return c.Status(status).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.JSON(fiber.Map{
		"success": true,
		"reply":   reply,
	})
}

func (p TestDispatchPayload) inbound() (models.Inbound, error) {
	user := strings.TrimSpace(p.User)
	if user == "" {
		return models.Inbound{}, errors.New("user is required")
	}

	var ev models.InboundEvent
	switch {
	case p.Lat != nil && p.Lon != nil:
		ev = models.Location{Lat: *p.Lat, Lon: *p.Lon}
	case p.Callback != "":
		ev = models.Callback{Payload: p.Callback}
	case p.Command != "":
		ev = models.Command{Name: strings.TrimPrefix(p.Command, "/")}
	case p.Text != "":
		ev = models.TextMessage{Text: p.Text}
	default:
		return models.Inbound{}, errors.New("one of text, callback, command or lat/lon is required")
	}

	return models.Inbound{
		Identity:    models.NewUserIdentity("test", user),
		ChatAddress: user,
		Event:       ev,
	}, nil
}
