package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/slicebot/slicebot-backend/internal/services"
)

// Pinger checks a backing service
type Pinger interface {
	Ping(ctx context.Context) error
}

// StatsProvider reports live conversation statistics
type StatsProvider interface {
	GetSessionStats() *services.SessionStats
}

// HealthHandler handles health check requests
type HealthHandler struct {
	Version  string
	Storage  string
	Channels []string

	store Pinger
	stats StatsProvider
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(version, storage string, channels []string, store Pinger, stats StatsProvider) *HealthHandler {
	return &HealthHandler{
		Version:  version,
		Storage:  storage,
		Channels: channels,
		store:    store,
		stats:    stats,
	}
}

// Root describes the service and its endpoints
func (h *HealthHandler) Root(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"service":  "Slicebot Backend",
		"version":  h.Version,
		"storage":  h.Storage,
		"channels": h.Channels,
		"endpoints": fiber.Map{
			"health":    "/health",
			"telegram":  "/webhook/telegram",
			"messenger": "/webhook/messenger",
			"whatsapp":  "/webhook/whatsapp",
		},
	})
}

// Check returns the health status of the service
func (h *HealthHandler) Check(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
	defer cancel()

	status := "healthy"
	statusCode := fiber.StatusOK
	storeStatus := "connected"
	if err := h.store.Ping(ctx); err != nil {
		status = "unhealthy"
		statusCode = fiber.StatusServiceUnavailable
		storeStatus = "error: " + err.Error()
	}

	response := fiber.Map{
		"status":  status,
		"version": h.Version,
		"storage": fiber.Map{
			"backend": h.Storage,
			"status":  storeStatus,
		},
	}
	if h.stats != nil {
		response["sessions"] = h.stats.GetSessionStats()
	}
	return c.Status(statusCode).JSON(response)
}
