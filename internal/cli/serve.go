package cli

import (
	"errors"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/spf13/cobra"

	"github.com/slicebot/slicebot-backend/internal/handlers"
	"github.com/slicebot/slicebot-backend/internal/routes"
)

func serveCmd() *cobra.Command {
	var port string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the platform webhooks over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if port != "" {
				cfg.Port = port
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := buildApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.close()
			go a.sessions.Run(ctx)

			app := fiber.New(fiber.Config{
				AppName: "Slicebot Backend " + Version,
				ErrorHandler: func(c *fiber.Ctx, err error) error {
					code := fiber.StatusInternalServerError
					var e *fiber.Error
					if errors.As(err, &e) {
						code = e.Code
					}
					return c.Status(code).JSON(fiber.Map{
						"error": err.Error(),
					})
				},
			})

			app.Use(logger.New(logger.Config{
				Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
			}))
			app.Use(recover.New())
			app.Use(cors.New(cors.Config{
				AllowOrigins: "*",
				AllowHeaders: "Origin, Content-Type, Accept",
				AllowMethods: "GET, POST, OPTIONS",
			}))

			routes.SetupRoutes(app, routes.Dependencies{
				Config:     cfg,
				Dispatcher: a.engine,
				Health:     handlers.NewHealthHandler(Version, cfg.StoreBackend, a.registry.Channels(), a.store, a.sessions),
				Telegram:   a.telegram,
				Messenger:  a.messenger,
				WhatsApp:   a.whatsapp,
			})

			go func() {
				<-ctx.Done()
				slog.Info("gracefully shutting down...")
				if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
					slog.Error("server shutdown", "error", err)
				}
			}()

			slog.Info("slicebot starting", "port", cfg.Port, "version", Version)
			if err := app.Listen(":" + cfg.Port); err != nil {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&port, "port", "p", "", "listen port (overrides PORT)")
	return cmd
}
