package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/slicebot/slicebot-backend/database"
	"github.com/slicebot/slicebot-backend/internal/channels"
	"github.com/slicebot/slicebot-backend/internal/config"
	"github.com/slicebot/slicebot-backend/internal/jobs"
	"github.com/slicebot/slicebot-backend/internal/models"
	"github.com/slicebot/slicebot-backend/internal/services"
	"github.com/slicebot/slicebot-backend/internal/storage"
)

// app is the wired service shared by the serve and poll commands
type app struct {
	cfg       *config.Config
	store     storage.Store
	sessions  *services.SessionManager
	engine    *services.Engine
	registry  *channels.Registry
	followUps *jobs.FollowUpJob

	telegram  *channels.Telegram
	messenger *channels.Messenger
	whatsapp  *channels.WhatsApp
}

func buildApp(ctx context.Context, cfg *config.Config) (*app, error) {
	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:      cfg,
		store:    store,
		sessions: services.NewSessionManager(),
		registry: channels.NewRegistry(),
	}

	if cfg.TelegramEnabled() {
		if a.telegram, err = channels.NewTelegram(cfg.Telegram); err != nil {
			_ = store.Close()
			return nil, err
		}
		a.registry.Register(models.ChannelTelegram, a.telegram)
	}
	if cfg.MessengerEnabled() {
		a.messenger = channels.NewMessenger(cfg.Messenger)
		a.registry.Register(models.ChannelMessenger, a.messenger)
	}
	if cfg.WhatsAppEnabled() {
		if a.whatsapp, err = channels.NewWhatsApp(cfg.WhatsApp); err != nil {
			_ = store.Close()
			return nil, err
		}
		a.registry.Register(models.ChannelWhatsApp, a.whatsapp)
	}
	if len(a.registry.Channels()) == 0 {
		slog.Warn("no messaging channel configured")
	}

	catalog := services.NewMoltinCatalog(cfg.Catalog)
	geocoder := services.NewYandexGeocoder(cfg.Geocoder.BaseURL, cfg.Geocoder.APIKey, cfg.Catalog.Timeout)
	a.followUps = jobs.NewFollowUpJob(a.registry)
	a.engine = services.NewEngine(
		store,
		catalog,
		services.NewGeoResolver(catalog, geocoder),
		services.NewMenuService(catalog, store, cfg.MenuCacheTTL),
		a.sessions,
		a.followUps,
		services.EngineConfig{
			Currency:      cfg.Telegram.PaymentCurrency,
			FollowUpDelay: cfg.FollowUpDelay,
		},
	)

	slog.Info("slicebot wired",
		"storage", cfg.StoreBackend,
		"channels", a.registry.Channels(),
		"environment", cfg.Environment,
	)
	return a, nil
}

// close stops background work and releases the store
func (a *app) close() {
	a.followUps.Stop()
	if err := a.store.Close(); err != nil {
		slog.Error("closing store", "error", err)
	}
}

func openStore(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	switch cfg.StoreBackend {
	case config.BackendMemory:
		slog.Warn("using in-memory storage (not for production!)")
		return storage.NewMemoryStore(), nil

	case config.BackendSQLite:
		slog.Info("using sqlite storage", "path", cfg.SQLitePath)
		return storage.NewSQLiteStore(cfg.SQLitePath)

	case config.BackendRedis:
		slog.Info("using redis storage", "addr", cfg.Redis.Addr)
		return storage.NewRedisStoreFromAddr(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)

	case config.BackendPostgres:
		db, err := database.Connect(cfg.Database)
		if err != nil {
			return nil, err
		}
		if err := database.Migrate(db); err != nil {
			return nil, err
		}
		slog.Info("using PostgreSQL storage")
		return storage.NewDatabaseStore(db), nil
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
}

var errNoTelegram = errors.New("telegram is not configured (TELEGRAM_TOKEN)")
