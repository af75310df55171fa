// Package config provides application configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Store backends
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
	BackendRedis    = "redis"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	Environment string

	DisableWebhookValidation bool

	StoreBackend string
	Database     DatabaseConfig
	SQLitePath   string
	Redis        RedisConfig

	Catalog  CatalogConfig
	Geocoder GeocoderConfig

	Telegram  TelegramConfig
	Messenger MessengerConfig
	WhatsApp  WhatsAppConfig

	FollowUpDelay time.Duration
	MenuCacheTTL  time.Duration

	LogLevel  string
	LogFormat string
}

// DatabaseConfig is the PostgreSQL connection for the gorm store.
type DatabaseConfig struct {
	Host                   string
	Port                   int
	User                   string
	Password               string
	Name                   string
	InstanceConnectionName string // Cloud SQL socket, takes precedence over Host
}

// RedisConfig is the connection for the redis store.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// CatalogConfig is the commerce API the cart lives in.
type CatalogConfig struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	RateLimit    float64 // requests per second, 0 disables limiting
	Timeout      time.Duration
}

// GeocoderConfig is the address lookup service.
type GeocoderConfig struct {
	BaseURL string
	APIKey  string
}

// TelegramConfig enables the telegram channel when Token is set.
type TelegramConfig struct {
	Token                string
	WebhookSecret        string
	PaymentProviderToken string
	PaymentCurrency      string
}

// MessengerConfig enables the facebook channel when PageAccessToken is set.
type MessengerConfig struct {
	PageAccessToken string
	VerifyToken     string

	// AppSecret signs webhook deliveries (X-Hub-Signature-256)
	AppSecret string
	GraphURL  string
}

// WhatsAppConfig enables the twilio channel when credentials are set.
type WhatsAppConfig struct {
	AccountSID string
	AuthToken  string
	From       string
}

// Load reads .env files (when present) and the environment.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env", "environments/.env.development"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err == nil {
			slog.Debug("loaded env file", "path", f)
			break
		}
	}

	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	cfg := &Config{
		Port:                     v.GetString("PORT"),
		Environment:              v.GetString("ENVIRONMENT"),
		DisableWebhookValidation: v.GetBool("DISABLE_WEBHOOK_VALIDATION"),
		StoreBackend:             strings.ToLower(strings.TrimSpace(v.GetString("STORE_BACKEND"))),
		Database: DatabaseConfig{
			Host:                   v.GetString("DB_HOST"),
			Port:                   v.GetInt("DB_PORT"),
			User:                   v.GetString("DB_USER"),
			Password:               v.GetString("DB_PASS"),
			Name:                   v.GetString("DB_NAME"),
			InstanceConnectionName: v.GetString("INSTANCE_CONNECTION_NAME"),
		},
		SQLitePath: v.GetString("SQLITE_PATH"),
		Redis: RedisConfig{
			Addr:     v.GetString("REDIS_ADDR"),
			Password: v.GetString("REDIS_PASSWORD"),
			DB:       v.GetInt("REDIS_DB"),
		},
		Catalog: CatalogConfig{
			BaseURL:      strings.TrimRight(v.GetString("CATALOG_BASE_URL"), "/"),
			ClientID:     v.GetString("CLIENT_ID"),
			ClientSecret: v.GetString("CLIENT_SECRET"),
			RateLimit:    v.GetFloat64("CATALOG_RATE_LIMIT"),
			Timeout:      v.GetDuration("CATALOG_TIMEOUT"),
		},
		Geocoder: GeocoderConfig{
			BaseURL: strings.TrimRight(v.GetString("GEOCODER_BASE_URL"), "/"),
			APIKey:  v.GetString("YANDEX_API_KEY"),
		},
		Telegram: TelegramConfig{
			Token:                v.GetString("TELEGRAM_TOKEN"),
			WebhookSecret:        v.GetString("TELEGRAM_WEBHOOK_SECRET"),
			PaymentProviderToken: v.GetString("PAYMENT_PROVIDER_TOKEN"),
			PaymentCurrency:      strings.ToUpper(v.GetString("PAYMENT_CURRENCY")),
		},
		Messenger: MessengerConfig{
			PageAccessToken: v.GetString("PAGE_ACCESS_TOKEN"),
			VerifyToken:     v.GetString("VERIFY_TOKEN"),
			AppSecret:       v.GetString("MESSENGER_APP_SECRET"),
			GraphURL:        strings.TrimRight(v.GetString("MESSENGER_GRAPH_URL"), "/"),
		},
		WhatsApp: WhatsAppConfig{
			AccountSID: v.GetString("TWILIO_ACCOUNT_SID"),
			AuthToken:  v.GetString("TWILIO_AUTH_TOKEN"),
			From:       v.GetString("TWILIO_WHATSAPP_FROM"),
		},
		FollowUpDelay: v.GetDuration("FOLLOW_UP_DELAY"),
		MenuCacheTTL:  v.GetDuration("MENU_CACHE_TTL"),
		LogLevel:      v.GetString("LOG_LEVEL"),
		LogFormat:     v.GetString("LOG_FORMAT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", "8080")
	v.SetDefault("ENVIRONMENT", "production")
	v.SetDefault("STORE_BACKEND", BackendPostgres)
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_NAME", "slicebot")
	v.SetDefault("SQLITE_PATH", "./data/sessions.db")
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("CATALOG_BASE_URL", "https://api.moltin.com")
	v.SetDefault("CATALOG_RATE_LIMIT", 10)
	v.SetDefault("CATALOG_TIMEOUT", 10*time.Second)
	v.SetDefault("GEOCODER_BASE_URL", "https://geocode-maps.yandex.ru/1.x")
	v.SetDefault("PAYMENT_CURRENCY", "RUB")
	v.SetDefault("MESSENGER_GRAPH_URL", "https://graph.facebook.com/v2.6")
	v.SetDefault("FOLLOW_UP_DELAY", time.Hour)
	v.SetDefault("MENU_CACHE_TTL", time.Hour)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "text")
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	switch c.StoreBackend {
	case BackendMemory, BackendPostgres, BackendRedis:
	case BackendSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH cannot be empty")
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}
	if c.Catalog.BaseURL == "" {
		return fmt.Errorf("CATALOG_BASE_URL cannot be empty")
	}
	if c.FollowUpDelay <= 0 {
		return fmt.Errorf("FOLLOW_UP_DELAY must be > 0")
	}
	if c.MenuCacheTTL <= 0 {
		return fmt.Errorf("MENU_CACHE_TTL must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// TelegramEnabled reports whether the telegram channel is configured.
func (c *Config) TelegramEnabled() bool { return c.Telegram.Token != "" }

// MessengerEnabled reports whether the messenger channel is configured.
func (c *Config) MessengerEnabled() bool { return c.Messenger.PageAccessToken != "" }

// WhatsAppEnabled reports whether the twilio channel is configured.
func (c *Config) WhatsAppEnabled() bool {
	return c.WhatsApp.AccountSID != "" && c.WhatsApp.AuthToken != "" && c.WhatsApp.From != ""
}

// NewLogger builds the process logger from LOG_LEVEL and LOG_FORMAT.
func (c *Config) NewLogger() (*slog.Logger, error) {
	var level slog.Level
	switch strings.ToLower(strings.TrimSpace(c.LogLevel)) {
	case "", "info":
		level = slog.LevelInfo
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return nil, fmt.Errorf("unknown LOG_LEVEL: %s", c.LogLevel)
	}

	opts := &slog.HandlerOptions{Level: level}
	switch strings.ToLower(strings.TrimSpace(c.LogFormat)) {
	case "", "text":
		return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
	default:
		return nil, fmt.Errorf("unknown LOG_FORMAT: %s", c.LogFormat)
	}
}
