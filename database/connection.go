package database

import (
	"fmt"
	"log/slog"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/slicebot/slicebot-backend/internal/config"
	"github.com/slicebot/slicebot-backend/internal/models"
)

// DSN builds the PostgreSQL connection string
func DSN(cfg config.DatabaseConfig) string {
	if cfg.InstanceConnectionName != "" {
		// Production: Connect via Cloud SQL unix socket
		return fmt.Sprintf("host=/cloudsql/%s user=%s password=%s dbname=%s sslmode=disable",
			cfg.InstanceConnectionName, cfg.User, cfg.Password, cfg.Name)
	}
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=disable",
		cfg.Host, cfg.User, cfg.Password, cfg.Name, cfg.Port)
}

// Connect opens the gorm connection
func Connect(cfg config.DatabaseConfig) (*gorm.DB, error) {
	if cfg.InstanceConnectionName != "" {
		slog.Info("connecting to Cloud SQL via socket", "instance", cfg.InstanceConnectionName)
	} else {
		slog.Info("connecting to PostgreSQL", "host", cfg.Host, "port", cfg.Port, "db", cfg.Name)
	}

	db, err := gorm.Open(postgres.Open(DSN(cfg)), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	return db, nil
}

// Migrate creates or updates the session tables
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.SessionRecord{},
		&models.MenuCacheRecord{},
	); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}
	return nil
}
