package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/slicebot/slicebot-backend/database"
	"github.com/slicebot/slicebot-backend/internal/config"
	"github.com/slicebot/slicebot-backend/internal/storage"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the session tables",
		Long: `Create or update the session tables of the configured store.

PostgreSQL tables are migrated with gorm; the sqlite schema is created on
open. Memory and redis stores have nothing to migrate.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			switch cfg.StoreBackend {
			case config.BackendPostgres:
				db, err := database.Connect(cfg.Database)
				if err != nil {
					return err
				}
				if err := database.Migrate(db); err != nil {
					return err
				}
			case config.BackendSQLite:
				store, err := storage.NewSQLiteStore(cfg.SQLitePath)
				if err != nil {
					return err
				}
				if err := store.Close(); err != nil {
					return fmt.Errorf("close sqlite store: %w", err)
				}
			default:
				slog.Info("nothing to migrate", "storage", cfg.StoreBackend)
				return nil
			}
			slog.Info("migrations completed", "storage", cfg.StoreBackend)
			return nil
		},
	}
}
