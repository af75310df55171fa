// Package cli holds the slicebot command line.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/slicebot/slicebot-backend/internal/config"
)

// Version is set at build time
var Version = "dev"

var envFile string

// Execute runs the root command
func Execute() {
	rootCmd := &cobra.Command{
		Use:           "slicebot",
		Short:         "Slicebot - pizzeria ordering bot for Telegram, Messenger and WhatsApp",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "env file to load before the environment")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(pollCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads the configuration and installs the process logger
func loadConfig() (*config.Config, error) {
	var files []string
	if envFile != "" {
		files = append(files, envFile)
	}
	cfg, err := config.Load(files...)
	if err != nil {
		return nil, err
	}
	logger, err := cfg.NewLogger()
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)
	return cfg, nil
}
