package main

import (
	"errors"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"flight_tracker/internal/config"
	"flight_tracker/internal/feed"
	"flight_tracker/internal/storage"
)

var logLevelFlag string

var rootCmd = &cobra.Command{
	Use:   "flight_tracker",
	Short: "Aircraft latest-state ingestion and snapshot service",
	Long: `flight_tracker keeps an append-only history of aircraft state vectors and
derives from it the freshest known state of every aircraft.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "",
		"Log level override: debug, info, warn or error")
}

// loadConfig reads the environment and builds the logger. Flag overrides
// are validated like environment values.
func loadConfig() (config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, err
	}
	if logLevelFlag != "" {
		cfg.LogLevel = logLevelFlag
		if err := cfg.Validate(); err != nil {
			return config.Config{}, nil, err
		}
	}
	logger := cfg.NewLogger(os.Stderr)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

// exitCode maps an error to the process exit status.
func exitCode(err error) int {
	var cfgErr *config.Error
	switch {
	case err == nil:
		return 0
	case errors.As(err, &cfgErr):
		return 1
	case errors.Is(err, feed.ErrUnavailable), errors.Is(err, storage.ErrUnavailable):
		return 2
	}
	return 1
}
