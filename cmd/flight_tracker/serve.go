package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"flight_tracker/internal/api"
	"flight_tracker/internal/metrics"
	"flight_tracker/internal/snapshot"
	"flight_tracker/internal/storage"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the latest-state view over HTTP",
	Long: `Serve the latest state per aircraft to the dashboard.

The view is resolved from the store at most once per cache TTL. When the store
is unreachable the previous view is served and flagged stale; before any view
exists an explicit empty one is served.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address override")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	if serveAddr != "" {
		cfg.HTTPAddr = serveAddr
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New(true)
	resolver := &snapshot.Resolver{
		Open:    storage.DSNOpener(cfg.StoreDSN),
		Timeout: cfg.StoreTimeout,
		Metrics: m,
	}
	cache := snapshot.NewCache(resolver.Resolve, cfg.CacheTTL,
		snapshot.WithMetrics(m),
		snapshot.WithLogger(logger),
	)

	logger.Info("starting", "store", storage.Redact(cfg.StoreDSN), "cache_ttl", cfg.CacheTTL)
	server := api.NewServer(cache, m.Handler(), api.Config{
		Addr:        cfg.HTTPAddr,
		CORSOrigins: cfg.CORSOrigins,
	}, logger)
	return server.Run(ctx)
}
