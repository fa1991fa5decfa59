package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"flight_tracker/internal/archive"
	"flight_tracker/internal/config"
	"flight_tracker/internal/feed"
	"flight_tracker/internal/ingest"
	"flight_tracker/internal/metrics"
	"flight_tracker/internal/normalize"
	"flight_tracker/internal/storage"
)

var ingestFeedURL string

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Fetch one snapshot and append it to the store",
	Long: `Fetch one snapshot from the feed, normalize it, and append the valid rows to
the store as a single batch sharing one ingested_at.

A run that finds no valid rows succeeds without touching the store. A feed or
store failure ends the run with a non-zero exit status; the next scheduled
run starts afresh.`,
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().StringVar(&ingestFeedURL, "feed-url", "", "Feed URL override (http(s), nats, file path)")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	if ingestFeedURL != "" {
		cfg.FeedURL = ingestFeedURL
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	src, err := feed.NewSource(cfg.FeedURL, cfg.FeedOptions())
	if err != nil {
		return &config.Error{Var: "FLIGHT_TRACKER_FEED_URL", Err: err}
	}

	m := metrics.New(false)
	p := &ingest.Pipeline{
		Source:     src,
		Normalizer: normalize.New(),
		Open:       storage.DSNOpener(cfg.StoreDSN),
		Metrics:    m,
		Logger:     logger,
	}

	if cfg.ArchiveEnabled() {
		a, err := archive.NewS3(ctx, cfg.Archive())
		if err != nil {
			logger.Warn("raw archive disabled", "error", err)
		} else {
			p.Archiver = a
		}
	}

	_, runErr := p.Run(ctx)

	if cfg.PushgatewayURL != "" {
		// Push even after a failed run so the failure is visible.
		if err := m.Push(context.WithoutCancel(ctx), cfg.PushgatewayURL, "flight_tracker_ingest"); err != nil {
			logger.Warn("push metrics failed", "error", err)
		}
	}
	return runErr
}
