package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"flight_tracker/internal/snapshot"
	"flight_tracker/internal/state"
	"flight_tracker/internal/storage"
)

var snapshotOrigin string

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Resolve the latest-state view once and print it",
	RunE:  runSnapshot,
}

func init() {
	snapshotCmd.Flags().StringVar(&snapshotOrigin, "origin", "", "Only aircraft with this origin label")
	rootCmd.AddCommand(snapshotCmd)
}

func runSnapshot(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	resolver := &snapshot.Resolver{Open: storage.DSNOpener(cfg.StoreDSN), Timeout: cfg.StoreTimeout}
	view, err := resolver.Resolve(cmd.Context())
	if err != nil {
		return fmt.Errorf("resolve snapshot: %w", err)
	}
	if snapshotOrigin != "" {
		view = view.Filter(func(e state.EntityState) bool { return e.OriginLabel == snapshotOrigin })
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(view)
}
