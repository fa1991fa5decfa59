// Package snapshot derives the current world state from the append-only store
// and caches it for readers.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"flight_tracker/internal/metrics"
	"flight_tracker/internal/state"
	"flight_tracker/internal/storage"
)

// Resolver reads the latest row per aircraft. Each call opens its own store
// connection and closes it before returning.
type Resolver struct {
	Open    storage.Opener
	Timeout time.Duration // zero means no limit beyond ctx
	Metrics *metrics.Metrics
}

// Resolve builds a SnapshotView. An empty or never-written store gives an
// empty view and no error. Every failure wraps storage.ErrUnavailable.
func (r *Resolver) Resolve(ctx context.Context) (state.SnapshotView, error) {
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}
	start := time.Now()

	store, err := r.Open(ctx)
	if err != nil {
		return state.SnapshotView{}, asUnavailable("open store", err)
	}
	defer store.Close()

	rows, err := store.LatestStates(ctx)
	if err != nil {
		return state.SnapshotView{}, asUnavailable("load latest states", err)
	}

	// Stores rank in SQL already; reducing again keeps the result right
	// whatever a backend returns.
	view := state.Latest(rows)
	r.Metrics.Resolved(time.Since(start), view.Len())
	return view, nil
}

func asUnavailable(op string, err error) error {
	if errors.Is(err, storage.ErrUnavailable) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, storage.ErrUnavailable, err)
}
