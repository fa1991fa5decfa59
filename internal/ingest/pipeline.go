// Package ingest runs one fetch, normalize and append cycle against the
// store. A run is meant to be started by an external scheduler.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"flight_tracker/internal/archive"
	"flight_tracker/internal/feed"
	"flight_tracker/internal/metrics"
	"flight_tracker/internal/normalize"
	"flight_tracker/internal/storage"
)

// Pipeline wires the run's collaborators. Archiver and Metrics are optional.
type Pipeline struct {
	Source     feed.Source
	Normalizer *normalize.Normalizer
	Open       storage.Opener
	Archiver   archive.Archiver
	Metrics    *metrics.Metrics
	Logger     *slog.Logger

	now   func() time.Time
	newID func() string
}

// Result describes a finished run.
type Result struct {
	RunID        string
	IngestedAt   time.Time  // zero when nothing was written
	UpstreamTime *time.Time // snapshot time reported by the feed, if any
	Fetched      int
	Written      int
	Dropped      map[normalize.DropReason]int
	ArchiveKey   string
}

// Run executes one ingestion cycle. Feed failures wrap feed.ErrUnavailable
// and store failures wrap storage.ErrUnavailable; neither is retried here.
func (p *Pipeline) Run(ctx context.Context) (Result, error) {
	log := p.logger()
	res := Result{RunID: p.runID()}
	log = log.With("run_id", res.RunID, "source", p.Source.Name())

	snap, err := p.Source.Fetch(ctx)
	if err != nil {
		p.Metrics.IngestRun(metrics.RunFeedError, 0, nil, time.Time{})
		log.Error("fetch failed", "error", err)
		return res, fmt.Errorf("fetch snapshot: %w", err)
	}
	res.Fetched = len(snap.Records)
	res.UpstreamTime = snap.UpstreamTime
	if snap.UpstreamTime != nil {
		log = log.With("upstream_time", snap.UpstreamTime.UTC().Format(time.RFC3339))
	}

	if p.Archiver != nil && len(snap.Raw) > 0 {
		key, err := p.Archiver.Archive(ctx, archive.Entry{
			RunID:        res.RunID,
			Source:       snap.Source,
			FetchedAt:    snap.FetchedAt,
			UpstreamTime: snap.UpstreamTime,
			Raw:          snap.Raw,
		})
		if err != nil {
			log.Warn("archive raw payload failed", "error", err)
		} else {
			res.ArchiveKey = key
		}
	}

	n := p.Normalizer
	if n == nil {
		n = normalize.New()
	}
	rows, stats := n.NormalizeAll(snap.Records)
	res.Dropped = stats.Dropped
	if stats.TotalDropped() > 0 {
		log.Info("records dropped", "dropped", stats.TotalDropped(), "reasons", stats.Dropped)
	}
	if len(rows) == 0 {
		p.Metrics.IngestRun(metrics.RunEmpty, 0, dropLabels(stats.Dropped), time.Time{})
		log.Info("no valid records, store untouched", "fetched", res.Fetched)
		return res, nil
	}

	stamp := p.clock().UTC().Truncate(time.Millisecond)

	stamp, err = p.append(ctx, storage.Batch{RunID: res.RunID, IngestedAt: stamp, Rows: rows})
	if err != nil {
		p.Metrics.IngestRun(metrics.RunStoreError, 0, nil, time.Time{})
		log.Error("append failed", "error", err)
		return res, err
	}

	res.IngestedAt = stamp
	res.Written = len(rows)
	p.Metrics.IngestRun(metrics.RunOK, res.Written, dropLabels(stats.Dropped), stamp)
	log.Info("run complete",
		"fetched", res.Fetched,
		"written", res.Written,
		"dropped", stats.TotalDropped(),
		"ingested_at", stamp.Format(time.RFC3339Nano))
	return res, nil
}

// append opens the store for this run only and writes b, returning the
// stamp actually used.
func (p *Pipeline) append(ctx context.Context, b storage.Batch) (ts time.Time, err error) {
	if p.Open == nil {
		return time.Time{}, errors.New("ingest: no store opener")
	}
	store, err := p.Open(ctx)
	if err != nil {
		return time.Time{}, fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if cerr := store.Close(); cerr != nil && err == nil {
			p.logger().Warn("close store", "error", cerr)
		}
	}()

	if err := store.EnsureSchema(ctx); err != nil {
		return time.Time{}, fmt.Errorf("ensure schema: %w", err)
	}

	// ingested_at must grow strictly between runs even if the wall clock
	// went backwards.
	latest, err := store.MaxIngestedAt(ctx)
	if err != nil {
		return time.Time{}, fmt.Errorf("read watermark: %w", err)
	}
	if latest != nil && !b.IngestedAt.After(*latest) {
		bumped := latest.Add(time.Millisecond)
		p.logger().Warn("clock behind store watermark, bumping ingested_at",
			"clock", b.IngestedAt, "watermark", *latest, "ingested_at", bumped)
		b.IngestedAt = bumped
	}

	if err := store.AppendBatch(ctx, b); err != nil {
		return time.Time{}, fmt.Errorf("append batch: %w", err)
	}
	return b.IngestedAt, nil
}

func (p *Pipeline) logger() *slog.Logger {
	if p.Logger == nil {
		return slog.Default()
	}
	return p.Logger
}

func (p *Pipeline) clock() time.Time {
	if p.now == nil {
		return time.Now()
	}
	return p.now()
}

func (p *Pipeline) runID() string {
	if p.newID == nil {
		return uuid.NewString()
	}
	return p.newID()
}

func dropLabels(in map[normalize.DropReason]int) map[string]int {
	out := make(map[string]int, len(in))
	for r, n := range in {
		out[string(r)] = n
	}
	return out
}
