package snapshot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"flight_tracker/internal/metrics"
	"flight_tracker/internal/state"
)

// DefaultTTL is how long a resolved view is served before recomputing.
const DefaultTTL = 60 * time.Second

// ErrNoData is returned when resolving failed and there is no earlier view
// to fall back on.
var ErrNoData = errors.New("no snapshot available")

// The cache holds a single view under one key.
const cacheKey = "snapshot"

// ResolveFunc computes a fresh view.
type ResolveFunc func(ctx context.Context) (state.SnapshotView, error)

// Result is what a reader receives.
type Result struct {
	View      state.SnapshotView
	FetchedAt time.Time // when View was resolved; zero if never
	Stale     bool      // View is older than the TTL because a refresh failed
	Available bool      // false only when no view has ever been resolved
	// Diagnostic explains a stale or unavailable result.
	Diagnostic string
}

type entry struct {
	view      state.SnapshotView
	fetchedAt time.Time
	expires   time.Time
}

func (e *entry) result() Result {
	return Result{View: e.view, FetchedAt: e.fetchedAt, Available: true}
}

// Cache serves a resolved view for TTL after it was computed. Warm reads
// take no lock; an expired entry is recomputed by exactly one caller while
// concurrent callers wait for that result.
type Cache struct {
	resolve ResolveFunc
	ttl     time.Duration
	now     func() time.Time
	metrics *metrics.Metrics
	logger  *slog.Logger

	current atomic.Pointer[entry]
	group   singleflight.Group
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithMetrics records hits, misses and fallbacks.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Cache) { c.metrics = m }
}

// WithLogger sets the logger used for refresh failures.
func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) { c.logger = l }
}

// NewCache returns a cache around resolve. A non-positive ttl means
// DefaultTTL.
func NewCache(resolve ResolveFunc, ttl time.Duration, opts ...Option) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &Cache{resolve: resolve, ttl: ttl, now: time.Now, logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TTL returns the configured time to live.
func (c *Cache) TTL() time.Duration { return c.ttl }

// Get returns the cached view, refreshing it first if it expired. The error
// is non-nil only when no view could be produced at all; the Result is
// usable either way.
func (c *Cache) Get(ctx context.Context) (Result, error) {
	if e := c.current.Load(); e != nil && c.now().Before(e.expires) {
		c.metrics.CacheRequest(metrics.CacheHit)
		return e.result(), nil
	}

	// The refresh outlives any one waiting caller.
	v, err, _ := c.group.Do(cacheKey, func() (any, error) {
		return c.refresh(context.WithoutCancel(ctx))
	})
	return v.(Result), err
}

func (c *Cache) refresh(ctx context.Context) (Result, error) {
	// A flight that finished just before this one may have filled the entry.
	if e := c.current.Load(); e != nil && c.now().Before(e.expires) {
		c.metrics.CacheRequest(metrics.CacheHit)
		return e.result(), nil
	}

	view, err := c.resolve(ctx)
	if err == nil {
		now := c.now()
		e := &entry{view: view, fetchedAt: now, expires: now.Add(c.ttl)}
		c.current.Store(e)
		c.metrics.CacheRequest(metrics.CacheMiss)
		return e.result(), nil
	}

	// The previous entry stays expired so the next reader retries.
	if prev := c.current.Load(); prev != nil {
		c.metrics.CacheRequest(metrics.CacheStale)
		c.logger.Warn("snapshot refresh failed, serving previous view",
			"error", err, "fetched_at", prev.fetchedAt)
		res := prev.result()
		res.Stale = true
		res.Diagnostic = fmt.Sprintf("refresh failed, showing data from %s: %v",
			prev.fetchedAt.UTC().Format(time.RFC3339), err)
		return res, nil
	}

	c.metrics.CacheRequest(metrics.CacheEmpty)
	c.logger.Error("snapshot refresh failed, no previous view", "error", err)
	return Result{
		View:       state.EmptyView(),
		Available:  false,
		Diagnostic: fmt.Sprintf("no data available: %v", err),
	}, fmt.Errorf("%w: %w", ErrNoData, err)
}
