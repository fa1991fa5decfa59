package snapshot

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"flight_tracker/internal/state"
	"flight_tracker/internal/storage"
)

var t0 = time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// countingResolver returns views whose single entity records the call number.
type countingResolver struct {
	calls atomic.Int32
	fail  atomic.Bool
}

func (r *countingResolver) resolve(ctx context.Context) (state.SnapshotView, error) {
	n := r.calls.Add(1)
	if r.fail.Load() {
		return state.SnapshotView{}, storage.ErrUnavailable
	}
	return state.Latest([]state.EntityState{
		{EntityID: "e1", OriginLabel: "Ireland", Latitude: float64(n), IngestedAt: t0},
	}), nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCacheTTL(t *testing.T) {
	clock := &fakeClock{now: t0}
	r := &countingResolver{}
	c := NewCache(r.resolve, 60*time.Second, WithClock(clock.Now), WithLogger(quietLogger()))
	ctx := context.Background()

	first, err := c.Get(ctx)
	if err != nil {
		t.Fatalf("get at 0s: %v", err)
	}
	if r.calls.Load() != 1 || !first.Available || first.Stale {
		t.Fatalf("after 0s: calls=%d result=%+v", r.calls.Load(), first)
	}

	clock.Set(t0.Add(30 * time.Second))
	second, _ := c.Get(ctx)
	if r.calls.Load() != 1 {
		t.Errorf("resolver called again within TTL: %d", r.calls.Load())
	}
	if e, _ := second.View.Get("e1"); e.Latitude != 1 {
		t.Errorf("expected cached view, got %+v", e)
	}

	clock.Set(t0.Add(61 * time.Second))
	third, _ := c.Get(ctx)
	if r.calls.Load() != 2 {
		t.Errorf("resolver not called after TTL: %d", r.calls.Load())
	}
	if e, _ := third.View.Get("e1"); e.Latitude != 2 {
		t.Errorf("expected fresh view, got %+v", e)
	}
	if !third.FetchedAt.Equal(t0.Add(61 * time.Second)) {
		t.Errorf("fetched_at = %v", third.FetchedAt)
	}
}

// TTL counts from population, so reading at 59s does not extend it.
func TestCacheTTLFromPopulation(t *testing.T) {
	clock := &fakeClock{now: t0}
	r := &countingResolver{}
	c := NewCache(r.resolve, 60*time.Second, WithClock(clock.Now))

	for _, at := range []time.Duration{0, 59 * time.Second, 60 * time.Second} {
		clock.Set(t0.Add(at))
		if _, err := c.Get(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	if r.calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", r.calls.Load())
	}
}

func TestCacheStaleFallback(t *testing.T) {
	clock := &fakeClock{now: t0}
	r := &countingResolver{}
	c := NewCache(r.resolve, time.Minute, WithClock(clock.Now), WithLogger(quietLogger()))
	ctx := context.Background()

	if _, err := c.Get(ctx); err != nil {
		t.Fatalf("warm up: %v", err)
	}

	r.fail.Store(true)
	clock.Set(t0.Add(2 * time.Minute))
	res, err := c.Get(ctx)
	if err != nil {
		t.Fatalf("stale get returned error: %v", err)
	}
	if !res.Stale || !res.Available {
		t.Errorf("result = %+v, want stale and available", res)
	}
	if e, _ := res.View.Get("e1"); e.Latitude != 1 {
		t.Errorf("expected previous view, got %+v", e)
	}
	if !res.FetchedAt.Equal(t0) {
		t.Errorf("fetched_at = %v, want the original population time", res.FetchedAt)
	}
	if !strings.Contains(res.Diagnostic, "refresh failed") {
		t.Errorf("diagnostic = %q", res.Diagnostic)
	}

	// Still expired: the next read retries and recovers.
	r.fail.Store(false)
	res, err = c.Get(ctx)
	if err != nil || res.Stale {
		t.Fatalf("recovery = %+v, %v", res, err)
	}
	if r.calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", r.calls.Load())
	}
}

func TestCacheNoPriorEntry(t *testing.T) {
	r := &countingResolver{}
	r.fail.Store(true)
	c := NewCache(r.resolve, time.Minute, WithLogger(quietLogger()))

	res, err := c.Get(context.Background())
	if !errors.Is(err, ErrNoData) || !errors.Is(err, storage.ErrUnavailable) {
		t.Fatalf("expected ErrNoData wrapping the cause, got %v", err)
	}
	if res.Available || res.Stale {
		t.Errorf("result = %+v", res)
	}
	if res.View.Len() != 0 || res.View.Entities == nil || res.View.GeneratedAt != nil {
		t.Errorf("expected an explicit empty view, got %+v", res.View)
	}
	if res.Diagnostic == "" {
		t.Error("missing diagnostic")
	}
}

func TestCacheSingleFlight(t *testing.T) {
	release := make(chan struct{})
	var calls atomic.Int32
	resolve := func(ctx context.Context) (state.SnapshotView, error) {
		calls.Add(1)
		<-release
		return state.EmptyView(), nil
	}
	c := NewCache(resolve, time.Minute)

	const readers = 16
	var wg sync.WaitGroup
	errs := make(chan error, readers)
	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Get(context.Background()); err != nil {
				errs <- err
			}
		}()
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("get: %v", err)
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("resolver called %d times, want 1", n)
	}
}

func TestCacheDefaultTTL(t *testing.T) {
	c := NewCache(func(context.Context) (state.SnapshotView, error) { return state.EmptyView(), nil }, 0)
	if c.TTL() != DefaultTTL {
		t.Errorf("ttl = %s", c.TTL())
	}
}

func sqliteOpener(t *testing.T) storage.Opener {
	return storage.DSNOpener("sqlite://" + filepath.Join(t.TempDir(), "flights.db"))
}

func TestResolverEmptyStore(t *testing.T) {
	r := &Resolver{Open: sqliteOpener(t), Timeout: 5 * time.Second}

	view, err := r.Resolve(context.Background())
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if view.Len() != 0 || view.GeneratedAt != nil {
		t.Errorf("view = %+v", view)
	}
}

func TestResolverLatestPerEntity(t *testing.T) {
	open := sqliteOpener(t)
	ctx := context.Background()

	s, err := open(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.EnsureSchema(ctx); err != nil {
		t.Fatal(err)
	}
	batches := []storage.Batch{
		{RunID: "r1", IngestedAt: t0.Add(1 * time.Minute), Rows: []state.EntityState{{EntityID: "e1", OriginLabel: "A", Latitude: 1}}},
		{RunID: "r2", IngestedAt: t0.Add(2 * time.Minute), Rows: []state.EntityState{{EntityID: "e2", OriginLabel: "B", Latitude: 2}}},
		{RunID: "r3", IngestedAt: t0.Add(3 * time.Minute), Rows: []state.EntityState{{EntityID: "e1", OriginLabel: "A", Latitude: 3}}},
	}
	for _, b := range batches {
		if err := s.AppendBatch(ctx, b); err != nil {
			t.Fatal(err)
		}
	}
	_ = s.Close()

	view, err := (&Resolver{Open: open}).Resolve(ctx)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if view.Len() != 2 {
		t.Fatalf("entities = %d", view.Len())
	}
	if e1, _ := view.Get("e1"); e1.Latitude != 3 {
		t.Errorf("e1 = %+v", e1)
	}
	// e2 was absent from the last run and must still be present.
	if e2, ok := view.Get("e2"); !ok || e2.Latitude != 2 {
		t.Errorf("e2 = %+v, %v", e2, ok)
	}
	if view.GeneratedAt == nil || !view.GeneratedAt.Equal(t0.Add(3*time.Minute)) {
		t.Errorf("watermark = %v", view.GeneratedAt)
	}
}

type slowStore struct{ storage.Store }

func (slowStore) LatestStates(ctx context.Context) ([]state.EntityState, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (slowStore) Close() error { return nil }

func TestResolverTimeout(t *testing.T) {
	r := &Resolver{
		Open:    func(context.Context) (storage.Store, error) { return slowStore{}, nil },
		Timeout: 20 * time.Millisecond,
	}
	_, err := r.Resolve(context.Background())
	if !errors.Is(err, storage.ErrUnavailable) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected ErrUnavailable wrapping the deadline, got %v", err)
	}
}

func TestResolverOpenFailure(t *testing.T) {
	r := &Resolver{Open: func(context.Context) (storage.Store, error) { return nil, errors.New("refused") }}
	if _, err := r.Resolve(context.Background()); !errors.Is(err, storage.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

// The cache and the resolver together: a store failure after a good read
// serves the earlier view as stale.
func TestCacheOverResolver(t *testing.T) {
	clock := &fakeClock{now: t0}
	open := sqliteOpener(t)
	var broken atomic.Bool
	r := &Resolver{Open: func(ctx context.Context) (storage.Store, error) {
		if broken.Load() {
			return nil, errors.New("connection refused")
		}
		return open(ctx)
	}}
	c := NewCache(r.Resolve, time.Minute, WithClock(clock.Now), WithLogger(quietLogger()))

	res, err := c.Get(context.Background())
	if err != nil || !res.Available || res.View.Len() != 0 {
		t.Fatalf("empty store = %+v, %v", res, err)
	}

	broken.Store(true)
	clock.Set(t0.Add(2 * time.Minute))
	res, err = c.Get(context.Background())
	if err != nil || !res.Stale {
		t.Fatalf("expected stale result, got %+v, %v", res, err)
	}
}
