// Package metrics exposes Prometheus instruments for ingestion and the
// snapshot cache. A nil *Metrics is valid and records nothing.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
)

const namespace = "flight_tracker"

// Ingest run outcomes.
const (
	RunOK         = "ok"
	RunEmpty      = "empty"
	RunFeedError  = "feed_error"
	RunStoreError = "store_error"
)

// Cache lookup outcomes.
const (
	CacheHit   = "hit"
	CacheMiss  = "miss"
	CacheStale = "stale"
	CacheEmpty = "empty"
)

// Metrics owns a private registry so tests and the push client see only
// these series.
type Metrics struct {
	Registry *prometheus.Registry

	ingestRuns      *prometheus.CounterVec
	rowsWritten     prometheus.Counter
	rowsDropped     *prometheus.CounterVec
	lastIngest      prometheus.Gauge
	cacheRequests   *prometheus.CounterVec
	resolveDuration prometheus.Histogram
	entities        prometheus.Gauge
}

// New registers all instruments. withRuntime adds the Go and process
// collectors, which a long-running server wants and a pushed batch job does
// not.
func New(withRuntime bool) *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		ingestRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_runs_total",
			Help:      "Ingestion runs by outcome.",
		}, []string{"result"}),
		rowsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_rows_written_total",
			Help:      "Rows appended to the store.",
		}),
		rowsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_rows_dropped_total",
			Help:      "Upstream records excluded by the normalizer.",
		}, []string{"reason"}),
		lastIngest: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ingest_last_success_timestamp_seconds",
			Help:      "ingested_at of the last successful run.",
		}),
		cacheRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshot_cache_requests_total",
			Help:      "Snapshot cache lookups by outcome.",
		}, []string{"result"}),
		resolveDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "snapshot_resolve_duration_seconds",
			Help:      "Time spent resolving the latest state from the store.",
			Buckets:   prometheus.DefBuckets,
		}),
		entities: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "snapshot_entities",
			Help:      "Aircraft in the most recently resolved view.",
		}),
	}

	m.Registry.MustRegister(
		m.ingestRuns, m.rowsWritten, m.rowsDropped, m.lastIngest,
		m.cacheRequests, m.resolveDuration, m.entities,
	)
	if withRuntime {
		m.Registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return m
}

// IngestRun records one run outcome. written and dropped are only counted
// for successful runs.
func (m *Metrics) IngestRun(result string, written int, dropped map[string]int, ingestedAt time.Time) {
	if m == nil {
		return
	}
	m.ingestRuns.WithLabelValues(result).Inc()
	if result != RunOK && result != RunEmpty {
		return
	}
	m.rowsWritten.Add(float64(written))
	for reason, n := range dropped {
		m.rowsDropped.WithLabelValues(reason).Add(float64(n))
	}
	if !ingestedAt.IsZero() {
		m.lastIngest.Set(float64(ingestedAt.UnixMilli()) / 1000)
	}
}

// CacheRequest counts one cache lookup.
func (m *Metrics) CacheRequest(result string) {
	if m == nil {
		return
	}
	m.cacheRequests.WithLabelValues(result).Inc()
}

// Resolved records a successful resolve.
func (m *Metrics) Resolved(d time.Duration, entities int) {
	if m == nil {
		return
	}
	m.resolveDuration.Observe(d.Seconds())
	m.entities.Set(float64(entities))
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

// Push sends the registry to a Pushgateway under job, replacing the
// previous push for that job.
func (m *Metrics) Push(ctx context.Context, gatewayURL, job string) error {
	if m == nil || gatewayURL == "" {
		return nil
	}
	if err := push.New(gatewayURL, job).Gatherer(m.Registry).PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	return nil
}
