// Package metrics defines the Prometheus metric collectors used across the
// platform and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the platform.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	SearchQueriesTotal   *prometheus.CounterVec
	SearchLatency        *prometheus.HistogramVec
	SearchResultsCount   prometheus.Histogram
	TermCacheHitsTotal   prometheus.Counter
	TermCacheMissesTotal prometheus.Counter
	BloomRejectionsTotal *prometheus.CounterVec
	DocsIndexedTotal     prometheus.Counter
	DocsSkippedTotal     prometheus.Counter
	BuildDuration        prometheus.Histogram
	ShardLookupsTotal    *prometheus.CounterVec
	ShardTermCount       *prometheus.GaugeVec
	OptimizeRunsTotal    *prometheus.CounterVec
	ActiveShards         prometheus.Gauge
	CircuitBreakerState  *prometheus.GaugeVec
}

// New creates all Prometheus collectors and registers them with reg. Services
// pass prometheus.DefaultRegisterer; tests pass prometheus.NewRegistry() (or
// nil to skip registration) so parallel test packages never collide.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		SearchQueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "search_queries_total",
				Help: "Total search queries by result type (hit, zero_result, empty_query, error).",
			},
			[]string{"result_type"},
		),
		SearchLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "search_latency_seconds",
				Help:    "Search query latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"cache_status"},
		),
		SearchResultsCount: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "search_results_count",
				Help:    "Number of results returned per search query.",
				Buckets: []float64{0, 1, 5, 10, 25, 50, 100},
			},
		),
		TermCacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "term_cache_hits_total",
				Help: "Total number of term cache hits.",
			},
		),
		TermCacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "term_cache_misses_total",
				Help: "Total number of term cache misses.",
			},
		),
		BloomRejectionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bloom_rejections_total",
				Help: "Terms rejected by a Bloom filter before any store lookup.",
			},
			[]string{"filter"},
		),
		DocsIndexedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "docs_indexed_total",
				Help: "Total documents indexed.",
			},
		),
		DocsSkippedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "docs_skipped_total",
				Help: "Documents skipped due to read or decode failures.",
			},
		),
		BuildDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "index_build_duration_seconds",
				Help:    "Wall-clock duration of full index builds.",
				Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
			},
		),
		ShardLookupsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shard_lookups_total",
				Help: "Durable store lookups per shard.",
			},
			[]string{"shard_id"},
		),
		ShardTermCount: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "shard_term_count",
				Help: "Number of terms stored per shard.",
			},
			[]string{"shard_id"},
		),
		OptimizeRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "optimize_runs_total",
				Help: "Shard optimization runs by status.",
			},
			[]string{"status"},
		),
		ActiveShards: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "active_shards",
				Help: "Number of active index shards.",
			},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"name"},
		),
	}

	if reg == nil {
		return m
	}
	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.SearchQueriesTotal,
		m.SearchLatency,
		m.SearchResultsCount,
		m.TermCacheHitsTotal,
		m.TermCacheMissesTotal,
		m.BloomRejectionsTotal,
		m.DocsIndexedTotal,
		m.DocsSkippedTotal,
		m.BuildDuration,
		m.ShardLookupsTotal,
		m.ShardTermCount,
		m.OptimizeRunsTotal,
		m.ActiveShards,
		m.CircuitBreakerState,
	)

	return m
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
