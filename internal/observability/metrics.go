package observability

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// HTTPRequestsTotal counts HTTP requests by route, method, and status label.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	// HTTPRequestDuration records request durations by route and method.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"route", "method"},
	)

	// AllocatorRequestsTotal counts allocate attempts by KV (primary, secondary)
	// and result (ok, error).
	AllocatorRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "allocator_requests_total",
			Help: "Total number of range-allocation requests",
		},
		[]string{"kv", "result"},
	)
	// AllocatorRequestDuration records allocate RPC latency.
	AllocatorRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "allocator_request_duration_seconds",
			Help:    "Range-allocation request duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
		},
		[]string{"kv"},
	)

	// MinterRefillsTotal counts local range refills performed by edge minters.
	MinterRefillsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "minter_refills_total",
			Help: "Total number of code-minter range refills",
		},
		[]string{"result"},
	)

	// CacheLookupsTotal counts cache lookups by outcome (hit, miss, negative).
	CacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_lookups_total",
			Help: "Total number of cache lookups by outcome",
		},
		[]string{"outcome"},
	)
	// CacheLockContentionTotal counts distributed-lock acquisition attempts.
	CacheLockContentionTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_lock_contention_total",
			Help: "Total number of cache stampede lock acquisitions by outcome",
		},
		[]string{"outcome"},
	)

	// RedirectDuration records end-to-end redirect resolution latency.
	RedirectDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "redirect_duration_seconds",
			Help:    "Redirect resolution duration in seconds",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
		},
		[]string{"source"},
	)
	// ShortenTotal counts shorten requests by result.
	ShortenTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shorten_requests_total",
			Help: "Total number of shorten requests by result",
		},
		[]string{"result"},
	)

	// ClickEventsPublishedTotal counts click events published by destination
	// (broker, fallback) and outcome.
	ClickEventsPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "click_events_published_total",
			Help: "Total number of click events published",
		},
		[]string{"destination", "outcome"},
	)

	// WorkerFlushTotal counts ingestion-worker flush cycles by trigger and result.
	WorkerFlushTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_flush_total",
			Help: "Total number of click-ingestion flush cycles",
		},
		[]string{"trigger", "result"},
	)
	// WorkerFlushBatchSize records the number of distinct codes flushed per cycle.
	WorkerFlushBatchSize = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "worker_flush_batch_size",
			Help:    "Number of distinct short codes flushed per cycle",
			Buckets: []float64{1, 10, 50, 100, 250, 500, 1000, 5000},
		},
	)
	// WorkerOLAPWriteFailuresTotal counts dropped OLAP inserts.
	WorkerOLAPWriteFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_olap_write_failures_total",
			Help: "Total number of OLAP batch inserts dropped after failure",
		},
		[]string{"worker_id"},
	)

	// WarmerRunsTotal counts cache-warmer ticks by result.
	WarmerRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warmer_runs_total",
			Help: "Total number of cache-warmer runs",
		},
		[]string{"result"},
	)
	// WarmerKeysWarmed records the number of keys warmed per run.
	WarmerKeysWarmed = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "warmer_keys_warmed",
			Help:    "Number of keys warmed per cache-warmer run",
			Buckets: []float64{1, 10, 100, 500, 1000, 5000, 10000},
		},
	)

	// CircuitBreakerStatus tracks circuit breaker state (0=closed, 1=open, 2=half-open).
	CircuitBreakerStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_status",
			Help: "Circuit breaker status (0=closed, 1=open, 2=half-open)",
		},
		[]string{"name"},
	)
)

// InitMetrics registers all Prometheus metrics with the default registry.
func InitMetrics() {
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(AllocatorRequestsTotal)
	prometheus.MustRegister(AllocatorRequestDuration)
	prometheus.MustRegister(MinterRefillsTotal)
	prometheus.MustRegister(CacheLookupsTotal)
	prometheus.MustRegister(CacheLockContentionTotal)
	prometheus.MustRegister(RedirectDuration)
	prometheus.MustRegister(ShortenTotal)
	prometheus.MustRegister(ClickEventsPublishedTotal)
	prometheus.MustRegister(WorkerFlushTotal)
	prometheus.MustRegister(WorkerFlushBatchSize)
	prometheus.MustRegister(WorkerOLAPWriteFailuresTotal)
	prometheus.MustRegister(WarmerRunsTotal)
	prometheus.MustRegister(WarmerKeysWarmed)
	prometheus.MustRegister(CircuitBreakerStatus)
}

// HTTPMetricsMiddleware records Prometheus metrics for each request.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		dur := time.Since(start).Seconds()
		var route string
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		if route == "" {
			route = r.URL.Path
		}
		method := r.Method
		status := ww.Status()
		HTTPRequestsTotal.WithLabelValues(route, method, http.StatusText(status)).Inc()
		HTTPRequestDuration.WithLabelValues(route, method).Observe(dur)
	})
}

// RecordCircuitBreakerStatus records circuit breaker state.
func RecordCircuitBreakerStatus(name string, status int) {
	CircuitBreakerStatus.WithLabelValues(name).Set(float64(status))
}
