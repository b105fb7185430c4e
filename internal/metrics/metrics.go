// Package metrics provides Prometheus instrumentation for the rebalancer.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// IterationsTotal counts account iterations by outcome.
	IterationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rebalancer_iterations_total",
		Help: "Rebalancing iterations by account and status",
	}, []string{"account", "status"})

	// IterationDuration tracks how long one account iteration takes.
	IterationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rebalancer_iteration_duration_seconds",
		Help:    "Rebalancing iteration duration in seconds",
		Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 300},
	}, []string{"account"})

	// OrdersTotal counts submitted orders by direction and result.
	OrdersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rebalancer_orders_total",
		Help: "Orders submitted to the broker",
	}, []string{"direction", "status"})

	// SkippedTickers counts tickers dropped from a plan because lookups failed.
	SkippedTickers = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rebalancer_skipped_tickers_total",
		Help: "Tickers skipped because instrument or price lookup failed",
	}, []string{"account"})

	// ValuationLookups counts where valuation metrics were served from.
	ValuationLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rebalancer_valuation_lookups_total",
		Help: "Valuation metric lookups by source",
	}, []string{"source"})

	// RateLookups counts where exchange rates were served from.
	RateLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rebalancer_rate_lookups_total",
		Help: "Exchange rate lookups by source",
	}, []string{"source"})

	// FundingShortfall is the unmet funding need of the last plan.
	FundingShortfall = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "rebalancer_funding_shortfall",
		Help: "Unmet funding need of the last plan in home currency",
	}, []string{"account"})

	// MarginUsage is the used/available margin ratio of the last iteration.
	MarginUsage = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "rebalancer_margin_usage_ratio",
		Help: "Used margin divided by available margin",
	}, []string{"account"})

	// JobRuns counts scheduled job executions by outcome.
	JobRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rebalancer_job_runs_total",
		Help: "Background job runs by job and status",
	}, []string{"job", "status"})

	// JobDuration tracks how long background jobs take.
	JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rebalancer_job_duration_seconds",
		Help:    "Background job run duration",
		Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
	}, []string{"job"})

	// WALFrames is the WAL size in frames seen by the last passive checkpoint.
	WALFrames = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "rebalancer_wal_frames",
		Help: "WAL frames per database at the last check",
	}, []string{"database"})

	// CacheEvictions counts expired client data rows removed by cleanup.
	CacheEvictions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rebalancer_cache_evictions_total",
		Help: "Expired client data cache rows removed",
	}, []string{"table"})

	// CacheEntries is the row count of each client data table after cleanup.
	CacheEntries = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "rebalancer_cache_entries",
		Help: "Client data cache rows per table",
	}, []string{"table"})

	// HTTPRequestsTotal counts HTTP requests by method, route and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rebalancer_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rebalancer_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware records request metrics labelled by chi route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			path = rctx.RoutePattern()
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
