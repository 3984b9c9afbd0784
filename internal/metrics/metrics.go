package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

var (
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "trustbond_build_info",
			Help: "Build information of trustbond",
		},
		[]string{"version", "commit", "date"},
	)

	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trustbond_operations_total",
			Help: "Total number of engine mutations",
		},
		[]string{"operation", "status"},
	)

	ClaimsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trustbond_claims_total",
			Help: "Total number of claim attempts by outcome",
		},
		[]string{"status"}, // "claimed", "rejected", "transfer_failed", "commit_failed"
	)

	ClaimedAmount = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "trustbond_claimed_amount_total",
			Help: "Sum of claimed rewards in base units, as a float approximation",
		},
	)

	CheckpointSteps = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "trustbond_checkpoint_steps_total",
			Help: "Weekly global checkpoint steps advanced by the keeper",
		},
	)

	CheckpointLag = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "trustbond_checkpoint_lag_weeks",
			Help: "Weeks the global checkpoint lags behind the clock",
		},
	)

	CurrentEpoch = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "trustbond_current_epoch",
			Help: "Current epoch number",
		},
	)

	CurrentEmissions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "trustbond_current_emissions",
			Help: "Emissions of the current epoch in base units, as a float approximation",
		},
	)

	PersistDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "trustbond_persist_duration_seconds",
			Help:    "Duration of state batch commits",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12), // 0.5ms to ~1s
		},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trustbond_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "trustbond_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// RecordOperation counts an engine mutation.
func RecordOperation(op string, err error) {
	status := StatusSuccess
	if err != nil {
		status = StatusError
	}
	OperationsTotal.WithLabelValues(op, status).Inc()
}

// RecordPersist observes how long a state commit took.
func RecordPersist(start time.Time) {
	PersistDuration.Observe(time.Since(start).Seconds())
}

// Float approximates a token amount for gauges and counters.
func Float(v *uint256.Int) float64 {
	return v.Float64()
}

// Middleware returns a chi middleware that records HTTP metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		// Use the route pattern if available, otherwise use the path
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			path = rctx.RoutePattern()
		}

		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(ww.Status())).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}
