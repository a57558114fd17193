package obs

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Authentication outcomes recorded by the request gate.
const (
	AuthOutcomeSuccess          = "success"
	AuthOutcomeMissingToken     = "missing_token"
	AuthOutcomeInvalidToken     = "invalid_token"
	AuthOutcomeExpiredToken     = "expired_token"
	AuthOutcomeUserNotFound     = "user_not_found"
	AuthOutcomeAccountDisabled  = "account_disabled"
	AuthOutcomeStoreUnavailable = "store_unavailable"
	AuthOutcomeFailOpen         = "fail_open"
)

var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	authOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_outcomes_total",
			Help: "Authentication gate outcomes.",
		},
		[]string{"outcome"},
	)

	permissionDenialsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "permission_denials_total",
			Help: "Requests rejected by the permission engine.",
		},
		[]string{"resource_type", "action"},
	)

	refreshTokensSweptTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "refresh_tokens_swept_total",
		Help: "Expired refresh tokens removed by the sweeper.",
	})
)

// Init registers all metrics with the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight,
		httpRequestsTotal,
		httpRequestDuration,
		authOutcomesTotal,
		permissionDenialsTotal,
		refreshTokensSweptTotal,
	)
}

// Handler serves the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

func RecordAuthOutcome(outcome string) {
	authOutcomesTotal.WithLabelValues(outcome).Inc()
}

func RecordPermissionDenial(resourceType, action string) {
	permissionDenialsTotal.WithLabelValues(resourceType, action).Inc()
}

func RecordSweptTokens(n int) {
	refreshTokensSweptTotal.Add(float64(n))
}

// Instrument measures request counts, latency and in-flight requests.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		// The route pattern keeps label cardinality bounded; raw paths
		// with IDs in them would create a series per user.
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			path = rctx.RoutePattern()
		}

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// statusWriter captures the response code for labelling.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
