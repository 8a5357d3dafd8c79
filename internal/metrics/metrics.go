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
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aurora_http_requests_total",
			Help: "Total HTTP requests by method, route, and status",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aurora_http_request_duration_seconds",
			Help:    "HTTP request latency distribution",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"method", "route"},
	)

	pushDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aurora_push_deliveries_total",
			Help: "Push delivery attempts by network, environment, and outcome",
		},
		[]string{"network", "environment", "outcome"},
	)

	pushDeliveryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aurora_push_delivery_duration_seconds",
			Help:    "Time spent in a single provider call",
			Buckets: []float64{.05, .1, .25, .5, 1, 2, 5, 10},
		},
		[]string{"network"},
	)

	remindersScheduled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aurora_reminders_scheduled_total",
			Help: "Reminders written to the store by type",
		},
		[]string{"type"},
	)

	sweepReminders = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aurora_sweep_reminders_total",
			Help: "Reminders handled by the sweep by result",
		},
		[]string{"result"},
	)

	sweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "aurora_sweep_duration_seconds",
			Help:    "Duration of a full reminder sweep",
			Buckets: []float64{.1, .5, 1, 5, 10, 30, 60, 120},
		},
	)

	sweepTriggersInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "aurora_sweep_triggers_in_flight",
			Help: "Sweep trigger messages currently being processed from SQS",
		},
	)

	authChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aurora_auth_checks_total",
			Help: "Signature checks by route and outcome (primary, legacy, rejected)",
		},
		[]string{"route", "outcome"},
	)

	rateLimitRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aurora_rate_limit_rejections_total",
			Help: "Requests rejected by rate limiter",
		},
		[]string{"route"},
	)

	circuitState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "aurora_circuit_state",
			Help: "Circuit breaker state per backend (0 closed, 1 open, 2 half-open)",
		},
		[]string{"backend"},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRequest records HTTP request metrics
func RecordRequest(method, route string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordDelivery records a single provider call
func RecordDelivery(network string, sandbox, success bool, duration time.Duration) {
	env := "production"
	if sandbox {
		env = "sandbox"
	}
	outcome := "failed"
	if success {
		outcome = "delivered"
	}
	pushDeliveries.WithLabelValues(network, env, outcome).Inc()
	pushDeliveryDuration.WithLabelValues(network).Observe(duration.Seconds())
}

// RecordReminderScheduled records one stored reminder
func RecordReminderScheduled(reminderType string) {
	remindersScheduled.WithLabelValues(reminderType).Inc()
}

// RecordSweep records the tallies of one sweep run
func RecordSweep(found, sent, stale, failed, skipped int, duration time.Duration) {
	sweepReminders.WithLabelValues("found").Add(float64(found))
	sweepReminders.WithLabelValues("sent").Add(float64(sent))
	sweepReminders.WithLabelValues("stale").Add(float64(stale))
	sweepReminders.WithLabelValues("failed").Add(float64(failed))
	sweepReminders.WithLabelValues("skipped").Add(float64(skipped))
	sweepDuration.Observe(duration.Seconds())
}

// SetSweepTriggersInFlight sets the current in-flight trigger count
func SetSweepTriggersInFlight(count int) {
	sweepTriggersInFlight.Set(float64(count))
}

// RecordAuthCheck records a signature gate decision
func RecordAuthCheck(route, outcome string) {
	authChecks.WithLabelValues(route, outcome).Inc()
}

// RecordRateLimitRejection records a rate limit rejection
func RecordRateLimitRejection(route string) {
	rateLimitRejections.WithLabelValues(route).Inc()
}

// SetCircuitState publishes a breaker state for a backend
func SetCircuitState(backend string, state int) {
	circuitState.WithLabelValues(backend).Set(float64(state))
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware returns HTTP middleware that records request metrics.
// Routes are labelled by chi pattern so pub keys never become label values.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}

		RecordRequest(r.Method, route, wrapped.status, time.Since(start))
	})
}
