package obs

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
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

	authzDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portero_authz_decisions_total",
			Help: "Authorization decisions by deciding policy source and outcome.",
		},
		[]string{"source", "outcome"},
	)

	loginAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portero_login_attempts_total",
			Help: "Login attempts by outcome.",
		},
		[]string{"outcome"},
	)

	lockouts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "portero_lockouts_total",
		Help: "Identities moved into the locked state.",
	})

	sweepRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portero_sweep_runs_total",
			Help: "Password expiry sweep executions by result.",
		},
		[]string{"result"},
	)

	notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portero_notifications_total",
			Help: "Notifications handed to the notifier by kind and delivery status.",
		},
		[]string{"kind", "status"},
	)

	registerOnce sync.Once
)

// InitMetrics registers all collectors in the default registry once.
func InitMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			authzDecisions, loginAttempts, lockouts, sweepRuns, notifications,
		)
	})
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveDecision counts an authorization decision.
func ObserveDecision(source string, allowed bool) {
	outcome := "deny"
	if allowed {
		outcome = "allow"
	}
	authzDecisions.WithLabelValues(source, outcome).Inc()
}

// ObserveLogin counts a login attempt outcome.
func ObserveLogin(outcome string) { loginAttempts.WithLabelValues(outcome).Inc() }

// ObserveLockout counts a transition into the locked state.
func ObserveLockout() { lockouts.Inc() }

// ObserveSweep counts a sweep execution (ok, failed, skipped).
func ObserveSweep(result string) { sweepRuns.WithLabelValues(result).Inc() }

// ObserveNotification counts a notification by kind and status.
func ObserveNotification(kind, status string) { notifications.WithLabelValues(kind, status).Inc() }

// Instrument measures rate, latency and in-flight requests. route labels the
// request with its pattern instead of the raw path.
func Instrument(next http.Handler, route func(*http.Request) string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpInFlight.Inc()
		defer httpInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		path := r.URL.Path
		if route != nil {
			if p := route(r); p != "" {
				path = p
			}
		}
		status := strconv.Itoa(sw.code)
		httpRequestDuration.WithLabelValues(r.Method, path, status).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
	})
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
