package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels for turnstile_auth_attempts_total
const (
	OutcomeBypass        = "bypass"
	OutcomeNoToken       = "no_token"
	OutcomeInvalidToken  = "invalid_token"
	OutcomeWrongTokenUse = "wrong_token_use"
	OutcomeUnknownUser   = "unknown_user"
	OutcomeRejected      = "rejected"
	OutcomeStoreError    = "store_error"
	OutcomeAlreadyBound  = "already_bound"
	OutcomeAuthenticated = "authenticated"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Authentication metrics
	AuthAttemptsTotal    *prometheus.CounterVec
	LoginsTotal          *prometheus.CounterVec
	TokenRefreshTotal    *prometheus.CounterVec
	FederatedLoginsTotal *prometheus.CounterVec
	LoginThrottledTotal  prometheus.Counter

	// Usage metrics
	UsageChecksTotal *prometheus.CounterVec

	// Maintenance metrics
	JanitorPurgedTotal *prometheus.CounterVec

	registry *prometheus.Registry
	otel     *OTelMetrics
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "turnstile_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "turnstile_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		AuthAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "turnstile_auth_attempts_total",
				Help: "Authentication gate outcomes per request",
			},
			[]string{"outcome"},
		),
		LoginsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "turnstile_logins_total",
				Help: "Password login attempts by result",
			},
			[]string{"result"},
		),
		TokenRefreshTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "turnstile_token_refresh_total",
				Help: "Refresh token exchanges by result",
			},
			[]string{"result"},
		),
		FederatedLoginsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "turnstile_federated_logins_total",
				Help: "Federated login callbacks by provider and result",
			},
			[]string{"provider", "result"},
		),
		LoginThrottledTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "turnstile_login_throttled_total",
				Help: "Requests rejected by the login throttle",
			},
		),
		UsageChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "turnstile_usage_checks_total",
				Help: "Metered requests by tier and decision",
			},
			[]string{"tier", "decision"},
		),
		JanitorPurgedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "turnstile_janitor_purged_total",
				Help: "Records removed by background maintenance",
			},
			[]string{"kind"},
		),
		registry: registry,
	}

	if registry != nil {
		registry.MustRegister(
			m.HTTPRequestsTotal,
			m.HTTPRequestDuration,
			m.AuthAttemptsTotal,
			m.LoginsTotal,
			m.TokenRefreshTotal,
			m.FederatedLoginsTotal,
			m.LoginThrottledTotal,
			m.UsageChecksTotal,
			m.JanitorPurgedTotal,
		)
	}

	return m
}

// WithOTel mirrors selected counters into OpenTelemetry instruments
func (m *Metrics) WithOTel(otel *OTelMetrics) *Metrics {
	m.otel = otel
	return m
}

// RecordAuthAttempt counts one authentication gate outcome
func (m *Metrics) RecordAuthAttempt(outcome string) {
	if m == nil {
		return
	}
	m.AuthAttemptsTotal.WithLabelValues(outcome).Inc()
	m.otel.recordAuthAttempt(outcome)
}

// RecordUsageCheck counts one metered request decision
func (m *Metrics) RecordUsageCheck(tier string, allowed bool) {
	if m == nil {
		return
	}
	decision := "denied"
	if allowed {
		decision = "allowed"
	}
	m.UsageChecksTotal.WithLabelValues(tier, decision).Inc()
	m.otel.recordUsageCheck(tier, decision)
}

// RecordLogin counts a password login result
func (m *Metrics) RecordLogin(result string) {
	if m == nil {
		return
	}
	m.LoginsTotal.WithLabelValues(result).Inc()
}

// RecordRefresh counts a refresh token exchange result
func (m *Metrics) RecordRefresh(result string) {
	if m == nil {
		return
	}
	m.TokenRefreshTotal.WithLabelValues(result).Inc()
}

// RecordFederatedLogin counts a federated callback result
func (m *Metrics) RecordFederatedLogin(provider, result string) {
	if m == nil {
		return
	}
	m.FederatedLoginsTotal.WithLabelValues(provider, result).Inc()
}

// RecordThrottled counts a request rejected by the login throttle
func (m *Metrics) RecordThrottled() {
	if m == nil {
		return
	}
	m.LoginThrottledTotal.Inc()
}

// RecordPurged adds n to the janitor counter for kind
func (m *Metrics) RecordPurged(kind string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.JanitorPurgedTotal.WithLabelValues(kind).Add(float64(n))
}

// Handler serves the registry in Prometheus text format
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// routeLabel uses the mux route template so path parameters do not explode
// label cardinality
func routeLabel(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return "unmatched"
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics
func HTTPMetricsMiddleware(metrics *Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			route := routeLabel(r)
			duration := time.Since(start).Seconds()
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(duration)
			metrics.otel.recordHTTP(r.Context(), r.Method, route, rw.statusCode, duration)
		})
	}
}
