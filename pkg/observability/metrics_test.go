package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

func TestMetrics_Counters(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordAuthAttempt(OutcomeAuthenticated)
	m.RecordAuthAttempt(OutcomeAuthenticated)
	m.RecordAuthAttempt(OutcomeBypass)
	m.RecordUsageCheck("FREE", true)
	m.RecordUsageCheck("FREE", false)
	m.RecordPurged("refresh_tokens", 4)
	m.RecordPurged("refresh_tokens", 0)
	m.RecordThrottled()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.AuthAttemptsTotal.WithLabelValues(OutcomeAuthenticated)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AuthAttemptsTotal.WithLabelValues(OutcomeBypass)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.UsageChecksTotal.WithLabelValues("FREE", "denied")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.JanitorPurgedTotal.WithLabelValues("refresh_tokens")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LoginThrottledTotal))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordAuthAttempt(OutcomeNoToken)
		m.RecordUsageCheck("PRO", true)
		m.RecordLogin("success")
		m.RecordRefresh("success")
		m.RecordFederatedLogin("GOOGLE", "success")
		m.RecordThrottled()
		m.RecordPurged("codes", 1)
	})
}

func TestHTTPMetricsMiddleware_UsesRouteTemplate(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	router := mux.NewRouter()
	router.Use(HTTPMetricsMiddleware(m))
	router.HandleFunc("/api/admin/accounts/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	router.Handle("/metrics", m.Handler())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/admin/accounts/42", nil))
	require.Equal(t, http.StatusNoContent, rec.Code)

	assert.Equal(t, 1.0, testutil.ToFloat64(
		m.HTTPRequestsTotal.WithLabelValues(http.MethodDelete, "/api/admin/accounts/{id}", "204")))

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.True(t, strings.Contains(rec.Body.String(), "turnstile_http_requests_total"))
}

func TestOTelMetrics_MirrorsCounters(t *testing.T) {
	provider := sdkmetric.NewMeterProvider()
	otelMetrics, err := NewOTelMetricsWithMeter(provider.Meter(InstrumentationName))
	require.NoError(t, err)

	m := NewMetrics(prometheus.NewRegistry()).WithOTel(otelMetrics)
	assert.NotPanics(t, func() {
		m.RecordAuthAttempt(OutcomeRejected)
		m.RecordUsageCheck("PRO", true)
	})
}
