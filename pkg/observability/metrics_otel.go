package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// InstrumentationName names the tracer and meter used across turnstile
const InstrumentationName = "github.com/platinummonkey/turnstile"

// OTelMetrics holds OpenTelemetry metric instruments. A nil *OTelMetrics
// records nothing.
type OTelMetrics struct {
	httpRequestsTotal   metric.Int64Counter
	httpRequestDuration metric.Float64Histogram
	authAttemptsTotal   metric.Int64Counter
	usageChecksTotal    metric.Int64Counter
}

// NewOTelMetrics creates instruments on the global meter provider
func NewOTelMetrics() (*OTelMetrics, error) {
	return NewOTelMetricsWithMeter(otel.Meter(InstrumentationName))
}

// NewOTelMetricsWithMeter creates instruments on the given meter
func NewOTelMetricsWithMeter(meter metric.Meter) (*OTelMetrics, error) {
	m := &OTelMetrics{}
	var err error

	m.httpRequestsTotal, err = meter.Int64Counter(
		"http.server.requests",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http_requests_total counter: %w", err)
	}

	m.httpRequestDuration, err = meter.Float64Histogram(
		"http.server.duration",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http_request_duration histogram: %w", err)
	}

	m.authAttemptsTotal, err = meter.Int64Counter(
		"turnstile.auth.attempts",
		metric.WithDescription("Authentication gate outcomes"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create auth_attempts counter: %w", err)
	}

	m.usageChecksTotal, err = meter.Int64Counter(
		"turnstile.usage.checks",
		metric.WithDescription("Metered request decisions"),
		metric.WithUnit("{check}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create usage_checks counter: %w", err)
	}

	return m, nil
}

func (m *OTelMetrics) recordHTTP(ctx context.Context, method, route string, statusCode int, seconds float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("http.method", method),
		attribute.String("http.route", route),
		attribute.Int("http.status_code", statusCode),
	)
	m.httpRequestsTotal.Add(ctx, 1, attrs)
	m.httpRequestDuration.Record(ctx, seconds, attrs)
}

func (m *OTelMetrics) recordAuthAttempt(outcome string) {
	if m == nil {
		return
	}
	m.authAttemptsTotal.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *OTelMetrics) recordUsageCheck(tier, decision string) {
	if m == nil {
		return
	}
	m.usageChecksTotal.Add(context.Background(), 1,
		metric.WithAttributes(
			attribute.String("tier", tier),
			attribute.String("decision", decision),
		))
}
