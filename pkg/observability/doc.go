// Package observability provides structured logging, Prometheus metrics,
// OpenTelemetry tracing, health probes and graceful shutdown.
//
// # Structured Logging
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("email", email).Info("account verified")
//
// Request handlers use FromContext, which picks up the request id and the
// authenticated user set by middleware:
//
//	observability.FromContext(r.Context()).Debug("token rejected")
//
// # Prometheus Metrics
//
//	metrics := observability.NewMetrics(prometheus.NewRegistry())
//	metrics.RecordAuthAttempt(observability.OutcomeAuthenticated)
//	router.Handle("/metrics", metrics.Handler())
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(store, redisClient, version)
//	router.HandleFunc("/healthz", checker.Liveness)
//	router.HandleFunc("/readyz", checker.Readiness)
//
// # OpenTelemetry
//
//	telemetry, err := observability.InitOTel(ctx, cfg, logger)
//	defer telemetry.Shutdown(ctx)
//	ctx, span := observability.StartSpan(ctx, "auth.gate")
//	defer span.End()
package observability
