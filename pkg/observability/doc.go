// Package observability provides structured logging, Prometheus metrics, OpenTelemetry
// tracing, health probes and ordered shutdown.
//
// # Structured Logging
//
// Logger wraps logrus with a JSON formatter:
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("provider", "keycloak").Info("session check complete")
//
// Request-scoped logging picks up the request ID set by httputil.RequestIDMiddleware:
//
//	observability.FromContext(r.Context()).Warn("callback rejected")
//
// # Prometheus Metrics
//
//	metrics := observability.NewMetrics(prometheus.NewRegistry())
//	metrics.RecordSessionCheck("ory", "authenticated", time.Since(start))
//	metrics.RecordOrganizationCleared("access_denied")
//
// Every Record method tolerates a nil *Metrics.
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(version)
//	checker.AddCheck("storage", true, kv.HealthCheck)
//	router.HandleFunc("/readyz", checker.Readiness)
//
// # OpenTelemetry
//
//	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
//		Enabled:     true,
//		Endpoint:    "otel-collector:4317",
//		ServiceName: "gatehouse",
//	}, logger)
//	defer observability.ShutdownOTel(ctx, providers, logger)
//
// # Related Packages
//
//   - pkg/config: Observability configuration
//   - pkg/httputil: Request ID, logging and recovery middleware
package observability
