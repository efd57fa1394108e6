// Package observability provides structured logging, Prometheus metrics, and health checks.
//
// # Structured Logging
//
// Create logger:
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("port", 8080).Info("Server started")
//
// # Prometheus Metrics
//
// Initialize metrics:
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	metrics.CacheHitsTotal.WithLabelValues("embed_credentials").Inc()
//
// # Health Checks
//
// Configure health checker with dependency probes:
//
//	checker := observability.NewHealthChecker(version)
//	checker.AddProbe("platform", func(ctx context.Context) error { return client.Ping(ctx) })
//	status := checker.Check(ctx)
//
// # Related Packages
//
//   - pkg/config: Observability configuration
//   - pkg/middleware: Request logging middleware
package observability
