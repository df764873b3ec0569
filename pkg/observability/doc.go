// Package observability provides logging setup, Prometheus and
// OpenTelemetry metrics, tracing, health checks, panic recovery and
// graceful shutdown for the biller service.
//
// # Logging
//
//	logger, err := observability.NewLogger(observability.LogConfig{Level: "info", Format: "json"})
//	observability.FromContext(ctx).WithField("invoice_id", id).Info("Processing invoice")
//
// # Metrics
//
// Metrics implements billing.Observer and billing.Reporter:
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	processor := billing.NewProcessor(..., billing.WithObserver(metrics))
//	service := billing.NewService(processor, invoices, logger, billing.WithReporters(metrics))
//
// OTelMetrics mirrors the same events as OpenTelemetry instruments; use
// Observers to feed both.
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(db, redisClient, version)
//	checker.AddCheck("report_archive", false, archive.HealthCheck)
//	observability.RegisterHealthRoutes(router, checker)
//
// # Shutdown
//
//	sm := observability.NewShutdownManager(logger, 30*time.Second)
//	sm.RegisterServer(apiServer)
//	sm.RegisterShutdownFunc("scheduler", sched.Stop)
//	err := sm.WaitForShutdown(ctx)
package observability
