// Package observability provides structured logging, Prometheus metrics, health
// checks and OpenTelemetry tracing for the authcheck worker.
//
// # Structured Logging
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("auth_identity_id", id).Warn("AuthIdentity does not exist")
//
// Task-scoped logging:
//
//	ctx = observability.WithTask(ctx, task.ID, task.Name)
//	observability.ForTask(ctx, logger).Info("reconciling")
//
// # Prometheus Metrics
//
//	metrics := observability.NewMetrics(registry)
//	metrics.RecordSweep("ok", len(claimed), time.Since(start))
//	metrics.RecordReconciliation("invalid", time.Since(start))
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(db, redisClient, version)
//	observability.RegisterHealthRoutes(router, checker)
//
// # OpenTelemetry
//
//	providers, err := observability.InitOTel(ctx, cfg, logger)
//	defer observability.ShutdownOTel(ctx, providers, logger)
//
//	ctx, span := observability.StartSpan(ctx, "authcheck.sweep")
//	defer func() { observability.EndSpan(span, err) }()
//
// # Related Packages
//
//   - pkg/config: Observability configuration
//   - pkg/authcheck: Main consumer of metrics and spans
package observability
