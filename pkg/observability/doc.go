// Package observability provides structured logging, Prometheus metrics, health
// checks, and OpenTelemetry tracing for the permission engine.
//
// # Structured Logging
//
// Loggers are logrus loggers configured by level and format:
//
//	logger := observability.NewLogger(observability.InfoLevel, observability.FormatJSON, os.Stdout)
//	observability.Entry(ctx, logger).WithField("role", role).Info("role assigned")
//
// Entry attaches the request ID and, when a span is active, the trace and span IDs.
//
// # Prometheus Metrics
//
// Metrics implements rbac.Recorder, rbac.CacheRecorder and orgs.Recorder, so one
// value can be handed to the assigner, the permission checker, and the
// organization service:
//
//	metrics := observability.NewMetrics(prometheus.NewRegistry())
//	assigner := rbac.NewAssigner(registry, store, rbac.WithRecorder(metrics))
//	service := orgs.NewService(assigner, directory, teams, orgs.WithRecorder(metrics))
//
// Drift scans report through RecordScan. Handler serves the registry.
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(db, redisClient, version)
//	observability.RegisterHealthRoutes(router, checker)
//
// The database is required. An unreachable Redis only degrades readiness since
// the cached permission views it holds are rebuilt on demand.
//
// # Tracing
//
//	tp, err := observability.InitTracing(ctx, cfg, logger)
//	defer observability.ShutdownTracing(ctx, tp, logger)
//
// With tracing disabled the global no-op provider remains, and the spans opened by
// the assigner and plan application cost nothing.
//
// # Shutdown
//
// ShutdownManager stops the HTTP server and then runs registered cleanup functions
// concurrently within a timeout.
package observability
