// Package observability carries the logging, metrics, tracing, health and
// shutdown plumbing shared by the usersync binaries.
//
// Logger is a JSON logger on log/slog. Loggers derived with WithField share
// one level, so an overlay reload can change verbosity at runtime:
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("username", "naruto").Info("user reconciled")
//	logger.SetLevel(observability.DebugLevel)
//
// Metrics registers the Prometheus collectors for HTTP traffic, reconciles,
// identity provider pushes and sweeps on a caller supplied registry:
//
//	metrics := observability.NewMetrics(prometheus.NewRegistry())
//	metrics.RecordReconcile(observability.OutcomeCreated)
//
// When OpenTelemetry export is enabled, InitOTel installs OTLP tracer and
// meter providers and Metrics.WithOTel mirrors the counters to them.
//
// HealthChecker backs the /health, /health/live and /health/ready probes.
// The database and Redis are built in; identity provider and archive checks
// are added with AddCheck and may be marked non-critical.
//
// ShutdownManager stops the HTTP servers on SIGINT or SIGTERM and then runs
// the registered cleanup functions in order.
package observability
