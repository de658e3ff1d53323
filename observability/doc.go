// Package observability provides an OpenTelemetry metrics extension for
// the dispatcher. The MetricsExtension implements lifecycle hooks to
// record counters for queued, dispatched, completed, failed, aborted and
// superseded operations, a queue-wait histogram, and the number of open
// documents.
//
// For per-call tracing and metrics around the native library, see the
// middleware package: middleware.Tracing() and middleware.Metrics().
package observability
