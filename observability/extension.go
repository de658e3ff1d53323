package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/embedpdf/pdfdispatch"
	"github.com/embedpdf/pdfdispatch/ext"
)

// meterName is the instrumentation scope name for dispatcher metrics.
const meterName = "github.com/embedpdf/pdfdispatch/observability"

// Compile-time interface checks.
var (
	_ ext.Extension           = (*MetricsExtension)(nil)
	_ ext.OperationQueued     = (*MetricsExtension)(nil)
	_ ext.OperationDispatched = (*MetricsExtension)(nil)
	_ ext.OperationCompleted  = (*MetricsExtension)(nil)
	_ ext.OperationFailed     = (*MetricsExtension)(nil)
	_ ext.OperationAborted    = (*MetricsExtension)(nil)
	_ ext.OperationSuperseded = (*MetricsExtension)(nil)
	_ ext.DocumentOpened      = (*MetricsExtension)(nil)
	_ ext.DocumentClosed      = (*MetricsExtension)(nil)
)

// MetricsExtension records dispatcher lifecycle metrics through an OTel
// meter. Register it as an extension to track queue depth, wait time,
// completion and failure counts, supersession and open documents.
type MetricsExtension struct {
	Queued     metric.Int64Counter
	Dispatched metric.Int64Counter
	Completed  metric.Int64Counter
	Failed     metric.Int64Counter
	Aborted    metric.Int64Counter
	Superseded metric.Int64Counter
	QueueWait  metric.Float64Histogram
	OpenDocs   metric.Int64UpDownCounter
}

// NewMetricsExtension creates a MetricsExtension on the global MeterProvider.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension with the provided
// meter. On instrument errors the OTel API hands back noop instruments.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	counter := func(name, desc string) metric.Int64Counter {
		c, _ := meter.Int64Counter(name, metric.WithDescription(desc), metric.WithUnit("{operation}"))
		return c
	}
	wait, _ := meter.Float64Histogram("embedpdf.operation.queue_wait",
		metric.WithDescription("Time between acceptance and dispatch in seconds"),
		metric.WithUnit("s"))
	docs, _ := meter.Int64UpDownCounter("embedpdf.documents.open",
		metric.WithDescription("Documents currently open"),
		metric.WithUnit("{document}"))

	return &MetricsExtension{
		Queued:     counter("embedpdf.operation.queued", "Operations accepted into a lane"),
		Dispatched: counter("embedpdf.operation.dispatched", "Operations handed to the executor"),
		Completed:  counter("embedpdf.operation.completed", "Operations resolved by the executor"),
		Failed:     counter("embedpdf.operation.failed", "Operations rejected by the executor"),
		Aborted:    counter("embedpdf.operation.aborted", "Operations aborted by callers, close or shutdown"),
		Superseded: counter("embedpdf.operation.superseded", "Operations replaced by a newer request"),
		QueueWait:  wait,
		OpenDocs:   docs,
	}
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

func opAttrs(op ext.Operation) metric.MeasurementOption {
	return metric.WithAttributes(
		attribute.String("method", op.Method),
		attribute.String("class", op.Class.String()),
	)
}

// ── Operation lifecycle hooks ───────────────────────

// OnOperationQueued implements ext.OperationQueued.
func (m *MetricsExtension) OnOperationQueued(ctx context.Context, op ext.Operation) error {
	m.Queued.Add(ctx, 1, opAttrs(op))
	return nil
}

// OnOperationDispatched implements ext.OperationDispatched.
func (m *MetricsExtension) OnOperationDispatched(ctx context.Context, op ext.Operation, waited time.Duration) error {
	attrs := opAttrs(op)
	m.Dispatched.Add(ctx, 1, attrs)
	m.QueueWait.Record(ctx, waited.Seconds(), attrs)
	return nil
}

// OnOperationCompleted implements ext.OperationCompleted.
func (m *MetricsExtension) OnOperationCompleted(ctx context.Context, op ext.Operation, _ time.Duration) error {
	m.Completed.Add(ctx, 1, opAttrs(op))
	return nil
}

// OnOperationFailed implements ext.OperationFailed.
func (m *MetricsExtension) OnOperationFailed(ctx context.Context, op ext.Operation, err error) error {
	m.Failed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", op.Method),
		attribute.String("class", op.Class.String()),
		attribute.String("code", embedpdf.AsReason(err).Code.String()),
	))
	return nil
}

// OnOperationAborted implements ext.OperationAborted.
func (m *MetricsExtension) OnOperationAborted(ctx context.Context, op ext.Operation, _ error) error {
	m.Aborted.Add(ctx, 1, opAttrs(op))
	return nil
}

// OnOperationSuperseded implements ext.OperationSuperseded.
func (m *MetricsExtension) OnOperationSuperseded(ctx context.Context, op ext.Operation, dispatched bool) error {
	m.Superseded.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", op.Method),
		attribute.Bool("dispatched", dispatched),
	))
	return nil
}

// ── Document lifecycle hooks ────────────────────────

// OnDocumentOpened implements ext.DocumentOpened.
func (m *MetricsExtension) OnDocumentOpened(ctx context.Context, _ *embedpdf.Document) error {
	m.OpenDocs.Add(ctx, 1)
	return nil
}

// OnDocumentClosed implements ext.DocumentClosed.
func (m *MetricsExtension) OnDocumentClosed(ctx context.Context, _ string) error {
	m.OpenDocs.Add(ctx, -1)
	return nil
}
