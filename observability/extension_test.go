package observability_test

import (
	"context"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/embedpdf/pdfdispatch"
	"github.com/embedpdf/pdfdispatch/ext"
	"github.com/embedpdf/pdfdispatch/observability"
	"github.com/embedpdf/pdfdispatch/queue"
)

func newTestExtension() (*observability.MetricsExtension, *sdkmetric.ManualReader) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	return observability.NewMetricsExtensionWithMeter(mp.Meter("test")), reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("failed to collect metrics: %v", err)
	}
	return rm
}

func sumOf(t *testing.T, rm metricdata.ResourceMetrics, name string) int64 {
	t.Helper()
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("%s: expected Sum[int64], got %T", name, m.Data)
			}
			var total int64
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
			return total
		}
	}
	t.Fatalf("%s metric not found", name)
	return 0
}

var testOp = ext.Operation{Seq: 7, Method: "renderPage", DocID: "doc_1", Class: queue.Interactive}

func TestMetricsExtension_Name(t *testing.T) {
	e, _ := newTestExtension()
	if e.Name() != "observability-metrics" {
		t.Errorf("expected name %q, got %q", "observability-metrics", e.Name())
	}
}

func TestMetricsExtension_OperationCounters(t *testing.T) {
	e, reader := newTestExtension()
	ctx := context.Background()

	_ = e.OnOperationQueued(ctx, testOp)
	_ = e.OnOperationQueued(ctx, testOp)
	_ = e.OnOperationDispatched(ctx, testOp, 5*time.Millisecond)
	_ = e.OnOperationCompleted(ctx, testOp, time.Millisecond)
	_ = e.OnOperationFailed(ctx, testOp, embedpdf.NewReason(embedpdf.CodeFormat, "bad xref"))
	_ = e.OnOperationAborted(ctx, testOp, embedpdf.ErrCancelled)
	_ = e.OnOperationSuperseded(ctx, testOp, true)

	rm := collect(t, reader)
	tests := []struct {
		name string
		want int64
	}{
		{"embedpdf.operation.queued", 2},
		{"embedpdf.operation.dispatched", 1},
		{"embedpdf.operation.completed", 1},
		{"embedpdf.operation.failed", 1},
		{"embedpdf.operation.aborted", 1},
		{"embedpdf.operation.superseded", 1},
	}
	for _, tt := range tests {
		if got := sumOf(t, rm, tt.name); got != tt.want {
			t.Errorf("%s = %d, want %d", tt.name, got, tt.want)
		}
	}
}

func TestMetricsExtension_OpenDocuments(t *testing.T) {
	e, reader := newTestExtension()
	ctx := context.Background()

	_ = e.OnDocumentOpened(ctx, &embedpdf.Document{ID: "a"})
	_ = e.OnDocumentOpened(ctx, &embedpdf.Document{ID: "b"})
	_ = e.OnDocumentClosed(ctx, "a")

	if got := sumOf(t, collect(t, reader), "embedpdf.documents.open"); got != 1 {
		t.Errorf("open documents = %d, want 1", got)
	}
}

func TestMetricsExtension_DefaultNoopSafe(t *testing.T) {
	e := observability.NewMetricsExtension()
	if err := e.OnOperationQueued(context.Background(), testOp); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
