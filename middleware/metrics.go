package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name for native call metrics.
const meterName = "github.com/embedpdf/pdfdispatch/native"

// Metrics returns middleware that records per-call metrics using the
// global OTel MeterProvider. Without one, noop instruments are used.
//
// Instruments:
//   - embedpdf.native.duration (Float64Histogram): call time in seconds,
//     with attributes: method, status ("ok" or "error")
//   - embedpdf.native.calls (Int64Counter): total calls,
//     with attributes: method, status
func Metrics() Middleware {
	return MetricsWithMeter(otel.Meter(meterName))
}

// MetricsWithMeter returns metrics middleware using the provided meter.
func MetricsWithMeter(meter metric.Meter) Middleware {
	// On error the OTel API returns noop instruments.
	duration, _ := meter.Float64Histogram(
		"embedpdf.native.duration",
		metric.WithDescription("Duration of native library calls in seconds"),
		metric.WithUnit("s"),
	)
	calls, _ := meter.Int64Counter(
		"embedpdf.native.calls",
		metric.WithDescription("Total number of native library calls"),
		metric.WithUnit("{call}"),
	)

	return func(ctx context.Context, c Call, next Handler) error {
		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start).Seconds()

		status := "ok"
		if err != nil {
			status = "error"
		}
		attrs := metric.WithAttributes(
			attribute.String("method", c.Method),
			attribute.String("status", status),
		)
		duration.Record(ctx, elapsed, attrs)
		calls.Add(ctx, 1, attrs)

		return err
	}
}
