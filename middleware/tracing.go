package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/embedpdf/pdfdispatch"
)

// tracerName is the instrumentation scope name for native call tracing.
const tracerName = "github.com/embedpdf/pdfdispatch/native"

// Tracing returns middleware that wraps each native call in an
// OpenTelemetry span. Without a global TracerProvider the noop tracer is
// used and the middleware is a pass-through.
//
// Span attributes: embedpdf.method, embedpdf.doc_id, embedpdf.seq, and on
// failure embedpdf.error_code.
func Tracing() Middleware {
	return TracingWithTracer(otel.Tracer(tracerName))
}

// TracingWithTracer returns tracing middleware using the provided tracer.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, c Call, next Handler) error {
		ctx, span := tracer.Start(ctx, "embedpdf.native."+c.Method,
			trace.WithAttributes(
				attribute.String("embedpdf.method", c.Method),
				attribute.String("embedpdf.doc_id", c.DocID),
				attribute.Int64("embedpdf.seq", int64(c.Seq)),
			),
			trace.WithSpanKind(trace.SpanKindInternal),
		)
		defer span.End()

		err := next(ctx)
		if err != nil {
			span.SetAttributes(attribute.String("embedpdf.error_code", embedpdf.AsReason(err).Code.String()))
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}

		return err
	}
}
