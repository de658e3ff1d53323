package middleware

import (
	"context"
	"log/slog"
	"runtime/debug"

	"github.com/embedpdf/pdfdispatch"
)

// Recover returns middleware that recovers from panics in the handler
// chain, including wasm traps surfaced as panics. The panic becomes a
// CodeUnknown reason and is logged with a stack trace.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, c Call, next Handler) (retErr error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("native call panicked",
					slog.String("method", c.Method),
					slog.String("doc_id", c.DocID),
					slog.Any("panic", r),
					slog.String("stack", string(debug.Stack())),
				)
				retErr = embedpdf.NewReason(embedpdf.CodeUnknown, "panic in %s: %v", c.Method, r)
			}
		}()
		return next(ctx)
	}
}
