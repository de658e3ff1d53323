package middleware

import (
	"context"
	"log/slog"
	"time"
)

// Logging returns middleware that logs each native call at debug level and
// failures at warn level.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, c Call, next Handler) error {
		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start)

		if err != nil {
			logger.Warn("native call failed",
				slog.String("method", c.Method),
				slog.String("doc_id", c.DocID),
				slog.Uint64("seq", c.Seq),
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()),
			)
		} else {
			logger.Debug("native call completed",
				slog.String("method", c.Method),
				slog.String("doc_id", c.DocID),
				slog.Uint64("seq", c.Seq),
				slog.Duration("elapsed", elapsed),
			)
		}

		return err
	}
}
