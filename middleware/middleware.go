// Package middleware provides composable middleware around native library
// calls. Middleware wraps each call synchronously on the serializer
// goroutine and can observe or alter its outcome (recover from traps, log,
// add tracing, record metrics).
package middleware

import "context"

// Call describes one native executor operation.
type Call struct {
	// Seq is the executor-assigned sequence number.
	Seq    uint64
	Method string
	// DocID is empty for calls that do not target a document.
	DocID string
}

// Handler is the terminal function that performs the native work.
type Handler func(ctx context.Context) error

// Middleware wraps a Handler with cross-cutting logic.
// It receives the current context, the call being executed, and the
// next handler to call. Middleware MUST call next to continue the chain
// (unless short-circuiting on error).
type Middleware func(ctx context.Context, c Call, next Handler) error

// Chain composes multiple middleware into a single Middleware.
// The first middleware in the list is the outermost wrapper.
//
// Example: Chain(logging, recover, tracing) executes as:
//
//	logging → recover → tracing → handler
func Chain(mws ...Middleware) Middleware {
	return func(ctx context.Context, c Call, next Handler) error {
		h := next
		for i := len(mws) - 1; i >= 0; i-- {
			mw := mws[i]
			prev := h
			h = func(ctx context.Context) error {
				return mw(ctx, c, prev)
			}
		}
		return h(ctx)
	}
}
