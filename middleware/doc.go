// Package middleware provides composable middleware for native calls.
//
// A [Middleware] wraps the handler that performs one native executor
// operation. Middleware are composed into a chain using [Chain]; the first
// middleware in the slice is the outermost wrapper.
//
//	// logging → recover → handler
//	chain := middleware.Chain(middleware.Logging(logger), middleware.Recover(logger))
//
// # Built-in Middleware
//
//   - [Logging]: logs method, document, duration and outcome
//   - [Recover]: turns panics and wasm traps into CodeUnknown reasons
//   - [Tracing]: wraps each call in an OpenTelemetry span
//   - [Metrics]: records per-method duration and outcome counters
//
// Middleware runs on the executor's serializer goroutine, so it must not
// block on other executor operations.
package middleware
