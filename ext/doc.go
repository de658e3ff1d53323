// Package ext defines the extension system for the dispatcher.
//
// Extensions are notified of lifecycle events and can react to them by
// recording metrics or writing audit logs. Each lifecycle hook is a
// separate interface so extensions opt in only to the events they care
// about.
//
// # Implementing an Extension
//
//	type SlowRenders struct{ log *slog.Logger }
//
//	func (e *SlowRenders) Name() string { return "slow-renders" }
//
//	func (e *SlowRenders) OnOperationCompleted(ctx context.Context, op ext.Operation, elapsed time.Duration) error {
//	    if elapsed > 200*time.Millisecond {
//	        e.log.Info("slow operation", "method", op.Method, "elapsed", elapsed)
//	    }
//	    return nil
//	}
//
// # Operation Hooks
//
//   - [OperationQueued]: the operation was accepted into a priority lane
//   - [OperationDispatched]: the operation was handed to the executor
//   - [OperationCompleted]: the executor resolved it
//   - [OperationFailed]: the executor rejected it
//   - [OperationAborted]: a caller, close or shutdown aborted it
//   - [OperationSuperseded]: a newer request with the same key replaced it
//
// # Document Hooks
//
//   - [DocumentOpened]: the document reached the Open state
//   - [DocumentClosed]: the document handle was released
//
// # Other Hooks
//
//   - [Shutdown]: the dispatcher is shutting down
//
// The [Registry] fans out each event to all registered extensions that
// implement the corresponding hook interface.
package ext
