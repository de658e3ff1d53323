package ext

import (
	"context"
	"log/slog"
	"time"

	"github.com/embedpdf/pdfdispatch"
)

// entry pairs a hook implementation with the extension name captured at
// registration time, so emitters never type-assert back to Extension.
type entry[H any] struct {
	name string
	hook H
}

// Registry holds registered extensions and dispatches lifecycle events
// to them. It type-caches extensions at registration time so emit calls
// iterate only over extensions that implement the relevant hook.
//
// Register is not safe to call concurrently with the emitters; register
// every extension before the dispatcher starts.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	opQueued     []entry[OperationQueued]
	opDispatched []entry[OperationDispatched]
	opCompleted  []entry[OperationCompleted]
	opFailed     []entry[OperationFailed]
	opAborted    []entry[OperationAborted]
	opSuperseded []entry[OperationSuperseded]
	docOpened    []entry[DocumentOpened]
	docClosed    []entry[DocumentClosed]
	shutdown     []entry[Shutdown]
}

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

// Register adds an extension and type-asserts it into all applicable
// hook caches. Extensions are notified in registration order.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	name := e.Name()

	if h, ok := e.(OperationQueued); ok {
		r.opQueued = append(r.opQueued, entry[OperationQueued]{name, h})
	}
	if h, ok := e.(OperationDispatched); ok {
		r.opDispatched = append(r.opDispatched, entry[OperationDispatched]{name, h})
	}
	if h, ok := e.(OperationCompleted); ok {
		r.opCompleted = append(r.opCompleted, entry[OperationCompleted]{name, h})
	}
	if h, ok := e.(OperationFailed); ok {
		r.opFailed = append(r.opFailed, entry[OperationFailed]{name, h})
	}
	if h, ok := e.(OperationAborted); ok {
		r.opAborted = append(r.opAborted, entry[OperationAborted]{name, h})
	}
	if h, ok := e.(OperationSuperseded); ok {
		r.opSuperseded = append(r.opSuperseded, entry[OperationSuperseded]{name, h})
	}
	if h, ok := e.(DocumentOpened); ok {
		r.docOpened = append(r.docOpened, entry[DocumentOpened]{name, h})
	}
	if h, ok := e.(DocumentClosed); ok {
		r.docClosed = append(r.docClosed, entry[DocumentClosed]{name, h})
	}
	if h, ok := e.(Shutdown); ok {
		r.shutdown = append(r.shutdown, entry[Shutdown]{name, h})
	}
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension { return r.extensions }

// ──────────────────────────────────────────────────
// Operation event emitters
// ──────────────────────────────────────────────────

// EmitOperationQueued notifies all extensions that implement OperationQueued.
func (r *Registry) EmitOperationQueued(ctx context.Context, op Operation) {
	for _, e := range r.opQueued {
		if err := e.hook.OnOperationQueued(ctx, op); err != nil {
			r.logHookError("OnOperationQueued", e.name, err)
		}
	}
}

// EmitOperationDispatched notifies all extensions that implement OperationDispatched.
func (r *Registry) EmitOperationDispatched(ctx context.Context, op Operation, waited time.Duration) {
	for _, e := range r.opDispatched {
		if err := e.hook.OnOperationDispatched(ctx, op, waited); err != nil {
			r.logHookError("OnOperationDispatched", e.name, err)
		}
	}
}

// EmitOperationCompleted notifies all extensions that implement OperationCompleted.
func (r *Registry) EmitOperationCompleted(ctx context.Context, op Operation, elapsed time.Duration) {
	for _, e := range r.opCompleted {
		if err := e.hook.OnOperationCompleted(ctx, op, elapsed); err != nil {
			r.logHookError("OnOperationCompleted", e.name, err)
		}
	}
}

// EmitOperationFailed notifies all extensions that implement OperationFailed.
func (r *Registry) EmitOperationFailed(ctx context.Context, op Operation, opErr error) {
	for _, e := range r.opFailed {
		if err := e.hook.OnOperationFailed(ctx, op, opErr); err != nil {
			r.logHookError("OnOperationFailed", e.name, err)
		}
	}
}

// EmitOperationAborted notifies all extensions that implement OperationAborted.
func (r *Registry) EmitOperationAborted(ctx context.Context, op Operation, reason error) {
	for _, e := range r.opAborted {
		if err := e.hook.OnOperationAborted(ctx, op, reason); err != nil {
			r.logHookError("OnOperationAborted", e.name, err)
		}
	}
}

// EmitOperationSuperseded notifies all extensions that implement OperationSuperseded.
func (r *Registry) EmitOperationSuperseded(ctx context.Context, op Operation, dispatched bool) {
	for _, e := range r.opSuperseded {
		if err := e.hook.OnOperationSuperseded(ctx, op, dispatched); err != nil {
			r.logHookError("OnOperationSuperseded", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Document event emitters
// ──────────────────────────────────────────────────

// EmitDocumentOpened notifies all extensions that implement DocumentOpened.
func (r *Registry) EmitDocumentOpened(ctx context.Context, doc *embedpdf.Document) {
	for _, e := range r.docOpened {
		if err := e.hook.OnDocumentOpened(ctx, doc); err != nil {
			r.logHookError("OnDocumentOpened", e.name, err)
		}
	}
}

// EmitDocumentClosed notifies all extensions that implement DocumentClosed.
func (r *Registry) EmitDocumentClosed(ctx context.Context, docID string) {
	for _, e := range r.docClosed {
		if err := e.hook.OnDocumentClosed(ctx, docID); err != nil {
			r.logHookError("OnDocumentClosed", e.name, err)
		}
	}
}

// EmitShutdown notifies all extensions that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, e := range r.shutdown {
		if err := e.hook.OnShutdown(ctx); err != nil {
			r.logHookError("OnShutdown", e.name, err)
		}
	}
}

// logHookError logs a warning when a lifecycle hook returns an error.
// Hook errors are never propagated to the operation being observed.
func (r *Registry) logHookError(hook, extName string, err error) {
	r.logger.Warn("extension hook error",
		slog.String("hook", hook),
		slog.String("extension", extName),
		slog.String("error", err.Error()),
	)
}
