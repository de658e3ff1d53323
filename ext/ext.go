// Package ext defines the extension system for the dispatcher.
// Extensions are notified of lifecycle events (operation queued,
// dispatched, completed, superseded, document opened, etc.) and can react
// to them: logging, metrics, audit trails.
//
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about.
package ext

import (
	"context"
	"time"

	"github.com/embedpdf/pdfdispatch"
	"github.com/embedpdf/pdfdispatch/queue"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// Operation describes a dispatcher operation as seen by hooks.
type Operation struct {
	// Seq is the dispatcher-assigned sequence number, unique per dispatcher.
	Seq    uint64
	Method string
	DocID  string
	Class  queue.Class
	// DedupKey is empty for operations that are never superseded.
	DedupKey string
}

// ──────────────────────────────────────────────────
// Operation lifecycle hooks
// ──────────────────────────────────────────────────

// OperationQueued is called after an operation is accepted into a lane.
type OperationQueued interface {
	OnOperationQueued(ctx context.Context, op Operation) error
}

// OperationDispatched is called when an operation is handed to the executor.
type OperationDispatched interface {
	OnOperationDispatched(ctx context.Context, op Operation, waited time.Duration) error
}

// OperationCompleted is called after the executor resolves an operation.
type OperationCompleted interface {
	OnOperationCompleted(ctx context.Context, op Operation, elapsed time.Duration) error
}

// OperationFailed is called when the executor rejects an operation.
type OperationFailed interface {
	OnOperationFailed(ctx context.Context, op Operation, err error) error
}

// OperationAborted is called when a caller, a close or a shutdown aborts
// an operation. Supersession reports OperationSuperseded instead.
type OperationAborted interface {
	OnOperationAborted(ctx context.Context, op Operation, reason error) error
}

// OperationSuperseded is called when a newer operation with the same
// dedup key replaces op.
type OperationSuperseded interface {
	OnOperationSuperseded(ctx context.Context, op Operation, dispatched bool) error
}

// ──────────────────────────────────────────────────
// Document lifecycle hooks
// ──────────────────────────────────────────────────

// DocumentOpened is called once a document reaches the Open state.
type DocumentOpened interface {
	OnDocumentOpened(ctx context.Context, doc *embedpdf.Document) error
}

// DocumentClosed is called after a document handle is released.
type DocumentClosed interface {
	OnDocumentClosed(ctx context.Context, docID string) error
}

// ──────────────────────────────────────────────────
// Other lifecycle hooks
// ──────────────────────────────────────────────────

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
