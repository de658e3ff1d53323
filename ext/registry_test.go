package ext_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/embedpdf/pdfdispatch"
	"github.com/embedpdf/pdfdispatch/ext"
	"github.com/embedpdf/pdfdispatch/queue"
)

// ──────────────────────────────────────────────────
// Test extensions
// ──────────────────────────────────────────────────

// allHooksExt implements every lifecycle hook for testing.
type allHooksExt struct {
	calls []string
}

func (e *allHooksExt) Name() string { return "all-hooks" }

func (e *allHooksExt) record(name string) error {
	e.calls = append(e.calls, name)
	return nil
}

func (e *allHooksExt) OnOperationQueued(context.Context, ext.Operation) error {
	return e.record("OnOperationQueued")
}

func (e *allHooksExt) OnOperationDispatched(context.Context, ext.Operation, time.Duration) error {
	return e.record("OnOperationDispatched")
}

func (e *allHooksExt) OnOperationCompleted(context.Context, ext.Operation, time.Duration) error {
	return e.record("OnOperationCompleted")
}

func (e *allHooksExt) OnOperationFailed(context.Context, ext.Operation, error) error {
	return e.record("OnOperationFailed")
}

func (e *allHooksExt) OnOperationAborted(context.Context, ext.Operation, error) error {
	return e.record("OnOperationAborted")
}

func (e *allHooksExt) OnOperationSuperseded(context.Context, ext.Operation, bool) error {
	return e.record("OnOperationSuperseded")
}

func (e *allHooksExt) OnDocumentOpened(context.Context, *embedpdf.Document) error {
	return e.record("OnDocumentOpened")
}

func (e *allHooksExt) OnDocumentClosed(context.Context, string) error {
	return e.record("OnDocumentClosed")
}

func (e *allHooksExt) OnShutdown(context.Context) error {
	return e.record("OnShutdown")
}

// docOnlyExt only implements document hooks.
type docOnlyExt struct {
	calls []string
}

func (e *docOnlyExt) Name() string { return "doc-only" }

func (e *docOnlyExt) OnDocumentOpened(context.Context, *embedpdf.Document) error {
	e.calls = append(e.calls, "OnDocumentOpened")
	return nil
}

// failingExt returns errors from hooks.
type failingExt struct{}

func (e *failingExt) Name() string { return "failing" }

func (e *failingExt) OnOperationQueued(context.Context, ext.Operation) error {
	return errors.New("boom")
}

// ──────────────────────────────────────────────────
// Tests
// ──────────────────────────────────────────────────

var testOp = ext.Operation{Seq: 1, Method: "renderPage", DocID: "doc_1", Class: queue.Interactive}

func TestRegistry_RegisterDiscoversInterfaces(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	r.Register(&allHooksExt{})

	if got := len(r.Extensions()); got != 1 {
		t.Fatalf("expected 1 extension, got %d", got)
	}
	if got := r.Extensions()[0].Name(); got != "all-hooks" {
		t.Fatalf("expected name 'all-hooks', got %q", got)
	}
}

func TestRegistry_EmitFiresOnlyImplementors(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	all := &allHooksExt{}
	do := &docOnlyExt{}
	r.Register(all)
	r.Register(do)

	ctx := context.Background()
	r.EmitDocumentOpened(ctx, &embedpdf.Document{ID: "doc_1"})
	if len(all.calls) != 1 || len(do.calls) != 1 {
		t.Fatalf("both should see OnDocumentOpened: all=%v doc=%v", all.calls, do.calls)
	}

	r.EmitOperationQueued(ctx, testOp)
	if len(all.calls) != 2 || all.calls[1] != "OnOperationQueued" {
		t.Fatalf("all: expected OnOperationQueued as 2nd, got %v", all.calls)
	}
	if len(do.calls) != 1 {
		t.Fatalf("doc-only should still have 1 call, got %v", do.calls)
	}
}

func TestRegistry_AllHooksFire(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	all := &allHooksExt{}
	r.Register(all)

	ctx := context.Background()
	r.EmitOperationQueued(ctx, testOp)
	r.EmitOperationDispatched(ctx, testOp, time.Millisecond)
	r.EmitOperationCompleted(ctx, testOp, time.Second)
	r.EmitOperationFailed(ctx, testOp, errors.New("fail"))
	r.EmitOperationAborted(ctx, testOp, errors.New("abort"))
	r.EmitOperationSuperseded(ctx, testOp, true)
	r.EmitDocumentOpened(ctx, &embedpdf.Document{})
	r.EmitDocumentClosed(ctx, "doc_1")
	r.EmitShutdown(ctx)

	expected := []string{
		"OnOperationQueued", "OnOperationDispatched", "OnOperationCompleted",
		"OnOperationFailed", "OnOperationAborted", "OnOperationSuperseded",
		"OnDocumentOpened", "OnDocumentClosed", "OnShutdown",
	}
	if len(all.calls) != len(expected) {
		t.Fatalf("expected %d calls, got %d: %v", len(expected), len(all.calls), all.calls)
	}
	for i, want := range expected {
		if all.calls[i] != want {
			t.Errorf("call[%d] = %q, want %q", i, all.calls[i], want)
		}
	}
}

func TestRegistry_HookErrorsLoggedNotPropagated(t *testing.T) {
	var buf bytes.Buffer
	r := ext.NewRegistry(slog.New(slog.NewTextHandler(&buf, nil)))
	all := &allHooksExt{}

	r.Register(&failingExt{})
	r.Register(all)

	r.EmitOperationQueued(context.Background(), testOp)

	if len(all.calls) != 1 || all.calls[0] != "OnOperationQueued" {
		t.Fatalf("all: expected [OnOperationQueued] despite failing ext, got %v", all.calls)
	}
	if !strings.Contains(buf.String(), "extension=failing") {
		t.Errorf("hook error not logged: %q", buf.String())
	}
}

func TestRegistry_EmptyRegistryNoOp(_ *testing.T) {
	r := ext.NewRegistry(nil)
	ctx := context.Background()

	r.EmitOperationQueued(ctx, testOp)
	r.EmitOperationDispatched(ctx, testOp, 0)
	r.EmitOperationCompleted(ctx, testOp, 0)
	r.EmitOperationFailed(ctx, testOp, errors.New("x"))
	r.EmitOperationAborted(ctx, testOp, errors.New("x"))
	r.EmitOperationSuperseded(ctx, testOp, false)
	r.EmitDocumentOpened(ctx, nil)
	r.EmitDocumentClosed(ctx, "")
	r.EmitShutdown(ctx)
}
