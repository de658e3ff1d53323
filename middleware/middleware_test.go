package middleware_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/embedpdf/pdfdispatch"
	"github.com/embedpdf/pdfdispatch/middleware"
)

func TestChain_ExecutionOrder(t *testing.T) {
	var order []string

	mw1 := func(ctx context.Context, _ middleware.Call, next middleware.Handler) error {
		order = append(order, "mw1-before")
		err := next(ctx)
		order = append(order, "mw1-after")
		return err
	}
	mw2 := func(ctx context.Context, _ middleware.Call, next middleware.Handler) error {
		order = append(order, "mw2-before")
		err := next(ctx)
		order = append(order, "mw2-after")
		return err
	}

	chain := middleware.Chain(mw1, mw2)
	err := chain(context.Background(), newTestCall(), func(context.Context) error {
		order = append(order, "handler")
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := []string{"mw1-before", "mw2-before", "handler", "mw2-after", "mw1-after"}
	if len(order) != len(expected) {
		t.Fatalf("expected %d calls, got %d: %v", len(expected), len(order), order)
	}
	for i, want := range expected {
		if order[i] != want {
			t.Errorf("order[%d] = %q, want %q", i, order[i], want)
		}
	}
}

func TestChain_Empty(t *testing.T) {
	called := false
	err := middleware.Chain()(context.Background(), newTestCall(), func(context.Context) error {
		called = true
		return nil
	})
	if err != nil || !called {
		t.Fatalf("err=%v called=%v, want nil/true", err, called)
	}
}

func TestChain_PropagatesError(t *testing.T) {
	pass := func(ctx context.Context, _ middleware.Call, next middleware.Handler) error {
		return next(ctx)
	}
	want := errors.New("handler error")

	err := middleware.Chain(pass)(context.Background(), newTestCall(), func(context.Context) error {
		return want
	})
	if !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
}

func TestRecover_CatchesPanic(t *testing.T) {
	m := middleware.Recover(slog.Default())

	err := m(context.Background(), newTestCall(), func(context.Context) error {
		panic("unreachable executed")
	})
	if !errors.Is(err, embedpdf.ErrUnknown) {
		t.Fatalf("err = %v, want CodeUnknown reason", err)
	}
	if got := err.Error(); got != "embedpdf: Unknown: panic in renderPage: unreachable executed" {
		t.Errorf("unexpected error message: %q", got)
	}
}

func TestRecover_PassesThrough(t *testing.T) {
	m := middleware.Recover(slog.Default())
	called := false
	if err := m(context.Background(), newTestCall(), func(context.Context) error {
		called = true
		return nil
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("handler not called")
	}
}

func TestLogging_Success(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	_ = middleware.Logging(logger)(context.Background(), newTestCall(), func(context.Context) error { return nil })

	out := buf.String()
	if !strings.Contains(out, "native call completed") || !strings.Contains(out, "method=renderPage") {
		t.Errorf("unexpected log output: %q", out)
	}
}

func TestLogging_Error(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	err := middleware.Logging(logger)(context.Background(), newTestCall(), func(context.Context) error {
		return embedpdf.ErrFormat
	})
	if !errors.Is(err, embedpdf.ErrFormat) {
		t.Fatalf("err = %v, want ErrFormat", err)
	}
	if !strings.Contains(buf.String(), "native call failed") {
		t.Errorf("failure not logged: %q", buf.String())
	}
}
