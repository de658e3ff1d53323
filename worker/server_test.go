package worker_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/embedpdf/pdfdispatch"
	"github.com/embedpdf/pdfdispatch/native"
	"github.com/embedpdf/pdfdispatch/native/nativetest"
	"github.com/embedpdf/pdfdispatch/transport"
	"github.com/embedpdf/pdfdispatch/worker"
)

// modules hands out fake libraries and remembers them.
type modules struct {
	mu   sync.Mutex
	mods []*nativetest.Module
	err  error
}

func (m *modules) factory(context.Context) (native.Module, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	mod := nativetest.New()
	m.mods = append(m.mods, mod)
	return mod, nil
}

func (m *modules) get(i int) *nativetest.Module {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mods[i]
}

func setupServer(t *testing.T, opts ...worker.Option) (*worker.Server, *modules, string) {
	t.Helper()
	mods := &modules{}
	srv := worker.NewServer(mods.factory, opts...)
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})
	return srv, mods, "ws" + strings.TrimPrefix(ts.URL, "http")
}

func dial(t *testing.T, url, format string) *transport.Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, err := transport.Dial(ctx, url, format)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	c := transport.NewClient(conn)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestServer_Session(t *testing.T) {
	for _, format := range []string{"json", "msgpack"} {
		t.Run(format, func(t *testing.T) {
			srv, mods, url := setupServer(t)
			c := dial(t, url, format)

			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()

			doc, err := c.OpenDocumentBuffer(embedpdf.OpenBufferOptions{
				ID:      "doc_remote",
				Content: nativetest.BuildDocument(nativetest.Letter(2)),
			}).Await(ctx)
			if err != nil {
				t.Fatalf("open: %v", err)
			}
			if doc.PageCount != 2 {
				t.Fatalf("pages = %d, want 2", doc.PageCount)
			}
			if got := len(srv.Sessions()); got != 1 {
				t.Fatalf("sessions = %d, want 1", got)
			}

			img, err := c.RenderPage("doc_remote", 0, embedpdf.RenderOptions{Scale: 0.5}).Await(ctx)
			if err != nil {
				t.Fatalf("render: %v", err)
			}
			if img.Width != 306 || img.Height != 396 {
				t.Fatalf("image = %dx%d, want 306x396", img.Width, img.Height)
			}

			_, err = c.RenderPage("doc_remote", 7, embedpdf.RenderOptions{}).Await(ctx)
			if r := embedpdf.AsReason(err); r == nil || r.Code != embedpdf.CodeValidation {
				t.Fatalf("err = %v, want validation error", err)
			}

			// Dropping the connection ends the session and releases the
			// native library, documents included.
			_ = c.Close()
			mod := mods.get(0)
			waitFor(t, "session end", func() bool { return len(srv.Sessions()) == 0 })
			waitFor(t, "module close", mod.Closed)
			if n := mod.OpenDocuments(); n != 0 {
				t.Errorf("open native documents = %d, want 0", n)
			}
		})
	}
}

func TestServer_SessionsAreIsolated(t *testing.T) {
	_, mods, url := setupServer(t)
	a := dial(t, url, "msgpack")
	b := dial(t, url, "msgpack")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if _, err := a.OpenDocumentBuffer(embedpdf.OpenBufferOptions{
		ID:      "doc_a",
		Content: nativetest.BuildDocument(nativetest.Letter(1)),
	}).Await(ctx); err != nil {
		t.Fatalf("open: %v", err)
	}
	_, err := b.GetMetadata("doc_a").Await(ctx)
	if r := embedpdf.AsReason(err); r == nil || r.Code != embedpdf.CodeDocNotOpen {
		t.Fatalf("err = %v, want doc not open", err)
	}
	if got := mods.get(0).OpenDocuments() + mods.get(1).OpenDocuments(); got != 1 {
		t.Errorf("open native documents = %d, want 1", got)
	}
}

func TestServer_MaxSessions(t *testing.T) {
	_, _, url := setupServer(t, worker.WithMaxSessions(1))
	dial(t, url, "json")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := transport.Dial(ctx, url, "json"); err == nil {
		t.Fatal("expected second session to be refused")
	}
}

func TestServer_FactoryError(t *testing.T) {
	mods := &modules{err: errors.New("no wasm")}
	srv := worker.NewServer(mods.factory)
	ts := httptest.NewServer(srv)
	defer ts.Close()

	resp, err := http.Get(ts.URL)
	if err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusInternalServerError)
	}
	if got := len(srv.Sessions()); got != 0 {
		t.Errorf("sessions = %d, want 0", got)
	}
}

func TestServer_Shutdown(t *testing.T) {
	srv, mods, url := setupServer(t)
	c := dial(t, url, "msgpack")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := c.OpenDocumentBuffer(embedpdf.OpenBufferOptions{
		ID:      "doc_a",
		Content: nativetest.BuildDocument(nativetest.Letter(1)),
	}).Await(ctx); err != nil {
		t.Fatalf("open: %v", err)
	}

	if err := srv.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	mod := mods.get(0)
	if !mod.Closed() {
		t.Error("module not closed after Shutdown")
	}
	if n := mod.OpenDocuments(); n != 0 {
		t.Errorf("open native documents = %d, want 0", n)
	}

	select {
	case <-c.Done():
	case <-ctx.Done():
		t.Fatal("client still connected after Shutdown")
	}

	if _, err := transport.Dial(ctx, url, "msgpack"); err == nil {
		t.Fatal("expected dial after Shutdown to be refused")
	}
	if err := srv.Shutdown(ctx); !errors.Is(err, worker.ErrShuttingDown) {
		t.Errorf("second Shutdown = %v, want ErrShuttingDown", err)
	}
}
