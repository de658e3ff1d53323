package worker_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/embedpdf/pdfdispatch/worker"
)

func TestModuleSource_Load(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pdfium.wasm")

	if _, err := worker.NewModuleSource(path, nil); err == nil {
		t.Fatal("expected error for missing module")
	}
	if err := os.WriteFile(path, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := worker.NewModuleSource(path, nil); err == nil {
		t.Fatal("expected error for empty module")
	}

	if err := os.WriteFile(path, []byte("v1"), 0o600); err != nil {
		t.Fatal(err)
	}
	src, err := worker.NewModuleSource(path, nil)
	if err != nil {
		t.Fatalf("NewModuleSource: %v", err)
	}
	if got := string(src.Bytes()); got != "v1" {
		t.Errorf("Bytes = %q, want v1", got)
	}
	if src.Reloads() != 0 {
		t.Errorf("Reloads = %d, want 0", src.Reloads())
	}
}

func TestModuleSource_Watch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pdfium.wasm")
	if err := os.WriteFile(path, []byte("v1"), 0o600); err != nil {
		t.Fatal(err)
	}
	src, err := worker.NewModuleSource(path, nil)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := src.Watch(ctx); err != nil {
		t.Fatalf("Watch: %v", err)
	}

	// Unrelated files in the directory are ignored.
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}

	// Replace by rename, the way build tools publish a new artifact.
	tmp := filepath.Join(dir, "pdfium.wasm.tmp")
	if err := os.WriteFile(tmp, []byte("v2"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.Rename(tmp, path); err != nil {
		t.Fatal(err)
	}

	waitFor(t, "module reload", func() bool { return bytes.Equal(src.Bytes(), []byte("v2")) })
	if src.Reloads() < 1 {
		t.Errorf("Reloads = %d, want at least 1", src.Reloads())
	}
}
