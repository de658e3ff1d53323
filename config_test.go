package embedpdf_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	embedpdf "github.com/embedpdf/pdfdispatch"
)

func TestDefaultConfig(t *testing.T) {
	cfg := embedpdf.DefaultConfig()
	if cfg.MaxInFlight != 1 {
		t.Errorf("MaxInFlight = %d, want 1", cfg.MaxInFlight)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "engine.yaml")
	data := []byte(`
max_in_flight: 2
prefetch_rate_limit: 5
shutdown_timeout: 3s
worker:
  listen: "127.0.0.1:9000"
  module: /opt/pdfium.wasm
  fonts:
    SHIFTJIS: /fonts/NotoSansJP.otf
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := embedpdf.LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.MaxInFlight != 2 || cfg.PrefetchRateLimit != 5 {
		t.Errorf("scheduling fields = (%d, %v), want (2, 5)", cfg.MaxInFlight, cfg.PrefetchRateLimit)
	}
	if cfg.ShutdownTimeout != 3*time.Second {
		t.Errorf("ShutdownTimeout = %v, want 3s", cfg.ShutdownTimeout)
	}
	if cfg.Worker.Path != "/engine" {
		t.Errorf("Worker.Path = %q, want default /engine", cfg.Worker.Path)
	}
	if cfg.Worker.Fonts["SHIFTJIS"] != "/fonts/NotoSansJP.otf" {
		t.Errorf("Worker.Fonts = %v", cfg.Worker.Fonts)
	}
}

func TestLoadConfig_RejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("max_in_flight: 0\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := embedpdf.LoadConfig(path); err == nil {
		t.Fatal("expected validation error for max_in_flight: 0")
	}
}
