package embedpdf

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds configuration for the Dispatcher and the worker process.
type Config struct {
	// MaxInFlight is the maximum number of operations dispatched to the
	// executor at once. Everything else waits in the priority queue.
	MaxInFlight int `yaml:"max_in_flight"`

	// PrefetchRateLimit is the sustained number of background renders per
	// second. Zero disables the limit.
	PrefetchRateLimit float64 `yaml:"prefetch_rate_limit"`

	// PrefetchBurst is the token-bucket burst for background renders.
	PrefetchBurst int `yaml:"prefetch_burst"`

	// BulkMaxConcurrency caps in-flight metadata/export operations. Zero
	// means only MaxInFlight applies.
	BulkMaxConcurrency int `yaml:"bulk_max_concurrency"`

	// ShutdownTimeout bounds how long Close waits for documents to close.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// Worker configures the standalone worker process.
	Worker WorkerConfig `yaml:"worker"`
}

// WorkerConfig configures cmd/pdfworker.
type WorkerConfig struct {
	// Listen is the HTTP listen address for the WebSocket endpoint.
	Listen string `yaml:"listen"`

	// Path is the WebSocket endpoint path.
	Path string `yaml:"path"`

	// Module is the path of the native library compiled to WebAssembly.
	Module string `yaml:"module"`

	// Fonts maps a charset name (e.g. "SHIFTJIS", "GB2312") to a font file
	// used when a document references a non-embedded font for it.
	Fonts map[string]string `yaml:"fonts"`

	// MaxSessions caps concurrent client sessions. Zero means unlimited.
	MaxSessions int `yaml:"max_sessions"`

	// Log selects the log format: "text" (default) or "json".
	Log string `yaml:"log"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxInFlight:       1,
		PrefetchRateLimit: 30,
		PrefetchBurst:     8,
		ShutdownTimeout:   10 * time.Second,
		Worker: WorkerConfig{
			Listen: ":8790",
			Path:   "/engine",
			Log:    "text",
		},
	}
}

// LoadConfig reads a YAML file on top of DefaultConfig.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("embedpdf: read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("embedpdf: parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate reports configuration values that cannot work.
func (c Config) Validate() error {
	if c.MaxInFlight < 1 {
		return fmt.Errorf("embedpdf: max_in_flight must be at least 1, got %d", c.MaxInFlight)
	}
	if c.PrefetchRateLimit < 0 {
		return fmt.Errorf("embedpdf: prefetch_rate_limit must not be negative")
	}
	if c.BulkMaxConcurrency < 0 {
		return fmt.Errorf("embedpdf: bulk_max_concurrency must not be negative")
	}
	if c.Worker.MaxSessions < 0 {
		return fmt.Errorf("embedpdf: worker.max_sessions must not be negative")
	}
	return nil
}
