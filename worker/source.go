package worker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// ModuleSource holds the wasm build that new sessions load. Watch swaps in
// a rebuilt file as soon as it lands on disk; sessions already running keep
// the instance they loaded.
type ModuleSource struct {
	path   string
	logger *slog.Logger

	mu      sync.RWMutex
	wasm    []byte
	reloads int
}

// NewModuleSource reads the module at path.
func NewModuleSource(path string, logger *slog.Logger) (*ModuleSource, error) {
	if logger == nil {
		logger = slog.Default()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("worker: module path: %w", err)
	}
	s := &ModuleSource{path: abs, logger: logger}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	if s.wasm == nil {
		return nil, fmt.Errorf("worker: module %s is empty", abs)
	}
	return s, nil
}

// Bytes returns the current module build.
func (s *ModuleSource) Bytes() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.wasm
}

// Reloads returns how many times the module was replaced after the first
// load.
func (s *ModuleSource) Reloads() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reloads
}

// Reload reads the file again. An empty file is treated as a write in
// progress and keeps the previous build.
func (s *ModuleSource) Reload() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("worker: read module: %w", err)
	}
	if len(data) == 0 {
		return nil
	}

	s.mu.Lock()
	first := s.wasm == nil
	s.wasm = data
	if !first {
		s.reloads++
	}
	s.mu.Unlock()

	if !first {
		s.logger.Info("worker: module reloaded",
			slog.String("path", s.path),
			slog.Int("bytes", len(data)),
		)
	}
	return nil
}

// Watch starts watching the module file until ctx is done. It watches the
// parent directory because build tools usually replace the file by rename.
func (s *ModuleSource) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("worker: create watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(s.path)); err != nil {
		_ = w.Close()
		return fmt.Errorf("worker: watch %s: %w", filepath.Dir(s.path), err)
	}

	go func() {
		defer w.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != s.path || ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if err := s.Reload(); err != nil {
					s.logger.Warn("worker: module reload failed", slog.String("error", err.Error()))
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				s.logger.Warn("worker: module watcher", slog.String("error", err.Error()))
			}
		}
	}()
	return nil
}
