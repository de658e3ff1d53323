// Command pdfworker serves the native PDF library to remote dispatchers
// over WebSocket. Each connection gets its own instance of the library.
//
// Usage:
//
//	pdfworker -config engine.yaml
//
// A dispatcher connects with:
//
//	conn, _ := transport.Dial(ctx, "ws://localhost:8790/engine", "msgpack")
//	d, _ := dispatcher.New(transport.NewClient(conn))
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/embedpdf/pdfdispatch"
	"github.com/embedpdf/pdfdispatch/engine"
	"github.com/embedpdf/pdfdispatch/native"
	"github.com/embedpdf/pdfdispatch/worker"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	listen := flag.String("listen", "", "listen address (overrides worker.listen)")
	module := flag.String("module", "", "path to the library wasm (overrides worker.module)")
	debug := flag.Bool("debug", false, "enable debug logging")
	watch := flag.Bool("watch", false, "reload the module for new sessions when the file changes")
	flag.Parse()

	cfg := embedpdf.DefaultConfig()
	configDir := "."
	if *configPath != "" {
		var err error
		cfg, err = embedpdf.LoadConfig(*configPath)
		if err != nil {
			slog.Error("failed to load config", slog.String("error", err.Error()))
			os.Exit(1)
		}
		configDir = filepath.Dir(*configPath)
	}
	if *listen != "" {
		cfg.Worker.Listen = *listen
	}
	if *module != "" {
		cfg.Worker.Module = *module
	}

	logger := newLogger(cfg.Worker.Log, *debug)

	if cfg.Worker.Module == "" {
		logger.Error("no module configured; set worker.module or pass -module")
		os.Exit(1)
	}
	source, err := worker.NewModuleSource(cfg.Worker.Module, logger)
	if err != nil {
		logger.Error("failed to read module", slog.String("error", err.Error()))
		os.Exit(1)
	}
	watchCtx, stopWatch := context.WithCancel(context.Background())
	defer stopWatch()
	if *watch {
		if err := source.Watch(watchCtx); err != nil {
			logger.Warn("module reload disabled", slog.String("error", err.Error()))
		}
	}

	fonts, err := native.FontFallbackFromConfig(cfg.Worker.Fonts, configDir, logger)
	if err != nil {
		logger.Error("invalid font table", slog.String("error", err.Error()))
		os.Exit(1)
	}

	factory := func(ctx context.Context) (native.Module, error) {
		mod, err := native.LoadWazero(ctx, source.Bytes(),
			native.WithFonts(fonts),
			native.WithModuleLogger(logger),
		)
		if err != nil {
			return nil, err
		}
		return mod, nil
	}

	srv := worker.NewServer(factory,
		worker.WithLogger(logger),
		worker.WithMaxSessions(cfg.Worker.MaxSessions),
		worker.WithDestroyTimeout(cfg.ShutdownTimeout),
		worker.WithEngineOptions(engine.WithHTTPClient(&http.Client{Timeout: time.Minute})),
	)

	mux := http.NewServeMux()
	mux.Handle(cfg.Worker.Path, srv)

	httpSrv := &http.Server{
		Addr:              cfg.Worker.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	logger.Info("pdfworker running",
		slog.String("worker_id", srv.ID().String()),
		slog.String("listen", cfg.Worker.Listen),
		slog.String("path", cfg.Worker.Path),
		slog.String("module", cfg.Worker.Module),
		slog.Int("max_sessions", cfg.Worker.MaxSessions),
	)

	// Wait for shutdown signal.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("worker shutdown error", slog.String("error", err.Error()))
	}
	logger.Info("goodbye")
}

func newLogger(format string, debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
