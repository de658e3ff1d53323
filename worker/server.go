// Package worker serves native executors to remote dispatchers over
// WebSocket.
//
// Each accepted connection is a session with its own instance of the
// native library: a session loads a fresh Module, wraps it in a
// native.Executor with the engine middleware stack and serves it through a
// transport.Host until the connection closes. The module is destroyed
// with the session, so documents never leak between clients.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/embedpdf/pdfdispatch/engine"
	"github.com/embedpdf/pdfdispatch/id"
	"github.com/embedpdf/pdfdispatch/native"
	"github.com/embedpdf/pdfdispatch/transport"
)

// ErrShuttingDown is returned by Shutdown when called twice.
var ErrShuttingDown = errors.New("worker: server shutting down")

// ModuleFactory loads one instance of the native library.
type ModuleFactory func(ctx context.Context) (native.Module, error)

// Server is an http.Handler that upgrades each request to a session.
type Server struct {
	factory  ModuleFactory
	logger   *slog.Logger
	workerID id.ID

	engineOpts     []engine.Option
	maxSessions    int
	destroyTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	running  bool
	sessions map[string]context.CancelFunc
	wg       sync.WaitGroup
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger. It is also handed to every session's
// executor unless WithEngineOptions overrides it.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithEngineOptions sets the options used to build each session's native
// executor (middleware, OTel providers, HTTP client).
func WithEngineOptions(opts ...engine.Option) Option {
	return func(s *Server) { s.engineOpts = append(s.engineOpts, opts...) }
}

// WithMaxSessions caps concurrent sessions. Zero means unlimited.
func WithMaxSessions(n int) Option {
	return func(s *Server) { s.maxSessions = n }
}

// WithDestroyTimeout bounds how long a finished session waits for its
// executor to unload documents and close the module.
func WithDestroyTimeout(d time.Duration) Option {
	return func(s *Server) { s.destroyTimeout = d }
}

// NewServer creates a Server that loads a module per session with factory.
func NewServer(factory ModuleFactory, opts ...Option) *Server {
	s := &Server{
		factory:        factory,
		logger:         slog.Default(),
		workerID:       id.NewWorkerID(),
		destroyTimeout: 10 * time.Second,
		running:        true,
		sessions:       make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s
}

// ID returns the worker's identity, logged with every session.
func (s *Server) ID() id.ID { return s.workerID }

// Sessions returns the IDs of the live sessions, sorted.
func (s *Server) Sessions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.sessions))
	for sid := range s.sessions {
		ids = append(ids, sid)
	}
	sort.Strings(ids)
	return ids
}

// ServeHTTP runs one session for the lifetime of the connection.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sid, ctx, ok := s.reserve()
	if !ok {
		http.Error(w, "worker: no session available", http.StatusServiceUnavailable)
		return
	}
	defer s.release(sid)

	logger := s.logger.With(
		slog.String("worker_id", s.workerID.String()),
		slog.String("session_id", sid),
	)

	mod, err := s.factory(ctx)
	if err != nil {
		logger.Error("worker: load module", slog.String("error", err.Error()))
		http.Error(w, "worker: load module failed", http.StatusInternalServerError)
		return
	}

	conn, err := transport.Upgrade(w, r)
	if err != nil {
		logger.Warn("worker: upgrade", slog.String("error", err.Error()))
		_ = mod.Close(context.Background())
		return
	}

	opts := append([]engine.Option{engine.WithLogger(logger)}, s.engineOpts...)
	exec := engine.NewNative(mod, opts...)
	host := transport.NewHost(exec, conn, transport.WithLogger(logger))

	logger.Info("worker: session started", slog.String("remote", r.RemoteAddr))
	start := time.Now()

	if err := host.Serve(ctx); err != nil {
		logger.Warn("worker: session ended with error", slog.String("error", err.Error()))
	}
	_ = conn.Close()

	dctx, cancel := context.WithTimeout(context.Background(), s.destroyTimeout)
	defer cancel()
	if _, err := exec.Destroy().Await(dctx); err != nil {
		logger.Warn("worker: destroy executor", slog.String("error", err.Error()))
	}
	select {
	case <-exec.Done():
	case <-dctx.Done():
		logger.Warn("worker: executor did not stop in time")
	}

	logger.Info("worker: session ended", slog.Duration("elapsed", time.Since(start)))
}

func (s *Server) reserve() (string, context.Context, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return "", nil, false
	}
	if s.maxSessions > 0 && len(s.sessions) >= s.maxSessions {
		return "", nil, false
	}
	sid := id.NewSessionID().String()
	ctx, cancel := context.WithCancel(s.ctx)
	s.sessions[sid] = cancel
	s.wg.Add(1)
	return sid, ctx, true
}

func (s *Server) release(sid string) {
	s.mu.Lock()
	cancel := s.sessions[sid]
	delete(s.sessions, sid)
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.wg.Done()
}

// Shutdown refuses new sessions, ends the live ones and waits for their
// executors to be destroyed or for ctx to end.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return ErrShuttingDown
	}
	s.running = false
	n := len(s.sessions)
	s.mu.Unlock()

	s.logger.Info("worker: shutting down",
		slog.String("worker_id", s.workerID.String()),
		slog.Int("sessions", n),
	)
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("worker: stopped")
		return nil
	case <-ctx.Done():
		s.logger.Warn("worker: shutdown timed out")
		return ctx.Err()
	}
}
