// Package native runs document operations against the native PDF library.
//
// The library is not reentrant, so the Executor funnels every operation
// through one serializer goroutine in FIFO order. Each operation runs
// through a middleware chain and every native failure surfaces as an
// *embedpdf.Reason.
package native

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/embedpdf/pdfdispatch"
	"github.com/embedpdf/pdfdispatch/middleware"
	"github.com/embedpdf/pdfdispatch/task"
)

// job is one queued operation.
type job struct {
	call middleware.Call
	// pending reports whether the caller still wants the outcome.
	pending func() bool
	run     middleware.Handler
	fail    func(error)
	abort   func(error)
}

// Executor implements embedpdf.Executor on top of a Module.
type Executor struct {
	lib    lib
	mw     middleware.Middleware
	mws    []middleware.Middleware
	logger *slog.Logger
	client *http.Client

	ctx    context.Context
	cancel context.CancelFunc

	seq     atomic.Uint64
	mu      sync.Mutex
	cond    *sync.Cond
	queue   []*job
	stopped bool
	done    chan struct{}

	// docs is owned by the serializer goroutine.
	docs map[string]*document
}

var _ embedpdf.Executor = (*Executor)(nil)

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// WithMiddleware appends middleware around every native operation. The
// first middleware is the outermost.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(e *Executor) { e.mws = append(e.mws, mws...) }
}

// WithHTTPClient sets the client used by OpenDocumentURL.
func WithHTTPClient(c *http.Client) Option {
	return func(e *Executor) { e.client = c }
}

// New starts an Executor over mod. The Executor owns mod and closes it on
// Destroy.
func New(mod Module, opts ...Option) *Executor {
	e := &Executor{
		lib:    lib{mod: mod},
		logger: slog.Default(),
		client: http.DefaultClient,
		done:   make(chan struct{}),
		docs:   make(map[string]*document),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.cond = sync.NewCond(&e.mu)
	e.ctx, e.cancel = context.WithCancel(context.Background())
	e.mw = middleware.Chain(append(e.mws, middleware.Recover(e.logger))...)

	go e.loop()
	return e
}

// Done is closed once Destroy has finished and the serializer exited.
func (e *Executor) Done() <-chan struct{} { return e.done }

// Queued returns the number of operations waiting for the serializer.
func (e *Executor) Queued() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queue)
}

func (e *Executor) enqueue(j *job) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return false
	}
	e.queue = append(e.queue, j)
	e.cond.Signal()
	return true
}

// loop is the serializer: it pops jobs in FIFO order and runs them one at a
// time until Destroy has drained the queue.
func (e *Executor) loop() {
	defer close(e.done)
	for {
		e.mu.Lock()
		for len(e.queue) == 0 && !e.stopped {
			e.cond.Wait()
		}
		if len(e.queue) == 0 {
			e.mu.Unlock()
			return
		}
		j := e.queue[0]
		e.queue[0] = nil
		e.queue = e.queue[1:]
		e.mu.Unlock()

		e.execute(j)
	}
}

func (e *Executor) execute(j *job) {
	if !j.pending() {
		e.logger.Debug("skipping settled native call",
			slog.String("method", j.call.Method),
			slog.String("doc_id", j.call.DocID),
			slog.Uint64("seq", j.call.Seq),
		)
		return
	}
	if err := e.mw(e.ctx, j.call, j.run); err != nil {
		j.fail(err)
	}
}

// submit queues fn and returns its task. fn runs on the serializer
// goroutine; a nil error resolves the task with the returned value.
func submit[T, P any](e *Executor, method, docID string, fn func(ctx context.Context, t *task.Task[T, P]) (T, error)) *task.Task[T, P] {
	t := task.New[T, P]()
	j := newJob(e, method, docID, t, fn)
	if !e.enqueue(j) {
		t.Reject(embedpdf.NewReason(embedpdf.CodeNotReady, "executor destroyed"))
	}
	return t
}

func newJob[T, P any](e *Executor, method, docID string, t *task.Task[T, P], fn func(ctx context.Context, t *task.Task[T, P]) (T, error)) *job {
	return &job{
		call:    middleware.Call{Seq: e.seq.Add(1), Method: method, DocID: docID},
		pending: func() bool { return t.Stage() == task.Pending },
		run: func(ctx context.Context) error {
			v, err := fn(ctx, t)
			if err != nil {
				return err
			}
			t.Resolve(v)
			return nil
		},
		fail:  func(err error) { t.Reject(embedpdf.AsReason(err)) },
		abort: func(err error) { t.Abort(err) },
	}
}
