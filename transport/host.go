package transport

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/embedpdf/pdfdispatch"
	"github.com/embedpdf/pdfdispatch/task"
	"github.com/embedpdf/pdfdispatch/wire"
)

// hostOutbox bounds responses queued for the writer loop.
const hostOutbox = 64

type abortable interface {
	Abort(reason error)
}

// Host serves an embedpdf.Executor to one Client over a Conn.
//
// Every Call runs as an executor task. Its progress is streamed back and
// exactly one Result or Error follows, unless the Client aborts the call
// first: then the task is aborted and nothing more is sent for that id.
type Host struct {
	exec   embedpdf.Executor
	conn   Conn
	logger *slog.Logger

	mu      sync.Mutex
	running map[uint64]abortable

	out      chan *wire.Envelope
	stopping chan struct{}
}

// NewHost creates a Host. Call Serve to start it.
func NewHost(exec embedpdf.Executor, conn Conn, opts ...Option) *Host {
	o := buildOptions(opts)
	return &Host{
		exec:     exec,
		conn:     conn,
		logger:   o.logger,
		running:  make(map[uint64]abortable),
		out:      make(chan *wire.Envelope, hostOutbox),
		stopping: make(chan struct{}),
	}
}

// Serve runs the reader and writer loops until the Conn closes or ctx is
// done. Calls still running when Serve returns are aborted. A closed Conn
// is a normal exit and returns nil.
func (h *Host) Serve(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return h.readLoop(gctx) })
	g.Go(func() error { return h.writeLoop(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		close(h.stopping)
		return h.conn.Close()
	})

	err := g.Wait()
	h.abortAll()
	if errors.Is(err, ErrClosed) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Running returns the number of calls in progress.
func (h *Host) Running() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.running)
}

func (h *Host) readLoop(ctx context.Context) error {
	for {
		env, err := h.conn.Recv(ctx)
		if err != nil {
			return err
		}
		switch env.Kind {
		case wire.KindCall:
			h.dispatch(env)
		case wire.KindAbort:
			h.mu.Lock()
			r := h.running[env.ID]
			delete(h.running, env.ID)
			h.mu.Unlock()
			if r != nil {
				r.Abort(embedpdf.NewReason(embedpdf.CodeCancelled, "aborted by client"))
			}
		default:
			h.logger.Warn("transport: unexpected envelope from client",
				slog.Uint64("id", env.ID),
				slog.String("kind", string(env.Kind)),
			)
		}
	}
}

func (h *Host) writeLoop(ctx context.Context) error {
	for {
		select {
		case env := <-h.out:
			if err := h.conn.Send(ctx, env); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// emit queues env for the writer. Once either loop has stopped, envelopes
// are discarded so the reader and executor callbacks never block on a
// writer that is gone.
func (h *Host) emit(env *wire.Envelope) {
	select {
	case <-h.stopping:
		return
	default:
	}
	select {
	case h.out <- env:
	case <-h.stopping:
	}
}

// finish removes id from the running table and reports whether it was
// still there. Only the remover may send the terminal envelope.
func (h *Host) finish(id uint64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.running[id]; !ok {
		return false
	}
	delete(h.running, id)
	return true
}

func (h *Host) isRunning(id uint64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.running[id]
	return ok
}

func (h *Host) abortAll() {
	h.mu.Lock()
	running := h.running
	h.running = make(map[uint64]abortable)
	h.mu.Unlock()

	reason := embedpdf.NewReason(embedpdf.CodeCancelled, "host stopped")
	for _, r := range running {
		r.Abort(reason)
	}
}

func (h *Host) dispatch(env *wire.Envelope) {
	handle, ok := hostMethods[env.Method]
	if !ok {
		h.emit(wire.NewError(env.ID, embedpdf.NewReason(embedpdf.CodeNotSupport, "unknown method %q", env.Method)))
		return
	}
	if err := handle(h, env.ID, env.Body); err != nil {
		h.emit(wire.NewError(env.ID, embedpdf.NewReason(embedpdf.CodeValidation, "%s: bad arguments: %v", env.Method, err)))
	}
}

// serve ties an executor task to exchange id.
func serve[T, P any](h *Host, id uint64, t *task.Task[T, P]) {
	h.mu.Lock()
	h.running[id] = t
	h.mu.Unlock()

	t.OnProgress(func(p P) {
		if h.isRunning(id) {
			h.emit(wire.NewProgress(id, p))
		}
	})
	t.Wait(func(v T) {
		if h.finish(id) {
			h.emit(wire.NewResult(id, v))
		}
	}, func(f task.Failure) {
		if h.finish(id) {
			h.emit(wire.NewError(id, f.Reason))
		}
	})
}

type hostMethod func(h *Host, id uint64, body any) error

// bindAndServe decodes args of type A, then serves the task run returns.
func bindAndServe[A, T, P any](run func(e embedpdf.Executor, args A) *task.Task[T, P]) hostMethod {
	return func(h *Host, id uint64, body any) error {
		var args A
		if err := wire.Bind(body, &args); err != nil {
			return err
		}
		serve(h, id, run(h.exec, args))
		return nil
	}
}

var hostMethods = map[string]hostMethod{
	wire.MethodOpenDocumentBuffer: bindAndServe(func(e embedpdf.Executor, a embedpdf.OpenBufferOptions) *task.Task[*embedpdf.Document, embedpdf.NoProgress] {
		return e.OpenDocumentBuffer(a)
	}),
	wire.MethodOpenDocumentURL: bindAndServe(func(e embedpdf.Executor, a embedpdf.OpenURLOptions) *task.Task[*embedpdf.Document, embedpdf.NoProgress] {
		return e.OpenDocumentURL(a)
	}),
	wire.MethodCloseDocument: bindAndServe(func(e embedpdf.Executor, a wire.DocArgs) *task.Task[bool, embedpdf.NoProgress] {
		return e.CloseDocument(a.DocID)
	}),
	wire.MethodRenderPage: bindAndServe(func(e embedpdf.Executor, a wire.RenderArgs) *task.Task[*embedpdf.Image, embedpdf.NoProgress] {
		return e.RenderPage(a.DocID, a.Page, a.Options)
	}),
	wire.MethodRenderPageRect: bindAndServe(func(e embedpdf.Executor, a wire.RenderArgs) *task.Task[*embedpdf.Image, embedpdf.NoProgress] {
		if a.Rect == nil {
			return task.RejectedTask[*embedpdf.Image, embedpdf.NoProgress](
				embedpdf.NewReason(embedpdf.CodeValidation, "renderPageRect: missing rect"))
		}
		return e.RenderPageRect(a.DocID, a.Page, *a.Rect, a.Options)
	}),
	wire.MethodGetBookmarks: bindAndServe(func(e embedpdf.Executor, a wire.DocArgs) *task.Task[[]embedpdf.Bookmark, embedpdf.NoProgress] {
		return e.GetBookmarks(a.DocID)
	}),
	wire.MethodGetAttachments: bindAndServe(func(e embedpdf.Executor, a wire.DocArgs) *task.Task[[]embedpdf.Attachment, embedpdf.NoProgress] {
		return e.GetAttachments(a.DocID)
	}),
	wire.MethodReadAttachmentContent: bindAndServe(func(e embedpdf.Executor, a wire.AttachmentArgs) *task.Task[[]byte, embedpdf.NoProgress] {
		return e.ReadAttachmentContent(a.DocID, a.Index)
	}),
	wire.MethodGetMetadata: bindAndServe(func(e embedpdf.Executor, a wire.DocArgs) *task.Task[*embedpdf.Metadata, embedpdf.NoProgress] {
		return e.GetMetadata(a.DocID)
	}),
	wire.MethodSetMetadata: bindAndServe(func(e embedpdf.Executor, a wire.MetadataArgs) *task.Task[bool, embedpdf.NoProgress] {
		return e.SetMetadata(a.DocID, a.Metadata)
	}),
	wire.MethodExtractText: bindAndServe(func(e embedpdf.Executor, a wire.TextArgs) *task.Task[string, embedpdf.NoProgress] {
		return e.ExtractText(a.DocID, a.Pages)
	}),
	wire.MethodSaveAsCopy: bindAndServe(func(e embedpdf.Executor, a wire.DocArgs) *task.Task[[]byte, embedpdf.NoProgress] {
		return e.SaveAsCopy(a.DocID)
	}),
	wire.MethodPreparePrintDocument: bindAndServe(func(e embedpdf.Executor, a wire.PrintArgs) *task.Task[[]byte, embedpdf.PrintProgress] {
		return e.PreparePrintDocument(a.DocID, a.Options)
	}),
	wire.MethodDestroy: func(h *Host, id uint64, _ any) error {
		serve(h, id, h.exec.Destroy())
		return nil
	},
}
