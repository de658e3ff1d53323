package transport

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/embedpdf/pdfdispatch"
	"github.com/embedpdf/pdfdispatch/task"
	"github.com/embedpdf/pdfdispatch/wire"
)

// Compile-time interface check.
var _ embedpdf.Executor = (*Client)(nil)

// errTransportClosed rejects calls that were pending when the Conn died.
func errTransportClosed() *embedpdf.Reason {
	return embedpdf.NewReason(embedpdf.CodeUnknown, "transport closed")
}

// pendingCall routes the responses of one exchange into its task.
type pendingCall struct {
	method   string
	resolve  func(body any)
	reject   func(err error)
	progress func(body any)
}

// Client implements embedpdf.Executor by forwarding every call to a Host
// over a Conn. Each call gets a fresh id; responses for unknown or
// finished ids are dropped.
type Client struct {
	conn   Conn
	logger *slog.Logger

	nextID atomic.Uint64

	mu      sync.Mutex
	pending map[uint64]*pendingCall
	closed  bool

	done chan struct{}
}

// NewClient starts a Client on conn. The Client owns conn from now on.
func NewClient(conn Conn, opts ...Option) *Client {
	o := buildOptions(opts)
	c := &Client{
		conn:    conn,
		logger:  o.logger,
		pending: make(map[uint64]*pendingCall),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// Close closes the Conn and rejects every pending call.
func (c *Client) Close() error {
	err := c.conn.Close()
	<-c.done
	return err
}

// Done is closed once the read loop has exited.
func (c *Client) Done() <-chan struct{} { return c.done }

// Pending returns the number of calls awaiting a terminal response.
func (c *Client) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// call sends one Call envelope and returns the task its responses settle.
func call[T, P any](c *Client, method string, args any) *task.Task[T, P] {
	t := task.New[T, P]()
	id := c.nextID.Add(1)

	pc := &pendingCall{
		method: method,
		resolve: func(body any) {
			var v T
			if err := wire.Bind(body, &v); err != nil {
				t.Reject(embedpdf.NewReason(embedpdf.CodeUnknown, "%s: decode result: %v", method, err))
				return
			}
			t.Resolve(v)
		},
		reject: t.Reject,
		progress: func(body any) {
			var p P
			if err := wire.Bind(body, &p); err == nil {
				t.Progress(p)
			}
		},
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		t.Reject(errTransportClosed())
		return t
	}
	c.pending[id] = pc
	c.mu.Unlock()

	t.Wait(nil, func(f task.Failure) {
		if f.Aborted() && c.forget(id) {
			if err := c.conn.Send(context.Background(), wire.NewAbort(id)); err != nil {
				c.logger.Debug("transport: abort not sent",
					slog.Uint64("id", id),
					slog.String("error", err.Error()),
				)
			}
		}
	})

	if err := c.conn.Send(context.Background(), wire.NewCall(id, method, args)); err != nil {
		if c.forget(id) {
			t.Reject(errTransportClosed())
		}
	}
	return t
}

// forget removes id from the pending table. It reports whether the id was
// still pending, i.e. whether this caller owns the exchange's end.
func (c *Client) forget(id uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.pending[id]; !ok {
		return false
	}
	delete(c.pending, id)
	return true
}

func (c *Client) readLoop() {
	defer close(c.done)
	defer c.failAll()

	for {
		env, err := c.conn.Recv(context.Background())
		if err != nil {
			if !errors.Is(err, ErrClosed) {
				c.logger.Warn("transport: client read failed", slog.String("error", err.Error()))
			}
			return
		}
		c.route(env)
	}
}

func (c *Client) route(env *wire.Envelope) {
	switch env.Kind {
	case wire.KindProgress:
		c.mu.Lock()
		pc := c.pending[env.ID]
		c.mu.Unlock()
		if pc != nil {
			pc.progress(env.Body)
		}

	case wire.KindResult, wire.KindError:
		c.mu.Lock()
		pc := c.pending[env.ID]
		delete(c.pending, env.ID)
		c.mu.Unlock()
		if pc == nil {
			c.logger.Debug("transport: dropped response for unknown id",
				slog.Uint64("id", env.ID),
				slog.String("kind", string(env.Kind)),
			)
			return
		}
		if env.Kind == wire.KindResult {
			pc.resolve(env.Body)
			return
		}
		var reason error = env.Error
		if env.Error == nil {
			reason = embedpdf.NewReason(embedpdf.CodeUnknown, "%s failed", pc.method)
		}
		pc.reject(reason)

	default:
		c.logger.Warn("transport: unexpected envelope from host",
			slog.Uint64("id", env.ID),
			slog.String("kind", string(env.Kind)),
		)
	}
}

// failAll rejects every pending call after the Conn is gone.
func (c *Client) failAll() {
	c.mu.Lock()
	c.closed = true
	pending := c.pending
	c.pending = make(map[uint64]*pendingCall)
	c.mu.Unlock()

	for _, pc := range pending {
		pc.reject(errTransportClosed())
	}
}

// ── Executor ─────────────────────────────────────────

func (c *Client) OpenDocumentBuffer(opts embedpdf.OpenBufferOptions) *task.Task[*embedpdf.Document, embedpdf.NoProgress] {
	return call[*embedpdf.Document, embedpdf.NoProgress](c, wire.MethodOpenDocumentBuffer, opts)
}

func (c *Client) OpenDocumentURL(opts embedpdf.OpenURLOptions) *task.Task[*embedpdf.Document, embedpdf.NoProgress] {
	return call[*embedpdf.Document, embedpdf.NoProgress](c, wire.MethodOpenDocumentURL, opts)
}

func (c *Client) CloseDocument(docID string) *task.Task[bool, embedpdf.NoProgress] {
	return call[bool, embedpdf.NoProgress](c, wire.MethodCloseDocument, wire.DocArgs{DocID: docID})
}

func (c *Client) RenderPage(docID string, page int, opts embedpdf.RenderOptions) *task.Task[*embedpdf.Image, embedpdf.NoProgress] {
	return call[*embedpdf.Image, embedpdf.NoProgress](c, wire.MethodRenderPage,
		wire.RenderArgs{DocID: docID, Page: page, Options: opts})
}

func (c *Client) RenderPageRect(docID string, page int, rect embedpdf.Rect, opts embedpdf.RenderOptions) *task.Task[*embedpdf.Image, embedpdf.NoProgress] {
	return call[*embedpdf.Image, embedpdf.NoProgress](c, wire.MethodRenderPageRect,
		wire.RenderArgs{DocID: docID, Page: page, Rect: &rect, Options: opts})
}

func (c *Client) GetBookmarks(docID string) *task.Task[[]embedpdf.Bookmark, embedpdf.NoProgress] {
	return call[[]embedpdf.Bookmark, embedpdf.NoProgress](c, wire.MethodGetBookmarks, wire.DocArgs{DocID: docID})
}

func (c *Client) GetAttachments(docID string) *task.Task[[]embedpdf.Attachment, embedpdf.NoProgress] {
	return call[[]embedpdf.Attachment, embedpdf.NoProgress](c, wire.MethodGetAttachments, wire.DocArgs{DocID: docID})
}

func (c *Client) ReadAttachmentContent(docID string, index int) *task.Task[[]byte, embedpdf.NoProgress] {
	return call[[]byte, embedpdf.NoProgress](c, wire.MethodReadAttachmentContent,
		wire.AttachmentArgs{DocID: docID, Index: index})
}

func (c *Client) GetMetadata(docID string) *task.Task[*embedpdf.Metadata, embedpdf.NoProgress] {
	return call[*embedpdf.Metadata, embedpdf.NoProgress](c, wire.MethodGetMetadata, wire.DocArgs{DocID: docID})
}

func (c *Client) SetMetadata(docID string, meta embedpdf.Metadata) *task.Task[bool, embedpdf.NoProgress] {
	return call[bool, embedpdf.NoProgress](c, wire.MethodSetMetadata, wire.MetadataArgs{DocID: docID, Metadata: meta})
}

func (c *Client) ExtractText(docID string, pages []int) *task.Task[string, embedpdf.NoProgress] {
	return call[string, embedpdf.NoProgress](c, wire.MethodExtractText, wire.TextArgs{DocID: docID, Pages: pages})
}

func (c *Client) SaveAsCopy(docID string) *task.Task[[]byte, embedpdf.NoProgress] {
	return call[[]byte, embedpdf.NoProgress](c, wire.MethodSaveAsCopy, wire.DocArgs{DocID: docID})
}

func (c *Client) PreparePrintDocument(docID string, opts embedpdf.PrintOptions) *task.Task[[]byte, embedpdf.PrintProgress] {
	return call[[]byte, embedpdf.PrintProgress](c, wire.MethodPreparePrintDocument,
		wire.PrintArgs{DocID: docID, Options: opts})
}

// Destroy asks the host to destroy its executor. The Conn stays open;
// call Close to release it.
func (c *Client) Destroy() *task.Task[bool, embedpdf.NoProgress] {
	return call[bool, embedpdf.NoProgress](c, wire.MethodDestroy, nil)
}
