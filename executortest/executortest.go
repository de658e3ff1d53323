// Package executortest provides a scriptable embedpdf.Executor for tests.
// Every call is recorded and left pending until the test (or a Handle
// hook) settles it, which makes ordering, supersession and abort
// behaviour observable without a native library.
package executortest

import (
	"sync"
	"testing"
	"time"

	"github.com/embedpdf/pdfdispatch"
	"github.com/embedpdf/pdfdispatch/task"
)

// Compile-time interface check.
var _ embedpdf.Executor = (*Executor)(nil)

// Call is one recorded executor call.
type Call struct {
	Method string
	DocID  string
	Page   int
	// Args holds the method's argument struct or value.
	Args any

	resolve  func(v any)
	reject   func(err error)
	progress func(p any)
	abort    func(err error)
	stage    func() task.Stage
}

// Resolve settles the call with v, which must be of the call's result type.
func (c *Call) Resolve(v any) { c.resolve(v) }

// Reject settles the call with err.
func (c *Call) Reject(err error) { c.reject(err) }

// Progress reports p, which must be of the call's progress type.
func (c *Call) Progress(p any) { c.progress(p) }

// Abort aborts the call's task.
func (c *Call) Abort(err error) { c.abort(err) }

// Stage returns the call's task stage.
func (c *Call) Stage() task.Stage { return c.stage() }

// Executor records calls. The zero value is ready to use.
type Executor struct {
	// Handle, if set, runs synchronously for every call after it is
	// recorded. It may settle the call.
	Handle func(c *Call)

	mu     sync.Mutex
	calls  []*Call
	notify chan *Call
	once   sync.Once
}

func (e *Executor) init() {
	e.once.Do(func() { e.notify = make(chan *Call, 1024) })
}

// Calls returns every call recorded so far, in order.
func (e *Executor) Calls() []*Call {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Call, len(e.calls))
	copy(out, e.calls)
	return out
}

// Methods returns the method names of every recorded call, in order.
func (e *Executor) Methods() []string {
	calls := e.Calls()
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = c.Method
	}
	return out
}

// Next returns the next call not yet returned by Next, failing the test
// if none arrives within a second.
func (e *Executor) Next(t testing.TB) *Call {
	t.Helper()
	e.init()
	select {
	case c := <-e.notify:
		return c
	case <-time.After(time.Second):
		t.Fatal("executortest: no executor call arrived")
		return nil
	}
}

// ExpectIdle fails the test if a call arrives within d.
func (e *Executor) ExpectIdle(t testing.TB, d time.Duration) {
	t.Helper()
	e.init()
	select {
	case c := <-e.notify:
		t.Fatalf("executortest: unexpected call %s(%s)", c.Method, c.DocID)
	case <-time.After(d):
	}
}

func record[T, P any](e *Executor, method, docID string, page int, args any) *task.Task[T, P] {
	e.init()
	t := task.New[T, P]()
	c := &Call{
		Method:   method,
		DocID:    docID,
		Page:     page,
		Args:     args,
		resolve:  func(v any) { t.Resolve(v.(T)) },
		reject:   t.Reject,
		progress: func(p any) { t.Progress(p.(P)) },
		abort:    t.Abort,
		stage:    t.Stage,
	}

	e.mu.Lock()
	e.calls = append(e.calls, c)
	e.mu.Unlock()
	e.notify <- c

	if e.Handle != nil {
		e.Handle(c)
	}
	return t
}

func (e *Executor) OpenDocumentBuffer(opts embedpdf.OpenBufferOptions) *task.Task[*embedpdf.Document, embedpdf.NoProgress] {
	return record[*embedpdf.Document, embedpdf.NoProgress](e, "openDocumentBuffer", opts.ID, -1, opts)
}

func (e *Executor) OpenDocumentURL(opts embedpdf.OpenURLOptions) *task.Task[*embedpdf.Document, embedpdf.NoProgress] {
	return record[*embedpdf.Document, embedpdf.NoProgress](e, "openDocumentUrl", opts.ID, -1, opts)
}

func (e *Executor) CloseDocument(docID string) *task.Task[bool, embedpdf.NoProgress] {
	return record[bool, embedpdf.NoProgress](e, "closeDocument", docID, -1, nil)
}

func (e *Executor) RenderPage(docID string, page int, opts embedpdf.RenderOptions) *task.Task[*embedpdf.Image, embedpdf.NoProgress] {
	return record[*embedpdf.Image, embedpdf.NoProgress](e, "renderPage", docID, page, opts)
}

func (e *Executor) RenderPageRect(docID string, page int, rect embedpdf.Rect, opts embedpdf.RenderOptions) *task.Task[*embedpdf.Image, embedpdf.NoProgress] {
	return record[*embedpdf.Image, embedpdf.NoProgress](e, "renderPageRect", docID, page, rect)
}

func (e *Executor) GetBookmarks(docID string) *task.Task[[]embedpdf.Bookmark, embedpdf.NoProgress] {
	return record[[]embedpdf.Bookmark, embedpdf.NoProgress](e, "getBookmarks", docID, -1, nil)
}

func (e *Executor) GetAttachments(docID string) *task.Task[[]embedpdf.Attachment, embedpdf.NoProgress] {
	return record[[]embedpdf.Attachment, embedpdf.NoProgress](e, "getAttachments", docID, -1, nil)
}

func (e *Executor) ReadAttachmentContent(docID string, index int) *task.Task[[]byte, embedpdf.NoProgress] {
	return record[[]byte, embedpdf.NoProgress](e, "readAttachmentContent", docID, -1, index)
}

func (e *Executor) GetMetadata(docID string) *task.Task[*embedpdf.Metadata, embedpdf.NoProgress] {
	return record[*embedpdf.Metadata, embedpdf.NoProgress](e, "getMetadata", docID, -1, nil)
}

func (e *Executor) SetMetadata(docID string, meta embedpdf.Metadata) *task.Task[bool, embedpdf.NoProgress] {
	return record[bool, embedpdf.NoProgress](e, "setMetadata", docID, -1, meta)
}

func (e *Executor) ExtractText(docID string, pages []int) *task.Task[string, embedpdf.NoProgress] {
	return record[string, embedpdf.NoProgress](e, "extractText", docID, -1, pages)
}

func (e *Executor) SaveAsCopy(docID string) *task.Task[[]byte, embedpdf.NoProgress] {
	return record[[]byte, embedpdf.NoProgress](e, "saveAsCopy", docID, -1, nil)
}

func (e *Executor) PreparePrintDocument(docID string, opts embedpdf.PrintOptions) *task.Task[[]byte, embedpdf.PrintProgress] {
	return record[[]byte, embedpdf.PrintProgress](e, "preparePrintDocument", docID, -1, opts)
}

func (e *Executor) Destroy() *task.Task[bool, embedpdf.NoProgress] {
	return record[bool, embedpdf.NoProgress](e, "destroy", "", -1, nil)
}

// OpenAll is a Handle hook that resolves every open with a document of
// pages letter-sized pages and every close with true.
func OpenAll(pages int) func(c *Call) {
	return func(c *Call) {
		switch c.Method {
		case "openDocumentBuffer", "openDocumentUrl":
			c.Resolve(NewDocument(c.DocID, pages))
		case "closeDocument", "destroy":
			c.Resolve(true)
		}
	}
}

// NewDocument builds a document with n letter-sized pages.
func NewDocument(id string, n int) *embedpdf.Document {
	doc := &embedpdf.Document{ID: id, PageCount: n}
	for i := range n {
		doc.Pages = append(doc.Pages, embedpdf.Page{Index: i, Width: 612, Height: 792})
	}
	return doc
}
