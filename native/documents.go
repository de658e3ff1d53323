package native

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/embedpdf/pdfdispatch"
	"github.com/embedpdf/pdfdispatch/id"
	"github.com/embedpdf/pdfdispatch/task"
	"github.com/embedpdf/pdfdispatch/wire"
)

// document is a loaded native document. buf holds the file bytes, which the
// library reads lazily and must outlive the handle.
type document struct {
	id     string
	handle uint32
	buf    uint32
	pages  []embedpdf.Page
}

func (d *document) info() *embedpdf.Document {
	pages := make([]embedpdf.Page, len(d.pages))
	copy(pages, d.pages)
	return &embedpdf.Document{ID: d.id, PageCount: len(pages), Pages: pages}
}

func (e *Executor) doc(docID string) (*document, error) {
	d, ok := e.docs[docID]
	if !ok {
		return nil, embedpdf.NewReason(embedpdf.CodeDocNotOpen, "document %s is not open", docID)
	}
	return d, nil
}

func (d *document) page(index int) (embedpdf.Page, error) {
	if index < 0 || index >= len(d.pages) {
		return embedpdf.Page{}, embedpdf.NewReason(embedpdf.CodeValidation,
			"page %d out of range [0, %d) in %s", index, len(d.pages), d.id)
	}
	return d.pages[index], nil
}

// OpenDocumentBuffer loads a document from memory. An empty ID gets a
// generated one.
func (e *Executor) OpenDocumentBuffer(opts embedpdf.OpenBufferOptions) *task.Task[*embedpdf.Document, embedpdf.NoProgress] {
	docID := opts.ID
	if docID == "" {
		docID = id.NewDocumentID().String()
	}
	return submit(e, wire.MethodOpenDocumentBuffer, docID,
		func(ctx context.Context, t *task.Task[*embedpdf.Document, embedpdf.NoProgress]) (*embedpdf.Document, error) {
			if _, ok := e.docs[docID]; ok {
				return nil, embedpdf.NewReason(embedpdf.CodeValidation, "document %s is already open", docID)
			}
			d, err := e.load(ctx, docID, opts.Content, opts.Password)
			if err != nil {
				return nil, err
			}
			e.docs[docID] = d

			info := d.info()
			t.Resolve(info)
			if t.Stage() == task.Aborted {
				// Nobody owns the handle; release it now.
				e.logger.Debug("releasing document opened after abort", slog.String("doc_id", docID))
				_ = e.unload(ctx, d)
				delete(e.docs, docID)
			}
			return info, nil
		})
}

// OpenDocumentURL fetches the document over HTTP and then loads it like
// OpenDocumentBuffer. Aborting the task cancels the fetch.
func (e *Executor) OpenDocumentURL(opts embedpdf.OpenURLOptions) *task.Task[*embedpdf.Document, embedpdf.NoProgress] {
	t := task.New[*embedpdf.Document, embedpdf.NoProgress]()
	ctx, cancel := context.WithCancel(e.ctx)
	t.OnSettled(cancel)

	seq := task.NewSequence(t)
	seq.Execute(func() error {
		content, err := e.fetch(ctx, opts.URL)
		if err != nil {
			return err
		}
		doc, err := task.Run(seq, func() *task.Task[*embedpdf.Document, embedpdf.NoProgress] {
			return e.OpenDocumentBuffer(embedpdf.OpenBufferOptions{
				ID:       opts.ID,
				Content:  content,
				Password: opts.Password,
			})
		})
		if err != nil {
			return err
		}
		t.Resolve(doc)
		return nil
	}, func(err error) error {
		var r *embedpdf.Reason
		if errors.As(err, &r) {
			return r
		}
		return embedpdf.NewReason(embedpdf.CodeFile, "open %s: %v", opts.URL, err)
	})
	return t
}

func (e *Executor) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, embedpdf.NewReason(embedpdf.CodeFile, "fetch %s: %v", url, err)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, embedpdf.NewReason(embedpdf.CodeFile, "fetch %s: %v", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, embedpdf.NewReason(embedpdf.CodeFile, "fetch %s: %s", url, resp.Status)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, embedpdf.NewReason(embedpdf.CodeFile, "fetch %s: %v", url, err)
	}
	return body, nil
}

func (e *Executor) load(ctx context.Context, docID string, content []byte, password string) (*document, error) {
	buf, err := e.lib.writeBytes(ctx, content)
	if err != nil {
		return nil, err
	}

	var pw uint32
	if password != "" {
		if pw, err = e.lib.cString(ctx, password); err != nil {
			e.lib.free(ctx, buf)
			return nil, err
		}
		defer e.lib.free(ctx, pw)
	}

	h, err := e.lib.callPtr(ctx, "FPDF_LoadMemDocument", uint64(buf), arg(len(content)), uint64(pw))
	if err != nil {
		e.lib.free(ctx, buf)
		return nil, err
	}
	if h == 0 {
		err := e.lib.lastError(ctx, embedpdf.CodeFormat, "open %s", docID)
		e.lib.free(ctx, buf)
		return nil, err
	}

	d := &document{id: docID, handle: h, buf: buf}
	if d.pages, err = e.readPages(ctx, h); err != nil {
		_ = e.unload(ctx, d)
		return nil, err
	}
	return d, nil
}

func (e *Executor) readPages(ctx context.Context, doc uint32) ([]embedpdf.Page, error) {
	n, err := e.lib.callInt(ctx, "FPDF_GetPageCount", uint64(doc))
	if err != nil {
		return nil, err
	}
	size, err := e.lib.malloc(ctx, 8)
	if err != nil {
		return nil, err
	}
	defer e.lib.free(ctx, size)

	pages := make([]embedpdf.Page, 0, max(n, 0))
	for i := range max(n, 0) {
		ok, err := e.lib.callBool(ctx, "FPDF_GetPageSizeByIndexF", uint64(doc), arg(i), uint64(size))
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, e.lib.lastError(ctx, embedpdf.CodePageError, "size of page %d", i)
		}
		w, h, err := e.lib.readF32Pair(size)
		if err != nil {
			return nil, err
		}
		p := embedpdf.Page{Index: i, Width: float64(w), Height: float64(h)}
		err = e.withPage(ctx, doc, i, func(page uint32) error {
			p.Rotation, err = e.lib.callInt(ctx, "FPDFPage_GetRotation", uint64(page))
			return err
		})
		if err != nil {
			return nil, err
		}
		pages = append(pages, p)
	}
	return pages, nil
}

// withPage loads page index of doc for the duration of fn.
func (e *Executor) withPage(ctx context.Context, doc uint32, index int, fn func(page uint32) error) error {
	page, err := e.lib.callPtr(ctx, "FPDF_LoadPage", uint64(doc), arg(index))
	if err != nil {
		return err
	}
	if page == 0 {
		return e.lib.lastError(ctx, embedpdf.CodePageError, "load page %d", index)
	}
	defer func() { _, _ = e.lib.call(ctx, "FPDF_ClosePage", uint64(page)) }()
	return fn(page)
}

func (e *Executor) unload(ctx context.Context, d *document) error {
	_, err := e.lib.call(ctx, "FPDF_CloseDocument", uint64(d.handle))
	e.lib.free(ctx, d.buf)
	return err
}

// CloseDocument releases the document's native handle and memory.
func (e *Executor) CloseDocument(docID string) *task.Task[bool, embedpdf.NoProgress] {
	return submit(e, wire.MethodCloseDocument, docID,
		func(ctx context.Context, _ *task.Task[bool, embedpdf.NoProgress]) (bool, error) {
			d, err := e.doc(docID)
			if err != nil {
				return false, err
			}
			delete(e.docs, docID)
			if err := e.unload(ctx, d); err != nil {
				return false, embedpdf.NewReason(embedpdf.CodeCantCloseDoc, "close %s: %v", docID, err)
			}
			return true, nil
		})
}

// Destroy aborts every queued operation, closes every open document and
// the module, and stops the serializer. Later operations reject with
// NotReady.
func (e *Executor) Destroy() *task.Task[bool, embedpdf.NoProgress] {
	t := task.New[bool, embedpdf.NoProgress]()

	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		go func() {
			<-e.done
			t.Resolve(true)
		}()
		return t
	}
	e.stopped = true
	queued := e.queue
	j := newJob(e, wire.MethodDestroy, "", t,
		func(ctx context.Context, _ *task.Task[bool, embedpdf.NoProgress]) (bool, error) {
			return true, e.destroy(ctx)
		})
	// Teardown runs even if the caller gives up on the task.
	j.pending = func() bool { return true }
	e.queue = []*job{j}
	e.cond.Signal()
	e.mu.Unlock()

	reason := embedpdf.NewReason(embedpdf.CodeCancelled, "executor destroyed")
	for _, q := range queued {
		q.abort(reason)
	}
	return t
}

func (e *Executor) destroy(ctx context.Context) error {
	defer e.cancel()

	for docID, d := range e.docs {
		if err := e.unload(ctx, d); err != nil {
			e.logger.Warn("close on destroy failed",
				slog.String("doc_id", docID),
				slog.String("error", err.Error()),
			)
		}
		delete(e.docs, docID)
	}
	if _, err := e.lib.call(ctx, "FPDF_DestroyLibrary"); err != nil {
		e.logger.Warn("destroy library failed", slog.String("error", err.Error()))
	}
	return e.lib.mod.Close(ctx)
}
