package dispatcher

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/embedpdf/pdfdispatch"
	"github.com/embedpdf/pdfdispatch/id"
	"github.com/embedpdf/pdfdispatch/queue"
	"github.com/embedpdf/pdfdispatch/task"
	"github.com/embedpdf/pdfdispatch/wire"
)

// MethodRenderThumbnail names thumbnail renders in extension hooks. On the
// executor they are ordinary renderPage calls.
const MethodRenderThumbnail = "renderThumbnail"

// DefaultThumbnailSize is the longest edge of a thumbnail in pixels when
// ThumbnailOptions.MaxSize is zero.
const DefaultThumbnailSize = 256

// ThumbnailOptions controls RenderThumbnail.
type ThumbnailOptions struct {
	// MaxSize bounds the longer edge in CSS pixels.
	MaxSize         int
	DPR             float64
	WithAnnotations bool
}

// ──────────────────────────────────────────────────
// Document lifecycle
// ──────────────────────────────────────────────────

// OpenDocumentBuffer opens a document from memory. An empty opts.ID is
// replaced by a generated one; the resolved Document carries it.
func (d *Dispatcher) OpenDocumentBuffer(opts embedpdf.OpenBufferOptions) *task.Task[*embedpdf.Document, embedpdf.NoProgress] {
	if opts.ID == "" {
		opts.ID = id.NewDocumentID().String()
	}
	return d.open(wire.MethodOpenDocumentBuffer, opts.ID, func(x embedpdf.Executor) *task.Task[*embedpdf.Document, embedpdf.NoProgress] {
		return x.OpenDocumentBuffer(opts)
	})
}

// OpenDocumentURL opens a document the executor fetches from opts.URL.
func (d *Dispatcher) OpenDocumentURL(opts embedpdf.OpenURLOptions) *task.Task[*embedpdf.Document, embedpdf.NoProgress] {
	if opts.ID == "" {
		opts.ID = id.NewDocumentID().String()
	}
	if opts.URL == "" {
		return task.RejectedTask[*embedpdf.Document, embedpdf.NoProgress](
			embedpdf.NewReason(embedpdf.CodeValidation, "empty url"))
	}
	return d.open(wire.MethodOpenDocumentURL, opts.ID, func(x embedpdf.Executor) *task.Task[*embedpdf.Document, embedpdf.NoProgress] {
		return x.OpenDocumentURL(opts)
	})
}

func (d *Dispatcher) open(method, docID string, call func(embedpdf.Executor) *task.Task[*embedpdf.Document, embedpdf.NoProgress]) *task.Task[*embedpdf.Document, embedpdf.NoProgress] {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return task.RejectedTask[*embedpdf.Document, embedpdf.NoProgress](
			embedpdf.NewReason(embedpdf.CodeNotReady, "dispatcher closed"))
	}
	if h, ok := d.handles[docID]; ok {
		d.mu.Unlock()
		return task.RejectedTask[*embedpdf.Document, embedpdf.NoProgress](
			embedpdf.NewReason(embedpdf.CodeValidation, "document %q is already %s", docID, h.state))
	}

	h := &handle{id: docID, state: Opening, ops: make(map[*op]struct{})}
	d.handles[docID] = h
	outer, o := newOp(d, request{method: method, docID: docID, page: -1, class: queue.Interactive}, h, call,
		func(doc *embedpdf.Document, err error) func() {
			if err != nil || doc == nil {
				h.state = Closed
				if d.handles[docID] == h {
					delete(d.handles, docID)
				}
				return nil
			}
			if doc.ID == "" {
				doc.ID = docID
			}
			h.state = Open
			stored := cloneDocument(doc)
			h.doc = &stored
			return func() {
				d.logger.Info("dispatcher: document opened",
					slog.String("doc_id", docID),
					slog.Int("pages", doc.PageCount),
				)
				d.extensions.EmitDocumentOpened(d.ctx, doc)
			}
		})
	h.seq = o.Seq
	acts := d.enqueueLocked(o)
	d.mu.Unlock()

	acts.run()
	d.pump()
	return outer
}

// CloseDocument aborts every queued and running operation of the document,
// then closes it on the executor. The handle is released once the close
// settles, whatever its outcome. Aborting the returned task does not stop
// the close.
func (d *Dispatcher) CloseDocument(docID string) *task.Task[bool, embedpdf.NoProgress] {
	d.mu.Lock()
	h, err := d.lookupLocked(docID, -1)
	if err != nil {
		d.mu.Unlock()
		return task.RejectedTask[bool, embedpdf.NoProgress](err)
	}
	h.state = Closing

	var acts actions
	reason := embedpdf.NewReason(embedpdf.CodeCancelled, "document %q closed", docID)
	for o := range h.ops {
		acts.add(d.dropLocked(o, reason, false))
	}

	outer, o := newOp(d, request{method: wire.MethodCloseDocument, docID: docID, page: -1, class: queue.Interactive}, h,
		func(x embedpdf.Executor) *task.Task[bool, embedpdf.NoProgress] {
			return x.CloseDocument(docID)
		},
		func(_ bool, err error) func() {
			h.state = Closed
			if d.handles[docID] == h {
				delete(d.handles, docID)
			}
			return func() {
				if err != nil {
					d.logger.Warn("dispatcher: close failed, handle released",
						slog.String("doc_id", docID),
						slog.String("error", err.Error()),
					)
				} else {
					d.logger.Info("dispatcher: document closed", slog.String("doc_id", docID))
				}
				d.extensions.EmitDocumentClosed(d.ctx, docID)
			}
		})
	o.detached = true
	acts = append(acts, d.enqueueLocked(o)...)
	d.mu.Unlock()

	acts.run()
	d.pump()
	return outer
}

// CloseAllDocuments closes every open document. It resolves once all
// closes settle and rejects with the first close failure.
func (d *Dispatcher) CloseAllDocuments() *task.Task[bool, embedpdf.NoProgress] {
	docs := d.Documents()
	closes := make([]*task.Task[bool, embedpdf.NoProgress], len(docs))
	settlers := make([]task.Settler, len(docs))
	for i, doc := range docs {
		closes[i] = d.CloseDocument(doc.ID)
		settlers[i] = closes[i]
	}

	out := task.New[bool, embedpdf.NoProgress]()
	task.AllSettled(settlers...).Wait(func(struct{}) {
		for _, c := range closes {
			if _, f, stage := c.Outcome(); stage != task.Resolved {
				out.Reject(f.Reason)
				return
			}
		}
		out.Resolve(true)
	}, nil)
	return out
}

// ──────────────────────────────────────────────────
// Rendering
// ──────────────────────────────────────────────────

// RenderPage renders a whole page. Background renders are scheduled as
// prefetches.
func (d *Dispatcher) RenderPage(docID string, page int, opts embedpdf.RenderOptions) *task.Task[*embedpdf.Image, embedpdf.NoProgress] {
	if err := validRender(page, opts); err != nil {
		return task.RejectedTask[*embedpdf.Image, embedpdf.NoProgress](err)
	}
	req := request{
		method: wire.MethodRenderPage,
		docID:  docID,
		page:   page,
		class:  renderClass(opts),
		key:    renderKey(docID, page, opts, nil),
	}
	return submit(d, req, func(x embedpdf.Executor) *task.Task[*embedpdf.Image, embedpdf.NoProgress] {
		return x.RenderPage(docID, page, opts)
	})
}

// RenderPageRect renders the region rect of a page, given in points of
// the rotated page.
func (d *Dispatcher) RenderPageRect(docID string, page int, rect embedpdf.Rect, opts embedpdf.RenderOptions) *task.Task[*embedpdf.Image, embedpdf.NoProgress] {
	if err := validRender(page, opts); err != nil {
		return task.RejectedTask[*embedpdf.Image, embedpdf.NoProgress](err)
	}
	if rect.Width <= 0 || rect.Height <= 0 {
		return task.RejectedTask[*embedpdf.Image, embedpdf.NoProgress](
			embedpdf.NewReason(embedpdf.CodeValidation, "empty rect %gx%g", rect.Width, rect.Height))
	}
	req := request{
		method: wire.MethodRenderPageRect,
		docID:  docID,
		page:   page,
		class:  renderClass(opts),
		key:    renderKey(docID, page, opts, &rect),
	}
	return submit(d, req, func(x embedpdf.Executor) *task.Task[*embedpdf.Image, embedpdf.NoProgress] {
		return x.RenderPageRect(docID, page, rect, opts)
	})
}

// RenderThumbnail renders a page scaled so its longer edge is opts.MaxSize
// pixels. Thumbnails are prefetches and never supersede page renders.
func (d *Dispatcher) RenderThumbnail(docID string, page int, opts ThumbnailOptions) *task.Task[*embedpdf.Image, embedpdf.NoProgress] {
	if opts.MaxSize <= 0 {
		opts.MaxSize = DefaultThumbnailSize
	}
	if page < 0 {
		return task.RejectedTask[*embedpdf.Image, embedpdf.NoProgress](
			embedpdf.NewReason(embedpdf.CodeValidation, "negative page %d", page))
	}
	doc, err := d.document(docID)
	if err != nil {
		return task.RejectedTask[*embedpdf.Image, embedpdf.NoProgress](err)
	}
	if page >= doc.PageCount {
		return task.RejectedTask[*embedpdf.Image, embedpdf.NoProgress](
			embedpdf.NewReason(embedpdf.CodeValidation, "page %d out of range [0, %d)", page, doc.PageCount))
	}
	if page >= len(doc.Pages) {
		return task.RejectedTask[*embedpdf.Image, embedpdf.NoProgress](
			embedpdf.NewReason(embedpdf.CodePageError, "no size known for page %d", page))
	}

	p := doc.Pages[page]
	edge := math.Max(p.Width, p.Height)
	scale := 1.0
	if edge > 0 {
		scale = float64(opts.MaxSize) / edge
	}
	render := embedpdf.RenderOptions{
		Scale:           scale,
		DPR:             opts.DPR,
		WithAnnotations: opts.WithAnnotations,
		Background:      true,
	}
	req := request{
		method: MethodRenderThumbnail,
		docID:  docID,
		page:   page,
		class:  queue.Prefetch,
		key:    fmt.Sprintf("thumb|%s|%d|%d|%g|%t", docID, page, opts.MaxSize, orOne(opts.DPR), opts.WithAnnotations),
	}
	return submit(d, req, func(x embedpdf.Executor) *task.Task[*embedpdf.Image, embedpdf.NoProgress] {
		return x.RenderPage(docID, page, render)
	})
}

func validRender(page int, opts embedpdf.RenderOptions) error {
	if page < 0 {
		return embedpdf.NewReason(embedpdf.CodeValidation, "negative page %d", page)
	}
	if opts.Rotation < embedpdf.Rotate0 || opts.Rotation > embedpdf.Rotate270 {
		return embedpdf.NewReason(embedpdf.CodeValidation, "rotation %d out of range", opts.Rotation)
	}
	if opts.Scale < 0 || opts.DPR < 0 {
		return embedpdf.NewReason(embedpdf.CodeValidation, "negative scale")
	}
	return nil
}

func renderClass(opts embedpdf.RenderOptions) queue.Class {
	if opts.Background {
		return queue.Prefetch
	}
	return queue.Interactive
}

// renderKey identifies renders that produce the same pixels. Background
// does not take part: a visible render replaces a pending prefetch of the
// same image.
func renderKey(docID string, page int, opts embedpdf.RenderOptions, rect *embedpdf.Rect) string {
	key := fmt.Sprintf("render|%s|%d|%g|%d|%g|%t", docID, page, orOne(opts.Scale), opts.Rotation, orOne(opts.DPR), opts.WithAnnotations)
	if rect != nil {
		key += fmt.Sprintf("|%g,%g,%g,%g", rect.X, rect.Y, rect.Width, rect.Height)
	}
	return key
}

func orOne(v float64) float64 {
	if v <= 0 {
		return 1
	}
	return v
}

// ──────────────────────────────────────────────────
// Document content
// ──────────────────────────────────────────────────

// GetBookmarks reads the document outline.
func (d *Dispatcher) GetBookmarks(docID string) *task.Task[[]embedpdf.Bookmark, embedpdf.NoProgress] {
	return submit(d, bulk(wire.MethodGetBookmarks, docID), func(x embedpdf.Executor) *task.Task[[]embedpdf.Bookmark, embedpdf.NoProgress] {
		return x.GetBookmarks(docID)
	})
}

// GetAttachments lists embedded files.
func (d *Dispatcher) GetAttachments(docID string) *task.Task[[]embedpdf.Attachment, embedpdf.NoProgress] {
	return submit(d, bulk(wire.MethodGetAttachments, docID), func(x embedpdf.Executor) *task.Task[[]embedpdf.Attachment, embedpdf.NoProgress] {
		return x.GetAttachments(docID)
	})
}

// ReadAttachmentContent reads the bytes of the embedded file at index.
func (d *Dispatcher) ReadAttachmentContent(docID string, index int) *task.Task[[]byte, embedpdf.NoProgress] {
	if index < 0 {
		return task.RejectedTask[[]byte, embedpdf.NoProgress](
			embedpdf.NewReason(embedpdf.CodeValidation, "negative attachment index %d", index))
	}
	return submit(d, bulk(wire.MethodReadAttachmentContent, docID), func(x embedpdf.Executor) *task.Task[[]byte, embedpdf.NoProgress] {
		return x.ReadAttachmentContent(docID, index)
	})
}

// GetMetadata reads the document information dictionary.
func (d *Dispatcher) GetMetadata(docID string) *task.Task[*embedpdf.Metadata, embedpdf.NoProgress] {
	return submit(d, bulk(wire.MethodGetMetadata, docID), func(x embedpdf.Executor) *task.Task[*embedpdf.Metadata, embedpdf.NoProgress] {
		return x.GetMetadata(docID)
	})
}

// SetMetadata writes the non-empty fields of meta.
func (d *Dispatcher) SetMetadata(docID string, meta embedpdf.Metadata) *task.Task[bool, embedpdf.NoProgress] {
	return submit(d, bulk(wire.MethodSetMetadata, docID), func(x embedpdf.Executor) *task.Task[bool, embedpdf.NoProgress] {
		return x.SetMetadata(docID, meta)
	})
}

// ExtractText extracts the text of pages, joined by newlines. Empty pages
// means every page.
func (d *Dispatcher) ExtractText(docID string, pages []int) *task.Task[string, embedpdf.NoProgress] {
	d.mu.Lock()
	h, err := d.lookupLocked(docID, -1)
	if err == nil {
		for _, p := range pages {
			if p < 0 || p >= h.doc.PageCount {
				err = embedpdf.NewReason(embedpdf.CodeValidation, "page %d out of range [0, %d)", p, h.doc.PageCount)
				break
			}
		}
	}
	d.mu.Unlock()
	if err != nil {
		return task.RejectedTask[string, embedpdf.NoProgress](err)
	}

	pages = append([]int(nil), pages...)
	return submit(d, bulk(wire.MethodExtractText, docID), func(x embedpdf.Executor) *task.Task[string, embedpdf.NoProgress] {
		return x.ExtractText(docID, pages)
	})
}

// SaveAsCopy serializes the document, including unsaved changes.
func (d *Dispatcher) SaveAsCopy(docID string) *task.Task[[]byte, embedpdf.NoProgress] {
	return submit(d, bulk(wire.MethodSaveAsCopy, docID), func(x embedpdf.Executor) *task.Task[[]byte, embedpdf.NoProgress] {
		return x.SaveAsCopy(docID)
	})
}

// PreparePrintDocument builds a print-ready copy of the document and
// reports progress per stage.
func (d *Dispatcher) PreparePrintDocument(docID string, opts embedpdf.PrintOptions) *task.Task[[]byte, embedpdf.PrintProgress] {
	return submit(d, bulk(wire.MethodPreparePrintDocument, docID), func(x embedpdf.Executor) *task.Task[[]byte, embedpdf.PrintProgress] {
		return x.PreparePrintDocument(docID, opts)
	})
}

func bulk(method, docID string) request {
	return request{method: method, docID: docID, page: -1, class: queue.Bulk}
}
