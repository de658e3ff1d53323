package native

import (
	"context"
	"math"
	"strings"

	"github.com/tetratelabs/wazero/api"

	"github.com/embedpdf/pdfdispatch"
	"github.com/embedpdf/pdfdispatch/task"
	"github.com/embedpdf/pdfdispatch/wire"
)

// Render flags understood by FPDF_RenderPageBitmap.
const (
	renderAnnot            = 0x01
	renderReverseByteOrder = 0x10
)

const (
	maxBookmarkDepth = 64
	flattenFail      = 0
	flattenForPrint  = 1
)

// RenderPage renders a whole page to RGBA.
func (e *Executor) RenderPage(docID string, page int, opts embedpdf.RenderOptions) *task.Task[*embedpdf.Image, embedpdf.NoProgress] {
	return submit(e, wire.MethodRenderPage, docID,
		func(ctx context.Context, _ *task.Task[*embedpdf.Image, embedpdf.NoProgress]) (*embedpdf.Image, error) {
			return e.render(ctx, docID, page, nil, opts)
		})
}

// RenderPageRect renders rect, given in points of the rotated page.
func (e *Executor) RenderPageRect(docID string, page int, rect embedpdf.Rect, opts embedpdf.RenderOptions) *task.Task[*embedpdf.Image, embedpdf.NoProgress] {
	return submit(e, wire.MethodRenderPageRect, docID,
		func(ctx context.Context, _ *task.Task[*embedpdf.Image, embedpdf.NoProgress]) (*embedpdf.Image, error) {
			return e.render(ctx, docID, page, &rect, opts)
		})
}

func (e *Executor) render(ctx context.Context, docID string, index int, rect *embedpdf.Rect, opts embedpdf.RenderOptions) (*embedpdf.Image, error) {
	d, err := e.doc(docID)
	if err != nil {
		return nil, err
	}
	p, err := d.page(index)
	if err != nil {
		return nil, err
	}
	if opts.Rotation < embedpdf.Rotate0 || opts.Rotation > embedpdf.Rotate270 {
		return nil, embedpdf.NewReason(embedpdf.CodeValidation, "rotation %d out of range", opts.Rotation)
	}

	scale := opts.EffectiveScale()
	pw, ph := p.Width, p.Height
	if opts.Rotation%2 == 1 {
		pw, ph = ph, pw
	}
	fullW, fullH := int(math.Ceil(pw*scale)), int(math.Ceil(ph*scale))

	x, y, w, h := 0, 0, fullW, fullH
	if rect != nil {
		if rect.Width <= 0 || rect.Height <= 0 || rect.X < 0 || rect.Y < 0 ||
			rect.X+rect.Width > pw || rect.Y+rect.Height > ph {
			return nil, embedpdf.NewReason(embedpdf.CodeValidation,
				"rect %+v outside page %d (%gx%g)", *rect, index, pw, ph)
		}
		x, y = int(math.Floor(rect.X*scale)), int(math.Floor(rect.Y*scale))
		w, h = int(math.Ceil(rect.Width*scale)), int(math.Ceil(rect.Height*scale))
	}
	if w <= 0 || h <= 0 {
		return nil, embedpdf.NewReason(embedpdf.CodeValidation, "empty render size %dx%d", w, h)
	}

	bitmap, err := e.lib.callPtr(ctx, "FPDFBitmap_Create", arg(w), arg(h), 1)
	if err != nil {
		return nil, err
	}
	if bitmap == 0 {
		return nil, embedpdf.NewReason(embedpdf.CodeUnknown, "allocate %dx%d bitmap", w, h)
	}
	defer func() { _, _ = e.lib.call(ctx, "FPDFBitmap_Destroy", uint64(bitmap)) }()

	if _, err := e.lib.call(ctx, "FPDFBitmap_FillRect", uint64(bitmap), 0, 0, arg(w), arg(h), uint64(0xFFFFFFFF)); err != nil {
		return nil, err
	}

	flags := renderReverseByteOrder
	if opts.WithAnnotations {
		flags |= renderAnnot
	}

	var img *embedpdf.Image
	err = e.withPage(ctx, d.handle, index, func(page uint32) error {
		_, err := e.lib.call(ctx, "FPDF_RenderPageBitmap", uint64(bitmap), uint64(page),
			arg(-x), arg(-y), arg(fullW), arg(fullH), arg(opts.Rotation), arg(flags))
		if err != nil {
			return err
		}
		img, err = e.readBitmap(ctx, bitmap, w, h)
		return err
	})
	return img, err
}

// readBitmap copies the bitmap out of native memory, dropping row padding.
func (e *Executor) readBitmap(ctx context.Context, bitmap uint32, w, h int) (*embedpdf.Image, error) {
	buf, err := e.lib.callPtr(ctx, "FPDFBitmap_GetBuffer", uint64(bitmap))
	if err != nil {
		return nil, err
	}
	stride, err := e.lib.callInt(ctx, "FPDFBitmap_GetStride", uint64(bitmap))
	if err != nil {
		return nil, err
	}
	row := w * 4
	if stride < row {
		return nil, embedpdf.NewReason(embedpdf.CodeUnknown, "bitmap stride %d below row size %d", stride, row)
	}
	raw, err := e.lib.readBytes(buf, uint32(stride*h))
	if err != nil {
		return nil, err
	}
	data := raw
	if stride != row {
		data = make([]byte, row*h)
		for i := range h {
			copy(data[i*row:(i+1)*row], raw[i*stride:])
		}
	}
	return &embedpdf.Image{Width: w, Height: h, Data: data}, nil
}

// GetBookmarks returns the document outline.
func (e *Executor) GetBookmarks(docID string) *task.Task[[]embedpdf.Bookmark, embedpdf.NoProgress] {
	return submit(e, wire.MethodGetBookmarks, docID,
		func(ctx context.Context, _ *task.Task[[]embedpdf.Bookmark, embedpdf.NoProgress]) ([]embedpdf.Bookmark, error) {
			d, err := e.doc(docID)
			if err != nil {
				return nil, err
			}
			return e.bookmarks(ctx, d.handle, 0, 0, make(map[uint32]bool))
		})
}

func (e *Executor) bookmarks(ctx context.Context, doc, parent uint32, depth int, seen map[uint32]bool) ([]embedpdf.Bookmark, error) {
	out := []embedpdf.Bookmark{}
	if depth >= maxBookmarkDepth {
		return out, nil
	}
	bm, err := e.lib.callPtr(ctx, "FPDFBookmark_GetFirstChild", uint64(doc), uint64(parent))
	if err != nil {
		return nil, err
	}
	// Malformed outlines can loop.
	for bm != 0 && !seen[bm] {
		seen[bm] = true

		title, err := e.lib.readString(ctx, func(ptr, size uint32) (uint32, error) {
			return e.lib.callPtr(ctx, "FPDFBookmark_GetTitle", uint64(bm), uint64(ptr), uint64(size))
		})
		if err != nil {
			return nil, err
		}
		b := embedpdf.Bookmark{Title: title, PageIndex: -1}

		dest, err := e.lib.callPtr(ctx, "FPDFBookmark_GetDest", uint64(doc), uint64(bm))
		if err != nil {
			return nil, err
		}
		if dest != 0 {
			if b.PageIndex, err = e.lib.callInt(ctx, "FPDFDest_GetDestPageIndex", uint64(doc), uint64(dest)); err != nil {
				return nil, err
			}
		}

		children, err := e.bookmarks(ctx, doc, bm, depth+1, seen)
		if err != nil {
			return nil, err
		}
		if len(children) > 0 {
			b.Children = children
		}
		out = append(out, b)

		if bm, err = e.lib.callPtr(ctx, "FPDFBookmark_GetNextSibling", uint64(doc), uint64(bm)); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// GetAttachments lists embedded files with their sizes.
func (e *Executor) GetAttachments(docID string) *task.Task[[]embedpdf.Attachment, embedpdf.NoProgress] {
	return submit(e, wire.MethodGetAttachments, docID,
		func(ctx context.Context, _ *task.Task[[]embedpdf.Attachment, embedpdf.NoProgress]) ([]embedpdf.Attachment, error) {
			d, err := e.doc(docID)
			if err != nil {
				return nil, err
			}
			n, err := e.lib.callInt(ctx, "FPDFDoc_GetAttachmentCount", uint64(d.handle))
			if err != nil {
				return nil, err
			}
			out := make([]embedpdf.Attachment, 0, max(n, 0))
			for i := range max(n, 0) {
				att, err := e.attachment(ctx, d, i)
				if err != nil {
					return nil, err
				}
				name, err := e.lib.readString(ctx, func(ptr, size uint32) (uint32, error) {
					return e.lib.callPtr(ctx, "FPDFAttachment_GetName", uint64(att), uint64(ptr), uint64(size))
				})
				if err != nil {
					return nil, err
				}
				size, err := e.attachmentSize(ctx, att)
				if err != nil {
					return nil, err
				}
				out = append(out, embedpdf.Attachment{Index: i, Name: name, Size: int(size)})
			}
			return out, nil
		})
}

// ReadAttachmentContent returns the bytes of attachment index.
func (e *Executor) ReadAttachmentContent(docID string, index int) *task.Task[[]byte, embedpdf.NoProgress] {
	return submit(e, wire.MethodReadAttachmentContent, docID,
		func(ctx context.Context, _ *task.Task[[]byte, embedpdf.NoProgress]) ([]byte, error) {
			d, err := e.doc(docID)
			if err != nil {
				return nil, err
			}
			att, err := e.attachment(ctx, d, index)
			if err != nil {
				return nil, err
			}
			size, err := e.attachmentSize(ctx, att)
			if err != nil {
				return nil, err
			}
			out, err := e.lib.malloc(ctx, 4)
			if err != nil {
				return nil, err
			}
			defer e.lib.free(ctx, out)
			return e.lib.readSized(ctx, size, func(ptr, size uint32) error {
				ok, err := e.lib.callBool(ctx, "FPDFAttachment_GetFile", uint64(att), uint64(ptr), uint64(size), uint64(out))
				if err != nil {
					return err
				}
				if !ok {
					return e.lib.lastError(ctx, embedpdf.CodeUnknown, "read attachment %d", index)
				}
				return nil
			})
		})
}

func (e *Executor) attachment(ctx context.Context, d *document, index int) (uint32, error) {
	n, err := e.lib.callInt(ctx, "FPDFDoc_GetAttachmentCount", uint64(d.handle))
	if err != nil {
		return 0, err
	}
	if index < 0 || index >= n {
		return 0, embedpdf.NewReason(embedpdf.CodeNotFound, "attachment %d not found in %s", index, d.id)
	}
	att, err := e.lib.callPtr(ctx, "FPDFDoc_GetAttachment", uint64(d.handle), arg(index))
	if err != nil {
		return 0, err
	}
	if att == 0 {
		return 0, e.lib.lastError(ctx, embedpdf.CodeNotFound, "attachment %d", index)
	}
	return att, nil
}

// attachmentSize probes FPDFAttachment_GetFile with an empty buffer.
func (e *Executor) attachmentSize(ctx context.Context, att uint32) (uint32, error) {
	out, err := e.lib.malloc(ctx, 4)
	if err != nil {
		return 0, err
	}
	defer e.lib.free(ctx, out)
	ok, err := e.lib.callBool(ctx, "FPDFAttachment_GetFile", uint64(att), 0, 0, uint64(out))
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	return e.lib.readU32(out)
}

// GetMetadata reads the info dictionary.
func (e *Executor) GetMetadata(docID string) *task.Task[*embedpdf.Metadata, embedpdf.NoProgress] {
	return submit(e, wire.MethodGetMetadata, docID,
		func(ctx context.Context, _ *task.Task[*embedpdf.Metadata, embedpdf.NoProgress]) (*embedpdf.Metadata, error) {
			d, err := e.doc(docID)
			if err != nil {
				return nil, err
			}
			meta := &embedpdf.Metadata{}
			for _, f := range meta.Fields() {
				v, err := e.metaText(ctx, d.handle, f[0])
				if err != nil {
					return nil, err
				}
				meta.Set(f[0], v)
			}
			return meta, nil
		})
}

func (e *Executor) metaText(ctx context.Context, doc uint32, key string) (string, error) {
	tag, err := e.lib.cString(ctx, key)
	if err != nil {
		return "", err
	}
	defer e.lib.free(ctx, tag)
	return e.lib.readString(ctx, func(ptr, size uint32) (uint32, error) {
		return e.lib.callPtr(ctx, "FPDF_GetMetaText", uint64(doc), uint64(tag), uint64(ptr), uint64(size))
	})
}

// SetMetadata writes every non-empty field of meta into the info
// dictionary. Empty fields are left unchanged.
func (e *Executor) SetMetadata(docID string, meta embedpdf.Metadata) *task.Task[bool, embedpdf.NoProgress] {
	return submit(e, wire.MethodSetMetadata, docID,
		func(ctx context.Context, _ *task.Task[bool, embedpdf.NoProgress]) (bool, error) {
			d, err := e.doc(docID)
			if err != nil {
				return false, err
			}
			for _, f := range meta.Fields() {
				if f[1] == "" {
					continue
				}
				if err := e.setMetaText(ctx, d.handle, f[0], f[1]); err != nil {
					return false, err
				}
			}
			return true, nil
		})
}

func (e *Executor) setMetaText(ctx context.Context, doc uint32, key, value string) error {
	tag, err := e.lib.cString(ctx, key)
	if err != nil {
		return err
	}
	defer e.lib.free(ctx, tag)
	val, err := e.lib.wideString(ctx, value)
	if err != nil {
		return err
	}
	defer e.lib.free(ctx, val)

	ok, err := e.lib.callBool(ctx, "EPDF_SetMetaText", uint64(doc), uint64(tag), uint64(val))
	if err != nil {
		return err
	}
	if !ok {
		return e.lib.lastError(ctx, embedpdf.CodeUnknown, "set %s", key)
	}
	return nil
}

// ExtractText returns the text of pages joined by newlines. No pages means
// every page.
func (e *Executor) ExtractText(docID string, pages []int) *task.Task[string, embedpdf.NoProgress] {
	return submit(e, wire.MethodExtractText, docID,
		func(ctx context.Context, _ *task.Task[string, embedpdf.NoProgress]) (string, error) {
			d, err := e.doc(docID)
			if err != nil {
				return "", err
			}
			if len(pages) == 0 {
				pages = make([]int, len(d.pages))
				for i := range pages {
					pages[i] = i
				}
			}
			texts := make([]string, 0, len(pages))
			for _, i := range pages {
				if _, err := d.page(i); err != nil {
					return "", err
				}
				s, err := e.pageText(ctx, d.handle, i)
				if err != nil {
					return "", err
				}
				texts = append(texts, s)
			}
			return strings.Join(texts, "\n"), nil
		})
}

func (e *Executor) pageText(ctx context.Context, doc uint32, index int) (string, error) {
	var text string
	err := e.withPage(ctx, doc, index, func(page uint32) error {
		tp, err := e.lib.callPtr(ctx, "FPDFText_LoadPage", uint64(page))
		if err != nil {
			return err
		}
		if tp == 0 {
			return e.lib.lastError(ctx, embedpdf.CodePageError, "load text of page %d", index)
		}
		defer func() { _, _ = e.lib.call(ctx, "FPDFText_ClosePage", uint64(tp)) }()

		n, err := e.lib.callInt(ctx, "FPDFText_CountChars", uint64(tp))
		if err != nil {
			return err
		}
		if n <= 0 {
			return nil
		}
		raw, err := e.lib.readSized(ctx, uint32(n+1)*2, func(ptr, _ uint32) error {
			_, err := e.lib.call(ctx, "FPDFText_GetText", uint64(tp), 0, arg(n), uint64(ptr))
			return err
		})
		if err != nil {
			return err
		}
		text = decodeUTF16LE(raw)
		return nil
	})
	return text, err
}

// SaveAsCopy serializes the document including unsaved changes.
func (e *Executor) SaveAsCopy(docID string) *task.Task[[]byte, embedpdf.NoProgress] {
	return submit(e, wire.MethodSaveAsCopy, docID,
		func(ctx context.Context, _ *task.Task[[]byte, embedpdf.NoProgress]) ([]byte, error) {
			d, err := e.doc(docID)
			if err != nil {
				return nil, err
			}
			return e.save(ctx, d.handle)
		})
}

func (e *Executor) save(ctx context.Context, doc uint32) ([]byte, error) {
	w, err := e.lib.callPtr(ctx, "PDFiumExt_OpenFileWriter")
	if err != nil {
		return nil, err
	}
	if w == 0 {
		return nil, embedpdf.NewReason(embedpdf.CodeUnknown, "open file writer")
	}
	defer func() { _, _ = e.lib.call(ctx, "PDFiumExt_CloseFileWriter", uint64(w)) }()

	ok, err := e.lib.callBool(ctx, "PDFiumExt_SaveAsCopy", uint64(doc), uint64(w))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, e.lib.lastError(ctx, embedpdf.CodeUnknown, "save document")
	}
	size, err := e.lib.callPtr(ctx, "PDFiumExt_GetFileWriterSize", uint64(w))
	if err != nil {
		return nil, err
	}
	return e.lib.readSized(ctx, size, func(ptr, size uint32) error {
		_, err := e.lib.call(ctx, "PDFiumExt_GetFileWriterData", uint64(w), uint64(ptr), uint64(size))
		return err
	})
}

// PreparePrintDocument builds a print-ready copy: the selected pages,
// flattened when annotations are included. Progress reports each stage.
func (e *Executor) PreparePrintDocument(docID string, opts embedpdf.PrintOptions) *task.Task[[]byte, embedpdf.PrintProgress] {
	return submit(e, wire.MethodPreparePrintDocument, docID,
		func(ctx context.Context, t *task.Task[[]byte, embedpdf.PrintProgress]) ([]byte, error) {
			d, err := e.doc(docID)
			if err != nil {
				return nil, err
			}

			out, err := e.lib.callPtr(ctx, "FPDF_CreateNewDocument")
			if err != nil {
				return nil, err
			}
			if out == 0 {
				return nil, embedpdf.NewReason(embedpdf.CodeUnknown, "create print document")
			}
			defer func() { _, _ = e.lib.call(ctx, "FPDF_CloseDocument", uint64(out)) }()

			t.Progress(embedpdf.PrintProgress{Stage: embedpdf.PrintStageImport, Total: len(d.pages)})
			var rng uint32
			if opts.PageRange != "" {
				if rng, err = e.lib.cString(ctx, opts.PageRange); err != nil {
					return nil, err
				}
				defer e.lib.free(ctx, rng)
			}
			ok, err := e.lib.callBool(ctx, "FPDF_ImportPages", uint64(out), uint64(d.handle), uint64(rng), 0)
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, embedpdf.NewReason(embedpdf.CodeValidation, "invalid page range %q", opts.PageRange)
			}

			total, err := e.lib.callInt(ctx, "FPDF_GetPageCount", uint64(out))
			if err != nil {
				return nil, err
			}
			if opts.IncludeAnnotations {
				for i := range total {
					err := e.withPage(ctx, out, i, func(page uint32) error {
						r, err := e.lib.call(ctx, "FPDFPage_Flatten", uint64(page), flattenForPrint)
						if err != nil {
							return err
						}
						if api.DecodeI32(r) == flattenFail {
							return embedpdf.NewReason(embedpdf.CodePageError, "flatten page %d", i)
						}
						return nil
					})
					if err != nil {
						return nil, err
					}
					t.Progress(embedpdf.PrintProgress{Stage: embedpdf.PrintStageFlatten, Page: i + 1, Total: total})
				}
			}

			t.Progress(embedpdf.PrintProgress{Stage: embedpdf.PrintStageSave, Page: total, Total: total})
			return e.save(ctx, out)
		})
}
