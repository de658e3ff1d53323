package nativetest

import (
	"context"
	"encoding/binary"
	"math"
	"unicode/utf16"
)

type function func(m *Module, ctx context.Context, a []uint32) uint32

// functions implements the library exports the executor uses. Arguments
// arrive as raw 32-bit words; signed values are reinterpreted with int32.
var functions = map[string]function{
	"FPDF_InitLibrary":    func(*Module, context.Context, []uint32) uint32 { return 0 },
	"FPDF_DestroyLibrary": func(*Module, context.Context, []uint32) uint32 { return 0 },
	"FPDF_GetLastError":   func(m *Module, _ context.Context, _ []uint32) uint32 { return m.lastErr },

	"FPDF_LoadMemDocument":     (*Module).loadMemDocument,
	"FPDF_CloseDocument":       (*Module).closeDocument,
	"FPDF_GetPageCount":        (*Module).getPageCount,
	"FPDF_GetPageSizeByIndexF": (*Module).getPageSize,
	"FPDF_LoadPage":            (*Module).loadPage,
	"FPDF_ClosePage":           (*Module).dropHandle,
	"FPDFPage_GetRotation":     (*Module).getRotation,
	"FPDFPage_Flatten":         (*Module).flatten,

	"FPDFBitmap_Create":     (*Module).bitmapCreate,
	"FPDFBitmap_FillRect":   (*Module).bitmapFill,
	"FPDFBitmap_GetBuffer":  (*Module).bitmapBuffer,
	"FPDFBitmap_GetStride":  (*Module).bitmapStride,
	"FPDFBitmap_Destroy":    (*Module).bitmapDestroy,
	"FPDF_RenderPageBitmap": (*Module).renderPage,

	"FPDFBookmark_GetFirstChild":  (*Module).bookmarkFirstChild,
	"FPDFBookmark_GetNextSibling": (*Module).bookmarkNext,
	"FPDFBookmark_GetTitle":       (*Module).bookmarkTitle,
	"FPDFBookmark_GetDest":        (*Module).bookmarkDest,
	"FPDFDest_GetDestPageIndex":   (*Module).destPage,

	"FPDF_GetMetaText": (*Module).getMetaText,
	"EPDF_SetMetaText": (*Module).setMetaText,

	"FPDFDoc_GetAttachmentCount": (*Module).attachmentCount,
	"FPDFDoc_GetAttachment":      (*Module).attachment,
	"FPDFAttachment_GetName":     (*Module).attachmentName,
	"FPDFAttachment_GetFile":     (*Module).attachmentFile,

	"FPDFText_LoadPage":   (*Module).textLoad,
	"FPDFText_CountChars": (*Module).textCount,
	"FPDFText_GetText":    (*Module).textGet,
	"FPDFText_ClosePage":  (*Module).dropHandle,

	"PDFiumExt_OpenFileWriter":    (*Module).writerOpen,
	"PDFiumExt_SaveAsCopy":        (*Module).saveAsCopy,
	"PDFiumExt_GetFileWriterSize": (*Module).writerSize,
	"PDFiumExt_GetFileWriterData": (*Module).writerData,
	"PDFiumExt_CloseFileWriter":   (*Module).dropHandle,

	"FPDF_CreateNewDocument": (*Module).createDocument,
	"FPDF_ImportPages":       (*Module).importPages,
}

func boolResult(ok bool) uint32 {
	if ok {
		return 1
	}
	return 0
}

func (m *Module) dropHandle(_ context.Context, a []uint32) uint32 {
	delete(m.handles, a[0])
	return 0
}

// ──────────────────────────────────────────────────
// Documents and pages
// ──────────────────────────────────────────────────

func (m *Module) loadMemDocument(_ context.Context, a []uint32) uint32 {
	data, ok := m.read(a[0], a[1])
	if !ok {
		m.lastErr = errFormat
		return 0
	}
	spec, err := ParseDocument(data)
	if err != nil {
		m.lastErr = errFormat
		return 0
	}
	if spec.Password != "" && m.cString(a[2]) != spec.Password {
		m.lastErr = errPassword
		return 0
	}
	m.lastErr = errSuccess
	return m.openDoc(spec)
}

func (m *Module) openDoc(spec DocSpec) uint32 {
	d := &fakeDoc{spec: spec}
	if d.spec.Metadata == nil {
		d.spec.Metadata = make(map[string]string)
	}
	d.outline = m.buildOutline(spec.Bookmarks)
	for _, att := range spec.Attachments {
		d.attachments = append(d.attachments, m.newHandle(&fakeAttachment{spec: att}))
	}
	return m.newHandle(d)
}

func (m *Module) buildOutline(specs []BookmarkSpec) []uint32 {
	hs := make([]uint32, len(specs))
	for i, s := range specs {
		b := &fakeBookmark{title: s.Title, children: m.buildOutline(s.Children)}
		if s.Page >= 0 {
			b.dest = m.newHandle(&fakeDest{page: s.Page})
		}
		hs[i] = m.newHandle(b)
	}
	for i := 0; i+1 < len(hs); i++ {
		m.handles[hs[i]].(*fakeBookmark).next = hs[i+1]
	}
	return hs
}

func (m *Module) closeDocument(_ context.Context, a []uint32) uint32 {
	d, ok := handle[*fakeDoc](m, a[0])
	if !ok {
		return 0
	}
	for _, h := range d.attachments {
		delete(m.handles, h)
	}
	m.dropOutline(d.outline)
	delete(m.handles, a[0])
	return 0
}

func (m *Module) dropOutline(hs []uint32) {
	for _, h := range hs {
		if b, ok := handle[*fakeBookmark](m, h); ok {
			m.dropOutline(b.children)
			delete(m.handles, b.dest)
		}
		delete(m.handles, h)
	}
}

func (m *Module) getPageCount(_ context.Context, a []uint32) uint32 {
	d, ok := handle[*fakeDoc](m, a[0])
	if !ok {
		return 0
	}
	return uint32(len(d.spec.Pages))
}

func (m *Module) getPageSize(_ context.Context, a []uint32) uint32 {
	d, ok := handle[*fakeDoc](m, a[0])
	i := int(int32(a[1]))
	if !ok || i < 0 || i >= len(d.spec.Pages) {
		return 0
	}
	p := d.spec.Pages[i]
	b := make([]byte, 8)
	binary.LittleEndian.PutUint32(b[0:], math.Float32bits(float32(p.Width)))
	binary.LittleEndian.PutUint32(b[4:], math.Float32bits(float32(p.Height)))
	return boolResult(m.write(a[2], b))
}

func (m *Module) loadPage(_ context.Context, a []uint32) uint32 {
	d, ok := handle[*fakeDoc](m, a[0])
	i := int(int32(a[1]))
	if !ok || i < 0 || i >= len(d.spec.Pages) {
		m.lastErr = errPage
		return 0
	}
	return m.newHandle(&fakePage{doc: d, index: i})
}

func (m *Module) getRotation(_ context.Context, a []uint32) uint32 {
	p, ok := handle[*fakePage](m, a[0])
	if !ok {
		return 0
	}
	return uint32(p.doc.spec.Pages[p.index].Rotation)
}

func (m *Module) flatten(_ context.Context, a []uint32) uint32 {
	p, ok := handle[*fakePage](m, a[0])
	if !ok {
		return 0
	}
	p.doc.spec.Pages[p.index].Flattened = true
	return 1
}

// ──────────────────────────────────────────────────
// Rendering
// ──────────────────────────────────────────────────

func (m *Module) bitmapCreate(_ context.Context, a []uint32) uint32 {
	w, h := int(int32(a[0])), int(int32(a[1]))
	if w <= 0 || h <= 0 {
		return 0
	}
	// Rows are padded to 16 bytes so callers must honour the stride.
	stride := (w*4 + 15) &^ 15
	buf := m.alloc(uint32(stride * h))
	if buf == 0 {
		return 0
	}
	// The bitmap owns buf; keep it out of the caller's allocation count.
	delete(m.allocs, buf)
	return m.newHandle(&fakeBitmap{w: w, h: h, stride: stride, buf: buf})
}

func (m *Module) bitmapFill(_ context.Context, a []uint32) uint32 {
	bm, ok := handle[*fakeBitmap](m, a[0])
	if !ok {
		return 0
	}
	px := make([]byte, 4)
	binary.LittleEndian.PutUint32(px, a[5])
	m.fill(bm, px)
	return 0
}

func (m *Module) fill(bm *fakeBitmap, px []byte) {
	row := make([]byte, bm.w*4)
	for x := 0; x < bm.w; x++ {
		copy(row[x*4:], px)
	}
	for y := 0; y < bm.h; y++ {
		m.write(bm.buf+uint32(y*bm.stride), row)
	}
}

func (m *Module) bitmapBuffer(_ context.Context, a []uint32) uint32 {
	bm, ok := handle[*fakeBitmap](m, a[0])
	if !ok {
		return 0
	}
	return bm.buf
}

func (m *Module) bitmapStride(_ context.Context, a []uint32) uint32 {
	bm, ok := handle[*fakeBitmap](m, a[0])
	if !ok {
		return 0
	}
	return uint32(bm.stride)
}

func (m *Module) bitmapDestroy(_ context.Context, a []uint32) uint32 {
	delete(m.handles, a[0])
	return 0
}

// renderPage paints every pixel as (page+1, rotate, annotations, 255) so
// tests can tell which page and options produced an image.
func (m *Module) renderPage(ctx context.Context, a []uint32) uint32 {
	bm, ok := handle[*fakeBitmap](m, a[0])
	if !ok {
		return 0
	}
	p, ok := handle[*fakePage](m, a[1])
	if !ok {
		return 0
	}
	call := RenderCall{
		Page:   p.index,
		StartX: int(int32(a[2])),
		StartY: int(int32(a[3])),
		SizeX:  int(int32(a[4])),
		SizeY:  int(int32(a[5])),
		Rotate: int(int32(a[6])),
		Flags:  int(int32(a[7])),
	}
	m.renders = append(m.renders, call)

	for _, cs := range p.doc.spec.Pages[p.index].Fonts {
		m.fontReqs = append(m.fontReqs, cs)
		if m.fonts != nil {
			m.fonts.Font(ctx, cs)
		}
	}

	m.fill(bm, []byte{byte(p.index + 1), byte(call.Rotate), byte(call.Flags & 0x01), 0xFF})
	return 0
}

// ──────────────────────────────────────────────────
// Outline
// ──────────────────────────────────────────────────

func (m *Module) bookmarkFirstChild(_ context.Context, a []uint32) uint32 {
	var children []uint32
	if a[1] == 0 {
		d, ok := handle[*fakeDoc](m, a[0])
		if !ok {
			return 0
		}
		children = d.outline
	} else {
		b, ok := handle[*fakeBookmark](m, a[1])
		if !ok {
			return 0
		}
		children = b.children
	}
	if len(children) == 0 {
		return 0
	}
	return children[0]
}

func (m *Module) bookmarkNext(_ context.Context, a []uint32) uint32 {
	b, ok := handle[*fakeBookmark](m, a[1])
	if !ok {
		return 0
	}
	return b.next
}

func (m *Module) bookmarkTitle(_ context.Context, a []uint32) uint32 {
	b, ok := handle[*fakeBookmark](m, a[0])
	if !ok {
		return 0
	}
	return m.writeWide(b.title, a[1], a[2])
}

func (m *Module) bookmarkDest(_ context.Context, a []uint32) uint32 {
	b, ok := handle[*fakeBookmark](m, a[1])
	if !ok {
		return 0
	}
	return b.dest
}

func (m *Module) destPage(_ context.Context, a []uint32) uint32 {
	d, ok := handle[*fakeDest](m, a[1])
	if !ok {
		return math.MaxUint32
	}
	return uint32(d.page)
}

// ──────────────────────────────────────────────────
// Metadata and attachments
// ──────────────────────────────────────────────────

func (m *Module) getMetaText(_ context.Context, a []uint32) uint32 {
	d, ok := handle[*fakeDoc](m, a[0])
	if !ok {
		return 0
	}
	return m.writeWide(d.spec.Metadata[m.cString(a[1])], a[2], a[3])
}

func (m *Module) setMetaText(_ context.Context, a []uint32) uint32 {
	d, ok := handle[*fakeDoc](m, a[0])
	if !ok {
		return 0
	}
	d.spec.Metadata[m.cString(a[1])] = m.wideString(a[2])
	return 1
}

func (m *Module) attachmentCount(_ context.Context, a []uint32) uint32 {
	d, ok := handle[*fakeDoc](m, a[0])
	if !ok {
		return 0
	}
	return uint32(len(d.attachments))
}

func (m *Module) attachment(_ context.Context, a []uint32) uint32 {
	d, ok := handle[*fakeDoc](m, a[0])
	i := int(int32(a[1]))
	if !ok || i < 0 || i >= len(d.attachments) {
		return 0
	}
	return d.attachments[i]
}

func (m *Module) attachmentName(_ context.Context, a []uint32) uint32 {
	att, ok := handle[*fakeAttachment](m, a[0])
	if !ok {
		return 0
	}
	return m.writeWide(att.spec.Name, a[1], a[2])
}

func (m *Module) attachmentFile(_ context.Context, a []uint32) uint32 {
	att, ok := handle[*fakeAttachment](m, a[0])
	if !ok {
		return 0
	}
	size := make([]byte, 4)
	binary.LittleEndian.PutUint32(size, uint32(len(att.spec.Data)))
	if !m.write(a[3], size) {
		return 0
	}
	if a[1] != 0 && a[2] >= uint32(len(att.spec.Data)) {
		m.write(a[1], att.spec.Data)
	}
	return 1
}

// ──────────────────────────────────────────────────
// Text
// ──────────────────────────────────────────────────

func (m *Module) textLoad(_ context.Context, a []uint32) uint32 {
	p, ok := handle[*fakePage](m, a[0])
	if !ok {
		m.lastErr = errPage
		return 0
	}
	units := utf16.Encode([]rune(p.doc.spec.Pages[p.index].Text))
	return m.newHandle(&fakeText{units: units})
}

func (m *Module) textCount(_ context.Context, a []uint32) uint32 {
	tp, ok := handle[*fakeText](m, a[0])
	if !ok {
		return math.MaxUint32
	}
	return uint32(len(tp.units))
}

func (m *Module) textGet(_ context.Context, a []uint32) uint32 {
	tp, ok := handle[*fakeText](m, a[0])
	start, count := int(int32(a[1])), int(int32(a[2]))
	if !ok || start < 0 || count < 0 || start+count > len(tp.units) {
		return 0
	}
	b := make([]byte, 2*count+2)
	for i, u := range tp.units[start : start+count] {
		binary.LittleEndian.PutUint16(b[2*i:], u)
	}
	if !m.write(a[3], b) {
		return 0
	}
	return uint32(count + 1)
}

// ──────────────────────────────────────────────────
// Saving and printing
// ──────────────────────────────────────────────────

func (m *Module) writerOpen(context.Context, []uint32) uint32 {
	return m.newHandle(&fakeWriter{})
}

func (m *Module) saveAsCopy(_ context.Context, a []uint32) uint32 {
	d, ok := handle[*fakeDoc](m, a[0])
	if !ok {
		return 0
	}
	w, ok := handle[*fakeWriter](m, a[1])
	if !ok {
		return 0
	}
	w.data = BuildDocument(d.spec)
	return 1
}

func (m *Module) writerSize(_ context.Context, a []uint32) uint32 {
	w, ok := handle[*fakeWriter](m, a[0])
	if !ok {
		return 0
	}
	return uint32(len(w.data))
}

func (m *Module) writerData(_ context.Context, a []uint32) uint32 {
	w, ok := handle[*fakeWriter](m, a[0])
	if !ok {
		return 0
	}
	n := min(int(a[2]), len(w.data))
	if !m.write(a[1], w.data[:n]) {
		return 0
	}
	return uint32(n)
}

func (m *Module) createDocument(context.Context, []uint32) uint32 {
	return m.openDoc(DocSpec{})
}

func (m *Module) importPages(_ context.Context, a []uint32) uint32 {
	dst, ok := handle[*fakeDoc](m, a[0])
	if !ok {
		return 0
	}
	src, ok := handle[*fakeDoc](m, a[1])
	if !ok {
		return 0
	}
	pages, ok := parseRange(m.cString(a[2]), len(src.spec.Pages))
	if !ok {
		return 0
	}
	for _, i := range pages {
		dst.spec.Pages = append(dst.spec.Pages, src.spec.Pages[i])
	}
	return 1
}
