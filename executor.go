package embedpdf

import "github.com/embedpdf/pdfdispatch/task"

// Executor performs document operations against the native library. The
// Dispatcher depends only on this interface: the native executor
// implements it in-process and the transport Client implements it across
// a goroutine or process boundary.
//
// Documents are addressed by ID. The executor keeps whatever native
// resources back an ID; it never sees the Dispatcher's handle table.
type Executor interface {
	OpenDocumentBuffer(opts OpenBufferOptions) *task.Task[*Document, NoProgress]
	OpenDocumentURL(opts OpenURLOptions) *task.Task[*Document, NoProgress]
	CloseDocument(docID string) *task.Task[bool, NoProgress]

	RenderPage(docID string, page int, opts RenderOptions) *task.Task[*Image, NoProgress]
	RenderPageRect(docID string, page int, rect Rect, opts RenderOptions) *task.Task[*Image, NoProgress]

	GetBookmarks(docID string) *task.Task[[]Bookmark, NoProgress]
	GetAttachments(docID string) *task.Task[[]Attachment, NoProgress]
	ReadAttachmentContent(docID string, index int) *task.Task[[]byte, NoProgress]
	GetMetadata(docID string) *task.Task[*Metadata, NoProgress]
	SetMetadata(docID string, meta Metadata) *task.Task[bool, NoProgress]
	ExtractText(docID string, pages []int) *task.Task[string, NoProgress]

	SaveAsCopy(docID string) *task.Task[[]byte, NoProgress]
	PreparePrintDocument(docID string, opts PrintOptions) *task.Task[[]byte, PrintProgress]

	// Destroy releases the executor. Outstanding tasks are aborted.
	Destroy() *task.Task[bool, NoProgress]
}
