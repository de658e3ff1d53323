package wire

import "github.com/embedpdf/pdfdispatch"

// Executor method names.
const (
	MethodOpenDocumentBuffer    = "openDocumentBuffer"
	MethodOpenDocumentURL       = "openDocumentUrl"
	MethodCloseDocument         = "closeDocument"
	MethodRenderPage            = "renderPage"
	MethodRenderPageRect        = "renderPageRect"
	MethodGetBookmarks          = "getBookmarks"
	MethodGetAttachments        = "getAttachments"
	MethodReadAttachmentContent = "readAttachmentContent"
	MethodGetMetadata           = "getMetadata"
	MethodSetMetadata           = "setMetadata"
	MethodExtractText           = "extractText"
	MethodSaveAsCopy            = "saveAsCopy"
	MethodPreparePrintDocument  = "preparePrintDocument"
	MethodDestroy               = "destroy"
)

// DocArgs addresses a whole document.
type DocArgs struct {
	DocID string `json:"doc_id" msgpack:"doc_id"`
}

// RenderArgs is the payload of renderPage and renderPageRect.
type RenderArgs struct {
	DocID   string                 `json:"doc_id" msgpack:"doc_id"`
	Page    int                    `json:"page" msgpack:"page"`
	Rect    *embedpdf.Rect         `json:"rect,omitempty" msgpack:"rect,omitempty"`
	Options embedpdf.RenderOptions `json:"options" msgpack:"options"`
}

// AttachmentArgs addresses one embedded file.
type AttachmentArgs struct {
	DocID string `json:"doc_id" msgpack:"doc_id"`
	Index int    `json:"index" msgpack:"index"`
}

// MetadataArgs is the payload of setMetadata.
type MetadataArgs struct {
	DocID    string            `json:"doc_id" msgpack:"doc_id"`
	Metadata embedpdf.Metadata `json:"metadata" msgpack:"metadata"`
}

// TextArgs is the payload of extractText. Empty Pages means every page.
type TextArgs struct {
	DocID string `json:"doc_id" msgpack:"doc_id"`
	Pages []int  `json:"pages,omitempty" msgpack:"pages,omitempty"`
}

// PrintArgs is the payload of preparePrintDocument.
type PrintArgs struct {
	DocID   string                `json:"doc_id" msgpack:"doc_id"`
	Options embedpdf.PrintOptions `json:"options" msgpack:"options"`
}
