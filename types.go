package embedpdf

// NoProgress is the progress type of operations that never report progress.
type NoProgress = struct{}

// Document is an open document as seen by callers.
type Document struct {
	ID        string `json:"id" msgpack:"id"`
	PageCount int    `json:"page_count" msgpack:"page_count"`
	Pages     []Page `json:"pages" msgpack:"pages"`
}

// Page describes one page of a document. Sizes are in PDF points.
type Page struct {
	Index    int     `json:"index" msgpack:"index"`
	Width    float64 `json:"width" msgpack:"width"`
	Height   float64 `json:"height" msgpack:"height"`
	Rotation int     `json:"rotation" msgpack:"rotation"`
}

// OpenBufferOptions opens a document from bytes already in memory.
type OpenBufferOptions struct {
	// ID names the document. Empty means the engine generates one.
	ID       string `json:"id,omitempty" msgpack:"id,omitempty"`
	Content  []byte `json:"content" msgpack:"content"`
	Password string `json:"password,omitempty" msgpack:"password,omitempty"`
}

// OpenURLOptions opens a document fetched from a URL.
type OpenURLOptions struct {
	ID       string `json:"id,omitempty" msgpack:"id,omitempty"`
	URL      string `json:"url" msgpack:"url"`
	Password string `json:"password,omitempty" msgpack:"password,omitempty"`
}

// Rotation in quarter turns clockwise.
const (
	Rotate0   = 0
	Rotate90  = 1
	Rotate180 = 2
	Rotate270 = 3
)

// RenderOptions controls page rendering.
type RenderOptions struct {
	// Scale multiplies the page size in points. Zero means 1.
	Scale float64 `json:"scale,omitempty" msgpack:"scale,omitempty"`
	// Rotation is in quarter turns (Rotate0..Rotate270).
	Rotation int `json:"rotation,omitempty" msgpack:"rotation,omitempty"`
	// DPR is the device pixel ratio. Zero means 1.
	DPR             float64 `json:"dpr,omitempty" msgpack:"dpr,omitempty"`
	WithAnnotations bool    `json:"with_annotations,omitempty" msgpack:"with_annotations,omitempty"`
	// Background renders are prefetches: they yield to interactive work.
	Background bool `json:"background,omitempty" msgpack:"background,omitempty"`
}

// EffectiveScale returns Scale*DPR with zero values defaulting to 1.
func (o RenderOptions) EffectiveScale() float64 {
	s, d := o.Scale, o.DPR
	if s <= 0 {
		s = 1
	}
	if d <= 0 {
		d = 1
	}
	return s * d
}

// Rect is a region of a page in points, origin top-left.
type Rect struct {
	X      float64 `json:"x" msgpack:"x"`
	Y      float64 `json:"y" msgpack:"y"`
	Width  float64 `json:"width" msgpack:"width"`
	Height float64 `json:"height" msgpack:"height"`
}

// Image is a rendered bitmap in RGBA order, 4 bytes per pixel, no padding.
type Image struct {
	Width  int    `json:"width" msgpack:"width"`
	Height int    `json:"height" msgpack:"height"`
	Data   []byte `json:"data" msgpack:"data"`
}

// Bookmark is an outline entry. PageIndex is -1 when the entry has no
// page destination.
type Bookmark struct {
	Title     string     `json:"title" msgpack:"title"`
	PageIndex int        `json:"page_index" msgpack:"page_index"`
	Children  []Bookmark `json:"children,omitempty" msgpack:"children,omitempty"`
}

// Attachment describes an embedded file.
type Attachment struct {
	Index int    `json:"index" msgpack:"index"`
	Name  string `json:"name" msgpack:"name"`
	Size  int    `json:"size" msgpack:"size"`
}

// Metadata is the document information dictionary.
type Metadata struct {
	Title            string `json:"title,omitempty" msgpack:"title,omitempty"`
	Author           string `json:"author,omitempty" msgpack:"author,omitempty"`
	Subject          string `json:"subject,omitempty" msgpack:"subject,omitempty"`
	Keywords         string `json:"keywords,omitempty" msgpack:"keywords,omitempty"`
	Creator          string `json:"creator,omitempty" msgpack:"creator,omitempty"`
	Producer         string `json:"producer,omitempty" msgpack:"producer,omitempty"`
	CreationDate     string `json:"creation_date,omitempty" msgpack:"creation_date,omitempty"`
	ModificationDate string `json:"modification_date,omitempty" msgpack:"modification_date,omitempty"`
}

// Fields returns the metadata as (info-dictionary key, value) pairs in a
// stable order.
func (m Metadata) Fields() [][2]string {
	return [][2]string{
		{"Title", m.Title},
		{"Author", m.Author},
		{"Subject", m.Subject},
		{"Keywords", m.Keywords},
		{"Creator", m.Creator},
		{"Producer", m.Producer},
		{"CreationDate", m.CreationDate},
		{"ModDate", m.ModificationDate},
	}
}

// Set assigns the field named by an info-dictionary key. Unknown keys are
// ignored.
func (m *Metadata) Set(key, value string) {
	switch key {
	case "Title":
		m.Title = value
	case "Author":
		m.Author = value
	case "Subject":
		m.Subject = value
	case "Keywords":
		m.Keywords = value
	case "Creator":
		m.Creator = value
	case "Producer":
		m.Producer = value
	case "CreationDate":
		m.CreationDate = value
	case "ModDate":
		m.ModificationDate = value
	}
}

// PrintOptions controls print preparation.
type PrintOptions struct {
	// PageRange uses the native "1,3,5-7" syntax (1-based). Empty means all.
	PageRange          string `json:"page_range,omitempty" msgpack:"page_range,omitempty"`
	IncludeAnnotations bool   `json:"include_annotations,omitempty" msgpack:"include_annotations,omitempty"`
}

// PrintStage names a step of print preparation.
type PrintStage string

const (
	PrintStageImport  PrintStage = "import"
	PrintStageFlatten PrintStage = "flatten"
	PrintStageSave    PrintStage = "save"
)

// PrintProgress reports print preparation progress.
type PrintProgress struct {
	Stage PrintStage `json:"stage" msgpack:"stage"`
	Page  int        `json:"page" msgpack:"page"`
	Total int        `json:"total" msgpack:"total"`
}
