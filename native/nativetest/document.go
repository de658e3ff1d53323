// Package nativetest provides an in-memory stand-in for the native PDF
// library. Module implements native.Module over a fake linear memory and a
// JSON document format built with BuildDocument, so native.Executor can be
// tested without a WebAssembly build.
package nativetest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/embedpdf/pdfdispatch/native"
)

// Header prefixes every fake document.
const Header = "%PDF-FAKE\n"

// DocSpec describes a fake document.
type DocSpec struct {
	Password    string            `json:"password,omitempty"`
	Pages       []PageSpec        `json:"pages"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Bookmarks   []BookmarkSpec    `json:"bookmarks,omitempty"`
	Attachments []AttachmentSpec  `json:"attachments,omitempty"`
}

// PageSpec describes one page.
type PageSpec struct {
	Width    float64 `json:"width"`
	Height   float64 `json:"height"`
	Rotation int     `json:"rotation,omitempty"`
	Text     string  `json:"text,omitempty"`
	// Fonts lists charsets whose fonts the page does not embed; rendering
	// it requests them from the host.
	Fonts     []native.Charset `json:"fonts,omitempty"`
	Flattened bool             `json:"flattened,omitempty"`
}

// BookmarkSpec is an outline entry. Page -1 means no destination.
type BookmarkSpec struct {
	Title    string         `json:"title"`
	Page     int            `json:"page"`
	Children []BookmarkSpec `json:"children,omitempty"`
}

// AttachmentSpec is an embedded file.
type AttachmentSpec struct {
	Name string `json:"name"`
	Data []byte `json:"data"`
}

// BuildDocument encodes spec in the fake document format.
func BuildDocument(spec DocSpec) []byte {
	body, err := json.Marshal(spec)
	if err != nil {
		panic(fmt.Sprintf("nativetest: marshal document: %v", err))
	}
	return append([]byte(Header), body...)
}

// ParseDocument decodes a fake document, as produced by BuildDocument or by
// saving through the Module.
func ParseDocument(data []byte) (DocSpec, error) {
	var spec DocSpec
	if !bytes.HasPrefix(data, []byte(Header)) {
		return spec, fmt.Errorf("nativetest: missing header")
	}
	if err := json.Unmarshal(data[len(Header):], &spec); err != nil {
		return spec, fmt.Errorf("nativetest: parse document: %w", err)
	}
	return spec, nil
}

// Letter returns a document of n US-letter pages whose text is "page N".
func Letter(n int) DocSpec {
	spec := DocSpec{Pages: make([]PageSpec, n)}
	for i := range spec.Pages {
		spec.Pages[i] = PageSpec{Width: 612, Height: 792, Text: "page " + strconv.Itoa(i+1)}
	}
	return spec
}

// parseRange resolves a 1-based "1,3,5-7" range against n pages into
// 0-based indexes.
func parseRange(s string, n int) ([]int, bool) {
	if strings.TrimSpace(s) == "" {
		out := make([]int, n)
		for i := range out {
			out[i] = i
		}
		return out, true
	}
	var out []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		lo, hi, isRange := strings.Cut(part, "-")
		a, err := strconv.Atoi(strings.TrimSpace(lo))
		if err != nil {
			return nil, false
		}
		b := a
		if isRange {
			if b, err = strconv.Atoi(strings.TrimSpace(hi)); err != nil {
				return nil, false
			}
		}
		if a < 1 || b > n || a > b {
			return nil, false
		}
		for p := a; p <= b; p++ {
			out = append(out, p-1)
		}
	}
	return out, true
}
