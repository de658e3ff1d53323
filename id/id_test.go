package id_test

import (
	"encoding/json"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/embedpdf/pdfdispatch/id"
)

func TestConstructors(t *testing.T) {
	tests := []struct {
		name   string
		newFn  func() id.ID
		prefix string
	}{
		{"DocumentID", id.NewDocumentID, "doc_"},
		{"SessionID", id.NewSessionID, "sess_"},
		{"WorkerID", id.NewWorkerID, "wkr_"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.newFn().String()
			if !strings.HasPrefix(got, tt.prefix) {
				t.Errorf("expected prefix %q, got %q", tt.prefix, got)
			}
			if len(got) != len(tt.prefix)+26 {
				t.Errorf("expected a 26 character suffix, got %q", got)
			}
		})
	}
}

func TestParseRoundTrip(t *testing.T) {
	original := id.NewDocumentID()
	parsed, err := id.ParseDocumentID(original.String())
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if parsed.String() != original.String() {
		t.Errorf("round-trip mismatch: %q != %q", parsed.String(), original.String())
	}
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"no separator", "doc0190"},
		{"no suffix", "doc_"},
		{"bad suffix", "doc_not-a-typeid"},
		{"uppercase", "DOC_01h2xcejqtf2nbrexx3vqjhp41"},
		{"wrong prefix", id.NewSessionID().String()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := id.ParseDocumentID(tt.input); err == nil {
				t.Errorf("expected error for %q", tt.input)
			}
		})
	}
}

func TestIDsSortByCreation(t *testing.T) {
	var ids []string
	for range 5 {
		ids = append(ids, id.NewDocumentID().String())
		time.Sleep(2 * time.Millisecond)
	}
	if !sort.StringsAreSorted(ids) {
		t.Errorf("ids not K-sortable: %v", ids)
	}
}

func TestNil(t *testing.T) {
	if !id.Nil.IsNil() || id.Nil.String() != "" || id.Nil.Prefix() != "" {
		t.Error("Nil should be empty")
	}
}

func TestJSON(t *testing.T) {
	type doc struct {
		ID id.ID `json:"id"`
	}
	in := doc{ID: id.NewDocumentID()}
	data, err := json.Marshal(in)
	if err != nil {
		t.Fatal(err)
	}
	var out doc
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatal(err)
	}
	if out.ID.String() != in.ID.String() {
		t.Errorf("json round-trip: %q != %q", out.ID, in.ID)
	}
}
