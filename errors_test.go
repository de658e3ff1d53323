package embedpdf_test

import (
	"errors"
	"fmt"
	"testing"

	embedpdf "github.com/embedpdf/pdfdispatch"
)

func TestReason_IsMatchesByCode(t *testing.T) {
	err := embedpdf.NewReason(embedpdf.CodePassword, "password required")

	if !errors.Is(err, embedpdf.ErrPassword) {
		t.Error("errors.Is(err, ErrPassword) = false, want true")
	}
	if errors.Is(err, embedpdf.ErrFormat) {
		t.Error("errors.Is(err, ErrFormat) = true, want false")
	}

	wrapped := fmt.Errorf("open: %w", err)
	if !errors.Is(wrapped, embedpdf.ErrPassword) {
		t.Error("wrapped reason should still match its code")
	}
}

func TestReason_Error(t *testing.T) {
	tests := []struct {
		reason *embedpdf.Reason
		want   string
	}{
		{&embedpdf.Reason{Code: embedpdf.CodeDocNotOpen}, "embedpdf: DocNotOpen"},
		{embedpdf.NewReason(embedpdf.CodeNotFound, "document %q", "a"), `embedpdf: NotFound: document "a"`},
		{&embedpdf.Reason{Code: 77}, "embedpdf: Code(77)"},
	}
	for _, tt := range tests {
		if got := tt.reason.Error(); got != tt.want {
			t.Errorf("Error() = %q, want %q", got, tt.want)
		}
	}
}

func TestAsReason(t *testing.T) {
	if embedpdf.AsReason(nil) != nil {
		t.Error("AsReason(nil) should be nil")
	}

	r := embedpdf.AsReason(errors.New("disk on fire"))
	if r.Code != embedpdf.CodeUnknown || r.Message != "disk on fire" {
		t.Errorf("AsReason(plain) = %+v, want Unknown/disk on fire", r)
	}

	orig := embedpdf.NewReason(embedpdf.CodeSecurity, "denied")
	if got := embedpdf.AsReason(fmt.Errorf("x: %w", orig)); got != orig {
		t.Errorf("AsReason(wrapped) = %p, want the original %p", got, orig)
	}
}
