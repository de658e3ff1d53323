package native_test

import (
	"context"
	"strings"
	"testing"

	"github.com/embedpdf/pdfdispatch/native"
)

func TestLoadWazero_RejectsInvalidModule(t *testing.T) {
	_, err := native.LoadWazero(context.Background(), []byte("not wasm"))
	if err == nil {
		t.Fatal("expected error for invalid module")
	}
	if !strings.Contains(err.Error(), "compile module") {
		t.Errorf("err = %v, want compile failure", err)
	}
}
