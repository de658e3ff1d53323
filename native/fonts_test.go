package native_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/embedpdf/pdfdispatch/native"
)

func TestParseCharset(t *testing.T) {
	cs, err := native.ParseCharset("shiftjis")
	if err != nil || cs != native.CharsetShiftJIS {
		t.Fatalf("ParseCharset = (%d, %v), want (%d, nil)", cs, err, native.CharsetShiftJIS)
	}
	if _, err := native.ParseCharset("KLINGON"); err == nil {
		t.Fatal("expected error for unknown charset")
	}
}

func TestFontFallbackFromConfig(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "jp.otf"), []byte("jp-font"), 0o600); err != nil {
		t.Fatal(err)
	}

	f, err := native.FontFallbackFromConfig(map[string]string{"SHIFTJIS": "jp.otf", "GB2312": "missing.otf"}, dir, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx := context.Background()

	if got := f.Font(ctx, native.CharsetShiftJIS); string(got) != "jp-font" {
		t.Errorf("SHIFTJIS font = %q, want jp-font", got)
	}
	if got := f.Font(ctx, native.CharsetGB2312); got != nil {
		t.Errorf("GB2312 font = %q, want nil", got)
	}
	if err := f.Err(native.CharsetGB2312); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("GB2312 err = %v, want not-exist", err)
	}
	if got := f.Font(ctx, native.CharsetArabic); got != nil {
		t.Errorf("unconfigured charset font = %q, want nil", got)
	}

	if _, err := native.FontFallbackFromConfig(map[string]string{"nope": "x"}, dir, nil); err == nil {
		t.Error("expected error for unknown charset name")
	}
}

func TestFontFallback_CachesFailures(t *testing.T) {
	calls := 0
	f := &native.FontFallback{
		Fonts: map[native.Charset]string{native.CharsetThai: "thai.ttf"},
		Loader: func(context.Context, string) ([]byte, error) {
			calls++
			return nil, errors.New("unavailable")
		},
	}
	for range 3 {
		f.Font(context.Background(), native.CharsetThai)
	}
	if calls != 1 {
		t.Fatalf("loader calls = %d, want 1", calls)
	}
}

func TestHTTPLoader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/fonts/greek.ttf" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("greek"))
	}))
	defer srv.Close()

	load := native.HTTPLoader(srv.Client(), srv.URL+"/fonts/")
	data, err := load(context.Background(), "greek.ttf")
	if err != nil || string(data) != "greek" {
		t.Fatalf("load = (%q, %v), want (greek, nil)", data, err)
	}
	if _, err := load(context.Background(), "other.ttf"); err == nil {
		t.Fatal("expected error for 404")
	}
}
