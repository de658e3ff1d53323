package native

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Charset identifies a font charset the way the native library does.
type Charset uint32

const (
	CharsetANSI        Charset = 0
	CharsetDefault     Charset = 1
	CharsetSymbol      Charset = 2
	CharsetShiftJIS    Charset = 128
	CharsetHangeul     Charset = 129
	CharsetGB2312      Charset = 134
	CharsetChineseBig5 Charset = 136
	CharsetGreek       Charset = 161
	CharsetVietnamese  Charset = 163
	CharsetHebrew      Charset = 177
	CharsetArabic      Charset = 178
	CharsetCyrillic    Charset = 204
	CharsetThai        Charset = 222
	CharsetEastEurope  Charset = 238
)

var charsetNames = map[string]Charset{
	"ANSI":       CharsetANSI,
	"DEFAULT":    CharsetDefault,
	"SYMBOL":     CharsetSymbol,
	"SHIFTJIS":   CharsetShiftJIS,
	"HANGEUL":    CharsetHangeul,
	"GB2312":     CharsetGB2312,
	"BIG5":       CharsetChineseBig5,
	"GREEK":      CharsetGreek,
	"VIETNAMESE": CharsetVietnamese,
	"HEBREW":     CharsetHebrew,
	"ARABIC":     CharsetArabic,
	"CYRILLIC":   CharsetCyrillic,
	"THAI":       CharsetThai,
	"EASTEUROPE": CharsetEastEurope,
}

// ParseCharset resolves a charset name such as "SHIFTJIS" (case-insensitive).
func ParseCharset(name string) (Charset, error) {
	cs, ok := charsetNames[strings.ToUpper(name)]
	if !ok {
		return 0, fmt.Errorf("native: unknown charset %q", name)
	}
	return cs, nil
}

// FontLoader fetches the font named in the fallback table.
type FontLoader func(ctx context.Context, name string) ([]byte, error)

// FileLoader loads fonts from dir. Absolute names are used as-is.
func FileLoader(dir string) FontLoader {
	return func(_ context.Context, name string) ([]byte, error) {
		if !filepath.IsAbs(name) {
			name = filepath.Join(dir, name)
		}
		return os.ReadFile(name)
	}
}

// HTTPLoader loads fonts relative to baseURL.
func HTTPLoader(client *http.Client, baseURL string) FontLoader {
	if client == nil {
		client = http.DefaultClient
	}
	return func(ctx context.Context, name string) ([]byte, error) {
		url := strings.TrimSuffix(baseURL, "/") + "/" + strings.TrimPrefix(name, "/")
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		resp, err := client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("fetch font %s: %s", url, resp.Status)
		}
		return io.ReadAll(resp.Body)
	}
}

type fontEntry struct {
	data []byte
	err  error
}

// FontFallback supplies fonts for charsets a document uses without embedding
// a font. Each charset is loaded at most once; failures are cached too.
type FontFallback struct {
	// Fonts maps a charset to the name handed to Loader.
	Fonts  map[Charset]string
	Loader FontLoader
	// Logger defaults to slog.Default.
	Logger *slog.Logger

	mu    sync.Mutex
	cache map[Charset]fontEntry
}

// FontFallbackFromConfig resolves a charset-name table such as
// embedpdf.WorkerConfig.Fonts, loading files relative to dir.
func FontFallbackFromConfig(fonts map[string]string, dir string, logger *slog.Logger) (*FontFallback, error) {
	table := make(map[Charset]string, len(fonts))
	for name, file := range fonts {
		cs, err := ParseCharset(name)
		if err != nil {
			return nil, err
		}
		table[cs] = file
	}
	return &FontFallback{Fonts: table, Loader: FileLoader(dir), Logger: logger}, nil
}

func (f *FontFallback) logger() *slog.Logger {
	if f.Logger != nil {
		return f.Logger
	}
	return slog.Default()
}

// Font returns the font bytes for cs, or nil when none is configured or the
// load failed.
func (f *FontFallback) Font(ctx context.Context, cs Charset) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.cache == nil {
		f.cache = make(map[Charset]fontEntry)
	}
	if e, ok := f.cache[cs]; ok {
		return e.data
	}

	name, ok := f.Fonts[cs]
	if !ok || f.Loader == nil {
		f.cache[cs] = fontEntry{}
		return nil
	}

	data, err := f.Loader(ctx, name)
	if err != nil {
		f.logger().Warn("font fallback load failed",
			slog.Int("charset", int(cs)),
			slog.String("font", name),
			slog.String("error", err.Error()),
		)
		data = nil
	} else {
		f.logger().Debug("font fallback loaded",
			slog.Int("charset", int(cs)),
			slog.String("font", name),
			slog.Int("size", len(data)),
		)
	}
	f.cache[cs] = fontEntry{data: data, err: err}
	return data
}

// Err reports the cached load error for cs, if any.
func (f *FontFallback) Err(cs Charset) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cache[cs].err
}
