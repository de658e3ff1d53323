package native

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"github.com/embedpdf/pdfdispatch"
)

// Module is the raw surface of the native library: exported functions taking
// and returning 64-bit words, plus access to its linear memory. A Module is
// not reentrant; the Executor guarantees one call at a time.
type Module interface {
	// Call invokes an exported function and returns its first result, or 0
	// for functions without results. A trap surfaces as an error.
	Call(ctx context.Context, fn string, args ...uint64) (uint64, error)
	// Malloc allocates size bytes of linear memory. A zero pointer means
	// the allocation failed.
	Malloc(ctx context.Context, size uint32) (uint32, error)
	// Free releases memory returned by Malloc.
	Free(ctx context.Context, ptr uint32) error
	// Read copies size bytes starting at ptr out of linear memory.
	Read(ptr, size uint32) ([]byte, bool)
	// Write copies data into linear memory at ptr.
	Write(ptr uint32, data []byte) bool
	// Close releases the module.
	Close(ctx context.Context) error
}

// FontImport is the host function name the library calls when a document
// needs a non-embedded font for a charset. Arguments are (charset, ptr, size)
// and the result is the font length. A call with size smaller than the font
// only probes the length; the library then allocates and calls again.
const FontImport = "embedpdf_request_font"

// WazeroModule runs the library compiled to WebAssembly under wazero.
type WazeroModule struct {
	runtime wazero.Runtime
	mod     api.Module
	fonts   *FontFallback
	logger  *slog.Logger
}

// WazeroOption configures LoadWazero.
type WazeroOption func(*WazeroModule)

// WithFonts answers font requests from the library using f.
func WithFonts(f *FontFallback) WazeroOption {
	return func(m *WazeroModule) { m.fonts = f }
}

// WithModuleLogger sets the logger used for host import diagnostics.
func WithModuleLogger(l *slog.Logger) WazeroOption {
	return func(m *WazeroModule) { m.logger = l }
}

// LoadWazero compiles and instantiates a WASI reactor module.
func LoadWazero(ctx context.Context, wasm []byte, opts ...WazeroOption) (*WazeroModule, error) {
	m := &WazeroModule{logger: slog.Default()}
	for _, opt := range opts {
		opt(m)
	}

	m.runtime = wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfig().WithCloseOnContextDone(true))
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, m.runtime); err != nil {
		_ = m.runtime.Close(ctx)
		return nil, fmt.Errorf("native: instantiate wasi: %w", err)
	}

	_, err := m.runtime.NewHostModuleBuilder("env").
		NewFunctionBuilder().WithFunc(m.requestFont).Export(FontImport).
		Instantiate(ctx)
	if err != nil {
		_ = m.runtime.Close(ctx)
		return nil, fmt.Errorf("native: instantiate host imports: %w", err)
	}

	compiled, err := m.runtime.CompileModule(ctx, wasm)
	if err != nil {
		_ = m.runtime.Close(ctx)
		return nil, fmt.Errorf("native: compile module: %w", err)
	}

	cfg := wazero.NewModuleConfig().
		WithName("pdfium").
		WithStartFunctions("_initialize")
	m.mod, err = m.runtime.InstantiateModule(ctx, compiled, cfg)
	if err != nil {
		_ = m.runtime.Close(ctx)
		return nil, fmt.Errorf("native: instantiate module: %w", err)
	}

	if _, err := m.Call(ctx, "FPDF_InitLibrary"); err != nil {
		_ = m.runtime.Close(ctx)
		return nil, err
	}
	return m, nil
}

// Call implements Module. Missing exports map to NotSupport and traps to
// Unknown.
func (m *WazeroModule) Call(ctx context.Context, fn string, args ...uint64) (uint64, error) {
	f := m.mod.ExportedFunction(fn)
	if f == nil {
		return 0, embedpdf.NewReason(embedpdf.CodeNotSupport, "native function %s not exported", fn)
	}
	res, err := f.Call(ctx, args...)
	if err != nil {
		return 0, embedpdf.NewReason(embedpdf.CodeUnknown, "trap in %s: %v", fn, err)
	}
	if len(res) == 0 {
		return 0, nil
	}
	return res[0], nil
}

// Malloc implements Module using the module's exported allocator.
func (m *WazeroModule) Malloc(ctx context.Context, size uint32) (uint32, error) {
	ptr, err := m.Call(ctx, "malloc", uint64(size))
	return api.DecodeU32(ptr), err
}

// Free implements Module.
func (m *WazeroModule) Free(ctx context.Context, ptr uint32) error {
	_, err := m.Call(ctx, "free", uint64(ptr))
	return err
}

// Read implements Module.
func (m *WazeroModule) Read(ptr, size uint32) ([]byte, bool) {
	view, ok := m.mod.Memory().Read(ptr, size)
	if !ok {
		return nil, false
	}
	out := make([]byte, len(view))
	copy(out, view)
	return out, true
}

// Write implements Module.
func (m *WazeroModule) Write(ptr uint32, data []byte) bool {
	return m.mod.Memory().Write(ptr, data)
}

// Close implements Module.
func (m *WazeroModule) Close(ctx context.Context) error {
	return m.runtime.Close(ctx)
}

// requestFont runs inside a native call, on the serializer goroutine.
func (m *WazeroModule) requestFont(ctx context.Context, mod api.Module, charset, ptr, size uint32) uint32 {
	if m.fonts == nil {
		return 0
	}
	data := m.fonts.Font(ctx, Charset(charset))
	if len(data) == 0 {
		return 0
	}
	if size >= uint32(len(data)) && ptr != 0 {
		if !mod.Memory().Write(ptr, data) {
			m.logger.Warn("font write out of range",
				slog.Int("charset", int(charset)),
				slog.Int("size", len(data)),
			)
			return 0
		}
	}
	return uint32(len(data))
}
