package nativetest

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf16"

	"github.com/embedpdf/pdfdispatch"
	"github.com/embedpdf/pdfdispatch/native"
)

// Last-error codes as the library reports them.
const (
	errSuccess  = 0
	errFormat   = 3
	errPassword = 4
	errPage     = 6
)

const handleBase = 1 << 28

// RenderCall records the arguments of one FPDF_RenderPageBitmap call.
type RenderCall struct {
	Page           int
	StartX, StartY int
	SizeX, SizeY   int
	Rotate         int
	Flags          int
}

type fakeDoc struct {
	spec DocSpec
	// bookmark handles of the top level, in order
	outline []uint32
	// attachment handles, in order
	attachments []uint32
}

type fakePage struct {
	doc   *fakeDoc
	index int
}

type fakeBitmap struct {
	w, h, stride int
	buf          uint32
}

type fakeBookmark struct {
	title    string
	dest     uint32
	children []uint32
	next     uint32
}

type fakeDest struct{ page int }

type fakeAttachment struct{ spec AttachmentSpec }

type fakeText struct{ units []uint16 }

type fakeWriter struct{ data []byte }

// Module is a fake native library. It is safe for the concurrent use a
// buggy caller might attempt and records any overlap in MaxConcurrent.
type Module struct {
	fonts *native.FontFallback

	active    atomic.Int32
	maxActive atomic.Int32

	gateMu  sync.Mutex
	gate    chan struct{}
	blocked chan string

	mu         sync.Mutex
	mem        []byte
	next       uint32
	allocs     map[uint32]uint32
	badFrees   int
	handles    map[uint32]any
	nextHandle uint32
	lastErr    uint32
	calls      []string
	traps      map[string]bool
	panics     map[string]bool
	failures   map[string]uint32
	renders    []RenderCall
	fontReqs   []native.Charset
	closed     bool
}

var _ native.Module = (*Module)(nil)

// Option configures a Module.
type Option func(*Module)

// WithFonts answers font requests from pages that list Fonts.
func WithFonts(f *native.FontFallback) Option {
	return func(m *Module) { m.fonts = f }
}

// New returns an empty fake library.
func New(opts ...Option) *Module {
	m := &Module{
		mem:        make([]byte, 64*1024),
		next:       16,
		allocs:     make(map[uint32]uint32),
		handles:    make(map[uint32]any),
		nextHandle: handleBase,
		blocked:    make(chan string, 1024),
		traps:      make(map[string]bool),
		panics:     make(map[string]bool),
		failures:   make(map[string]uint32),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ──────────────────────────────────────────────────
// Test controls
// ──────────────────────────────────────────────────

// Hold blocks every subsequent Call until release is called.
func (m *Module) Hold() (release func()) {
	gate := make(chan struct{})
	m.gateMu.Lock()
	m.gate = gate
	m.gateMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.gateMu.Lock()
			if m.gate == gate {
				m.gate = nil
			}
			m.gateMu.Unlock()
			close(gate)
		})
	}
}

// WaitBlocked waits until a Call is parked by Hold and returns its
// function name.
func (m *Module) WaitBlocked(t testing.TB) string {
	t.Helper()
	select {
	case fn := <-m.blocked:
		return fn
	case <-time.After(2 * time.Second):
		t.Fatal("nativetest: no call blocked")
		return ""
	}
}

// Trap makes the next call to fn fail the way a wasm trap does.
func (m *Module) Trap(fn string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.traps[fn] = true
}

// Panic makes the next call to fn panic.
func (m *Module) Panic(fn string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.panics[fn] = true
}

// Fail makes the next call to fn return 0 with the given last-error code.
func (m *Module) Fail(fn string, code embedpdf.Code) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[fn] = uint32(code)
}

// Calls returns the names of every function called so far.
func (m *Module) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

// CallCount returns how often fn was called.
func (m *Module) CallCount(fn string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c == fn {
			n++
		}
	}
	return n
}

// MaxConcurrent is the highest number of calls ever inside the module at
// once. A correct caller keeps it at 1.
func (m *Module) MaxConcurrent() int { return int(m.maxActive.Load()) }

// Allocations returns the number of live Malloc allocations.
func (m *Module) Allocations() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.allocs)
}

// BadFrees counts Free calls on pointers that were not allocated.
func (m *Module) BadFrees() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.badFrees
}

// Handles returns the number of live native objects (documents, pages,
// bitmaps and so on).
func (m *Module) Handles() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.handles)
}

// OpenDocuments returns the number of live document handles.
func (m *Module) OpenDocuments() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, h := range m.handles {
		if _, ok := h.(*fakeDoc); ok {
			n++
		}
	}
	return n
}

// OpenPages returns the number of pages loaded and not yet closed.
func (m *Module) OpenPages() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, h := range m.handles {
		if _, ok := h.(*fakePage); ok {
			n++
		}
	}
	return n
}

// Renders returns every render call in order.
func (m *Module) Renders() []RenderCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]RenderCall(nil), m.renders...)
}

// FontRequests returns the charsets requested from the host, in order.
func (m *Module) FontRequests() []native.Charset {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]native.Charset(nil), m.fontReqs...)
}

// Closed reports whether Close was called.
func (m *Module) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// ──────────────────────────────────────────────────
// native.Module
// ──────────────────────────────────────────────────

func (m *Module) enter() func() {
	n := m.active.Add(1)
	for {
		cur := m.maxActive.Load()
		if n <= cur || m.maxActive.CompareAndSwap(cur, n) {
			break
		}
	}
	return func() { m.active.Add(-1) }
}

func (m *Module) wait(fn string) {
	m.gateMu.Lock()
	gate := m.gate
	m.gateMu.Unlock()
	if gate == nil {
		return
	}
	select {
	case m.blocked <- fn:
	default:
	}
	<-gate
}

// Call implements native.Module.
func (m *Module) Call(ctx context.Context, fn string, args ...uint64) (uint64, error) {
	defer m.enter()()
	m.wait(fn)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, embedpdf.NewReason(embedpdf.CodeUnknown, "trap in %s: module closed", fn)
	}
	m.calls = append(m.calls, fn)

	if m.panics[fn] {
		delete(m.panics, fn)
		panic(fmt.Sprintf("nativetest: injected panic in %s", fn))
	}
	if m.traps[fn] {
		delete(m.traps, fn)
		return 0, embedpdf.NewReason(embedpdf.CodeUnknown, "trap in %s: wasm error: unreachable", fn)
	}
	if code, ok := m.failures[fn]; ok {
		delete(m.failures, fn)
		m.lastErr = code
		return 0, nil
	}

	impl, ok := functions[fn]
	if !ok {
		return 0, embedpdf.NewReason(embedpdf.CodeNotSupport, "native function %s not exported", fn)
	}
	a := make([]uint32, len(args))
	for i, v := range args {
		a[i] = uint32(v)
	}
	return uint64(impl(m, ctx, a)), nil
}

// Malloc implements native.Module.
func (m *Module) Malloc(_ context.Context, size uint32) (uint32, error) {
	defer m.enter()()
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.alloc(size), nil
}

// Free implements native.Module.
func (m *Module) Free(_ context.Context, ptr uint32) error {
	defer m.enter()()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.release(ptr)
	return nil
}

// Read implements native.Module.
func (m *Module) Read(ptr, size uint32) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.read(ptr, size)
	if !ok {
		return nil, false
	}
	return append([]byte(nil), b...), true
}

// Write implements native.Module.
func (m *Module) Write(ptr uint32, data []byte) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.write(ptr, data)
}

// Close implements native.Module.
func (m *Module) Close(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// ──────────────────────────────────────────────────
// Memory and handles (m.mu held)
// ──────────────────────────────────────────────────

func (m *Module) alloc(size uint32) uint32 {
	if size == 0 {
		size = 1
	}
	ptr := m.next
	end := uint64(ptr) + uint64((size+7)&^7)
	if end > math.MaxUint32>>4 {
		return 0
	}
	for uint64(len(m.mem)) < end {
		m.mem = append(m.mem, make([]byte, len(m.mem))...)
	}
	m.next = uint32(end)
	m.allocs[ptr] = size
	return ptr
}

func (m *Module) release(ptr uint32) {
	if ptr == 0 {
		return
	}
	if _, ok := m.allocs[ptr]; !ok {
		m.badFrees++
		return
	}
	delete(m.allocs, ptr)
}

func (m *Module) read(ptr, size uint32) ([]byte, bool) {
	end := uint64(ptr) + uint64(size)
	if ptr == 0 || end > uint64(len(m.mem)) {
		return nil, false
	}
	return m.mem[ptr:end], true
}

func (m *Module) write(ptr uint32, data []byte) bool {
	dst, ok := m.read(ptr, uint32(len(data)))
	if !ok {
		return false
	}
	copy(dst, data)
	return true
}

func (m *Module) cString(ptr uint32) string {
	if ptr == 0 {
		return ""
	}
	end := ptr
	for int(end) < len(m.mem) && m.mem[end] != 0 {
		end++
	}
	return string(m.mem[ptr:end])
}

func (m *Module) wideString(ptr uint32) string {
	if ptr == 0 {
		return ""
	}
	var units []uint16
	for p := ptr; int(p)+1 < len(m.mem); p += 2 {
		u := binary.LittleEndian.Uint16(m.mem[p:])
		if u == 0 {
			break
		}
		units = append(units, u)
	}
	return string(utf16.Decode(units))
}

// writeWide stores s as NUL-terminated UTF-16LE if it fits and returns the
// byte length it needs.
func (m *Module) writeWide(s string, ptr, size uint32) uint32 {
	units := utf16.Encode([]rune(s))
	b := make([]byte, 2*len(units)+2)
	for i, u := range units {
		binary.LittleEndian.PutUint16(b[2*i:], u)
	}
	if ptr != 0 && size >= uint32(len(b)) {
		m.write(ptr, b)
	}
	return uint32(len(b))
}

func (m *Module) newHandle(v any) uint32 {
	m.nextHandle++
	m.handles[m.nextHandle] = v
	return m.nextHandle
}

func handle[T any](m *Module, h uint32) (T, bool) {
	v, ok := m.handles[h].(T)
	return v, ok
}
