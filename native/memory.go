package native

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"unicode/utf16"

	"github.com/tetratelabs/wazero/api"

	"github.com/embedpdf/pdfdispatch"
)

// defaultStringBuffer is the first buffer size tried when reading a string.
const defaultStringBuffer = 256

// lib wraps a Module with the allocation and marshalling helpers every
// operation needs. It is used only from the serializer goroutine.
type lib struct {
	mod Module
}

func (l lib) call(ctx context.Context, fn string, args ...uint64) (uint64, error) {
	return l.mod.Call(ctx, fn, args...)
}

// callBool treats a non-zero result as true.
func (l lib) callBool(ctx context.Context, fn string, args ...uint64) (bool, error) {
	r, err := l.call(ctx, fn, args...)
	return api.DecodeU32(r) != 0, err
}

// callInt decodes a signed 32-bit result.
func (l lib) callInt(ctx context.Context, fn string, args ...uint64) (int, error) {
	r, err := l.call(ctx, fn, args...)
	return int(api.DecodeI32(r)), err
}

// callPtr decodes a pointer or handle result.
func (l lib) callPtr(ctx context.Context, fn string, args ...uint64) (uint32, error) {
	r, err := l.call(ctx, fn, args...)
	return api.DecodeU32(r), err
}

func (l lib) malloc(ctx context.Context, size uint32) (uint32, error) {
	if size == 0 {
		size = 1
	}
	ptr, err := l.mod.Malloc(ctx, size)
	if err != nil {
		return 0, err
	}
	if ptr == 0 {
		return 0, embedpdf.NewReason(embedpdf.CodeUnknown, "out of native memory allocating %d bytes", size)
	}
	return ptr, nil
}

func (l lib) free(ctx context.Context, ptr uint32) {
	if ptr != 0 {
		_ = l.mod.Free(ctx, ptr)
	}
}

// writeBytes copies data into freshly allocated native memory.
func (l lib) writeBytes(ctx context.Context, data []byte) (uint32, error) {
	ptr, err := l.malloc(ctx, uint32(len(data)))
	if err != nil {
		return 0, err
	}
	if !l.mod.Write(ptr, data) {
		l.free(ctx, ptr)
		return 0, embedpdf.NewReason(embedpdf.CodeUnknown, "write of %d bytes out of range", len(data))
	}
	return ptr, nil
}

// cString writes s as a NUL-terminated byte string.
func (l lib) cString(ctx context.Context, s string) (uint32, error) {
	b := make([]byte, len(s)+1)
	copy(b, s)
	return l.writeBytes(ctx, b)
}

// wideString writes s as NUL-terminated UTF-16LE.
func (l lib) wideString(ctx context.Context, s string) (uint32, error) {
	return l.writeBytes(ctx, encodeUTF16LE(s))
}

// readBytes copies size bytes out of native memory.
func (l lib) readBytes(ptr, size uint32) ([]byte, error) {
	b, ok := l.mod.Read(ptr, size)
	if !ok {
		return nil, embedpdf.NewReason(embedpdf.CodeUnknown, "read of %d bytes at %#x out of range", size, ptr)
	}
	return b, nil
}

// readString implements probe-then-read for UTF-16LE strings. probe fills
// the buffer it is given when large enough and always returns the byte
// length the complete string needs, terminator included.
func (l lib) readString(ctx context.Context, probe func(ptr, size uint32) (uint32, error)) (string, error) {
	size := uint32(defaultStringBuffer)
	ptr, err := l.malloc(ctx, size)
	if err != nil {
		return "", err
	}
	n, err := probe(ptr, size)
	if err != nil {
		l.free(ctx, ptr)
		return "", err
	}
	if n > size {
		l.free(ctx, ptr)
		size = n
		if ptr, err = l.malloc(ctx, size); err != nil {
			return "", err
		}
		if n, err = probe(ptr, size); err != nil {
			l.free(ctx, ptr)
			return "", err
		}
	}
	defer l.free(ctx, ptr)

	if n == 0 {
		return "", nil
	}
	raw, err := l.readBytes(ptr, min(n, size))
	if err != nil {
		return "", err
	}
	return decodeUTF16LE(raw), nil
}

// readSized implements probe-then-read for buffers whose length is already
// known: allocate exactly, let fill write into it, copy out, free.
func (l lib) readSized(ctx context.Context, size uint32, fill func(ptr, size uint32) error) ([]byte, error) {
	if size == 0 {
		return []byte{}, nil
	}
	ptr, err := l.malloc(ctx, size)
	if err != nil {
		return nil, err
	}
	defer l.free(ctx, ptr)
	if err := fill(ptr, size); err != nil {
		return nil, err
	}
	return l.readBytes(ptr, size)
}

// readU32 reads a little-endian uint32 out-parameter.
func (l lib) readU32(ptr uint32) (uint32, error) {
	b, err := l.readBytes(ptr, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// readF32Pair reads two consecutive float32 values, such as an FS_SIZEF.
func (l lib) readF32Pair(ptr uint32) (float32, float32, error) {
	b, err := l.readBytes(ptr, 8)
	if err != nil {
		return 0, 0, err
	}
	return math.Float32frombits(binary.LittleEndian.Uint32(b[0:4])),
		math.Float32frombits(binary.LittleEndian.Uint32(b[4:8])), nil
}

var lastErrorText = map[embedpdf.Code]string{
	embedpdf.CodeUnknown:   "unknown error",
	embedpdf.CodeFile:      "file not found or could not be opened",
	embedpdf.CodeFormat:    "file not in PDF format or corrupted",
	embedpdf.CodePassword:  "password required or incorrect password",
	embedpdf.CodeSecurity:  "unsupported security scheme",
	embedpdf.CodePageError: "page not found or content error",
}

// lastError converts the library's last-error code into a Reason. fallback
// is used when the library reports success despite the failed call.
func (l lib) lastError(ctx context.Context, fallback embedpdf.Code, format string, args ...any) error {
	raw, err := l.call(ctx, "FPDF_GetLastError")
	if err != nil {
		return err
	}
	code := embedpdf.Code(api.DecodeU32(raw))
	switch {
	case code == embedpdf.CodeOK:
		code = fallback
	case code > embedpdf.CodePageError:
		code = embedpdf.CodeUnknown
	}
	msg := fmt.Sprintf(format, args...)
	if text, ok := lastErrorText[code]; ok {
		msg += ": " + text
	}
	return embedpdf.NewReason(code, "%s", msg)
}

func encodeUTF16LE(s string) []byte {
	units := utf16.Encode([]rune(s))
	b := make([]byte, 2*len(units)+2)
	for i, u := range units {
		binary.LittleEndian.PutUint16(b[2*i:], u)
	}
	return b
}

// decodeUTF16LE decodes b up to the first NUL unit.
func decodeUTF16LE(b []byte) string {
	units := make([]uint16, 0, len(b)/2)
	for i := 0; i+1 < len(b); i += 2 {
		u := binary.LittleEndian.Uint16(b[i:])
		if u == 0 {
			break
		}
		units = append(units, u)
	}
	return string(utf16.Decode(units))
}

// arg encodes a signed value for a native i32 parameter.
func arg(v int) uint64 { return api.EncodeI32(int32(v)) }
