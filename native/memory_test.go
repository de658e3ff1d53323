package native

import "testing"

func TestUTF16LE_RoundTrip(t *testing.T) {
	for _, s := range []string{"", "plain", "Grüße", "日本語", "emoji 🎉 pair"} {
		b := encodeUTF16LE(s)
		if len(b)%2 != 0 || b[len(b)-1] != 0 || b[len(b)-2] != 0 {
			t.Fatalf("encode(%q) = %v, want NUL-terminated UTF-16", s, b)
		}
		if got := decodeUTF16LE(b); got != s {
			t.Errorf("decode(encode(%q)) = %q", s, got)
		}
	}
}

func TestDecodeUTF16LE_StopsAtNUL(t *testing.T) {
	b := []byte{'a', 0, 'b', 0, 0, 0, 'c', 0}
	if got := decodeUTF16LE(b); got != "ab" {
		t.Fatalf("decode = %q, want %q", got, "ab")
	}
	if got := decodeUTF16LE([]byte{'x'}); got != "" {
		t.Fatalf("decode of odd byte = %q, want empty", got)
	}
}

func TestArg_EncodesNegativeAsI32(t *testing.T) {
	if got := arg(-1); got != 0xFFFFFFFF {
		t.Fatalf("arg(-1) = %#x, want 0xffffffff", got)
	}
	if got := arg(7); got != 7 {
		t.Fatalf("arg(7) = %d, want 7", got)
	}
}
