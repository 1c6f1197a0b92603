package action

import (
	"bytes"
	"strings"
	"testing"
)

func TestLimitedBuffer_DiscardsPastLimit(t *testing.T) {
	b := &limitedBuffer{limit: 1024}
	chunk := bytes.Repeat([]byte("y\n"), 4096)
	for i := 0; i < 2048; i++ { // 16 MiB offered
		n, err := b.Write(chunk)
		if err != nil || n != len(chunk) {
			t.Fatalf("write %d: n=%d err=%v", i, n, err)
		}
	}
	if b.buf.Len() != 1024 {
		t.Fatalf("kept %d bytes, want 1024", b.buf.Len())
	}
	if c := b.buf.Cap(); c > 64*1024 {
		t.Fatalf("buffer grew to %d bytes", c)
	}
	if !strings.HasSuffix(b.String(), "(output truncated)") {
		t.Fatalf("missing truncation marker: %q", b.String()[len(b.String())-40:])
	}
}

func TestLimitedBuffer_DropsSplitRune(t *testing.T) {
	b := &limitedBuffer{limit: 4}
	b.Write([]byte("abcé")) // é is two bytes; only its first byte fits
	got := b.String()
	if !strings.HasPrefix(got, "abc\n") {
		t.Fatalf("got %q", got)
	}
}

func TestLimitedBuffer_UnderLimit(t *testing.T) {
	b := &limitedBuffer{limit: outputLimit(0)}
	b.Write([]byte("hello"))
	if b.String() != "hello" {
		t.Fatalf("got %q", b.String())
	}
}
