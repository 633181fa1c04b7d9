package wire

import (
	"bytes"
	"errors"
	"testing"

	"github.com/danmuck/rconsole/internal/testutil/testlog"
)

func TestStringNullAndEmptyAreDistinct(t *testing.T) {
	testlog.Start(t)

	w := NewWriter(16)
	w.PutString(NullString{})
	w.PutString(Str(""))
	w.PutString(Str("héllo"))

	want := []byte{
		0xff, 0xff, 0xff, 0xff,
		0, 0, 0, 0,
		6, 0, 0, 0, 'h', 0xc3, 0xa9, 'l', 'l', 'o',
	}
	if !bytes.Equal(w.Bytes(), want) {
		t.Fatalf("encoded=%v want=%v", w.Bytes(), want)
	}

	r := NewReader(w.Bytes())
	null, err := r.NullString()
	if err != nil || !null.IsNull() {
		t.Fatalf("expected null string, got=%+v err=%v", null, err)
	}
	empty, err := r.NullString()
	if err != nil || empty.IsNull() || empty.Value != "" {
		t.Fatalf("expected empty string, got=%+v err=%v", empty, err)
	}
	text, err := r.NullString()
	if err != nil || text.Value != "héllo" {
		t.Fatalf("expected héllo, got=%+v err=%v", text, err)
	}
	if r.Remaining() != 0 {
		t.Fatalf("expected input consumed, remaining=%d", r.Remaining())
	}
}

func TestScalarsAreLittleEndian(t *testing.T) {
	testlog.Start(t)

	w := NewWriter(0)
	w.PutInt32(7)
	w.PutUint8(6)
	w.PutBool(true)
	w.PutInt64(-2)
	w.PutFloat32(1.5)

	if got := w.Bytes()[:4]; !bytes.Equal(got, []byte{7, 0, 0, 0}) {
		t.Fatalf("int32 bytes=%v", got)
	}

	r := NewReader(w.Bytes())
	if v, _ := r.Int32(); v != 7 {
		t.Fatalf("int32=%d", v)
	}
	if v, _ := r.Uint8(); v != 6 {
		t.Fatalf("uint8=%d", v)
	}
	if v, _ := r.Bool(); !v {
		t.Fatalf("bool=false")
	}
	if v, _ := r.Int64(); v != -2 {
		t.Fatalf("int64=%d", v)
	}
	if v, _ := r.Float32(); v != 1.5 {
		t.Fatalf("float32=%v", v)
	}
}

func TestBlockBackPatchesLength(t *testing.T) {
	testlog.Start(t)

	w := NewWriter(0)
	at := w.BeginBlock()
	w.PutInt32(1)
	w.PutString(Str("ab"))
	w.EndBlock(at)
	w.PutUint8(9)

	r := NewReader(w.Bytes())
	block, err := r.Block()
	if err != nil {
		t.Fatalf("block: %v", err)
	}
	if block.Remaining() != 10 {
		t.Fatalf("block length=%d want=10", block.Remaining())
	}
	tail, err := r.Uint8()
	if err != nil || tail != 9 {
		t.Fatalf("tail=%d err=%v", tail, err)
	}
}

func TestBytesNilRoundTrip(t *testing.T) {
	testlog.Start(t)

	w := NewWriter(0)
	w.PutBytes(nil)
	w.PutBytes([]byte{})
	w.PutBytes([]byte{1, 2})

	r := NewReader(w.Bytes())
	if b, err := r.Bytes(); err != nil || b != nil {
		t.Fatalf("expected nil bytes, got=%v err=%v", b, err)
	}
	if b, err := r.Bytes(); err != nil || b == nil || len(b) != 0 {
		t.Fatalf("expected empty bytes, got=%v err=%v", b, err)
	}
	if b, err := r.Bytes(); err != nil || !bytes.Equal(b, []byte{1, 2}) {
		t.Fatalf("expected [1 2], got=%v err=%v", b, err)
	}
}

func TestTruncatedAndInvalidLengths(t *testing.T) {
	testlog.Start(t)

	if _, err := NewReader([]byte{1, 2}).Int32(); !errors.Is(err, ErrTruncated) {
		t.Fatalf("expected ErrTruncated, got %v", err)
	}
	if _, err := NewReader([]byte{5, 0, 0, 0, 'a'}).NullString(); !errors.Is(err, ErrTruncated) {
		t.Fatalf("expected ErrTruncated for short string, got %v", err)
	}
	if _, err := NewReader([]byte{0xfe, 0xff, 0xff, 0xff}).NullString(); !errors.Is(err, ErrInvalidLength) {
		t.Fatalf("expected ErrInvalidLength for -2 length, got %v", err)
	}
	if _, err := NewReader([]byte{0xff, 0xff, 0xff, 0x7f}).Count(4); !errors.Is(err, ErrTruncated) {
		t.Fatalf("expected ErrTruncated for oversized count, got %v", err)
	}
}
