package wire

import (
	"encoding/binary"
	"math"
)

// Writer appends encoded fields to one growable buffer.
type Writer struct {
	buf []byte
}

func NewWriter(capacity int) *Writer {
	return &Writer{buf: make([]byte, 0, capacity)}
}

func (w *Writer) Bytes() []byte {
	return w.buf
}

func (w *Writer) Len() int {
	return len(w.buf)
}

func (w *Writer) PutUint8(v uint8) {
	w.buf = append(w.buf, v)
}

func (w *Writer) PutBool(v bool) {
	if v {
		w.buf = append(w.buf, 1)
		return
	}
	w.buf = append(w.buf, 0)
}

func (w *Writer) PutInt32(v int32) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, uint32(v))
}

func (w *Writer) PutInt64(v int64) {
	w.buf = binary.LittleEndian.AppendUint64(w.buf, uint64(v))
}

func (w *Writer) PutFloat32(v float32) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, math.Float32bits(v))
}

func (w *Writer) PutString(s NullString) {
	if !s.Valid {
		w.PutInt32(nullLength)
		return
	}
	w.PutInt32(int32(len(s.Value)))
	w.buf = append(w.buf, s.Value...)
}

// PutBytes writes b with a length prefix; a nil slice is written as null.
func (w *Writer) PutBytes(b []byte) {
	if b == nil {
		w.PutInt32(nullLength)
		return
	}
	w.PutInt32(int32(len(b)))
	w.buf = append(w.buf, b...)
}

// BeginBlock reserves a length slot and returns its offset for EndBlock.
func (w *Writer) BeginBlock() int {
	at := len(w.buf)
	w.buf = append(w.buf, 0, 0, 0, 0)
	return at
}

// EndBlock back-patches the slot reserved at offset with the block's byte length.
func (w *Writer) EndBlock(at int) {
	n := len(w.buf) - at - 4
	binary.LittleEndian.PutUint32(w.buf[at:at+4], uint32(int32(n)))
}
