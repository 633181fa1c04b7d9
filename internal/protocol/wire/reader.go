package wire

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Reader consumes encoded fields from a byte slice.
type Reader struct {
	buf []byte
	off int
}

func NewReader(b []byte) *Reader {
	return &Reader{buf: b}
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int {
	return len(r.buf) - r.off
}

func (r *Reader) take(n int, field string) ([]byte, error) {
	if n < 0 {
		return nil, fmt.Errorf("%w: %s length=%d", ErrInvalidLength, field, n)
	}
	if r.Remaining() < n {
		return nil, fmt.Errorf("%w: %s need=%d have=%d", ErrTruncated, field, n, r.Remaining())
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b, nil
}

func (r *Reader) Uint8() (uint8, error) {
	b, err := r.take(1, "uint8")
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *Reader) Bool() (bool, error) {
	b, err := r.take(1, "bool")
	if err != nil {
		return false, err
	}
	return b[0] != 0, nil
}

func (r *Reader) Int32() (int32, error) {
	b, err := r.take(4, "int32")
	if err != nil {
		return 0, err
	}
	return int32(binary.LittleEndian.Uint32(b)), nil
}

func (r *Reader) Int64() (int64, error) {
	b, err := r.take(8, "int64")
	if err != nil {
		return 0, err
	}
	return int64(binary.LittleEndian.Uint64(b)), nil
}

func (r *Reader) Float32() (float32, error) {
	b, err := r.take(4, "float32")
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(binary.LittleEndian.Uint32(b)), nil
}

func (r *Reader) NullString() (NullString, error) {
	n, err := r.Int32()
	if err != nil {
		return NullString{}, err
	}
	if n == nullLength {
		return NullString{}, nil
	}
	b, err := r.take(int(n), "string")
	if err != nil {
		return NullString{}, err
	}
	return NullString{Value: string(b), Valid: true}, nil
}

// Bytes returns a copy of the next length-prefixed block, or nil when null.
func (r *Reader) Bytes() ([]byte, error) {
	n, err := r.Int32()
	if err != nil {
		return nil, err
	}
	if n == nullLength {
		return nil, nil
	}
	b, err := r.take(int(n), "bytes")
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}

// Block returns a reader bounded to the next length-prefixed nested block.
func (r *Reader) Block() (*Reader, error) {
	n, err := r.Int32()
	if err != nil {
		return nil, err
	}
	b, err := r.take(int(n), "block")
	if err != nil {
		return nil, err
	}
	return NewReader(b), nil
}

// Count reads an element count and rejects values that cannot fit in the
// remaining input given minSize bytes per element.
func (r *Reader) Count(minSize int) (int, error) {
	n, err := r.Int32()
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("%w: count=%d", ErrInvalidLength, n)
	}
	if minSize > 0 && int(n) > r.Remaining()/minSize {
		return 0, fmt.Errorf("%w: count=%d remaining=%d", ErrTruncated, n, r.Remaining())
	}
	return int(n), nil
}
