// Package frame delimits envelopes on stream transports with a 4-byte
// big-endian length prefix.
package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const HeaderLen = 4

var (
	ErrShortHeader   = errors.New("frame: short length header")
	ErrFrameTooLarge = errors.New("frame: frame too large")
	ErrEmptyFrame    = errors.New("frame: empty frame")
)

// Limits constrains frame decode/encode memory use.
type Limits struct {
	MaxFrameBytes uint32
}

func DefaultLimits() Limits {
	return Limits{MaxFrameBytes: 8 * 1024 * 1024}
}

func ReadFrame(r io.Reader, limits Limits) ([]byte, error) {
	var head [HeaderLen]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrShortHeader
		}
		return nil, err
	}
	n := binary.BigEndian.Uint32(head[:])
	if n == 0 {
		return nil, ErrEmptyFrame
	}
	if limits.MaxFrameBytes > 0 && n > limits.MaxFrameBytes {
		return nil, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, n, limits.MaxFrameBytes)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	return body, nil
}

func WriteFrame(w io.Writer, body []byte, limits Limits) error {
	if len(body) == 0 {
		return ErrEmptyFrame
	}
	if limits.MaxFrameBytes > 0 && uint64(len(body)) > uint64(limits.MaxFrameBytes) {
		return fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, len(body), limits.MaxFrameBytes)
	}
	buf := make([]byte, HeaderLen+len(body))
	binary.BigEndian.PutUint32(buf[:HeaderLen], uint32(len(body)))
	copy(buf[HeaderLen:], body)
	_, err := w.Write(buf)
	return err
}
