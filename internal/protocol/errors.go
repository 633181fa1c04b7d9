package protocol

import (
	"errors"
	"fmt"

	"github.com/danmuck/rconsole/internal/protocol/wire"
)

var (
	ErrTruncated         = wire.ErrTruncated
	ErrInvalidLength     = wire.ErrInvalidLength
	ErrUnresolvedPayload = errors.New("protocol: unresolved payload")
	ErrNilPayload        = errors.New("protocol: nil payload")
	ErrPayloadMismatch   = errors.New("protocol: payload type mismatch")
)

// DecodeError reports a failed inbound envelope together with whatever header
// fields were read before the failure.
type DecodeError struct {
	ID         int32
	Kind       Kind
	SubKind    SubKind
	HeaderRead bool
	Err        error
}

func (e *DecodeError) Error() string {
	if !e.HeaderRead {
		return fmt.Sprintf("protocol: decode envelope: %v", e.Err)
	}
	return fmt.Sprintf("protocol: decode envelope id=%d kind=%s sub_kind=%d: %v", e.ID, e.Kind, e.SubKind, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}
