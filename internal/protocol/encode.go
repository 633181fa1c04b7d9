package protocol

import "github.com/danmuck/rconsole/internal/protocol/wire"

// HeaderSize is the fixed envelope header: int32 id, uint8 kind, uint8 sub-kind.
const HeaderSize = 6

// Envelope is one physical message.
type Envelope struct {
	ID         int32
	Kind       Kind
	SubKind    SubKind
	IsResponse bool
	Payload    Payload
}

// EncodeEnvelope writes the header followed by the payload model's fields.
// IsResponse is not written; the receiver derives it from the kind.
func EncodeEnvelope(env Envelope) ([]byte, error) {
	if env.Payload == nil {
		return nil, ErrNilPayload
	}
	w := wire.NewWriter(64)
	w.PutInt32(env.ID)
	w.PutUint8(uint8(env.Kind))
	w.PutUint8(uint8(env.SubKind))
	env.Payload.MarshalWire(w)
	return w.Bytes(), nil
}
