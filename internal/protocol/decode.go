package protocol

import (
	"fmt"

	"github.com/danmuck/rconsole/internal/protocol/wire"
)

// Codec decodes inbound envelopes for one local role.
type Codec struct {
	Registry *Registry
	Role     Role
}

func NewCodec(reg *Registry, role Role) Codec {
	return Codec{Registry: reg, Role: role}
}

// Decode parses one envelope. Trailing bytes after the payload model are ignored.
// Failures are returned as *DecodeError wrapping ErrTruncated, ErrInvalidLength
// or ErrUnresolvedPayload.
func (c Codec) Decode(data []byte) (Envelope, error) {
	r := wire.NewReader(data)
	id, err := r.Int32()
	if err != nil {
		return Envelope{}, &DecodeError{Err: err}
	}
	kind, err := r.Uint8()
	if err != nil {
		return Envelope{}, &DecodeError{ID: id, Err: err}
	}
	sub, err := r.Uint8()
	if err != nil {
		return Envelope{}, &DecodeError{ID: id, Kind: Kind(kind), Err: err}
	}

	env := Envelope{ID: id, Kind: Kind(kind), SubKind: SubKind(sub)}
	dir := DirectionFor(c.Role, env.Kind)
	env.IsResponse = dir == DirResponse

	factory, ok := c.Registry.Resolve(env.Kind, env.SubKind, dir)
	if !ok {
		return env, &DecodeError{
			ID: id, Kind: env.Kind, SubKind: env.SubKind, HeaderRead: true,
			Err: fmt.Errorf("%w: direction=%s", ErrUnresolvedPayload, dir),
		}
	}
	payload := factory()
	if err := payload.UnmarshalWire(r); err != nil {
		return env, &DecodeError{ID: id, Kind: env.Kind, SubKind: env.SubKind, HeaderRead: true, Err: err}
	}
	env.Payload = payload
	return env, nil
}
