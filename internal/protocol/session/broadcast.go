package session

import (
	"fmt"
	"sync"

	"github.com/danmuck/rconsole/internal/observability"
	"github.com/danmuck/rconsole/internal/protocol"
	"github.com/rs/zerolog/log"
)

// Handler processes an inbound broadcast on the dispatch queue. A non-nil
// payload is sent back to the peer as a reply with the inbound id.
type Handler interface {
	Handle(c *Conn, env protocol.Envelope) (protocol.Payload, error)
}

type HandlerFunc func(c *Conn, env protocol.Envelope) (protocol.Payload, error)

func (f HandlerFunc) Handle(c *Conn, env protocol.Envelope) (protocol.Payload, error) {
	return f(c, env)
}

// HandlerID identifies one registration for Off.
type HandlerID uint64

type broadcastKey struct {
	kind protocol.Kind
	sub  protocol.SubKind
}

type handlerEntry struct {
	id      HandlerID
	handler Handler
}

// Broadcast maps (kind, sub-kind) to an ordered list of handlers.
type Broadcast struct {
	mu      sync.RWMutex
	next    HandlerID
	entries map[broadcastKey][]handlerEntry
}

func NewBroadcast() *Broadcast {
	return &Broadcast{entries: make(map[broadcastKey][]handlerEntry)}
}

// On appends h to the handlers at (kind, sub).
func (b *Broadcast) On(kind protocol.Kind, sub protocol.SubKind, h Handler) HandlerID {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.next++
	key := broadcastKey{kind: kind, sub: sub}
	b.entries[key] = append(b.entries[key], handlerEntry{id: b.next, handler: h})
	return b.next
}

// Off removes the listed registrations, or every handler at the key when no
// ids are given. It returns the number removed.
func (b *Broadcast) Off(kind protocol.Kind, sub protocol.SubKind, ids ...HandlerID) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := broadcastKey{kind: kind, sub: sub}
	current := b.entries[key]
	if len(ids) == 0 {
		delete(b.entries, key)
		return len(current)
	}
	drop := make(map[HandlerID]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}
	kept := current[:0:0]
	for _, e := range current {
		if _, ok := drop[e.id]; !ok {
			kept = append(kept, e)
		}
	}
	if len(kept) == 0 {
		delete(b.entries, key)
	} else {
		b.entries[key] = kept
	}
	return len(current) - len(kept)
}

func (b *Broadcast) Has(kind protocol.Kind, sub protocol.SubKind) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries[broadcastKey{kind: kind, sub: sub}]) > 0
}

// Emit invokes every handler at the envelope's key in registration order and
// collects the non-nil results. Handler errors and panics are logged and do
// not stop later handlers.
func (b *Broadcast) Emit(c *Conn, env protocol.Envelope) []protocol.Payload {
	b.mu.RLock()
	handlers := append([]handlerEntry(nil), b.entries[broadcastKey{kind: env.Kind, sub: env.SubKind}]...)
	b.mu.RUnlock()

	var out []protocol.Payload
	for _, e := range handlers {
		result, err := invoke(e.handler, c, env)
		if err != nil {
			role := "unknown"
			connID := ""
			if c != nil {
				role = c.Role().String()
				connID = c.ID()
			}
			observability.RecordHandlerFailure(role, env.Kind.String())
			log.Warn().Err(err).
				Str("conn_id", connID).
				Uint64("handler_id", uint64(e.id)).
				Int32("id", env.ID).
				Stringer("kind", env.Kind).
				Uint8("sub_kind", uint8(env.SubKind)).
				Msg("session.emit handler failed")
			continue
		}
		if result != nil {
			out = append(out, result)
		}
	}
	return out
}

func invoke(h Handler, c *Conn, env protocol.Envelope) (result protocol.Payload, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h.Handle(c, env)
}
