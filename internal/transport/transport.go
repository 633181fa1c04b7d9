// Package transport carries opaque envelope bytes between peers. Each Send
// delivers exactly one message and each Receive returns exactly one message.
package transport

import (
	"context"
	"errors"
)

var (
	ErrClosed          = errors.New("transport: closed")
	ErrListenerClosed  = errors.New("transport: listener closed")
	ErrUnsupportedKind = errors.New("transport: unsupported kind")
)

// Socket is a connected duplex message stream. Send may be called from one
// goroutine while Receive runs on another.
type Socket interface {
	Send(ctx context.Context, msg []byte) error
	Receive(ctx context.Context) ([]byte, error)
	Close() error
	RemoteAddr() string
}

type Listener interface {
	Accept(ctx context.Context) (Socket, error)
	Addr() string
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, address string) (Socket, error)
}

const (
	KindWebSocket = "websocket"
	KindTCP       = "tcp"
)

// NewDialer returns the dialer for a configured transport kind.
func NewDialer(kind string) (Dialer, error) {
	switch kind {
	case "", KindWebSocket:
		return &WebSocketDialer{}, nil
	case KindTCP:
		return &TCPDialer{}, nil
	default:
		return nil, errors.Join(ErrUnsupportedKind, errors.New(kind))
	}
}
