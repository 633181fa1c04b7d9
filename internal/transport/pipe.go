package transport

import (
	"context"
	"sync"
)

// Pipe returns two connected in-memory sockets for in-process peers.
func Pipe() (Socket, Socket) {
	ab := make(chan []byte, 64)
	ba := make(chan []byte, 64)
	done := make(chan struct{})
	once := &sync.Once{}
	a := &pipeSocket{out: ab, in: ba, done: done, once: once, name: "pipe-a"}
	b := &pipeSocket{out: ba, in: ab, done: done, once: once, name: "pipe-b"}
	return a, b
}

type pipeSocket struct {
	out  chan<- []byte
	in   <-chan []byte
	done chan struct{}
	once *sync.Once
	name string
}

func (p *pipeSocket) Send(ctx context.Context, msg []byte) error {
	buf := make([]byte, len(msg))
	copy(buf, msg)
	select {
	case <-p.done:
		return ErrClosed
	default:
	}
	select {
	case p.out <- buf:
		return nil
	case <-p.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *pipeSocket) Receive(ctx context.Context) ([]byte, error) {
	select {
	case msg := <-p.in:
		return msg, nil
	case <-p.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close closes both ends.
func (p *pipeSocket) Close() error {
	p.once.Do(func() { close(p.done) })
	return nil
}

func (p *pipeSocket) RemoteAddr() string {
	return p.name
}
