package session

import (
	"context"
	"testing"
	"time"

	"github.com/danmuck/rconsole/internal/protocol"
	"github.com/danmuck/rconsole/internal/transport"
)

type endpoint struct {
	conn     *Conn
	handlers *Broadcast
	queue    *Queue
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.RequestTimeout = 5 * time.Second
	cfg.SweepInterval = 10 * time.Millisecond
	return cfg
}

func runQueue(t *testing.T, q *Queue) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = q.Run(ctx, time.Millisecond) }()
}

func newEndpoint(t *testing.T, id string, role protocol.Role, sock transport.Socket, cfg Config, hs *protocol.ClientInfo) endpoint {
	t.Helper()
	ep := endpoint{handlers: NewBroadcast(), queue: NewQueue()}
	conn, err := NewConn(ConnOptions{
		ID:        id,
		Role:      role,
		Socket:    sock,
		Registry:  protocol.DefaultRegistry(),
		Handlers:  ep.handlers,
		Queue:     ep.queue,
		Config:    cfg,
		Handshake: hs,
	})
	if err != nil {
		t.Fatalf("new conn %s: %v", id, err)
	}
	ep.conn = conn
	return ep
}

// rawPeer drives the far end of a pipe without a Conn so tests control
// ordering and malformed input.
type rawPeer struct {
	t     *testing.T
	sock  transport.Socket
	codec protocol.Codec
}

func newRawPeer(t *testing.T, sock transport.Socket, role protocol.Role) rawPeer {
	return rawPeer{t: t, sock: sock, codec: protocol.NewCodec(protocol.DefaultRegistry(), role)}
}

func (p rawPeer) recv() protocol.Envelope {
	p.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	data, err := p.sock.Receive(ctx)
	if err != nil {
		p.t.Fatalf("raw receive: %v", err)
	}
	env, err := p.codec.Decode(data)
	if err != nil {
		p.t.Fatalf("raw decode: %v", err)
	}
	return env
}

func (p rawPeer) send(env protocol.Envelope) {
	p.t.Helper()
	raw, err := protocol.EncodeEnvelope(env)
	if err != nil {
		p.t.Fatalf("raw encode: %v", err)
	}
	p.sendBytes(raw)
}

func (p rawPeer) sendBytes(raw []byte) {
	p.t.Helper()
	if err := p.sock.Send(context.Background(), raw); err != nil {
		p.t.Fatalf("raw send: %v", err)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
