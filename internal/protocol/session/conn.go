package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/rconsole/internal/observability"
	"github.com/danmuck/rconsole/internal/protocol"
	"github.com/danmuck/rconsole/internal/transport"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// ConnOptions wires a Conn to its owner's registries and queue.
type ConnOptions struct {
	ID       string
	Role     protocol.Role
	Socket   transport.Socket
	Registry *protocol.Registry
	Handlers *Broadcast
	Queue    *Queue
	Config   Config
	// Handshake, when set, is sent as the first envelope after Start.
	Handshake *protocol.ClientInfo
	// OnClose runs once, synchronously, after the socket is closed and the
	// pending table purged.
	OnClose func(*Conn)
}

// Conn is the actor for one peer. Socket reads and writes run on their own
// goroutines; routing of inbound envelopes runs on the Queue.
type Conn struct {
	id        string
	role      protocol.Role
	socket    transport.Socket
	codec     protocol.Codec
	handlers  *Broadcast
	queue     *Queue
	cfg       Config
	handshake *protocol.ClientInfo
	onClose   func(*Conn)
	log       zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	state   atomic.Int32
	nextID  atomic.Int32
	pending *PendingTable

	outMu     sync.Mutex
	outbox    [][]byte
	outNotify chan struct{}

	identityMu sync.RWMutex
	identity   Identity

	done      chan struct{}
	closeOnce sync.Once
}

func NewConn(opts ConnOptions) (*Conn, error) {
	if opts.Socket == nil {
		return nil, ErrNoSocket
	}
	if opts.Queue == nil {
		return nil, ErrNoQueue
	}
	if opts.Registry == nil {
		return nil, ErrNoRegistry
	}
	if opts.Handlers == nil {
		opts.Handlers = NewBroadcast()
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Conn{
		id:        opts.ID,
		role:      opts.Role,
		socket:    opts.Socket,
		codec:     protocol.NewCodec(opts.Registry, opts.Role),
		handlers:  opts.Handlers,
		queue:     opts.Queue,
		cfg:       opts.Config.WithDefaults(),
		handshake: opts.Handshake,
		onClose:   opts.OnClose,
		ctx:       ctx,
		cancel:    cancel,
		pending:   NewPendingTable(),
		outNotify: make(chan struct{}, 1),
		done:      make(chan struct{}),
		identity: Identity{
			ConnID:      opts.ID,
			Address:     opts.Socket.RemoteAddr(),
			ConnectedAt: time.Now(),
		},
	}
	c.log = log.Logger.With().
		Str("component", "session").
		Stringer("role", opts.Role).
		Str("conn_id", opts.ID).
		Logger()
	return c, nil
}

func (c *Conn) ID() string              { return c.id }
func (c *Conn) Role() protocol.Role     { return c.role }
func (c *Conn) State() State            { return State(c.state.Load()) }
func (c *Conn) Done() <-chan struct{}   { return c.done }
func (c *Conn) RemoteAddr() string      { return c.socket.RemoteAddr() }
func (c *Conn) PendingCount() int       { return c.pending.Len() }
func (c *Conn) Logger() *zerolog.Logger { return &c.log }

func (c *Conn) Identity() Identity {
	c.identityMu.RLock()
	defer c.identityMu.RUnlock()
	return c.identity
}

func (c *Conn) setIdentity(info protocol.ClientInfo) {
	c.identityMu.Lock()
	c.identity.Info = info
	c.identity.Handshaken = true
	c.identityMu.Unlock()
}

// Start opens the connection and launches its loops. Cancelling ctx closes it.
func (c *Conn) Start(ctx context.Context) error {
	if !c.state.CompareAndSwap(int32(StateConnecting), int32(StateOpen)) {
		return ErrConnStarted
	}
	observability.AddActiveConnections(c.role.String(), 1)
	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	go func() {
		<-c.done
		stop()
	}()

	if c.handshake != nil {
		if err := c.Send(protocol.KindHandshake, protocol.SubHandshake, c.handshake); err != nil {
			_ = c.Close()
			return fmt.Errorf("send handshake: %w", err)
		}
	}

	go c.readLoop()
	go c.writeLoop()
	if c.cfg.RequestTimeout > 0 {
		go c.sweepLoop()
	}
	c.log.Debug().Str("remote", c.RemoteAddr()).Msg("session.conn open")
	return nil
}

// Send enqueues a fire-and-forget envelope with a fresh id.
func (c *Conn) Send(kind protocol.Kind, sub protocol.SubKind, payload protocol.Payload) error {
	return c.enqueue(protocol.Envelope{ID: c.nextID.Add(1), Kind: kind, SubKind: sub, Payload: payload})
}

// Reply answers req with payload, reusing its id and key.
func (c *Conn) Reply(req protocol.Envelope, payload protocol.Payload) error {
	return c.enqueue(protocol.Envelope{
		ID: req.ID, Kind: req.Kind, SubKind: req.SubKind, IsResponse: true, Payload: payload,
	})
}

// Request sends payload and registers done to receive the reply. A nil done
// sends without tracking a reply.
func (c *Conn) Request(kind protocol.Kind, sub protocol.SubKind, payload protocol.Payload, done Completion) (int32, error) {
	if c.State() != StateOpen {
		return 0, ErrConnClosed
	}
	id := c.nextID.Add(1)
	if done != nil {
		now := time.Now()
		req := PendingRequest{ID: id, Kind: kind, SubKind: sub, CreatedAt: now, Completion: done}
		if c.cfg.RequestTimeout > 0 {
			req.Deadline = now.Add(c.cfg.RequestTimeout)
		}
		if c.pending.Add(req) {
			c.log.Warn().Int32("id", id).Msg("session.request replaced pending entry")
		} else {
			observability.AddPending(c.role.String(), 1)
		}
		// a concurrent Close may have purged before the Add
		if c.State() != StateOpen {
			c.abandon(id)
			return 0, ErrConnClosed
		}
	}
	if err := c.enqueue(protocol.Envelope{ID: id, Kind: kind, SubKind: sub, Payload: payload}); err != nil {
		if done != nil {
			c.abandon(id)
		}
		return 0, err
	}
	return id, nil
}

// Call issues a request and blocks for its reply. It must not be called from
// the goroutine that pumps the Queue.
func (c *Conn) Call(ctx context.Context, kind protocol.Kind, sub protocol.SubKind, payload protocol.Payload) (protocol.Payload, error) {
	if c.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx, c.cfg.RequestTimeout, ErrRequestTimeout)
		defer cancel()
	}
	replies := make(chan protocol.Payload, 1)
	id, err := c.Request(kind, sub, payload, func(p protocol.Payload) { replies <- p })
	if err != nil {
		return nil, err
	}
	select {
	case p := <-replies:
		return p, nil
	case <-ctx.Done():
		c.abandon(id)
		return nil, context.Cause(ctx)
	case <-c.done:
		return nil, ErrConnClosed
	}
}

func (c *Conn) abandon(id int32) {
	if _, ok := c.pending.Take(id); ok {
		observability.AddPending(c.role.String(), -1)
	}
}

func (c *Conn) enqueue(env protocol.Envelope) error {
	if c.State() != StateOpen {
		return ErrConnClosed
	}
	raw, err := protocol.EncodeEnvelope(env)
	if err != nil {
		return err
	}
	c.outMu.Lock()
	c.outbox = append(c.outbox, raw)
	c.outMu.Unlock()
	select {
	case c.outNotify <- struct{}{}:
	default:
	}
	observability.RecordEnvelope(c.role.String(), "out", env.Kind.String(), uint8(env.SubKind))
	return nil
}

func (c *Conn) takeOutbox() [][]byte {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	batch := c.outbox
	c.outbox = nil
	return batch
}

func (c *Conn) writeLoop() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-c.outNotify:
		}
		for batch := c.takeOutbox(); len(batch) > 0; batch = c.takeOutbox() {
			for _, msg := range batch {
				ctx, cancel := context.WithTimeout(c.ctx, c.cfg.WriteTimeout)
				err := c.socket.Send(ctx, msg)
				cancel()
				if err != nil {
					if c.ctx.Err() == nil {
						c.log.Warn().Err(err).Msg("session.conn send failed")
					}
					_ = c.Close()
					return
				}
			}
		}
	}
}

func (c *Conn) readLoop() {
	for {
		data, err := c.socket.Receive(c.ctx)
		if err != nil {
			if c.ctx.Err() == nil && !errors.Is(err, transport.ErrClosed) {
				c.log.Warn().Err(err).Msg("session.conn receive failed")
			}
			_ = c.Close()
			return
		}
		env, err := c.codec.Decode(data)
		if err != nil {
			c.dropUndecodable(err)
			continue
		}
		observability.RecordEnvelope(c.role.String(), "in", env.Kind.String(), uint8(env.SubKind))
		c.queue.Enqueue(func() { c.route(env) })
	}
}

func (c *Conn) dropUndecodable(err error) {
	reason := "malformed"
	switch {
	case errors.Is(err, protocol.ErrUnresolvedPayload):
		reason = "unresolved"
	case errors.Is(err, protocol.ErrTruncated):
		reason = "truncated"
	case errors.Is(err, protocol.ErrInvalidLength):
		reason = "invalid_length"
	}
	observability.RecordDecodeError(c.role.String(), reason)
	c.log.Warn().Err(err).Str("reason", reason).Msg("session.conn dropped inbound message")
}

// route runs on the dispatch queue. Work queued before Close is discarded.
func (c *Conn) route(env protocol.Envelope) {
	if c.State() != StateOpen {
		observability.RecordDropped(c.role.String(), "closed")
		c.log.Debug().Int32("id", env.ID).Stringer("kind", env.Kind).Msg("session.route connection closed")
		return
	}
	if env.IsResponse {
		req, ok := c.pending.Take(env.ID)
		if !ok {
			observability.RecordDropped(c.role.String(), "late_reply")
			c.log.Debug().Int32("id", env.ID).Stringer("kind", env.Kind).Msg("session.route reply without pending request")
			return
		}
		observability.AddPending(c.role.String(), -1)
		req.Completion(env.Payload)
		return
	}

	if env.Kind == protocol.KindHandshake {
		if info, ok := env.Payload.(*protocol.ClientInfo); ok {
			c.setIdentity(*info)
		}
	}

	if !c.handlers.Has(env.Kind, env.SubKind) {
		observability.RecordDropped(c.role.String(), "no_handler")
		c.log.Debug().
			Int32("id", env.ID).
			Stringer("kind", env.Kind).
			Uint8("sub_kind", uint8(env.SubKind)).
			Msg("session.route no handler registered")
		return
	}
	for _, result := range c.handlers.Emit(c, env) {
		if err := c.Reply(env, result); err != nil {
			c.log.Warn().Err(err).Int32("id", env.ID).Msg("session.route reply failed")
		}
	}
}

func (c *Conn) sweepLoop() {
	ticker := time.NewTicker(c.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case now := <-ticker.C:
			c.expire(now)
		}
	}
}

func (c *Conn) expire(now time.Time) int {
	expired := c.pending.Expire(now)
	if len(expired) == 0 {
		return 0
	}
	observability.AddPending(c.role.String(), -len(expired))
	observability.RecordPendingExpired(c.role.String(), len(expired))
	for _, req := range expired {
		c.log.Warn().
			Int32("id", req.ID).
			Stringer("kind", req.Kind).
			Uint8("sub_kind", uint8(req.SubKind)).
			Dur("age", now.Sub(req.CreatedAt)).
			Msg("session.pending request expired")
	}
	return len(expired)
}

// Close tears the connection down. Pending completions are discarded.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		prev := State(c.state.Swap(int32(StateClosing)))
		c.cancel()
		err = c.socket.Close()

		purged := c.pending.Purge()
		if len(purged) > 0 {
			observability.AddPending(c.role.String(), -len(purged))
			c.log.Debug().Int("pending", len(purged)).Msg("session.conn discarded pending requests")
		}
		c.state.Store(int32(StateClosed))
		close(c.done)
		if prev == StateOpen {
			observability.AddActiveConnections(c.role.String(), -1)
		}
		c.log.Debug().Stringer("prev_state", prev).Msg("session.conn closed")
		if c.onClose != nil {
			c.onClose(c)
		}
	})
	return err
}
