package agent

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/rconsole/internal/observability"
	"github.com/danmuck/rconsole/internal/protocol"
	"github.com/danmuck/rconsole/internal/protocol/session"
	"github.com/danmuck/rconsole/internal/transport"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	ErrServerAddressRequired = errors.New("agent: server address required")
	ErrNotConnected          = errors.New("agent: not connected")
)

type ClientConfig struct {
	ServerAddr string
	// Transport is "websocket" (ServerAddr is a ws:// URL) or "tcp"
	// (ServerAddr is host:port).
	Transport          string
	MaxConnectAttempts int
	PumpInterval       time.Duration
	Session            session.Config
}

func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		ServerAddr:   "ws://127.0.0.1:13337/remote-console",
		Transport:    transport.KindWebSocket,
		PumpInterval: 10 * time.Millisecond,
		Session:      session.DefaultConfig(),
	}
}

// Module is a set of handlers enabled while the client is connected.
type Module interface {
	Enable(c *Client)
	Disable(c *Client)
}

type Option func(*Client)

func WithDialer(d transport.Dialer) Option {
	return func(c *Client) { c.dialer = d }
}

func WithIdentity(src IdentitySource) Option {
	return func(c *Client) { c.identity = src }
}

func WithModules(mods ...Module) Option {
	return func(c *Client) { c.modules = append(c.modules, mods...) }
}

type Client struct {
	cfg      ClientConfig
	dialer   transport.Dialer
	identity IdentitySource
	registry *protocol.Registry
	handlers *session.Broadcast
	queue    *session.Queue
	modules  []Module
	rng      *rand.Rand
	log      zerolog.Logger

	mu      sync.RWMutex
	conn    *session.Conn
	enabled bool
}

func NewClient(cfg ClientConfig, opts ...Option) (*Client, error) {
	if strings.TrimSpace(cfg.ServerAddr) == "" {
		return nil, ErrServerAddressRequired
	}
	if cfg.PumpInterval <= 0 {
		cfg.PumpInterval = DefaultClientConfig().PumpInterval
	}
	cfg.Session = cfg.Session.WithDefaults()
	c := &Client{
		cfg:      cfg,
		registry: protocol.DefaultRegistry(),
		handlers: session.NewBroadcast(),
		queue:    session.NewQueue(),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		log:      observability.ComponentLogger("agent"),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.dialer == nil {
		d, err := transport.NewDialer(cfg.Transport)
		if err != nil {
			return nil, err
		}
		c.dialer = d
	}
	if c.identity == nil {
		c.identity = NewHostIdentity("", "")
	}
	return c, nil
}

func (c *Client) Registry() *protocol.Registry { return c.registry }
func (c *Client) Queue() *session.Queue        { return c.queue }

func (c *Client) On(kind protocol.Kind, sub protocol.SubKind, h session.Handler) session.HandlerID {
	return c.handlers.On(kind, sub, h)
}

func (c *Client) Off(kind protocol.Kind, sub protocol.SubKind, ids ...session.HandlerID) int {
	return c.handlers.Off(kind, sub, ids...)
}

// Connect dials the console, retrying with backoff, and starts the
// connection. Modules are enabled before the handshake is sent.
func (c *Client) Connect(ctx context.Context) error {
	if c.Connected() {
		return nil
	}
	var attempt int
	for {
		attempt++
		dialCtx, cancel := context.WithTimeout(ctx, c.cfg.Session.ConnectTimeout)
		sock, err := c.dialer.Dial(dialCtx, c.cfg.ServerAddr)
		cancel()
		if err == nil {
			return c.Attach(sock)
		}
		c.log.Warn().Err(err).Int("attempt", attempt).Str("addr", c.cfg.ServerAddr).Msg("agent.Connect dial failed")
		if !c.shouldRetry(attempt) {
			return fmt.Errorf("agent connect %s: %w", c.cfg.ServerAddr, err)
		}
		if err := c.sleepBackoff(ctx, attempt); err != nil {
			return err
		}
	}
}

// Attach runs the client over an already connected socket.
func (c *Client) Attach(sock transport.Socket) error {
	c.enableModules()
	info := c.identity.Identify()
	conn, err := session.NewConn(session.ConnOptions{
		ID:        uuid.NewString(),
		Role:      protocol.RoleClient,
		Socket:    sock,
		Registry:  c.registry,
		Handlers:  c.handlers,
		Queue:     c.queue,
		Config:    c.cfg.Session,
		Handshake: &info,
		OnClose:   c.onClose,
	})
	if err != nil {
		_ = sock.Close()
		return err
	}
	c.mu.Lock()
	prev := c.conn
	c.conn = conn
	c.mu.Unlock()
	if prev != nil {
		_ = prev.Close()
	}
	if err := conn.Start(context.Background()); err != nil {
		return err
	}
	c.log.Info().
		Str("addr", sock.RemoteAddr()).
		Str("session_id", info.SessionID.Value).
		Msg("agent connected")
	return nil
}

func (c *Client) onClose(conn *session.Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
	c.log.Info().Str("conn_id", conn.ID()).Msg("agent disconnected")
}

// Maintain keeps the client connected until ctx ends, reconnecting with
// backoff after the connection drops.
func (c *Client) Maintain(ctx context.Context) error {
	for {
		if err := c.Connect(ctx); err != nil {
			return err
		}
		// nil when the connection already dropped
		if conn := c.Conn(); conn != nil {
			select {
			case <-ctx.Done():
				return c.Disconnect()
			case <-conn.Done():
			}
		}
		if err := c.sleepBackoff(ctx, 1); err != nil {
			_ = c.Disconnect()
			return err
		}
	}
}

// Disconnect closes the connection and disables modules.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	var err error
	if conn != nil {
		err = conn.Close()
	}
	c.disableModules()
	return err
}

func (c *Client) Connected() bool {
	conn := c.Conn()
	return conn != nil && conn.State() == session.StateOpen
}

func (c *Client) Conn() *session.Conn {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn
}

func (c *Client) Send(kind protocol.Kind, sub protocol.SubKind, payload protocol.Payload) error {
	conn := c.Conn()
	if conn == nil {
		return ErrNotConnected
	}
	return conn.Send(kind, sub, payload)
}

func (c *Client) Request(kind protocol.Kind, sub protocol.SubKind, payload protocol.Payload, done session.Completion) (int32, error) {
	conn := c.Conn()
	if conn == nil {
		return 0, ErrNotConnected
	}
	return conn.Request(kind, sub, payload, done)
}

func (c *Client) SendLog(rec *protocol.LogRecord) error {
	return c.Send(protocol.KindLog, protocol.SubLog, rec)
}

// Update runs queued inbound work on the caller's goroutine.
func (c *Client) Update() int {
	return c.queue.Pump()
}

// Run pumps the dispatch queue until ctx ends.
func (c *Client) Run(ctx context.Context) error {
	return c.queue.Run(ctx, c.cfg.PumpInterval)
}

func (c *Client) enableModules() {
	c.mu.Lock()
	if c.enabled {
		c.mu.Unlock()
		return
	}
	c.enabled = true
	c.mu.Unlock()
	for _, m := range c.modules {
		m.Enable(c)
	}
}

func (c *Client) disableModules() {
	c.mu.Lock()
	if !c.enabled {
		c.mu.Unlock()
		return
	}
	c.enabled = false
	c.mu.Unlock()
	for _, m := range c.modules {
		m.Disable(c)
	}
}

func (c *Client) shouldRetry(attempt int) bool {
	if c.cfg.MaxConnectAttempts <= 0 {
		return true
	}
	return attempt < c.cfg.MaxConnectAttempts
}

func (c *Client) sleepBackoff(ctx context.Context, attempt int) error {
	delay := session.NextBackoffDelay(c.cfg.Session.Backoff, attempt, c.rng)
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
