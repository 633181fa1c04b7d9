package console

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/danmuck/rconsole/internal/observability"
	"github.com/danmuck/rconsole/internal/protocol"
	"github.com/danmuck/rconsole/internal/protocol/session"
	"github.com/danmuck/rconsole/internal/transport"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	ErrNotStarted        = errors.New("console: server not started")
	ErrNoSelection       = errors.New("console: no client selected")
	ErrUnknownConnection = errors.New("console: connection not found")
)

// Server multiplexes agent connections. Handlers registered with On are
// shared by every connection; a handler scopes itself through its *Conn.
type Server struct {
	cfg      session.Config
	registry *protocol.Registry
	handlers *session.Broadcast
	queue    *session.Queue
	roster   *Roster
	sinks    []Sink
	log      zerolog.Logger

	serving atomic.Int32

	mu    sync.RWMutex
	conns map[string]*session.Conn
	trees map[string]*FileTree
}

func NewServer(cfg session.Config, roster *Roster, sinks ...Sink) *Server {
	if roster == nil {
		roster = NewRoster(DefaultLogCapacity)
	}
	s := &Server{
		cfg:      cfg.WithDefaults(),
		registry: protocol.DefaultRegistry(),
		handlers: session.NewBroadcast(),
		queue:    session.NewQueue(),
		roster:   roster,
		sinks:    append([]Sink{roster}, sinks...),
		log:      observability.ComponentLogger("console"),
		conns:    make(map[string]*session.Conn),
		trees:    make(map[string]*FileTree),
	}
	s.handlers.On(protocol.KindHandshake, protocol.SubHandshake, session.HandlerFunc(s.onHandshake))
	s.handlers.On(protocol.KindLog, protocol.SubLog, session.HandlerFunc(s.onLog))
	return s
}

func (s *Server) Registry() *protocol.Registry { return s.registry }
func (s *Server) Queue() *session.Queue        { return s.queue }
func (s *Server) Roster() *Roster              { return s.roster }

// Started reports whether at least one listener is being served.
func (s *Server) Started() bool { return s.serving.Load() > 0 }

func (s *Server) On(kind protocol.Kind, sub protocol.SubKind, h session.Handler) session.HandlerID {
	return s.handlers.On(kind, sub, h)
}

func (s *Server) Off(kind protocol.Kind, sub protocol.SubKind, ids ...session.HandlerID) int {
	return s.handlers.Off(kind, sub, ids...)
}

// Serve accepts sockets from ln until ctx ends or ln is closed, then closes
// every connection it accepted.
func (s *Server) Serve(ctx context.Context, ln transport.Listener) error {
	s.serving.Add(1)
	defer s.serving.Add(-1)
	defer ln.Close()
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	s.log.Info().Str("addr", ln.Addr()).Msg("console.Serve accepting")
	for {
		sock, err := ln.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				s.CloseAll()
				return nil
			}
			if errors.Is(err, transport.ErrListenerClosed) {
				return nil
			}
			return err
		}
		if _, err := s.Accept(ctx, sock); err != nil {
			s.log.Warn().Err(err).Str("remote", sock.RemoteAddr()).Msg("console.Serve accept failed")
			_ = sock.Close()
		}
	}
}

// Accept wraps sock in a connection, registers and starts it.
func (s *Server) Accept(ctx context.Context, sock transport.Socket) (*session.Conn, error) {
	conn, err := session.NewConn(session.ConnOptions{
		ID:       uuid.NewString(),
		Role:     protocol.RoleServer,
		Socket:   sock,
		Registry: s.registry,
		Handlers: s.handlers,
		Queue:    s.queue,
		Config:   s.cfg,
		OnClose:  s.onClose,
	})
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.conns[conn.ID()] = conn
	s.trees[conn.ID()] = &FileTree{}
	s.mu.Unlock()

	// queued ahead of anything the read loop routes for this connection
	ident := conn.Identity()
	s.queue.Enqueue(func() {
		for _, sink := range s.sinks {
			sink.ClientConnected(ident)
		}
	})
	if err := conn.Start(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("start connection: %w", err)
	}
	s.log.Info().Str("conn_id", ident.ConnID).Str("remote", ident.Address).Msg("console client connected")
	return conn, nil
}

func (s *Server) onClose(c *session.Conn) {
	s.remove(c.ID())
	ident := c.Identity()
	s.log.Info().Str("conn_id", ident.ConnID).Str("client", ident.DisplayName()).Msg("console client disconnected")
	s.queue.Enqueue(func() {
		for _, sink := range s.sinks {
			sink.ClientDisconnected(ident)
		}
	})
}

func (s *Server) remove(id string) {
	s.mu.Lock()
	delete(s.conns, id)
	delete(s.trees, id)
	s.mu.Unlock()
}

func (s *Server) onHandshake(c *session.Conn, _ protocol.Envelope) (protocol.Payload, error) {
	ident := c.Identity()
	s.log.Info().
		Str("conn_id", ident.ConnID).
		Str("device", ident.Info.DeviceName.Value).
		Str("platform", ident.Info.Platform.Value).
		Str("app", ident.Info.AppName.Value).
		Str("app_version", ident.Info.AppVersion.Value).
		Str("session_id", ident.Info.SessionID.Value).
		Msg("console client handshake")
	for _, sink := range s.sinks {
		sink.ClientUpdated(ident)
	}
	return nil, nil
}

func (s *Server) onLog(c *session.Conn, env protocol.Envelope) (protocol.Payload, error) {
	rec, ok := env.Payload.(*protocol.LogRecord)
	if !ok {
		return nil, fmt.Errorf("%w: log payload %T", protocol.ErrPayloadMismatch, env.Payload)
	}
	ident := c.Identity()
	for _, sink := range s.sinks {
		sink.LogReceived(ident, *rec)
	}
	return nil, nil
}

func (s *Server) Connection(id string) (*session.Conn, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conns[id]
	return c, ok
}

// Connections returns open connections ordered by connect time.
func (s *Server) Connections() []*session.Conn {
	s.mu.RLock()
	out := make([]*session.Conn, 0, len(s.conns))
	for _, c := range s.conns {
		out = append(out, c)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Identity(), out[j].Identity()
		if a.ConnectedAt.Equal(b.ConnectedAt) {
			return a.ConnID < b.ConnID
		}
		return a.ConnectedAt.Before(b.ConnectedAt)
	})
	return out
}

// Target resolves a connection id, or the roster's selected client when id
// is empty.
func (s *Server) Target(id string) (*session.Conn, error) {
	if !s.Started() {
		return nil, ErrNotStarted
	}
	if id == "" {
		selected, ok := s.roster.Selected()
		if !ok {
			return nil, ErrNoSelection
		}
		id = selected
	}
	c, ok := s.Connection(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownConnection, id)
	}
	return c, nil
}

func (s *Server) tree(id string) *FileTree {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.trees[id]
}

// CloseAll closes every open connection.
func (s *Server) CloseAll() {
	for _, c := range s.Connections() {
		_ = c.Close()
	}
}
