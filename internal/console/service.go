package console

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/danmuck/rconsole/internal/observability"
	"github.com/danmuck/rconsole/internal/protocol/session"
	"github.com/danmuck/rconsole/internal/transport"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// ServiceConfig configures the console daemon.
type ServiceConfig struct {
	Name          string
	ListenAddr    string
	SocketPath    string
	TCPListenAddr string
	CorsOrigins   []string
	AdminToken    string
	LogCapacity   int
	PumpInterval  time.Duration
	Session       session.Config
}

func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		Name:         "rconsole",
		ListenAddr:   ":13337",
		SocketPath:   "/remote-console",
		LogCapacity:  DefaultLogCapacity,
		PumpInterval: 10 * time.Millisecond,
		Session:      session.DefaultConfig(),
	}
}

func (c ServiceConfig) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("console config missing name")
	}
	if strings.TrimSpace(c.ListenAddr) == "" {
		return fmt.Errorf("console config missing listen_addr")
	}
	if !strings.HasPrefix(c.SocketPath, "/") {
		return fmt.Errorf("console socket path must start with '/': %q", c.SocketPath)
	}
	if c.LogCapacity < 0 {
		return fmt.Errorf("console log capacity must not be negative")
	}
	return nil
}

// Service runs the console server behind an HTTP listener that serves both
// the admin API and the agent websocket endpoint.
type Service struct {
	cfg    ServiceConfig
	server *Server
	socket *transport.WebSocketListener
	router *gin.Engine
	log    zerolog.Logger
}

func NewService() *Service {
	return NewServiceWithConfig(DefaultServiceConfig())
}

func NewServiceWithConfig(cfg ServiceConfig) *Service {
	def := DefaultServiceConfig()
	if strings.TrimSpace(cfg.ListenAddr) == "" {
		cfg.ListenAddr = def.ListenAddr
	}
	if strings.TrimSpace(cfg.SocketPath) == "" {
		cfg.SocketPath = def.SocketPath
	}
	if strings.TrimSpace(cfg.Name) == "" {
		cfg.Name = def.Name
	}
	if cfg.PumpInterval <= 0 {
		cfg.PumpInterval = def.PumpInterval
	}
	cfg.Session = cfg.Session.WithDefaults()

	srv := NewServer(cfg.Session, NewRoster(cfg.LogCapacity))
	socket := transport.NewWebSocketListener(cfg.ListenAddr+cfg.SocketPath, cfg.Session.WriteTimeout)
	return &Service{
		cfg:    cfg,
		server: srv,
		socket: socket,
		router: NewRouter(cfg.Name, srv, cfg.SocketPath, socket, cfg.CorsOrigins, cfg.AdminToken),
		log:    observability.ComponentLogger("console"),
	}
}

func (s *Service) Server() *Server       { return s.server }
func (s *Service) Router() http.Handler  { return s.router }
func (s *Service) Config() ServiceConfig { return s.cfg }

// Run listens on the configured address and blocks until SIGINT/SIGTERM.
func (s *Service) Run() error {
	if err := s.cfg.Validate(); err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return err
	}
	for _, ip := range LocalIPv4Addresses() {
		s.log.Info().Str("url", fmt.Sprintf("ws://%s:%d%s", ip, portOf(ln.Addr()), s.cfg.SocketPath)).Msg("console.Service.Run agent endpoint")
	}
	return s.Serve(ctx, ln)
}

// Serve runs the HTTP server on ln, the agent accept loops and the dispatch
// pump until ctx ends.
func (s *Service) Serve(ctx context.Context, ln net.Listener) error {
	var tl *transport.TCPListener
	if addr := strings.TrimSpace(s.cfg.TCPListenAddr); addr != "" {
		var err error
		if tl, err = transport.ListenTCP(addr); err != nil {
			_ = ln.Close()
			return fmt.Errorf("console tcp listen: %w", err)
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() { _ = s.server.Queue().Run(ctx, s.cfg.PumpInterval) }()

	errs := make(chan error, 3)
	go func() { errs <- s.server.Serve(ctx, s.socket) }()

	if tl != nil {
		s.log.Info().Str("addr", tl.Addr()).Msg("console.Service.Serve tcp agents")
		go func() { errs <- s.server.Serve(ctx, tl) }()
	}

	httpSrv := &http.Server{Handler: s.router, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		_ = httpSrv.Shutdown(shutdownCtx)
	}()
	s.log.Info().Str("addr", ln.Addr().String()).Str("socket_path", s.cfg.SocketPath).Msg("console.Service.Serve listening")

	go func() {
		if err := httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- err
			return
		}
		errs <- nil
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errs:
		if err != nil {
			return err
		}
		<-ctx.Done()
		return nil
	}
}

func portOf(addr net.Addr) int {
	if tcp, ok := addr.(*net.TCPAddr); ok {
		return tcp.Port
	}
	return 0
}
