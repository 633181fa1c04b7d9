package transport

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/danmuck/rconsole/internal/protocol/frame"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultWriteTimeout     = 15 * time.Second
)

type wsSocket struct {
	conn         *websocket.Conn
	writeMu      sync.Mutex
	writeTimeout time.Duration
	closeOnce    sync.Once
	closeErr     error
}

func newWSSocket(conn *websocket.Conn, writeTimeout time.Duration) *wsSocket {
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	// same cap as a TCP frame
	conn.SetReadLimit(int64(frame.DefaultLimits().MaxFrameBytes))
	return &wsSocket{conn: conn, writeTimeout: writeTimeout}
}

func (s *wsSocket) Send(ctx context.Context, msg []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	deadline := time.Now().Add(s.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := s.conn.SetWriteDeadline(deadline); err != nil {
		return wrapClosed(err)
	}
	return wrapClosed(s.conn.WriteMessage(websocket.BinaryMessage, msg))
}

// Receive returns the next binary message. Text messages are skipped.
func (s *wsSocket) Receive(ctx context.Context) ([]byte, error) {
	if d, ok := ctx.Deadline(); ok {
		_ = s.conn.SetReadDeadline(d)
	} else {
		_ = s.conn.SetReadDeadline(time.Time{})
	}
	for {
		typ, data, err := s.conn.ReadMessage()
		if err != nil {
			return nil, wrapClosed(err)
		}
		if typ != websocket.BinaryMessage {
			log.Debug().Str("remote", s.RemoteAddr()).Int("message_type", typ).Msg("transport.websocket skip non-binary message")
			continue
		}
		return data, nil
	}
}

func (s *wsSocket) Close() error {
	s.closeOnce.Do(func() {
		s.writeMu.Lock()
		_ = s.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		s.writeMu.Unlock()
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}

func (s *wsSocket) RemoteAddr() string {
	return s.conn.RemoteAddr().String()
}

func wrapClosed(err error) error {
	if err == nil {
		return nil
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) ||
		errors.Is(err, net.ErrClosed) || errors.Is(err, websocket.ErrCloseSent) {
		return errors.Join(ErrClosed, err)
	}
	return err
}

// WebSocketListener upgrades HTTP requests and hands the resulting sockets to
// Accept. Mount it on any router at the console path.
type WebSocketListener struct {
	upgrader     websocket.Upgrader
	addr         string
	writeTimeout time.Duration
	accepted     chan Socket
	done         chan struct{}
	closeOnce    sync.Once
}

func NewWebSocketListener(addr string, writeTimeout time.Duration) *WebSocketListener {
	return &WebSocketListener{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  32 * 1024,
			WriteBufferSize: 32 * 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		addr:         addr,
		writeTimeout: writeTimeout,
		accepted:     make(chan Socket),
		done:         make(chan struct{}),
	}
}

func (l *WebSocketListener) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	select {
	case <-l.done:
		http.Error(w, "console shutting down", http.StatusServiceUnavailable)
		return
	default:
	}
	conn, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("transport.websocket upgrade failed")
		return
	}
	sock := newWSSocket(conn, l.writeTimeout)
	select {
	case l.accepted <- sock:
	case <-l.done:
		_ = sock.Close()
	case <-r.Context().Done():
		_ = sock.Close()
	}
}

func (l *WebSocketListener) Accept(ctx context.Context) (Socket, error) {
	select {
	case sock := <-l.accepted:
		return sock, nil
	case <-l.done:
		return nil, ErrListenerClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *WebSocketListener) Addr() string {
	return l.addr
}

func (l *WebSocketListener) Close() error {
	l.closeOnce.Do(func() { close(l.done) })
	return nil
}

type WebSocketDialer struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
}

// Dial connects to a ws:// or wss:// URL.
func (d *WebSocketDialer) Dial(ctx context.Context, address string) (Socket, error) {
	timeout := d.HandshakeTimeout
	if timeout <= 0 {
		timeout = defaultHandshakeTimeout
	}
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: timeout,
	}
	conn, resp, err := dialer.DialContext(ctx, address, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return newWSSocket(conn, d.WriteTimeout), nil
}
