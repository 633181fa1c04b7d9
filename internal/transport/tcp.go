package transport

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/danmuck/rconsole/internal/protocol/frame"
)

type tcpSocket struct {
	conn      net.Conn
	reader    *bufio.Reader
	limits    frame.Limits
	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func newTCPSocket(conn net.Conn, limits frame.Limits) *tcpSocket {
	return &tcpSocket{conn: conn, reader: bufio.NewReader(conn), limits: limits}
}

func (s *tcpSocket) Send(ctx context.Context, msg []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	deadline := time.Time{}
	if d, ok := ctx.Deadline(); ok {
		deadline = d
	}
	if err := s.conn.SetWriteDeadline(deadline); err != nil {
		return tcpErr(err)
	}
	return tcpErr(frame.WriteFrame(s.conn, msg, s.limits))
}

func (s *tcpSocket) Receive(ctx context.Context) ([]byte, error) {
	deadline := time.Time{}
	if d, ok := ctx.Deadline(); ok {
		deadline = d
	}
	if err := s.conn.SetReadDeadline(deadline); err != nil {
		return nil, tcpErr(err)
	}
	msg, err := frame.ReadFrame(s.reader, s.limits)
	if err != nil {
		return nil, tcpErr(err)
	}
	return msg, nil
}

func (s *tcpSocket) Close() error {
	s.closeOnce.Do(func() { s.closeErr = s.conn.Close() })
	return s.closeErr
}

func (s *tcpSocket) RemoteAddr() string {
	return s.conn.RemoteAddr().String()
}

func tcpErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return errors.Join(ErrClosed, err)
	}
	return err
}

// TCPListener accepts stream connections carrying length-prefixed envelopes.
type TCPListener struct {
	ln     net.Listener
	limits frame.Limits
}

func ListenTCP(addr string) (*TCPListener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return NewTCPListener(ln), nil
}

func NewTCPListener(ln net.Listener) *TCPListener {
	return &TCPListener{ln: ln, limits: frame.DefaultLimits()}
}

func (l *TCPListener) Accept(ctx context.Context) (Socket, error) {
	type result struct {
		conn net.Conn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		conn, err := l.ln.Accept()
		ch <- result{conn: conn, err: err}
	}()
	select {
	case res := <-ch:
		if res.err != nil {
			if errors.Is(res.err, net.ErrClosed) {
				return nil, ErrListenerClosed
			}
			return nil, res.err
		}
		return newTCPSocket(res.conn, l.limits), nil
	case <-ctx.Done():
		go func() {
			if res := <-ch; res.conn != nil {
				_ = res.conn.Close()
			}
		}()
		return nil, ctx.Err()
	}
}

func (l *TCPListener) Addr() string {
	return l.ln.Addr().String()
}

func (l *TCPListener) Close() error {
	return l.ln.Close()
}

type TCPDialer struct {
	Timeout time.Duration
}

func (d *TCPDialer) Dial(ctx context.Context, address string) (Socket, error) {
	nd := net.Dialer{Timeout: d.Timeout}
	conn, err := nd.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}
	return newTCPSocket(conn, frame.DefaultLimits()), nil
}
