package transport

import (
	"context"
	"errors"
	"net"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/rconsole/internal/protocol/frame"
	"github.com/danmuck/rconsole/internal/testutil/testlog"
	"github.com/gorilla/websocket"
)

func exchange(t *testing.T, client, server Socket) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.Send(ctx, []byte{7, 0, 0, 0, 6, 1}); err != nil {
		t.Fatalf("client send: %v", err)
	}
	got, err := server.Receive(ctx)
	if err != nil {
		t.Fatalf("server receive: %v", err)
	}
	if len(got) != 6 || got[0] != 7 || got[4] != 6 {
		t.Fatalf("unexpected message: %v", got)
	}
	if err := server.Send(ctx, []byte("reply")); err != nil {
		t.Fatalf("server send: %v", err)
	}
	reply, err := client.Receive(ctx)
	if err != nil || string(reply) != "reply" {
		t.Fatalf("client receive=%q err=%v", reply, err)
	}
}

func TestPipeDeliversAndCloses(t *testing.T) {
	testlog.Start(t)

	a, b := Pipe()
	exchange(t, a, b)

	_ = b.Close()
	if _, err := a.Receive(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed after peer close, got %v", err)
	}
	if err := a.Send(context.Background(), []byte("x")); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed on send, got %v", err)
	}
}

func TestTCPRoundTrip(t *testing.T) {
	testlog.Start(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	tl := NewTCPListener(ln)
	defer tl.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	accepted := make(chan Socket, 1)
	go func() {
		sock, err := tl.Accept(ctx)
		if err == nil {
			accepted <- sock
		}
	}()

	client, err := (&TCPDialer{}).Dial(ctx, tl.Addr())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	var server Socket
	select {
	case server = <-accepted:
	case <-ctx.Done():
		t.Fatalf("accept timed out")
	}
	defer server.Close()

	exchange(t, client, server)

	_ = client.Close()
	if _, err := server.Receive(ctx); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed after peer close, got %v", err)
	}
}

func TestWebSocketRoundTrip(t *testing.T) {
	testlog.Start(t)

	wl := NewWebSocketListener("test", time.Second)
	defer wl.Close()
	srv := httptest.NewServer(wl)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	accepted := make(chan Socket, 1)
	go func() {
		sock, err := wl.Accept(ctx)
		if err == nil {
			accepted <- sock
		}
	}()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, err := (&WebSocketDialer{}).Dial(ctx, url)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	var server Socket
	select {
	case server = <-accepted:
	case <-ctx.Done():
		t.Fatalf("accept timed out")
	}
	defer server.Close()

	exchange(t, client, server)
}

func TestWebSocketRejectsOversizedMessage(t *testing.T) {
	testlog.Start(t)

	wl := NewWebSocketListener("test", time.Second)
	defer wl.Close()
	srv := httptest.NewServer(wl)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	accepted := make(chan Socket, 1)
	go func() {
		sock, err := wl.Accept(ctx)
		if err == nil {
			accepted <- sock
		}
	}()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, err := (&WebSocketDialer{}).Dial(ctx, url)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	var server Socket
	select {
	case server = <-accepted:
	case <-ctx.Done():
		t.Fatalf("accept timed out")
	}
	defer server.Close()

	big := make([]byte, frame.DefaultLimits().MaxFrameBytes+1)
	go func() { _ = client.Send(ctx, big) }()

	if _, err := server.Receive(ctx); !errors.Is(err, websocket.ErrReadLimit) {
		t.Fatalf("expected ErrReadLimit, got %v", err)
	}
}

func TestWebSocketListenerCloseStopsAccept(t *testing.T) {
	testlog.Start(t)

	wl := NewWebSocketListener("test", 0)
	_ = wl.Close()
	if _, err := wl.Accept(context.Background()); !errors.Is(err, ErrListenerClosed) {
		t.Fatalf("expected ErrListenerClosed, got %v", err)
	}
}

func TestNewDialer(t *testing.T) {
	testlog.Start(t)

	if _, err := NewDialer("websocket"); err != nil {
		t.Fatalf("websocket dialer: %v", err)
	}
	if _, err := NewDialer("tcp"); err != nil {
		t.Fatalf("tcp dialer: %v", err)
	}
	if _, err := NewDialer("carrier-pigeon"); !errors.Is(err, ErrUnsupportedKind) {
		t.Fatalf("expected ErrUnsupportedKind, got %v", err)
	}
}
