package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/danmuck/rconsole/internal/protocol"
	"github.com/danmuck/rconsole/internal/protocol/wire"
	"github.com/danmuck/rconsole/internal/testutil/testlog"
	"github.com/danmuck/rconsole/internal/transport"
)

func TestFetchDirectoryRoundTrip(t *testing.T) {
	testlog.Start(t)

	serverSock, clientSock := transport.Pipe()
	server := newEndpoint(t, "srv", protocol.RoleServer, serverSock, testConfig(), nil)
	client := newEndpoint(t, "cli", protocol.RoleClient, clientSock, testConfig(), nil)
	runQueue(t, server.queue)
	runQueue(t, client.queue)

	var seenID atomic.Int32
	client.handlers.On(protocol.KindFile, protocol.SubFetchDirectory, HandlerFunc(func(c *Conn, env protocol.Envelope) (protocol.Payload, error) {
		seenID.Store(env.ID)
		req := env.Payload.(*protocol.FileNode)
		return &protocol.FileNode{
			Path:        req.Path,
			IsDirectory: true,
			Children: []*protocol.FileNode{
				{Name: wire.Str("a.txt"), Path: wire.Str("/data/a.txt"), Length: 3},
				{Name: wire.Str("b.txt"), Path: wire.Str("/data/b.txt"), Length: 5},
			},
		}, nil
	}))

	ctx := context.Background()
	if err := server.conn.Start(ctx); err != nil {
		t.Fatalf("server start: %v", err)
	}
	if err := client.conn.Start(ctx); err != nil {
		t.Fatalf("client start: %v", err)
	}
	defer server.conn.Close()

	var calls atomic.Int32
	replies := make(chan *protocol.FileNode, 2)
	id, err := server.conn.Request(protocol.KindFile, protocol.SubFetchDirectory,
		&protocol.FileNode{Path: wire.Str("/data")},
		func(p protocol.Payload) {
			calls.Add(1)
			replies <- p.(*protocol.FileNode)
		})
	if err != nil {
		t.Fatalf("request: %v", err)
	}

	select {
	case got := <-replies:
		if len(got.Children) != 2 || got.Children[1].Length != 5 {
			t.Fatalf("unexpected reply: %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no reply")
	}
	if seenID.Load() != id {
		t.Fatalf("client saw id=%d want=%d", seenID.Load(), id)
	}
	waitFor(t, "pending drained", func() bool { return server.conn.PendingCount() == 0 })
	time.Sleep(20 * time.Millisecond)
	if calls.Load() != 1 {
		t.Fatalf("completion calls=%d want=1", calls.Load())
	}
}

func TestConcurrentRequestsRouteToOwnCompletion(t *testing.T) {
	testlog.Start(t)

	serverSock, peerSock := transport.Pipe()
	server := newEndpoint(t, "srv", protocol.RoleServer, serverSock, testConfig(), nil)
	runQueue(t, server.queue)
	if err := server.conn.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer server.conn.Close()
	peer := newRawPeer(t, peerSock, protocol.RoleClient)

	const n = 16
	var mu sync.Mutex
	got := make(map[string]int)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		path := fmt.Sprintf("/node/%d", i)
		go func() {
			defer wg.Done()
			_, err := server.conn.Request(protocol.KindLookIn, protocol.SubLookIn,
				&protocol.Text{Value: wire.Str(path)},
				func(p protocol.Payload) {
					node := p.(*protocol.HierarchyNode)
					mu.Lock()
					got[path+"=>"+node.Path.Value]++
					mu.Unlock()
				})
			if err != nil {
				t.Errorf("request %s: %v", path, err)
			}
		}()
	}
	wg.Wait()

	requests := make([]protocol.Envelope, 0, n)
	for i := 0; i < n; i++ {
		requests = append(requests, peer.recv())
	}
	for i := len(requests) - 1; i >= 0; i-- {
		req := requests[i]
		peer.send(protocol.Envelope{
			ID: req.ID, Kind: req.Kind, SubKind: req.SubKind,
			Payload: &protocol.HierarchyNode{Path: req.Payload.(*protocol.Text).Value},
		})
	}

	waitFor(t, "all completions", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == n
	})
	mu.Lock()
	defer mu.Unlock()
	for key, count := range got {
		if count != 1 {
			t.Fatalf("completion %s ran %d times", key, count)
		}
	}
	for i := 0; i < n; i++ {
		path := fmt.Sprintf("/node/%d", i)
		if got[path+"=>"+path] != 1 {
			t.Fatalf("request %s was not completed with its own reply: %v", path, got)
		}
	}
}

func TestBroadcastRepliesPerNonNilResult(t *testing.T) {
	testlog.Start(t)

	clientSock, peerSock := transport.Pipe()
	client := newEndpoint(t, "cli", protocol.RoleClient, clientSock, testConfig(), nil)
	runQueue(t, client.queue)

	var order []string
	var mu sync.Mutex
	mark := func(name string) {
		mu.Lock()
		order = append(order, name)
		mu.Unlock()
	}
	client.handlers.On(protocol.KindLookIn, protocol.SubLookIn, HandlerFunc(func(*Conn, protocol.Envelope) (protocol.Payload, error) {
		mark("first")
		return &protocol.HierarchyNode{Name: wire.Str("A")}, nil
	}))
	client.handlers.On(protocol.KindLookIn, protocol.SubLookIn, HandlerFunc(func(*Conn, protocol.Envelope) (protocol.Payload, error) {
		mark("second")
		return nil, nil
	}))
	client.handlers.On(protocol.KindLookIn, protocol.SubLookIn, HandlerFunc(func(*Conn, protocol.Envelope) (protocol.Payload, error) {
		mark("third")
		return nil, errors.New("boom")
	}))
	client.handlers.On(protocol.KindLookIn, protocol.SubLookIn, HandlerFunc(func(*Conn, protocol.Envelope) (protocol.Payload, error) {
		mark("fourth")
		return &protocol.HierarchyNode{Name: wire.Str("B")}, nil
	}))

	if err := client.conn.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer client.conn.Close()
	peer := newRawPeer(t, peerSock, protocol.RoleServer)

	peer.send(protocol.Envelope{ID: 42, Kind: protocol.KindLookIn, SubKind: protocol.SubLookIn, Payload: &protocol.Text{Value: wire.Str("/")}})

	first := peer.recv()
	second := peer.recv()
	if first.ID != 42 || second.ID != 42 || !first.IsResponse || !second.IsResponse {
		t.Fatalf("replies should reuse id 42: first=%+v second=%+v", first, second)
	}
	if first.Payload.(*protocol.HierarchyNode).Name.Value != "A" || second.Payload.(*protocol.HierarchyNode).Name.Value != "B" {
		t.Fatalf("replies out of registration order")
	}
	mu.Lock()
	defer mu.Unlock()
	if fmt.Sprint(order) != "[first second third fourth]" {
		t.Fatalf("handler order=%v", order)
	}
}

func TestUndecodableEnvelopesAreDroppedConnectionSurvives(t *testing.T) {
	testlog.Start(t)

	serverSock, peerSock := transport.Pipe()
	server := newEndpoint(t, "srv", protocol.RoleServer, serverSock, testConfig(), nil)
	runQueue(t, server.queue)

	logs := make(chan string, 1)
	server.handlers.On(protocol.KindLog, protocol.SubLog, HandlerFunc(func(_ *Conn, env protocol.Envelope) (protocol.Payload, error) {
		logs <- env.Payload.(*protocol.LogRecord).Message.Value
		return nil, nil
	}))
	if err := server.conn.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer server.conn.Close()
	peer := newRawPeer(t, peerSock, protocol.RoleClient)

	peer.sendBytes([]byte{1, 0, 0, 0, 99, 1})          // unknown kind
	peer.sendBytes([]byte{2, 0, 0, 0, 2, 1, 0xff, 0x00}) // truncated log record
	peer.sendBytes([]byte{3, 0})                         // short header
	peer.send(protocol.Envelope{ID: 4, Kind: protocol.KindLog, SubKind: protocol.SubLog, Payload: &protocol.LogRecord{Message: wire.Str("still here")}})

	select {
	case msg := <-logs:
		if msg != "still here" {
			t.Fatalf("unexpected log message %q", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("valid envelope after garbage was not delivered")
	}
	if server.conn.State() != StateOpen {
		t.Fatalf("connection state=%s want open", server.conn.State())
	}
}

func TestCloseDiscardsPendingCompletions(t *testing.T) {
	testlog.Start(t)

	serverSock, peerSock := transport.Pipe()
	server := newEndpoint(t, "srv", protocol.RoleServer, serverSock, testConfig(), nil)
	runQueue(t, server.queue)

	var closed atomic.Bool
	server.conn.onClose = func(*Conn) { closed.Store(true) }
	if err := server.conn.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	peer := newRawPeer(t, peerSock, protocol.RoleClient)

	var invoked atomic.Int32
	for i := 0; i < 3; i++ {
		if _, err := server.conn.Request(protocol.KindFile, protocol.SubMD5, &protocol.FileNode{}, func(protocol.Payload) {
			invoked.Add(1)
		}); err != nil {
			t.Fatalf("request: %v", err)
		}
	}
	req := peer.recv()
	if server.conn.PendingCount() != 3 {
		t.Fatalf("pending=%d want=3", server.conn.PendingCount())
	}

	if err := server.conn.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if server.conn.State() != StateClosed || !closed.Load() {
		t.Fatalf("close hook or state not applied: state=%s", server.conn.State())
	}
	if server.conn.PendingCount() != 0 {
		t.Fatalf("pending not purged")
	}

	// a reply racing teardown must not reach the discarded completion
	server.conn.route(protocol.Envelope{ID: req.ID, Kind: req.Kind, SubKind: req.SubKind, IsResponse: true, Payload: &protocol.FileNode{}})
	server.queue.Pump()
	if invoked.Load() != 0 {
		t.Fatalf("completion invoked %d times after close", invoked.Load())
	}
	if _, err := server.conn.Request(protocol.KindFile, protocol.SubMD5, &protocol.FileNode{}, nil); !errors.Is(err, ErrConnClosed) {
		t.Fatalf("expected ErrConnClosed, got %v", err)
	}
	select {
	case <-server.conn.Done():
	default:
		t.Fatalf("done channel not closed")
	}
}

func TestExpiredRequestIgnoresLateReply(t *testing.T) {
	testlog.Start(t)

	cfg := testConfig()
	cfg.RequestTimeout = 20 * time.Millisecond
	cfg.SweepInterval = 5 * time.Millisecond

	serverSock, peerSock := transport.Pipe()
	server := newEndpoint(t, "srv", protocol.RoleServer, serverSock, cfg, nil)
	runQueue(t, server.queue)
	if err := server.conn.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer server.conn.Close()
	peer := newRawPeer(t, peerSock, protocol.RoleClient)

	var invoked atomic.Bool
	if _, err := server.conn.Request(protocol.KindLookIn, protocol.SubLookIn, &protocol.Text{Value: wire.Str("/")}, func(protocol.Payload) {
		invoked.Store(true)
	}); err != nil {
		t.Fatalf("request: %v", err)
	}
	req := peer.recv()
	waitFor(t, "request expiry", func() bool { return server.conn.PendingCount() == 0 })

	peer.send(protocol.Envelope{ID: req.ID, Kind: req.Kind, SubKind: req.SubKind, Payload: &protocol.HierarchyNode{}})
	time.Sleep(30 * time.Millisecond)
	if invoked.Load() {
		t.Fatalf("late reply reached an expired completion")
	}
	if server.conn.State() != StateOpen {
		t.Fatalf("late reply should not close the connection")
	}
}

func TestHandshakeRefreshesIdentity(t *testing.T) {
	testlog.Start(t)

	serverSock, clientSock := transport.Pipe()
	server := newEndpoint(t, "srv", protocol.RoleServer, serverSock, testConfig(), nil)
	info := &protocol.ClientInfo{DeviceName: wire.Str("bench-01"), Platform: wire.Str("linux"), SessionID: wire.Str("s-9")}
	client := newEndpoint(t, "cli", protocol.RoleClient, clientSock, testConfig(), info)
	runQueue(t, server.queue)
	runQueue(t, client.queue)

	var handshakes atomic.Int32
	server.handlers.On(protocol.KindHandshake, protocol.SubHandshake, HandlerFunc(func(c *Conn, env protocol.Envelope) (protocol.Payload, error) {
		handshakes.Add(1)
		return nil, nil
	}))

	if err := server.conn.Start(context.Background()); err != nil {
		t.Fatalf("server start: %v", err)
	}
	if err := client.conn.Start(context.Background()); err != nil {
		t.Fatalf("client start: %v", err)
	}
	defer client.conn.Close()

	waitFor(t, "handshake", func() bool { return server.conn.Identity().Handshaken })
	id := server.conn.Identity()
	if id.Info != *info || id.DisplayName() != "bench-01" || id.ConnID != "srv" {
		t.Fatalf("identity=%+v", id)
	}
	waitFor(t, "handshake handler", func() bool { return handshakes.Load() == 1 })
}

func TestCallReturnsReplyOrTimeout(t *testing.T) {
	testlog.Start(t)

	cfg := testConfig()
	cfg.RequestTimeout = 50 * time.Millisecond

	serverSock, clientSock := transport.Pipe()
	server := newEndpoint(t, "srv", protocol.RoleServer, serverSock, cfg, nil)
	client := newEndpoint(t, "cli", protocol.RoleClient, clientSock, cfg, nil)
	runQueue(t, server.queue)
	runQueue(t, client.queue)

	client.handlers.On(protocol.KindFile, protocol.SubMD5, HandlerFunc(func(_ *Conn, env protocol.Envelope) (protocol.Payload, error) {
		req := env.Payload.(*protocol.FileNode)
		return &protocol.FileNode{Path: req.Path, MD5: wire.Str("D41D8CD98F00B204E9800998ECF8427E")}, nil
	}))

	ctx := context.Background()
	if err := server.conn.Start(ctx); err != nil {
		t.Fatalf("server start: %v", err)
	}
	if err := client.conn.Start(ctx); err != nil {
		t.Fatalf("client start: %v", err)
	}
	defer server.conn.Close()

	reply, err := server.conn.Call(ctx, protocol.KindFile, protocol.SubMD5, &protocol.FileNode{Path: wire.Str("/empty")})
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if reply.(*protocol.FileNode).MD5.Value != "D41D8CD98F00B204E9800998ECF8427E" {
		t.Fatalf("unexpected md5 reply: %+v", reply)
	}

	if _, err := server.conn.Call(ctx, protocol.KindFile, protocol.SubDownload, &protocol.FileNode{Path: wire.Str("/none")}); !errors.Is(err, ErrRequestTimeout) {
		t.Fatalf("expected ErrRequestTimeout for unanswered call, got %v", err)
	}
	if server.conn.PendingCount() != 0 {
		t.Fatalf("timed out call left a pending entry")
	}
}

func TestPeerCloseClosesConn(t *testing.T) {
	testlog.Start(t)

	serverSock, peerSock := transport.Pipe()
	server := newEndpoint(t, "srv", protocol.RoleServer, serverSock, testConfig(), nil)
	if err := server.conn.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	_ = peerSock.Close()
	select {
	case <-server.conn.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("conn did not close after transport close")
	}
	if err := server.conn.Start(context.Background()); !errors.Is(err, ErrConnStarted) {
		t.Fatalf("restart should fail, got %v", err)
	}
}

func TestContextCancelClosesConn(t *testing.T) {
	testlog.Start(t)

	serverSock, _ := transport.Pipe()
	server := newEndpoint(t, "srv", protocol.RoleServer, serverSock, testConfig(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	if err := server.conn.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	cancel()
	select {
	case <-server.conn.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("conn did not close after context cancel")
	}
}
