package session

import (
	"errors"
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	"github.com/danmuck/rconsole/internal/protocol"
	"github.com/danmuck/rconsole/internal/protocol/wire"
	"github.com/danmuck/rconsole/internal/testutil/testlog"
)

func TestNextBackoffDelayDeterministicNoJitter(t *testing.T) {
	testlog.Start(t)
	cfg := BackoffConfig{
		InitialDelay: 250 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     5 * time.Second,
	}
	want := map[int]time.Duration{
		1: 250 * time.Millisecond,
		2: 500 * time.Millisecond,
		3: time.Second,
		6: 5 * time.Second,
	}
	for attempt, d := range want {
		if got := NextBackoffDelay(cfg, attempt, nil); got != d {
			t.Fatalf("attempt %d delay=%s want=%s", attempt, got, d)
		}
	}
}

func TestNextBackoffDelayJitterRange(t *testing.T) {
	testlog.Start(t)
	cfg := BackoffConfig{InitialDelay: 100 * time.Millisecond, Multiplier: 2.0, MaxDelay: time.Second, Jitter: true}
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 20; i++ {
		got := NextBackoffDelay(cfg, 3, rng)
		if got < 200*time.Millisecond || got > 600*time.Millisecond {
			t.Fatalf("jittered delay out of range: %s", got)
		}
	}
}

func TestConfigWithDefaults(t *testing.T) {
	testlog.Start(t)
	cfg := Config{RequestTimeout: -1}.WithDefaults()
	if cfg.RequestTimeout != -1 {
		t.Fatalf("negative request timeout should be kept, got %s", cfg.RequestTimeout)
	}
	if cfg.WriteTimeout != DefaultConfig().WriteTimeout || cfg.SweepInterval <= 0 {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
}

func TestPendingTableTakeOnce(t *testing.T) {
	testlog.Start(t)
	table := NewPendingTable()
	if table.Add(PendingRequest{ID: 1}) {
		t.Fatalf("first add should not replace")
	}
	if !table.Add(PendingRequest{ID: 1, Kind: protocol.KindFile}) {
		t.Fatalf("second add with same id should replace")
	}
	req, ok := table.Take(1)
	if !ok || req.Kind != protocol.KindFile {
		t.Fatalf("take=%+v ok=%v", req, ok)
	}
	if _, ok := table.Take(1); ok {
		t.Fatalf("second take should miss")
	}
}

func TestPendingTableExpireAndPurge(t *testing.T) {
	testlog.Start(t)
	now := time.Now()
	table := NewPendingTable()
	table.Add(PendingRequest{ID: 3, Deadline: now.Add(-time.Second)})
	table.Add(PendingRequest{ID: 1, Deadline: now.Add(-time.Millisecond)})
	table.Add(PendingRequest{ID: 2, Deadline: now.Add(time.Hour)})
	table.Add(PendingRequest{ID: 4})

	expired := table.Expire(now)
	if len(expired) != 2 || expired[0].ID != 1 || expired[1].ID != 3 {
		t.Fatalf("expired=%+v", expired)
	}
	if table.Len() != 2 {
		t.Fatalf("len=%d want=2", table.Len())
	}
	purged := table.Purge()
	if len(purged) != 2 || purged[0].ID != 2 || purged[1].ID != 4 || table.Len() != 0 {
		t.Fatalf("purged=%+v len=%d", purged, table.Len())
	}
}

func TestBroadcastOffByIDAndClear(t *testing.T) {
	testlog.Start(t)
	b := NewBroadcast()
	var calls atomic.Int32
	h := HandlerFunc(func(*Conn, protocol.Envelope) (protocol.Payload, error) {
		calls.Add(1)
		return nil, nil
	})
	a := b.On(protocol.KindLog, protocol.SubLog, h)
	b.On(protocol.KindLog, protocol.SubLog, h)
	b.On(protocol.KindLog, protocol.SubLog, h)

	env := protocol.Envelope{Kind: protocol.KindLog, SubKind: protocol.SubLog}
	b.Emit(nil, env)
	if calls.Load() != 3 {
		t.Fatalf("calls=%d want=3", calls.Load())
	}
	if n := b.Off(protocol.KindLog, protocol.SubLog, a); n != 1 {
		t.Fatalf("off by id removed %d", n)
	}
	b.Emit(nil, env)
	if calls.Load() != 5 {
		t.Fatalf("calls=%d want=5", calls.Load())
	}
	if n := b.Off(protocol.KindLog, protocol.SubLog); n != 2 {
		t.Fatalf("clear removed %d want=2", n)
	}
	if b.Has(protocol.KindLog, protocol.SubLog) {
		t.Fatalf("key should be empty")
	}
}

func TestBroadcastEmitRecoversPanics(t *testing.T) {
	testlog.Start(t)
	b := NewBroadcast()
	b.On(protocol.KindLookIn, protocol.SubLookIn, HandlerFunc(func(*Conn, protocol.Envelope) (protocol.Payload, error) {
		panic("handler bug")
	}))
	b.On(protocol.KindLookIn, protocol.SubLookIn, HandlerFunc(func(*Conn, protocol.Envelope) (protocol.Payload, error) {
		return nil, errors.New("handler error")
	}))
	b.On(protocol.KindLookIn, protocol.SubLookIn, HandlerFunc(func(*Conn, protocol.Envelope) (protocol.Payload, error) {
		return &protocol.HierarchyNode{Name: wire.Str("ok")}, nil
	}))

	out := b.Emit(nil, protocol.Envelope{Kind: protocol.KindLookIn, SubKind: protocol.SubLookIn})
	if len(out) != 1 || out[0].(*protocol.HierarchyNode).Name.Value != "ok" {
		t.Fatalf("emit results=%v", out)
	}
}

func TestQueuePumpFIFOIncludesReentrantItems(t *testing.T) {
	testlog.Start(t)
	q := NewQueue()
	var order []int
	q.Enqueue(func() {
		order = append(order, 1)
		q.Enqueue(func() { order = append(order, 3) })
	})
	q.Enqueue(func() { order = append(order, 2) })
	q.Enqueue(func() { panic("work item bug") })
	q.Enqueue(func() { order = append(order, 4) })

	if ran := q.Pump(); ran != 5 {
		t.Fatalf("ran=%d want=5", ran)
	}
	if len(order) != 4 || order[0] != 1 || order[1] != 2 || order[2] != 4 || order[3] != 3 {
		t.Fatalf("order=%v", order)
	}
	if q.Len() != 0 || q.Pump() != 0 {
		t.Fatalf("queue should be empty")
	}
}
