package session

import (
	"sort"
	"sync"
	"time"

	"github.com/danmuck/rconsole/internal/protocol"
)

// Completion receives the decoded reply payload on the dispatch queue.
type Completion func(protocol.Payload)

// PendingRequest is an outstanding request awaiting its reply.
type PendingRequest struct {
	ID         int32
	Kind       protocol.Kind
	SubKind    protocol.SubKind
	CreatedAt  time.Time
	Deadline   time.Time // zero never expires
	Completion Completion
}

// PendingTable maps correlation ids to outstanding requests. Every entry is
// removed at most once, by Take, Expire or Purge.
type PendingTable struct {
	mu    sync.Mutex
	items map[int32]PendingRequest
}

func NewPendingTable() *PendingTable {
	return &PendingTable{items: make(map[int32]PendingRequest)}
}

// Add inserts req, replacing any entry with the same id.
func (t *PendingTable) Add(req PendingRequest) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, replaced := t.items[req.ID]
	t.items[req.ID] = req
	return replaced
}

func (t *PendingTable) Take(id int32) (PendingRequest, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	req, ok := t.items[id]
	if ok {
		delete(t.items, id)
	}
	return req, ok
}

// Expire removes and returns every request whose deadline is before now.
func (t *PendingTable) Expire(now time.Time) []PendingRequest {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []PendingRequest
	for id, req := range t.items {
		if req.Deadline.IsZero() || now.Before(req.Deadline) {
			continue
		}
		delete(t.items, id)
		out = append(out, req)
	}
	sortPending(out)
	return out
}

// Purge empties the table and returns what was removed.
func (t *PendingTable) Purge() []PendingRequest {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]PendingRequest, 0, len(t.items))
	for _, req := range t.items {
		out = append(out, req)
	}
	t.items = make(map[int32]PendingRequest)
	sortPending(out)
	return out
}

func (t *PendingTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.items)
}

func sortPending(reqs []PendingRequest) {
	sort.Slice(reqs, func(i, j int) bool { return reqs[i].ID < reqs[j].ID })
}
