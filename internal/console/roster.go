package console

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/rconsole/internal/protocol"
	"github.com/danmuck/rconsole/internal/protocol/session"
)

const DefaultLogCapacity = 5000

// ClientView is the roster's record of one connected client.
type ClientView struct {
	ConnID      string    `json:"conn_id"`
	Address     string    `json:"address"`
	ConnectedAt time.Time `json:"connected_at"`
	Handshaken  bool      `json:"handshaken"`
	DeviceName  string    `json:"device_name,omitempty"`
	DeviceModel string    `json:"device_model,omitempty"`
	DeviceID    string    `json:"device_id,omitempty"`
	Platform    string    `json:"platform,omitempty"`
	AppName     string    `json:"app_name,omitempty"`
	AppVersion  string    `json:"app_version,omitempty"`
	SessionID   string    `json:"session_id,omitempty"`
	LogCount    int       `json:"log_count"`
	Selected    bool      `json:"selected"`
}

func clientViewOf(id session.Identity) ClientView {
	return ClientView{
		ConnID:      id.ConnID,
		Address:     id.Address,
		ConnectedAt: id.ConnectedAt,
		Handshaken:  id.Handshaken,
		DeviceName:  id.Info.DeviceName.Value,
		DeviceModel: id.Info.DeviceModel.Value,
		DeviceID:    id.Info.DeviceID.Value,
		Platform:    id.Info.Platform.Value,
		AppName:     id.Info.AppName.Value,
		AppVersion:  id.Info.AppVersion.Value,
		SessionID:   id.Info.SessionID.Value,
	}
}

// LogEntry is one log record as kept by the roster.
type LogEntry struct {
	Seq        uint64    `json:"seq"`
	ConnID     string    `json:"conn_id"`
	Client     string    `json:"client"`
	Timestamp  time.Time `json:"timestamp"`
	Level      string    `json:"level"`
	Tag        string    `json:"tag,omitempty"`
	Message    string    `json:"message"`
	StackTrace string    `json:"stack_trace,omitempty"`
	ThreadID   int32     `json:"thread_id"`
}

// LogQuery filters Logs. Zero values match everything.
type LogQuery struct {
	ConnID string
	Level  string
	Search string
	Limit  int
}

// Roster is the default Sink: connected clients, the selected client and a
// bounded log history where the oldest entries are dropped first.
type Roster struct {
	mu       sync.RWMutex
	clients  map[string]*ClientView
	selected string

	logs  []LogEntry
	head  int
	count int
	seq   uint64
}

var _ Sink = (*Roster)(nil)

func NewRoster(capacity int) *Roster {
	if capacity <= 0 {
		capacity = DefaultLogCapacity
	}
	return &Roster{
		clients: make(map[string]*ClientView),
		logs:    make([]LogEntry, capacity),
	}
}

func (r *Roster) ClientConnected(id session.Identity) {
	r.upsert(id)
}

func (r *Roster) ClientUpdated(id session.Identity) {
	r.upsert(id)
}

func (r *Roster) upsert(id session.Identity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	view := clientViewOf(id)
	if prev, ok := r.clients[id.ConnID]; ok {
		if prev.Handshaken && !view.Handshaken {
			return
		}
		view.LogCount = prev.LogCount
	}
	r.clients[id.ConnID] = &view
}

func (r *Roster) ClientDisconnected(id session.Identity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, id.ConnID)
	if r.selected == id.ConnID {
		r.selected = ""
	}
}

func (r *Roster) LogReceived(id session.Identity, rec protocol.LogRecord) {
	entry := LogEntry{
		ConnID:     id.ConnID,
		Client:     id.DisplayName(),
		Timestamp:  time.UnixMilli(rec.Timestamp),
		Level:      rec.Level.String(),
		Tag:        rec.Tag.Value,
		Message:    rec.Message.Value,
		StackTrace: rec.StackTrace.Value,
		ThreadID:   rec.ThreadID,
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	entry.Seq = r.seq
	capacity := len(r.logs)
	if r.count < capacity {
		r.logs[(r.head+r.count)%capacity] = entry
		r.count++
	} else {
		r.logs[r.head] = entry
		r.head = (r.head + 1) % capacity
	}
	if view, ok := r.clients[id.ConnID]; ok {
		view.LogCount++
	}
}

// Clients returns connected clients ordered by connect time.
func (r *Roster) Clients() []ClientView {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ClientView, 0, len(r.clients))
	for _, v := range r.clients {
		view := *v
		view.Selected = v.ConnID == r.selected
		out = append(out, view)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ConnectedAt.Equal(out[j].ConnectedAt) {
			return out[i].ConnID < out[j].ConnID
		}
		return out[i].ConnectedAt.Before(out[j].ConnectedAt)
	})
	return out
}

func (r *Roster) Client(connID string) (ClientView, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.clients[connID]
	if !ok {
		return ClientView{}, false
	}
	view := *v
	view.Selected = connID == r.selected
	return view, true
}

// Select makes connID the default target for requests.
func (r *Roster) Select(connID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.clients[connID]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownConnection, connID)
	}
	r.selected = connID
	return nil
}

func (r *Roster) Selected() (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.selected, r.selected != ""
}

// Logs returns matching entries, oldest first. A positive Limit keeps the
// newest Limit matches.
func (r *Roster) Logs(q LogQuery) []LogEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	level := strings.ToLower(strings.TrimSpace(q.Level))
	search := strings.ToLower(q.Search)
	capacity := len(r.logs)
	out := make([]LogEntry, 0, r.count)
	for i := 0; i < r.count; i++ {
		e := r.logs[(r.head+i)%capacity]
		if q.ConnID != "" && e.ConnID != q.ConnID {
			continue
		}
		if level != "" && e.Level != level {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(e.Message), search) && !strings.Contains(strings.ToLower(e.Tag), search) {
			continue
		}
		out = append(out, e)
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[len(out)-q.Limit:]
	}
	return out
}

func (r *Roster) LogCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}

// ClearLogs drops the whole history and returns how many entries it held.
func (r *Roster) ClearLogs() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := r.count
	r.head, r.count = 0, 0
	for id := range r.clients {
		r.clients[id].LogCount = 0
	}
	return n
}
