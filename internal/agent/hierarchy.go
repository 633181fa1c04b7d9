package agent

import (
	"fmt"
	"runtime"
	"strings"
	"sync"

	"github.com/danmuck/rconsole/internal/protocol"
	"github.com/danmuck/rconsole/internal/protocol/session"
	"github.com/danmuck/rconsole/internal/protocol/wire"
)

// HierarchySource produces the current object tree of the host application.
type HierarchySource interface {
	Hierarchy() *protocol.HierarchyNode
}

type HierarchyFunc func() *protocol.HierarchyNode

func (f HierarchyFunc) Hierarchy() *protocol.HierarchyNode { return f() }

// HierarchyModule answers look-in requests from Source.
type HierarchyModule struct {
	Source HierarchySource

	id session.HandlerID
}

func NewHierarchyModule(src HierarchySource) *HierarchyModule {
	if src == nil {
		src = RuntimeHierarchy{}
	}
	return &HierarchyModule{Source: src}
}

func (m *HierarchyModule) Enable(c *Client) {
	m.id = c.On(protocol.KindLookIn, protocol.SubLookIn, session.HandlerFunc(m.lookIn))
}

func (m *HierarchyModule) Disable(c *Client) {
	if m.id == 0 {
		return
	}
	c.Off(protocol.KindLookIn, protocol.SubLookIn, m.id)
	m.id = 0
}

func (m *HierarchyModule) lookIn(_ *session.Conn, env protocol.Envelope) (protocol.Payload, error) {
	req, ok := env.Payload.(*protocol.Text)
	if !ok {
		return nil, fmt.Errorf("%w: look-in request %T", protocol.ErrPayloadMismatch, env.Payload)
	}
	return FindNode(m.Source.Hierarchy(), req.Value.Value), nil
}

// FindNode walks root by slash-separated names. "" and "/" select root. A
// path that matches nothing yields an inactive node named by the path.
func FindNode(root *protocol.HierarchyNode, p string) *protocol.HierarchyNode {
	trimmed := strings.Trim(p, "/")
	if root != nil && trimmed == "" {
		return root
	}
	if root != nil {
		node := root
		for _, seg := range strings.Split(trimmed, "/") {
			node = childNamed(node, seg)
			if node == nil {
				break
			}
		}
		if node != nil {
			return node
		}
	}
	return &protocol.HierarchyNode{Name: wire.Str(p), Path: wire.Str(p)}
}

func childNamed(n *protocol.HierarchyNode, name string) *protocol.HierarchyNode {
	for _, child := range n.Children {
		if child != nil && child.Name.Value == name {
			return child
		}
	}
	return nil
}

// RuntimeHierarchy exposes a summary of the agent process under a "runtime"
// root.
type RuntimeHierarchy struct{}

func (RuntimeHierarchy) Hierarchy() *protocol.HierarchyNode {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	root := &protocol.HierarchyNode{Name: wire.Str("runtime"), Path: wire.Str("/"), Active: true}
	add := func(name string) {
		root.Children = append(root.Children, &protocol.HierarchyNode{
			Name:   wire.Str(name),
			Path:   wire.Str("/" + name),
			Active: true,
		})
	}
	add(fmt.Sprintf("goos=%s", runtime.GOOS))
	add(fmt.Sprintf("goarch=%s", runtime.GOARCH))
	add(fmt.Sprintf("goroutines=%d", runtime.NumGoroutine()))
	add(fmt.Sprintf("heap_alloc=%d", mem.HeapAlloc))
	add(fmt.Sprintf("gc_cycles=%d", mem.NumGC))
	return root
}

// StaticHierarchy is a settable tree for hosts that push their state.
type StaticHierarchy struct {
	mu   sync.RWMutex
	root *protocol.HierarchyNode
}

func (s *StaticHierarchy) Set(root *protocol.HierarchyNode) {
	s.mu.Lock()
	s.root = root
	s.mu.Unlock()
}

func (s *StaticHierarchy) Hierarchy() *protocol.HierarchyNode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.root
}
