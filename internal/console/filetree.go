package console

import (
	"strings"
	"sync"

	"github.com/danmuck/rconsole/internal/protocol"
)

// FileTree caches the browsed portion of one client's file system. Each
// directory listing replaces the matching subtree.
type FileTree struct {
	mu   sync.RWMutex
	root *protocol.FileNode
}

// Merge grafts listing into the tree. The root is replaced when the tree is
// empty or the listing is the root itself; otherwise the node with the same
// path (case-insensitive) is replaced. It reports whether the listing landed.
func (t *FileTree) Merge(listing *protocol.FileNode) bool {
	if listing == nil {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.root == nil || samePath(t.root.Path.Value, listing.Path.Value) {
		t.root = cloneFile(listing, false)
		return true
	}
	return replaceNode(t.root, listing)
}

func replaceNode(parent, listing *protocol.FileNode) bool {
	for i, child := range parent.Children {
		if samePath(child.Path.Value, listing.Path.Value) {
			parent.Children[i] = cloneFile(listing, false)
			return true
		}
		if child.IsDirectory && isUnder(listing.Path.Value, child.Path.Value) && replaceNode(child, listing) {
			return true
		}
	}
	return false
}

// Snapshot returns a deep copy of the tree without file contents.
func (t *FileTree) Snapshot() (*protocol.FileNode, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.root == nil {
		return nil, false
	}
	return cloneFile(t.root, true), true
}

func samePath(a, b string) bool {
	return strings.EqualFold(normalizePath(a), normalizePath(b))
}

func isUnder(p, dir string) bool {
	p, dir = strings.ToLower(normalizePath(p)), strings.ToLower(normalizePath(dir))
	if dir == "/" {
		return true
	}
	return strings.HasPrefix(p, dir+"/")
}

func normalizePath(p string) string {
	p = strings.ReplaceAll(strings.TrimSpace(p), "\\", "/")
	p = strings.TrimRight(p, "/")
	if p == "" {
		return "/"
	}
	return p
}

func cloneFile(n *protocol.FileNode, dropData bool) *protocol.FileNode {
	out := *n
	if dropData {
		out.Data = nil
	} else if n.Data != nil {
		out.Data = append([]byte(nil), n.Data...)
	}
	out.Children = make([]*protocol.FileNode, len(n.Children))
	for i, c := range n.Children {
		out.Children[i] = cloneFile(c, dropData)
	}
	return &out
}
