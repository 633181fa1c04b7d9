package protocol

import "sync"

// Factory constructs an empty payload model for decoding.
type Factory func() Payload

type registryKey struct {
	kind Kind
	sub  SubKind
	dir  Direction
}

// Registry maps (kind, sub-kind, direction) to payload factories. It is an
// owned value; each server or client holds its own.
type Registry struct {
	mu        sync.RWMutex
	factories map[registryKey]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[registryKey]Factory)}
}

// DefaultRegistry returns a registry populated with every built-in model.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(KindHandshake, SubHandshake, DirRequest, func() Payload { return &ClientInfo{} })
	r.Register(KindLog, SubLog, DirRequest, func() Payload { return &LogRecord{} })
	r.Register(KindLookIn, SubLookIn, DirRequest, func() Payload { return &Text{} })
	r.Register(KindLookIn, SubLookIn, DirResponse, func() Payload { return &HierarchyNode{} })
	for _, sub := range []SubKind{SubFetchDirectory, SubMD5, SubDownload} {
		r.Register(KindFile, sub, DirRequest, func() Payload { return &FileNode{} })
		r.Register(KindFile, sub, DirResponse, func() Payload { return &FileNode{} })
	}
	return r
}

// Register installs or replaces the factory at a key.
func (r *Registry) Register(kind Kind, sub SubKind, dir Direction, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[registryKey{kind: kind, sub: sub, dir: dir}] = f
}

func (r *Registry) Resolve(kind Kind, sub SubKind, dir Direction) (Factory, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[registryKey{kind: kind, sub: sub, dir: dir}]
	return f, ok && f != nil
}
