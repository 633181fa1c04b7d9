package protocol

import (
	"fmt"

	"github.com/danmuck/rconsole/internal/protocol/wire"
)

// MaxTreeDepth bounds recursive node decoding.
const MaxTreeDepth = 512

// Payload is a typed envelope body. Field order is fixed per model.
type Payload interface {
	MarshalWire(w *wire.Writer)
	UnmarshalWire(r *wire.Reader) error
}

// ClientInfo is the identity a client sends in its handshake.
type ClientInfo struct {
	DeviceName  wire.NullString
	DeviceModel wire.NullString
	DeviceID    wire.NullString
	Platform    wire.NullString
	AppName     wire.NullString
	AppVersion  wire.NullString
	SessionID   wire.NullString
}

func (m *ClientInfo) fields() []*wire.NullString {
	return []*wire.NullString{
		&m.DeviceName, &m.DeviceModel, &m.DeviceID, &m.Platform,
		&m.AppName, &m.AppVersion, &m.SessionID,
	}
}

func (m *ClientInfo) MarshalWire(w *wire.Writer) {
	for _, f := range m.fields() {
		w.PutString(*f)
	}
}

func (m *ClientInfo) UnmarshalWire(r *wire.Reader) error {
	for _, f := range m.fields() {
		v, err := r.NullString()
		if err != nil {
			return fmt.Errorf("client info: %w", err)
		}
		*f = v
	}
	return nil
}

// LogLevel mirrors the severity codes emitted by the client runtimes.
type LogLevel int32

const (
	LevelError     LogLevel = 0
	LevelAssert    LogLevel = 1
	LevelWarning   LogLevel = 2
	LevelLog       LogLevel = 3
	LevelException LogLevel = 4
)

func (l LogLevel) String() string {
	switch l {
	case LevelError:
		return "error"
	case LevelAssert:
		return "assert"
	case LevelWarning:
		return "warning"
	case LevelLog:
		return "log"
	case LevelException:
		return "exception"
	default:
		return fmt.Sprintf("level(%d)", int32(l))
	}
}

// LogRecord is one forwarded log line.
type LogRecord struct {
	Timestamp  int64 // unix milliseconds
	Level      LogLevel
	Tag        wire.NullString
	Message    wire.NullString
	StackTrace wire.NullString
	ThreadID   int32
}

func (m *LogRecord) MarshalWire(w *wire.Writer) {
	w.PutInt64(m.Timestamp)
	w.PutInt32(int32(m.Level))
	w.PutString(m.Tag)
	w.PutString(m.Message)
	w.PutString(m.StackTrace)
	w.PutInt32(m.ThreadID)
}

func (m *LogRecord) UnmarshalWire(r *wire.Reader) error {
	var err error
	if m.Timestamp, err = r.Int64(); err != nil {
		return fmt.Errorf("log record timestamp: %w", err)
	}
	level, err := r.Int32()
	if err != nil {
		return fmt.Errorf("log record level: %w", err)
	}
	m.Level = LogLevel(level)
	if m.Tag, err = r.NullString(); err != nil {
		return fmt.Errorf("log record tag: %w", err)
	}
	if m.Message, err = r.NullString(); err != nil {
		return fmt.Errorf("log record message: %w", err)
	}
	if m.StackTrace, err = r.NullString(); err != nil {
		return fmt.Errorf("log record stack trace: %w", err)
	}
	if m.ThreadID, err = r.Int32(); err != nil {
		return fmt.Errorf("log record thread id: %w", err)
	}
	return nil
}

// Text carries a single string, e.g. the path of a hierarchy lookup.
type Text struct {
	Value wire.NullString
}

func (m *Text) MarshalWire(w *wire.Writer) {
	w.PutString(m.Value)
}

func (m *Text) UnmarshalWire(r *wire.Reader) error {
	v, err := r.NullString()
	if err != nil {
		return fmt.Errorf("text: %w", err)
	}
	m.Value = v
	return nil
}

type Rect struct {
	X, Y, Width, Height float32
}

// HierarchyNode is one node of a remote object hierarchy.
type HierarchyNode struct {
	Name     wire.NullString
	Path     wire.NullString
	Active   bool
	Rect     Rect
	Children []*HierarchyNode
}

func (m *HierarchyNode) MarshalWire(w *wire.Writer) {
	w.PutString(m.Name)
	w.PutString(m.Path)
	w.PutBool(m.Active)
	w.PutFloat32(m.Rect.X)
	w.PutFloat32(m.Rect.Y)
	w.PutFloat32(m.Rect.Width)
	w.PutFloat32(m.Rect.Height)
	w.PutInt32(int32(len(m.Children)))
	for _, child := range m.Children {
		at := w.BeginBlock()
		child.MarshalWire(w)
		w.EndBlock(at)
	}
}

func (m *HierarchyNode) UnmarshalWire(r *wire.Reader) error {
	return m.unmarshal(r, 0)
}

func (m *HierarchyNode) unmarshal(r *wire.Reader, depth int) error {
	if depth > MaxTreeDepth {
		return fmt.Errorf("%w: hierarchy depth exceeds %d", ErrInvalidLength, MaxTreeDepth)
	}
	var err error
	if m.Name, err = r.NullString(); err != nil {
		return fmt.Errorf("hierarchy name: %w", err)
	}
	if m.Path, err = r.NullString(); err != nil {
		return fmt.Errorf("hierarchy path: %w", err)
	}
	if m.Active, err = r.Bool(); err != nil {
		return fmt.Errorf("hierarchy active: %w", err)
	}
	for _, f := range []*float32{&m.Rect.X, &m.Rect.Y, &m.Rect.Width, &m.Rect.Height} {
		if *f, err = r.Float32(); err != nil {
			return fmt.Errorf("hierarchy rect: %w", err)
		}
	}
	n, err := r.Count(4)
	if err != nil {
		return fmt.Errorf("hierarchy children: %w", err)
	}
	m.Children = make([]*HierarchyNode, 0, n)
	for i := 0; i < n; i++ {
		block, err := r.Block()
		if err != nil {
			return fmt.Errorf("hierarchy child[%d]: %w", i, err)
		}
		child := &HierarchyNode{}
		if err := child.unmarshal(block, depth+1); err != nil {
			return err
		}
		m.Children = append(m.Children, child)
	}
	return nil
}

// FileNode describes a remote file or directory, optionally with its children,
// digest or content.
type FileNode struct {
	RootPath      wire.NullString
	Name          wire.NullString
	Path          wire.NullString
	IsDirectory   bool
	Length        int64
	LastWriteTime int64 // unix milliseconds
	MD5           wire.NullString
	Data          []byte
	Children      []*FileNode
}

func (m *FileNode) MarshalWire(w *wire.Writer) {
	w.PutString(m.RootPath)
	w.PutString(m.Name)
	w.PutString(m.Path)
	w.PutBool(m.IsDirectory)
	w.PutInt64(m.Length)
	w.PutInt64(m.LastWriteTime)
	w.PutString(m.MD5)
	w.PutBytes(m.Data)
	w.PutInt32(int32(len(m.Children)))
	for _, child := range m.Children {
		at := w.BeginBlock()
		child.MarshalWire(w)
		w.EndBlock(at)
	}
}

func (m *FileNode) UnmarshalWire(r *wire.Reader) error {
	return m.unmarshal(r, 0)
}

func (m *FileNode) unmarshal(r *wire.Reader, depth int) error {
	if depth > MaxTreeDepth {
		return fmt.Errorf("%w: file tree depth exceeds %d", ErrInvalidLength, MaxTreeDepth)
	}
	var err error
	if m.RootPath, err = r.NullString(); err != nil {
		return fmt.Errorf("file root path: %w", err)
	}
	if m.Name, err = r.NullString(); err != nil {
		return fmt.Errorf("file name: %w", err)
	}
	if m.Path, err = r.NullString(); err != nil {
		return fmt.Errorf("file path: %w", err)
	}
	if m.IsDirectory, err = r.Bool(); err != nil {
		return fmt.Errorf("file is directory: %w", err)
	}
	if m.Length, err = r.Int64(); err != nil {
		return fmt.Errorf("file length: %w", err)
	}
	if m.LastWriteTime, err = r.Int64(); err != nil {
		return fmt.Errorf("file last write time: %w", err)
	}
	if m.MD5, err = r.NullString(); err != nil {
		return fmt.Errorf("file md5: %w", err)
	}
	if m.Data, err = r.Bytes(); err != nil {
		return fmt.Errorf("file data: %w", err)
	}
	n, err := r.Count(4)
	if err != nil {
		return fmt.Errorf("file children: %w", err)
	}
	m.Children = make([]*FileNode, 0, n)
	for i := 0; i < n; i++ {
		block, err := r.Block()
		if err != nil {
			return fmt.Errorf("file child[%d]: %w", i, err)
		}
		child := &FileNode{}
		if err := child.unmarshal(block, depth+1); err != nil {
			return err
		}
		m.Children = append(m.Children, child)
	}
	return nil
}
