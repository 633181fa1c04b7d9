package agent

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/danmuck/rconsole/internal/protocol"
	"github.com/danmuck/rconsole/internal/protocol/session"
	"github.com/danmuck/rconsole/internal/protocol/wire"
	"github.com/rs/zerolog/log"
)

// DefaultMaxDownloadBytes keeps a download reply inside the default frame limit.
const DefaultMaxDownloadBytes = 6 * 1024 * 1024

var (
	ErrOutsideRoot  = errors.New("agent: path escapes file root")
	ErrFileTooLarge = errors.New("agent: file too large to download")
)

// FileModule serves directory listings, digests and downloads from Root.
// Paths on the wire are slash-separated and relative to Root, with "/" being
// Root itself.
type FileModule struct {
	Root             string
	MaxDownloadBytes int64

	ids []session.HandlerID
}

func NewFileModule(root string) *FileModule {
	return &FileModule{Root: root, MaxDownloadBytes: DefaultMaxDownloadBytes}
}

func (m *FileModule) Enable(c *Client) {
	m.ids = append(m.ids[:0],
		c.On(protocol.KindFile, protocol.SubFetchDirectory, session.HandlerFunc(m.fetchDirectory)),
		c.On(protocol.KindFile, protocol.SubMD5, session.HandlerFunc(m.md5)),
		c.On(protocol.KindFile, protocol.SubDownload, session.HandlerFunc(m.download)),
	)
}

func (m *FileModule) Disable(c *Client) {
	if len(m.ids) == 0 {
		return
	}
	c.Off(protocol.KindFile, protocol.SubFetchDirectory, m.ids...)
	c.Off(protocol.KindFile, protocol.SubMD5, m.ids...)
	c.Off(protocol.KindFile, protocol.SubDownload, m.ids...)
	m.ids = m.ids[:0]
}

func fileRequest(env protocol.Envelope) (*protocol.FileNode, error) {
	req, ok := env.Payload.(*protocol.FileNode)
	if !ok {
		return nil, fmt.Errorf("%w: file request %T", protocol.ErrPayloadMismatch, env.Payload)
	}
	return req, nil
}

func (m *FileModule) fetchDirectory(_ *session.Conn, env protocol.Envelope) (protocol.Payload, error) {
	req, err := fileRequest(env)
	if err != nil {
		return nil, err
	}
	virt, abs, err := m.resolve(req.Path.Value)
	if err != nil {
		log.Warn().Err(err).Str("path", req.Path.Value).Msg("agent.files fetch directory rejected")
		return m.echo(req), nil
	}
	return m.listDirectory(virt, abs), nil
}

func (m *FileModule) md5(_ *session.Conn, env protocol.Envelope) (protocol.Payload, error) {
	req, err := fileRequest(env)
	if err != nil {
		return nil, err
	}
	resp := m.echo(req)
	_, abs, err := m.resolve(req.Path.Value)
	if err == nil {
		var sum string
		if sum, err = fileMD5(abs); err == nil {
			resp.MD5 = wire.Str(sum)
			return resp, nil
		}
	}
	log.Warn().Err(err).Str("path", req.Path.Value).Msg("agent.files md5 failed")
	resp.MD5 = wire.Str("")
	return resp, nil
}

func (m *FileModule) download(_ *session.Conn, env protocol.Envelope) (protocol.Payload, error) {
	req, err := fileRequest(env)
	if err != nil {
		return nil, err
	}
	resp := m.echo(req)
	data, err := m.readFile(req.Path.Value)
	if err != nil {
		log.Warn().Err(err).Str("path", req.Path.Value).Msg("agent.files download failed")
		return resp, nil
	}
	resp.Data = data
	resp.Length = int64(len(data))
	return resp, nil
}

func (m *FileModule) readFile(p string) ([]byte, error) {
	_, abs, err := m.resolve(p)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", p)
	}
	limit := m.MaxDownloadBytes
	if limit <= 0 {
		limit = DefaultMaxDownloadBytes
	}
	if info.Size() > limit {
		return nil, fmt.Errorf("%w: %d > %d", ErrFileTooLarge, info.Size(), limit)
	}
	return os.ReadFile(abs)
}

func (m *FileModule) echo(req *protocol.FileNode) *protocol.FileNode {
	return &protocol.FileNode{
		RootPath:    wire.Str(m.Root),
		Name:        req.Name,
		Path:        req.Path,
		IsDirectory: req.IsDirectory,
	}
}

// resolve maps a wire path onto the file system. Absolute paths that already
// start with Root are accepted as well. Existing paths are checked again after
// symlinks are followed.
func (m *FileModule) resolve(p string) (string, string, error) {
	root, err := filepath.Abs(m.Root)
	if err != nil {
		return "", "", err
	}
	p = strings.ReplaceAll(p, "\\", "/")
	if rel, ok := strings.CutPrefix(p, filepath.ToSlash(root)); ok {
		p = rel
	}
	virt := path.Clean("/" + p)
	abs := filepath.Join(root, filepath.FromSlash(virt))
	if !isWithin(root, abs) {
		return "", "", fmt.Errorf("%w: %s", ErrOutsideRoot, p)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if errors.Is(err, fs.ErrNotExist) {
		return virt, abs, nil
	}
	if err != nil {
		return "", "", err
	}
	realRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return "", "", err
	}
	if !isWithin(realRoot, resolved) {
		return "", "", fmt.Errorf("%w: %s links to %s", ErrOutsideRoot, p, resolved)
	}
	return virt, resolved, nil
}

func isWithin(root, target string) bool {
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// listDirectory builds a one-level tree: directories first, then files, each
// group sorted by name.
func (m *FileModule) listDirectory(virt, abs string) *protocol.FileNode {
	name := path.Base(virt)
	if virt == "/" {
		name = "/"
	}
	resp := &protocol.FileNode{
		RootPath:    wire.Str(m.Root),
		Name:        wire.Str(name),
		Path:        wire.Str(virt),
		IsDirectory: true,
	}
	if info, err := os.Stat(abs); err == nil {
		resp.LastWriteTime = info.ModTime().UnixMilli()
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		log.Warn().Err(err).Str("path", virt).Msg("agent.files list directory failed")
		return resp
	}
	var dirs, files []*protocol.FileNode
	for _, e := range entries {
		child := &protocol.FileNode{
			Name:        wire.Str(e.Name()),
			Path:        wire.Str(path.Join(virt, e.Name())),
			IsDirectory: e.IsDir(),
		}
		if info, err := e.Info(); err == nil {
			child.LastWriteTime = info.ModTime().UnixMilli()
			if !e.IsDir() {
				child.Length = info.Size()
			}
		}
		if e.IsDir() {
			dirs = append(dirs, child)
		} else {
			files = append(files, child)
		}
	}
	byName := func(list []*protocol.FileNode) {
		sort.Slice(list, func(i, j int) bool { return list[i].Name.Value < list[j].Name.Value })
	}
	byName(dirs)
	byName(files)
	resp.Children = append(dirs, files...)
	return resp
}

// fileMD5 returns the upper-case hex digest of the file at abs.
func fileMD5(abs string) (string, error) {
	f, err := os.Open(abs)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return strings.ToUpper(hex.EncodeToString(h.Sum(nil))), nil
}
