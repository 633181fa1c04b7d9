package console

import (
	"context"
	"fmt"

	"github.com/danmuck/rconsole/internal/protocol"
	"github.com/danmuck/rconsole/internal/protocol/session"
	"github.com/danmuck/rconsole/internal/protocol/wire"
)

// Callback forms. connID "" targets the selected client; done runs on the
// dispatch queue.

func (s *Server) FetchLookIn(connID, path string, done func(*protocol.HierarchyNode)) error {
	c, err := s.Target(connID)
	if err != nil {
		return err
	}
	if path == "" {
		path = "/"
	}
	_, err = c.Request(protocol.KindLookIn, protocol.SubLookIn, &protocol.Text{Value: wire.Str(path)},
		func(p protocol.Payload) {
			node, ok := p.(*protocol.HierarchyNode)
			if !ok {
				c.Logger().Warn().Str("payload", fmt.Sprintf("%T", p)).Msg("console.FetchLookIn unexpected reply")
				return
			}
			if done != nil {
				done(node)
			}
		})
	return err
}

// FetchDirectory lists dir on the client and merges the result into that
// client's cached file tree before calling done.
func (s *Server) FetchDirectory(connID string, dir *protocol.FileNode, done func(*protocol.FileNode)) error {
	return s.fileRequest(connID, protocol.SubFetchDirectory, dir, done)
}

func (s *Server) RequestMD5(connID string, file *protocol.FileNode, done func(*protocol.FileNode)) error {
	return s.fileRequest(connID, protocol.SubMD5, file, done)
}

func (s *Server) Download(connID string, file *protocol.FileNode, done func(*protocol.FileNode)) error {
	return s.fileRequest(connID, protocol.SubDownload, file, done)
}

func (s *Server) fileRequest(connID string, sub protocol.SubKind, req *protocol.FileNode, done func(*protocol.FileNode)) error {
	c, err := s.Target(connID)
	if err != nil {
		return err
	}
	if req == nil {
		req = &protocol.FileNode{Path: wire.Str("/"), IsDirectory: true}
	}
	_, err = c.Request(protocol.KindFile, sub, req, func(p protocol.Payload) {
		node, ok := p.(*protocol.FileNode)
		if !ok {
			c.Logger().Warn().Str("payload", fmt.Sprintf("%T", p)).Msg("console.fileRequest unexpected reply")
			return
		}
		if sub == protocol.SubFetchDirectory {
			s.mergeListing(c.ID(), node)
		}
		if done != nil {
			done(node)
		}
	})
	return err
}

// Blocking forms for callers off the dispatch queue.

func (s *Server) LookIn(ctx context.Context, connID, path string) (*protocol.HierarchyNode, error) {
	if path == "" {
		path = "/"
	}
	p, err := s.call(ctx, connID, protocol.KindLookIn, protocol.SubLookIn, &protocol.Text{Value: wire.Str(path)})
	if err != nil {
		return nil, err
	}
	node, ok := p.(*protocol.HierarchyNode)
	if !ok {
		return nil, fmt.Errorf("%w: lookin reply %T", protocol.ErrPayloadMismatch, p)
	}
	return node, nil
}

func (s *Server) ListDirectory(ctx context.Context, connID, path string) (*protocol.FileNode, error) {
	c, err := s.Target(connID)
	if err != nil {
		return nil, err
	}
	node, err := callFile(ctx, c, protocol.SubFetchDirectory, &protocol.FileNode{Path: wire.Str(orRoot(path)), IsDirectory: true})
	if err != nil {
		return nil, err
	}
	s.mergeListing(c.ID(), node)
	return node, nil
}

func (s *Server) FileMD5(ctx context.Context, connID, path string) (*protocol.FileNode, error) {
	c, err := s.Target(connID)
	if err != nil {
		return nil, err
	}
	return callFile(ctx, c, protocol.SubMD5, &protocol.FileNode{Path: wire.Str(path)})
}

func (s *Server) DownloadFile(ctx context.Context, connID, path string) (*protocol.FileNode, error) {
	c, err := s.Target(connID)
	if err != nil {
		return nil, err
	}
	return callFile(ctx, c, protocol.SubDownload, &protocol.FileNode{Path: wire.Str(path)})
}

// FileTree returns the cached browse tree of a client.
func (s *Server) FileTree(connID string) (*protocol.FileNode, error) {
	c, err := s.Target(connID)
	if err != nil {
		return nil, err
	}
	tree := s.tree(c.ID())
	if tree == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownConnection, c.ID())
	}
	root, _ := tree.Snapshot()
	return root, nil
}

func (s *Server) call(ctx context.Context, connID string, kind protocol.Kind, sub protocol.SubKind, req protocol.Payload) (protocol.Payload, error) {
	c, err := s.Target(connID)
	if err != nil {
		return nil, err
	}
	return c.Call(ctx, kind, sub, req)
}

func callFile(ctx context.Context, c *session.Conn, sub protocol.SubKind, req *protocol.FileNode) (*protocol.FileNode, error) {
	p, err := c.Call(ctx, protocol.KindFile, sub, req)
	if err != nil {
		return nil, err
	}
	node, ok := p.(*protocol.FileNode)
	if !ok {
		return nil, fmt.Errorf("%w: file reply %T", protocol.ErrPayloadMismatch, p)
	}
	return node, nil
}

func (s *Server) mergeListing(connID string, node *protocol.FileNode) {
	if tree := s.tree(connID); tree != nil && !tree.Merge(node) {
		s.log.Debug().Str("conn_id", connID).Str("path", node.Path.Value).Msg("console listing outside cached tree")
	}
}

func orRoot(path string) string {
	if path == "" {
		return "/"
	}
	return path
}
