package console

import (
	"time"

	"github.com/danmuck/rconsole/internal/protocol"
)

type FileView struct {
	RootPath      string     `json:"root_path,omitempty"`
	Name          string     `json:"name"`
	Path          string     `json:"path"`
	IsDirectory   bool       `json:"is_directory"`
	Length        int64      `json:"length"`
	LastWriteTime time.Time  `json:"last_write_time"`
	MD5           string     `json:"md5,omitempty"`
	Children      []FileView `json:"children,omitempty"`
}

func fileViewOf(n *protocol.FileNode) FileView {
	v := FileView{
		RootPath:      n.RootPath.Value,
		Name:          n.Name.Value,
		Path:          n.Path.Value,
		IsDirectory:   n.IsDirectory,
		Length:        n.Length,
		LastWriteTime: time.UnixMilli(n.LastWriteTime).UTC(),
		MD5:           n.MD5.Value,
	}
	for _, c := range n.Children {
		v.Children = append(v.Children, fileViewOf(c))
	}
	return v
}

type HierarchyView struct {
	Name     string          `json:"name"`
	Path     string          `json:"path"`
	Active   bool            `json:"active"`
	Rect     protocol.Rect   `json:"rect"`
	Children []HierarchyView `json:"children,omitempty"`
}

func hierarchyViewOf(n *protocol.HierarchyNode) HierarchyView {
	v := HierarchyView{Name: n.Name.Value, Path: n.Path.Value, Active: n.Active, Rect: n.Rect}
	for _, c := range n.Children {
		v.Children = append(v.Children, hierarchyViewOf(c))
	}
	return v
}
