package bootfs

import (
	"errors"
	iofs "io/fs"
	"strings"
)

// MaxNameLength is the longest name a node can carry. Longer path components are
// truncated to this many bytes on insertion and lookup alike.
const MaxNameLength = 255

// Node is a directory or file of the tree loaded from the file table.
// Directories own their children in insertion order; files carry the absolute
// byte range of their contents in the image.
type Node struct {
	name     string
	isDir    bool
	children []*Node
	offset   int64
	size     int64
}

// NewRoot returns an empty root directory
func NewRoot() *Node {
	return &Node{isDir: true}
}

// Name returns the name of the node, the root has an empty name
func (n *Node) Name() string {
	return n.name
}

// IsDir reports whether the node is a directory
func (n *Node) IsDir() bool {
	return n.isDir
}

// Offset returns the absolute offset of the file contents in the image, 0 for directories
func (n *Node) Offset() int64 {
	return n.offset
}

// Size returns the size of the file contents, 0 for directories
func (n *Node) Size() int64 {
	return n.size
}

// Children returns the children of a directory in insertion order. The slice must not be modified.
func (n *Node) Children() []*Node {
	return n.children
}

// truncateName cuts a path component down to MaxNameLength bytes
func truncateName(name string) string {
	if len(name) > MaxNameLength {
		return name[:MaxNameLength]
	}
	return name
}

// Insert adds a file at path p below n, creating intermediate directories on demand,
// and returns the new file node.
//
// A leading "/" is ignored. An existing directory is reused for every component but the
// last; the last component always becomes a new file, even when a sibling with the same
// name exists, so inserting the same path twice leaves two entries with that name.
func (n *Node) Insert(p string) (*Node, error) {
	if !n.isDir {
		return nil, errors.New("cannot insert below a file")
	}
	rest := strings.TrimPrefix(p, "/")
	if rest == "" {
		return nil, errors.New("cannot insert an empty path")
	}
	cur := n
	for {
		name, next, _ := strings.Cut(rest, "/")
		name = truncateName(name)
		if next == "" {
			leaf := &Node{name: name}
			cur.children = append(cur.children, leaf)
			return leaf, nil
		}
		var dir *Node
		for _, child := range cur.children {
			if child.isDir && child.name == name {
				dir = child
				break
			}
		}
		if dir == nil {
			dir = &Node{name: name, isDir: true}
			cur.children = append(cur.children, dir)
		}
		cur = dir
		rest = strings.TrimPrefix(next, "/")
	}
}

// Lookup finds the node at path p below n. An empty path, or "/", resolves to n itself.
// Names are compared exactly. When several siblings share a name each is tried in
// insertion order. Returns nil if nothing matches.
func (n *Node) Lookup(p string) *Node {
	rest := strings.TrimPrefix(p, "/")
	if rest == "" {
		return n
	}
	name, next, _ := strings.Cut(rest, "/")
	name = truncateName(name)
	for _, child := range n.children {
		if child.name != name {
			continue
		}
		if found := child.Lookup(next); found != nil {
			return found
		}
	}
	return nil
}

// Walk calls fn for every node below n, depth first in insertion order, with the
// slash separated path of the node relative to n. Returning an error stops the walk.
// As with fs.WalkDir, returning fs.SkipDir for a directory skips its contents, and for
// a file skips the rest of its directory.
func (n *Node) Walk(fn func(p string, node *Node) error) error {
	return n.walk("", fn)
}

func (n *Node) walk(prefix string, fn func(string, *Node) error) error {
	for _, child := range n.children {
		p := child.name
		if prefix != "" {
			p = prefix + "/" + child.name
		}
		if err := fn(p, child); err != nil {
			if errors.Is(err, iofs.SkipDir) {
				if child.isDir {
					continue
				}
				return nil
			}
			return err
		}
		if child.isDir {
			if err := child.walk(p, fn); err != nil {
				return err
			}
		}
	}
	return nil
}
