// Package fuse mounts a loaded bcfs image read-only through FUSE.
//
// Directories list their children in on-disk order. When several entries of a
// directory share a name only the first is visible, the same one path lookups resolve to.
package fuse

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"syscall"
	"time"

	"github.com/diskfs/go-bcfs/filesystem/bootfs"
	"github.com/diskfs/go-bcfs/image"
	gofuse "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

const (
	fileMode = unix.S_IFREG | 0o444
	dirMode  = unix.S_IFDIR | 0o555
	blksize  = 4096
)

// Options configures the FUSE mount
type Options struct {
	// Mountpoint is the directory where the filesystem is mounted. It is created if missing.
	Mountpoint string

	// Image is the loaded image to serve. It must stay open until the mount is unmounted.
	Image *image.Image

	// AllowOther permits other users to access the mount. Requires
	// user_allow_other in /etc/fuse.conf.
	AllowOther bool

	// Debug logs every FUSE request
	Debug bool

	// Logger receives diagnostic messages. If nil, they are discarded.
	Logger logrus.FieldLogger
}

// tree is shared by all nodes of one mount
type tree struct {
	img   *image.Image
	inode map[*bootfs.Node]uint64
	times image.Times
	log   logrus.FieldLogger
}

func newTree(options *Options) *tree {
	t := &tree{
		img:   options.Image,
		inode: map[*bootfs.Node]uint64{options.Image.FS.Root(): 1},
		times: options.Image.Times,
		log:   options.Logger,
	}
	next := uint64(2)
	_ = options.Image.FS.Root().Walk(func(_ string, n *bootfs.Node) error {
		t.inode[n] = next
		next++
		return nil
	})
	return t
}

// Mount mounts the image at the configured mountpoint. The caller must call
// Unmount on the returned Server when done.
func Mount(options Options) (*fuse.Server, error) {
	if options.Mountpoint == "" {
		return nil, errors.New("mountpoint is required")
	}
	if options.Image == nil || options.Image.FS == nil {
		return nil, errors.New("a loaded image is required")
	}
	if options.Logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		options.Logger = l
	}

	if err := os.MkdirAll(options.Mountpoint, 0o755); err != nil {
		return nil, fmt.Errorf("could not create mountpoint %s: %w", options.Mountpoint, err)
	}

	t := newTree(&options)
	root := &dirNode{tree: t, node: options.Image.FS.Root()}

	// contents never change while mounted
	timeout := time.Hour
	server, err := gofuse.Mount(options.Mountpoint, root, &gofuse.Options{
		EntryTimeout:    &timeout,
		AttrTimeout:     &timeout,
		NegativeTimeout: &timeout,
		MountOptions: fuse.MountOptions{
			FsName:     "bcfs:" + options.Image.FS.UUID(),
			Name:       "bcfs",
			AllowOther: options.AllowOther,
			Debug:      options.Debug,
			Options:    []string{"ro"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("could not mount image at %s: %w", options.Mountpoint, err)
	}

	options.Logger.WithField("mountpoint", options.Mountpoint).Info("image mounted")
	return server, nil
}

func (t *tree) setAttr(n *bootfs.Node, out *fuse.Attr) {
	out.Ino = t.inode[n]
	if n.IsDir() {
		out.Mode = dirMode
		out.Nlink = 2
	} else {
		out.Mode = fileMode
		out.Nlink = 1
		out.Size = uint64(n.Size())
		out.Blocks = (out.Size + 511) / 512
	}
	out.Blksize = blksize
	atime, mtime, ctime := t.times.Access, t.times.Modify, t.times.Change
	if ctime.IsZero() {
		ctime = mtime
	}
	out.SetTimes(&atime, &mtime, &ctime)
}

func (t *tree) stable(n *bootfs.Node) gofuse.StableAttr {
	mode := uint32(unix.S_IFREG)
	if n.IsDir() {
		mode = unix.S_IFDIR
	}
	return gofuse.StableAttr{Mode: mode, Ino: t.inode[n]}
}

// dirNode is a directory of the image
type dirNode struct {
	gofuse.Inode
	tree *tree
	node *bootfs.Node
}

var _ gofuse.InodeEmbedder = (*dirNode)(nil)
var _ gofuse.NodeLookuper = (*dirNode)(nil)
var _ gofuse.NodeReaddirer = (*dirNode)(nil)
var _ gofuse.NodeGetattrer = (*dirNode)(nil)
var _ gofuse.NodeOpendirer = (*dirNode)(nil)

func (d *dirNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*gofuse.Inode, syscall.Errno) {
	child := d.node.Lookup(name)
	if child == nil || child == d.node {
		return nil, unix.ENOENT
	}
	d.tree.setAttr(child, &out.Attr)
	var embedder gofuse.InodeEmbedder
	if child.IsDir() {
		embedder = &dirNode{tree: d.tree, node: child}
	} else {
		embedder = &fileNode{tree: d.tree, node: child}
	}
	return d.NewInode(ctx, embedder, d.tree.stable(child)), 0
}

func (d *dirNode) Opendir(ctx context.Context) syscall.Errno {
	return 0
}

func (d *dirNode) Readdir(ctx context.Context) (gofuse.DirStream, syscall.Errno) {
	return &sliceDirStream{entries: d.entries()}, 0
}

func (d *dirNode) entries() []fuse.DirEntry {
	seen := make(map[string]bool, len(d.node.Children()))
	entries := make([]fuse.DirEntry, 0, len(d.node.Children()))
	for _, child := range d.node.Children() {
		if seen[child.Name()] {
			d.tree.log.WithField("name", child.Name()).Debug("hiding duplicate directory entry")
			continue
		}
		seen[child.Name()] = true
		st := d.tree.stable(child)
		entries = append(entries, fuse.DirEntry{Name: child.Name(), Mode: st.Mode, Ino: st.Ino})
	}
	return entries
}

func (d *dirNode) Getattr(ctx context.Context, f gofuse.FileHandle, out *fuse.AttrOut) syscall.Errno {
	d.tree.setAttr(d.node, &out.Attr)
	return 0
}

// fileNode is a file of the image
type fileNode struct {
	gofuse.Inode
	tree *tree
	node *bootfs.Node
}

var _ gofuse.InodeEmbedder = (*fileNode)(nil)
var _ gofuse.NodeGetattrer = (*fileNode)(nil)
var _ gofuse.NodeOpener = (*fileNode)(nil)
var _ gofuse.NodeReader = (*fileNode)(nil)

func (f *fileNode) Getattr(ctx context.Context, fh gofuse.FileHandle, out *fuse.AttrOut) syscall.Errno {
	f.tree.setAttr(f.node, &out.Attr)
	return 0
}

func (f *fileNode) Open(ctx context.Context, flags uint32) (gofuse.FileHandle, uint32, syscall.Errno) {
	if flags&(unix.O_WRONLY|unix.O_RDWR|unix.O_APPEND|unix.O_TRUNC) != 0 {
		return nil, 0, unix.EROFS
	}
	// the image is immutable, so the page cache is always valid
	return nil, fuse.FOPEN_KEEP_CACHE, 0
}

func (f *fileNode) Read(ctx context.Context, fh gofuse.FileHandle, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	n, err := f.tree.img.Read(f.node, dest, off)
	if err != nil {
		f.tree.log.WithFields(logrus.Fields{
			"name":   f.node.Name(),
			"offset": off,
		}).WithError(err).Error("read failed")
		return nil, unix.EIO
	}
	return fuse.ReadResultData(dest[:n]), 0
}

// sliceDirStream implements fs.DirStream from a slice of entries.
type sliceDirStream struct {
	entries []fuse.DirEntry
	index   int
}

func (s *sliceDirStream) HasNext() bool {
	return s.index < len(s.entries)
}

func (s *sliceDirStream) Next() (fuse.DirEntry, syscall.Errno) {
	if s.index >= len(s.entries) {
		return fuse.DirEntry{}, unix.EINVAL
	}
	entry := s.entries[s.index]
	s.index++
	return entry, 0
}

func (s *sliceDirStream) Close() {}
