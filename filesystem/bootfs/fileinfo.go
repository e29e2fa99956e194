package bootfs

import (
	iofs "io/fs"
	"os"
	"time"
)

const (
	fileMode os.FileMode = 0o444
	dirMode              = os.ModeDir | 0o555
)

// FileInfo describes a node of the tree. It implements both fs.FileInfo and fs.DirEntry.
type FileInfo struct {
	node    *Node
	modTime time.Time
}

// interface guards
var (
	_ iofs.FileInfo = (*FileInfo)(nil)
	_ iofs.DirEntry = (*FileInfo)(nil)
)

func (fs *FileSystem) fileInfo(n *Node) *FileInfo {
	return &FileInfo{node: n, modTime: fs.modTime}
}

// Name() string       // base name of the file
func (fi *FileInfo) Name() string {
	if fi.node.name == "" {
		return "."
	}
	return fi.node.name
}

// Size() int64        // length in bytes for regular files; 0 for directories
func (fi *FileInfo) Size() int64 {
	return fi.node.size
}

// Mode() FileMode     // file mode bits, everything is read-only
func (fi *FileInfo) Mode() os.FileMode {
	if fi.node.isDir {
		return dirMode
	}
	return fileMode
}

// ModTime() time.Time // modification time of the backing image
func (fi *FileInfo) ModTime() time.Time {
	return fi.modTime
}

// IsDir() bool        // abbreviation for Mode().IsDir()
func (fi *FileInfo) IsDir() bool {
	return fi.node.isDir
}

// Sys() interface{}   // the *Node
func (fi *FileInfo) Sys() interface{} {
	return fi.node
}

// Type returns the type bits of the entry
func (fi *FileInfo) Type() iofs.FileMode {
	return fi.Mode().Type()
}

// Info returns the entry itself
func (fi *FileInfo) Info() (iofs.FileInfo, error) {
	return fi, nil
}
