package bootfs

import (
	"errors"
	"fmt"
	"io"
	iofs "io/fs"
	"sort"

	"github.com/diskfs/go-bcfs/backend"
	"github.com/diskfs/go-bcfs/filesystem"
)

// File is an open file or directory of the filesystem.
//
// ReadAt is stateless and safe for concurrent use; Read, Seek and ReadDir share a
// cursor and are not.
type File struct {
	fs     *FileSystem
	node   *Node
	data   backend.Storage
	offset int64
	// directory listing position
	listed int
}

// interface guard
var _ filesystem.File = (*File)(nil)

func (fs *FileSystem) newFile(n *Node) *File {
	f := &File{fs: fs, node: n}
	if !n.isDir {
		f.data = backend.Sub(fs.backend, n.offset, n.size)
	}
	return f
}

// Node returns the tree node the file was opened from
func (fl *File) Node() *Node {
	return fl.node
}

// Stat returns information about the open file
func (fl *File) Stat() (iofs.FileInfo, error) {
	return fl.fs.fileInfo(fl.node), nil
}

// Read reads up to len(b) bytes from the File.
// It returns the number of bytes read and any error encountered.
// At end of file, Read returns 0, io.EOF
// reads from the last known offset in the file from last read or write
// use Seek() to set at a particular point
func (fl *File) Read(b []byte) (int, error) {
	n, err := fl.ReadAt(b, fl.offset)
	fl.offset += int64(n)
	return n, err
}

// ReadAt reads len(b) bytes from the File starting at byte offset off.
// Reads stop at the end of the file with io.EOF.
func (fl *File) ReadAt(b []byte, off int64) (int, error) {
	if fl.node.isDir {
		return 0, &iofs.PathError{Op: "read", Path: fl.node.name, Err: errIsDir}
	}
	return fl.data.ReadAt(b, off)
}

// Seek set the offset to a particular point in the file
func (fl *File) Seek(offset int64, whence int) (int64, error) {
	newOffset := int64(0)
	switch whence {
	case io.SeekStart:
		newOffset = offset
	case io.SeekEnd:
		newOffset = fl.node.size + offset
	case io.SeekCurrent:
		newOffset = fl.offset + offset
	default:
		return fl.offset, fmt.Errorf("invalid whence %d", whence)
	}
	if newOffset < 0 {
		return fl.offset, fmt.Errorf("cannot set offset %d before start of file", offset)
	}
	fl.offset = newOffset
	return fl.offset, nil
}

// ReadDir lists the directory in name order. With n > 0 it returns at most n entries per
// call and io.EOF once the listing is exhausted; with n <= 0 it returns everything left.
func (fl *File) ReadDir(n int) ([]iofs.DirEntry, error) {
	if !fl.node.isDir {
		return nil, &iofs.PathError{Op: "readdir", Path: fl.node.name, Err: errors.New("not a directory")}
	}
	entries := fl.fs.dirEntries(fl.node)
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})
	entries = entries[min(fl.listed, len(entries)):]
	if n > 0 {
		if len(entries) == 0 {
			return nil, io.EOF
		}
		entries = entries[:min(n, len(entries))]
	}
	fl.listed += len(entries)
	return entries, nil
}

// Close the file. Reads after Close are still answered, nothing is held open.
func (fl *File) Close() error {
	return nil
}
