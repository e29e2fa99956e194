// Package filesystem provides interfaces and constants required for filesystem implementations.
// All interesting implementations are in subpackages, e.g. github.com/diskfs/go-bcfs/filesystem/bootfs
package filesystem

import (
	"errors"
	iofs "io/fs"
)

var (
	ErrReadonlyFilesystem = errors.New("read-only filesystem")
	// ErrNotExist is returned when a path does not resolve to an entry. It matches io/fs.ErrNotExist.
	ErrNotExist = iofs.ErrNotExist
)

// FileSystem is a reference to a single read-only filesystem inside an image
type FileSystem interface {
	iofs.ReadDirFS
	iofs.StatFS
	// Type return the type of filesystem
	Type() Type
	// OpenFile open a handle to read a file. Any flag asking for write access fails
	// with ErrReadonlyFilesystem.
	OpenFile(pathname string, flag int) (File, error)
	// Label get the label for the filesystem, or "" if none
	Label() string
	// UUID returns a stable identifier of the filesystem
	UUID() string
	// Close releases resources held by the filesystem. It does not close the image storage.
	Close() error
}

// Type represents the type of filesystem
type Type int

const (
	// TypeBootFS is the filesystem of a bcfs boot image
	TypeBootFS Type = iota
)

func (t Type) String() string {
	switch t {
	case TypeBootFS:
		return "bootfs"
	default:
		return "unknown"
	}
}
