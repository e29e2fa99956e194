// Package backend abstracts the storage a bcfs image is read from.
//
// Storage is read-only: every consumer uses positioned reads through io.ReaderAt, so a
// single Storage can serve concurrent readers without sharing a file position.
package backend

import (
	"errors"
	"io"
	"io/fs"
	"os"
)

var (
	ErrNotSuitable = errors.New("backing file is not suitable")
)

type File interface {
	fs.File
	io.ReaderAt
	io.Seeker
	io.Closer
}

type Storage interface {
	File
	// OS-specific file for ioctl calls via fd
	Sys() (*os.File, error)
}
