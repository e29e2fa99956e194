package backend

import (
	"io"
	"io/fs"
	"os"
)

// SubStorage is a window of size bytes starting at offset in the underlying Storage.
// Reads past the end of the window are cut short with io.EOF.
type SubStorage struct {
	underlying Storage
	offset     int64
	size       int64
}

// Sub returns the window of size bytes at offset in u
func Sub(u Storage, offset, size int64) Storage {
	return SubStorage{
		underlying: u,
		offset:     offset,
		size:       size,
	}
}

// Size returns the size of the window
func (s SubStorage) Size() int64 {
	return s.size
}

// Offset returns where the window starts in the underlying Storage
func (s SubStorage) Offset() int64 {
	return s.offset
}

func (s SubStorage) Stat() (fs.FileInfo, error) {
	return s.underlying.Stat()
}

// Read is not positioned and SubStorage keeps no position of its own, always use ReadAt
func (s SubStorage) Read(bytes []byte) (int, error) {
	return 0, ErrNotSuitable
}

// Close does nothing, the underlying Storage is owned by whoever created the window
func (s SubStorage) Close() error {
	return nil
}

func (s SubStorage) ReadAt(p []byte, off int64) (n int, err error) {
	if off < 0 {
		return 0, fs.ErrInvalid
	}
	if off >= s.size {
		return 0, io.EOF
	}
	var short bool
	if remaining := s.size - off; int64(len(p)) > remaining {
		p = p[:remaining]
		short = true
	}
	n, err = s.underlying.ReadAt(p, s.offset+off)
	if err == nil && short {
		err = io.EOF
	}
	return n, err
}

func (s SubStorage) Seek(offset int64, whence int) (int64, error) {
	return -1, ErrNotSuitable
}

func (s SubStorage) Sys() (*os.File, error) {
	return s.underlying.Sys()
}
