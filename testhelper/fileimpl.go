package testhelper

import (
	"fmt"
	"io"
	"os"

	"github.com/diskfs/go-bcfs/backend"
)

type reader func(b []byte, offset int64) (int, error)

// FileImpl implement github.com/diskfs/go-bcfs/backend.File
// used for testing to enable stubbing out reads
type FileImpl struct {
	Reader reader
}

func (f *FileImpl) Stat() (os.FileInfo, error) {
	return nil, nil
}

func (f *FileImpl) Read(b []byte) (int, error) {
	return f.Reader(b, 0)
}

func (f *FileImpl) Close() error {
	return nil
}

// ReadAt read at a particular offset
func (f *FileImpl) ReadAt(b []byte, offset int64) (int, error) {
	return f.Reader(b, offset)
}

// Seek seek a particular offset - does not actually work
//
//nolint:unused,revive // to implement the interface
func (f *FileImpl) Seek(offset int64, whence int) (int64, error) {
	return 0, fmt.Errorf("FileImpl does not implement Seek()")
}

// Sys there is no OS file behind a stub
func (f *FileImpl) Sys() (*os.File, error) {
	return nil, backend.ErrNotSuitable
}

// FromBytes returns a FileImpl serving reads from b
func FromBytes(b []byte) *FileImpl {
	return &FileImpl{Reader: BytesReader(b)}
}

// BytesReader returns a reader function serving reads from b, with io.ReaderAt semantics
func BytesReader(b []byte) func([]byte, int64) (int, error) {
	return func(p []byte, offset int64) (int, error) {
		if offset >= int64(len(b)) {
			return 0, io.EOF
		}
		n := copy(p, b[offset:])
		if n < len(p) {
			return n, io.EOF
		}
		return n, nil
	}
}
