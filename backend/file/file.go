package file

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/diskfs/go-bcfs/backend"
)

type rawBackend struct {
	storage fs.File
}

// Create a backend.Storage from provided fs.File
func New(f fs.File) backend.Storage {
	return rawBackend{
		storage: f,
	}
}

// Create a backend.Storage from a path to a device
// Should pass a path to a block device e.g. /dev/sdb or a path to a file /tmp/firmware.bin
// The provided device/file must exist at the time you call OpenFromPath().
// The storage is always opened read-only.
func OpenFromPath(pathName string) (backend.Storage, error) {
	if pathName == "" {
		return nil, errors.New("must pass device of file name")
	}

	if _, err := os.Stat(pathName); os.IsNotExist(err) {
		return nil, fmt.Errorf("provided device/file %s does not exist", pathName)
	}

	f, err := os.OpenFile(pathName, os.O_RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("could not open device %s read-only: %w", pathName, err)
	}

	return rawBackend{
		storage: f,
	}, nil
}

// Size returns the size in bytes of the storage. Regular files report their length,
// block devices are asked through the kernel.
func Size(s backend.Storage) (int64, error) {
	info, err := s.Stat()
	if err != nil {
		return 0, fmt.Errorf("could not stat storage: %w", err)
	}
	if info == nil {
		return 0, backend.ErrNotSuitable
	}
	mode := info.Mode()
	switch {
	case mode.IsRegular():
		return info.Size(), nil
	case mode&os.ModeDevice != 0:
		osFile, err := s.Sys()
		if err != nil {
			return 0, err
		}
		return deviceSize(osFile)
	default:
		return 0, fmt.Errorf("%s is neither a block device nor a regular file", info.Name())
	}
}

// backend.Storage interface guard
var _ backend.Storage = (*rawBackend)(nil)

// OS-specific file for ioctl calls via fd
func (f rawBackend) Sys() (*os.File, error) {
	if osFile, ok := f.storage.(*os.File); ok {
		return osFile, nil
	}
	return nil, backend.ErrNotSuitable
}

func (f rawBackend) Stat() (fs.FileInfo, error) {
	return f.storage.Stat()
}

func (f rawBackend) Read(b []byte) (int, error) {
	return f.storage.Read(b)
}

func (f rawBackend) Close() error {
	return f.storage.Close()
}

func (f rawBackend) ReadAt(p []byte, off int64) (n int, err error) {
	if readerAt, ok := f.storage.(io.ReaderAt); ok {
		return readerAt.ReadAt(p, off)
	}
	return 0, backend.ErrNotSuitable
}

func (f rawBackend) Seek(offset int64, whence int) (int64, error) {
	if seeker, ok := f.storage.(io.Seeker); ok {
		return seeker.Seek(offset, whence)
	}
	return -1, backend.ErrNotSuitable
}
