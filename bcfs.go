// Package bcfs reads bcfs boot images.
//
// A bcfs image holds a small read-only filesystem: a FS_HEADER, a table of contents,
// a string table of paths and a table of files with byte ranges into the image. The
// filesystem either starts at a known offset or is wrapped in boot and partition
// records that lead to it. Open handles both.
//
// This does **not** mount anything unless asked to through the fuse subpackage, and
// never writes to the image.
//
// Some examples:
//
// 1. Open an image and read a file.
//
//	img, err := bcfs.Open("/tmp/boot.img")
//	n, err := img.Lookup("/boot/vmlinuz")
//	b := make([]byte, n.Size())
//	read, err := img.Read(n, b, 0)
//
// 2. Open a filesystem that starts 1MB into a block device and walk it through io/fs.
//
//	img, err := bcfs.Open("/dev/sdb", bcfs.WithOffset(1024*1024))
//	err = fs.WalkDir(img.FS, ".", func(p string, d fs.DirEntry, err error) error {
//		fmt.Println(p)
//		return err
//	})
package bcfs

import (
	"errors"
	"fmt"

	"github.com/diskfs/go-bcfs/backend/file"
	"github.com/diskfs/go-bcfs/image"
	"github.com/sirupsen/logrus"
)

type openOpts struct {
	offset int64
	size   int64
	log    logrus.FieldLogger
}

// OpenOpt configures Open
type OpenOpt func(o *openOpts) error

// WithOffset sets where the filesystem, or the BOOT_WRAP record wrapping it, starts.
// The default is 0.
func WithOffset(offset int64) OpenOpt {
	return func(o *openOpts) error {
		if offset < 0 {
			return fmt.Errorf("invalid offset %d", offset)
		}
		o.offset = offset
		return nil
	}
}

// WithSize overrides the size of the image, which is otherwise taken from the file or device
func WithSize(size int64) OpenOpt {
	return func(o *openOpts) error {
		if size < 0 {
			return fmt.Errorf("invalid size %d", size)
		}
		o.size = size
		return nil
	}
}

// WithLogger sends load progress to log
func WithLogger(log logrus.FieldLogger) OpenOpt {
	return func(o *openOpts) error {
		o.log = log
		return nil
	}
}

// Open loads the image at path, a regular file or a block device, read-only.
// The returned Image owns the file; Close it when done.
func Open(path string, opts ...OpenOpt) (*image.Image, error) {
	if path == "" {
		return nil, errors.New("must pass device or file name")
	}
	o := &openOpts{}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, err
		}
	}
	b, err := file.OpenFromPath(path)
	if err != nil {
		return nil, err
	}
	img, err := image.Load(b, image.Options{Offset: o.offset, Size: o.size, Logger: o.log})
	if err != nil {
		_ = b.Close()
		return nil, fmt.Errorf("could not open %s: %w", path, err)
	}
	return img, nil
}
