// Package sync moves the contents of a bcfs filesystem to the host: extraction into a
// directory, verification of an extracted tree, and content manifests.
package sync

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"github.com/diskfs/go-bcfs/filesystem/bootfs"
	"github.com/pkg/xattr"
	"github.com/sirupsen/logrus"
)

// extended attributes recording where an extracted file came from
const (
	XattrOffset = "user.bcfs.offset"
	XattrSize   = "user.bcfs.size"
)

const copyBufferSize = 32 * 1024

// ExtractOptions control Extract
type ExtractOptions struct {
	// Codec compresses every extracted file and appends its extension to the name
	Codec Codec
	// Xattrs records the image offset and size of every file as extended attributes
	Xattrs bool
	// Logger receives progress, nil discards it
	Logger logrus.FieldLogger
}

// UnsafePathError an entry would be written outside the destination directory
type UnsafePathError struct {
	Path string
}

func (e *UnsafePathError) Error() string {
	return fmt.Sprintf("refusing to extract %q outside of the destination", e.Path)
}

// Extract writes the tree of fsys below dest, creating dest if needed. Files keep the
// modification time of the image. When a directory holds several entries with the same
// name only the first is extracted.
func Extract(fsys *bootfs.FileSystem, dest string, opts ExtractOptions) error {
	log := opts.Logger
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return fmt.Errorf("could not create destination %s: %w", dest, err)
	}
	written := map[string]bool{}
	var files int
	err := fsys.Root().Walk(func(p string, n *bootfs.Node) error {
		rel := filepath.FromSlash(p)
		if !filepath.IsLocal(rel) {
			return &UnsafePathError{Path: p}
		}
		if written[p] {
			log.WithField("path", p).Warn("skipping duplicate entry")
			if n.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		written[p] = true
		target := filepath.Join(dest, rel)
		if n.IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("create dir %s: %w", p, err)
			}
			return nil
		}
		target += opts.Codec.Ext()
		if err := extractFile(fsys, n, target, opts); err != nil {
			return fmt.Errorf("extract file %s: %w", p, err)
		}
		files++
		log.WithFields(logrus.Fields{
			"path":   p,
			"size":   n.Size(),
			"target": target,
		}).Debug("extracted file")
		return nil
	})
	if err != nil {
		return err
	}
	log.WithFields(logrus.Fields{"files": files, "dest": dest}).Info("extraction complete")
	return nil
}

func extractFile(fsys *bootfs.FileSystem, n *bootfs.Node, target string, opts ExtractOptions) (err error) {
	out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	w, err := opts.Codec.NewWriter(out)
	if err != nil {
		return err
	}
	copied, err := io.CopyBuffer(w, fsys.NodeReader(n), make([]byte, copyBufferSize))
	if err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	if copied != n.Size() {
		return fmt.Errorf("copied %d of %d bytes, image is truncated", copied, n.Size())
	}

	if opts.Xattrs {
		if err := xattr.Set(target, XattrOffset, []byte(strconv.FormatInt(n.Offset(), 10))); err != nil {
			return err
		}
		if err := xattr.Set(target, XattrSize, []byte(strconv.FormatInt(n.Size(), 10))); err != nil {
			return err
		}
	}

	// restore timestamps after data is written
	if mtime := fsys.ModTime(); !mtime.IsZero() {
		if err := os.Chtimes(target, mtime, mtime); err != nil && !errors.Is(err, os.ErrPermission) {
			return err
		}
	}
	return nil
}
