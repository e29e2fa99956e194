// Package image loads a bcfs boot image and answers lookups and reads against it.
//
// Load first tries to decode the filesystem at the requested offset. When the records
// there are not a filesystem, the offset is taken as the start of a BOOT_WRAP record,
// the partition tables behind it are resolved to a new base, and the filesystem is
// decoded there. There is no further retry.
//
// A loaded Image is immutable and all reads are positioned, so it may be shared by
// any number of goroutines.
package image

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/diskfs/go-bcfs/backend"
	"github.com/diskfs/go-bcfs/backend/file"
	"github.com/diskfs/go-bcfs/filesystem/bootfs"
	"github.com/diskfs/go-bcfs/partition"
	"github.com/diskfs/go-bcfs/record"
	"github.com/sirupsen/logrus"
	times "gopkg.in/djherbis/times.v1"
)

// Options control how an image is loaded
type Options struct {
	// Offset is where the FS_HEADER, or the BOOT_WRAP of a wrapped image, starts
	Offset int64
	// Size of the image in bytes; 0 asks the backend
	Size int64
	// Logger receives load progress, nil discards it
	Logger logrus.FieldLogger
}

// Times are the timestamps of the backing file
type Times struct {
	Access time.Time
	Modify time.Time
	// Change is the zero time when the platform does not report it
	Change time.Time
}

// Image is a loaded bcfs image
type Image struct {
	Backend backend.Storage
	Type    DeviceType
	// Size is 0 when it could not be determined
	Size int64
	// RequestedOffset is the offset the load started from
	RequestedOffset int64
	// BaseOffset is the absolute offset of the FS_HEADER actually used
	BaseOffset int64
	FS         *bootfs.FileSystem
	// Partition is set when the filesystem was found through partition resolution
	Partition *partition.Resolution
	Times     Times
	log       logrus.FieldLogger
}

// Entry is one child of a directory
type Entry struct {
	Name  string
	IsDir bool
	Size  int64
}

// Load reads the image from b. On failure the returned error is a *LoadError.
func Load(b backend.Storage, opts Options) (*Image, error) {
	log := opts.Logger
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	if opts.Offset < 0 {
		return nil, &LoadError{Offset: opts.Offset, Err: fmt.Errorf("invalid offset %d", opts.Offset)}
	}
	img := &Image{
		Backend:         b,
		Size:            opts.Size,
		RequestedOffset: opts.Offset,
		log:             log,
	}
	if dt, err := DetermineDeviceType(b); err == nil {
		img.Type = dt
	}
	if img.Size == 0 {
		size, err := file.Size(b)
		if err != nil {
			log.Debugf("image size unknown: %v", err)
		} else {
			img.Size = size
		}
	}
	img.Times = storageTimes(b)
	log = log.WithField("size", img.Size)

	fs, err := bootfs.Read(b, img.Size, opts.Offset, log)
	if err == nil {
		img.FS = fs
		img.BaseOffset = opts.Offset
		log.WithField("base", opts.Offset).Info("loaded filesystem")
		return img, nil
	}
	if !fallbackAllowed(err) {
		return nil, &LoadError{Offset: opts.Offset, Err: err}
	}
	direct := err
	log.WithError(err).Debug("no filesystem at offset, resolving partitions")

	res, err := partition.Resolve(b, img.Size, opts.Offset, log)
	if err != nil {
		return nil, &LoadError{Offset: opts.Offset, Direct: direct, Err: fmt.Errorf("could not resolve partitions: %w", err)}
	}
	fs, err = bootfs.Read(b, img.Size, res.Base, log)
	if err != nil {
		return nil, &LoadError{Offset: opts.Offset, Direct: direct, Base: res.Base, Err: err}
	}
	img.FS = fs
	img.Partition = res
	img.BaseOffset = res.Base
	log.WithField("base", res.Base).Info("loaded filesystem through partition tables")
	return img, nil
}

// fallbackAllowed only records that are not a filesystem at all send the load through
// partition resolution; anything else is an error of the filesystem itself
func fallbackAllowed(err error) bool {
	var fe *record.FormatError
	if !errors.As(err, &fe) {
		return false
	}
	if fe.Record != "FS_HEADER" && fe.Record != "TOC" {
		return false
	}
	return fe.Kind == record.TagMismatch || fe.Kind == record.SizeMismatch
}

func storageTimes(b backend.Storage) Times {
	var t Times
	f, err := b.Sys()
	if err != nil {
		if info, err := b.Stat(); err == nil && info != nil {
			t.Modify = info.ModTime()
			t.Access = t.Modify
			t.Change = t.Modify
		}
		return t
	}
	info, err := f.Stat()
	if err != nil {
		return t
	}
	ts := times.Get(info)
	t.Access = ts.AccessTime()
	t.Modify = ts.ModTime()
	if ts.HasChangeTime() {
		t.Change = ts.ChangeTime()
	}
	return t
}

// Lookup resolves p against the root of the filesystem. A missing entry is reported
// with an error matching filesystem.ErrNotExist.
func (i *Image) Lookup(p string) (*bootfs.Node, error) {
	return i.FS.Lookup(p)
}

// Children lists a directory in on-disk order
func (i *Image) Children(n *bootfs.Node) ([]Entry, error) {
	if !n.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", n.Name())
	}
	entries := make([]Entry, 0, len(n.Children()))
	for _, c := range n.Children() {
		entries = append(entries, Entry{Name: c.Name(), IsDir: c.IsDir(), Size: c.Size()})
	}
	return entries, nil
}

// Read copies up to len(b) bytes of file n starting at off into b and returns how many
// were copied. Reading at or past the end of the file copies nothing and is not an error.
func (i *Image) Read(n *bootfs.Node, b []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("invalid read offset %d", off)
	}
	read, err := i.FS.ReadNode(n, b, off)
	if errors.Is(err, io.EOF) {
		err = nil
	}
	return read, err
}

// Close releases the backing storage
func (i *Image) Close() error {
	return i.Backend.Close()
}
