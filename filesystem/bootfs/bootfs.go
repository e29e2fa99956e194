// Package bootfs reads the filesystem region of a bcfs boot image.
//
// The region starts with an FS_HEADER record followed by a TOC. TOC slot 0 locates the
// string table, slot 2 the file table; slot 1 is unused. Every file table entry names
// its path through the string table and is loaded into an in-memory tree of
// directories and files, each file holding an absolute byte range into the image.
//
// The loaded filesystem is immutable and every read is a positioned read against the
// backing storage, so a FileSystem and the Files opened from it can be used from
// several goroutines at once.
package bootfs

import (
	"errors"
	"fmt"
	"io"
	iofs "io/fs"
	"math"
	"os"
	"sort"
	"time"

	"github.com/diskfs/go-bcfs/backend"
	"github.com/diskfs/go-bcfs/filesystem"
	"github.com/diskfs/go-bcfs/record"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	maxOffset int64 = math.MaxInt64
	// maxUnsizedRead bounds a single string read when the image size is unknown
	maxUnsizedRead = 64 << 20
)

// namespace for the name based volume UUID derived from the TOC signature
var volumeNamespace = uuid.MustParse("3b0f64a5-62c4-4f4e-a3b2-5c9e1d7d8a20")

// FileSystem is a loaded bcfs filesystem
type FileSystem struct {
	backend backend.Storage
	start   int64
	size    int64
	header  *record.FSHeader
	toc     *record.TOC
	strings *StringTable
	root    *Node
	modTime time.Time
	log     logrus.FieldLogger
}

// Read loads the filesystem whose FS_HEADER is at absolute offset start.
//
// size is the size of the whole image, used to bound reads, or 0 if unknown.
// log may be nil. A FS_HEADER or TOC that does not carry the expected tags and size
// fails with a *record.FormatError, which callers can use to try another base offset.
func Read(b backend.Storage, size, start int64, log logrus.FieldLogger) (*FileSystem, error) {
	if log == nil {
		log = discardLogger()
	}
	if start < 0 {
		return nil, fmt.Errorf("invalid filesystem start %d", start)
	}
	log = log.WithField("base", start)
	log.Debug("loading filesystem")

	hb, err := record.ReadBytes(b, start, record.FSHeaderSize)
	if err != nil {
		return nil, fmt.Errorf("could not read FS_HEADER bytes: %w", err)
	}
	header, err := record.FSHeaderFromBytes(hb)
	if err != nil {
		return nil, fmt.Errorf("could not interpret FS_HEADER at %#x: %w", start, err)
	}

	tocOffset := start + record.FSHeaderSize
	log.WithField("offset", tocOffset).Debug("loading TOC")
	tb, err := record.ReadBytes(b, tocOffset, record.TOCSize)
	if err != nil {
		return nil, fmt.Errorf("could not read TOC bytes: %w", err)
	}
	toc, err := record.TOCFromBytes(tb)
	if err != nil {
		return nil, fmt.Errorf("could not interpret TOC at %#x: %w", tocOffset, err)
	}

	stringSlot := toc.Slots[record.SlotStrings]
	stringRegion := start + int64(stringSlot.Offset)
	log.WithFields(logrus.Fields{
		"offset": stringRegion,
		"count":  stringSlot.NumElements,
	}).Debug("loading string table")
	strs, err := readStringTable(b, size, stringRegion, stringSlot.Count(), log)
	if err != nil {
		return nil, fmt.Errorf("could not load string table: %w", err)
	}

	fileSlot := toc.Slots[record.SlotFiles]
	fileRegion := start + int64(fileSlot.Offset)
	log.WithFields(logrus.Fields{
		"offset": fileRegion,
		"count":  fileSlot.NumElements,
	}).Debug("loading file table")
	root := NewRoot()
	if err := readFileTable(b, fileRegion, fileSlot.Count(), strs, root, log); err != nil {
		return nil, fmt.Errorf("could not load file table: %w", err)
	}

	fs := &FileSystem{
		backend: b,
		start:   start,
		size:    size,
		header:  header,
		toc:     toc,
		strings: strs,
		root:    root,
		log:     log,
	}
	if info, err := b.Stat(); err == nil && info != nil {
		fs.modTime = info.ModTime()
	}
	log.WithFields(logrus.Fields{
		"strings": strs.Len(),
		"files":   fileSlot.Count(),
	}).Debug("filesystem loaded")
	return fs, nil
}

// absoluteOffset adds a relative offset read from the image to base, rejecting overflow
func absoluteOffset(base int64, rel uint64) (int64, error) {
	if base < 0 || rel > uint64(maxOffset-base) {
		return 0, fmt.Errorf("offset %#x relative to %#x is out of range", rel, base)
	}
	return base + int64(rel), nil
}

// checkReadable makes sure length bytes at off lie inside an image of the given size
func checkReadable(size, off int64, length uint64) error {
	if size <= 0 {
		if length > maxUnsizedRead {
			return fmt.Errorf("refusing to read %d bytes at %#x from an image of unknown size", length, off)
		}
		return nil
	}
	if off > size || length > uint64(size-off) {
		return &record.ReadError{Offset: off, Size: int(min(length, uint64(math.MaxInt32))), Read: int(max(size-off, 0)), Err: io.ErrUnexpectedEOF}
	}
	return nil
}

// interface guard
var _ filesystem.FileSystem = (*FileSystem)(nil)

// Type returns the type code for the filesystem. Always returns filesystem.TypeBootFS
func (fs *FileSystem) Type() filesystem.Type {
	return filesystem.TypeBootFS
}

// Label the format has no volume label, always returns ""
func (fs *FileSystem) Label() string {
	return ""
}

// UUID returns a name based UUID of the TOC signature block. Images with the same
// signature get the same UUID.
func (fs *FileSystem) UUID() string {
	return uuid.NewSHA1(volumeNamespace, fs.toc.Signature).String()
}

// ModTime returns the modification time of the backing image, reported for every node
func (fs *FileSystem) ModTime() time.Time {
	return fs.modTime
}

// Close does nothing; the backing storage belongs to the caller
func (fs *FileSystem) Close() error {
	return nil
}

// Start returns the absolute offset of the FS_HEADER
func (fs *FileSystem) Start() int64 {
	return fs.start
}

// Header returns the decoded FS_HEADER
func (fs *FileSystem) Header() *record.FSHeader {
	return fs.header
}

// TOC returns the decoded table of contents
func (fs *FileSystem) TOC() *record.TOC {
	return fs.toc
}

// Strings returns the string table
func (fs *FileSystem) Strings() *StringTable {
	return fs.strings
}

// Root returns the root directory
func (fs *FileSystem) Root() *Node {
	return fs.root
}

// Lookup returns the node at path p. "", "/" and "." resolve to the root.
func (fs *FileSystem) Lookup(p string) (*Node, error) {
	if p == "." {
		return fs.root, nil
	}
	n := fs.root.Lookup(p)
	if n == nil {
		return nil, &iofs.PathError{Op: "lookup", Path: p, Err: filesystem.ErrNotExist}
	}
	return n, nil
}

// ReadNode reads up to len(b) bytes of file n starting at off in the file. It returns
// the number of bytes read; at or past the end of the file that is 0 together with io.EOF.
// A file running past the end of the image reads short and is logged as truncated.
func (fs *FileSystem) ReadNode(n *Node, b []byte, off int64) (int, error) {
	if n.isDir {
		return 0, &iofs.PathError{Op: "read", Path: n.name, Err: errIsDir}
	}
	read, err := backend.Sub(fs.backend, n.offset, n.size).ReadAt(b, off)
	if errors.Is(err, io.EOF) && off >= 0 && off+int64(read) < n.size {
		fs.log.WithFields(logrus.Fields{
			"name":   n.name,
			"offset": n.offset,
			"size":   n.size,
			"read":   off + int64(read),
		}).Warn("file extends past the end of the image")
	}
	return read, err
}

// NodeReader returns a reader over the contents of file n
func (fs *FileSystem) NodeReader(n *Node) *io.SectionReader {
	return io.NewSectionReader(fs.backend, n.offset, n.size)
}

var errIsDir = errors.New("is a directory")

// io/fs style names: unrooted, slash separated, "." is the root
func (fs *FileSystem) lookupFS(op, name string) (*Node, error) {
	if !iofs.ValidPath(name) {
		return nil, &iofs.PathError{Op: op, Path: name, Err: iofs.ErrInvalid}
	}
	n, err := fs.Lookup(name)
	if err != nil {
		return nil, &iofs.PathError{Op: op, Path: name, Err: filesystem.ErrNotExist}
	}
	return n, nil
}

// Open returns an fs.File from which you can read the contents of a file
// Especially useful for doing fs.FS operations
func (fs *FileSystem) Open(name string) (iofs.File, error) {
	n, err := fs.lookupFS("open", name)
	if err != nil {
		return nil, err
	}
	return fs.newFile(n), nil
}

// OpenFile returns a read-only handle for the file or directory at path p. Any flag
// asking for write access, creation or truncation fails with filesystem.ErrReadonlyFilesystem.
func (fs *FileSystem) OpenFile(p string, flag int) (filesystem.File, error) {
	if flag&(os.O_WRONLY|os.O_RDWR|os.O_APPEND|os.O_CREATE|os.O_TRUNC) != 0 {
		return nil, &iofs.PathError{Op: "open", Path: p, Err: filesystem.ErrReadonlyFilesystem}
	}
	n, err := fs.Lookup(p)
	if err != nil {
		return nil, err
	}
	return fs.newFile(n), nil
}

// ReadDir return the contents of a given directory, sorted by name as io/fs requires.
// Siblings sharing a name keep their insertion order. Node.Children gives the
// unsorted on-disk order.
func (fs *FileSystem) ReadDir(name string) ([]iofs.DirEntry, error) {
	n, err := fs.lookupFS("readdir", name)
	if err != nil {
		return nil, err
	}
	if !n.isDir {
		return nil, &iofs.PathError{Op: "readdir", Path: name, Err: errors.New("not a directory")}
	}
	entries := fs.dirEntries(n)
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})
	return entries, nil
}

func (fs *FileSystem) dirEntries(n *Node) []iofs.DirEntry {
	entries := make([]iofs.DirEntry, 0, len(n.children))
	for _, child := range n.children {
		entries = append(entries, fs.fileInfo(child))
	}
	return entries
}

// Stat return fs.FileInfo about a specific file path.
func (fs *FileSystem) Stat(name string) (iofs.FileInfo, error) {
	n, err := fs.lookupFS("stat", name)
	if err != nil {
		return nil, err
	}
	return fs.fileInfo(n), nil
}

// ReadFile implements ReadFileFS to read an entire file into memory
func (fs *FileSystem) ReadFile(name string) ([]byte, error) {
	f, err := fs.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func discardLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}
