package filesystem

import (
	"io"
	"io/fs"
)

// File a reference to a single file or directory in a read-only filesystem
type File interface {
	fs.ReadDirFile
	io.Seeker
	io.ReaderAt
}
