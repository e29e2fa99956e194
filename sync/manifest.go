package sync

import (
	"encoding/hex"
	"fmt"
	"io"

	"github.com/diskfs/go-bcfs/filesystem/bootfs"
	"github.com/zeebo/blake3"
)

// ManifestEntry describes one file of an image
type ManifestEntry struct {
	Path   string
	Offset int64
	Size   int64
	// Digest is the hex blake3 sum of the contents
	Digest string
}

// Manifest lists every file of fsys in on-disk order, duplicates included
func Manifest(fsys *bootfs.FileSystem) ([]ManifestEntry, error) {
	var entries []ManifestEntry
	buf := make([]byte, copyBufferSize)
	err := fsys.Root().Walk(func(p string, n *bootfs.Node) error {
		if n.IsDir() {
			return nil
		}
		h := blake3.New()
		copied, err := io.CopyBuffer(h, fsys.NodeReader(n), buf)
		if err != nil {
			return fmt.Errorf("could not hash %s: %w", p, err)
		}
		if copied != n.Size() {
			return fmt.Errorf("could not hash %s: read %d of %d bytes", p, copied, n.Size())
		}
		entries = append(entries, ManifestEntry{
			Path:   p,
			Offset: n.Offset(),
			Size:   n.Size(),
			Digest: hex.EncodeToString(h.Sum(nil)),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// WriteManifest writes entries one per line as "digest  size  offset  path"
func WriteManifest(w io.Writer, entries []ManifestEntry) error {
	for _, e := range entries {
		if _, err := fmt.Fprintf(w, "%s  %d  %#x  %s\n", e.Digest, e.Size, e.Offset, e.Path); err != nil {
			return err
		}
	}
	return nil
}
