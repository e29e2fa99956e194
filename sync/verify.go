package sync

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/zeebo/blake3"
)

// CompareFS compares two fs.FS instances for identical structure and contents.
func CompareFS(origFS, targetFS fs.FS) error {
	return compareTrees(origFS, targetFS, CodecNone)
}

// Verify checks that dir holds exactly what Extract with codec wrote for src. Compressed
// files are decompressed before their contents are compared.
func Verify(src fs.FS, dir string, codec Codec) error {
	return compareTrees(src, os.DirFS(dir), codec)
}

func compareTrees(origFS, targetFS fs.FS, codec Codec) error {
	// seen holds image paths, written the target paths they map to
	seen := make(map[string]struct{})
	written := make(map[string]struct{})

	err := fs.WalkDir(origFS, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		// only the first of several same-named entries is materialized
		if _, ok := seen[p]; ok {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		seen[p] = struct{}{}
		target := p
		if !d.IsDir() {
			target += codec.Ext()
		}
		written[target] = struct{}{}

		td, err := fs.Stat(targetFS, target)
		if err != nil {
			return fmt.Errorf("path %q missing in target FS: %w", target, err)
		}
		if d.IsDir() != td.IsDir() {
			return fmt.Errorf("type mismatch at %q", p)
		}
		if d.IsDir() {
			return nil
		}

		od, err := d.Info()
		if err != nil {
			return err
		}
		// compressed sizes differ, the digest covers them
		if codec == CodecNone && od.Size() != td.Size() {
			return fmt.Errorf("size mismatch at %q", p)
		}
		return compareFileContents(origFS, targetFS, p, target, codec)
	})
	if err != nil {
		return err
	}

	// Ensure target FS has no extra files
	return fs.WalkDir(targetFS, ".", func(p string, _ fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if _, ok := written[p]; !ok {
			return fmt.Errorf("extra path %q in target FS", p)
		}
		return nil
	})
}

func compareFileContents(a, b fs.FS, name, target string, codec Codec) error {
	want, _, err := digestFile(a, name, CodecNone)
	if err != nil {
		return err
	}
	got, _, err := digestFile(b, target, codec)
	if err != nil {
		return fmt.Errorf("could not read %q: %w", target, err)
	}
	if !bytes.Equal(want, got) {
		return fmt.Errorf("content mismatch at %q", name)
	}
	return nil
}

// digestFile returns the blake3 digest and length of the decoded contents of name
func digestFile(fsys fs.FS, name string, codec Codec) (sum []byte, n int64, err error) {
	f, err := fsys.Open(name)
	if err != nil {
		return nil, 0, err
	}
	defer func() { _ = f.Close() }()

	r, err := codec.NewReader(f)
	if err != nil {
		return nil, 0, err
	}
	defer func() {
		if cerr := r.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	h := blake3.New()
	n, err = io.CopyBuffer(h, r, make([]byte, copyBufferSize))
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, n, err
	}
	return h.Sum(nil), n, nil
}
