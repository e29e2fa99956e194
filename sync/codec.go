package sync

import (
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/ulikunitz/xz"
)

// Codec compresses extracted files
type Codec string

const (
	CodecNone Codec = ""
	CodecXZ   Codec = "xz"
	CodecLZ4  Codec = "lz4"
	CodecZstd Codec = "zstd"
)

// ParseCodec accepts "", "none", "xz", "lz4" and "zstd"
func ParseCodec(s string) (Codec, error) {
	switch Codec(s) {
	case CodecNone, "none":
		return CodecNone, nil
	case CodecXZ, CodecLZ4, CodecZstd:
		return Codec(s), nil
	default:
		return CodecNone, fmt.Errorf("unknown codec %q", s)
	}
}

// Ext is the suffix appended to the names of files compressed with c
func (c Codec) Ext() string {
	switch c {
	case CodecXZ:
		return ".xz"
	case CodecLZ4:
		return ".lz4"
	case CodecZstd:
		return ".zst"
	default:
		return ""
	}
}

// NewWriter returns a writer compressing into w. Close it to flush.
func (c Codec) NewWriter(w io.Writer) (io.WriteCloser, error) {
	switch c {
	case CodecNone:
		return nopWriteCloser{w}, nil
	case CodecXZ:
		return xz.NewWriter(w)
	case CodecLZ4:
		return lz4.NewWriter(w), nil
	case CodecZstd:
		return zstd.NewWriter(w)
	default:
		return nil, fmt.Errorf("unknown codec %q", string(c))
	}
}

// NewReader returns a reader decompressing r
func (c Codec) NewReader(r io.Reader) (io.ReadCloser, error) {
	switch c {
	case CodecNone:
		return io.NopCloser(r), nil
	case CodecXZ:
		xr, err := xz.NewReader(r)
		if err != nil {
			return nil, err
		}
		return io.NopCloser(xr), nil
	case CodecLZ4:
		return io.NopCloser(lz4.NewReader(r)), nil
	case CodecZstd:
		d, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		return d.IOReadCloser(), nil
	default:
		return nil, fmt.Errorf("unknown codec %q", string(c))
	}
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error {
	return nil
}
