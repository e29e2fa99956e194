package record

import (
	"errors"
	"fmt"
	"io"
)

// Kind classifies a FormatError
type Kind int

const (
	// TagMismatch one of the two header tags did not match the record type
	TagMismatch Kind = iota
	// SizeMismatch the declared record size did not match the record type
	SizeMismatch
	// OutOfBounds an index referenced an element past the end of its table
	OutOfBounds
)

func (k Kind) String() string {
	switch k {
	case TagMismatch:
		return "tag mismatch"
	case SizeMismatch:
		return "size mismatch"
	case OutOfBounds:
		return "out of bounds"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// FormatError reports structurally invalid image data
type FormatError struct {
	Kind   Kind
	Record string
	// Expected and Actual hold tags, sizes or indexes depending on Kind
	Expected uint64
	Actual   uint64
}

func (e *FormatError) Error() string {
	switch e.Kind {
	case TagMismatch:
		return fmt.Sprintf("%s: %s, expected %s but found %s", e.Record, e.Kind, Tag(e.Expected), Tag(e.Actual))
	case OutOfBounds:
		return fmt.Sprintf("%s: %s, index %d with only %d entries", e.Record, e.Kind, e.Actual, e.Expected)
	default:
		return fmt.Sprintf("%s: %s, expected %d but found %d", e.Record, e.Kind, e.Expected, e.Actual)
	}
}

// NewTagMismatchError reports a header tag that does not match the record type
func NewTagMismatchError(record string, expected, actual Tag) *FormatError {
	return &FormatError{
		Kind:     TagMismatch,
		Record:   record,
		Expected: uint64(expected),
		Actual:   uint64(actual),
	}
}

// NewSizeMismatchError reports a declared size that does not match the record type
func NewSizeMismatchError(record string, expected, actual int) *FormatError {
	return &FormatError{
		Kind:     SizeMismatch,
		Record:   record,
		Expected: uint64(expected),
		Actual:   uint64(actual),
	}
}

// NewOutOfBoundsError reports an index past the end of a table of count entries
func NewOutOfBoundsError(record string, index, count int) *FormatError {
	return &FormatError{
		Kind:     OutOfBounds,
		Record:   record,
		Expected: uint64(count),
		Actual:   uint64(index),
	}
}

// ReadError reports a failed or short read of the backing image
type ReadError struct {
	Offset int64
	Size   int
	Read   int
	Err    error
}

func (e *ReadError) Error() string {
	if e.Err != nil && !errors.Is(e.Err, io.ErrUnexpectedEOF) {
		return fmt.Sprintf("could not read %d bytes at offset %#x: %v", e.Size, e.Offset, e.Err)
	}
	return fmt.Sprintf("only could read %d of %d bytes at offset %#x", e.Read, e.Size, e.Offset)
}

func (e *ReadError) Unwrap() error {
	return e.Err
}

// ReadBytes reads exactly size bytes at offset off. A short read fails with a
// *ReadError wrapping io.ErrUnexpectedEOF.
func ReadBytes(r io.ReaderAt, off int64, size int) ([]byte, error) {
	if off < 0 {
		return nil, &ReadError{Offset: off, Size: size, Err: errors.New("negative offset")}
	}
	b := make([]byte, size)
	n, err := r.ReadAt(b, off)
	if n == size {
		return b, nil
	}
	if err == nil || errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}
	return nil, &ReadError{Offset: off, Size: size, Read: n, Err: err}
}
