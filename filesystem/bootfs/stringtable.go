package bootfs

import (
	"bytes"
	"fmt"
	"io"

	"github.com/diskfs/go-bcfs/record"
	"github.com/sirupsen/logrus"
)

// maxUnsizedStrings bounds the preallocation of a string table in an image of unknown size
const maxUnsizedStrings = 1024

// StringTable holds the strings of the filesystem in on-disk descriptor order.
// It is immutable once loaded.
type StringTable struct {
	entries [][]byte
}

// Len returns the number of strings
func (st *StringTable) Len() int {
	return len(st.entries)
}

// Bytes returns string i. The returned slice must not be modified.
func (st *StringTable) Bytes(i int) ([]byte, error) {
	if i < 0 || i >= len(st.entries) {
		return nil, record.NewOutOfBoundsError("string table", i, len(st.entries))
	}
	return st.entries[i], nil
}

// String returns string i up to its first NUL byte, if any
func (st *StringTable) String(i int) (string, error) {
	b, err := st.Bytes(i)
	if err != nil {
		return "", err
	}
	if end := bytes.IndexByte(b, 0); end >= 0 {
		b = b[:end]
	}
	return string(b), nil
}

// readStringTable loads count string descriptors starting at region, and the string each
// one points to. size is the size of the image, or 0 when unknown, and bounds every read.
func readStringTable(r io.ReaderAt, size, region int64, count int, log logrus.FieldLogger) (*StringTable, error) {
	// the count comes from the image; only trust it as far as the image can hold it
	capacity := min(count, maxUnsizedStrings)
	if size > 0 {
		capacity = count
		if fit := (size - region) / record.StringDescriptorSize; fit < int64(capacity) {
			capacity = int(max(fit, 0))
		}
	}
	st := &StringTable{entries: make([][]byte, 0, capacity)}
	for i := 0; i < count; i++ {
		descOffset := region + int64(i)*record.StringDescriptorSize
		b, err := record.ReadBytes(r, descOffset, record.StringDescriptorSize)
		if err != nil {
			return nil, fmt.Errorf("could not read string descriptor %d: %w", i, err)
		}
		sd, err := record.StringDescriptorFromBytes(b)
		if err != nil {
			return nil, fmt.Errorf("could not interpret string descriptor %d: %w", i, err)
		}
		off, err := absoluteOffset(region, sd.Offset)
		if err != nil {
			return nil, fmt.Errorf("string %d: %w", i, err)
		}
		if err := checkReadable(size, off, sd.Size); err != nil {
			return nil, fmt.Errorf("string %d: %w", i, err)
		}
		log.WithFields(logrus.Fields{
			"index":  i,
			"offset": off,
			"size":   sd.Size,
		}).Trace("loading string")
		s, err := record.ReadBytes(r, off, int(sd.Size))
		if err != nil {
			return nil, fmt.Errorf("could not read string %d: %w", i, err)
		}
		st.entries = append(st.entries, s)
	}
	return st, nil
}
