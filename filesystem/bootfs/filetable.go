package bootfs

import (
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/diskfs/go-bcfs/record"
	"github.com/sirupsen/logrus"
)

// readFileTable walks count file index slots starting at region and inserts every file
// into root. File offsets are absolute: region plus the offset stored in the slot.
func readFileTable(r io.ReaderAt, region int64, count int, strs *StringTable, root *Node, log logrus.FieldLogger) error {
	for i := 0; i < count; i++ {
		slotOffset := region + int64(i)*record.FileIndexSlotStride
		b, err := record.ReadBytes(r, slotOffset, record.FileIndexSlotSize)
		if err != nil {
			return fmt.Errorf("could not read file index slot %d: %w", i, err)
		}
		slot, err := record.FileIndexSlotFromBytes(b)
		if err != nil {
			return fmt.Errorf("could not interpret file index slot %d: %w", i, err)
		}
		idx := slot.PathStringIndex()
		if idx >= strs.Len() {
			return fmt.Errorf("file index slot %d at %#x: %w", i, slotOffset, record.NewOutOfBoundsError("path string", idx, strs.Len()))
		}
		p, err := strs.String(idx)
		if err != nil {
			return fmt.Errorf("file index slot %d: %w", i, err)
		}
		off, err := absoluteOffset(region, slot.Offset)
		if err != nil {
			return fmt.Errorf("file index slot %d: %w", i, err)
		}
		if slot.Size > math.MaxInt64 {
			return fmt.Errorf("file index slot %d: size %d is too large", i, slot.Size)
		}
		for _, component := range strings.Split(p, "/") {
			if len(component) > MaxNameLength {
				log.WithFields(logrus.Fields{
					"path":      p,
					"component": component,
				}).Warnf("path component longer than %d bytes is truncated", MaxNameLength)
			}
		}
		leaf, err := root.Insert(p)
		if err != nil {
			return fmt.Errorf("could not add file index slot %d with path %q: %w", i, p, err)
		}
		leaf.offset = off
		leaf.size = int64(slot.Size)
		log.WithFields(logrus.Fields{
			"index":  i,
			"path":   p,
			"offset": leaf.offset,
			"size":   leaf.size,
		}).Trace("loaded file")
	}
	return nil
}
