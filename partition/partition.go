// Package partition finds a filesystem wrapped in boot and partition records.
//
// A wrapped image starts with a BOOT_WRAP record naming the offset of a PARTITION_HEADER.
// The header is followed by a table of SUBPARTITION slots at a fixed stride, each slot
// trailed by a SUBPARTITION_LOCATOR. The slot of type TypeContainer locates a second
// table, relative to the partition header, and the slot of type TypeFilesystem in that
// table locates the filesystem, relative to the second table.
package partition

import (
	"fmt"
	"io"

	"github.com/diskfs/go-bcfs/record"
	"github.com/sirupsen/logrus"
)

const (
	// TypeContainer is the slot type pointing at the inner partition table
	TypeContainer uint32 = 4
	// TypeFilesystem is the slot type pointing at the filesystem
	TypeFilesystem uint32 = 6

	maxOffset = 1<<63 - 1
)

// Resolution records every step of resolving a wrapped filesystem
type Resolution struct {
	BootWrap *record.BootWrap
	// Header is the partition header both tables are scanned with
	Header *record.PartitionHeader
	// PartitionOffset is the absolute offset of the partition header
	PartitionOffset int64
	// ContainerSlot is the absolute offset of the TypeContainer slot
	ContainerSlot    int64
	ContainerLocator *record.SubPartitionLocator
	// InnerTable is the absolute offset of the second table
	InnerTable int64
	// FilesystemSlot is the absolute offset of the TypeFilesystem slot
	FilesystemSlot    int64
	FilesystemLocator *record.SubPartitionLocator
	// Base is the absolute offset of the filesystem
	Base int64
}

// FindType scans the slots of the table whose header is at base, using the stride and
// count of hdr, and returns the absolute offset of the first slot of partitionType.
// found is false when no slot matched; that is not an error.
//
// size is the size of the image, or 0 if unknown. Slots that would end past it are not
// read. With a stride of 0 every slot is the same one and it is read once.
//
// Slot tags are not checked, only the type field. A slot with unexpected tags is logged
// and still compared.
func FindType(r io.ReaderAt, size int64, hdr *record.PartitionHeader, base int64, partitionType uint32, log logrus.FieldLogger) (offset int64, found bool, err error) {
	count := hdr.NumElements
	if hdr.NumSectors == 0 {
		count = min(count, 1)
	}
	for i := uint32(0); i < count; i++ {
		slot := base + record.PartitionHeaderSize + int64(i)*int64(hdr.NumSectors)
		if size > 0 && slot > size-record.SubPartitionSize {
			log.WithFields(logrus.Fields{
				"slot":   i,
				"offset": slot,
			}).Debug("sub-partition slot past end of image, stopping scan")
			break
		}
		b, err := record.ReadBytes(r, slot, record.SubPartitionSize)
		if err != nil {
			return 0, false, fmt.Errorf("could not read sub-partition slot %d: %w", i, err)
		}
		sp, err := record.SubPartitionFromBytes(b)
		if err != nil {
			return 0, false, fmt.Errorf("could not interpret sub-partition slot %d: %w", i, err)
		}
		if verr := sp.Validate(); verr != nil {
			log.WithFields(logrus.Fields{
				"slot":   i,
				"offset": slot,
			}).Debugf("ignoring invalid sub-partition header: %v", verr)
		}
		log.WithFields(logrus.Fields{
			"slot":   i,
			"offset": slot,
			"type":   sp.PartitionType,
		}).Trace("sub-partition slot")
		if sp.PartitionType == partitionType {
			return slot, true, nil
		}
	}
	return 0, false, nil
}

// Resolve follows the BOOT_WRAP record at offset to the filesystem it wraps. size is
// the size of the image, or 0 if unknown, and bounds the slot scans. Any record that
// does not decode, or a table without the required slot type, fails the resolution; a
// missing slot type is reported as *TypeNotFoundError. log must not be nil.
func Resolve(r io.ReaderAt, size, offset int64, log logrus.FieldLogger) (*Resolution, error) {
	log = log.WithField("boot_wrap", offset)
	b, err := record.ReadBytes(r, offset, record.BootWrapSize)
	if err != nil {
		return nil, fmt.Errorf("could not read BOOT_WRAP bytes: %w", err)
	}
	bw, err := record.BootWrapFromBytes(b)
	if err != nil {
		return nil, fmt.Errorf("could not interpret BOOT_WRAP at %#x: %w", offset, err)
	}
	if bw.PartitionOffset > uint64(maxOffset) {
		return nil, fmt.Errorf("partition offset %#x out of range", bw.PartitionOffset)
	}
	res := &Resolution{BootWrap: bw, PartitionOffset: int64(bw.PartitionOffset)}

	b, err = record.ReadBytes(r, res.PartitionOffset, record.PartitionHeaderSize)
	if err != nil {
		return nil, fmt.Errorf("could not read PARTITION_HEADER bytes: %w", err)
	}
	res.Header, err = record.PartitionHeaderFromBytes(b)
	if err != nil {
		return nil, fmt.Errorf("could not interpret PARTITION_HEADER at %#x: %w", res.PartitionOffset, err)
	}
	log.WithFields(logrus.Fields{
		"offset":   res.PartitionOffset,
		"stride":   res.Header.NumSectors,
		"elements": res.Header.NumElements,
	}).Debug("partition header")

	res.ContainerSlot, res.ContainerLocator, err = locate(r, size, res.Header, res.PartitionOffset, TypeContainer, log)
	if err != nil {
		return nil, err
	}
	res.InnerTable = res.PartitionOffset + int64(res.ContainerLocator.Offset)

	res.FilesystemSlot, res.FilesystemLocator, err = locate(r, size, res.Header, res.InnerTable, TypeFilesystem, log)
	if err != nil {
		return nil, err
	}
	res.Base = res.InnerTable + int64(res.FilesystemLocator.Offset)
	log.WithField("base", res.Base).Debug("resolved filesystem base")
	return res, nil
}

// locate finds the slot of partitionType in the table at base and decodes its locator
func locate(r io.ReaderAt, size int64, hdr *record.PartitionHeader, base int64, partitionType uint32, log logrus.FieldLogger) (int64, *record.SubPartitionLocator, error) {
	slot, found, err := FindType(r, size, hdr, base, partitionType, log)
	if err != nil {
		return 0, nil, fmt.Errorf("could not search for partition type %d: %w", partitionType, err)
	}
	if !found {
		return 0, nil, NewTypeNotFoundError(partitionType, base, hdr.NumElements)
	}
	locOffset := slot + record.SubPartitionSize
	b, err := record.ReadBytes(r, locOffset, record.SubPartitionLocatorSize)
	if err != nil {
		return 0, nil, fmt.Errorf("could not read SUBPARTITION_LOCATOR bytes: %w", err)
	}
	loc, err := record.SubPartitionLocatorFromBytes(b)
	if err != nil {
		return 0, nil, fmt.Errorf("could not interpret SUBPARTITION_LOCATOR at %#x: %w", locOffset, err)
	}
	log.WithFields(logrus.Fields{
		"type":   partitionType,
		"slot":   slot,
		"offset": loc.Offset,
	}).Debug("found sub-partition")
	return slot, loc, nil
}
