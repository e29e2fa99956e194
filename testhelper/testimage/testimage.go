// Package testimage synthesizes bcfs images for tests, both bare filesystems and
// filesystems wrapped in boot and partition records.
package testimage

import (
	"github.com/diskfs/go-bcfs/record"
)

const (
	// DefaultStringRegion is where the string region starts, relative to the filesystem base
	DefaultStringRegion = 0x4000
)

// File is a single file to place in the filesystem
type File struct {
	Path string
	Data []byte
	// RawPathIndex, when set, is stored verbatim as the encoded path index of the slot
	RawPathIndex *uint32
}

// Filesystem describes the contents of a synthetic filesystem region
type Filesystem struct {
	Files []File
	// Strings are placed in the string table before the file paths
	Strings []string
	// PathFlags are or'd into the low four bits of every encoded path index
	PathFlags uint32
	Checksum  uint32
	Signature []byte
	// StringRegion is the string region offset, zero means DefaultStringRegion
	StringRegion uint32
}

// Layout is a built filesystem region and where its pieces landed
type Layout struct {
	Bytes        []byte
	StringRegion int64
	FileRegion   int64
	// FileOffsets are the offsets of the contents of each file, relative to the filesystem base
	FileOffsets []int64
	Strings     []string
}

func align(n, a int) int {
	if n%a == 0 {
		return n
	}
	return n + a - n%a
}

// Build lays out the filesystem region. The first byte of the result is the FS_HEADER.
func (f *Filesystem) Build() *Layout {
	stringRegion := int(f.StringRegion)
	if stringRegion == 0 {
		stringRegion = DefaultStringRegion
	}

	// string table: the extra strings, then every distinct path in order of appearance
	strs := append([]string{}, f.Strings...)
	pathIndex := map[string]int{}
	for _, file := range f.Files {
		if _, ok := pathIndex[file.Path]; ok {
			continue
		}
		pathIndex[file.Path] = len(strs)
		strs = append(strs, file.Path)
	}

	descriptors := make([]byte, 0, len(strs)*record.StringDescriptorSize)
	var stringData []byte
	dataStart := align(len(strs)*record.StringDescriptorSize, 16)
	for _, s := range strs {
		sd := record.StringDescriptor{Size: uint64(len(s)), Offset: uint64(dataStart + len(stringData))}
		descriptors = append(descriptors, sd.ToBytes()...)
		stringData = append(stringData, s...)
		// keep every string NUL terminated on disk, the way real images are
		stringData = append(stringData, 0)
		for len(stringData)%8 != 0 {
			stringData = append(stringData, 0)
		}
	}
	stringRegionSize := dataStart + len(stringData)

	fileRegion := align(stringRegion+stringRegionSize, 0x1000)
	slotsSize := len(f.Files) * record.FileIndexSlotStride
	fileDataStart := align(slotsSize, 0x100)
	var fileData []byte
	slots := make([]byte, 0, slotsSize)
	fileOffsets := make([]int64, 0, len(f.Files))
	for _, file := range f.Files {
		relative := fileDataStart + len(fileData)
		idx := uint32(pathIndex[file.Path])<<4 | (f.PathFlags & 0xf)
		if file.RawPathIndex != nil {
			idx = *file.RawPathIndex
		}
		slot := record.FileIndexSlot{
			Offset:        uint64(relative),
			Size:          uint64(len(file.Data)),
			PathIndex:     idx,
			FilenameIndex: idx,
		}
		slots = append(slots, slot.ToBytes()...)
		fileOffsets = append(fileOffsets, int64(fileRegion+relative))
		fileData = append(fileData, file.Data...)
		fileData = append(fileData, make([]byte, align(len(fileData), 0x10)-len(fileData))...)
	}

	total := fileRegion + fileDataStart + len(fileData)
	b := make([]byte, total)

	hdr := record.FSHeader{Header: record.NewHeader(record.TagFSHeader, record.FSHeaderSize), Checksum: f.Checksum}
	copy(b, hdr.ToBytes())

	toc := record.TOC{Header: record.NewHeader(record.TagTOC, record.TOCSize), Signature: f.Signature}
	toc.Slots[record.SlotStrings] = record.TOCSlot{NumElements: int32(len(strs)), Offset: uint32(stringRegion)}
	toc.Slots[record.SlotFiles] = record.TOCSlot{NumElements: int32(len(f.Files)), Offset: uint32(fileRegion)}
	copy(b[record.FSHeaderSize:], toc.ToBytes())

	copy(b[stringRegion:], descriptors)
	copy(b[stringRegion+dataStart:], stringData)
	copy(b[fileRegion:], slots)
	copy(b[fileRegion+fileDataStart:], fileData)

	return &Layout{
		Bytes:        b,
		StringRegion: int64(stringRegion),
		FileRegion:   int64(fileRegion),
		FileOffsets:  fileOffsets,
		Strings:      strs,
	}
}

// PartitionWrap describes the boot and partition records placed in front of a filesystem.
//
// The BOOT_WRAP record is written at offset zero. Its partition header at PartitionOffset
// is followed by one sub-partition slot per entry of OuterTypes, each trailed by a locator
// holding OuterOffset. The inner table, at PartitionOffset+OuterOffset, uses the same
// stride and count; its slots carry InnerTypes and locators holding InnerOffset. The
// filesystem lands at PartitionOffset+OuterOffset+InnerOffset.
type PartitionWrap struct {
	PartitionOffset uint64
	Stride          uint32
	OuterTypes      []uint32
	InnerTypes      []uint32
	OuterOffset     uint32
	InnerOffset     uint32
	// JunkSlotTags writes sub-partition slots whose tags and size are wrong
	JunkSlotTags bool
}

// DefaultPartitionWrap finds type 4 in the second outer slot and type 6 in the first inner slot
func DefaultPartitionWrap() PartitionWrap {
	return PartitionWrap{
		PartitionOffset: 0x1000,
		Stride:          0x400,
		OuterTypes:      []uint32{1, 4, 2},
		InnerTypes:      []uint32{6, 3},
		OuterOffset:     0x2000,
		InnerOffset:     0x1000,
	}
}

// Base returns the absolute offset the filesystem is placed at
func (w PartitionWrap) Base() int64 {
	return int64(w.PartitionOffset) + int64(w.OuterOffset) + int64(w.InnerOffset)
}

func (w PartitionWrap) table(b []byte, start int, types []uint32, count int, locatorOffset uint32) {
	ph := record.PartitionHeader{
		Header:      record.NewHeader(record.TagPartitionHeader, record.PartitionHeaderSize),
		NumSectors:  w.Stride,
		NumElements: uint32(count),
	}
	copy(b[start:], ph.ToBytes())
	for i, t := range types {
		pos := start + record.PartitionHeaderSize + i*int(w.Stride)
		sp := record.SubPartition{
			Header:        record.NewHeader(record.TagSubPartition, record.SubPartitionSize),
			PartitionType: t,
		}
		if w.JunkSlotTags {
			sp.Header = record.Header{Magic1: record.MakeTag("JUNK"), Magic2: record.MakeTag("SLOT"), Size: 1}
		}
		copy(b[pos:], sp.ToBytes())
		loc := record.SubPartitionLocator{
			Header: record.NewHeader(record.TagSubPartitionLocator, record.SubPartitionLocatorSize),
			Offset: locatorOffset,
		}
		copy(b[pos+record.SubPartitionSize:], loc.ToBytes())
	}
}

// Build returns a full image with fs placed behind the boot and partition records
func (w PartitionWrap) Build(fs []byte) []byte {
	base := int(w.Base())
	b := make([]byte, base+len(fs))

	bw := record.BootWrap{
		Header:          record.NewHeader(record.TagBootWrap, record.BootWrapSize),
		PartitionOffset: w.PartitionOffset,
	}
	copy(b, bw.ToBytes())

	count := len(w.OuterTypes)
	w.table(b, int(w.PartitionOffset), w.OuterTypes, count, w.OuterOffset)
	inner := w.InnerTypes
	if len(inner) > count {
		inner = inner[:count]
	}
	w.table(b, int(w.PartitionOffset)+int(w.OuterOffset), inner, count, w.InnerOffset)

	copy(b[base:], fs)
	return b
}

// Pad returns b preceded by n zero bytes
func Pad(b []byte, n int) []byte {
	out := make([]byte, n+len(b))
	copy(out[n:], b)
	return out
}
