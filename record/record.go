// Package record decodes the fixed-layout records of a bcfs boot image.
//
// Every record starts with a 16 byte header carrying two four character tags and the
// declared size of the record. Decoders check both tags and the declared size against
// the constants of the record type before interpreting any other field.
//
// All multi-byte integers are little-endian.
package record

import (
	"encoding/binary"
	"fmt"
)

// Tag is a four character record tag, stored on disk as a little-endian uint32
type Tag uint32

// tags found in the header of each record type
const (
	TagCP                  Tag = '_' | 'C'<<8 | 'P'<<16 | '_'<<24
	TagBootWrap            Tag = 'B' | 'C'<<8 | 'W'<<16 | 'Z'<<24
	TagPartitionHeader     Tag = 'R' | 'H'<<8 | 'D'<<16 | 'P'<<24
	TagSubPartition        Tag = 'Y' | 'E'<<8 | 'D'<<16 | 'P'<<24
	TagSubPartitionLocator Tag = 'E' | 'E'<<8 | 'D'<<16 | 'P'<<24
	TagFSHeader            Tag = '_' | 'H'<<8 | 'P'<<16 | '_'<<24
	TagTOC                 Tag = '_' | 'C'<<8 | 'Z'<<16 | 'K'<<24
)

// sizes of every record type, in bytes
const (
	HeaderSize              = 0x10
	BootWrapSize            = 0x1000
	PartitionHeaderSize     = 0x200
	SubPartitionSize        = 0x200
	SubPartitionLocatorSize = 0x40
	FSHeaderSize            = 0xc00
	TOCSlotSize             = 0x40
	TOCSize                 = HeaderSize + tocReservedSize + TOCSlotCount*TOCSlotSize + tocReserved2Size + SignatureSize
	FileIndexSlotSize       = 0x28
	// FileIndexSlotStride is the distance between two file index slots; the bytes past
	// FileIndexSlotSize are padding
	FileIndexSlotStride  = 0x100
	StringDescriptorSize = 0x10

	// TOCSlotCount is the number of region descriptors in a TOC
	TOCSlotCount = 16
	// SignatureSize is the size of the opaque signature block that ends a TOC
	SignatureSize = 0x706 + 0x27f5

	tocReservedSize  = 0xc0
	tocReserved2Size = 0x34
)

// positional roles of the TOC slots
const (
	SlotStrings  = 0
	SlotReserved = 1
	SlotFiles    = 2
)

// MakeTag returns the tag made of the four characters of s. Shorter strings are padded with NUL.
func MakeTag(s string) Tag {
	var b [4]byte
	copy(b[:], s)
	return Tag(binary.LittleEndian.Uint32(b[:]))
}

func (t Tag) String() string {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(t))
	out := make([]byte, 0, 4)
	for _, c := range b {
		if c < 32 || c > 126 {
			return fmt.Sprintf("0x%08x", uint32(t))
		}
		out = append(out, c)
	}
	return string(out)
}

// Header is the common header at the start of every record
type Header struct {
	Magic1  Tag
	Unknown int32
	// Size is the declared size of the whole record, including the header
	Size     uint16
	Unknown2 uint16
	Magic2   Tag
}

func headerFromBytes(b []byte) Header {
	return Header{
		Magic1:   Tag(binary.LittleEndian.Uint32(b[0:4])),
		Unknown:  int32(binary.LittleEndian.Uint32(b[4:8])),
		Size:     binary.LittleEndian.Uint16(b[8:10]),
		Unknown2: binary.LittleEndian.Uint16(b[10:12]),
		Magic2:   Tag(binary.LittleEndian.Uint32(b[12:16])),
	}
}

func (h Header) put(b []byte) {
	binary.LittleEndian.PutUint32(b[0:4], uint32(h.Magic1))
	binary.LittleEndian.PutUint32(b[4:8], uint32(h.Unknown))
	binary.LittleEndian.PutUint16(b[8:10], h.Size)
	binary.LittleEndian.PutUint16(b[10:12], h.Unknown2)
	binary.LittleEndian.PutUint32(b[12:16], uint32(h.Magic2))
}

// NewHeader returns a valid header for a record with the given second tag and size
func NewHeader(magic2 Tag, size int) Header {
	return Header{Magic1: TagCP, Magic2: magic2, Size: uint16(size)}
}

// Validate checks the header tags and declared size against the expected values.
// Tags are checked before the size.
func (h Header) Validate(record string, magic2 Tag, size int) error {
	if h.Magic1 != TagCP {
		return NewTagMismatchError(record, TagCP, h.Magic1)
	}
	if h.Magic2 != magic2 {
		return NewTagMismatchError(record, magic2, h.Magic2)
	}
	if int(h.Size) != size {
		return NewSizeMismatchError(record, size, int(h.Size))
	}
	return nil
}

func checkLength(b []byte, record string, size int) error {
	if len(b) < size {
		return fmt.Errorf("cannot read %s from %d bytes, fewer than record size of %d bytes", record, len(b), size)
	}
	return nil
}

// BootWrap is the outermost record of a wrapped image. It points to the partition header.
type BootWrap struct {
	Header
	PartitionOffset uint64
}

// BootWrapFromBytes decodes and validates a BOOT_WRAP record
func BootWrapFromBytes(b []byte) (*BootWrap, error) {
	if err := checkLength(b, "BOOT_WRAP", BootWrapSize); err != nil {
		return nil, err
	}
	h := headerFromBytes(b)
	if err := h.Validate("BOOT_WRAP", TagBootWrap, BootWrapSize); err != nil {
		return nil, err
	}
	return &BootWrap{
		Header:          h,
		PartitionOffset: binary.LittleEndian.Uint64(b[16:24]),
	}, nil
}

// ToBytes encodes the record, reserved bytes are zero
func (r *BootWrap) ToBytes() []byte {
	b := make([]byte, BootWrapSize)
	r.Header.put(b)
	binary.LittleEndian.PutUint64(b[16:24], r.PartitionOffset)
	return b
}

// PartitionHeader describes a table of sub-partition slots that follows it
type PartitionHeader struct {
	Header
	// NumSectors is the stride in bytes between two sub-partition slots
	NumSectors  uint32
	Reserved    uint32
	NumElements uint32
}

// PartitionHeaderFromBytes decodes and validates a PARTITION_HEADER record
func PartitionHeaderFromBytes(b []byte) (*PartitionHeader, error) {
	if err := checkLength(b, "PARTITION_HEADER", PartitionHeaderSize); err != nil {
		return nil, err
	}
	h := headerFromBytes(b)
	if err := h.Validate("PARTITION_HEADER", TagPartitionHeader, PartitionHeaderSize); err != nil {
		return nil, err
	}
	return &PartitionHeader{
		Header:      h,
		NumSectors:  binary.LittleEndian.Uint32(b[16:20]),
		Reserved:    binary.LittleEndian.Uint32(b[20:24]),
		NumElements: binary.LittleEndian.Uint32(b[24:28]),
	}, nil
}

// ToBytes encodes the record, reserved bytes are zero
func (r *PartitionHeader) ToBytes() []byte {
	b := make([]byte, PartitionHeaderSize)
	r.Header.put(b)
	binary.LittleEndian.PutUint32(b[16:20], r.NumSectors)
	binary.LittleEndian.PutUint32(b[20:24], r.Reserved)
	binary.LittleEndian.PutUint32(b[24:28], r.NumElements)
	return b
}

// SubPartition is a single slot of a partition table.
//
// SubPartitionFromBytes does not reject a slot whose tags or size are wrong: images in the
// wild carry slots that are only identified by PartitionType. Use Validate to check the
// header explicitly.
type SubPartition struct {
	Header
	Reserved1     uint32
	PartitionType uint32
	Reserved2     uint32
}

// SubPartitionFromBytes decodes a SUBPARTITION record without validating its header
func SubPartitionFromBytes(b []byte) (*SubPartition, error) {
	if err := checkLength(b, "SUBPARTITION", SubPartitionSize); err != nil {
		return nil, err
	}
	return &SubPartition{
		Header:        headerFromBytes(b),
		Reserved1:     binary.LittleEndian.Uint32(b[16:20]),
		PartitionType: binary.LittleEndian.Uint32(b[20:24]),
		Reserved2:     binary.LittleEndian.Uint32(b[24:28]),
	}, nil
}

// Validate checks the tags and declared size of the slot
func (r *SubPartition) Validate() error {
	return r.Header.Validate("SUBPARTITION", TagSubPartition, SubPartitionSize)
}

// ToBytes encodes the record, reserved bytes are zero
func (r *SubPartition) ToBytes() []byte {
	b := make([]byte, SubPartitionSize)
	r.Header.put(b)
	binary.LittleEndian.PutUint32(b[16:20], r.Reserved1)
	binary.LittleEndian.PutUint32(b[20:24], r.PartitionType)
	binary.LittleEndian.PutUint32(b[24:28], r.Reserved2)
	return b
}

// SubPartitionLocator immediately follows a SubPartition and holds the relative offset
// of the region the sub-partition describes
type SubPartitionLocator struct {
	Header
	Offset uint32
}

// SubPartitionLocatorFromBytes decodes and validates a SUBPARTITION_LOCATOR record
func SubPartitionLocatorFromBytes(b []byte) (*SubPartitionLocator, error) {
	if err := checkLength(b, "SUBPARTITION_LOCATOR", SubPartitionLocatorSize); err != nil {
		return nil, err
	}
	h := headerFromBytes(b)
	if err := h.Validate("SUBPARTITION_LOCATOR", TagSubPartitionLocator, SubPartitionLocatorSize); err != nil {
		return nil, err
	}
	return &SubPartitionLocator{
		Header: h,
		Offset: binary.LittleEndian.Uint32(b[16:20]),
	}, nil
}

// ToBytes encodes the record, reserved bytes are zero
func (r *SubPartitionLocator) ToBytes() []byte {
	b := make([]byte, SubPartitionLocatorSize)
	r.Header.put(b)
	binary.LittleEndian.PutUint32(b[16:20], r.Offset)
	return b
}

// FSHeader is the first record of the filesystem region
type FSHeader struct {
	Header
	// Checksum is carried but never verified
	Checksum uint32
}

// FSHeaderFromBytes decodes and validates an FS_HEADER record
func FSHeaderFromBytes(b []byte) (*FSHeader, error) {
	if err := checkLength(b, "FS_HEADER", FSHeaderSize); err != nil {
		return nil, err
	}
	h := headerFromBytes(b)
	if err := h.Validate("FS_HEADER", TagFSHeader, FSHeaderSize); err != nil {
		return nil, err
	}
	return &FSHeader{
		Header:   h,
		Checksum: binary.LittleEndian.Uint32(b[16:20]),
	}, nil
}

// ToBytes encodes the record, reserved bytes are zero
func (r *FSHeader) ToBytes() []byte {
	b := make([]byte, FSHeaderSize)
	r.Header.put(b)
	binary.LittleEndian.PutUint32(b[16:20], r.Checksum)
	return b
}

// TOCSlot describes one region of the filesystem. The Offset is relative to the
// filesystem base. Slot headers are not validated.
type TOCSlot struct {
	Header
	NumElements int32
	Reserved1   uint32
	Offset      uint32
	Reserved2   [9]uint32
}

func tocSlotFromBytes(b []byte) TOCSlot {
	s := TOCSlot{
		Header:      headerFromBytes(b),
		NumElements: int32(binary.LittleEndian.Uint32(b[16:20])),
		Reserved1:   binary.LittleEndian.Uint32(b[20:24]),
		Offset:      binary.LittleEndian.Uint32(b[24:28]),
	}
	for i := range s.Reserved2 {
		s.Reserved2[i] = binary.LittleEndian.Uint32(b[28+4*i : 32+4*i])
	}
	return s
}

func (s *TOCSlot) put(b []byte) {
	s.Header.put(b)
	binary.LittleEndian.PutUint32(b[16:20], uint32(s.NumElements))
	binary.LittleEndian.PutUint32(b[20:24], s.Reserved1)
	binary.LittleEndian.PutUint32(b[24:28], s.Offset)
	for i, v := range s.Reserved2 {
		binary.LittleEndian.PutUint32(b[28+4*i:32+4*i], v)
	}
}

// Count returns the number of elements in the region; negative counts are treated as empty
func (s *TOCSlot) Count() int {
	if s.NumElements < 0 {
		return 0
	}
	return int(s.NumElements)
}

// TOC is the table of contents of the filesystem. Slot roles are positional,
// see SlotStrings and SlotFiles.
type TOC struct {
	Header
	Slots [TOCSlotCount]TOCSlot
	// Signature is the trailing signature block, kept verbatim and never interpreted
	Signature []byte
}

// TOCFromBytes decodes and validates a TOC record
func TOCFromBytes(b []byte) (*TOC, error) {
	if err := checkLength(b, "TOC", TOCSize); err != nil {
		return nil, err
	}
	h := headerFromBytes(b)
	if err := h.Validate("TOC", TagTOC, TOCSize); err != nil {
		return nil, err
	}
	toc := &TOC{
		Header:    h,
		Signature: make([]byte, SignatureSize),
	}
	start := HeaderSize + tocReservedSize
	for i := range toc.Slots {
		pos := start + i*TOCSlotSize
		toc.Slots[i] = tocSlotFromBytes(b[pos : pos+TOCSlotSize])
	}
	copy(toc.Signature, b[TOCSize-SignatureSize:TOCSize])
	return toc, nil
}

// ToBytes encodes the record, reserved bytes are zero
func (r *TOC) ToBytes() []byte {
	b := make([]byte, TOCSize)
	r.Header.put(b)
	start := HeaderSize + tocReservedSize
	for i := range r.Slots {
		pos := start + i*TOCSlotSize
		r.Slots[i].put(b[pos : pos+TOCSlotSize])
	}
	copy(b[TOCSize-SignatureSize:], r.Signature)
	return b
}

// FileIndexSlot is one entry of the file table
type FileIndexSlot struct {
	Header
	// Offset of the file contents, relative to the file region
	Offset uint64
	Size   uint64
	// PathIndex is the encoded string table index of the full path, see PathStringIndex
	PathIndex uint32
	// FilenameIndex is decoded but not used
	FilenameIndex uint32
}

// FileIndexSlotFromBytes decodes a FILE_INDEX_SLOT record. Slot headers are not validated.
func FileIndexSlotFromBytes(b []byte) (*FileIndexSlot, error) {
	if err := checkLength(b, "FILE_INDEX_SLOT", FileIndexSlotSize); err != nil {
		return nil, err
	}
	return &FileIndexSlot{
		Header:        headerFromBytes(b),
		Offset:        binary.LittleEndian.Uint64(b[16:24]),
		Size:          binary.LittleEndian.Uint64(b[24:32]),
		PathIndex:     binary.LittleEndian.Uint32(b[32:36]),
		FilenameIndex: binary.LittleEndian.Uint32(b[36:40]),
	}, nil
}

// PathStringIndex returns the string table index of the path. The low four bits of the
// stored value are not part of the index.
func (r *FileIndexSlot) PathStringIndex() int {
	return int(r.PathIndex >> 4)
}

// ToBytes encodes the slot into a full stride, padding is zero
func (r *FileIndexSlot) ToBytes() []byte {
	b := make([]byte, FileIndexSlotStride)
	r.Header.put(b)
	binary.LittleEndian.PutUint64(b[16:24], r.Offset)
	binary.LittleEndian.PutUint64(b[24:32], r.Size)
	binary.LittleEndian.PutUint32(b[32:36], r.PathIndex)
	binary.LittleEndian.PutUint32(b[36:40], r.FilenameIndex)
	return b
}

// StringDescriptor locates one string of the string table. It has no header.
type StringDescriptor struct {
	Size uint64
	// Offset is relative to the string region
	Offset uint64
}

// StringDescriptorFromBytes decodes a STRING_DESCRIPTOR
func StringDescriptorFromBytes(b []byte) (*StringDescriptor, error) {
	if err := checkLength(b, "STRING_DESCRIPTOR", StringDescriptorSize); err != nil {
		return nil, err
	}
	return &StringDescriptor{
		Size:   binary.LittleEndian.Uint64(b[0:8]),
		Offset: binary.LittleEndian.Uint64(b[8:16]),
	}, nil
}

// ToBytes encodes the descriptor
func (r *StringDescriptor) ToBytes() []byte {
	b := make([]byte, StringDescriptorSize)
	binary.LittleEndian.PutUint64(b[0:8], r.Size)
	binary.LittleEndian.PutUint64(b[8:16], r.Offset)
	return b
}
