package partition_test

import (
	"errors"
	"io"
	"testing"

	"github.com/diskfs/go-bcfs/partition"
	"github.com/diskfs/go-bcfs/record"
	"github.com/diskfs/go-bcfs/testhelper"
	"github.com/diskfs/go-bcfs/testhelper/testimage"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestResolve(t *testing.T) {
	w := testimage.DefaultPartitionWrap()
	image := w.Build(make([]byte, record.FSHeaderSize))

	res, err := partition.Resolve(testhelper.FromBytes(image), 0, 0, quietLogger())
	require.NoError(t, err)
	require.Equal(t, w.Base(), res.Base)
	require.Equal(t, int64(w.PartitionOffset), res.PartitionOffset)
	// type 4 is the second outer slot, type 6 the first inner slot
	require.Equal(t, int64(w.PartitionOffset)+record.PartitionHeaderSize+int64(w.Stride), res.ContainerSlot)
	require.Equal(t, int64(w.PartitionOffset+uint64(w.OuterOffset)), res.InnerTable)
	require.Equal(t, res.InnerTable+record.PartitionHeaderSize, res.FilesystemSlot)
	require.Equal(t, w.OuterOffset, res.ContainerLocator.Offset)
	require.Equal(t, w.InnerOffset, res.FilesystemLocator.Offset)
}

func TestResolveIgnoresSlotTags(t *testing.T) {
	w := testimage.DefaultPartitionWrap()
	w.JunkSlotTags = true
	image := w.Build(nil)
	res, err := partition.Resolve(testhelper.FromBytes(image), 0, 0, quietLogger())
	require.NoError(t, err)
	require.Equal(t, w.Base(), res.Base)
}

func TestResolveTypeNotFound(t *testing.T) {
	tests := []struct {
		name    string
		outer   []uint32
		inner   []uint32
		missing uint32
	}{
		{"no container", []uint32{1, 2, 3}, []uint32{6}, partition.TypeContainer},
		{"no filesystem", []uint32{4, 2}, []uint32{5, 5}, partition.TypeFilesystem},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := testimage.DefaultPartitionWrap()
			w.OuterTypes = tt.outer
			w.InnerTypes = tt.inner
			image := w.Build(nil)
			_, err := partition.Resolve(testhelper.FromBytes(image), 0, 0, quietLogger())
			var tnf *partition.TypeNotFoundError
			require.ErrorAs(t, err, &tnf)
			require.Equal(t, tt.missing, tnf.Type)
			require.Equal(t, uint32(len(tt.outer)), tnf.Searched)
		})
	}
}

func TestResolveFormatErrors(t *testing.T) {
	w := testimage.DefaultPartitionWrap()
	tests := []struct {
		name   string
		mutate func(b []byte)
		record string
	}{
		{"boot wrap", func(b []byte) { copy(b[12:], "NOPE") }, "BOOT_WRAP"},
		{"partition header", func(b []byte) { copy(b[w.PartitionOffset+12:], "NOPE") }, "PARTITION_HEADER"},
		{"locator", func(b []byte) {
			copy(b[int(w.PartitionOffset)+record.PartitionHeaderSize+int(w.Stride)+record.SubPartitionSize+12:], "NOPE")
		}, "SUBPARTITION_LOCATOR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			image := w.Build(nil)
			tt.mutate(image)
			_, err := partition.Resolve(testhelper.FromBytes(image), 0, 0, quietLogger())
			var fe *record.FormatError
			require.ErrorAs(t, err, &fe)
			require.Equal(t, record.TagMismatch, fe.Kind)
			require.Equal(t, tt.record, fe.Record)
		})
	}
}

func TestResolveShortImage(t *testing.T) {
	w := testimage.DefaultPartitionWrap()
	image := w.Build(nil)[:w.PartitionOffset+100]
	_, err := partition.Resolve(testhelper.FromBytes(image), 0, 0, quietLogger())
	var re *record.ReadError
	require.ErrorAs(t, err, &re)
}

func TestFindType(t *testing.T) {
	w := testimage.DefaultPartitionWrap()
	image := w.Build(nil)
	hdr := &record.PartitionHeader{NumSectors: w.Stride, NumElements: uint32(len(w.OuterTypes))}
	base := int64(w.PartitionOffset)

	for i, typ := range w.OuterTypes {
		off, found, err := partition.FindType(testhelper.FromBytes(image), 0, hdr, base, typ, quietLogger())
		require.NoError(t, err)
		require.True(t, found)
		require.Equal(t, base+record.PartitionHeaderSize+int64(i)*int64(w.Stride), off)
	}

	off, found, err := partition.FindType(testhelper.FromBytes(image), 0, hdr, base, 99, quietLogger())
	require.NoError(t, err)
	require.False(t, found)
	require.Zero(t, off)

	// a count of zero never reads
	boom := errors.New("boom")
	failing := &testhelper.FileImpl{Reader: func([]byte, int64) (int, error) { return 0, boom }}
	_, found, err = partition.FindType(failing, 0, &record.PartitionHeader{}, 0, 4, quietLogger())
	require.NoError(t, err)
	require.False(t, found)

	_, _, err = partition.FindType(failing, 0, hdr, 0, 4, quietLogger())
	require.ErrorIs(t, err, boom)
}

func TestFindTypeBoundedScan(t *testing.T) {
	w := testimage.DefaultPartitionWrap()
	image := w.Build(nil)
	base := int64(w.PartitionOffset)
	var reads int
	read := testhelper.BytesReader(image)
	counting := &testhelper.FileImpl{Reader: func(b []byte, offset int64) (int, error) {
		reads++
		return read(b, offset)
	}}

	// every slot of a zero stride table is the first one
	hdr := &record.PartitionHeader{NumSectors: 0, NumElements: 0xffffffff}
	_, found, err := partition.FindType(counting, 0, hdr, base, 99, quietLogger())
	require.NoError(t, err)
	require.False(t, found)
	require.Equal(t, 1, reads)

	off, found, err := partition.FindType(counting, 0, hdr, base, 1, quietLogger())
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, base+record.PartitionHeaderSize, off)

	// a count far beyond the image stops at its end
	reads = 0
	hdr = &record.PartitionHeader{NumSectors: w.Stride, NumElements: 0xffffffff}
	_, found, err = partition.FindType(counting, int64(len(image)), hdr, base, 99, quietLogger())
	require.NoError(t, err)
	require.False(t, found)
	maxSlots := (int64(len(image))-base-record.PartitionHeaderSize)/int64(w.Stride) + 1
	require.LessOrEqual(t, int64(reads), maxSlots)

	// the same scan of an image of unknown size runs into its end
	_, _, err = partition.FindType(counting, 0, hdr, base, 99, quietLogger())
	var re *record.ReadError
	require.ErrorAs(t, err, &re)
}
