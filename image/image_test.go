package image_test

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/diskfs/go-bcfs/backend/file"
	"github.com/diskfs/go-bcfs/filesystem"
	"github.com/diskfs/go-bcfs/image"
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

var files = []testimage.File{
	{Path: "/boot/vmlinuz", Data: bytes.Repeat([]byte("k"), 1000)},
	{Path: "/boot/cmdline", Data: []byte("console=ttyS0")},
	{Path: "/version", Data: []byte("1.2.3\n")},
}

func load(t *testing.T, b []byte, offset int64) (*image.Image, error) {
	t.Helper()
	return image.Load(testhelper.FromBytes(b), image.Options{Offset: offset, Size: int64(len(b)), Logger: quietLogger()})
}

func TestLoadDirect(t *testing.T) {
	layout := (&testimage.Filesystem{Files: files}).Build()
	img, err := load(t, testimage.Pad(layout.Bytes, 0x200), 0x200)
	require.NoError(t, err)
	require.Nil(t, img.Partition)
	require.Equal(t, int64(0x200), img.BaseOffset)
	require.Equal(t, int64(0x200), img.RequestedOffset)

	n, err := img.Lookup("/boot/cmdline")
	require.NoError(t, err)
	require.Equal(t, int64(0x200)+layout.FileOffsets[1], n.Offset())
}

func TestLoadPartitionFallback(t *testing.T) {
	w := testimage.DefaultPartitionWrap()
	layout := (&testimage.Filesystem{Files: files}).Build()
	b := w.Build(layout.Bytes)

	img, err := load(t, b, 0)
	require.NoError(t, err)
	require.NotNil(t, img.Partition)
	require.Equal(t, w.Base(), img.BaseOffset)
	require.Equal(t, w.Base(), img.Partition.Base)

	n, err := img.Lookup("version")
	require.NoError(t, err)
	require.Equal(t, w.Base()+layout.FileOffsets[2], n.Offset())
	buf := make([]byte, 64)
	read, err := img.Read(n, buf, 0)
	require.NoError(t, err)
	require.Equal(t, "1.2.3\n", string(buf[:read]))
}

func TestLoadFailures(t *testing.T) {
	w := testimage.DefaultPartitionWrap()
	layout := (&testimage.Filesystem{Files: files}).Build()

	t.Run("not an image", func(t *testing.T) {
		_, err := load(t, make([]byte, 0x8000), 0)
		var le *image.LoadError
		require.ErrorAs(t, err, &le)
		require.Error(t, le.Direct)
		// the BOOT_WRAP failure is the one reported
		var fe *record.FormatError
		require.ErrorAs(t, err, &fe)
		require.Equal(t, "BOOT_WRAP", fe.Record)
	})

	t.Run("partition type missing", func(t *testing.T) {
		w := w
		w.InnerTypes = []uint32{1, 2}
		_, err := load(t, w.Build(layout.Bytes), 0)
		var tnf *partition.TypeNotFoundError
		require.ErrorAs(t, err, &tnf)
		require.Equal(t, partition.TypeFilesystem, tnf.Type)
	})

	t.Run("retry fails", func(t *testing.T) {
		broken := append([]byte{}, layout.Bytes...)
		copy(broken[record.FSHeaderSize+12:], "BAD!")
		_, err := load(t, w.Build(broken), 0)
		var le *image.LoadError
		require.ErrorAs(t, err, &le)
		require.Equal(t, w.Base(), le.Base)
		var fe *record.FormatError
		require.ErrorAs(t, err, &fe)
		require.Equal(t, "TOC", fe.Record)
		require.Equal(t, record.TagMismatch, fe.Kind)
	})

	t.Run("no fallback on string table errors", func(t *testing.T) {
		idx := uint32(50 << 4)
		bad := (&testimage.Filesystem{Files: []testimage.File{{Path: "x", RawPathIndex: &idx}}}).Build()
		_, err := load(t, bad.Bytes, 0)
		var le *image.LoadError
		require.ErrorAs(t, err, &le)
		require.Nil(t, le.Direct)
		var fe *record.FormatError
		require.ErrorAs(t, err, &fe)
		require.Equal(t, record.OutOfBounds, fe.Kind)
	})

	t.Run("negative offset", func(t *testing.T) {
		_, err := load(t, layout.Bytes, -1)
		require.Error(t, err)
	})
}

func TestImageAccessors(t *testing.T) {
	layout := (&testimage.Filesystem{Files: files}).Build()
	img, err := load(t, layout.Bytes, 0)
	require.NoError(t, err)

	root, err := img.Lookup("/")
	require.NoError(t, err)
	entries, err := img.Children(root)
	require.NoError(t, err)
	require.Equal(t, []image.Entry{{Name: "boot", IsDir: true}, {Name: "version", Size: 6}}, entries)

	boot, err := img.Lookup("boot")
	require.NoError(t, err)
	entries, err = img.Children(boot)
	require.NoError(t, err)
	require.Equal(t, "vmlinuz", entries[0].Name)
	require.Equal(t, "cmdline", entries[1].Name)

	kernel, err := img.Lookup("boot/vmlinuz")
	require.NoError(t, err)
	_, err = img.Children(kernel)
	require.Error(t, err)

	buf := make([]byte, 10)
	n, err := img.Read(kernel, buf, 995)
	require.NoError(t, err)
	require.Equal(t, 5, n)
	n, err = img.Read(kernel, buf, 1000)
	require.NoError(t, err)
	require.Zero(t, n)
	_, err = img.Read(kernel, buf, -1)
	require.Error(t, err)

	_, err = img.Lookup("boot/missing")
	require.ErrorIs(t, err, filesystem.ErrNotExist)
}

func TestLoadFromFile(t *testing.T) {
	layout := (&testimage.Filesystem{Files: files}).Build()
	p := filepath.Join(t.TempDir(), "boot.img")
	require.NoError(t, os.WriteFile(p, layout.Bytes, 0o600))

	b, err := file.OpenFromPath(p)
	require.NoError(t, err)
	img, err := image.Load(b, image.Options{Logger: quietLogger()})
	require.NoError(t, err)
	defer img.Close()

	require.Equal(t, int64(len(layout.Bytes)), img.Size)
	require.Equal(t, image.DeviceTypeFile, img.Type)
	require.False(t, img.Times.Modify.IsZero())
	require.False(t, img.Times.Access.IsZero())
}
