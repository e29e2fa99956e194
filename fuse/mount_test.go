package fuse

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/diskfs/go-bcfs/image"
	"github.com/diskfs/go-bcfs/testhelper"
	"github.com/diskfs/go-bcfs/testhelper/testimage"
	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// fuseAvailable checks whether /dev/fuse is accessible. Tests that
// need a real FUSE mount call this and skip if the device is absent.
func fuseAvailable(t *testing.T) {
	t.Helper()
	_, err := os.Stat("/dev/fuse")
	if err != nil {
		t.Skip("skipping: /dev/fuse not available")
	}
}

var testFiles = []testimage.File{
	{Path: "/boot/vmlinuz", Data: []byte("kernel image")},
	{Path: "/boot/config", Data: []byte("CONFIG_X=y\n")},
	{Path: "/etc/hostname", Data: []byte("bcfs\n")},
	{Path: "/etc/hostname", Data: []byte("shadowed\n")},
}

func testImage(t *testing.T) *image.Image {
	t.Helper()
	l := logrus.New()
	l.SetOutput(io.Discard)
	layout := (&testimage.Filesystem{Files: testFiles}).Build()
	wrapped := testimage.DefaultPartitionWrap().Build(layout.Bytes)
	img, err := image.Load(testhelper.FromBytes(wrapped), image.Options{Size: int64(len(wrapped)), Logger: l})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return img
}

func testTree(t *testing.T) *tree {
	t.Helper()
	l := logrus.New()
	l.SetOutput(io.Discard)
	return newTree(&Options{Image: testImage(t), Logger: l})
}

func TestNodeAttributes(t *testing.T) {
	tr := testTree(t)
	root := &dirNode{tree: tr, node: tr.img.FS.Root()}

	var out fuse.AttrOut
	if errno := root.Getattr(context.Background(), nil, &out); errno != 0 {
		t.Fatalf("Getattr: %v", errno)
	}
	if out.Mode != unix.S_IFDIR|0o555 {
		t.Errorf("root mode %o", out.Mode)
	}
	if out.Ino != 1 {
		t.Errorf("root inode %d, expected 1", out.Ino)
	}

	n, err := tr.img.Lookup("boot/config")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	f := &fileNode{tree: tr, node: n}
	out = fuse.AttrOut{}
	if errno := f.Getattr(context.Background(), nil, &out); errno != 0 {
		t.Fatalf("Getattr: %v", errno)
	}
	if out.Mode != unix.S_IFREG|0o444 || out.Size != uint64(len("CONFIG_X=y\n")) {
		t.Errorf("file mode %o size %d", out.Mode, out.Size)
	}
}

func TestReaddirOrder(t *testing.T) {
	tr := testTree(t)
	root := &dirNode{tree: tr, node: tr.img.FS.Root()}
	var names []string
	for _, e := range root.entries() {
		names = append(names, e.Name)
	}
	if len(names) != 2 || names[0] != "boot" || names[1] != "etc" {
		t.Errorf("root entries %v", names)
	}

	etc, _ := tr.img.Lookup("etc")
	d := &dirNode{tree: tr, node: etc}
	stream, errno := d.Readdir(context.Background())
	if errno != 0 {
		t.Fatalf("Readdir: %v", errno)
	}
	var count int
	for stream.HasNext() {
		e, errno := stream.Next()
		if errno != 0 {
			t.Fatalf("Next: %v", errno)
		}
		if e.Name != "hostname" || e.Mode != unix.S_IFREG {
			t.Errorf("unexpected entry %+v", e)
		}
		count++
	}
	if count != 1 {
		t.Errorf("duplicate entry listed, got %d entries", count)
	}
	if _, errno := stream.Next(); errno != syscall.EINVAL {
		t.Errorf("Next past end returned %v", errno)
	}
}

func TestOpenAndRead(t *testing.T) {
	tr := testTree(t)
	n, _ := tr.img.Lookup("boot/vmlinuz")
	f := &fileNode{tree: tr, node: n}

	for _, flags := range []uint32{unix.O_WRONLY, unix.O_RDWR, unix.O_RDONLY | unix.O_TRUNC} {
		if _, _, errno := f.Open(context.Background(), flags); errno != unix.EROFS {
			t.Errorf("Open(%#x) = %v, expected EROFS", flags, errno)
		}
	}
	_, fuseFlags, errno := f.Open(context.Background(), unix.O_RDONLY)
	if errno != 0 || fuseFlags&fuse.FOPEN_KEEP_CACHE == 0 {
		t.Errorf("Open read-only: flags %#x errno %v", fuseFlags, errno)
	}

	dest := make([]byte, 5)
	res, errno := f.Read(context.Background(), nil, dest, 7)
	if errno != 0 {
		t.Fatalf("Read: %v", errno)
	}
	b, _ := res.Bytes(make([]byte, 5))
	if string(b) != "image" {
		t.Errorf("read %q", b)
	}
	res, errno = f.Read(context.Background(), nil, dest, 100)
	if errno != 0 {
		t.Fatalf("Read past end: %v", errno)
	}
	if res.Size() != 0 {
		t.Errorf("read %d bytes past end", res.Size())
	}
}

func TestMountRequiresImage(t *testing.T) {
	if _, err := Mount(Options{Mountpoint: t.TempDir()}); err == nil {
		t.Error("expected error without image")
	}
	if _, err := Mount(Options{Image: testImage(t)}); err == nil {
		t.Error("expected error without mountpoint")
	}
}

func TestMount(t *testing.T) {
	fuseAvailable(t)
	mountpoint := filepath.Join(t.TempDir(), "mnt")
	server, err := Mount(Options{Mountpoint: mountpoint, Image: testImage(t)})
	if err != nil {
		t.Skipf("skipping: mount failed: %v", err)
	}
	t.Cleanup(func() {
		if err := server.Unmount(); err != nil {
			t.Errorf("Unmount: %v", err)
		}
	})

	got, err := os.ReadFile(filepath.Join(mountpoint, "etc", "hostname"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != "bcfs\n" {
		t.Errorf("got %q", got)
	}
	entries, err := os.ReadDir(filepath.Join(mountpoint, "boot"))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("expected 2 entries, got %d", len(entries))
	}
	if err := os.WriteFile(filepath.Join(mountpoint, "etc", "hostname"), []byte("x"), 0o644); err == nil {
		t.Error("write to read-only mount succeeded")
	}
}
