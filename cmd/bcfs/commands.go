package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/diskfs/go-bcfs/fuse"
	"github.com/diskfs/go-bcfs/record"
	"github.com/diskfs/go-bcfs/sync"
	"github.com/diskfs/go-bcfs/util"
)

func runInfo(e *env, _ []string) error {
	img := e.img
	w := tabwriter.NewWriter(e.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "image:\t%s\n", e.cfg.Image)
	fmt.Fprintf(w, "device type:\t%s\n", img.Type)
	fmt.Fprintf(w, "size:\t%d\n", img.Size)
	fmt.Fprintf(w, "requested offset:\t%#x\n", img.RequestedOffset)
	fmt.Fprintf(w, "filesystem offset:\t%#x\n", img.BaseOffset)
	if res := img.Partition; res != nil {
		fmt.Fprintf(w, "partition header:\t%#x\n", res.PartitionOffset)
		fmt.Fprintf(w, "container slot:\t%#x\n", res.ContainerSlot)
		fmt.Fprintf(w, "inner table:\t%#x\n", res.InnerTable)
		fmt.Fprintf(w, "filesystem slot:\t%#x\n", res.FilesystemSlot)
	} else {
		fmt.Fprintf(w, "partition tables:\tnot used\n")
	}
	toc := img.FS.TOC()
	fmt.Fprintf(w, "uuid:\t%s\n", img.FS.UUID())
	fmt.Fprintf(w, "checksum:\t%#08x\n", img.FS.Header().Checksum)
	fmt.Fprintf(w, "strings:\t%d\n", toc.Slots[record.SlotStrings].NumElements)
	fmt.Fprintf(w, "files:\t%d\n", toc.Slots[record.SlotFiles].NumElements)
	printTime(w, "modified", img.Times.Modify)
	printTime(w, "accessed", img.Times.Access)
	printTime(w, "changed", img.Times.Change)
	return w.Flush()
}

func printTime(w io.Writer, label string, t time.Time) {
	if t.IsZero() {
		return
	}
	fmt.Fprintf(w, "%s:\t%s\n", label, t.Format(time.RFC3339))
}

func runLs(e *env, args []string) error {
	p := "/"
	if len(args) == 1 {
		p = args[0]
	}
	n, err := e.img.Lookup(p)
	if err != nil {
		return err
	}
	if !n.IsDir() {
		fmt.Fprintf(e.stdout, "-r--r--r-- %10d %s\n", n.Size(), n.Name())
		return nil
	}
	entries, err := e.img.Children(n)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.IsDir {
			fmt.Fprintf(e.stdout, "dr-xr-xr-x %10s %s/\n", "", entry.Name)
			continue
		}
		fmt.Fprintf(e.stdout, "-r--r--r-- %10d %s\n", entry.Size, entry.Name)
	}
	return nil
}

func runCat(e *env, args []string) error {
	n, err := e.img.Lookup(args[0])
	if err != nil {
		return err
	}
	if n.IsDir() {
		return fmt.Errorf("%s is a directory", args[0])
	}
	copied, err := io.Copy(e.stdout, e.img.FS.NodeReader(n))
	if err != nil {
		return err
	}
	if copied != n.Size() {
		return fmt.Errorf("%s: read %d of %d bytes, image is truncated", args[0], copied, n.Size())
	}
	return nil
}

func runStat(e *env, args []string) error {
	n, err := e.img.Lookup(args[0])
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(e.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "path:\t%s\n", args[0])
	if n.IsDir() {
		fmt.Fprintf(w, "type:\tdirectory\n")
		fmt.Fprintf(w, "entries:\t%d\n", len(n.Children()))
	} else {
		fmt.Fprintf(w, "type:\tfile\n")
		fmt.Fprintf(w, "size:\t%d\n", n.Size())
		fmt.Fprintf(w, "offset:\t%#x\n", n.Offset())
	}
	printTime(w, "modified", e.img.Times.Modify)
	return w.Flush()
}

func runExtract(e *env, args []string) error {
	codec, err := sync.ParseCodec(e.cfg.Extract.Codec)
	if err != nil {
		return err
	}
	return sync.Extract(e.img.FS, args[0], sync.ExtractOptions{
		Codec:  codec,
		Xattrs: e.cfg.Extract.Xattrs,
		Logger: e.log,
	})
}

func runVerify(e *env, args []string) error {
	codec, err := sync.ParseCodec(e.cfg.Extract.Codec)
	if err != nil {
		return err
	}
	if err := sync.Verify(e.img.FS, args[0], codec); err != nil {
		return fmt.Errorf("%s does not match the image: %w", args[0], err)
	}
	fmt.Fprintf(e.stdout, "%s matches the image\n", args[0])
	return nil
}

func runHash(e *env, _ []string) error {
	entries, err := sync.Manifest(e.img.FS)
	if err != nil {
		return err
	}
	return sync.WriteManifest(e.stdout, entries)
}

func runDump(e *env, _ []string) error {
	base := e.img.BaseOffset
	for _, rec := range []struct {
		name   string
		offset int64
		size   int
	}{
		{"FS_HEADER", base, record.FSHeaderSize},
		{"TOC", base + record.FSHeaderSize, record.TOCSize},
	} {
		b, err := record.ReadBytes(e.img.Backend, rec.offset, rec.size)
		if err != nil {
			return fmt.Errorf("could not read %s: %w", rec.name, err)
		}
		fmt.Fprintf(e.stdout, "%s at %#x, %d bytes\n", rec.name, rec.offset, rec.size)
		fmt.Fprint(e.stdout, util.DumpBytes(b, util.DumpOptions{Base: rec.offset, ASCII: true}))
		fmt.Fprintln(e.stdout)
	}
	return nil
}

func runMount(e *env, args []string) error {
	server, err := fuse.Mount(fuse.Options{
		Mountpoint: args[0],
		Image:      e.img,
		AllowOther: e.cfg.Mount.AllowOther,
		Debug:      e.cfg.Mount.Debug,
		Logger:     e.log,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(e.stdout, "mounted at %s, interrupt to unmount\n", args[0])
	<-e.ctx.Done()
	if err := server.Unmount(); err != nil {
		return fmt.Errorf("could not unmount %s: %w", args[0], err)
	}
	return nil
}
