// bcfs inspects bcfs boot images: it lists and reads files, extracts the tree to a
// directory, hashes and verifies contents, dumps raw records and mounts the image
// read-only through FUSE.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	bcfs "github.com/diskfs/go-bcfs"
	"github.com/diskfs/go-bcfs/image"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
)

// env is what every command runs with
type env struct {
	ctx    context.Context
	cfg    *Config
	img    *image.Image
	stdout io.Writer
	log    logrus.FieldLogger
}

type command struct {
	usage string
	help  string
	// args is the number of positional arguments after the command name, -1 for 0 or 1
	args int
	run  func(e *env, args []string) error
}

var commands = map[string]command{
	"info":    {usage: "info", help: "show where the filesystem was found and what it holds", args: 0, run: runInfo},
	"ls":      {usage: "ls [path]", help: "list a directory in on-disk order", args: -1, run: runLs},
	"cat":     {usage: "cat <path>", help: "write the contents of a file to stdout", args: 1, run: runCat},
	"stat":    {usage: "stat <path>", help: "show the size and location of a file or directory", args: 1, run: runStat},
	"extract": {usage: "extract <dir>", help: "write the tree to a directory", args: 1, run: runExtract},
	"verify":  {usage: "verify <dir>", help: "check a directory written by extract against the image", args: 1, run: runVerify},
	"hash":    {usage: "hash", help: "print the blake3 digest, size, offset and path of every file", args: 0, run: runHash},
	"dump":    {usage: "dump", help: "hex dump the FS_HEADER and TOC records", args: 0, run: runDump},
	"mount":   {usage: "mount <mountpoint>", help: "mount the image read-only until interrupted", args: 1, run: runMount},
}

// exitError carries a process exit code
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }
func (e *exitError) ExitCode() int { return e.code }

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		var coder interface{ ExitCode() int }
		if errors.As(err, &coder) {
			os.Exit(coder.ExitCode())
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	f := newFlags("bcfs", stderr)
	if err := f.set.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printHelp(f.set, stderr)
			return nil
		}
		return &exitError{code: 2, err: err}
	}
	if f.help {
		printHelp(f.set, stderr)
		return nil
	}

	positional := f.set.Args()
	if len(positional) == 0 {
		printHelp(f.set, stderr)
		return &exitError{code: 2, err: errors.New("no command given")}
	}
	name, rest := positional[0], positional[1:]
	cmd, ok := commands[name]
	if !ok {
		return &exitError{code: 2, err: fmt.Errorf("unknown command %q", name)}
	}
	switch {
	case cmd.args >= 0 && len(rest) != cmd.args:
		return &exitError{code: 2, err: fmt.Errorf("usage: bcfs %s", cmd.usage)}
	case cmd.args < 0 && len(rest) > 1:
		return &exitError{code: 2, err: fmt.Errorf("usage: bcfs %s", cmd.usage)}
	}

	cfg, err := f.resolve()
	if err != nil {
		return err
	}
	log, err := NewLogger(cfg, stderr)
	if err != nil {
		return &exitError{code: 2, err: err}
	}
	if cfg.Image == "" {
		return &exitError{code: 2, err: errors.New("no image given, use --image or the image key of the config file")}
	}
	offset, err := ParseOffset(cfg.Offset)
	if err != nil {
		return &exitError{code: 2, err: err}
	}

	img, err := bcfs.Open(cfg.Image, bcfs.WithOffset(offset), bcfs.WithLogger(log))
	if err != nil {
		return err
	}
	defer func() {
		if err := img.Close(); err != nil {
			log.WithError(err).Warn("could not close image")
		}
	}()

	return cmd.run(&env{ctx: ctx, cfg: cfg, img: img, stdout: stdout, log: log}, rest)
}

func printHelp(set *pflag.FlagSet, w io.Writer) {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	var b strings.Builder
	for _, name := range names {
		fmt.Fprintf(&b, "  %-20s %s\n", commands[name].usage, commands[name].help)
	}
	fmt.Fprintf(w, `bcfs reads bcfs boot images.

The filesystem is looked for at --offset. When there is none, the offset is taken
as the start of the BOOT_WRAP record and the partition tables behind it are followed.

Usage:
  bcfs --image <file> [flags] <command> [args]

Commands:
%s
Flags:
`, b.String())
	set.SetOutput(w)
	set.PrintDefaults()
}
