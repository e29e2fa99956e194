package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/diskfs/go-bcfs/testhelper/testimage"
	"github.com/stretchr/testify/require"
)

var testFiles = []testimage.File{
	{Path: "/boot/vmlinuz", Data: []byte("kernel image")},
	{Path: "/boot/initrd", Data: []byte("initrd")},
	{Path: "/README", Data: []byte("read me\n")},
}

// writeImage writes a partition wrapped image and returns its path
func writeImage(t *testing.T) string {
	t.Helper()
	layout := (&testimage.Filesystem{Files: testFiles}).Build()
	b := testimage.DefaultPartitionWrap().Build(layout.Bytes)
	p := filepath.Join(t.TempDir(), "boot.img")
	require.NoError(t, os.WriteFile(p, b, 0o600))
	return p
}

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	err := run(context.Background(), args, &stdout, &stderr)
	return stdout.String(), err
}

func TestParseOffset(t *testing.T) {
	tests := []struct {
		in       string
		expected int64
		err      bool
	}{
		{"", 0, false},
		{"0", 0, false},
		{"4096", 4096, false},
		{"0x1000", 0x1000, false},
		{" 0X20 ", 0x20, false},
		{"0o10", 8, false},
		{"1_024", 1024, false},
		{"-1", 0, true},
		{"0xzz", 0, true},
		{"ten", 0, true},
	}
	for _, tt := range tests {
		v, err := ParseOffset(tt.in)
		if (err != nil) != tt.err {
			t.Errorf("ParseOffset(%q) error = %v", tt.in, err)
		}
		if v != tt.expected {
			t.Errorf("ParseOffset(%q) = %d, expected %d", tt.in, v, tt.expected)
		}
	}
}

func TestConfigFileAndFlags(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "bcfs.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
image: /from/file.img
offset: 0x800
log_level: debug
extract:
  codec: zstd
  xattrs: true
mount:
  allow_other: true
`), 0o600))

	f := newFlags("bcfs", &bytes.Buffer{})
	require.NoError(t, f.set.Parse([]string{"--config", cfgPath, "--offset", "0x1000", "--xattrs=false"}))
	cfg, err := f.resolve()
	require.NoError(t, err)
	require.Equal(t, "/from/file.img", cfg.Image)
	require.Equal(t, "0x1000", cfg.Offset)
	require.Equal(t, "debug", cfg.LogLevel)
	require.Equal(t, "text", cfg.LogFormat)
	require.Equal(t, "zstd", cfg.Extract.Codec)
	require.False(t, cfg.Extract.Xattrs)
	require.True(t, cfg.Mount.AllowOther)
	require.False(t, cfg.Mount.Debug)

	// without a file the flag defaults apply
	f = newFlags("bcfs", &bytes.Buffer{})
	require.NoError(t, f.set.Parse(nil))
	cfg, err = f.resolve()
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestConfigFileErrors(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("imaeg: typo\n"), 0o600))
	_, err := LoadConfig(bad)
	require.Error(t, err)

	_, err = LoadConfig(filepath.Join(dir, "missing.yaml"))
	require.ErrorIs(t, err, os.ErrNotExist)

	empty := filepath.Join(dir, "empty.yaml")
	require.NoError(t, os.WriteFile(empty, nil, 0o600))
	cfg, err := LoadConfig(empty)
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	log, err := NewLogger(&Config{LogLevel: "info", LogFormat: "json"}, &buf)
	require.NoError(t, err)
	log.WithField("offset", 16).Info("hello")
	require.Contains(t, buf.String(), `"offset":16`)

	_, err = NewLogger(&Config{LogLevel: "loud"}, &buf)
	require.Error(t, err)
	_, err = NewLogger(&Config{LogLevel: "info", LogFormat: "xml"}, &buf)
	require.Error(t, err)
}

func TestCommands(t *testing.T) {
	img := writeImage(t)
	base := testimage.DefaultPartitionWrap().Base()

	out, err := runCommand(t, "--image", img, "info")
	require.NoError(t, err)
	require.Contains(t, out, "filesystem offset:")
	require.Contains(t, out, "0x4000")
	require.Contains(t, out, "files:")
	require.Regexp(t, `device type:\s+file\n`, out)
	require.Equal(t, int64(0x4000), base)

	out, err = runCommand(t, "-i", img, "ls")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	require.True(t, strings.HasSuffix(lines[0], " boot/"), lines[0])
	require.True(t, strings.HasSuffix(lines[1], " README"), lines[1])

	out, err = runCommand(t, "-i", img, "ls", "/boot")
	require.NoError(t, err)
	require.Contains(t, out, "vmlinuz")
	require.Contains(t, out, "initrd")

	out, err = runCommand(t, "-i", img, "cat", "/boot/vmlinuz")
	require.NoError(t, err)
	require.Equal(t, "kernel image", out)

	out, err = runCommand(t, "-i", img, "stat", "boot/initrd")
	require.NoError(t, err)
	require.Contains(t, out, "size:")
	require.Regexp(t, `type:\s+file\n`, out)

	out, err = runCommand(t, "-i", img, "hash")
	require.NoError(t, err)
	require.Len(t, strings.Split(strings.TrimSpace(out), "\n"), len(testFiles))

	out, err = runCommand(t, "-i", img, "dump")
	require.NoError(t, err)
	require.Contains(t, out, "FS_HEADER at 0x4000")
	require.Contains(t, out, "_HP_")

	dest := filepath.Join(t.TempDir(), "out")
	_, err = runCommand(t, "-i", img, "--codec", "lz4", "extract", dest)
	require.NoError(t, err)
	out, err = runCommand(t, "-i", img, "--codec", "lz4", "verify", dest)
	require.NoError(t, err)
	require.Contains(t, out, "matches the image")
	_, err = runCommand(t, "-i", img, "verify", dest)
	require.Error(t, err)
}

func TestCommandErrors(t *testing.T) {
	img := writeImage(t)
	tests := []struct {
		name string
		args []string
		code int
	}{
		{"no command", []string{"-i", img}, 2},
		{"unknown command", []string{"-i", img, "frobnicate"}, 2},
		{"missing argument", []string{"-i", img, "cat"}, 2},
		{"extra argument", []string{"-i", img, "ls", "a", "b"}, 2},
		{"no image", []string{"info"}, 2},
		{"bad offset", []string{"-i", img, "--offset", "-5", "info"}, 2},
		{"bad flag", []string{"--no-such-flag", "info"}, 2},
		{"missing file", []string{"-i", img, "cat", "/nope"}, 0},
		{"cat directory", []string{"-i", img, "cat", "/boot"}, 0},
		{"not an image", []string{"-i", img, "--offset", "0x10", "info"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runCommand(t, tt.args...)
			require.Error(t, err)
			var exit *exitError
			if tt.code == 0 {
				require.False(t, errors.As(err, &exit), "unexpected usage error: %v", err)
				return
			}
			require.ErrorAs(t, err, &exit)
			require.Equal(t, tt.code, exit.ExitCode())
		})
	}
}

func TestHelp(t *testing.T) {
	var stdout, stderr bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"--help"}, &stdout, &stderr))
	require.Contains(t, stderr.String(), "Commands:")
	require.Contains(t, stderr.String(), "extract <dir>")
	require.Contains(t, stderr.String(), "--offset")
}
