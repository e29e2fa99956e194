package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Config holds every setting of the command. A config file supplies any of them and
// flags given on the command line win over the file.
type Config struct {
	// Image is the path of the image file or block device
	Image string `yaml:"image"`

	// Offset of the filesystem or its BOOT_WRAP record, decimal or 0x hex
	Offset string `yaml:"offset"`

	// LogLevel is any logrus level name
	LogLevel string `yaml:"log_level"`

	// LogFormat is text or json
	LogFormat string `yaml:"log_format"`

	Extract ExtractConfig `yaml:"extract"`
	Mount   MountConfig   `yaml:"mount"`
}

// ExtractConfig configures the extract and verify commands
type ExtractConfig struct {
	// Codec is none, xz, lz4 or zstd
	Codec  string `yaml:"codec"`
	Xattrs bool   `yaml:"xattrs"`
}

// MountConfig configures the mount command
type MountConfig struct {
	AllowOther bool `yaml:"allow_other"`
	Debug      bool `yaml:"debug"`
}

// Default returns the configuration used when neither a file nor flags say otherwise
func Default() *Config {
	return &Config{
		Offset:    "0",
		LogLevel:  "warning",
		LogFormat: "text",
		Extract:   ExtractConfig{Codec: "none"},
	}
}

// LoadConfig reads the YAML file at path over the defaults. Unknown keys are an error.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("could not open config %s: %w", path, err)
	}
	defer f.Close()
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("could not parse config %s: %w", path, err)
	}
	return cfg, nil
}

// flags are bound to a fresh Config and copied over the loaded one only when set
type flags struct {
	set    *pflag.FlagSet
	values Config
	config string
	help   bool
}

func newFlags(name string, stderr io.Writer) *flags {
	f := &flags{set: pflag.NewFlagSet(name, pflag.ContinueOnError)}
	f.set.SetOutput(stderr)
	f.set.StringVarP(&f.values.Image, "image", "i", "", "image file or block device")
	f.set.StringVarP(&f.values.Offset, "offset", "o", "0", "offset of the filesystem or its BOOT_WRAP record, decimal or 0x hex")
	f.set.StringVarP(&f.config, "config", "c", "", "YAML config file, flags override its values")
	f.set.StringVar(&f.values.LogLevel, "log-level", "warning", "log level: panic, fatal, error, warning, info, debug or trace")
	f.set.StringVar(&f.values.LogFormat, "log-format", "text", "log format: text or json")
	f.set.StringVar(&f.values.Extract.Codec, "codec", "none", "extract, verify: compress files with none, xz, lz4 or zstd")
	f.set.BoolVar(&f.values.Extract.Xattrs, "xattrs", false, "extract: record the image offset and size of each file as extended attributes")
	f.set.BoolVar(&f.values.Mount.AllowOther, "allow-other", false, "mount: allow other users to access the mount")
	f.set.BoolVar(&f.values.Mount.Debug, "fuse-debug", false, "mount: log every FUSE request")
	f.set.BoolVarP(&f.help, "help", "h", false, "show help")
	return f
}

// resolve loads the config file, if any, and applies the flags that were given
func (f *flags) resolve() (*Config, error) {
	cfg := Default()
	if f.config != "" {
		loaded, err := LoadConfig(f.config)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	override := func(name string, dst *string, src string) {
		if f.set.Changed(name) {
			*dst = src
		}
	}
	override("image", &cfg.Image, f.values.Image)
	override("offset", &cfg.Offset, f.values.Offset)
	override("log-level", &cfg.LogLevel, f.values.LogLevel)
	override("log-format", &cfg.LogFormat, f.values.LogFormat)
	override("codec", &cfg.Extract.Codec, f.values.Extract.Codec)
	if f.set.Changed("xattrs") {
		cfg.Extract.Xattrs = f.values.Extract.Xattrs
	}
	if f.set.Changed("allow-other") {
		cfg.Mount.AllowOther = f.values.Mount.AllowOther
	}
	if f.set.Changed("fuse-debug") {
		cfg.Mount.Debug = f.values.Mount.Debug
	}
	return cfg, nil
}

// ParseOffset accepts a non-negative integer in Go literal syntax: decimal, 0x hex or 0o octal
func ParseOffset(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid offset %q: %w", s, err)
	}
	if v < 0 {
		return 0, fmt.Errorf("invalid offset %q: must not be negative", s)
	}
	return v, nil
}

// NewLogger builds the logger for cfg, writing to w
func NewLogger(cfg *Config, w io.Writer) (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	log := logrus.New()
	log.SetOutput(w)
	log.SetLevel(level)
	switch cfg.LogFormat {
	case "", "text":
		log.SetFormatter(&logrus.TextFormatter{})
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{})
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.LogFormat)
	}
	return log, nil
}
