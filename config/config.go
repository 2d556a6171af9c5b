// Package config loads and validates the image cache configuration.
//
// Configuration is read from YAML. Fields left out of the file keep the
// values from Default. Validate checks the result against an embedded CUE
// schema and reports every violation at once.
//
//	cfg, err := config.Load(fsys, "imagecache.yaml")
//	if err != nil {
//		return err
//	}
//	if err := cfg.Validate(ctx); err != nil {
//		return err
//	}
package config

import (
	"bytes"
	"context"
	_ "embed"
	stderrors "errors"
	"io"
	"os"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"

	"github.com/jmgilman/go/imagecache/diskcache"
	"github.com/jmgilman/go/imagecache/errors"
	"github.com/jmgilman/go/imagecache/fetch"
	"github.com/jmgilman/go/imagecache/fs/core"
	"github.com/jmgilman/go/imagecache/internal/logging"
	"github.com/jmgilman/go/imagecache/memory"
)

//go:embed schema.cue
var schemaSource string

// Config is the top-level configuration.
type Config struct {
	Memory  MemoryConfig  `yaml:"memory" json:"memory"`
	Disk    DiskConfig    `yaml:"disk" json:"disk"`
	Network NetworkConfig `yaml:"network" json:"network"`
	Log     LogConfig     `yaml:"log" json:"log"`
}

// MemoryConfig configures the decoded image cache.
type MemoryConfig struct {
	MaxSizeBytes     int64 `yaml:"max_size_bytes" json:"max_size_bytes"`
	StrongReferences bool  `yaml:"strong_references" json:"strong_references"`
	WeakReferences   bool  `yaml:"weak_references" json:"weak_references"`
}

// DiskConfig configures the encoded byte cache. A zero MaxSizeBytes disables
// it.
type DiskConfig struct {
	Directory    string `yaml:"directory" json:"directory"`
	MaxSizeBytes int64  `yaml:"max_size_bytes" json:"max_size_bytes"`
	ReadEnabled  bool   `yaml:"read_enabled" json:"read_enabled"`
	WriteEnabled bool   `yaml:"write_enabled" json:"write_enabled"`
}

// NetworkConfig configures network fetching.
type NetworkConfig struct {
	RespectCacheHeaders   bool `yaml:"respect_cache_headers" json:"respect_cache_headers"`
	ReadEnabled           bool `yaml:"read_enabled" json:"read_enabled"`
	MaxConcurrentRequests int  `yaml:"max_concurrent_requests" json:"max_concurrent_requests"`
	// Timeout is a Go duration string such as "30s". Empty means no timeout.
	Timeout string `yaml:"timeout" json:"timeout"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `yaml:"level" json:"level"`
}

// Default returns a configuration with a 64 MiB memory cache, a 256 MiB disk
// cache under the user cache directory and every source enabled.
func Default() Config {
	dir := "imagecache"
	if base, err := os.UserCacheDir(); err == nil {
		dir = base + string(os.PathSeparator) + "imagecache"
	}
	return Config{
		Memory: MemoryConfig{
			MaxSizeBytes:     64 << 20,
			StrongReferences: true,
			WeakReferences:   true,
		},
		Disk: DiskConfig{
			Directory:    dir,
			MaxSizeBytes: 256 << 20,
			ReadEnabled:  true,
			WriteEnabled: true,
		},
		Network: NetworkConfig{
			RespectCacheHeaders: true,
			ReadEnabled:         true,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads and parses the YAML file at path.
func Load(fsys core.ReadFS, path string) (Config, error) {
	data, err := fsys.ReadFile(path)
	if err != nil {
		if stderrors.Is(err, core.ErrNotExist) {
			return Config{}, errors.Wrapf(err, errors.CodeNotFound, "config file %q not found", path)
		}
		return Config{}, errors.Wrapf(err, errors.CodeIO, "failed to read config file %q", path)
	}
	return Parse(data)
}

// Parse decodes YAML on top of Default. Unknown fields are rejected.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !stderrors.Is(err, io.EOF) {
		return Config{}, errors.Wrap(err, errors.CodeInvalidConfig, "failed to parse config")
	}
	return cfg, nil
}

// Validate checks the configuration against the schema.
func (c *Config) Validate(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return errors.FromContext(err)
	}

	cctx := cuecontext.New()
	schema := cctx.CompileString(schemaSource, cue.Filename("schema.cue")).LookupPath(cue.ParsePath("#Config"))
	if err := schema.Err(); err != nil {
		return errors.Wrap(err, errors.CodeInternal, "config schema is invalid")
	}

	data := cctx.Encode(c)
	if err := data.Err(); err != nil {
		return errors.Wrap(err, errors.CodeInvalidConfig, "failed to encode config")
	}

	if err := schema.Unify(data).Validate(cue.Concrete(true), cue.All()); err != nil {
		return errors.WrapWithContext(err, errors.CodeInvalidConfig, "invalid configuration", map[string]interface{}{
			"details": cueerrors.Details(err, nil),
		})
	}
	return nil
}

// MemoryCache returns the memory cache configuration.
func (c *Config) MemoryCache() memory.Config {
	return memory.Config{
		MaxSizeBytes:     c.Memory.MaxSizeBytes,
		StrongReferences: c.Memory.StrongReferences,
		WeakReferences:   c.Memory.WeakReferences,
	}
}

// DiskCache returns the disk cache configuration and whether the disk cache
// is enabled.
func (c *Config) DiskCache() (diskcache.Config, bool) {
	return diskcache.Config{
		Directory:    c.Disk.Directory,
		MaxSizeBytes: c.Disk.MaxSizeBytes,
	}, c.Disk.MaxSizeBytes > 0
}

// Fetch returns the fetcher configuration.
func (c *Config) Fetch() (fetch.Config, error) {
	var timeout time.Duration
	if c.Network.Timeout != "" {
		var err error
		timeout, err = time.ParseDuration(c.Network.Timeout)
		if err != nil {
			return fetch.Config{}, errors.Wrapf(err, errors.CodeInvalidConfig, "invalid network timeout %q", c.Network.Timeout)
		}
	}
	return fetch.Config{
		RespectCacheHeaders:   c.Network.RespectCacheHeaders,
		NetworkReadEnabled:    c.Network.ReadEnabled,
		DiskReadEnabled:       c.Disk.ReadEnabled,
		DiskWriteEnabled:      c.Disk.WriteEnabled,
		MaxConcurrentRequests: c.Network.MaxConcurrentRequests,
		Timeout:               timeout,
	}, nil
}

// Logger builds a text logger writing to out at the configured level.
func (c *Config) Logger(out io.Writer) (*logging.Logger, error) {
	level, err := logging.ParseLevel(c.Log.Level)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInvalidConfig, "invalid log level")
	}
	return logging.NewLogger(logging.Config{Level: level, Output: out}), nil
}
