// Package diskcache stores opaque metadata and data files per key on a
// filesystem, with crash-safe writes and a size bound.
//
// Every key maps to two files named after the SHA-256 of the key:
// "<hex>.0" holds metadata and "<hex>.1" holds data. Editors write to
// "<hex>.0.tmp" and "<hex>.1.tmp" and Commit renames them into place, so a
// crash before commit leaves the previous contents untouched.
//
// An entry is either being read through any number of Snapshots or being
// written by exactly one Editor, never both.
package diskcache

import (
	"context"
	_ "crypto/sha256" // registers digest.Canonical
	stderrors "errors"
	"math"
	"path"
	"strconv"
	"strings"
	"sync"

	"github.com/opencontainers/go-digest"

	"github.com/jmgilman/go/imagecache/errors"
	"github.com/jmgilman/go/imagecache/fs/billy"
	"github.com/jmgilman/go/imagecache/fs/core"
	"github.com/jmgilman/go/imagecache/internal/logging"
	"github.com/jmgilman/go/imagecache/internal/lru"
	"github.com/jmgilman/go/imagecache/internal/metrics"
)

const (
	metadataIndex = 0
	dataIndex     = 1
	tempSuffix    = ".tmp"
)

// Config holds configuration for the disk cache.
type Config struct {
	// Directory holds the cache files. It is created if missing.
	Directory string
	// MaxSizeBytes bounds the total size of committed files.
	MaxSizeBytes int64
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.Directory == "" {
		return errors.New(errors.CodeInvalidConfig, "disk cache directory cannot be empty")
	}
	if c.MaxSizeBytes < 0 {
		return errors.Newf(errors.CodeInvalidConfig, "disk max size must not be negative, got %d", c.MaxSizeBytes)
	}
	return nil
}

// Option configures a Cache.
type Option func(*Cache)

// WithFS sets the filesystem. Directory is then interpreted inside fsys. The
// default is the local filesystem rooted at Directory.
func WithFS(fsys core.FS) Option {
	return func(c *Cache) { c.fs = fsys }
}

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) Option {
	return func(c *Cache) { c.logger = logger }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Cache) { c.metrics = m }
}

type entry struct {
	key  string
	name string // hex digest of key
	size int64

	readers   int
	editor    *Editor
	committed bool
	removed   bool
}

func (e *entry) idle() bool {
	return e.readers == 0 && e.editor == nil
}

// Cache is a disk-backed entry store. It is safe for concurrent use. One
// mutex guards the key index; reads and writes through open handles do not
// hold it.
type Cache struct {
	mu      sync.Mutex
	fs      core.FS
	dir     string // as configured
	base    string // dir as seen by fs
	maxSize int64
	size    int64
	// index orders entries by recency. Its own bound is unused; eviction
	// skips entries with open handles.
	index *lru.Cache[string, *entry]

	logger  *logging.Logger
	metrics *metrics.Metrics
}

// New opens a disk cache. Existing files are not scanned; they are picked up
// the first time their key is requested.
func New(cfg Config, opts ...Option) (*Cache, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Cache{
		dir:     path.Clean(cfg.Directory),
		maxSize: cfg.MaxSizeBytes,
		index:   lru.New[string, *entry](math.MaxInt64, nil, nil),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.base = c.dir
	if c.fs == nil {
		c.fs = billy.NewLocal(c.dir)
		c.base = "."
	}
	if c.logger == nil {
		c.logger = logging.NewNop()
	}

	if err := c.fs.MkdirAll(c.base, 0o755); err != nil {
		return nil, errors.Wrapf(err, errors.CodeIO, "failed to create cache directory %q", c.dir)
	}
	c.logger.Debug(context.Background(), "disk cache opened", "directory", c.dir, "fs_type", c.fs.Type().String(), "max_size", c.maxSize)
	return c, nil
}

// Directory returns the cache directory.
func (c *Cache) Directory() string { return c.dir }

// MaxSize returns the size bound.
func (c *Cache) MaxSize() int64 { return c.maxSize }

// Size returns the total size of committed entries known to the cache.
func (c *Cache) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

func hashKey(key string) string {
	return digest.FromString(key).Encoded()
}

func (c *Cache) filePath(name string, index int) string {
	return path.Join(c.base, name+"."+strconv.Itoa(index))
}

func (c *Cache) tempPath(name string, index int) string {
	return c.filePath(name, index) + tempSuffix
}

// Get opens a snapshot of key. It returns false if the key is absent or
// being written.
func (c *Cache) Get(key string) (*Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ctx := context.Background()
	e, ok := c.index.Get(key)
	if !ok {
		e = c.discoverLocked(key)
	}
	if e == nil || !e.committed || e.removed || e.editor != nil {
		c.metrics.RecordMiss(metrics.TierDisk)
		logging.LogMiss(ctx, c.logger, logging.OpDiskGet, "not cached")
		return nil, false
	}

	e.readers++
	logging.LogHit(ctx, c.logger, logging.OpDiskGet, e.size)
	return &Snapshot{cache: c, entry: e}, true
}

// Edit opens an editor for key. It returns false while the key has open
// snapshots or another editor.
func (c *Cache) Edit(key string) (*Editor, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.index.Get(key)
	if !ok {
		e = c.discoverLocked(key)
	}
	if e == nil {
		e = &entry{key: key, name: hashKey(key)}
		c.index.Put(key, e)
	}
	if !e.idle() || e.removed {
		return nil, false
	}
	return c.newEditorLocked(e), true
}

func (c *Cache) newEditorLocked(e *entry) *Editor {
	ed := &Editor{cache: c, entry: e}
	e.editor = ed
	c.logger.Debug(context.Background(), "editor opened", "operation", string(logging.OpDiskEdit), "key", e.key)
	return ed
}

// discoverLocked registers an entry that exists on disk but not in the
// index. An entry missing one of its two files is deleted.
func (c *Cache) discoverLocked(key string) *entry {
	name := hashKey(key)
	metaInfo, metaErr := c.fs.Stat(c.filePath(name, metadataIndex))
	dataInfo, dataErr := c.fs.Stat(c.filePath(name, dataIndex))

	if metaErr != nil || dataErr != nil {
		if metaErr == nil || dataErr == nil {
			c.logger.Warn(context.Background(), "deleting incomplete cache entry", "key", key)
			_, _ = c.deleteFilesLocked(name)
		}
		return nil
	}

	e := &entry{
		key:       key,
		name:      name,
		size:      metaInfo.Size() + dataInfo.Size(),
		committed: true,
	}
	c.index.Put(key, e)
	c.size += e.size
	return e
}

// deleteFilesLocked removes both committed files and reports whether either
// existed.
func (c *Cache) deleteFilesLocked(name string) (bool, error) {
	existed := false
	var errs []error
	for i := range 2 {
		err := c.fs.Remove(c.filePath(name, i))
		switch {
		case err == nil:
			existed = true
		case !isNotExist(err):
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return existed, errors.Wrap(stderrors.Join(errs...), errors.CodeIO, "failed to delete cache files")
	}
	return existed, nil
}

func (c *Cache) deleteTempFiles(name string) error {
	var errs []error
	for i := range 2 {
		if err := c.fs.Remove(c.tempPath(name, i)); err != nil && !isNotExist(err) {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errors.Wrap(stderrors.Join(errs...), errors.CodeIO, "failed to delete temporary files")
	}
	return nil
}

// Remove deletes key and reports whether any of its files existed. Files of
// an entry with open snapshots are deleted when the last one closes; an open
// editor fails its commit with ErrEntryRemoved.
func (c *Cache) Remove(key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.removeLocked(key)
}

func (c *Cache) removeLocked(key string) (bool, error) {
	e, ok := c.index.Peek(key)
	if !ok {
		existed, err := c.deleteFilesLocked(hashKey(key))
		c.logOperation(logging.OpDiskRemove, key, err)
		return existed, err
	}
	if e.removed {
		return false, nil
	}

	existed := e.committed
	c.size -= e.size
	e.size = 0
	e.removed = true
	e.committed = false

	var err error
	if e.readers == 0 {
		_, err = c.deleteFilesLocked(e.name)
		if e.editor == nil {
			c.index.Remove(key)
		}
	}
	c.logOperation(logging.OpDiskRemove, key, err)
	return existed, err
}

// releaseLocked forgets an entry once its last handle is gone, deleting
// its files if it was removed while open.
func (c *Cache) releaseLocked(e *entry) {
	if !e.idle() {
		return
	}
	if e.removed {
		_, _ = c.deleteFilesLocked(e.name)
	}
	if e.removed || !e.committed {
		if cur, ok := c.index.Peek(e.key); ok && cur == e {
			c.index.Remove(e.key)
		}
	}
}

// trimLocked evicts idle entries, least recently used first, until the
// cache fits.
func (c *Cache) trimLocked() {
	if c.size <= c.maxSize {
		return
	}
	ctx := context.Background()
	for _, key := range c.index.Keys() {
		if c.size <= c.maxSize {
			return
		}
		e, _ := c.index.Peek(key)
		if !e.idle() || !e.committed || e.removed {
			continue
		}
		if _, err := c.deleteFilesLocked(e.name); err != nil {
			c.logger.Warn(ctx, "failed to evict cache entry", "key", key, "error", err.Error())
			continue
		}
		c.size -= e.size
		c.index.Remove(key)
		c.metrics.RecordEviction(metrics.TierDisk)
		logging.LogEviction(ctx, c.logger, logging.OpDiskEvict, key, e.size, "size")
	}
}

// Clear removes every entry. Entries with open handles are removed as by
// Remove. Files on disk that were never indexed are deleted too.
func (c *Cache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	busy := make(map[string]bool)
	for _, key := range c.index.Keys() {
		e, _ := c.index.Peek(key)
		if !e.idle() {
			busy[e.name] = true
		}
		if _, err := c.removeLocked(key); err != nil {
			errs = append(errs, err)
		}
	}

	if err := c.sweepLocked(func(name, _ string) bool { return !busy[name] }); err != nil {
		errs = append(errs, err)
	}
	return stderrors.Join(errs...)
}

// CleanupTempFiles deletes temporary files left behind by editors that were
// never committed or aborted, for example after a crash.
func (c *Cache) CleanupTempFiles() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	editing := make(map[string]bool)
	for _, key := range c.index.Keys() {
		if e, _ := c.index.Peek(key); e.editor != nil {
			editing[e.name] = true
		}
	}
	return c.sweepLocked(func(name, file string) bool {
		return strings.HasSuffix(file, tempSuffix) && !editing[name]
	})
}

// sweepLocked deletes cache files in the directory for which match returns
// true. name is the digest part of the file name.
func (c *Cache) sweepLocked(match func(name, file string) bool) error {
	entries, err := c.fs.ReadDir(c.base)
	if err != nil {
		if isNotExist(err) {
			return nil
		}
		return errors.Wrapf(err, errors.CodeIO, "failed to list cache directory %q", c.dir)
	}

	var errs []error
	for _, de := range entries {
		if de.IsDir() {
			continue
		}
		file := de.Name()
		name, _, ok := strings.Cut(file, ".")
		if !ok || !isCacheFile(file) || !match(name, file) {
			continue
		}
		if err := c.fs.Remove(path.Join(c.base, file)); err != nil && !isNotExist(err) {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errors.Wrap(stderrors.Join(errs...), errors.CodeIO, "failed to delete cache files")
	}
	return nil
}

func isCacheFile(file string) bool {
	file = strings.TrimSuffix(file, tempSuffix)
	return strings.HasSuffix(file, ".0") || strings.HasSuffix(file, ".1")
}

func isNotExist(err error) bool {
	return stderrors.Is(err, core.ErrNotExist)
}

func (c *Cache) logOperation(op logging.Operation, key string, err error) {
	logging.LogOperation(context.Background(), c.logger.WithKey(key), op, 0, err == nil, 0, err)
}
