package diskcache

import (
	"context"
	"io"
	"time"

	"github.com/jmgilman/go/imagecache/errors"
	"github.com/jmgilman/go/imagecache/fs/core"
	"github.com/jmgilman/go/imagecache/internal/logging"
)

// Editor writes a new version of an entry. Streams are written to temporary
// files; Commit moves them into place and Abort discards them. A stream that
// is never created keeps its committed contents, so metadata can be updated
// without rewriting data. Writers must be closed before Commit.
type Editor struct {
	cache   *Cache
	entry   *entry
	written [2]bool
	done    bool // guarded by cache.mu
}

// Key returns the entry key.
func (ed *Editor) Key() string { return ed.entry.key }

// MetadataPath returns the temporary metadata path.
func (ed *Editor) MetadataPath() string {
	return ed.cache.tempPath(ed.entry.name, metadataIndex)
}

// DataPath returns the temporary data path.
func (ed *Editor) DataPath() string {
	return ed.cache.tempPath(ed.entry.name, dataIndex)
}

// CreateMetadata truncates and opens the temporary metadata file.
func (ed *Editor) CreateMetadata() (io.WriteCloser, error) {
	return ed.create(metadataIndex)
}

// CreateData truncates and opens the temporary data file.
func (ed *Editor) CreateData() (io.WriteCloser, error) {
	return ed.create(dataIndex)
}

func (ed *Editor) create(index int) (io.WriteCloser, error) {
	c := ed.cache
	c.mu.Lock()
	if ed.done {
		c.mu.Unlock()
		return nil, ErrEditorClosed
	}
	ed.written[index] = true
	c.mu.Unlock()

	name := c.tempPath(ed.entry.name, index)
	f, err := c.fs.Create(name)
	if err != nil {
		return nil, errors.WrapWithContext(err, errors.CodeIO, "failed to create temporary file", map[string]interface{}{
			"key":  ed.entry.key,
			"path": name,
		})
	}
	return &syncedFile{File: f}, nil
}

// syncedFile syncs to stable storage before closing.
type syncedFile struct {
	core.File
}

func (f *syncedFile) Close() error {
	if s, ok := f.File.(core.Syncer); ok {
		if err := s.Sync(); err != nil {
			_ = f.File.Close()
			return errors.Wrap(err, errors.CodeIO, "failed to sync cache file")
		}
	}
	return f.File.Close()
}

// Commit publishes the written files.
func (ed *Editor) Commit() error {
	_, err := ed.commit(false)
	return err
}

// CommitAndGet publishes the written files and returns a snapshot of the
// result. The entry cannot be evicted or edited until the snapshot closes.
func (ed *Editor) CommitAndGet() (*Snapshot, error) {
	return ed.commit(true)
}

func (ed *Editor) commit(open bool) (*Snapshot, error) {
	c := ed.cache
	c.mu.Lock()
	defer c.mu.Unlock()

	if ed.done {
		return nil, ErrEditorClosed
	}
	ed.done = true
	e := ed.entry
	e.editor = nil

	ctx := context.Background()
	start := time.Now()
	if e.removed {
		_ = c.deleteTempFiles(e.name)
		c.releaseLocked(e)
		logging.LogOperation(ctx, c.logger.WithKey(e.key), logging.OpDiskCommit, time.Since(start), false, 0, ErrEntryRemoved)
		return nil, ErrEntryRemoved
	}

	size, err := ed.placeFilesLocked()
	if err != nil {
		// The committed files may now be out of step, so drop the entry.
		_ = c.deleteTempFiles(e.name)
		_, _ = c.deleteFilesLocked(e.name)
		c.size -= e.size
		e.size = 0
		e.committed = false
		c.releaseLocked(e)
		c.metrics.RecordError()
		logging.LogOperation(ctx, c.logger.WithKey(e.key), logging.OpDiskCommit, time.Since(start), false, 0, err)
		return nil, err
	}

	c.size += size - e.size
	e.size = size
	e.committed = true

	var snap *Snapshot
	if open {
		e.readers++
		snap = &Snapshot{cache: c, entry: e}
	}
	c.trimLocked()

	logging.LogOperation(ctx, c.logger.WithKey(e.key), logging.OpDiskCommit, time.Since(start), true, size, nil)
	return snap, nil
}

// placeFilesLocked renames each written file into place, creating an empty
// file for a stream that has never existed, and returns the new entry size.
func (ed *Editor) placeFilesLocked() (int64, error) {
	c := ed.cache
	name := ed.entry.name

	var total int64
	for i := range 2 {
		final := c.filePath(name, i)
		if ed.written[i] {
			if err := c.fs.Rename(c.tempPath(name, i), final); err != nil {
				return 0, errors.Wrapf(err, errors.CodeIO, "failed to move %q into place", final)
			}
		} else if exists, err := c.fs.Exists(final); err != nil {
			return 0, errors.Wrapf(err, errors.CodeIO, "failed to check %q", final)
		} else if !exists {
			f, err := c.fs.Create(final)
			if err != nil {
				return 0, errors.Wrapf(err, errors.CodeIO, "failed to create %q", final)
			}
			if err := f.Close(); err != nil {
				return 0, errors.Wrapf(err, errors.CodeIO, "failed to create %q", final)
			}
		}

		info, err := c.fs.Stat(final)
		if err != nil {
			return 0, errors.Wrapf(err, errors.CodeIO, "failed to stat %q", final)
		}
		total += info.Size()
	}
	return total, nil
}

// Abort discards the written files. It is safe to call after Commit or
// another Abort.
func (ed *Editor) Abort() error {
	c := ed.cache
	c.mu.Lock()
	defer c.mu.Unlock()

	if ed.done {
		return nil
	}
	ed.done = true
	e := ed.entry
	e.editor = nil

	err := c.deleteTempFiles(e.name)
	c.releaseLocked(e)
	logging.LogOperation(context.Background(), c.logger.WithKey(e.key), logging.OpDiskAbort, 0, err == nil, 0, err)
	return err
}
