package diskcache

import (
	"io"

	"github.com/jmgilman/go/imagecache/errors"
)

// Snapshot is a read handle on a committed entry. The files it points at do
// not change while it is open. Close it when done.
type Snapshot struct {
	cache  *Cache
	entry  *entry
	closed bool // guarded by cache.mu
}

// Key returns the entry key.
func (s *Snapshot) Key() string { return s.entry.key }

// MetadataPath returns the path of the metadata file inside the filesystem.
func (s *Snapshot) MetadataPath() string {
	return s.cache.filePath(s.entry.name, metadataIndex)
}

// DataPath returns the path of the data file inside the filesystem.
func (s *Snapshot) DataPath() string {
	return s.cache.filePath(s.entry.name, dataIndex)
}

// OpenMetadata opens the metadata file for reading.
func (s *Snapshot) OpenMetadata() (io.ReadCloser, error) {
	return s.open(metadataIndex)
}

// OpenData opens the data file for reading.
func (s *Snapshot) OpenData() (io.ReadCloser, error) {
	return s.open(dataIndex)
}

func (s *Snapshot) open(index int) (io.ReadCloser, error) {
	s.cache.mu.Lock()
	closed := s.closed
	s.cache.mu.Unlock()
	if closed {
		return nil, ErrSnapshotClosed
	}

	name := s.cache.filePath(s.entry.name, index)
	f, err := s.cache.fs.Open(name)
	if err != nil {
		return nil, errors.WrapWithContext(err, errors.CodeIO, "failed to open cache file", map[string]interface{}{
			"key":  s.entry.key,
			"path": name,
		})
	}
	return f, nil
}

// Close releases the snapshot. It is safe to call more than once.
func (s *Snapshot) Close() error {
	c := s.cache
	c.mu.Lock()
	defer c.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.entry.readers--
	c.releaseLocked(s.entry)
	return nil
}

// CloseAndEdit closes the snapshot and, if it was the only open handle on
// the entry, opens an editor for it in the same step so no other writer can
// get in between. It returns false if the snapshot was already closed, other
// snapshots are open, or the entry was removed.
func (s *Snapshot) CloseAndEdit() (*Editor, bool) {
	c := s.cache
	c.mu.Lock()
	defer c.mu.Unlock()

	if s.closed {
		return nil, false
	}
	s.closed = true
	e := s.entry
	e.readers--
	if !e.idle() || e.removed {
		c.releaseLocked(e)
		return nil, false
	}
	return c.newEditorLocked(e), true
}
