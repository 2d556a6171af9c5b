// Package billy adapts go-billy filesystems to core.FS. The disk cache uses
// NewLocal in production and NewMemory in tests.
package billy

import (
	"io/fs"
	"os"
	"path/filepath"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"

	"github.com/jmgilman/go/imagecache/fs/core"
)

// FS wraps a billy.Filesystem and implements core.FS.
type FS struct {
	bfs    billy.Filesystem
	fsType core.FSType
}

// NewLocal creates a disk-backed filesystem rooted at root.
// An empty root means the filesystem root ("/").
func NewLocal(root string) *FS {
	if root == "" {
		root = "/"
	}
	return New(osfs.New(root), core.FSTypeLocal)
}

// NewMemory creates an empty in-memory filesystem.
func NewMemory() *FS {
	return New(memfs.New(), core.FSTypeMemory)
}

// New wraps an existing billy filesystem.
func New(bfs billy.Filesystem, fsType core.FSType) *FS {
	return &FS{bfs: bfs, fsType: fsType}
}

// normalize converts paths to use forward slashes consistently.
func normalize(path string) string {
	return filepath.ToSlash(filepath.Clean(path))
}

// dirEntry adapts fs.FileInfo to fs.DirEntry.
type dirEntry struct {
	info fs.FileInfo
}

func (d *dirEntry) Name() string               { return d.info.Name() }
func (d *dirEntry) IsDir() bool                { return d.info.IsDir() }
func (d *dirEntry) Type() fs.FileMode          { return d.info.Mode().Type() }
func (d *dirEntry) Info() (fs.FileInfo, error) { return d.info, nil }

// Open opens the named file for reading.
func (f *FS) Open(name string) (fs.File, error) {
	name = normalize(name)
	file, err := f.bfs.Open(name)
	if err != nil {
		return nil, err
	}
	return &File{file: file, fs: f.bfs, name: name}, nil
}

// Stat returns file metadata for the named file.
func (f *FS) Stat(name string) (fs.FileInfo, error) {
	return f.bfs.Stat(normalize(name))
}

// ReadDir lists name sorted by filename.
func (f *FS) ReadDir(name string) ([]fs.DirEntry, error) {
	infos, err := f.bfs.ReadDir(normalize(name))
	if err != nil {
		return nil, err
	}
	entries := make([]fs.DirEntry, len(infos))
	for i, info := range infos {
		entries[i] = &dirEntry{info: info}
	}
	return entries, nil
}

// ReadFile reads the named file and returns its contents.
func (f *FS) ReadFile(name string) ([]byte, error) {
	return util.ReadFile(f.bfs, normalize(name))
}

// Exists reports whether the named file or directory exists.
func (f *FS) Exists(name string) (bool, error) {
	_, err := f.bfs.Stat(normalize(name))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// Create creates or truncates the named file for writing.
func (f *FS) Create(name string) (core.File, error) {
	name = normalize(name)
	file, err := f.bfs.Create(name)
	if err != nil {
		return nil, err
	}
	return &File{file: file, fs: f.bfs, name: name}, nil
}

// MkdirAll creates a directory named path, along with any necessary parents.
func (f *FS) MkdirAll(path string, perm fs.FileMode) error {
	return f.bfs.MkdirAll(normalize(path), perm)
}

// Remove removes the named file or empty directory.
func (f *FS) Remove(name string) error {
	return f.bfs.Remove(normalize(name))
}

// Rename renames (moves) oldpath to newpath.
func (f *FS) Rename(oldpath, newpath string) error {
	return f.bfs.Rename(normalize(oldpath), normalize(newpath))
}

// Type reports whether the filesystem is local or in-memory.
func (f *FS) Type() core.FSType {
	return f.fsType
}

var _ core.FS = (*FS)(nil)
