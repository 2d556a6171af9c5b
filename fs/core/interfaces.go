// Package core defines the filesystem abstraction the disk cache is written
// against. Providers live in sibling packages (see fs/billy).
package core

import (
	"io"
	"io/fs"
)

// FSType represents the underlying type of filesystem implementation.
type FSType int

const (
	// FSTypeUnknown indicates the filesystem type is unknown or unspecified.
	FSTypeUnknown FSType = iota
	// FSTypeLocal indicates a disk-backed filesystem.
	FSTypeLocal
	// FSTypeMemory indicates an in-memory filesystem.
	FSTypeMemory
)

// String returns a string representation of the FSType.
func (t FSType) String() string {
	switch t {
	case FSTypeLocal:
		return "local"
	case FSTypeMemory:
		return "memory"
	default:
		return "unknown"
	}
}

// FS combines every operation the cache needs.
type FS interface {
	ReadFS
	WriteFS
	ManageFS

	// Type returns the underlying filesystem type.
	Type() FSType
}

// ReadFS defines read-only filesystem operations.
type ReadFS interface {
	// Open opens the named file for reading.
	Open(name string) (fs.File, error)

	// Stat returns file metadata. Missing files yield an error matching ErrNotExist.
	Stat(name string) (fs.FileInfo, error)

	// ReadDir lists the directory sorted by filename.
	ReadDir(name string) ([]fs.DirEntry, error)

	// ReadFile reads the named file and returns its contents.
	ReadFile(name string) ([]byte, error)

	// Exists reports whether the named file or directory exists.
	// A false result with a non-nil error means existence could not be determined.
	Exists(name string) (bool, error)
}

// WriteFS defines write operations.
type WriteFS interface {
	// Create creates or truncates the named file for writing.
	Create(name string) (File, error)

	// MkdirAll creates a directory along with any necessary parents.
	MkdirAll(path string, perm fs.FileMode) error
}

// ManageFS defines file removal and renaming.
type ManageFS interface {
	// Remove removes the named file or empty directory.
	Remove(name string) error

	// Rename moves oldpath to newpath, replacing newpath if it exists.
	// Local providers rename atomically.
	Rename(oldpath, newpath string) error
}

// File represents an open file handle.
type File interface {
	fs.File
	io.Writer

	// Name returns the name of the file as provided to Open or Create.
	Name() string
}

// Syncer allows syncing file contents to stable storage.
// Not every File implements it; use a type assertion.
type Syncer interface {
	Sync() error
}
