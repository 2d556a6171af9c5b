package billy

import (
	"io/fs"

	"github.com/go-git/go-billy/v5"

	"github.com/jmgilman/go/imagecache/fs/core"
)

// File wraps billy.File to implement core.File. It keeps the name passed to
// Open/Create because billy backends disagree on what Name() returns.
type File struct {
	file billy.File
	fs   billy.Basic
	name string
}

// Read implements io.Reader.
func (f *File) Read(p []byte) (int, error) {
	return f.file.Read(p)
}

// Write implements io.Writer.
func (f *File) Write(p []byte) (int, error) {
	return f.file.Write(p)
}

// Close implements io.Closer.
func (f *File) Close() error {
	return f.file.Close()
}

// Stat asks the filesystem, since billy.File has no Stat.
func (f *File) Stat() (fs.FileInfo, error) {
	return f.fs.Stat(f.name)
}

// Name returns the name provided to Open/Create.
func (f *File) Name() string {
	return f.name
}

// Sync flushes to stable storage when the backend supports it (memfs does not).
func (f *File) Sync() error {
	if syncer, ok := f.file.(interface{ Sync() error }); ok {
		return syncer.Sync()
	}
	return nil
}

var (
	_ core.File   = (*File)(nil)
	_ core.Syncer = (*File)(nil)
)
