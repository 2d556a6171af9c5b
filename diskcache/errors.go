package diskcache

import "github.com/jmgilman/go/imagecache/errors"

// ErrEntryRemoved is returned by Commit when the entry was removed while the
// editor was open. The edit is discarded.
var ErrEntryRemoved = errors.New(errors.CodeConflict, "cache entry was removed during edit")

// ErrEditorClosed is returned when an editor is used after Commit or Abort.
var ErrEditorClosed = errors.New(errors.CodeInvalidInput, "editor is already closed")

// ErrSnapshotClosed is returned when a snapshot is opened after Close.
var ErrSnapshotClosed = errors.New(errors.CodeInvalidInput, "snapshot is already closed")
