package core

import "io/fs"

// ErrNotExist is returned when a file or directory does not exist.
var ErrNotExist = fs.ErrNotExist
