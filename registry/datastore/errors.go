package datastore

import (
	"errors"
)

// ErrStaleSession is returned when a chunk is applied against an offset that is no longer the
// session's current cursor. Chunk application is strictly sequential per session; absent rows are
// reported as nil results, not sentinel errors.
var ErrStaleSession = errors.New("upload session offset changed concurrently")
