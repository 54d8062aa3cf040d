package storage

import (
	"errors"
	"fmt"

	"github.com/opencontainers/go-digest"
)

// ErrBlobUnknown is returned when the requested digest has no data in the object store.
var ErrBlobUnknown = errors.New("blob unknown to object store")

// ErrUploadUnknown is returned when an upload session does not exist, either because the id was
// never issued or because the session was already finalized or cancelled.
var ErrUploadUnknown = errors.New("upload session unknown")

// InvalidRangeError is returned when a chunk does not start at the session's current offset.
type InvalidRangeError struct {
	// Offset is the session's committed offset, from which the client may resume.
	Offset int64
	// Start is the starting byte offset the client attempted to write at.
	Start int64
}

func (err InvalidRangeError) Error() string {
	return fmt.Sprintf("invalid chunk range: expected start offset %d, got %d", err.Offset, err.Start)
}

// DigestMismatchError is returned when the finalized upload's content does not match the digest
// the client declared. The session is consumed regardless.
type DigestMismatchError struct {
	Expected digest.Digest
	Actual   digest.Digest
}

func (err DigestMismatchError) Error() string {
	return fmt.Sprintf("digest mismatch: expected %q, got %q", err.Expected, err.Actual)
}
