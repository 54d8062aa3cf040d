package driver

import (
	"context"
	"fmt"
	"io"
	"time"
)

// StorageDriver defines methods that a blob object store must implement. Paths are slash-separated
// and absolute within the store. Implementations only need to provide byte fidelity: all
// content-addressing and consistency logic lives above this interface.
type StorageDriver interface {
	// Name returns the human-readable "name" of the driver.
	Name() string

	// GetContent retrieves the content stored at path as a []byte.
	GetContent(ctx context.Context, path string) ([]byte, error)

	// PutContent stores the []byte content at a location designated by path.
	PutContent(ctx context.Context, path string, content []byte) error

	// Reader retrieves an io.ReadCloser for the content stored at path with a
	// given byte offset.
	Reader(ctx context.Context, path string, offset int64) (io.ReadCloser, error)

	// Writer returns a FileWriter which will store the content written to it at
	// the location designated by path after the call to Commit. If append is
	// true the writer continues from the current end of the file.
	Writer(ctx context.Context, path string, append bool) (FileWriter, error)

	// Stat retrieves the FileInfo for the given path.
	Stat(ctx context.Context, path string) (FileInfo, error)

	// Move moves an object stored at sourcePath to destPath, removing the
	// original object.
	Move(ctx context.Context, sourcePath string, destPath string) error

	// Delete recursively deletes all objects stored at path and its subpaths.
	Delete(ctx context.Context, path string) error
}

// FileWriter provides an abstraction for an opened writable file-like object in
// the storage backend.
type FileWriter interface {
	io.WriteCloser

	// Size returns the number of bytes written to this FileWriter.
	Size() int64

	// Cancel removes any written content from this FileWriter.
	Cancel() error

	// Commit flushes all content written to this FileWriter and makes it
	// available for future calls to StorageDriver.GetContent and
	// StorageDriver.Reader.
	Commit() error
}

// FileInfo returns information about a given path.
type FileInfo struct {
	// Path is the path the info refers to.
	Path string
	// Size is the size in bytes of the object.
	Size int64
	// ModTime is the modification time of the object.
	ModTime time.Time
	// IsDir tells whether the path is a directory-like prefix.
	IsDir bool
}

// PathNotFoundError is returned when operating on a nonexistent path.
type PathNotFoundError struct {
	Path       string
	DriverName string
}

func (err PathNotFoundError) Error() string {
	return fmt.Sprintf("%s: path not found: %s", err.DriverName, err.Path)
}

// InvalidOffsetError is returned when Reader is called with an out-of-range offset.
type InvalidOffsetError struct {
	Path       string
	Offset     int64
	DriverName string
}

func (err InvalidOffsetError) Error() string {
	return fmt.Sprintf("%s: invalid offset %d for path: %s", err.DriverName, err.Offset, err.Path)
}
