// Package inmemory provides a StorageDriver holding all objects in process memory. It exists for
// tests: durability obviously does not survive a restart.
package inmemory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"io/ioutil"
	"strings"
	"sync"
	"time"

	storagedriver "github.com/deploys-app/registry/registry/storage/driver"
	"github.com/deploys-app/registry/registry/storage/driver/factory"
)

const driverName = "inmemory"

func init() {
	factory.Register(driverName, &inMemoryDriverFactory{})
}

type inMemoryDriverFactory struct{}

func (f *inMemoryDriverFactory) Create(parameters map[string]interface{}) (storagedriver.StorageDriver, error) {
	return New(), nil
}

type file struct {
	data    []byte
	modTime time.Time
}

// Driver is a StorageDriver keeping all data in a flat map guarded by a mutex.
type Driver struct {
	mu    sync.RWMutex
	files map[string]*file
}

// New constructs a new in-memory Driver.
func New() *Driver {
	return &Driver{files: make(map[string]*file)}
}

func (d *Driver) Name() string {
	return driverName
}

// GetContent retrieves the content stored at path as a []byte.
func (d *Driver) GetContent(ctx context.Context, path string) ([]byte, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	f, ok := d.files[path]
	if !ok {
		return nil, storagedriver.PathNotFoundError{Path: path, DriverName: driverName}
	}

	out := make([]byte, len(f.data))
	copy(out, f.data)
	return out, nil
}

// PutContent stores the []byte content at a location designated by path.
func (d *Driver) PutContent(ctx context.Context, path string, content []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	data := make([]byte, len(content))
	copy(data, content)
	d.files[path] = &file{data: data, modTime: time.Now()}
	return nil
}

// Reader retrieves an io.ReadCloser for the content stored at path with a given byte offset.
func (d *Driver) Reader(ctx context.Context, path string, offset int64) (io.ReadCloser, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	f, ok := d.files[path]
	if !ok {
		return nil, storagedriver.PathNotFoundError{Path: path, DriverName: driverName}
	}
	if offset < 0 || offset > int64(len(f.data)) {
		return nil, storagedriver.InvalidOffsetError{Path: path, Offset: offset, DriverName: driverName}
	}

	data := make([]byte, int64(len(f.data))-offset)
	copy(data, f.data[offset:])
	return ioutil.NopCloser(bytes.NewReader(data)), nil
}

// Writer returns a FileWriter at path, optionally continuing from the current end of the object.
func (d *Driver) Writer(ctx context.Context, path string, append bool) (storagedriver.FileWriter, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var data []byte
	if append {
		if f, ok := d.files[path]; ok {
			data = make([]byte, len(f.data))
			copy(data, f.data)
		}
	} else {
		d.files[path] = &file{modTime: time.Now()}
	}

	return &writer{d: d, path: path, data: data}, nil
}

// Stat retrieves the FileInfo for the given path.
func (d *Driver) Stat(ctx context.Context, path string) (storagedriver.FileInfo, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if f, ok := d.files[path]; ok {
		return storagedriver.FileInfo{Path: path, Size: int64(len(f.data)), ModTime: f.modTime}, nil
	}

	// directory-like prefix
	prefix := strings.TrimSuffix(path, "/") + "/"
	for p := range d.files {
		if strings.HasPrefix(p, prefix) {
			return storagedriver.FileInfo{Path: path, IsDir: true}, nil
		}
	}

	return storagedriver.FileInfo{}, storagedriver.PathNotFoundError{Path: path, DriverName: driverName}
}

// Move moves an object stored at sourcePath to destPath, removing the original object.
func (d *Driver) Move(ctx context.Context, sourcePath string, destPath string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	f, ok := d.files[sourcePath]
	if !ok {
		return storagedriver.PathNotFoundError{Path: sourcePath, DriverName: driverName}
	}

	delete(d.files, sourcePath)
	d.files[destPath] = &file{data: f.data, modTime: time.Now()}
	return nil
}

// Delete recursively deletes all objects stored at path and its subpaths.
func (d *Driver) Delete(ctx context.Context, path string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	prefix := strings.TrimSuffix(path, "/") + "/"
	found := false
	for p := range d.files {
		if p == path || strings.HasPrefix(p, prefix) {
			delete(d.files, p)
			found = true
		}
	}
	if !found {
		return storagedriver.PathNotFoundError{Path: path, DriverName: driverName}
	}
	return nil
}

type writer struct {
	d         *Driver
	path      string
	data      []byte
	closed    bool
	committed bool
	cancelled bool
}

func (w *writer) Write(p []byte) (int, error) {
	if w.closed {
		return 0, fmt.Errorf("already closed")
	} else if w.committed {
		return 0, fmt.Errorf("already committed")
	} else if w.cancelled {
		return 0, fmt.Errorf("already cancelled")
	}

	w.data = append(w.data, p...)
	return len(p), nil
}

func (w *writer) Size() int64 {
	return int64(len(w.data))
}

func (w *writer) flush() {
	w.d.mu.Lock()
	defer w.d.mu.Unlock()

	data := make([]byte, len(w.data))
	copy(data, w.data)
	w.d.files[w.path] = &file{data: data, modTime: time.Now()}
}

func (w *writer) Close() error {
	if w.closed {
		return fmt.Errorf("already closed")
	}
	w.closed = true

	if !w.cancelled {
		w.flush()
	}
	return nil
}

func (w *writer) Cancel() error {
	if w.closed {
		return fmt.Errorf("already closed")
	}
	w.cancelled = true

	w.d.mu.Lock()
	defer w.d.mu.Unlock()
	delete(w.d.files, w.path)
	return nil
}

func (w *writer) Commit() error {
	if w.closed {
		return fmt.Errorf("already closed")
	} else if w.committed {
		return fmt.Errorf("already committed")
	} else if w.cancelled {
		return fmt.Errorf("already cancelled")
	}
	w.committed = true

	w.flush()
	return nil
}
