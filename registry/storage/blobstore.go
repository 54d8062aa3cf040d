package storage

import (
	"context"
	"errors"
	"io"

	"github.com/opencontainers/go-digest"

	storagedriver "github.com/deploys-app/registry/registry/storage/driver"
)

// BlobStore reads and writes blob data in the object store by digest. Data is keyed by digest
// alone, so two repositories holding the same blob share one object. Which repositories may see a
// digest is tracked in the metadata store, not here.
type BlobStore struct {
	driver storagedriver.StorageDriver
}

func NewBlobStore(driver storagedriver.StorageDriver) *BlobStore {
	return &BlobStore{driver: driver}
}

// Stat returns the stored size of the blob. ErrBlobUnknown is returned when no object exists for
// the digest.
func (bs *BlobStore) Stat(ctx context.Context, dgst digest.Digest) (int64, error) {
	blobPath, err := blobDataPath(dgst)
	if err != nil {
		return 0, err
	}

	fi, err := bs.driver.Stat(ctx, blobPath)
	if err != nil {
		if errors.As(err, new(storagedriver.PathNotFoundError)) {
			return 0, ErrBlobUnknown
		}
		return 0, err
	}
	return fi.Size, nil
}

// Reader returns a reader positioned at offset within the blob's data.
func (bs *BlobStore) Reader(ctx context.Context, dgst digest.Digest, offset int64) (io.ReadCloser, error) {
	blobPath, err := blobDataPath(dgst)
	if err != nil {
		return nil, err
	}

	rc, err := bs.driver.Reader(ctx, blobPath, offset)
	if err != nil {
		if errors.As(err, new(storagedriver.PathNotFoundError)) {
			return nil, ErrBlobUnknown
		}
		return nil, err
	}
	return rc, nil
}

// Get reads the blob's full content. Intended for manifests and other small payloads.
func (bs *BlobStore) Get(ctx context.Context, dgst digest.Digest) ([]byte, error) {
	blobPath, err := blobDataPath(dgst)
	if err != nil {
		return nil, err
	}

	p, err := bs.driver.GetContent(ctx, blobPath)
	if err != nil {
		if errors.As(err, new(storagedriver.PathNotFoundError)) {
			return nil, ErrBlobUnknown
		}
		return nil, err
	}
	return p, nil
}

// Put writes content to the blob's canonical path after verifying it matches the digest. Used for
// monolithic writes where the content is already in hand.
func (bs *BlobStore) Put(ctx context.Context, dgst digest.Digest, p []byte) error {
	if actual := digest.FromBytes(p); actual != dgst {
		return DigestMismatchError{Expected: dgst, Actual: actual}
	}

	blobPath, err := blobDataPath(dgst)
	if err != nil {
		return err
	}
	return bs.driver.PutContent(ctx, blobPath, p)
}
