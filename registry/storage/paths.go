package storage

import (
	"fmt"
	"path"

	"github.com/opencontainers/go-digest"
)

// Object store layout. Blob data is stored once per digest regardless of how many repositories
// reference it; upload sessions stage bytes under a per-session path until finalized.
//
//	/registry/blobs/<algorithm>/<first two hex>/<hex>/data
//	/registry/uploads/<session id>/data
const storagePathRoot = "/registry"

// blobDataPath returns the path of the canonical object for a digest.
func blobDataPath(dgst digest.Digest) (string, error) {
	if err := dgst.Validate(); err != nil {
		return "", fmt.Errorf("invalid digest %q: %w", dgst, err)
	}

	hex := dgst.Hex()
	return path.Join(storagePathRoot, "blobs", dgst.Algorithm().String(), hex[:2], hex, "data"), nil
}

// uploadDataPath returns the staging path for an upload session.
func uploadDataPath(id string) string {
	return path.Join(storagePathRoot, "uploads", id, "data")
}

// uploadRootPath returns the root of an upload session's staging area, for cleanup.
func uploadRootPath(id string) string {
	return path.Join(storagePathRoot, "uploads", id)
}
