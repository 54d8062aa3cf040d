package models

import (
	"time"

	"github.com/opencontainers/go-digest"
)

type Repository struct {
	ID        int64
	Namespace string
	Name      string
	CreatedAt time.Time
}

// Repositories is a slice of Repository pointers.
type Repositories []*Repository

type Blob struct {
	ID           int64
	RepositoryID int64
	Digest       digest.Digest
	Size         int64
	CreatedAt    time.Time
}

// Blobs is a slice of Blob pointers.
type Blobs []*Blob

type Manifest struct {
	ID           int64
	RepositoryID int64
	Digest       digest.Digest
	MediaType    string
	// Payload is the manifest document exactly as received. The digest is
	// computed over these bytes and the payload is never re-serialized.
	Payload   []byte
	CreatedAt time.Time
}

// Manifests is a slice of Manifest pointers.
type Manifests []*Manifest

type Tag struct {
	ID           int64
	RepositoryID int64
	Name         string
	Digest       digest.Digest
	CreatedAt    time.Time
}

// Tags is a slice of Tag pointers.
type Tags []*Tag

// UploadSession tracks one resumable blob upload. ReceivedBytes is the only
// cursor, the staged bytes themselves live in the object store keyed by ID.
// LastActivity moves with the cursor and decides when an abandoned session
// becomes purge-eligible.
type UploadSession struct {
	ID            string
	Repository    string
	ReceivedBytes int64
	CreatedAt     time.Time
	LastActivity  time.Time
}

// UploadSessions is a slice of UploadSession pointers.
type UploadSessions []*UploadSession
