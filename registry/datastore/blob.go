package datastore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/opencontainers/go-digest"

	"github.com/deploys-app/registry/registry/datastore/models"
)

// BlobReader is the interface that defines read operations for a blob store.
type BlobReader interface {
	FindByDigest(ctx context.Context, r *models.Repository, d digest.Digest) (*models.Blob, error)
	FindAll(ctx context.Context, r *models.Repository) (models.Blobs, error)
	ExistsByDigest(ctx context.Context, r *models.Repository, d digest.Digest) (bool, error)
}

// BlobWriter is the interface that defines write operations for a blob store.
type BlobWriter interface {
	Create(ctx context.Context, b *models.Blob) error
	CreateOrFind(ctx context.Context, b *models.Blob) error
}

// BlobStore is the interface that a blob store should conform to.
type BlobStore interface {
	BlobReader
	BlobWriter
}

// blobStore is the concrete implementation of a BlobStore.
type blobStore struct {
	db Queryer
}

// NewBlobStore builds a new blobStore.
func NewBlobStore(db Queryer) BlobStore {
	return &blobStore{db: db}
}

func scanFullBlob(row *sql.Row) (*models.Blob, error) {
	var dgst string
	b := new(models.Blob)

	if err := row.Scan(&b.ID, &b.RepositoryID, &dgst, &b.Size, &b.CreatedAt); err != nil {
		if err != sql.ErrNoRows {
			return nil, fmt.Errorf("scanning blob: %w", err)
		}
		return nil, nil
	}

	d, err := digest.Parse(dgst)
	if err != nil {
		return nil, fmt.Errorf("parsing stored blob digest: %w", err)
	}
	b.Digest = d

	return b, nil
}

func scanFullBlobs(rows *sql.Rows) (models.Blobs, error) {
	bb := make(models.Blobs, 0)
	defer rows.Close()

	for rows.Next() {
		var dgst string
		b := new(models.Blob)

		if err := rows.Scan(&b.ID, &b.RepositoryID, &dgst, &b.Size, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning blob: %w", err)
		}

		d, err := digest.Parse(dgst)
		if err != nil {
			return nil, fmt.Errorf("parsing stored blob digest: %w", err)
		}
		b.Digest = d

		bb = append(bb, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scanning blobs: %w", err)
	}

	return bb, nil
}

// FindByDigest finds a blob by digest within a repository.
func (s *blobStore) FindByDigest(ctx context.Context, r *models.Repository, d digest.Digest) (*models.Blob, error) {
	q := `SELECT id, repository_id, digest, size, created_at
		FROM blobs WHERE repository_id = $1 AND digest = $2`
	row := s.db.QueryRowContext(ctx, q, r.ID, d.String())

	return scanFullBlob(row)
}

// FindAll finds all blobs registered against a repository.
func (s *blobStore) FindAll(ctx context.Context, r *models.Repository) (models.Blobs, error) {
	q := "SELECT id, repository_id, digest, size, created_at FROM blobs WHERE repository_id = $1"
	rows, err := s.db.QueryContext(ctx, q, r.ID)
	if err != nil {
		return nil, fmt.Errorf("finding blobs: %w", err)
	}

	return scanFullBlobs(rows)
}

// ExistsByDigest tells whether a blob with digest d is registered against a repository.
func (s *blobStore) ExistsByDigest(ctx context.Context, r *models.Repository, d digest.Digest) (bool, error) {
	q := "SELECT EXISTS (SELECT 1 FROM blobs WHERE repository_id = $1 AND digest = $2)"

	var exists bool
	if err := s.db.QueryRowContext(ctx, q, r.ID, d.String()).Scan(&exists); err != nil {
		return false, fmt.Errorf("checking blob existence: %w", err)
	}

	return exists, nil
}

// Create saves a new blob.
func (s *blobStore) Create(ctx context.Context, b *models.Blob) error {
	q := `INSERT INTO blobs (repository_id, digest, size) VALUES ($1, $2, $3)
		RETURNING id, created_at`

	row := s.db.QueryRowContext(ctx, q, b.RepositoryID, b.Digest.String(), b.Size)
	if err := row.Scan(&b.ID, &b.CreatedAt); err != nil {
		return fmt.Errorf("creating blob: %w", err)
	}

	return nil
}

// CreateOrFind attempts to create a blob row. If a row for the same (repository, digest) pair
// already exists that record is loaded from the database into b, making blob registration
// idempotent under concurrent commits of the same content.
func (s *blobStore) CreateOrFind(ctx context.Context, b *models.Blob) error {
	q := `INSERT INTO blobs (repository_id, digest, size)
		VALUES ($1, $2, $3)
		ON CONFLICT (repository_id, digest) DO NOTHING
		RETURNING id, created_at`

	row := s.db.QueryRowContext(ctx, q, b.RepositoryID, b.Digest.String(), b.Size)
	if err := row.Scan(&b.ID, &b.CreatedAt); err != nil {
		if err != sql.ErrNoRows {
			return fmt.Errorf("creating blob: %w", err)
		}
		// if the result set has no rows, then the blob row already exists
		tmp, err := s.FindByDigest(ctx, &models.Repository{ID: b.RepositoryID}, b.Digest)
		if err != nil {
			return err
		}
		*b = *tmp
	}

	return nil
}
