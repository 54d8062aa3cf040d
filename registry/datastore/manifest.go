package datastore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/opencontainers/go-digest"

	"github.com/deploys-app/registry/registry/datastore/models"
)

// ManifestReader is the interface that defines read operations for a manifest store.
type ManifestReader interface {
	FindByDigest(ctx context.Context, r *models.Repository, d digest.Digest) (*models.Manifest, error)
	FindAll(ctx context.Context, r *models.Repository) (models.Manifests, error)
	ExistsByDigest(ctx context.Context, r *models.Repository, d digest.Digest) (bool, error)
}

// ManifestWriter is the interface that defines write operations for a manifest store.
type ManifestWriter interface {
	CreateOrFind(ctx context.Context, m *models.Manifest) error
}

// ManifestStore is the interface that a manifest store should conform to.
type ManifestStore interface {
	ManifestReader
	ManifestWriter
}

// manifestStore is the concrete implementation of a ManifestStore.
type manifestStore struct {
	db Queryer
}

// NewManifestStore builds a new manifestStore.
func NewManifestStore(db Queryer) ManifestStore {
	return &manifestStore{db: db}
}

func scanFullManifest(row *sql.Row) (*models.Manifest, error) {
	var dgst string
	m := new(models.Manifest)

	if err := row.Scan(&m.ID, &m.RepositoryID, &dgst, &m.MediaType, &m.Payload, &m.CreatedAt); err != nil {
		if err != sql.ErrNoRows {
			return nil, fmt.Errorf("scanning manifest: %w", err)
		}
		return nil, nil
	}

	d, err := digest.Parse(dgst)
	if err != nil {
		return nil, fmt.Errorf("parsing stored manifest digest: %w", err)
	}
	m.Digest = d

	return m, nil
}

func scanFullManifests(rows *sql.Rows) (models.Manifests, error) {
	mm := make(models.Manifests, 0)
	defer rows.Close()

	for rows.Next() {
		var dgst string
		m := new(models.Manifest)

		if err := rows.Scan(&m.ID, &m.RepositoryID, &dgst, &m.MediaType, &m.Payload, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning manifest: %w", err)
		}

		d, err := digest.Parse(dgst)
		if err != nil {
			return nil, fmt.Errorf("parsing stored manifest digest: %w", err)
		}
		m.Digest = d

		mm = append(mm, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scanning manifests: %w", err)
	}

	return mm, nil
}

// FindByDigest finds a manifest by digest within a repository.
func (s *manifestStore) FindByDigest(ctx context.Context, r *models.Repository, d digest.Digest) (*models.Manifest, error) {
	q := `SELECT id, repository_id, digest, media_type, payload, created_at
		FROM manifests WHERE repository_id = $1 AND digest = $2`
	row := s.db.QueryRowContext(ctx, q, r.ID, d.String())

	return scanFullManifest(row)
}

// FindAll finds all manifests of a repository, most recently pushed first.
func (s *manifestStore) FindAll(ctx context.Context, r *models.Repository) (models.Manifests, error) {
	q := `SELECT id, repository_id, digest, media_type, payload, created_at
		FROM manifests WHERE repository_id = $1 ORDER BY created_at DESC`
	rows, err := s.db.QueryContext(ctx, q, r.ID)
	if err != nil {
		return nil, fmt.Errorf("finding manifests: %w", err)
	}

	return scanFullManifests(rows)
}

// ExistsByDigest tells whether a manifest with digest d exists within a repository.
func (s *manifestStore) ExistsByDigest(ctx context.Context, r *models.Repository, d digest.Digest) (bool, error) {
	q := "SELECT EXISTS (SELECT 1 FROM manifests WHERE repository_id = $1 AND digest = $2)"

	var exists bool
	if err := s.db.QueryRowContext(ctx, q, r.ID, d.String()).Scan(&exists); err != nil {
		return false, fmt.Errorf("checking manifest existence: %w", err)
	}

	return exists, nil
}

// CreateOrFind attempts to create a manifest row. Re-pushing identical bytes maps to the same
// (repository, digest) pair and is a no-op, the existing record is loaded into m. Payloads are
// never mutated after creation.
func (s *manifestStore) CreateOrFind(ctx context.Context, m *models.Manifest) error {
	q := `INSERT INTO manifests (repository_id, digest, media_type, payload)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (repository_id, digest) DO NOTHING
		RETURNING id, created_at`

	row := s.db.QueryRowContext(ctx, q, m.RepositoryID, m.Digest.String(), m.MediaType, m.Payload)
	if err := row.Scan(&m.ID, &m.CreatedAt); err != nil {
		if err != sql.ErrNoRows {
			return fmt.Errorf("creating manifest: %w", err)
		}
		tmp, err := s.FindByDigest(ctx, &models.Repository{ID: m.RepositoryID}, m.Digest)
		if err != nil {
			return err
		}
		*m = *tmp
	}

	return nil
}
