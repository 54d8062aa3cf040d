package datastore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/opencontainers/go-digest"

	"github.com/deploys-app/registry/registry/datastore/models"
)

// TagReader is the interface that defines read operations for a tag store.
type TagReader interface {
	FindByName(ctx context.Context, r *models.Repository, name string) (*models.Tag, error)
	FindAll(ctx context.Context, r *models.Repository) (models.Tags, error)
}

// TagWriter is the interface that defines write operations for a tag store.
type TagWriter interface {
	Set(ctx context.Context, t *models.Tag) error
}

// TagStore is the interface that a tag store should conform to.
type TagStore interface {
	TagReader
	TagWriter
}

// tagStore is the concrete implementation of a TagStore.
type tagStore struct {
	db Queryer
}

// NewTagStore builds a new tag store.
func NewTagStore(db Queryer) TagStore {
	return &tagStore{db: db}
}

func scanFullTag(row *sql.Row) (*models.Tag, error) {
	var dgst string
	t := new(models.Tag)

	if err := row.Scan(&t.ID, &t.RepositoryID, &t.Name, &dgst, &t.CreatedAt); err != nil {
		if err != sql.ErrNoRows {
			return nil, fmt.Errorf("scanning tag: %w", err)
		}
		return nil, nil
	}

	d, err := digest.Parse(dgst)
	if err != nil {
		return nil, fmt.Errorf("parsing stored tag digest: %w", err)
	}
	t.Digest = d

	return t, nil
}

func scanFullTags(rows *sql.Rows) (models.Tags, error) {
	tt := make(models.Tags, 0)
	defer rows.Close()

	for rows.Next() {
		var dgst string
		t := new(models.Tag)

		if err := rows.Scan(&t.ID, &t.RepositoryID, &t.Name, &dgst, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning tag: %w", err)
		}

		d, err := digest.Parse(dgst)
		if err != nil {
			return nil, fmt.Errorf("parsing stored tag digest: %w", err)
		}
		t.Digest = d

		tt = append(tt, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scanning tags: %w", err)
	}

	return tt, nil
}

// FindByName finds a tag by name within a repository.
func (s *tagStore) FindByName(ctx context.Context, r *models.Repository, name string) (*models.Tag, error) {
	q := `SELECT id, repository_id, name, digest, created_at
		FROM tags WHERE repository_id = $1 AND name = $2`
	row := s.db.QueryRowContext(ctx, q, r.ID, name)

	return scanFullTag(row)
}

// FindAll finds all tags of a repository, most recently pushed or overwritten first.
func (s *tagStore) FindAll(ctx context.Context, r *models.Repository) (models.Tags, error) {
	q := `SELECT id, repository_id, name, digest, created_at
		FROM tags WHERE repository_id = $1 ORDER BY created_at DESC`
	rows, err := s.db.QueryContext(ctx, q, r.ID)
	if err != nil {
		return nil, fmt.Errorf("finding tags: %w", err)
	}

	return scanFullTags(rows)
}

// Set points a tag at a digest, overwriting any prior digest. Last write wins, there is no
// optimistic concurrency check. Overwriting refreshes created_at so listings surface the most
// recently moved tags first.
func (s *tagStore) Set(ctx context.Context, t *models.Tag) error {
	q := `INSERT INTO tags (repository_id, name, digest)
		VALUES ($1, $2, $3)
		ON CONFLICT (repository_id, name)
		DO UPDATE SET digest = EXCLUDED.digest, created_at = now()
		RETURNING id, created_at`

	row := s.db.QueryRowContext(ctx, q, t.RepositoryID, t.Name, t.Digest.String())
	if err := row.Scan(&t.ID, &t.CreatedAt); err != nil {
		return fmt.Errorf("setting tag: %w", err)
	}

	return nil
}
