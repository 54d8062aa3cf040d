package datastore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/deploys-app/registry/registry/datastore/models"
)

// RepositoryReader is the interface that defines read operations for a repository store.
type RepositoryReader interface {
	FindByName(ctx context.Context, name string) (*models.Repository, error)
	FindAllByNamespace(ctx context.Context, namespace string) (models.Repositories, error)
	BlobsSize(ctx context.Context, r *models.Repository) (int64, error)
}

// RepositoryWriter is the interface that defines write operations for a repository store.
type RepositoryWriter interface {
	Create(ctx context.Context, r *models.Repository) error
	CreateOrFind(ctx context.Context, r *models.Repository) error
}

// RepositoryStore is the interface that a repository store should conform to.
type RepositoryStore interface {
	RepositoryReader
	RepositoryWriter
}

// repositoryStore is the concrete implementation of a RepositoryStore.
type repositoryStore struct {
	// db can be either a *sql.DB or *sql.Tx
	db Queryer
}

// NewRepositoryStore builds a new repositoryStore.
func NewRepositoryStore(db Queryer) RepositoryStore {
	return &repositoryStore{db: db}
}

// SplitName splits a repository name into its namespace and the remainder.
// Repository names always take the form `<namespace>/<rest>`.
func SplitName(name string) (namespace, rest string, ok bool) {
	i := strings.Index(name, "/")
	if i <= 0 || i == len(name)-1 {
		return "", "", false
	}
	return name[:i], name[i+1:], true
}

func scanFullRepository(row *sql.Row) (*models.Repository, error) {
	r := new(models.Repository)

	if err := row.Scan(&r.ID, &r.Namespace, &r.Name, &r.CreatedAt); err != nil {
		if err != sql.ErrNoRows {
			return nil, fmt.Errorf("scanning repository: %w", err)
		}
		return nil, nil
	}

	return r, nil
}

func scanFullRepositories(rows *sql.Rows) (models.Repositories, error) {
	rr := make(models.Repositories, 0)
	defer rows.Close()

	for rows.Next() {
		r := new(models.Repository)
		if err := rows.Scan(&r.ID, &r.Namespace, &r.Name, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning repository: %w", err)
		}
		rr = append(rr, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scanning repositories: %w", err)
	}

	return rr, nil
}

// FindByName finds a repository by name.
func (s *repositoryStore) FindByName(ctx context.Context, name string) (*models.Repository, error) {
	q := "SELECT id, namespace, name, created_at FROM repositories WHERE name = $1"
	row := s.db.QueryRowContext(ctx, q, name)

	return scanFullRepository(row)
}

// FindAllByNamespace finds all repositories within a namespace, ordered by name.
func (s *repositoryStore) FindAllByNamespace(ctx context.Context, namespace string) (models.Repositories, error) {
	q := "SELECT id, namespace, name, created_at FROM repositories WHERE namespace = $1 ORDER BY name"
	rows, err := s.db.QueryContext(ctx, q, namespace)
	if err != nil {
		return nil, fmt.Errorf("finding repositories: %w", err)
	}

	return scanFullRepositories(rows)
}

// BlobsSize sums the size of all blobs registered against a repository.
func (s *repositoryStore) BlobsSize(ctx context.Context, r *models.Repository) (int64, error) {
	q := "SELECT COALESCE(SUM(size), 0) FROM blobs WHERE repository_id = $1"

	var size int64
	if err := s.db.QueryRowContext(ctx, q, r.ID).Scan(&size); err != nil {
		return 0, fmt.Errorf("summing blob sizes: %w", err)
	}

	return size, nil
}

// Create saves a new repository.
func (s *repositoryStore) Create(ctx context.Context, r *models.Repository) error {
	q := "INSERT INTO repositories (namespace, name) VALUES ($1, $2) RETURNING id, created_at"

	row := s.db.QueryRowContext(ctx, q, r.Namespace, r.Name)
	if err := row.Scan(&r.ID, &r.CreatedAt); err != nil {
		return fmt.Errorf("creating repository: %w", err)
	}

	return nil
}

// CreateOrFind attempts to create a repository. If the repository already exists (same name) that
// record is loaded from the database into r. This is similar to a FindByName followed by a Create,
// but without being prone to race conditions on write operations between the corresponding read
// (FindByName) and write (Create) operations. Separate Find* and Create method calls should be
// preferred to this when race conditions are not a concern.
func (s *repositoryStore) CreateOrFind(ctx context.Context, r *models.Repository) error {
	q := `INSERT INTO repositories (namespace, name)
		VALUES ($1, $2)
		ON CONFLICT (name) DO NOTHING
		RETURNING id, created_at`

	row := s.db.QueryRowContext(ctx, q, r.Namespace, r.Name)
	if err := row.Scan(&r.ID, &r.CreatedAt); err != nil {
		if err != sql.ErrNoRows {
			return fmt.Errorf("creating repository: %w", err)
		}
		// if the result set has no rows, then the repository already exists
		tmp, err := s.FindByName(ctx, r.Name)
		if err != nil {
			return err
		}
		*r = *tmp
	}

	return nil
}
