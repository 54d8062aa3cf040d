package datastore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/deploys-app/registry/registry/datastore/models"
)

// UploadSessionStore persists the cursor of resumable blob uploads. Because request handlers share
// no process memory, the row is the single source of truth for how many bytes a session has
// accepted so far.
type UploadSessionStore interface {
	Create(ctx context.Context, s *models.UploadSession) error
	FindByID(ctx context.Context, id string) (*models.UploadSession, error)
	Advance(ctx context.Context, s *models.UploadSession, from, to int64) error
	Delete(ctx context.Context, id string) error
	FindAllStale(ctx context.Context, olderThan time.Time) (models.UploadSessions, error)
}

type uploadSessionStore struct {
	db Queryer
}

// NewUploadSessionStore builds a new uploadSessionStore.
func NewUploadSessionStore(db Queryer) UploadSessionStore {
	return &uploadSessionStore{db: db}
}

func scanFullUploadSession(row *sql.Row) (*models.UploadSession, error) {
	s := new(models.UploadSession)

	if err := row.Scan(&s.ID, &s.Repository, &s.ReceivedBytes, &s.CreatedAt, &s.LastActivity); err != nil {
		if err != sql.ErrNoRows {
			return nil, fmt.Errorf("scanning upload session: %w", err)
		}
		return nil, nil
	}

	return s, nil
}

// Create saves a new upload session with a zero byte cursor.
func (s *uploadSessionStore) Create(ctx context.Context, us *models.UploadSession) error {
	q := `INSERT INTO upload_sessions (id, repository) VALUES ($1, $2)
		RETURNING received_bytes, created_at, last_activity`

	row := s.db.QueryRowContext(ctx, q, us.ID, us.Repository)
	if err := row.Scan(&us.ReceivedBytes, &us.CreatedAt, &us.LastActivity); err != nil {
		return fmt.Errorf("creating upload session: %w", err)
	}

	return nil
}

// FindByID finds an upload session by ID.
func (s *uploadSessionStore) FindByID(ctx context.Context, id string) (*models.UploadSession, error) {
	q := "SELECT id, repository, received_bytes, created_at, last_activity FROM upload_sessions WHERE id = $1"
	row := s.db.QueryRowContext(ctx, q, id)

	return scanFullUploadSession(row)
}

// Advance moves the session cursor from offset from to offset to. The conditional update is the
// per-session ordering token: if another request advanced the cursor first, zero rows match and
// ErrStaleSession is returned without any bytes being double counted. Advancing also refreshes
// last_activity so an upload in progress never becomes purge-eligible.
func (s *uploadSessionStore) Advance(ctx context.Context, us *models.UploadSession, from, to int64) error {
	q := "UPDATE upload_sessions SET received_bytes = $1, last_activity = now() WHERE id = $2 AND received_bytes = $3"

	res, err := s.db.ExecContext(ctx, q, to, us.ID, from)
	if err != nil {
		return fmt.Errorf("advancing upload session: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("advancing upload session: %w", err)
	}
	if n == 0 {
		return ErrStaleSession
	}

	us.ReceivedBytes = to
	return nil
}

// Delete deletes an upload session. Deleting an already deleted session is not an error, committing
// and cancelling race benignly.
func (s *uploadSessionStore) Delete(ctx context.Context, id string) error {
	q := "DELETE FROM upload_sessions WHERE id = $1"

	if _, err := s.db.ExecContext(ctx, q, id); err != nil {
		return fmt.Errorf("deleting upload session: %w", err)
	}

	return nil
}

// FindAllStale finds sessions with no recorded activity since olderThan. Their staged bytes are
// eligible for discard.
func (s *uploadSessionStore) FindAllStale(ctx context.Context, olderThan time.Time) (models.UploadSessions, error) {
	q := "SELECT id, repository, received_bytes, created_at, last_activity FROM upload_sessions WHERE last_activity < $1"
	rows, err := s.db.QueryContext(ctx, q, olderThan)
	if err != nil {
		return nil, fmt.Errorf("finding stale upload sessions: %w", err)
	}
	defer rows.Close()

	ss := make(models.UploadSessions, 0)
	for rows.Next() {
		us := new(models.UploadSession)
		if err := rows.Scan(&us.ID, &us.Repository, &us.ReceivedBytes, &us.CreatedAt, &us.LastActivity); err != nil {
			return nil, fmt.Errorf("scanning upload session: %w", err)
		}
		ss = append(ss, us)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scanning upload sessions: %w", err)
	}

	return ss, nil
}
