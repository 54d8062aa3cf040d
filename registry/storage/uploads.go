package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/opencontainers/go-digest"
	"github.com/sirupsen/logrus"

	"github.com/deploys-app/registry/registry/datastore"
	"github.com/deploys-app/registry/registry/datastore/models"
	storagedriver "github.com/deploys-app/registry/registry/storage/driver"
)

// UploadManager drives resumable blob uploads. Sessions live in the metadata store, staged bytes
// live in the object store under the session's staging path, so any process can serve any request
// of a session. Chunk ordering is enforced by the session store's conditional cursor advance, not
// by process state.
type UploadManager struct {
	driver   storagedriver.StorageDriver
	sessions datastore.UploadSessionStore
	log      *logrus.Entry
}

func NewUploadManager(driver storagedriver.StorageDriver, sessions datastore.UploadSessionStore, log *logrus.Entry) *UploadManager {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &UploadManager{driver: driver, sessions: sessions, log: log}
}

// Start opens a new upload session for a repository and returns it with a zero byte cursor.
func (m *UploadManager) Start(ctx context.Context, repoName string) (*models.UploadSession, error) {
	session := &models.UploadSession{
		ID:         uuid.NewString(),
		Repository: repoName,
	}
	if err := m.sessions.Create(ctx, session); err != nil {
		return nil, err
	}

	return session, nil
}

// Status returns the session's committed cursor. ErrUploadUnknown is returned for ids that do not
// resolve to a live session in the given repository.
func (m *UploadManager) Status(ctx context.Context, repoName, id string) (*models.UploadSession, error) {
	session, err := m.sessions.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if session == nil || session.Repository != repoName {
		return nil, ErrUploadUnknown
	}

	return session, nil
}

// Append writes a chunk starting at offset start. The chunk must start exactly at the session's
// committed cursor; otherwise InvalidRangeError reports the offset to resume from and the session
// keeps its prior state. A read error mid-chunk consumes the session, since staging may already
// hold bytes past the committed cursor. Returns the new committed offset.
func (m *UploadManager) Append(ctx context.Context, repoName, id string, start int64, chunk io.Reader) (int64, error) {
	session, err := m.Status(ctx, repoName, id)
	if err != nil {
		return 0, err
	}
	if start != session.ReceivedBytes {
		return 0, InvalidRangeError{Offset: session.ReceivedBytes, Start: start}
	}

	fw, err := m.stagingWriter(ctx, session)
	if err != nil {
		return 0, err
	}

	n, err := io.Copy(fw, chunk)
	if err != nil {
		// Part of the chunk may already be flushed past the committed offset, so the staged
		// object can no longer be trusted to match the cursor. Consume the session instead of
		// leaving a resumable offset that points into corrupt staging.
		fw.Close()
		m.discard(ctx, id)
		return 0, fmt.Errorf("staging chunk: %w", err)
	}
	if err := fw.Close(); err != nil {
		m.discard(ctx, id)
		return 0, fmt.Errorf("closing staged chunk: %w", err)
	}

	// The cursor only moves if no concurrent request moved it first. On a lost race the bytes we
	// staged are already part of the object, but so are the winner's; the loser reports the
	// winner's offset back to the client.
	if err := m.sessions.Advance(ctx, session, start, start+n); err != nil {
		if errors.Is(err, datastore.ErrStaleSession) {
			current, ferr := m.Status(ctx, repoName, id)
			if ferr != nil {
				return 0, ferr
			}
			return 0, InvalidRangeError{Offset: current.ReceivedBytes, Start: start}
		}
		return 0, err
	}

	return session.ReceivedBytes, nil
}

// Finalize completes the session: the optional final chunk is staged, the staged object is sealed
// and re-read to verify it matches dgst, and on success the object is moved to the blob's
// canonical path. The session is consumed whether verification passes or fails; a mismatch leaves
// no partial object at the blob path.
func (m *UploadManager) Finalize(ctx context.Context, repoName, id string, start int64, chunk io.Reader, dgst digest.Digest) (int64, error) {
	if err := dgst.Validate(); err != nil {
		return 0, fmt.Errorf("invalid digest %q: %w", dgst, err)
	}

	session, err := m.Status(ctx, repoName, id)
	if err != nil {
		return 0, err
	}

	if chunk != nil {
		if _, err := m.Append(ctx, repoName, id, start, chunk); err != nil {
			return 0, err
		}
	} else if start != session.ReceivedBytes {
		return 0, InvalidRangeError{Offset: session.ReceivedBytes, Start: start}
	}

	size, err := m.sealAndVerify(ctx, id, dgst)
	if err != nil {
		m.discard(ctx, id)
		return 0, err
	}

	blobPath, err := blobDataPath(dgst)
	if err != nil {
		m.discard(ctx, id)
		return 0, err
	}
	if err := m.driver.Move(ctx, uploadDataPath(id), blobPath); err != nil {
		m.discard(ctx, id)
		return 0, fmt.Errorf("linking blob data: %w", err)
	}

	if err := m.sessions.Delete(ctx, id); err != nil {
		return 0, err
	}
	if err := m.driver.Delete(ctx, uploadRootPath(id)); err != nil {
		if !errors.As(err, new(storagedriver.PathNotFoundError)) {
			m.log.WithError(err).WithField("upload_id", id).Warn("could not clean upload staging area")
		}
	}

	return size, nil
}

// Cancel consumes the session and discards its staged bytes. Cancelling an unknown session is not
// an error.
func (m *UploadManager) Cancel(ctx context.Context, repoName, id string) error {
	session, err := m.sessions.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if session == nil || session.Repository != repoName {
		return nil
	}

	m.discard(ctx, id)
	return nil
}

// stagingWriter opens the session's staged object for appending, creating it on the first chunk.
func (m *UploadManager) stagingWriter(ctx context.Context, session *models.UploadSession) (storagedriver.FileWriter, error) {
	if session.ReceivedBytes == 0 {
		return m.driver.Writer(ctx, uploadDataPath(session.ID), false)
	}

	fw, err := m.driver.Writer(ctx, uploadDataPath(session.ID), true)
	if err != nil {
		return nil, fmt.Errorf("resuming staged upload: %w", err)
	}
	return fw, nil
}

// sealAndVerify commits the staged object and re-reads it through a digest verifier. No hash state
// is persisted between chunks; the full stream is hashed here, once, at finalize time.
func (m *UploadManager) sealAndVerify(ctx context.Context, id string, dgst digest.Digest) (int64, error) {
	fw, err := m.driver.Writer(ctx, uploadDataPath(id), true)
	if err != nil {
		// a zero-byte session never opened a writer
		if errors.As(err, new(storagedriver.PathNotFoundError)) {
			fw, err = m.driver.Writer(ctx, uploadDataPath(id), false)
		}
		if err != nil {
			return 0, fmt.Errorf("sealing staged upload: %w", err)
		}
	}
	if err := fw.Commit(); err != nil {
		fw.Close()
		return 0, fmt.Errorf("sealing staged upload: %w", err)
	}
	fw.Close()

	rc, err := m.driver.Reader(ctx, uploadDataPath(id), 0)
	if err != nil {
		return 0, fmt.Errorf("reading staged upload: %w", err)
	}
	defer rc.Close()

	digester := dgst.Algorithm().Digester()
	size, err := io.Copy(digester.Hash(), rc)
	if err != nil {
		return 0, fmt.Errorf("verifying staged upload: %w", err)
	}
	if actual := digester.Digest(); actual != dgst {
		return 0, DigestMismatchError{Expected: dgst, Actual: actual}
	}

	return size, nil
}

func (m *UploadManager) discard(ctx context.Context, id string) {
	if err := m.sessions.Delete(ctx, id); err != nil {
		m.log.WithError(err).WithField("upload_id", id).Warn("could not delete upload session")
	}
	if err := m.driver.Delete(ctx, uploadRootPath(id)); err != nil {
		if !errors.As(err, new(storagedriver.PathNotFoundError)) {
			m.log.WithError(err).WithField("upload_id", id).Warn("could not discard staged upload data")
		}
	}
}
