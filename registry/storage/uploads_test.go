package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deploys-app/registry/registry/datastore"
	"github.com/deploys-app/registry/registry/datastore/models"
	"github.com/deploys-app/registry/registry/storage/driver/inmemory"
)

// fakeSessionStore mirrors the semantics of the SQL-backed session store, including the
// conditional cursor advance.
type fakeSessionStore struct {
	mu       sync.Mutex
	sessions map[string]*models.UploadSession
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{sessions: make(map[string]*models.UploadSession)}
}

func (s *fakeSessionStore) Create(ctx context.Context, us *models.UploadSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	us.CreatedAt = time.Now()
	us.LastActivity = us.CreatedAt
	cp := *us
	s.sessions[us.ID] = &cp
	return nil
}

func (s *fakeSessionStore) FindByID(ctx context.Context, id string) (*models.UploadSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	us, ok := s.sessions[id]
	if !ok {
		return nil, nil
	}
	cp := *us
	return &cp, nil
}

func (s *fakeSessionStore) Advance(ctx context.Context, us *models.UploadSession, from, to int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.sessions[us.ID]
	if !ok || stored.ReceivedBytes != from {
		return datastore.ErrStaleSession
	}
	stored.ReceivedBytes = to
	stored.LastActivity = time.Now()
	us.ReceivedBytes = to
	return nil
}

func (s *fakeSessionStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, id)
	return nil
}

func (s *fakeSessionStore) FindAllStale(ctx context.Context, olderThan time.Time) (models.UploadSessions, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out models.UploadSessions
	for _, us := range s.sessions {
		if us.LastActivity.Before(olderThan) {
			cp := *us
			out = append(out, &cp)
		}
	}
	return out, nil
}

func newTestManager() (*UploadManager, *inmemory.Driver, *fakeSessionStore) {
	driver := inmemory.New()
	sessions := newFakeSessionStore()
	return NewUploadManager(driver, sessions, nil), driver, sessions
}

func TestUploadManager_ChunkedUpload(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager()

	content := bytes.Repeat([]byte("x"), 300)
	dgst := digest.FromBytes(content)

	session, err := m.Start(ctx, "proj/app")
	require.NoError(t, err)
	require.Zero(t, session.ReceivedBytes)

	offset, err := m.Append(ctx, "proj/app", session.ID, 0, bytes.NewReader(content[:100]))
	require.NoError(t, err)
	assert.Equal(t, int64(100), offset)

	offset, err = m.Append(ctx, "proj/app", session.ID, 100, bytes.NewReader(content[100:250]))
	require.NoError(t, err)
	assert.Equal(t, int64(250), offset)

	size, err := m.Finalize(ctx, "proj/app", session.ID, 250, bytes.NewReader(content[250:]), dgst)
	require.NoError(t, err)
	assert.Equal(t, int64(300), size)

	// blob is readable at its canonical path, session is gone
	got, err := NewBlobStore(mustDriver(m)).Get(ctx, dgst)
	require.NoError(t, err)
	assert.Equal(t, content, got)

	_, err = m.Status(ctx, "proj/app", session.ID)
	assert.ErrorIs(t, err, ErrUploadUnknown)
}

func TestUploadManager_OutOfOrderChunkRejected(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager()

	session, err := m.Start(ctx, "proj/app")
	require.NoError(t, err)

	_, err = m.Append(ctx, "proj/app", session.ID, 0, strings.NewReader(strings.Repeat("a", 100)))
	require.NoError(t, err)

	// chunk starting past the committed offset leaves the session untouched
	_, err = m.Append(ctx, "proj/app", session.ID, 250, strings.NewReader("zzz"))
	var rangeErr InvalidRangeError
	require.True(t, errors.As(err, &rangeErr))
	assert.Equal(t, int64(100), rangeErr.Offset)
	assert.Equal(t, int64(250), rangeErr.Start)

	current, err := m.Status(ctx, "proj/app", session.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(100), current.ReceivedBytes)

	// the session still accepts the correct continuation
	offset, err := m.Append(ctx, "proj/app", session.ID, 100, strings.NewReader("b"))
	require.NoError(t, err)
	assert.Equal(t, int64(101), offset)
}

// brokenReader fails partway through a chunk, after some bytes were already delivered.
type brokenReader struct {
	prefix io.Reader
}

func (r *brokenReader) Read(p []byte) (int, error) {
	n, err := r.prefix.Read(p)
	if err == io.EOF {
		return n, errors.New("connection reset")
	}
	return n, err
}

func TestUploadManager_ChunkReadErrorConsumesSession(t *testing.T) {
	ctx := context.Background()
	m, driver, _ := newTestManager()

	session, err := m.Start(ctx, "proj/app")
	require.NoError(t, err)

	_, err = m.Append(ctx, "proj/app", session.ID, 0, strings.NewReader(strings.Repeat("a", 100)))
	require.NoError(t, err)

	// the chunk dies mid-stream; staging may now hold bytes past the committed offset, so the
	// session cannot be resumed and is consumed instead of inviting a doomed finalize
	_, err = m.Append(ctx, "proj/app", session.ID, 100, &brokenReader{prefix: strings.NewReader("partial")})
	require.Error(t, err)

	_, err = m.Status(ctx, "proj/app", session.ID)
	assert.ErrorIs(t, err, ErrUploadUnknown)

	_, err = driver.Stat(ctx, uploadDataPath(session.ID))
	require.Error(t, err)
}

func TestUploadManager_DigestMismatchConsumesSession(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager()

	session, err := m.Start(ctx, "proj/app")
	require.NoError(t, err)

	_, err = m.Append(ctx, "proj/app", session.ID, 0, strings.NewReader("abcd"))
	require.NoError(t, err)

	wrong := digest.FromString("not abcd")
	_, err = m.Finalize(ctx, "proj/app", session.ID, 4, nil, wrong)
	var mismatch DigestMismatchError
	require.True(t, errors.As(err, &mismatch))
	assert.Equal(t, wrong, mismatch.Expected)
	assert.Equal(t, digest.FromString("abcd"), mismatch.Actual)

	// session and staged bytes are gone, no partial blob exists
	_, err = m.Status(ctx, "proj/app", session.ID)
	assert.ErrorIs(t, err, ErrUploadUnknown)

	_, err = NewBlobStore(mustDriver(m)).Stat(ctx, wrong)
	assert.ErrorIs(t, err, ErrBlobUnknown)
}

func TestUploadManager_FinalizeWithTrailingChunk(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager()

	session, err := m.Start(ctx, "proj/app")
	require.NoError(t, err)

	dgst := digest.FromString("abcd")
	size, err := m.Finalize(ctx, "proj/app", session.ID, 0, strings.NewReader("abcd"), dgst)
	require.NoError(t, err)
	assert.Equal(t, int64(4), size)

	got, err := NewBlobStore(mustDriver(m)).Get(ctx, dgst)
	require.NoError(t, err)
	assert.Equal(t, []byte("abcd"), got)
}

func TestUploadManager_CancelIsIdempotent(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager()

	session, err := m.Start(ctx, "proj/app")
	require.NoError(t, err)

	_, err = m.Append(ctx, "proj/app", session.ID, 0, strings.NewReader("data"))
	require.NoError(t, err)

	require.NoError(t, m.Cancel(ctx, "proj/app", session.ID))
	require.NoError(t, m.Cancel(ctx, "proj/app", session.ID))

	_, err = m.Status(ctx, "proj/app", session.ID)
	assert.ErrorIs(t, err, ErrUploadUnknown)
}

func TestUploadManager_SessionScopedToRepository(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager()

	session, err := m.Start(ctx, "proj/app")
	require.NoError(t, err)

	_, err = m.Status(ctx, "other/app", session.ID)
	assert.ErrorIs(t, err, ErrUploadUnknown)

	_, err = m.Append(ctx, "other/app", session.ID, 0, strings.NewReader("x"))
	assert.ErrorIs(t, err, ErrUploadUnknown)
}

func TestUploadManager_PurgeStaleUploads(t *testing.T) {
	ctx := context.Background()
	m, _, sessions := newTestManager()

	old, err := m.Start(ctx, "proj/app")
	require.NoError(t, err)
	sessions.sessions[old.ID].LastActivity = time.Now().Add(-48 * time.Hour)

	fresh, err := m.Start(ctx, "proj/app")
	require.NoError(t, err)

	// a long-running upload that keeps receiving chunks is not stale, no matter its age
	active, err := m.Start(ctx, "proj/app")
	require.NoError(t, err)
	sessions.sessions[active.ID].CreatedAt = time.Now().Add(-48 * time.Hour)
	sessions.sessions[active.ID].LastActivity = time.Now().Add(-48 * time.Hour)
	_, err = m.Append(ctx, "proj/app", active.ID, 0, strings.NewReader("x"))
	require.NoError(t, err)

	n, err := m.PurgeStaleUploads(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = m.Status(ctx, "proj/app", old.ID)
	assert.ErrorIs(t, err, ErrUploadUnknown)
	_, err = m.Status(ctx, "proj/app", fresh.ID)
	assert.NoError(t, err)
	_, err = m.Status(ctx, "proj/app", active.ID)
	assert.NoError(t, err)
}

func mustDriver(m *UploadManager) *inmemory.Driver {
	return m.driver.(*inmemory.Driver)
}
