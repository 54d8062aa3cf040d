package storage

import (
	"context"
	"errors"
	"io/ioutil"
	"testing"

	"github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deploys-app/registry/registry/storage/driver/inmemory"
)

func TestBlobStore_PutGet(t *testing.T) {
	ctx := context.Background()
	bs := NewBlobStore(inmemory.New())

	content := []byte("blob content")
	dgst := digest.FromBytes(content)

	require.NoError(t, bs.Put(ctx, dgst, content))

	got, err := bs.Get(ctx, dgst)
	require.NoError(t, err)
	assert.Equal(t, content, got)

	size, err := bs.Stat(ctx, dgst)
	require.NoError(t, err)
	assert.Equal(t, int64(len(content)), size)
}

func TestBlobStore_PutRejectsMismatch(t *testing.T) {
	ctx := context.Background()
	bs := NewBlobStore(inmemory.New())

	err := bs.Put(ctx, digest.FromString("something else"), []byte("blob content"))
	var mismatch DigestMismatchError
	require.True(t, errors.As(err, &mismatch))

	_, err = bs.Stat(ctx, digest.FromString("something else"))
	assert.ErrorIs(t, err, ErrBlobUnknown)
}

func TestBlobStore_Unknown(t *testing.T) {
	ctx := context.Background()
	bs := NewBlobStore(inmemory.New())

	dgst := digest.FromString("never stored")

	_, err := bs.Stat(ctx, dgst)
	assert.ErrorIs(t, err, ErrBlobUnknown)

	_, err = bs.Get(ctx, dgst)
	assert.ErrorIs(t, err, ErrBlobUnknown)

	_, err = bs.Reader(ctx, dgst, 0)
	assert.ErrorIs(t, err, ErrBlobUnknown)
}

func TestBlobStore_ReaderOffset(t *testing.T) {
	ctx := context.Background()
	bs := NewBlobStore(inmemory.New())

	content := []byte("0123456789")
	dgst := digest.FromBytes(content)
	require.NoError(t, bs.Put(ctx, dgst, content))

	rc, err := bs.Reader(ctx, dgst, 4)
	require.NoError(t, err)
	defer rc.Close()

	got, err := ioutil.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, []byte("456789"), got)
}
