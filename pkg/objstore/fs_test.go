package objstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFS(t *testing.T) *FileStore {
	t.Helper()
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestFileStorePutGet(t *testing.T) {
	s := newTestFS(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "rulesets/prod/us/US/CARD_AUTH/v1/ruleset.json", []byte(`{"a":1}`)))

	data, err := s.Get(ctx, "rulesets/prod/us/US/CARD_AUTH/v1/ruleset.json")
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(data))

	ok, err := s.Exists(ctx, "rulesets/prod/us/US/CARD_AUTH/v1/ruleset.json")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestFileStorePutOverwrites(t *testing.T) {
	s := newTestFS(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "manifest.json", []byte(`{"v":1}`)))
	require.NoError(t, s.Put(ctx, "manifest.json", []byte(`{"v":2}`)))

	data, err := s.Get(ctx, "manifest.json")
	require.NoError(t, err)
	assert.Equal(t, `{"v":2}`, string(data))
}

func TestFileStorePutIfAbsent(t *testing.T) {
	s := newTestFS(t)
	ctx := context.Background()

	created, err := s.PutIfAbsent(ctx, "a/b.json", []byte("first"))
	require.NoError(t, err)
	assert.True(t, created)

	created, err = s.PutIfAbsent(ctx, "a/b.json", []byte("second"))
	require.NoError(t, err)
	assert.False(t, created)

	data, err := s.Get(ctx, "a/b.json")
	require.NoError(t, err)
	assert.Equal(t, "first", string(data), "losing writer must not clobber")
}

func TestFileStoreGetMissing(t *testing.T) {
	s := newTestFS(t)

	_, err := s.Get(context.Background(), "nope.json")
	assert.ErrorIs(t, err, ErrNotFound)

	ok, err := s.Exists(context.Background(), "nope.json")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFileStoreDelete(t *testing.T) {
	s := newTestFS(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "x.json", []byte("x")))
	require.NoError(t, s.Delete(ctx, "x.json"))
	require.NoError(t, s.Delete(ctx, "x.json"), "delete is idempotent")

	_, err := s.Get(ctx, "x.json")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFileStoreRejectsTraversal(t *testing.T) {
	s := newTestFS(t)

	err := s.Put(context.Background(), "../escape.json", []byte("x"))
	assert.Error(t, err)
}

func TestFactorySelectsBackend(t *testing.T) {
	ctx := context.Background()

	s, err := New(ctx, Config{Backend: BackendFS, Root: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, s)

	_, err = New(ctx, Config{Backend: "ftp"})
	assert.Error(t, err)

	_, err = New(ctx, Config{Backend: BackendS3})
	assert.Error(t, err, "bucket is required")
}
