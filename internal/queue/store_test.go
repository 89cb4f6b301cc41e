package queue

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStoreMissingKeyIsNil(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	data, err := store.Get("never-written")
	require.NoError(t, err)
	assert.Nil(t, data)
}

func TestFileStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	require.NoError(t, err)

	require.NoError(t, store.Set("mutation-queue", []byte(`[{"id":"a"}]`)))
	data, err := store.Get("mutation-queue")
	require.NoError(t, err)
	assert.Equal(t, `[{"id":"a"}]`, string(data))

	// Overwrites replace, they do not append.
	require.NoError(t, store.Set("mutation-queue", []byte(`[]`)))
	data, err = store.Get("mutation-queue")
	require.NoError(t, err)
	assert.Equal(t, `[]`, string(data))

	// No temp files are left behind after a committed write.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotEqual(t, ".tmp", filepath.Ext(e.Name()))
	}
}

func TestFileStoreReopen(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	require.NoError(t, err)
	require.NoError(t, store.Set("k", []byte("v")))

	reopened, err := NewFileStore(dir)
	require.NoError(t, err)
	data, err := reopened.Get("k")
	require.NoError(t, err)
	assert.Equal(t, "v", string(data))
}

func TestMemStoreCopiesValues(t *testing.T) {
	store := NewMemStore()
	buf := []byte("abc")
	require.NoError(t, store.Set("k", buf))
	buf[0] = 'x'

	data, err := store.Get("k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(data))
}
