package snapshot

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Name string `json:"name"`
}

func TestBlobStore_WriteReadRoundtrip(t *testing.T) {
	dir := t.TempDir()
	store, err := NewBlobStore(dir)
	require.NoError(t, err)

	in := sample{Name: "alpha"}
	require.NoError(t, store.WriteJSON("abc", &in))

	var out sample
	require.NoError(t, store.ReadJSON("abc", &out))
	assert.Equal(t, in, out)
}

func TestBlobStore_ReadDetectsCorruption(t *testing.T) {
	dir := t.TempDir()
	store, err := NewBlobStore(dir)
	require.NoError(t, err)

	require.NoError(t, store.WriteJSON("abc", &sample{Name: "alpha"}))

	path := dir + "/abc.json"
	require.NoError(t, os.WriteFile(path, []byte(`{"name":"tampered"}`), 0o600))

	var out sample
	err = store.ReadJSON("abc", &out)
	require.Error(t, err)
}

func TestBlobStore_ListAndCleanup(t *testing.T) {
	dir := t.TempDir()
	store, err := NewBlobStore(dir)
	require.NoError(t, err)

	require.NoError(t, store.WriteJSON("one", &sample{Name: "one"}))
	require.NoError(t, store.WriteJSON("two", &sample{Name: "two"}))

	ids, err := store.List()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"one", "two"}, ids)

	removed, err := store.CleanupOlderThan(time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	ids, err = store.List()
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestBlobStore_Delete(t *testing.T) {
	dir := t.TempDir()
	store, err := NewBlobStore(dir)
	require.NoError(t, err)

	require.NoError(t, store.WriteJSON("abc", &sample{Name: "alpha"}))
	require.NoError(t, store.Delete("abc"))

	var out sample
	err = store.ReadJSON("abc", &out)
	require.Error(t, err)
}
