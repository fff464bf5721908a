package contentstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashBytes(t *testing.T) {
	// sha256("") is a fixed vector.
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", HashBytes(nil))
	assert.Equal(t, HashBytes([]byte("abc")), HashBytes([]byte("abc")))
	assert.NotEqual(t, HashBytes([]byte("abc")), HashBytes([]byte("abd")))
}

func TestValidHash(t *testing.T) {
	assert.True(t, ValidHash(HashBytes([]byte("x"))))
	assert.False(t, ValidHash(""))
	assert.False(t, ValidHash("abc"))
	assert.False(t, ValidHash("ZZb0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"))
}

func testRoundTrip(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()
	data := []byte("evidence bytes")

	hash, err := store.Put(ctx, data)
	require.NoError(t, err)
	assert.Equal(t, HashBytes(data), hash)

	got, err := store.Get(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	// Put is idempotent for identical content.
	again, err := store.Put(ctx, data)
	require.NoError(t, err)
	assert.Equal(t, hash, again)

	_, err = store.Get(ctx, HashBytes([]byte("absent")))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_RoundTrip(t *testing.T) {
	testRoundTrip(t, NewMemoryStore())
}

func TestMemoryStore_DefensiveCopies(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	data := []byte("original")
	hash, err := store.Put(ctx, data)
	require.NoError(t, err)

	data[0] = 'X'

	got, err := store.Get(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, []byte("original"), got)
}

func TestLocalStore_RoundTrip(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	testRoundTrip(t, store)
}

func TestLocalStore_ShardsByPrefix(t *testing.T) {
	root := t.TempDir()
	store, err := NewLocalStore(root)
	require.NoError(t, err)

	hash, err := store.Put(context.Background(), []byte("sharded"))
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(root, hash[:2], hash))
	assert.NoError(t, err)
}
