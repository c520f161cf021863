package repository

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnreadCacheRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "unread.db")

	cache, err := NewSQLiteUnreadCache(path)
	require.NoError(t, err)

	require.NoError(t, cache.Set("alice", 3))
	require.NoError(t, cache.Set("bob", 1))
	require.NoError(t, cache.Set("alice", 5))
	require.NoError(t, cache.SetForceCount(2))

	counts, force, err := cache.Load()
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"alice": 5, "bob": 1}, counts)
	assert.Equal(t, 2, force)

	require.NoError(t, cache.Delete("alice"))
	require.NoError(t, cache.Delete("alice"), "deleting an absent key is a no-op")
	counts, _, err = cache.Load()
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"bob": 1}, counts)

	require.NoError(t, cache.Close())
}

func TestUnreadCacheSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "unread.db")

	cache, err := NewSQLiteUnreadCache(path)
	require.NoError(t, err)
	require.NoError(t, cache.Set("alice", 4))
	require.NoError(t, cache.SetForceCount(1))
	require.NoError(t, cache.Close())

	reopened, err := NewSQLiteUnreadCache(path)
	require.NoError(t, err)
	defer reopened.Close()

	counts, force, err := reopened.Load()
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"alice": 4}, counts)
	assert.Equal(t, 1, force)
}

func TestUnreadCacheEmptyDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "unread.db")

	cache, err := NewSQLiteUnreadCache(path)
	require.NoError(t, err)
	defer cache.Close()

	counts, force, err := cache.Load()
	require.NoError(t, err)
	assert.Empty(t, counts)
	assert.Equal(t, 0, force)
}
