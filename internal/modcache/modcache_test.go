package modcache

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTestCache(t *testing.T) *Cache {
	t.Helper()
	c, err := Open(filepath.Join(t.TempDir(), "modules.db"))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, c.Close()) })
	return c
}

func TestGetMissReturnsFalse(t *testing.T) {
	c := openTestCache(t)
	doc, ok, err := c.Get(context.Background(), "./nope")
	require.NoError(t, err)
	require.False(t, ok)
	require.Nil(t, doc)
}

func TestPutThenGetRoundTrips(t *testing.T) {
	c := openTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, "@scope/mod", []byte(`{"nodes":[]}`), ""))

	doc, ok, err := c.Get(ctx, "@scope/mod")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, `{"nodes":[]}`, string(doc))
}

func TestPutOverwritesExistingEntry(t *testing.T) {
	c := openTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, "./mod", []byte("v1"), ""))
	require.NoError(t, c.Put(ctx, "./mod", []byte("v2"), ""))

	doc, ok, err := c.Get(ctx, "./mod")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "v2", string(doc))
}

func TestInvalidateRemovesEntry(t *testing.T) {
	c := openTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, "./mod", []byte("v1"), ""))
	require.NoError(t, c.Invalidate(ctx, "./mod"))

	_, ok, err := c.Get(ctx, "./mod")
	require.NoError(t, err)
	require.False(t, ok)
}

// File-change invalidation depends on OS-level fsnotify event timing, which
// the upstream watcher tests themselves treat as unreliable in CI; this
// package relies on the same watchLoop and is exercised at the integration
// level rather than with a sleep-and-poll unit test here.
