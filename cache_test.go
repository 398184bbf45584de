package flagdock

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryCache(t *testing.T) {
	cache, err := NewInMemoryCache()
	require.NoError(t, err)
	defer cache.Close()
	ctx := context.Background()

	value, err := cache.Read(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, value)

	require.NoError(t, cache.Write(ctx, "key", "entry-1"))
	value, err = cache.Read(ctx, "key")
	require.NoError(t, err)
	assert.Equal(t, "entry-1", value)

	require.NoError(t, cache.Write(ctx, "key", "entry-2"))
	value, err = cache.Read(ctx, "key")
	require.NoError(t, err)
	assert.Equal(t, "entry-2", value)
}

func TestFileCache(t *testing.T) {
	dir := t.TempDir()
	cache, err := NewFileCache(filepath.Join(dir, "flags"))
	require.NoError(t, err)
	ctx := context.Background()

	value, err := cache.Read(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, value)

	require.NoError(t, cache.Write(ctx, "key", "entry-1"))
	value, err = cache.Read(ctx, "key")
	require.NoError(t, err)
	assert.Equal(t, "entry-1", value)

	// A new instance over the same directory sees the data.
	reopened, err := NewFileCache(filepath.Join(dir, "flags"))
	require.NoError(t, err)
	value, err = reopened.Read(ctx, "key")
	require.NoError(t, err)
	assert.Equal(t, "entry-1", value)
}

func TestRedisCache(t *testing.T) {
	server := miniredis.RunT(t)
	cache := NewRedisCache(server.Addr())
	defer cache.Close()
	ctx := context.Background()

	value, err := cache.Read(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, value)

	require.NoError(t, cache.Write(ctx, "key", "entry-1"))
	value, err = cache.Read(ctx, "key")
	require.NoError(t, err)
	assert.Equal(t, "entry-1", value)

	require.NoError(t, cache.Write(ctx, "key", "entry-2"))
	value, err = cache.Read(ctx, "key")
	require.NoError(t, err)
	assert.Equal(t, "entry-2", value)
}

func TestClientWithFileCache(t *testing.T) {
	dir := t.TempDir()
	cache, err := NewFileCache(dir)
	require.NoError(t, err)

	server := newConfigServer(t, testConfig)
	first, err := New("test-sdk-key",
		WithBaseURL(server.URL),
		WithManualPolling(),
		WithCache(cache),
	)
	require.NoError(t, err)
	require.True(t, first.Refresh(context.Background()).Success)
	first.Close()

	// A fresh client over the same cache evaluates without any fetch,
	// even though it is offline.
	second, err := New("test-sdk-key",
		WithManualPolling(),
		WithCache(cache),
		WithOffline(true),
	)
	require.NoError(t, err)
	t.Cleanup(second.Close)

	assert.Equal(t, "hello", second.GetStringValue(context.Background(), "greeting", "fallback", nil))
}
