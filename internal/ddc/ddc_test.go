package ddc

import (
	"bytes"
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func caches(t *testing.T) map[string]Cache {
	fsCache, err := NewFilesystemCache(t.TempDir())
	require.NoError(t, err)
	return map[string]Cache{
		"memory":     NewMemoryCache(),
		"filesystem": fsCache,
	}
}

func TestCache_RoundTrip(t *testing.T) {
	for name, cache := range caches(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := cache.Get(ctx, "AssetSearch_V1_k")
			assert.ErrorIs(t, err, ErrMiss)

			payload := []byte(`{"properties":[{"object_name":"Chair","property_name":"Color","value_text":"red"}]}`)
			require.NoError(t, cache.Put(ctx, "AssetSearch_V1_k", payload))

			got, err := cache.Get(ctx, "AssetSearch_V1_k")
			require.NoError(t, err)
			assert.Equal(t, payload, got)

			require.NoError(t, cache.Put(ctx, "AssetSearch_V1_k", []byte("replaced")))
			got, err = cache.Get(ctx, "AssetSearch_V1_k")
			require.NoError(t, err)
			assert.Equal(t, []byte("replaced"), got)

			require.NoError(t, cache.Delete(ctx, "AssetSearch_V1_k"))
			_, err = cache.Get(ctx, "AssetSearch_V1_k")
			assert.ErrorIs(t, err, ErrMiss)

			assert.NoError(t, cache.Delete(ctx, "never-stored"))
		})
	}
}

func TestCache_CanceledContext(t *testing.T) {
	for name, cache := range caches(t) {
		t.Run(name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			cancel()

			_, err := cache.Get(ctx, "k")
			assert.ErrorIs(t, err, context.Canceled)
			assert.ErrorIs(t, cache.Put(ctx, "k", []byte("x")), context.Canceled)
		})
	}
}

func TestFilesystemCache_Compresses(t *testing.T) {
	cache, err := NewFilesystemCache(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	payload := bytes.Repeat([]byte("property value "), 1000)
	require.NoError(t, cache.Put(ctx, "big", payload))

	size, err := cache.Size()
	require.NoError(t, err)
	assert.Greater(t, size, int64(0))
	assert.Less(t, size, int64(len(payload)))

	got, err := cache.Get(ctx, "big")
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestFilesystemCache_CorruptEntry(t *testing.T) {
	cache, err := NewFilesystemCache(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, cache.Put(ctx, "k", []byte("payload")))
	require.NoError(t, os.WriteFile(cache.pathFor("k"), []byte("not zstd"), 0o644))

	_, err = cache.Get(ctx, "k")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCorrupt)
	assert.NotErrorIs(t, err, ErrMiss)

	require.NoError(t, cache.Delete(ctx, "k"))
	_, err = cache.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestMemoryCache_CopiesPayload(t *testing.T) {
	cache := NewMemoryCache()
	ctx := context.Background()

	data := []byte("abc")
	require.NoError(t, cache.Put(ctx, "k", data))
	data[0] = 'x'

	got, err := cache.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), got)
	assert.Equal(t, 1, cache.Len())
}
