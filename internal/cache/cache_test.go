package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCacheGetPutDelete(t *testing.T) {
	c := newMemoryCache()
	defer c.Close()
	ctx := context.Background()

	_, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Put(ctx, "k", []byte("v"), time.Minute))
	val, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("v"), val)

	require.NoError(t, c.Delete(ctx, "k"))
	_, ok, err = c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryCacheExpiry(t *testing.T) {
	c := newMemoryCache()
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, "k", []byte("v"), time.Millisecond))
	time.Sleep(5 * time.Millisecond)

	_, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok, "expired entry must not be returned")
}

func TestMemoryCacheClear(t *testing.T) {
	c := newMemoryCache()
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, "a", []byte("1"), time.Minute))
	require.NoError(t, c.Put(ctx, "b", []byte("2"), time.Minute))
	require.NoError(t, c.Clear(ctx))

	_, ok, _ := c.Get(ctx, "a")
	assert.False(t, ok)
	_, ok, _ = c.Get(ctx, "b")
	assert.False(t, ok)
}

func TestNewFallsBackWithoutEndpoint(t *testing.T) {
	c := New("", "test-cache")
	defer c.Close()
	_, isMemory := c.(*memoryCache)
	assert.True(t, isMemory)
}

func TestNewFallsBackOnUnreachableEndpoint(t *testing.T) {
	c := New("redis://127.0.0.1:1/0", "test-cache")
	defer c.Close()
	_, isMemory := c.(*memoryCache)
	assert.True(t, isMemory, "unreachable redis endpoint must degrade to in-process cache")
}
