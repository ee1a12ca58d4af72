package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalDiskCreateReadWriteDelete(t *testing.T) {
	d, err := NewLocalDisk(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	_, err = d.Read(ctx, "/a/b.txt")
	assert.ErrorIs(t, err, ErrNotExist)

	require.NoError(t, d.Create(ctx, "/a/b.txt", []byte("hello")))
	data, err := d.Read(ctx, "/a/b.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	err = d.Create(ctx, "/a/b.txt", []byte("again"))
	assert.Error(t, err, "Create must refuse to overwrite an existing resource")

	require.NoError(t, d.Write(ctx, "/a/b.txt", []byte("overwritten")))
	data, err = d.Read(ctx, "/a/b.txt")
	require.NoError(t, err)
	assert.Equal(t, "overwritten", string(data))

	require.NoError(t, d.Append(ctx, "/a/b.txt", []byte("!")))
	data, err = d.Read(ctx, "/a/b.txt")
	require.NoError(t, err)
	assert.Equal(t, "overwritten!", string(data))

	exists, err := d.Exists(ctx, "/a/b.txt")
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, d.Delete(ctx, "/a/b.txt"))
	exists, err = d.Exists(ctx, "/a/b.txt")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestLocalDiskResolveConfinesPathEscape(t *testing.T) {
	d, err := NewLocalDisk(t.TempDir())
	require.NoError(t, err)

	full, err := d.resolve("/../../etc/passwd")
	require.NoError(t, err)
	assert.True(t, len(full) >= len(d.root))
	assert.Contains(t, full, d.root)
}
