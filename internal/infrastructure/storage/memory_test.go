package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryObjectStorage(t *testing.T) {
	s := NewMemoryObjectStorage()
	ctx := context.Background()

	data := []byte("snapshot")
	require.NoError(t, s.Put(ctx, "a/1.json", data, "application/json"))
	require.NoError(t, s.Put(ctx, "b/2.json", []byte("other"), "application/json"))
	data[0] = 'X'

	got, err := s.Get(ctx, "a/1.json")
	require.NoError(t, err)
	assert.Equal(t, "snapshot", string(got), "stored data is copied")
	assert.Equal(t, "application/json", s.ContentType("a/1.json"))
	assert.Equal(t, []string{"a/1.json"}, s.Keys("a/"))

	ok, err := s.Exists(ctx, "b/2.json")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, s.Delete(ctx, "b/2.json"))
	_, err = s.Get(ctx, "b/2.json")
	assert.ErrorIs(t, err, ErrObjectNotFound)

	assert.Error(t, s.Put(ctx, "", nil, ""))
}
