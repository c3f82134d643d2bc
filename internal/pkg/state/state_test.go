package state

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zpiroux/tapfacebook/entity"
)

func TestFileStore(t *testing.T) {

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.json")
	store := NewFileStore(path)

	state, err := store.Load(ctx)
	require.NoError(t, err)
	_, ok := state.Bookmark("ads")
	assert.False(t, ok)

	state.SetBookmark("ads", entity.Bookmark{ReplicationKey: "updated_time", ReplicationKeyValue: "2023-01-03T10:00:00+0000"})
	require.NoError(t, store.Save(ctx, state))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"bookmarks":{"ads":{"replication_key":"updated_time","replication_key_value":"2023-01-03T10:00:00+0000"}}}`, string(data))

	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	bookmark, ok := loaded.Bookmark("ads")
	assert.True(t, ok)
	assert.Equal(t, "updated_time", bookmark.ReplicationKey)

	// No temp files left behind
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	require.NoError(t, os.WriteFile(path, []byte(`{"bookmarks":`), 0o600))
	_, err = store.Load(ctx)
	assert.Error(t, err)

	err = NewFileStore(filepath.Join(t.TempDir(), "nope", "state.json")).Save(ctx, state)
	assert.Error(t, err)
}

func TestMemoryStore(t *testing.T) {

	ctx := context.Background()
	store := NewMemoryStore([]byte(`{"bookmarks":{"campaigns":{"replication_key":"updated_time","replication_key_value":"X"}}}`))

	state, err := store.Load(ctx)
	require.NoError(t, err)
	bookmark, ok := state.Bookmark("campaigns")
	require.True(t, ok)
	assert.Equal(t, "X", bookmark.ReplicationKeyValue)

	state.SetBookmark("ads", entity.Bookmark{ReplicationKey: "updated_time", ReplicationKeyValue: "Y"})
	require.NoError(t, store.Save(ctx, state))

	state, err = store.Load(ctx)
	require.NoError(t, err)
	_, ok = state.Bookmark("ads")
	assert.True(t, ok)

	state, err = NewMemoryStore(nil).Load(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, `{"bookmarks":{}}`, string(state.JSON()))
}
