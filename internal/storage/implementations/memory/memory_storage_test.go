package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferloop/dashengine/pkg/errors"
	"github.com/inferloop/dashengine/pkg/models"
)

func TestMemoryStorageRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStorage(nil)
	require.NoError(t, store.Connect(ctx))
	require.NoError(t, store.Ping(ctx))

	_, err := store.Load(ctx, "missing")
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))

	data := []byte(`{"uid":"abc","title":"Overview"}`)
	require.NoError(t, store.Save(ctx, "abc", data))

	data[0] = 'X'
	got, err := store.Load(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, byte('{'), got[0])
	assert.Equal(t, 1, store.Len())

	results, err := store.Search(ctx, &models.SearchQuery{Query: "over"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "abc", results[0].UID)

	require.NoError(t, store.Delete(ctx, "abc"))
	require.NoError(t, store.Delete(ctx, "abc"))
	assert.Equal(t, 0, store.Len())
}

func TestMemoryStorageClosed(t *testing.T) {
	store := NewMemoryStorage(nil)
	require.NoError(t, store.Close())
	assert.True(t, errors.IsStorage(store.Ping(context.Background())))
}
