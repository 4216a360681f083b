package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simplesurance/depflow/internal/statestore"
)

type testDoc struct {
	Name  string
	Count int
}

func TestPutGetDelete(t *testing.T) {
	ctx := context.Background()
	store := New()

	err := store.Put(ctx, "pr/owner/repo/main", &testDoc{Name: "x", Count: 3})
	require.NoError(t, err)

	var doc testDoc
	err = store.Get(ctx, "pr/owner/repo/main", &doc)
	require.NoError(t, err)
	assert.Equal(t, testDoc{Name: "x", Count: 3}, doc)

	err = store.Delete(ctx, "pr/owner/repo/main")
	require.NoError(t, err)

	err = store.Get(ctx, "pr/owner/repo/main", &doc)
	assert.ErrorIs(t, err, statestore.ErrNotFound)
}

func TestGetNotExisting(t *testing.T) {
	var doc testDoc

	err := New().Get(context.Background(), "missing", &doc)
	assert.ErrorIs(t, err, statestore.ErrNotFound)
}

func TestDeleteNotExistingSucceeds(t *testing.T) {
	assert.NoError(t, New().Delete(context.Background(), "missing"))
}

func TestPutReplaces(t *testing.T) {
	ctx := context.Background()
	store := New()

	require.NoError(t, store.Put(ctx, "k", &testDoc{Count: 1}))
	require.NoError(t, store.Put(ctx, "k", &testDoc{Count: 2}))

	var doc testDoc
	require.NoError(t, store.Get(ctx, "k", &doc))
	assert.Equal(t, 2, doc.Count)
}

func TestKeysByPrefix(t *testing.T) {
	ctx := context.Background()
	store := New()

	require.NoError(t, store.Put(ctx, "reminder/a/check", &testDoc{}))
	require.NoError(t, store.Put(ctx, "reminder/b/check", &testDoc{}))
	require.NoError(t, store.Put(ctx, "pr/a", &testDoc{}))

	keys, err := store.Keys(ctx, "reminder/")
	require.NoError(t, err)
	assert.Equal(t, []string{"reminder/a/check", "reminder/b/check"}, keys)
}
