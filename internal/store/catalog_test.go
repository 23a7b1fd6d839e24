package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalogRecordAndBump(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	c, err := s.RecordCatalog(ctx, "cover.png-"+keyA, "/img/cover.png", "cover.png")
	require.NoError(t, err)
	assert.Equal(t, keyA, c.ContentKey)
	assert.Equal(t, 1, c.AccessCount)

	// Keyed by content alone, so a rename is the same record.
	c, err = s.RecordCatalog(ctx, keyA, "/img/renamed.png", "renamed.png")
	require.NoError(t, err)
	assert.Equal(t, 2, c.AccessCount)
	assert.Equal(t, "renamed.png", c.DisplayName)

	all, err := s.CatalogEntries(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 1)

	// The catalog does not touch history.
	assert.Zero(t, s.Count())
}

func TestCatalogEvictsOnItsOwnBudget(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, func(o *Options) {
		o.MaxCatalogCount = 2
		o.MaxHistoryCount = 1
	})

	s.RecordAccess(ctx, keyA, "/f/a", "a")
	s.RecordCatalog(ctx, keyA, "/img/a.png", "a.png")
	s.RecordCatalog(ctx, keyB, "/img/b.png", "b.png")
	s.RecordCatalog(ctx, keyC, "/img/c.png", "c.png")

	all, err := s.CatalogEntries(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, keyC, all[0].ContentKey)
	assert.Equal(t, keyB, all[1].ContentKey)
	assert.Equal(t, 1, s.Count())
}

func TestCatalogMemoAndRemove(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	s.RecordCatalog(ctx, keyA, "/img/a.png", "a.png")

	memo := "wallpaper"
	require.NoError(t, s.SetCatalogMemo(ctx, keyA, &memo))
	c, err := s.CatalogEntry(ctx, keyA)
	require.NoError(t, err)
	require.NotNil(t, c)
	require.NotNil(t, c.Memo)
	assert.Equal(t, memo, *c.Memo)

	require.NoError(t, s.RemoveCatalog(ctx, keyA))
	c, err = s.CatalogEntry(ctx, keyA)
	require.NoError(t, err)
	assert.Nil(t, c)

	assert.ErrorIs(t, s.RemoveCatalog(ctx, keyA), ErrNotFound)
}

func TestClearCatalog(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	s.RecordCatalog(ctx, keyA, "/img/a.png", "a.png")
	s.RecordCatalog(ctx, keyB, "/img/b.png", "b.png")

	n, err := s.ClearCatalog(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	all, err := s.CatalogEntries(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, all)
}
