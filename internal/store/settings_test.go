package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/pageledger/internal/identity"
	"github.com/rcliao/pageledger/internal/model"
)

var seedTime = time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)

// seed writes e straight into the container, bypassing record, and
// refreshes the snapshot.
func seed(t *testing.T, s *Store, name, key, ref string, age time.Duration, st *model.Settings) model.HistoryEntry {
	t.Helper()
	ctx := context.Background()
	e := model.HistoryEntry{
		ID:          identity.DeriveEntryID(name, key),
		ContentKey:  key,
		SettingsRef: ref,
		Path:        "/seed/" + name,
		DisplayName: name,
		LastAccess:  seedTime.Add(-age),
		AccessCount: 1,
	}
	require.NoError(t, insertEntry(ctx, s.db, e, st))
	all, err := loadEntries(ctx, s.db)
	require.NoError(t, err)
	s.view.Store(newView(all))
	return e
}

func dbEntry(t *testing.T, s *Store, id string) (model.HistoryEntry, bool) {
	t.Helper()
	e, ok, err := getEntry(context.Background(), s.db, id)
	require.NoError(t, err)
	return e, ok
}

func TestSelfReferenceIsNoReference(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	id := identity.DeriveEntryID("self.cbz", keyA)
	seed(t, s, "self.cbz", keyA, id, 0, &model.Settings{Zoom: 1.25})

	st, err := s.LoadSettings(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, 1.25, st.Zoom)

	owner, err := s.SettingsOwner(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, owner)
}

func TestReferenceFollowedOnce(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	c := seed(t, s, "c", keyC, "", 0, &model.Settings{Zoom: 3})
	b := seed(t, s, "b", keyB, c.ID, time.Minute, &model.Settings{Zoom: 2})
	a := seed(t, s, "a", keyA, b.ID, 2*time.Minute, &model.Settings{Zoom: 1})

	st, err := s.LoadSettings(ctx, a.ID)
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, 2.0, st.Zoom, "must stop at the first hop")
}

func TestDanglingReferenceFallsBackToOwn(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	a := seed(t, s, "a", keyA, "deadbeefdeadbeef", 0, &model.Settings{Zoom: 4})

	st, err := s.LoadSettings(ctx, a.ID)
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, 4.0, st.Zoom)
}

func TestLoadSettingsMiss(t *testing.T) {
	s := newTestStore(t)
	st, err := s.LoadSettings(context.Background(), "0123456789abcdef")
	assert.NoError(t, err)
	assert.Nil(t, st)
}

func TestRemovingOwnerPromotesMostRecentReferrer(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	owner := seed(t, s, "owner", keyA, "", 3*time.Minute, &model.Settings{Zoom: 1.75, Bookmarks: []int{3, 9}})
	older := seed(t, s, "older", keyA, owner.ID, 2*time.Minute, nil)
	newer := seed(t, s, "newer", keyA, owner.ID, time.Minute, nil)

	require.NoError(t, s.RemoveEntry(ctx, owner.ID))

	heir, ok := dbEntry(t, s, newer.ID)
	require.True(t, ok)
	assert.Empty(t, heir.SettingsRef)

	other, ok := dbEntry(t, s, older.ID)
	require.True(t, ok)
	assert.Equal(t, newer.ID, other.SettingsRef)

	for _, id := range []string{newer.ID, older.ID} {
		st, err := s.LoadSettings(ctx, id)
		require.NoError(t, err)
		require.NotNil(t, st, id)
		assert.Equal(t, 1.75, st.Zoom)
		assert.Equal(t, []int{3, 9}, st.Bookmarks)
	}

	snap, ok := s.Entry(older.ID)
	require.True(t, ok)
	assert.Equal(t, newer.ID, snap.SettingsRef, "snapshot follows the container")
}

func TestRemovingBorrowerRepointsToOwner(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	owner := seed(t, s, "owner", keyA, "", 0, &model.Settings{Zoom: 2})
	mid := seed(t, s, "mid", keyB, owner.ID, time.Minute, nil)
	leaf := seed(t, s, "leaf", keyC, mid.ID, 2*time.Minute, nil)

	require.NoError(t, s.RemoveEntry(ctx, mid.ID))

	got, ok := dbEntry(t, s, leaf.ID)
	require.True(t, ok)
	assert.Equal(t, owner.ID, got.SettingsRef)
}

func TestEvictingOwnerKeepsSettings(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, func(o *Options) { o.MaxHistoryCount = 2 })

	owner := seed(t, s, "owner", keyA, "", 10*time.Minute, &model.Settings{FitMode: "width"})
	borrower := seed(t, s, "borrower", keyA, owner.ID, 5*time.Minute, nil)

	_, err := s.RecordAccess(ctx, keyC, "/f/c", "c")
	require.NoError(t, err)

	_, ok := dbEntry(t, s, owner.ID)
	assert.False(t, ok)
	st, err := s.LoadSettings(ctx, borrower.ID)
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, "width", st.FitMode)
}

func TestTreatAsSameNeverChains(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	owner, _ := s.RecordAccess(ctx, keyA, "/f/a", "a")
	p1 := AccessParams{ContentKey: keyA, Path: "/f/b", DisplayName: "b"}
	b, err := s.RecordAccessWithChoice(ctx, p1, *owner, TreatAsSame)
	require.NoError(t, err)

	// Choosing the borrower as "existing" still lands on the owner.
	p2 := AccessParams{ContentKey: keyA, Path: "/f/c", DisplayName: "c"}
	c, err := s.RecordAccessWithChoice(ctx, p2, *b, TreatAsSame)
	require.NoError(t, err)
	assert.Equal(t, owner.ID, c.SettingsRef)
}

func TestTreatAsSameRepointsOwnReferrers(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	target := seed(t, s, "target", keyA, "", 0, &model.Settings{Zoom: 5})
	x := seed(t, s, "x", keyB, "", time.Minute, &model.Settings{Zoom: 1})
	y := seed(t, s, "y", keyB, x.ID, 2*time.Minute, nil)

	// x starts borrowing from target, so y must not keep pointing at a borrower.
	_, err := s.RecordAccessWithChoice(ctx, AccessParams{ContentKey: keyB, Path: x.Path, DisplayName: "x"}, target, TreatAsSame)
	require.NoError(t, err)

	got, ok := dbEntry(t, s, y.ID)
	require.True(t, ok)
	assert.Equal(t, target.ID, got.SettingsRef)
}

func TestDetachSettings(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	owner := seed(t, s, "owner", keyA, "", 0, &model.Settings{Zoom: 2})
	b := seed(t, s, "b", keyA, owner.ID, time.Minute, nil)

	e, err := s.DetachSettings(ctx, b.ID)
	require.NoError(t, err)
	assert.Empty(t, e.SettingsRef)

	require.NoError(t, s.SaveSettings(ctx, b.ID, model.Settings{Zoom: 9}))
	st, err := s.LoadSettings(ctx, owner.ID)
	require.NoError(t, err)
	assert.Equal(t, 2.0, st.Zoom)
}
