package cli

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/pageledger/internal/model"
	"github.com/rcliao/pageledger/internal/session"
	"github.com/rcliao/pageledger/internal/store"
)

func TestRenderStatsText(t *testing.T) {
	st := &store.Stats{
		DBPath:         "/data/history.db",
		DBSizeBytes:    1536,
		Initialized:    true,
		SchemaVersion:  6,
		HistoryEntries: 3,
		SharedSettings: 1,
		TotalAccesses:  9,
		CatalogEntries: 2,
		SessionGroups:  1,
		MaxHistory:     1000,
	}

	var buf bytes.Buffer
	renderStats(&buf, st, "text")

	g := goldie.New(t)
	g.Assert(t, "stats_text", buf.Bytes())
}

func TestRenderStatsJSON(t *testing.T) {
	var buf bytes.Buffer
	renderStats(&buf, &store.Stats{SchemaVersion: 6, MaxHistory: 10}, "json")

	var got map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.EqualValues(t, 6, got["schema_version"])
	assert.EqualValues(t, 10, got["max_history"])
}

func TestRenderEntriesJSON(t *testing.T) {
	missing := false
	entries := []entryView{
		{HistoryEntry: model.HistoryEntry{ID: "a", DisplayName: "a.zip", AccessCount: 2, LastAccess: time.Unix(0, 0).UTC()}},
		{HistoryEntry: model.HistoryEntry{ID: "b", DisplayName: "b.zip", AccessCount: 1, LastAccess: time.Unix(0, 0).UTC()}, Accessible: &missing},
	}

	var buf bytes.Buffer
	renderEntries(&buf, entries, "json")

	var got []map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0]["id"])
	assert.NotContains(t, got[0], "accessible")
	assert.Equal(t, false, got[1]["accessible"])
}

func TestRenderEntriesEmpty(t *testing.T) {
	var buf bytes.Buffer
	renderEntries(&buf, nil, "json")
	assert.Equal(t, "[]\n", buf.String())
}

func TestRenderEntriesTextFlags(t *testing.T) {
	missing := false
	memo := "note"
	entries := []entryView{{
		HistoryEntry: model.HistoryEntry{ID: "x", SettingsRef: "y", DisplayName: "x.zip", AccessCount: 4, Memo: &memo},
		Accessible:   &missing,
	}}

	var buf bytes.Buffer
	renderEntries(&buf, entries, "text")

	out := buf.String()
	assert.Contains(t, out, "ID")
	assert.Contains(t, out, "x.zip")
	assert.Contains(t, out, "shared memo missing")
}

func TestLastPage(t *testing.T) {
	entries := []model.HistoryEntry{
		{ContentKey: "k", Path: "/other/a.zip", ViewState: &model.ViewState{Page: 3}},
		{ContentKey: "k", Path: "/books/a.zip", ViewState: &model.ViewState{Page: 7}},
		{ContentKey: "j", Path: "/books/b.zip"},
	}

	assert.Equal(t, 7, lastPage(entries, "/books/a.zip", "k"))
	assert.Equal(t, 3, lastPage(entries, "/moved/a.zip", "k"))
	assert.Equal(t, 0, lastPage(entries, "/books/b.zip", "j"))
	assert.Equal(t, 0, lastPage(entries, "/none.zip", "z"))
}

func TestRestoredOrder(t *testing.T) {
	queued := []session.Request{{ID: "1"}, {ID: "2"}, {ID: "3"}}
	results := []restoredWindow{{ID: "3", Path: "c"}, {ID: "1", Path: "a"}, {ID: "2", Path: "b"}}

	got := restoredOrder(queued, results)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{got[0].Path, got[1].Path, got[2].Path})
}
