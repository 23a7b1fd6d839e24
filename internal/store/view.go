package store

import (
	"sort"

	"github.com/rcliao/pageledger/internal/model"
)

// view is an immutable snapshot of the history table, newest first.
// Writers build a new view and swap it in; readers never lock.
type view struct {
	byID    map[string]model.HistoryEntry
	ordered []model.HistoryEntry
}

type viewOp struct {
	remove bool
	entry  model.HistoryEntry
}

func upsertOp(e model.HistoryEntry) viewOp { return viewOp{entry: e} }

func removeOp(id string) viewOp { return viewOp{remove: true, entry: model.HistoryEntry{ID: id}} }

func newView(entries []model.HistoryEntry) *view {
	v := &view{byID: make(map[string]model.HistoryEntry, len(entries))}
	for _, e := range entries {
		v.byID[e.ID] = e
	}
	v.sort()
	return v
}

func (v *view) sort() {
	v.ordered = make([]model.HistoryEntry, 0, len(v.byID))
	for _, e := range v.byID {
		v.ordered = append(v.ordered, e)
	}
	sort.Slice(v.ordered, func(i, j int) bool {
		a, b := v.ordered[i], v.ordered[j]
		if !a.LastAccess.Equal(b.LastAccess) {
			return a.LastAccess.After(b.LastAccess)
		}
		return a.ID < b.ID
	})
}

// with returns a copy of v with ops applied in order.
func (v *view) with(ops ...viewOp) *view {
	next := &view{byID: make(map[string]model.HistoryEntry, len(v.byID)+1)}
	for id, e := range v.byID {
		next.byID[id] = e
	}
	for _, op := range ops {
		if op.remove {
			delete(next.byID, op.entry.ID)
			continue
		}
		next.byID[op.entry.ID] = op.entry
	}
	next.sort()
	return next
}

func (v *view) hasPath(path string) bool {
	for _, e := range v.ordered {
		if e.Path == path {
			return true
		}
	}
	return false
}

// Entries returns every history entry, most recently accessed first.
func (s *Store) Entries() []model.HistoryEntry {
	v := s.view.Load()
	return append([]model.HistoryEntry(nil), v.ordered...)
}

// Entry returns the entry with id from the snapshot.
func (s *Store) Entry(id string) (model.HistoryEntry, bool) {
	e, ok := s.view.Load().byID[id]
	return e, ok
}

// Count returns the number of history entries.
func (s *Store) Count() int {
	return len(s.view.Load().byID)
}
