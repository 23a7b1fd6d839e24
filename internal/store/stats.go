package store

import (
	"context"
	"os"
)

// Stats holds store statistics.
type Stats struct {
	DBPath         string `json:"db_path"`
	DBSizeBytes    int64  `json:"db_size_bytes"`
	Initialized    bool   `json:"initialized"`
	SchemaVersion  int    `json:"schema_version"`
	HistoryEntries int    `json:"history_entries"`
	SharedSettings int    `json:"shared_settings"`
	TotalAccesses  int    `json:"total_accesses"`
	CatalogEntries int    `json:"catalog_entries"`
	SessionGroups  int    `json:"session_groups"`
	MaxHistory     int    `json:"max_history"`
}

// Stats returns store statistics. An uninitialized store reports zeros.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{DBPath: s.DBPath(), MaxHistory: s.opts.MaxHistoryCount}
	if info, err := os.Stat(st.DBPath); err == nil {
		st.DBSizeBytes = info.Size()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	st.Initialized = s.initialized
	st.SchemaVersion = s.version
	if !s.initialized {
		return st, nil
	}

	v := s.view.Load()
	st.HistoryEntries = len(v.ordered)
	for _, e := range v.ordered {
		st.TotalAccesses += e.AccessCount
		if e.HasRef() {
			st.SharedSettings++
		}
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM catalog`).Scan(&st.CatalogEntries); err != nil {
		return st, err
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM session_groups`).Scan(&st.SessionGroups); err != nil {
		return st, err
	}
	return st, nil
}
