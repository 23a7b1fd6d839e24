package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rcliao/pageledger/internal/identity"
)

// RepairResult counts what a key repair pass did.
type RepairResult struct {
	Repaired int `json:"repaired"`
	Merged   int `json:"merged"`
	Skipped  int `json:"skipped"`
}

// RepairKeys recomputes content keys that were stored mangled, using the
// live file at each entry's path. Entries whose file cannot be read are
// skipped and stay as they are until the next pass.
func (s *Store) RepairKeys(ctx context.Context) (RepairResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return RepairResult{}, ErrNotInitialized
	}

	var res RepairResult
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		res, err = s.repairKeysTx(ctx, tx)
		return err
	})
	if err != nil {
		return RepairResult{}, fmt.Errorf("repair keys: %w", err)
	}
	if res.Repaired+res.Merged > 0 {
		entries, err := loadEntries(ctx, s.db)
		if err != nil {
			return res, fmt.Errorf("reload history: %w", err)
		}
		s.view.Store(newView(entries))
		s.changed(true)
	}
	return res, nil
}

// repairKeysTx fixes corrupted rows in place. When the corrected id already
// belongs to a healthy entry the two are merged into it: access counts add
// up, the later access wins, and settings, memo and view state are kept from
// whichever side has them (the healthy side first).
func (s *Store) repairKeysTx(ctx context.Context, tx *sql.Tx) (RepairResult, error) {
	var res RepairResult

	all, err := queryEntries(ctx, tx, `SELECT `+entryColumns+` FROM history`)
	if err != nil {
		return res, err
	}

	for _, e := range all {
		if !identity.IsCorrupted(e.ContentKey) {
			continue
		}
		key, err := s.keyFunc(e.Path)
		if err != nil {
			s.log.Warn("cannot repair content key", "id", e.ID, "path", e.Path, "error", err)
			res.Skipped++
			continue
		}
		newID := identity.DeriveEntryID(e.DisplayName, key)

		target, exists, err := getEntry(ctx, tx, newID)
		if err != nil {
			return res, err
		}
		if exists && newID != e.ID {
			if _, err := tx.ExecContext(ctx, `
				UPDATE history SET
					access_count = access_count + ?,
					last_access = MAX(last_access, ?),
					memo = COALESCE(memo, (SELECT memo FROM history WHERE id = ?)),
					settings = COALESCE(settings, (SELECT settings FROM history WHERE id = ?))
				WHERE id = ?`,
				e.AccessCount, toNanos(e.LastAccess), e.ID, e.ID, newID); err != nil {
				return res, fmt.Errorf("merge %s into %s: %w", e.ID, newID, err)
			}
			if target.ViewState == nil && e.ViewState != nil {
				mode, page, dir, sortBy, rev := viewColumns(e.ViewState)
				if _, err := tx.ExecContext(ctx, `
					UPDATE history SET view_mode = ?, view_page = ?, view_direction = ?,
					       view_sort_method = ?, view_sort_reversed = ?
					WHERE id = ?`, mode, page, dir, sortBy, rev, newID); err != nil {
					return res, err
				}
			}
			if target.SettingsRef == "" && e.HasRef() && e.SettingsRef != newID {
				if _, err := tx.ExecContext(ctx, `
					UPDATE history SET settings_ref = ? WHERE id = ? AND settings IS NULL`,
					e.SettingsRef, newID); err != nil {
					return res, err
				}
			}
			if _, err := repointReferrers(ctx, tx, e.ID, newID); err != nil {
				return res, err
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM history WHERE id = ?`, e.ID); err != nil {
				return res, err
			}
			res.Merged++
			continue
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE history SET id = ?, content_key = ? WHERE id = ?`, newID, key, e.ID); err != nil {
			return res, fmt.Errorf("rewrite %s: %w", e.ID, err)
		}
		if newID != e.ID {
			if _, err := repointReferrers(ctx, tx, e.ID, newID); err != nil {
				return res, err
			}
		}
		res.Repaired++
	}
	if res.Repaired+res.Merged > 0 {
		if err := collapseRefs(ctx, tx, nil); err != nil {
			return res, err
		}
	}
	return res, nil
}
