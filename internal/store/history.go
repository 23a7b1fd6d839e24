package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rcliao/pageledger/internal/identity"
	"github.com/rcliao/pageledger/internal/model"
)

// IdentityStatus is the outcome of CheckIdentity.
type IdentityStatus int

const (
	NewFile IdentityStatus = iota
	ExactMatch
	DifferentName
)

func (st IdentityStatus) String() string {
	switch st {
	case ExactMatch:
		return "exact_match"
	case DifferentName:
		return "different_name"
	}
	return "new_file"
}

func (st IdentityStatus) MarshalText() ([]byte, error) { return []byte(st.String()), nil }

// IdentityResult is returned by CheckIdentity. Existing is set for
// ExactMatch and DifferentName.
type IdentityResult struct {
	Status   IdentityStatus      `json:"status"`
	Existing *model.HistoryEntry `json:"existing,omitempty"`
}

// Choice is the user's answer when known content shows up under a new name.
type Choice int

const (
	// TreatAsSame shares the existing entry's settings through a reference.
	TreatAsSame Choice = iota + 1
	// CopySettings gives the new entry its own copy of the settings.
	CopySettings
	// TreatAsDifferent starts the new entry with no settings.
	TreatAsDifferent
)

// ParseChoice accepts "same", "copy" or "different".
func ParseChoice(s string) (Choice, error) {
	switch s {
	case "same":
		return TreatAsSame, nil
	case "copy":
		return CopySettings, nil
	case "different":
		return TreatAsDifferent, nil
	}
	return 0, fmt.Errorf("%w: %q (valid: same, copy, different)", ErrInvalidChoice, s)
}

func (c Choice) String() string {
	switch c {
	case TreatAsSame:
		return "same"
	case CopySettings:
		return "copy"
	case TreatAsDifferent:
		return "different"
	}
	return "invalid"
}

// AccessParams names the file being opened.
type AccessParams struct {
	ContentKey  string
	Path        string
	DisplayName string
}

func (s *Store) stamp() time.Time {
	return s.now().UTC().Round(0)
}

// recordPlan describes how record shapes the entry beyond the access bump.
type recordPlan struct {
	setRef      bool
	ref         string
	setSettings bool
	settings    *model.Settings
}

// RecordAccess bumps the entry for (displayName, contentKey), creating it
// with an access count of one if needed. New entries may evict the least
// recently accessed ones.
func (s *Store) RecordAccess(ctx context.Context, contentKey, path, displayName string) (*model.HistoryEntry, error) {
	return s.record(ctx, AccessParams{ContentKey: contentKey, Path: path, DisplayName: displayName}, nil)
}

// RecordAccessWithChoice records an access for content that CheckIdentity
// reported as DifferentName, applying the user's choice about existing's
// settings.
func (s *Store) RecordAccessWithChoice(ctx context.Context, p AccessParams, existing model.HistoryEntry, choice Choice) (*model.HistoryEntry, error) {
	switch choice {
	case TreatAsSame, CopySettings, TreatAsDifferent:
	default:
		return nil, ErrInvalidChoice
	}
	return s.record(ctx, p, func(ctx context.Context, tx *sql.Tx, id string) (recordPlan, error) {
		cur, ok, err := getEntry(ctx, tx, existing.ID)
		if err != nil {
			return recordPlan{}, err
		}
		if !ok {
			return recordPlan{}, fmt.Errorf("existing entry %s: %w", existing.ID, ErrNotFound)
		}
		switch choice {
		case TreatAsSame:
			owner, err := settingsOwner(ctx, tx, cur)
			if err != nil {
				return recordPlan{}, err
			}
			if owner == id {
				owner = ""
			}
			return recordPlan{setRef: true, ref: owner}, nil
		case CopySettings:
			st, err := resolveSettings(ctx, tx, cur)
			if err != nil {
				return recordPlan{}, err
			}
			return recordPlan{setRef: true, setSettings: true, settings: st}, nil
		default:
			return recordPlan{setRef: true}, nil
		}
	})
}

func (s *Store) record(ctx context.Context, p AccessParams, plan func(context.Context, *sql.Tx, string) (recordPlan, error)) (*model.HistoryEntry, error) {
	if p.DisplayName == "" {
		return nil, errors.New("display name is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return nil, ErrNotInitialized
	}

	key := identity.ExtractContentKey(p.ContentKey)
	id := identity.DeriveEntryID(p.DisplayName, key)
	now := s.stamp()

	var (
		out     model.HistoryEntry
		ops     []viewOp
		removed []model.HistoryEntry
	)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var pl recordPlan
		if plan != nil {
			var err error
			if pl, err = plan(ctx, tx, id); err != nil {
				return err
			}
		}

		e, exists, err := getEntry(ctx, tx, id)
		if err != nil {
			return err
		}
		if exists {
			e.AccessCount++
			e.LastAccess = now
			e.Path = p.Path
			if pl.setRef {
				e.SettingsRef = pl.ref
			}
			if _, err := tx.ExecContext(ctx,
				`UPDATE history SET access_count = ?, last_access = ?, path = ?, settings_ref = ? WHERE id = ?`,
				e.AccessCount, toNanos(now), e.Path, nullString(e.SettingsRef), id); err != nil {
				return fmt.Errorf("update entry: %w", err)
			}
			if pl.setSettings {
				raw, err := encodeSettings(pl.settings)
				if err != nil {
					return err
				}
				if _, err := tx.ExecContext(ctx, `UPDATE history SET settings = ? WHERE id = ?`, raw, id); err != nil {
					return fmt.Errorf("copy settings: %w", err)
				}
			}
		} else {
			e = model.HistoryEntry{
				ID:          id,
				ContentKey:  key,
				Path:        p.Path,
				DisplayName: p.DisplayName,
				LastAccess:  now,
				AccessCount: 1,
			}
			if pl.setRef {
				e.SettingsRef = pl.ref
			}
			if err := insertEntry(ctx, tx, e, pl.settings); err != nil {
				return fmt.Errorf("insert entry: %w", err)
			}
		}
		out = e
		ops = append(ops, upsertOp(e))

		// An entry that now borrows settings cannot keep lending its own.
		if pl.setRef && pl.ref != "" {
			moved, err := repointReferrers(ctx, tx, id, e.SettingsRef)
			if err != nil {
				return err
			}
			ops = append(ops, moved...)
		}

		if !exists {
			evOps, evicted, err := s.evictHistory(ctx, tx, id)
			if err != nil {
				return err
			}
			ops = append(ops, evOps...)
			removed = evicted
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("record access: %w", err)
	}

	s.view.Store(s.view.Load().with(ops...))
	s.releaseCredentials(removed)
	s.changed(false)
	return &out, nil
}

// evictHistory deletes the least recently accessed entries, other than keep,
// until the ledger fits MaxHistoryCount.
func (s *Store) evictHistory(ctx context.Context, tx *sql.Tx, keep string) ([]viewOp, []model.HistoryEntry, error) {
	var n int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM history`).Scan(&n); err != nil {
		return nil, nil, err
	}
	excess := n - s.opts.MaxHistoryCount
	if excess <= 0 {
		return nil, nil, nil
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT id FROM history WHERE id != ? ORDER BY last_access ASC, id ASC LIMIT ?`, keep, excess)
	if err != nil {
		return nil, nil, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()

	var (
		ops     []viewOp
		removed []model.HistoryEntry
	)
	for _, id := range ids {
		o, e, ok, err := deleteEntryTx(ctx, tx, id)
		if err != nil {
			return nil, nil, fmt.Errorf("evict %s: %w", id, err)
		}
		if ok {
			ops = append(ops, o...)
			removed = append(removed, e)
		}
	}
	if len(removed) > 0 {
		s.log.Debug("evicted history entries", "count", len(removed), "limit", s.opts.MaxHistoryCount)
	}
	return ops, removed, nil
}

// deleteEntryTx removes id. Entries that borrowed id's settings are kept
// valid: if id itself borrowed, they follow its owner; otherwise the most
// recent one inherits the payload and the rest point at it.
func deleteEntryTx(ctx context.Context, tx *sql.Tx, id string) ([]viewOp, model.HistoryEntry, bool, error) {
	e, ok, err := getEntry(ctx, tx, id)
	if err != nil || !ok {
		return nil, e, false, err
	}

	var ops []viewOp
	owner := ""
	if e.HasRef() {
		if _, ok, err := getEntry(ctx, tx, e.SettingsRef); err != nil {
			return nil, e, false, err
		} else if ok {
			owner = e.SettingsRef
		}
	}
	if owner != "" {
		moved, err := repointReferrers(ctx, tx, id, owner)
		if err != nil {
			return nil, e, false, err
		}
		ops = append(ops, moved...)
	} else {
		refs, err := queryEntries(ctx, tx,
			`SELECT `+entryColumns+` FROM history WHERE settings_ref = ? AND id != ? ORDER BY last_access DESC, id`, id, id)
		if err != nil {
			return nil, e, false, err
		}
		if len(refs) > 0 {
			st, _, err := loadSettings(ctx, tx, id)
			if err != nil {
				return nil, e, false, err
			}
			raw, err := encodeSettings(st)
			if err != nil {
				return nil, e, false, err
			}
			heir := refs[0]
			if _, err := tx.ExecContext(ctx,
				`UPDATE history SET settings = ?, settings_ref = NULL WHERE id = ?`, raw, heir.ID); err != nil {
				return nil, e, false, err
			}
			heir.SettingsRef = ""
			ops = append(ops, upsertOp(heir))
			moved, err := repointReferrers(ctx, tx, id, heir.ID)
			if err != nil {
				return nil, e, false, err
			}
			ops = append(ops, moved...)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM history WHERE id = ?`, id); err != nil {
		return nil, e, false, err
	}
	ops = append(ops, removeOp(id))
	return ops, e, true, nil
}

// repointReferrers moves every entry referencing from over to to.
func repointReferrers(ctx context.Context, tx *sql.Tx, from, to string) ([]viewOp, error) {
	refs, err := queryEntries(ctx, tx,
		`SELECT `+entryColumns+` FROM history WHERE settings_ref = ? AND id != ?`, from, from)
	if err != nil {
		return nil, err
	}
	var ops []viewOp
	for _, r := range refs {
		ref := to
		if r.ID == to {
			ref = ""
		}
		if _, err := tx.ExecContext(ctx, `UPDATE history SET settings_ref = ? WHERE id = ?`, nullString(ref), r.ID); err != nil {
			return nil, err
		}
		r.SettingsRef = ref
		ops = append(ops, upsertOp(r))
	}
	return ops, nil
}

// CheckIdentity classifies an open before it is recorded. A miss on the
// entry id falls back to a scan by content key, so a renamed copy of known
// content comes back as DifferentName.
func (s *Store) CheckIdentity(ctx context.Context, contentKey, displayName string) (IdentityResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return IdentityResult{Status: NewFile}, nil
	}

	key := identity.ExtractContentKey(contentKey)
	id := identity.DeriveEntryID(displayName, key)

	e, ok, err := getEntry(ctx, s.db, id)
	if err != nil {
		return IdentityResult{Status: NewFile}, err
	}
	if ok {
		return IdentityResult{Status: ExactMatch, Existing: &e}, nil
	}

	same, err := queryEntries(ctx, s.db,
		`SELECT `+entryColumns+` FROM history WHERE content_key = ? AND display_name != ?
		 ORDER BY last_access DESC LIMIT 1`, key, displayName)
	if err != nil {
		return IdentityResult{Status: NewFile}, err
	}
	if len(same) > 0 {
		return IdentityResult{Status: DifferentName, Existing: &same[0]}, nil
	}
	return IdentityResult{Status: NewFile}, nil
}

// SetMemo sets or clears (nil) the memo on an entry.
func (s *Store) SetMemo(ctx context.Context, id string, memo *string) (*model.HistoryEntry, error) {
	return s.mutateEntry(ctx, id, func(ctx context.Context, tx *sql.Tx, e *model.HistoryEntry) error {
		e.Memo = memo
		_, err := tx.ExecContext(ctx, `UPDATE history SET memo = ? WHERE id = ?`, memo, id)
		return err
	})
}

// SetViewState sets or clears (nil) the saved reader position.
func (s *Store) SetViewState(ctx context.Context, id string, vs *model.ViewState) (*model.HistoryEntry, error) {
	return s.mutateEntry(ctx, id, func(ctx context.Context, tx *sql.Tx, e *model.HistoryEntry) error {
		e.ViewState = vs
		mode, page, dir, sortBy, rev := viewColumns(vs)
		_, err := tx.ExecContext(ctx, `
			UPDATE history SET view_mode = ?, view_page = ?, view_direction = ?,
			       view_sort_method = ?, view_sort_reversed = ?
			WHERE id = ?`, mode, page, dir, sortBy, rev, id)
		return err
	})
}

func (s *Store) mutateEntry(ctx context.Context, id string, fn func(context.Context, *sql.Tx, *model.HistoryEntry) error) (*model.HistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return nil, ErrNotInitialized
	}

	var out model.HistoryEntry
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		e, ok, err := getEntry(ctx, tx, id)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("entry %s: %w", id, ErrNotFound)
		}
		if err := fn(ctx, tx, &e); err != nil {
			return err
		}
		out = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.view.Store(s.view.Load().with(upsertOp(out)))
	s.changed(false)
	return &out, nil
}

// RemoveEntry deletes one entry.
func (s *Store) RemoveEntry(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return ErrNotInitialized
	}

	var (
		ops     []viewOp
		removed model.HistoryEntry
	)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		o, e, ok, err := deleteEntryTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("entry %s: %w", id, ErrNotFound)
		}
		ops, removed = o, e
		return nil
	})
	if err != nil {
		return err
	}
	s.view.Store(s.view.Load().with(ops...))
	s.releaseCredentials([]model.HistoryEntry{removed})
	s.changed(false)
	return nil
}

// RemoveByContentKey deletes every entry for a piece of content, whatever
// name it was opened under. It returns the number removed.
func (s *Store) RemoveByContentKey(ctx context.Context, contentKey string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return 0, ErrNotInitialized
	}

	key := identity.ExtractContentKey(contentKey)
	var (
		ops     []viewOp
		removed []model.HistoryEntry
	)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		entries, err := queryEntries(ctx, tx,
			`SELECT `+entryColumns+` FROM history WHERE content_key IN (?, ?) ORDER BY last_access DESC`, key, contentKey)
		if err != nil {
			return err
		}
		for _, e := range entries {
			o, gone, ok, err := deleteEntryTx(ctx, tx, e.ID)
			if err != nil {
				return err
			}
			if ok {
				ops = append(ops, o...)
				removed = append(removed, gone)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if len(removed) == 0 {
		return 0, nil
	}
	s.view.Store(s.view.Load().with(ops...))
	s.releaseCredentials(removed)
	s.changed(true)
	return len(removed), nil
}

// ClearAll deletes the whole ledger and returns the number of entries removed.
func (s *Store) ClearAll(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return 0, ErrNotInitialized
	}

	removed := s.view.Load().ordered
	if _, err := s.db.ExecContext(ctx, `DELETE FROM history`); err != nil {
		return 0, fmt.Errorf("clear history: %w", err)
	}
	s.view.Store(newView(nil))
	s.releaseCredentials(removed)
	s.changed(true)
	return len(removed), nil
}

// ResetAccessCounts sets every access count back to one. Recency is untouched.
func (s *Store) ResetAccessCounts(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return ErrNotInitialized
	}

	if _, err := s.db.ExecContext(ctx, `UPDATE history SET access_count = 1`); err != nil {
		return fmt.Errorf("reset access counts: %w", err)
	}
	cur := s.view.Load()
	ops := make([]viewOp, 0, len(cur.ordered))
	for _, e := range cur.ordered {
		e.AccessCount = 1
		ops = append(ops, upsertOp(e))
	}
	s.view.Store(cur.with(ops...))
	s.changed(true)
	return nil
}

// releaseCredentials drops stored passwords for paths no entry uses any
// more. Failures are logged and swallowed. Callers hold s.mu and have
// already swapped in the post-delete view.
func (s *Store) releaseCredentials(removed []model.HistoryEntry) {
	if len(removed) == 0 {
		return
	}
	v := s.view.Load()
	seen := make(map[string]bool, len(removed))
	for _, e := range removed {
		if e.Path == "" || seen[e.Path] {
			continue
		}
		seen[e.Path] = true
		if v.hasPath(e.Path) {
			continue
		}
		if err := s.creds.DeletePassword(e.Path); err != nil {
			s.log.Warn("delete stored password", "path", e.Path, "error", err)
		}
	}
}
