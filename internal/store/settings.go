package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rcliao/pageledger/internal/model"
)

// LoadSettings returns the settings that apply to id: the entry's own, or
// those of the entry it references. References are followed exactly once,
// and a self-reference counts as none. A miss returns nil, nil.
func (s *Store) LoadSettings(ctx context.Context, id string) (*model.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return nil, nil
	}
	e, ok, err := getEntry(ctx, s.db, id)
	if err != nil || !ok {
		return nil, err
	}
	return resolveSettings(ctx, s.db, e)
}

// SaveSettings writes st to the entry that owns id's settings, so every
// entry sharing them sees the change.
func (s *Store) SaveSettings(ctx context.Context, id string, st model.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return ErrNotInitialized
	}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		e, ok, err := getEntry(ctx, tx, id)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("entry %s: %w", id, ErrNotFound)
		}
		target, err := settingsOwner(ctx, tx, e)
		if err != nil {
			return err
		}
		raw, err := encodeSettings(&st)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `UPDATE history SET settings = ? WHERE id = ?`, raw, target)
		return err
	})
	if err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	s.changed(false)
	return nil
}

// SettingsOwner returns the id whose payload LoadSettings(id) reads.
func (s *Store) SettingsOwner(ctx context.Context, id string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return "", ErrNotInitialized
	}
	e, ok, err := getEntry(ctx, s.db, id)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("entry %s: %w", id, ErrNotFound)
	}
	return settingsOwner(ctx, s.db, e)
}

// DetachSettings gives id a private copy of the settings it currently
// borrows and drops the reference.
func (s *Store) DetachSettings(ctx context.Context, id string) (*model.HistoryEntry, error) {
	return s.mutateEntry(ctx, id, func(ctx context.Context, tx *sql.Tx, e *model.HistoryEntry) error {
		if !e.HasRef() {
			return nil
		}
		st, err := resolveSettings(ctx, tx, *e)
		if err != nil {
			return err
		}
		raw, err := encodeSettings(st)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE history SET settings = ?, settings_ref = NULL WHERE id = ?`, raw, id); err != nil {
			return err
		}
		e.SettingsRef = ""
		return nil
	})
}

// settingsOwner is e.SettingsRef when it names another existing entry,
// otherwise e.ID. It never looks past the first hop.
func settingsOwner(ctx context.Context, q querier, e model.HistoryEntry) (string, error) {
	if !e.HasRef() {
		return e.ID, nil
	}
	_, ok, err := getEntry(ctx, q, e.SettingsRef)
	if err != nil {
		return "", err
	}
	if !ok {
		return e.ID, nil
	}
	return e.SettingsRef, nil
}

func resolveSettings(ctx context.Context, q querier, e model.HistoryEntry) (*model.Settings, error) {
	owner, err := settingsOwner(ctx, q, e)
	if err != nil {
		return nil, err
	}
	st, _, err := loadSettings(ctx, q, owner)
	if err != nil {
		return nil, fmt.Errorf("decode settings for %s: %w", owner, err)
	}
	return st, nil
}

// collapseRefs rewrites every reference to point straight at its owner, so
// no entry is more than one hop from its settings. References that dangle,
// cycle or land on the entry itself are dropped. Entries in owned had their
// resolved settings written as their own payload; the payload is cleared
// for those whose reference survives.
func collapseRefs(ctx context.Context, tx *sql.Tx, owned map[string]bool) error {
	rows, err := tx.QueryContext(ctx, `SELECT id, settings_ref FROM history`)
	if err != nil {
		return err
	}
	refOf := make(map[string]string)
	for rows.Next() {
		var (
			id  string
			ref sql.NullString
		)
		if err := rows.Scan(&id, &ref); err != nil {
			rows.Close()
			return err
		}
		refOf[id] = ref.String
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for id, ref := range refOf {
		if ref == "" {
			continue
		}
		owner := rootOwner(refOf, id)
		if owner != ref {
			if _, err := tx.ExecContext(ctx,
				`UPDATE history SET settings_ref = ? WHERE id = ?`, nullString(owner), id); err != nil {
				return fmt.Errorf("collapse reference of %s: %w", id, err)
			}
		}
		if owner != "" && owned[id] {
			if _, err := tx.ExecContext(ctx, `UPDATE history SET settings = NULL WHERE id = ?`, id); err != nil {
				return err
			}
		}
	}
	return nil
}

// rootOwner follows id's references to the first entry that has none. It
// returns "" for a dangling reference, a cycle or a path back to id.
func rootOwner(refOf map[string]string, id string) string {
	seen := map[string]bool{id: true}
	cur := refOf[id]
	for {
		if seen[cur] {
			return ""
		}
		next, ok := refOf[cur]
		switch {
		case !ok:
			return ""
		case next == "" || next == cur:
			return cur
		}
		seen[cur] = true
		cur = next
	}
}
