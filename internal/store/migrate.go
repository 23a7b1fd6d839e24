package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rcliao/pageledger/internal/identity"
)

// ladder is ordered by from; every step is additive and safe to re-run.
var ladder = []migration{
	{from: 0, name: "create history and catalog", apply: migrateCreateTables},
	{from: 1, name: "memo and view state", apply: migrateMemoViewState},
	{from: 2, name: "name-scoped entry ids", apply: migrateRekeyHistory},
	{from: 3, name: "settings and settings references", apply: migrateSettings},
	{from: 4, name: "session groups", apply: migrateSessionGroups},
	{from: 5, name: "repair corrupted content keys", apply: migrateRepairKeys},
}

func migrateCreateTables(ctx context.Context, _ *Store, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `
	CREATE TABLE IF NOT EXISTS history (
		id           TEXT PRIMARY KEY,
		content_key  TEXT NOT NULL,
		path         TEXT NOT NULL,
		display_name TEXT NOT NULL,
		last_access  INTEGER NOT NULL,
		access_count INTEGER NOT NULL DEFAULT 1
	);
	CREATE INDEX IF NOT EXISTS idx_history_last_access ON history(last_access);
	CREATE INDEX IF NOT EXISTS idx_history_content_key ON history(content_key);

	CREATE TABLE IF NOT EXISTS catalog (
		content_key  TEXT PRIMARY KEY,
		path         TEXT NOT NULL,
		display_name TEXT NOT NULL,
		last_access  INTEGER NOT NULL,
		access_count INTEGER NOT NULL DEFAULT 1
	);
	CREATE INDEX IF NOT EXISTS idx_catalog_last_access ON catalog(last_access);
	`)
	return err
}

func migrateMemoViewState(ctx context.Context, _ *Store, tx *sql.Tx) error {
	err := addColumns(ctx, tx, "history", [][2]string{
		{"memo", "TEXT"},
		{"view_mode", "TEXT"},
		{"view_page", "INTEGER NOT NULL DEFAULT 0"},
		{"view_direction", "TEXT NOT NULL DEFAULT ''"},
		{"view_sort_method", "TEXT NOT NULL DEFAULT ''"},
		{"view_sort_reversed", "INTEGER NOT NULL DEFAULT 0"},
	})
	if err != nil {
		return err
	}
	return addColumns(ctx, tx, "catalog", [][2]string{{"memo", "TEXT"}})
}

// migrateRekeyHistory moves v1 rows, whose id was the raw content key, to
// ids derived from display name + canonical content key. Two rows that land
// on the same id are merged.
func migrateRekeyHistory(ctx context.Context, _ *Store, tx *sql.Tx) error {
	type row struct {
		id, key, name string
		last          int64
		count         int
		memo          sql.NullString
	}
	rows, err := tx.QueryContext(ctx, `SELECT id, content_key, display_name, last_access, access_count, memo FROM history`)
	if err != nil {
		return err
	}
	var all []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.id, &r.key, &r.name, &r.last, &r.count, &r.memo); err != nil {
			rows.Close()
			return err
		}
		all = append(all, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, r := range all {
		if identity.IsCorrupted(r.key) {
			continue
		}
		key := identity.ExtractContentKey(r.key)
		newID := identity.DeriveEntryID(r.name, key)
		if newID == r.id && key == r.key {
			continue
		}

		exists := false
		if newID != r.id {
			var n int
			if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM history WHERE id = ?`, newID).Scan(&n); err != nil {
				return err
			}
			exists = n > 0
		}
		if exists {
			if _, err := tx.ExecContext(ctx, `
				UPDATE history SET access_count = access_count + ?,
				       last_access = MAX(last_access, ?),
				       memo = COALESCE(memo, ?)
				WHERE id = ?`, r.count, r.last, r.memo, newID); err != nil {
				return fmt.Errorf("merge %s into %s: %w", r.id, newID, err)
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM history WHERE id = ?`, r.id); err != nil {
				return err
			}
			continue
		}
		if _, err := tx.ExecContext(ctx, `UPDATE history SET id = ?, content_key = ? WHERE id = ?`, newID, key, r.id); err != nil {
			return fmt.Errorf("rekey %s: %w", r.id, err)
		}
	}
	return nil
}

func migrateSettings(ctx context.Context, _ *Store, tx *sql.Tx) error {
	err := addColumns(ctx, tx, "history", [][2]string{
		{"settings", "TEXT"},
		{"settings_ref", "TEXT"},
	})
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_history_settings_ref ON history(settings_ref)`)
	return err
}

func migrateSessionGroups(ctx context.Context, _ *Store, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `
	CREATE TABLE IF NOT EXISTS session_groups (
		id          TEXT PRIMARY KEY,
		name        TEXT NOT NULL,
		created_at  INTEGER NOT NULL,
		last_access INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_groups_last_access ON session_groups(last_access);

	CREATE TABLE IF NOT EXISTS session_items (
		group_id    TEXT NOT NULL,
		seq         INTEGER NOT NULL,
		path        TEXT NOT NULL,
		content_key TEXT NOT NULL DEFAULT '',
		page_number INTEGER NOT NULL DEFAULT 0,
		geometry    TEXT,
		PRIMARY KEY (group_id, seq)
	);
	`)
	return err
}

func migrateRepairKeys(ctx context.Context, s *Store, tx *sql.Tx) error {
	res, err := s.repairKeysTx(ctx, tx)
	if err != nil {
		return err
	}
	if res.Repaired+res.Merged+res.Skipped > 0 {
		s.log.Info("repaired content keys", "repaired", res.Repaired, "merged", res.Merged, "skipped", res.Skipped)
	}
	return nil
}
