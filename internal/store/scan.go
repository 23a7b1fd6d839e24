package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/rcliao/pageledger/internal/model"
)

const entryColumns = `id, content_key, path, display_name, last_access, access_count, memo,
	view_mode, view_page, view_direction, view_sort_method, view_sort_reversed, settings_ref`

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (model.HistoryEntry, error) {
	var (
		e            model.HistoryEntry
		last         int64
		memo, mode   sql.NullString
		ref          sql.NullString
		page         int
		dir, sortBy  string
		sortReversed bool
	)
	err := row.Scan(&e.ID, &e.ContentKey, &e.Path, &e.DisplayName, &last, &e.AccessCount, &memo,
		&mode, &page, &dir, &sortBy, &sortReversed, &ref)
	if err != nil {
		return e, err
	}
	e.LastAccess = fromNanos(last)
	if memo.Valid {
		m := memo.String
		e.Memo = &m
	}
	if mode.Valid {
		e.ViewState = &model.ViewState{
			Mode:         mode.String,
			Page:         page,
			Direction:    dir,
			SortMethod:   sortBy,
			SortReversed: sortReversed,
		}
	}
	if ref.Valid {
		e.SettingsRef = ref.String
	}
	return e, nil
}

// getEntry returns the entry with id; ok is false on a miss.
func getEntry(ctx context.Context, q querier, id string) (model.HistoryEntry, bool, error) {
	e, err := scanEntry(q.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM history WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return e, false, nil
	}
	if err != nil {
		return e, false, err
	}
	return e, true, nil
}

func queryEntries(ctx context.Context, q querier, query string, args ...any) ([]model.HistoryEntry, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []model.HistoryEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func loadEntries(ctx context.Context, q querier) ([]model.HistoryEntry, error) {
	return queryEntries(ctx, q, `SELECT `+entryColumns+` FROM history ORDER BY last_access DESC, id`)
}

func insertEntry(ctx context.Context, q querier, e model.HistoryEntry, settings *model.Settings) error {
	raw, err := encodeSettings(settings)
	if err != nil {
		return err
	}
	mode, page, dir, sortBy, rev := viewColumns(e.ViewState)
	_, err = q.ExecContext(ctx, `
		INSERT OR REPLACE INTO history (id, content_key, path, display_name, last_access, access_count, memo,
			view_mode, view_page, view_direction, view_sort_method, view_sort_reversed, settings_ref, settings)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.ContentKey, e.Path, e.DisplayName, toNanos(e.LastAccess), e.AccessCount, e.Memo,
		mode, page, dir, sortBy, rev, nullString(e.SettingsRef), raw)
	return err
}

func viewColumns(v *model.ViewState) (mode *string, page int, dir, sortBy string, rev bool) {
	if v == nil {
		return nil, 0, "", "", false
	}
	m := v.Mode
	return &m, v.Page, v.Direction, v.SortMethod, v.SortReversed
}

func loadSettings(ctx context.Context, q querier, id string) (*model.Settings, bool, error) {
	var raw sql.NullString
	err := q.QueryRowContext(ctx, `SELECT settings FROM history WHERE id = ?`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	st, err := decodeSettings(raw)
	return st, true, err
}

func encodeSettings(st *model.Settings) (*string, error) {
	if st == nil {
		return nil, nil
	}
	b, err := json.Marshal(st)
	if err != nil {
		return nil, err
	}
	s := string(b)
	return &s, nil
}

func decodeSettings(raw sql.NullString) (*model.Settings, error) {
	if !raw.Valid || raw.String == "" {
		return nil, nil
	}
	var st model.Settings
	if err := json.Unmarshal([]byte(raw.String), &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
