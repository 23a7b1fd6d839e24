package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/oklog/ulid/v2"

	"github.com/rcliao/pageledger/internal/identity"
	"github.com/rcliao/pageledger/internal/model"
)

func (s *Store) newID() string {
	return ulid.MustNew(ulid.Timestamp(s.now()), s.entropy).String()
}

// SaveGroup stores a named multi-window session. Groups are evicted on their
// own LRU budget, MaxSessionGroups.
func (s *Store) SaveGroup(ctx context.Context, name string, items []model.SessionItem) (*model.SessionGroup, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("group name is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return nil, ErrNotInitialized
	}

	now := s.stamp()
	g := model.SessionGroup{ID: s.newID(), Name: name, CreatedAt: now, LastAccess: now}
	for _, it := range items {
		it.ContentKey = identity.ExtractContentKey(it.ContentKey)
		g.Items = append(g.Items, it)
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO session_groups (id, name, created_at, last_access) VALUES (?, ?, ?, ?)`,
			g.ID, g.Name, toNanos(now), toNanos(now)); err != nil {
			return err
		}
		for i, it := range g.Items {
			var geom *string
			if it.Geometry != nil {
				b, err := json.Marshal(it.Geometry)
				if err != nil {
					return err
				}
				str := string(b)
				geom = &str
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO session_items (group_id, seq, path, content_key, page_number, geometry) VALUES (?, ?, ?, ?, ?, ?)`,
				g.ID, i, it.Path, it.ContentKey, it.PageNumber, geom); err != nil {
				return fmt.Errorf("insert item %d: %w", i, err)
			}
		}
		return s.evictGroups(ctx, tx, g.ID)
	})
	if err != nil {
		return nil, fmt.Errorf("save group: %w", err)
	}
	return &g, nil
}

func (s *Store) evictGroups(ctx context.Context, tx *sql.Tx, keep string) error {
	var n int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM session_groups`).Scan(&n); err != nil {
		return err
	}
	excess := n - s.opts.MaxSessionGroups
	if excess <= 0 {
		return nil
	}
	rows, err := tx.QueryContext(ctx, `
		SELECT id FROM session_groups WHERE id != ?
		ORDER BY last_access ASC, id ASC LIMIT ?`, keep, excess)
	if err != nil {
		return err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		ids = append(ids, id)
	}
	rows.Close()
	for _, id := range ids {
		if err := deleteGroupTx(ctx, tx, id); err != nil {
			return err
		}
	}
	return nil
}

func deleteGroupTx(ctx context.Context, tx *sql.Tx, id string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM session_items WHERE group_id = ?`, id); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM session_groups WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("group %s: %w", id, ErrNotFound)
	}
	return nil
}

// Groups lists saved sessions, most recently used first.
func (s *Store) Groups(ctx context.Context) ([]model.SessionGroup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, created_at, last_access FROM session_groups ORDER BY last_access DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	var groups []model.SessionGroup
	for rows.Next() {
		var (
			g             model.SessionGroup
			created, last int64
		)
		if err := rows.Scan(&g.ID, &g.Name, &created, &last); err != nil {
			rows.Close()
			return nil, err
		}
		g.CreatedAt, g.LastAccess = fromNanos(created), fromNanos(last)
		groups = append(groups, g)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range groups {
		items, err := loadItems(ctx, s.db, groups[i].ID)
		if err != nil {
			return nil, err
		}
		groups[i].Items = items
	}
	return groups, nil
}

// Group returns one saved session.
func (s *Store) Group(ctx context.Context, id string) (*model.SessionGroup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return nil, ErrNotInitialized
	}
	var (
		g             model.SessionGroup
		created, last int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, created_at, last_access FROM session_groups WHERE id = ?`, id).
		Scan(&g.ID, &g.Name, &created, &last)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("group %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	g.CreatedAt, g.LastAccess = fromNanos(created), fromNanos(last)
	if g.Items, err = loadItems(ctx, s.db, id); err != nil {
		return nil, err
	}
	return &g, nil
}

func loadItems(ctx context.Context, q querier, groupID string) ([]model.SessionItem, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT path, content_key, page_number, geometry FROM session_items WHERE group_id = ? ORDER BY seq`, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []model.SessionItem
	for rows.Next() {
		var (
			it   model.SessionItem
			geom sql.NullString
		)
		if err := rows.Scan(&it.Path, &it.ContentKey, &it.PageNumber, &geom); err != nil {
			return nil, err
		}
		if geom.Valid {
			var g model.Geometry
			if err := json.Unmarshal([]byte(geom.String), &g); err != nil {
				return nil, fmt.Errorf("decode geometry: %w", err)
			}
			it.Geometry = &g
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// RenameGroup changes a group's name.
func (s *Store) RenameGroup(ctx context.Context, id, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("group name is required")
	}
	return s.execGroup(ctx, `UPDATE session_groups SET name = ? WHERE id = ?`, name, id)
}

// TouchGroup marks a group as just used, e.g. on restore.
func (s *Store) TouchGroup(ctx context.Context, id string) error {
	return s.execGroup(ctx, `UPDATE session_groups SET last_access = ? WHERE id = ?`, toNanos(s.stamp()), id)
}

func (s *Store) execGroup(ctx context.Context, query string, args ...any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return ErrNotInitialized
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("group: %w", ErrNotFound)
	}
	return nil
}

// RemoveGroup deletes a group and its items.
func (s *Store) RemoveGroup(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return ErrNotInitialized
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return deleteGroupTx(ctx, tx, id)
	})
}
