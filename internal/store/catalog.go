package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/rcliao/pageledger/internal/identity"
	"github.com/rcliao/pageledger/internal/model"
)

const catalogColumns = `content_key, path, display_name, last_access, access_count, memo`

func scanCatalog(row scanner) (model.CatalogEntry, error) {
	var (
		c    model.CatalogEntry
		last int64
		memo sql.NullString
	)
	if err := row.Scan(&c.ContentKey, &c.Path, &c.DisplayName, &last, &c.AccessCount, &memo); err != nil {
		return c, err
	}
	c.LastAccess = fromNanos(last)
	if memo.Valid {
		m := memo.String
		c.Memo = &m
	}
	return c, nil
}

// RecordCatalog bumps or creates the catalog entry for contentKey. The
// catalog has its own capacity, MaxCatalogCount.
func (s *Store) RecordCatalog(ctx context.Context, contentKey, path, displayName string) (*model.CatalogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return nil, ErrNotInitialized
	}

	key := identity.ExtractContentKey(contentKey)
	now := s.stamp()
	var out model.CatalogEntry
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		c, err := scanCatalog(tx.QueryRowContext(ctx,
			`SELECT `+catalogColumns+` FROM catalog WHERE content_key = ?`, key))
		switch {
		case err == nil:
			c.AccessCount++
			c.LastAccess = now
			c.Path = path
			c.DisplayName = displayName
			if _, err := tx.ExecContext(ctx,
				`UPDATE catalog SET access_count = ?, last_access = ?, path = ?, display_name = ? WHERE content_key = ?`,
				c.AccessCount, toNanos(now), path, displayName, key); err != nil {
				return err
			}
			out = c
			return nil
		case !errors.Is(err, sql.ErrNoRows):
			return err
		}

		out = model.CatalogEntry{ContentKey: key, Path: path, DisplayName: displayName, LastAccess: now, AccessCount: 1}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO catalog (content_key, path, display_name, last_access, access_count) VALUES (?, ?, ?, ?, 1)`,
			key, path, displayName, toNanos(now)); err != nil {
			return err
		}
		var n int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM catalog`).Scan(&n); err != nil {
			return err
		}
		if excess := n - s.opts.MaxCatalogCount; excess > 0 {
			if _, err := tx.ExecContext(ctx, `
				DELETE FROM catalog WHERE content_key IN (
					SELECT content_key FROM catalog WHERE content_key != ?
					ORDER BY last_access ASC, content_key ASC LIMIT ?
				)`, key, excess); err != nil {
				return fmt.Errorf("evict catalog: %w", err)
			}
			s.log.Debug("evicted catalog entries", "count", excess, "limit", s.opts.MaxCatalogCount)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("record catalog: %w", err)
	}
	return &out, nil
}

// CatalogEntries lists catalogued images, most recent first. limit <= 0 means all.
func (s *Store) CatalogEntries(ctx context.Context, limit int) ([]model.CatalogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return nil, nil
	}
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+catalogColumns+` FROM catalog ORDER BY last_access DESC, content_key LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.CatalogEntry
	for rows.Next() {
		c, err := scanCatalog(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CatalogEntry returns the catalog entry for contentKey.
func (s *Store) CatalogEntry(ctx context.Context, contentKey string) (*model.CatalogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return nil, nil
	}
	c, err := scanCatalog(s.db.QueryRowContext(ctx,
		`SELECT `+catalogColumns+` FROM catalog WHERE content_key = ?`, identity.ExtractContentKey(contentKey)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// SetCatalogMemo sets or clears the memo on a catalog entry.
func (s *Store) SetCatalogMemo(ctx context.Context, contentKey string, memo *string) error {
	return s.execCatalog(ctx, `UPDATE catalog SET memo = ? WHERE content_key = ?`, memo, identity.ExtractContentKey(contentKey))
}

// RemoveCatalog deletes one catalog entry.
func (s *Store) RemoveCatalog(ctx context.Context, contentKey string) error {
	return s.execCatalog(ctx, `DELETE FROM catalog WHERE content_key = ?`, identity.ExtractContentKey(contentKey))
}

func (s *Store) execCatalog(ctx context.Context, query string, args ...any) error {
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
		return fmt.Errorf("catalog entry: %w", ErrNotFound)
	}
	return nil
}

// ClearCatalog deletes every catalog entry and returns how many there were.
func (s *Store) ClearCatalog(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return 0, ErrNotInitialized
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM catalog`)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
