package store

import (
	"context"
	"strings"

	"github.com/rcliao/pageledger/internal/model"
)

// SearchParams holds parameters for searching history.
type SearchParams struct {
	Query string
	Limit int
}

// Search returns entries whose display name, path or memo contains the
// query, most recent first.
func (s *Store) Search(ctx context.Context, p SearchParams) ([]model.HistoryEntry, error) {
	limit := p.Limit
	if limit <= 0 {
		limit = 20
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return nil, nil
	}

	q := strings.TrimSpace(p.Query)
	if q == "" {
		return queryEntries(ctx, s.db,
			`SELECT `+entryColumns+` FROM history ORDER BY last_access DESC, id LIMIT ?`, limit)
	}

	like := "%" + escapeLike(q) + "%"
	return queryEntries(ctx, s.db, `
		SELECT `+entryColumns+` FROM history
		WHERE display_name LIKE ? ESCAPE '\' OR path LIKE ? ESCAPE '\' OR memo LIKE ? ESCAPE '\'
		ORDER BY last_access DESC, id
		LIMIT ?`, like, like, like, limit)
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
