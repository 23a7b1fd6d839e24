package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func openDB(ctx context.Context, path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)&_pragma=synchronous(normal)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// One connection: the store is the only writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect db: %w", err)
	}
	return db, nil
}

// migration upgrades the container from version from to from+1.
type migration struct {
	from  int
	name  string
	apply func(ctx context.Context, s *Store, tx *sql.Tx) error
}

// runMigrations applies every step between stored and s.target in order,
// each in its own transaction. A failing step is rolled back and logged and
// the ladder stops there; the returned version is the last one reached.
func runMigrations(ctx context.Context, s *Store, stored int) (int, []*MigrationError) {
	version := stored
	var errs []*MigrationError
	for _, m := range s.ladder {
		if m.from < version {
			continue
		}
		if m.from >= s.target || m.from != version {
			break
		}
		err := s.withTx(ctx, func(tx *sql.Tx) error {
			return m.apply(ctx, s, tx)
		})
		if err != nil {
			merr := &MigrationError{From: m.from, To: m.from + 1, Name: m.name, Err: err}
			s.log.Warn("migration failed", "from", merr.From, "to", merr.To, "step", m.name, "error", err)
			errs = append(errs, merr)
			break
		}
		s.log.Info("migrated store", "from", m.from, "to", m.from+1, "step", m.name)
		version = m.from + 1
	}
	return version, errs
}

func hasColumn(ctx context.Context, q querier, table, column string) (bool, error) {
	rows, err := q.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			cid       int
			name, typ string
			notNull   int
			dflt      sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}

// addColumns adds each missing column; existing ones are left alone.
func addColumns(ctx context.Context, q querier, table string, defs [][2]string) error {
	for _, d := range defs {
		ok, err := hasColumn(ctx, q, table, d[0])
		if err != nil {
			return err
		}
		if ok {
			continue
		}
		if _, err := q.ExecContext(ctx, fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, d[0], d[1])); err != nil {
			return fmt.Errorf("add %s.%s: %w", table, d[0], err)
		}
	}
	return nil
}
