package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/loykin/tally/internal/store"
)

// DB implements store.Store for SQLite (modernc.org/sqlite driver, CGO-free).
// DSN is a filesystem path to the SQLite database file. Use ":memory:" for in-memory.
type DB struct {
	db *sql.DB
}

var _ store.Store = (*DB)(nil)

// New opens a SQLite database at path.
func New(path string) (*DB, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("empty sqlite path")
	}
	d, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	// one connection per handle: pragmas apply to it and ":memory:" stays a single database
	d.SetMaxOpenConns(1)
	// busy timeout helps with short concurrent locks from other handles on the same file
	_, _ = d.Exec("PRAGMA busy_timeout=3000;")
	if p != ":memory:" {
		_, _ = d.Exec("PRAGMA journal_mode=WAL;")
	}
	return &DB{db: d}, nil
}

func (s *DB) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS daily_counts(
			date TEXT PRIMARY KEY,
			max_instances INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS config(
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *DB) Close() error { return s.db.Close() }

func (s *DB) GetConfig(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM config WHERE key=?;`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *DB) SetConfig(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO config(key, value) VALUES(?, ?)
		ON CONFLICT(key) DO UPDATE SET value=excluded.value;`, key, value)
	return err
}

func (s *DB) UpdateDailyMax(ctx context.Context, date string, count int) error {
	if err := store.ValidateUpdate(date, count); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO daily_counts(date, max_instances) VALUES(?, ?)
		ON CONFLICT(date) DO UPDATE SET max_instances=excluded.max_instances
		WHERE excluded.max_instances > daily_counts.max_instances;`, date, count)
	return err
}

func (s *DB) GetCountsForRange(ctx context.Context, start, end string) ([]store.DailyMax, error) {
	if err := store.ValidateRange(start, end); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT date, max_instances
		FROM daily_counts
		WHERE date >= ? AND date <= ?
		ORDER BY date;`, start, end)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return store.ScanDaily(rows)
}
