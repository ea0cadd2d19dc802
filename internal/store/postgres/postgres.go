package postgres

import (
	"context"
	"database/sql"
	"errors"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/loykin/tally/internal/store"
)

type DB struct {
	db *sql.DB
}

var _ store.Store = (*DB)(nil)

func New(dsn string) (*DB, error) {
	d, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &DB{db: d}, nil
}

func (p *DB) EnsureSchema(ctx context.Context) error {
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
		if _, err := p.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (p *DB) Close() error { return p.db.Close() }

func (p *DB) GetConfig(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := p.db.QueryRowContext(ctx, `SELECT value FROM config WHERE key=$1`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (p *DB) SetConfig(ctx context.Context, key, value string) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO config(key, value) VALUES($1, $2)
		ON CONFLICT(key) DO UPDATE SET value=EXCLUDED.value`, key, value)
	return err
}

func (p *DB) UpdateDailyMax(ctx context.Context, date string, count int) error {
	if err := store.ValidateUpdate(date, count); err != nil {
		return err
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO daily_counts(date, max_instances) VALUES($1, $2)
		ON CONFLICT(date) DO UPDATE SET max_instances=EXCLUDED.max_instances
		WHERE EXCLUDED.max_instances > daily_counts.max_instances`, date, count)
	return err
}

func (p *DB) GetCountsForRange(ctx context.Context, start, end string) ([]store.DailyMax, error) {
	if err := store.ValidateRange(start, end); err != nil {
		return nil, err
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT date, max_instances
		FROM daily_counts
		WHERE date >= $1 AND date <= $2
		ORDER BY date`, start, end)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return store.ScanDaily(rows)
}
