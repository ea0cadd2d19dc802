// Package factory opens a store.Store from a DSN.
package factory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/loykin/tally/internal/store"
	pg "github.com/loykin/tally/internal/store/postgres"
	sq "github.com/loykin/tally/internal/store/sqlite"
)

// NewFromDSN selects a store implementation from dsn without touching the
// schema:
//   - "postgres://..." or "postgresql://..." opens Postgres through pgx
//   - "sqlite:///path/to/file.db", "sqlite://:memory:" or a bare path opens SQLite
func NewFromDSN(dsn string) (store.Store, error) {
	d := strings.TrimSpace(dsn)
	if d == "" {
		return nil, errors.New("empty DSN")
	}
	scheme, rest, hasScheme := strings.Cut(d, "://")
	if !hasScheme {
		return sq.New(d)
	}
	switch strings.ToLower(scheme) {
	case "postgres", "postgresql":
		return pg.New(d)
	case "sqlite":
		return sq.New(rest)
	}
	return nil, fmt.Errorf("unsupported store DSN scheme %q", scheme)
}

// Open creates a store from dsn and ensures its schema exists.
// The caller owns the returned handle.
func Open(ctx context.Context, dsn string) (store.Store, error) {
	s, err := NewFromDSN(dsn)
	if err != nil {
		return nil, err
	}
	if err := s.EnsureSchema(ctx); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return s, nil
}
