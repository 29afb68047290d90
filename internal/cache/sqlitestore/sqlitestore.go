// Package sqlitestore keeps every tile of one layer in a single sqlite file.
package sqlitestore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"

	"github.com/stenvall/tilecache/internal/core/observability"
	"github.com/stenvall/tilecache/internal/tile"
)

const backend = "sqlite"

//go:embed migrations/*.sql
var migrations embed.FS

type Store struct {
	db   *sql.DB
	path string
}

// Open creates {root}/{namespace}.sqlite if needed and migrates it.
func Open(ctx context.Context, root, namespace string) (*Store, error) {
	if root == "" {
		return nil, errors.New("sqlite cache: root directory is required")
	}
	if namespace == "" {
		return nil, errors.New("sqlite cache: namespace is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("sqlite cache: create %s: %w", root, err)
	}
	path := filepath.Join(root, namespace+".sqlite")

	db, err := sql.Open("sqlite3", "file:"+path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("sqlite cache: open %s: %w", path, err)
	}
	// one writer at a time; sqlite serialises them anyway
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite cache: ping %s: %w", path, err)
	}
	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db, path: path}, nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	sub, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("sqlite cache: migrations: %w", err)
	}
	p, err := goose.NewProvider(goose.DialectSQLite3, db, sub)
	if err != nil {
		return fmt.Errorf("sqlite cache: goose provider: %w", err)
	}
	if _, err := p.Up(ctx); err != nil {
		return fmt.Errorf("sqlite cache: migrate: %w", err)
	}
	return nil
}

func (s *Store) Path() string { return s.path }

func (s *Store) Get(ctx context.Context, idx tile.Index) ([]byte, bool, error) {
	start := time.Now()
	var b []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM tiles WHERE z = ? AND x = ? AND y = ?`,
		idx.Level, idx.Col, idx.Row,
	).Scan(&b)
	if errors.Is(err, sql.ErrNoRows) {
		observability.ObserveCacheOp(backend, "get", nil, time.Since(start).Seconds())
		return nil, false, nil
	}
	observability.ObserveCacheOp(backend, "get", err, time.Since(start).Seconds())
	if err != nil {
		return nil, false, fmt.Errorf("sqlite cache get %s: %w", idx, err)
	}
	return b, true, nil
}

func (s *Store) Put(ctx context.Context, idx tile.Index, b []byte) error {
	start := time.Now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tiles (z, x, y, data, updated_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(z, x, y) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		idx.Level, idx.Col, idx.Row, b, time.Now().Unix(),
	)
	observability.ObserveCacheOp(backend, "put", err, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("sqlite cache put %s: %w", idx, err)
	}
	return nil
}

// Count returns the number of stored tiles.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tiles`).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlite cache count: %w", err)
	}
	return n, nil
}

func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("sqlite cache close: %w", err)
	}
	return nil
}
