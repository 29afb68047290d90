// Package filestore keeps tiles as individual files laid out as
// {root}/{namespace}/{z}/{x}/{y}.{format}.
package filestore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/stenvall/tilecache/internal/core/observability"
	"github.com/stenvall/tilecache/internal/tile"
)

const backend = "file"

type Store struct {
	dir    string
	format string
}

func New(root, namespace, format string) (*Store, error) {
	if root == "" {
		return nil, errors.New("file cache: root directory is required")
	}
	if namespace == "" {
		return nil, errors.New("file cache: namespace is required")
	}
	if format == "" {
		format = "png"
	}
	dir := filepath.Join(root, namespace)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("file cache: create %s: %w", dir, err)
	}
	return &Store{dir: dir, format: format}, nil
}

func (s *Store) Dir() string { return s.dir }

func (s *Store) path(idx tile.Index) string {
	return filepath.Join(
		s.dir,
		strconv.Itoa(idx.Level),
		strconv.Itoa(idx.Col),
		strconv.Itoa(idx.Row)+"."+s.format,
	)
}

func (s *Store) Get(ctx context.Context, idx tile.Index) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	start := time.Now()
	b, err := os.ReadFile(s.path(idx))
	if errors.Is(err, fs.ErrNotExist) {
		observability.ObserveCacheOp(backend, "get", nil, time.Since(start).Seconds())
		return nil, false, nil
	}
	observability.ObserveCacheOp(backend, "get", err, time.Since(start).Seconds())
	if err != nil {
		return nil, false, fmt.Errorf("file cache get %s: %w", idx, err)
	}
	return b, true, nil
}

// Put writes through a temp file in the target directory and renames it into
// place, so readers never observe a partial tile.
func (s *Store) Put(ctx context.Context, idx tile.Index, b []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	start := time.Now()
	err := s.write(s.path(idx), b)
	observability.ObserveCacheOp(backend, "put", err, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("file cache put %s: %w", idx, err)
	}
	return nil
}

func (s *Store) write(dst string, b []byte) error {
	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, ".tile-*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Chmod(tmp, 0o644); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, dst); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

func (s *Store) Close() error { return nil }
