// Package tile defines the tile coordinate used as the cache key across all tiers
// and the error taxonomy shared by the request builder, the sources and the fetcher.
package tile

import (
	"context"
	"errors"
	"fmt"
)

// Index identifies one tile in the XYZ scheme. It is comparable and used directly
// as a map key; no normalization is applied.
type Index struct {
	Col   int
	Row   int
	Level int
}

func (i Index) String() string {
	return fmt.Sprintf("%d/%d/%d", i.Level, i.Col, i.Row)
}

// InGrid reports whether col and row fall inside the 2^level x 2^level grid.
func (i Index) InGrid() bool {
	if i.Level < 0 || i.Level > 30 || i.Col < 0 || i.Row < 0 {
		return false
	}
	n := 1 << i.Level
	return i.Col < n && i.Row < n
}

var (
	// ErrOutOfRange is permanent for that level: the server does not publish it.
	ErrOutOfRange = errors.New("tile out of range")
	// ErrUnsupportedConfiguration rejects a configuration variant at construction time.
	ErrUnsupportedConfiguration = errors.New("unsupported tile server configuration")
	// ErrNetwork is transient and safe to retry.
	ErrNetwork = errors.New("tile network error")
	// ErrNotFound is permanent for that index.
	ErrNotFound = errors.New("tile not found")
)

// IsTransient reports whether a retry of the same request may succeed.
func IsTransient(err error) bool {
	return errors.Is(err, ErrNetwork) || errors.Is(err, context.DeadlineExceeded)
}
