// Package persistent defines the durable tile tier and picks a backend for it.
package persistent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/stenvall/tilecache/internal/cache/filestore"
	"github.com/stenvall/tilecache/internal/cache/redisstore"
	"github.com/stenvall/tilecache/internal/cache/sqlitestore"
	"github.com/stenvall/tilecache/internal/tile"
)

// Cache is a durable map from tile index to encoded tile bytes.
// Get reports a miss as (nil, false, nil). Put is idempotent.
type Cache interface {
	Get(ctx context.Context, idx tile.Index) ([]byte, bool, error)
	Put(ctx context.Context, idx tile.Index, b []byte) error
	Close() error
}

// BatchGetter is implemented by backends that can read many tiles in one
// round trip. Missing tiles are absent from the result.
type BatchGetter interface {
	GetMany(ctx context.Context, idxs []tile.Index) (map[tile.Index][]byte, error)
}

type Type string

const (
	TypeFile   Type = "file"
	TypeSQLite Type = "sqlite"
	TypeRedis  Type = "redis"
	TypeNone   Type = "none"
)

// ParseType accepts the names above case-insensitively; "" means file.
func ParseType(s string) (Type, error) {
	switch t := Type(strings.ToLower(strings.TrimSpace(s))); t {
	case "":
		return TypeFile, nil
	case TypeFile, TypeSQLite, TypeRedis, TypeNone:
		return t, nil
	default:
		return "", fmt.Errorf("unknown persistent cache type %q (supported: file, sqlite, redis, none)", s)
	}
}

type Options struct {
	Type Type
	// Root is the durable cache directory for file and sqlite.
	Root      string
	Namespace string
	Format    string

	RedisAddr string
	RedisTTL  time.Duration
}

// New opens the backend selected by o.Type.
func New(ctx context.Context, o Options, log *slog.Logger) (Cache, error) {
	if log == nil {
		log = slog.Default()
	}
	if o.Type == "" {
		o.Type = TypeFile
	}
	if o.Type != TypeNone && o.Namespace == "" {
		return nil, fmt.Errorf("persistent cache %s: namespace is required", o.Type)
	}

	switch o.Type {
	case TypeFile:
		s, err := filestore.New(o.Root, o.Namespace, o.Format)
		if err != nil {
			return nil, err
		}
		log.Info("persistent tile cache", "type", o.Type, "dir", s.Dir())
		return s, nil
	case TypeSQLite:
		s, err := sqlitestore.Open(ctx, o.Root, o.Namespace)
		if err != nil {
			return nil, err
		}
		log.Info("persistent tile cache", "type", o.Type, "path", s.Path())
		return s, nil
	case TypeRedis:
		c, err := redisstore.New(ctx, o.RedisAddr)
		if err != nil {
			return nil, err
		}
		log.Info("persistent tile cache", "type", o.Type, "addr", o.RedisAddr, "ttl", o.RedisTTL)
		return redisstore.NewStore(c, o.Namespace, o.RedisTTL), nil
	case TypeNone:
		log.Info("persistent tile cache disabled")
		return Noop{}, nil
	default:
		return nil, fmt.Errorf("unknown persistent cache type %q", o.Type)
	}
}

// Noop never stores anything.
type Noop struct{}

func (Noop) Get(context.Context, tile.Index) ([]byte, bool, error) { return nil, false, nil }
func (Noop) Put(context.Context, tile.Index, []byte) error        { return nil }
func (Noop) Close() error                                         { return nil }

var (
	_ Cache = Noop{}
	_ Cache = (*filestore.Store)(nil)
	_ Cache = (*sqlitestore.Store)(nil)
	_ Cache = (*redisstore.Store)(nil)

	_ BatchGetter = (*redisstore.Store)(nil)
)
