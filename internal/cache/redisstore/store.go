package redisstore

import (
	"context"
	"time"

	"github.com/stenvall/tilecache/internal/cache/keys"
	"github.com/stenvall/tilecache/internal/tile"
)

// Store is the redis-backed persistent tile tier. A zero TTL keeps tiles
// until they are evicted by the server.
type Store struct {
	c   *Client
	ns  string
	ttl time.Duration
}

func NewStore(c *Client, namespace string, ttl time.Duration) *Store {
	if ttl < 0 {
		ttl = 0
	}
	return &Store{c: c, ns: namespace, ttl: ttl}
}

func (s *Store) Get(ctx context.Context, idx tile.Index) ([]byte, bool, error) {
	return s.c.Get(ctx, keys.Redis(s.ns, idx))
}

func (s *Store) Put(ctx context.Context, idx tile.Index, b []byte) error {
	return s.c.Set(ctx, keys.Redis(s.ns, idx), b, s.ttl)
}

// GetMany fetches a batch of tiles in one round trip; missing tiles are
// absent from the result.
func (s *Store) GetMany(ctx context.Context, idxs []tile.Index) (map[tile.Index][]byte, error) {
	ks := make([]string, len(idxs))
	back := make(map[string]tile.Index, len(idxs))
	for i, idx := range idxs {
		ks[i] = keys.Redis(s.ns, idx)
		back[ks[i]] = idx
	}
	found, err := s.c.MGet(ctx, ks)
	if err != nil {
		return nil, err
	}
	out := make(map[tile.Index][]byte, len(found))
	for k, v := range found {
		out[back[k]] = v
	}
	return out, nil
}

// Close releases the underlying client.
func (s *Store) Close() error { return s.c.Close() }
