// Package fetcher turns "give me tile X" into bytes by walking the memory tier,
// the persistent tier and finally the tile server. Concurrent requests for the
// same tile share one in-flight load.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/stenvall/tilecache/internal/cache/memory"
	"github.com/stenvall/tilecache/internal/cache/persistent"
	"github.com/stenvall/tilecache/internal/core/observability"
	"github.com/stenvall/tilecache/internal/source"
	"github.com/stenvall/tilecache/internal/tile"
)

const (
	DefaultMemoryMin    = 100
	DefaultMemoryMax    = 200
	DefaultMaxInFlight  = 8
	DefaultFetchTimeout = 30 * time.Second
)

// Tiers a result can come from.
const (
	TierMemory  = "memory"
	TierDisk    = "disk"
	TierNetwork = "network"
	TierShared  = "shared"
)

// Dispatcher runs fn in the caller's preferred execution context, e.g. a UI
// loop. Without one, callbacks run on the goroutine that completed the load.
type Dispatcher func(fn func())

type Config struct {
	MemoryMin    int
	MemoryMax    int
	MaxInFlight  int
	FetchTimeout time.Duration
	// Async selects GetTileAsync for Request.
	Async      bool
	Dispatcher Dispatcher
}

func (c Config) withDefaults() Config {
	if c.MemoryMax <= 0 {
		c.MemoryMax = DefaultMemoryMax
		if c.MemoryMin <= 0 || c.MemoryMin > c.MemoryMax {
			c.MemoryMin = DefaultMemoryMin
		}
	}
	if c.MemoryMin < 0 {
		c.MemoryMin = 0
	}
	if c.MaxInFlight <= 0 {
		c.MaxInFlight = DefaultMaxInFlight
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = DefaultFetchTimeout
	}
	return c
}

// Result is what a callback receives. Bytes is shared between all waiters of
// one load and must not be modified.
type Result struct {
	Index tile.Index
	Bytes []byte
	Tier  string
	Err   error
}

type Callback func(Result)

type Stats struct {
	Requests       int64
	MemoryHits     int64
	DiskHits       int64
	NetworkFetches int64
	SharedWaits    int64
	Failures       int64
	Evictions      int64
	MemoryEntries  int
}

type Fetcher struct {
	provider source.Provider
	store    persistent.Cache
	mem      *memory.Cache
	flights  singleflight.Group
	slots    *semaphore.Weighted
	cfg      Config
	log      *slog.Logger

	requests   atomic.Int64
	memHits    atomic.Int64
	diskHits   atomic.Int64
	netFetches atomic.Int64
	shared     atomic.Int64
	failures   atomic.Int64
}

// New wires a fetcher over provider and store. A nil store disables the
// persistent tier.
func New(provider source.Provider, store persistent.Cache, cfg Config, log *slog.Logger) (*Fetcher, error) {
	if provider == nil {
		return nil, errors.New("fetcher: tile provider is required")
	}
	if store == nil {
		store = persistent.Noop{}
	}
	if log == nil {
		log = slog.Default()
	}
	cfg = cfg.withDefaults()
	mem, err := memory.New(cfg.MemoryMin, cfg.MemoryMax)
	if err != nil {
		return nil, fmt.Errorf("fetcher: %w", err)
	}
	return &Fetcher{
		provider: provider,
		store:    store,
		mem:      mem,
		slots:    semaphore.NewWeighted(int64(cfg.MaxInFlight)),
		cfg:      cfg,
		log:      log.With("component", "fetcher"),
	}, nil
}

func (f *Fetcher) Config() Config { return f.cfg }

// GetTile blocks until the tile is available, the load fails, or ctx ends.
// Abandoning through ctx does not cancel the shared load.
func (f *Fetcher) GetTile(ctx context.Context, idx tile.Index) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if r, ok := f.fast(idx); ok {
		return r.Bytes, r.Err
	}
	ch, leader := f.join(idx)
	select {
	case sr := <-ch:
		r := f.settle(idx, sr, leader.Load())
		return r.Bytes, r.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// GetTileAsync never blocks. Memory hits and invalid indices are reported
// through cb before it returns; everything else is reported later.
func (f *Fetcher) GetTileAsync(ctx context.Context, idx tile.Index, cb Callback) {
	if cb == nil {
		cb = func(Result) {}
	}
	if err := ctx.Err(); err != nil {
		cb(Result{Index: idx, Err: err})
		return
	}
	if r, ok := f.fast(idx); ok {
		cb(r)
		return
	}
	ch, leader := f.join(idx)
	go func() {
		select {
		case sr := <-ch:
			f.deliver(cb, f.settle(idx, sr, leader.Load()))
		case <-ctx.Done():
			f.deliver(cb, Result{Index: idx, Err: ctx.Err()})
		}
	}()
}

// Request uses the shape selected by Config.Async. In sync mode cb runs on
// the calling goroutine before Request returns.
func (f *Fetcher) Request(ctx context.Context, idx tile.Index, cb Callback) {
	if f.cfg.Async {
		f.GetTileAsync(ctx, idx, cb)
		return
	}
	b, err := f.GetTile(ctx, idx)
	if cb != nil {
		cb(Result{Index: idx, Bytes: b, Err: err})
	}
}

// fast answers from memory or rejects an invalid index without I/O.
func (f *Fetcher) fast(idx tile.Index) (Result, bool) {
	if b, ok := f.mem.Get(idx); ok {
		f.requests.Add(1)
		f.memHits.Add(1)
		observability.IncTileRequest(TierMemory)
		return Result{Index: idx, Bytes: b, Tier: TierMemory}, true
	}
	if v, ok := f.provider.(source.Validator); ok {
		if err := v.Validate(idx); err != nil {
			f.requests.Add(1)
			f.failures.Add(1)
			observability.IncFetchError(errorKind(err))
			return Result{Index: idx, Err: err}, true
		}
	}
	return Result{}, false
}

func (f *Fetcher) join(idx tile.Index) (<-chan singleflight.Result, *atomic.Bool) {
	leader := new(atomic.Bool)
	ch := f.flights.DoChan(idx.String(), func() (any, error) {
		leader.Store(true)
		return f.load(idx)
	})
	return ch, leader
}

func (f *Fetcher) settle(idx tile.Index, sr singleflight.Result, leader bool) Result {
	f.requests.Add(1)
	if !leader {
		f.shared.Add(1)
		observability.IncSharedWait()
	}
	if sr.Err != nil {
		return Result{Index: idx, Err: sr.Err}
	}
	l := sr.Val.(loaded)
	tier := l.tier
	if !leader {
		tier = TierShared
	}
	observability.IncTileRequest(tier)
	return Result{Index: idx, Bytes: l.bytes, Tier: tier}
}

func (f *Fetcher) deliver(cb Callback, r Result) {
	if f.cfg.Dispatcher != nil {
		f.cfg.Dispatcher(func() { cb(r) })
		return
	}
	cb(r)
}

type loaded struct {
	bytes []byte
	tier  string
}

// load runs once per flight, detached from every caller's context.
func (f *Fetcher) load(idx tile.Index) (loaded, error) {
	ctx, cancel := context.WithTimeout(context.Background(), f.cfg.FetchTimeout)
	defer cancel()

	// a flight that finished between the caller's miss and this one
	if b, ok := f.mem.Peek(idx); ok {
		f.memHits.Add(1)
		return loaded{bytes: b, tier: TierMemory}, nil
	}

	b, ok, err := f.store.Get(ctx, idx)
	switch {
	case err != nil:
		f.log.Warn("persistent tile read failed; fetching from server", "tile", idx.String(), "err", err)
	case ok:
		f.diskHits.Add(1)
		f.mem.Add(idx, b)
		return loaded{bytes: b, tier: TierDisk}, nil
	}

	if err := f.slots.Acquire(ctx, 1); err != nil {
		f.failures.Add(1)
		observability.IncFetchError("timeout")
		return loaded{}, fmt.Errorf("%w: tile %s: waiting for a fetch slot: %w", tile.ErrNetwork, idx, err)
	}
	b, err = f.provider.Fetch(ctx, idx)
	f.slots.Release(1)
	if err != nil {
		f.failures.Add(1)
		observability.IncFetchError(errorKind(err))
		f.log.Debug("tile fetch failed", "tile", idx.String(), "err", err)
		return loaded{}, err
	}
	f.netFetches.Add(1)

	if err := f.store.Put(ctx, idx, b); err != nil {
		f.log.Warn("persistent tile write failed", "tile", idx.String(), "err", err)
	}
	f.mem.Add(idx, b)
	return loaded{bytes: b, tier: TierNetwork}, nil
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, tile.ErrOutOfRange):
		return "out_of_range"
	case errors.Is(err, tile.ErrNotFound):
		return "not_found"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, tile.ErrNetwork):
		return "network"
	default:
		return "other"
	}
}

func (f *Fetcher) Stats() Stats {
	return Stats{
		Requests:       f.requests.Load(),
		MemoryHits:     f.memHits.Load(),
		DiskHits:       f.diskHits.Load(),
		NetworkFetches: f.netFetches.Load(),
		SharedWaits:    f.shared.Load(),
		Failures:       f.failures.Load(),
		Evictions:      f.mem.Evicted(),
		MemoryEntries:  f.mem.Len(),
	}
}

// Len is the number of tiles held in memory.
func (f *Fetcher) Len() int { return f.mem.Len() }

// Purge drops the memory tier; the persistent tier is untouched.
func (f *Fetcher) Purge() { f.mem.Purge() }
