package fetcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stenvall/tilecache/internal/logger"
	"github.com/stenvall/tilecache/internal/tile"
)

// fakeProvider serves "tile-<index>" and counts calls. When gate is set, each
// fetch blocks until gate is closed or the fetch context ends.
type fakeProvider struct {
	calls    atomic.Int32
	gate     chan struct{}
	maxLevel int
	fail     func(call int32) error
}

func (p *fakeProvider) Validate(idx tile.Index) error {
	if p.maxLevel > 0 && idx.Level > p.maxLevel {
		return fmt.Errorf("%w: level %d", tile.ErrOutOfRange, idx.Level)
	}
	return nil
}

func (p *fakeProvider) Fetch(ctx context.Context, idx tile.Index) ([]byte, error) {
	n := p.calls.Add(1)
	if p.gate != nil {
		select {
		case <-p.gate:
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %w", tile.ErrNetwork, ctx.Err())
		}
	}
	if p.fail != nil {
		if err := p.fail(n); err != nil {
			return nil, err
		}
	}
	return []byte("tile-" + idx.String()), nil
}

type fakeStore struct {
	mu     sync.Mutex
	m      map[tile.Index][]byte
	gets   atomic.Int32
	puts   atomic.Int32
	putErr error
	getErr error
}

func newStore() *fakeStore { return &fakeStore{m: map[tile.Index][]byte{}} }

func (s *fakeStore) Get(_ context.Context, idx tile.Index) ([]byte, bool, error) {
	s.gets.Add(1)
	if s.getErr != nil {
		return nil, false, s.getErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.m[idx]
	return b, ok, nil
}

func (s *fakeStore) Put(_ context.Context, idx tile.Index, b []byte) error {
	s.puts.Add(1)
	if s.putErr != nil {
		return s.putErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[idx] = b
	return nil
}

func (s *fakeStore) Close() error { return nil }

func newFetcher(t *testing.T, p *fakeProvider, s *fakeStore, cfg Config) *Fetcher {
	t.Helper()
	f, err := New(p, s, cfg, logger.Discard())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return f
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met before deadline")
		}
		time.Sleep(time.Millisecond)
	}
}

var idx0 = tile.Index{Col: 3, Row: 2, Level: 10}

func TestNew_RequiresProvider(t *testing.T) {
	if _, err := New(nil, nil, Config{}, nil); err == nil {
		t.Fatalf("expected error without provider")
	}
}

func TestConfig_Defaults(t *testing.T) {
	f := newFetcher(t, &fakeProvider{}, nil, Config{})
	c := f.Config()
	if c.MemoryMin != DefaultMemoryMin || c.MemoryMax != DefaultMemoryMax ||
		c.MaxInFlight != DefaultMaxInFlight || c.FetchTimeout != DefaultFetchTimeout {
		t.Fatalf("unexpected defaults: %+v", c)
	}
	if _, err := New(&fakeProvider{}, nil, Config{MemoryMin: 11, MemoryMax: 10}, nil); err == nil {
		t.Fatalf("expected error for min > max")
	}
}

func TestGetTile_ConcurrentCallersShareOneFetch(t *testing.T) {
	p := &fakeProvider{gate: make(chan struct{})}
	s := newStore()
	f := newFetcher(t, p, s, Config{})

	const n = 20
	results := make([][]byte, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.GetTile(context.Background(), idx0)
		}(i)
	}

	waitFor(t, func() bool { return p.calls.Load() == 1 })
	time.Sleep(20 * time.Millisecond)
	close(p.gate)
	wg.Wait()

	if got := p.calls.Load(); got != 1 {
		t.Fatalf("network fetches=%d want 1", got)
	}
	for i := range n {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if !bytes.Equal(results[i], results[0]) {
			t.Fatalf("caller %d got %q want %q", i, results[i], results[0])
		}
	}
	if s.puts.Load() != 1 {
		t.Fatalf("persistent puts=%d want 1", s.puts.Load())
	}
	st := f.Stats()
	if st.Requests != n || st.NetworkFetches != 1 {
		t.Fatalf("unexpected stats: %+v", st)
	}
}

func TestGetTile_MemoryHitTouchesNeitherDiskNorNetwork(t *testing.T) {
	p := &fakeProvider{}
	s := newStore()
	f := newFetcher(t, p, s, Config{})
	ctx := context.Background()

	first, err := f.GetTile(ctx, idx0)
	if err != nil {
		t.Fatalf("GetTile: %v", err)
	}
	gets, calls := s.gets.Load(), p.calls.Load()

	second, err := f.GetTile(ctx, idx0)
	if err != nil {
		t.Fatalf("GetTile: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Fatalf("bytes differ: %q vs %q", first, second)
	}
	if s.gets.Load() != gets || p.calls.Load() != calls {
		t.Fatalf("memory hit reached disk (%d->%d) or network (%d->%d)",
			gets, s.gets.Load(), calls, p.calls.Load())
	}
	if f.Stats().MemoryHits != 1 {
		t.Fatalf("memory hits=%d want 1", f.Stats().MemoryHits)
	}
}

func TestGetTile_JustFetchedServedFromMemoryWithZeroMin(t *testing.T) {
	p := &fakeProvider{}
	s := newStore()
	f := newFetcher(t, p, s, Config{MemoryMin: 0, MemoryMax: 2})
	ctx := context.Background()

	for col := range 3 {
		if _, err := f.GetTile(ctx, tile.Index{Col: col, Row: 0, Level: 4}); err != nil {
			t.Fatalf("GetTile col %d: %v", col, err)
		}
	}
	gets, calls := s.gets.Load(), p.calls.Load()
	if _, err := f.GetTile(ctx, tile.Index{Col: 2, Row: 0, Level: 4}); err != nil {
		t.Fatalf("GetTile: %v", err)
	}
	if s.gets.Load() != gets || p.calls.Load() != calls {
		t.Fatalf("last fetched tile left memory: disk %d->%d network %d->%d",
			gets, s.gets.Load(), calls, p.calls.Load())
	}
}

func TestGetTile_FailureCachesNothingAndRetries(t *testing.T) {
	p := &fakeProvider{fail: func(call int32) error {
		if call == 1 {
			return fmt.Errorf("%w: connection reset", tile.ErrNetwork)
		}
		return nil
	}}
	s := newStore()
	f := newFetcher(t, p, s, Config{})
	ctx := context.Background()

	if _, err := f.GetTile(ctx, idx0); !errors.Is(err, tile.ErrNetwork) {
		t.Fatalf("err=%v want network error", err)
	}
	if f.Len() != 0 || s.puts.Load() != 0 {
		t.Fatalf("failed fetch was cached: mem=%d puts=%d", f.Len(), s.puts.Load())
	}

	b, err := f.GetTile(ctx, idx0)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if string(b) != "tile-10/3/2" || p.calls.Load() != 2 {
		t.Fatalf("b=%q calls=%d", b, p.calls.Load())
	}
	if f.Stats().Failures != 1 {
		t.Fatalf("failures=%d want 1", f.Stats().Failures)
	}
}

func TestGetTile_AllWaitersSeeTheSameFailure(t *testing.T) {
	boom := fmt.Errorf("%w: upstream 503", tile.ErrNetwork)
	p := &fakeProvider{gate: make(chan struct{}), fail: func(int32) error { return boom }}
	f := newFetcher(t, p, newStore(), Config{})

	const n = 8
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.GetTile(context.Background(), idx0)
		}(i)
	}
	waitFor(t, func() bool { return p.calls.Load() >= 1 })
	time.Sleep(20 * time.Millisecond)
	close(p.gate)
	wg.Wait()

	for i, err := range errs {
		if !errors.Is(err, tile.ErrNetwork) {
			t.Fatalf("waiter %d: err=%v", i, err)
		}
	}
	if f.Len() != 0 {
		t.Fatalf("failure populated memory")
	}
}

func TestGetTile_DiskHitIsPromoted(t *testing.T) {
	p := &fakeProvider{}
	s := newStore()
	s.m[idx0] = []byte("from-disk")
	f := newFetcher(t, p, s, Config{})
	ctx := context.Background()

	b, err := f.GetTile(ctx, idx0)
	if err != nil || string(b) != "from-disk" {
		t.Fatalf("b=%q err=%v", b, err)
	}
	if p.calls.Load() != 0 {
		t.Fatalf("disk hit went to network")
	}
	if f.Len() != 1 {
		t.Fatalf("disk hit not promoted, len=%d", f.Len())
	}

	_, _ = f.GetTile(ctx, idx0)
	if s.gets.Load() != 1 {
		t.Fatalf("second call should be a memory hit, disk gets=%d", s.gets.Load())
	}
	st := f.Stats()
	if st.DiskHits != 1 || st.MemoryHits != 1 {
		t.Fatalf("unexpected stats: %+v", st)
	}
}

func TestGetTile_PersistentErrorsAreNotFatal(t *testing.T) {
	p := &fakeProvider{}
	s := newStore()
	s.getErr = errors.New("disk unreadable")
	s.putErr = errors.New("disk full")
	f := newFetcher(t, p, s, Config{})

	b, err := f.GetTile(context.Background(), idx0)
	if err != nil || len(b) == 0 {
		t.Fatalf("b=%q err=%v", b, err)
	}
	if f.Len() != 1 {
		t.Fatalf("network result not kept in memory")
	}
}

func TestGetTile_OutOfRangeFailsWithoutIO(t *testing.T) {
	p := &fakeProvider{maxLevel: 18}
	s := newStore()
	f := newFetcher(t, p, s, Config{})

	_, err := f.GetTile(context.Background(), tile.Index{Col: 3, Row: 2, Level: 20})
	if !errors.Is(err, tile.ErrOutOfRange) {
		t.Fatalf("err=%v want out of range", err)
	}
	if p.calls.Load() != 0 || s.gets.Load() != 0 {
		t.Fatalf("out of range touched network=%d disk=%d", p.calls.Load(), s.gets.Load())
	}
}

func TestGetTile_FetchTimeout(t *testing.T) {
	p := &fakeProvider{gate: make(chan struct{})}
	defer close(p.gate)
	f := newFetcher(t, p, newStore(), Config{FetchTimeout: 50 * time.Millisecond})

	_, err := f.GetTile(context.Background(), idx0)
	if !errors.Is(err, context.DeadlineExceeded) || !tile.IsTransient(err) {
		t.Fatalf("err=%v want transient deadline error", err)
	}
}

func TestGetTile_CallerCancelDoesNotCancelLoad(t *testing.T) {
	p := &fakeProvider{gate: make(chan struct{})}
	f := newFetcher(t, p, newStore(), Config{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := f.GetTile(ctx, idx0)
		done <- err
	}()
	waitFor(t, func() bool { return p.calls.Load() == 1 })
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v want canceled", err)
	}

	close(p.gate)
	waitFor(t, func() bool { return f.Len() == 1 })
	if _, err := f.GetTile(context.Background(), idx0); err != nil {
		t.Fatalf("GetTile after orphaned load: %v", err)
	}
	if p.calls.Load() != 1 {
		t.Fatalf("orphaned load should have populated the cache; calls=%d", p.calls.Load())
	}
}

func TestGetTileAsync_MemoryHitIsInline(t *testing.T) {
	f := newFetcher(t, &fakeProvider{}, newStore(), Config{Async: true})
	if _, err := f.GetTile(context.Background(), idx0); err != nil {
		t.Fatalf("warm: %v", err)
	}

	var got Result
	called := false
	f.GetTileAsync(context.Background(), idx0, func(r Result) {
		called = true
		got = r
	})
	if !called {
		t.Fatalf("memory hit callback did not run inline")
	}
	if got.Err != nil || got.Tier != TierMemory || string(got.Bytes) != "tile-10/3/2" {
		t.Fatalf("unexpected result: %+v", got)
	}
}

func TestGetTileAsync_OutOfRangeIsInline(t *testing.T) {
	p := &fakeProvider{maxLevel: 18}
	f := newFetcher(t, p, newStore(), Config{Async: true})

	var got error
	f.GetTileAsync(context.Background(), tile.Index{Level: 19}, func(r Result) { got = r.Err })
	if !errors.Is(got, tile.ErrOutOfRange) {
		t.Fatalf("err=%v want out of range delivered inline", got)
	}
}

func TestGetTileAsync_AbandonDoesNotAffectOtherWaiters(t *testing.T) {
	p := &fakeProvider{gate: make(chan struct{})}
	f := newFetcher(t, p, newStore(), Config{Async: true})

	ctxA, cancelA := context.WithCancel(context.Background())
	resA := make(chan Result, 1)
	resB := make(chan Result, 1)

	f.GetTileAsync(ctxA, idx0, func(r Result) { resA <- r })
	f.GetTileAsync(context.Background(), idx0, func(r Result) { resB <- r })

	waitFor(t, func() bool { return p.calls.Load() == 1 })
	cancelA()

	select {
	case r := <-resA:
		if !errors.Is(r.Err, context.Canceled) {
			t.Fatalf("abandoned waiter err=%v", r.Err)
		}
	case <-time.After(time.Second):
		t.Fatalf("abandoned waiter never notified")
	}

	close(p.gate)
	select {
	case r := <-resB:
		if r.Err != nil || string(r.Bytes) != "tile-10/3/2" {
			t.Fatalf("remaining waiter got %+v", r)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("remaining waiter never notified")
	}
	if p.calls.Load() != 1 {
		t.Fatalf("calls=%d want 1", p.calls.Load())
	}
}

func TestRequest_SyncRunsCallbackBeforeReturn(t *testing.T) {
	f := newFetcher(t, &fakeProvider{}, newStore(), Config{})
	var got Result
	f.Request(context.Background(), idx0, func(r Result) { got = r })
	if got.Err != nil || string(got.Bytes) != "tile-10/3/2" {
		t.Fatalf("unexpected result: %+v", got)
	}
}

func TestRequest_AsyncUsesDispatcher(t *testing.T) {
	var dispatched atomic.Int32
	disp := func(fn func()) {
		dispatched.Add(1)
		fn()
	}
	f := newFetcher(t, &fakeProvider{}, newStore(), Config{Async: true, Dispatcher: disp})

	res := make(chan Result, 1)
	f.Request(context.Background(), idx0, func(r Result) { res <- r })
	select {
	case r := <-res:
		if r.Err != nil || r.Tier != TierNetwork {
			t.Fatalf("unexpected result: %+v", r)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("callback never ran")
	}
	if dispatched.Load() != 1 {
		t.Fatalf("dispatcher used %d times want 1", dispatched.Load())
	}
}

func TestMemoryTier_HysteresisThroughFetcher(t *testing.T) {
	f := newFetcher(t, &fakeProvider{}, newStore(), Config{MemoryMin: 5, MemoryMax: 10})
	ctx := context.Background()
	for i := range 12 {
		if _, err := f.GetTile(ctx, tile.Index{Col: i, Row: 0, Level: 18}); err != nil {
			t.Fatalf("GetTile %d: %v", i, err)
		}
		if f.Len() > 10 {
			t.Fatalf("memory tier grew to %d", f.Len())
		}
	}
	if f.Len() != 6 {
		t.Fatalf("len=%d want 6 (trimmed to 5 on the 11th insert, then one more)", f.Len())
	}
	if f.Stats().Evictions != 6 {
		t.Fatalf("evictions=%d want 6", f.Stats().Evictions)
	}

	f.Purge()
	if f.Len() != 0 {
		t.Fatalf("purge left %d entries", f.Len())
	}
}
