package filestore

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stenvall/tilecache/internal/tile"
)

func TestNew_RequiresRootAndNamespace(t *testing.T) {
	if _, err := New("", "ns", "png"); err == nil {
		t.Fatalf("expected error for empty root")
	}
	if _, err := New(t.TempDir(), "", "png"); err == nil {
		t.Fatalf("expected error for empty namespace")
	}
}

func TestPutGet_RoundTripAndLayout(t *testing.T) {
	root := t.TempDir()
	s, err := New(root, "osm-abc", "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()
	idx := tile.Index{Col: 3, Row: 2, Level: 10}

	if _, ok, err := s.Get(ctx, idx); err != nil || ok {
		t.Fatalf("expected clean miss, ok=%v err=%v", ok, err)
	}
	if err := s.Put(ctx, idx, []byte("png-bytes")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, ok, err := s.Get(ctx, idx)
	if err != nil || !ok || string(got) != "png-bytes" {
		t.Fatalf("Get=%q ok=%v err=%v", got, ok, err)
	}

	want := filepath.Join(root, "osm-abc", "10", "3", "2.png")
	if _, err := os.Stat(want); err != nil {
		t.Fatalf("tile not at %s: %v", want, err)
	}
}

func TestPut_IdempotentOverwrite(t *testing.T) {
	s, _ := New(t.TempDir(), "ns", "png")
	ctx := context.Background()
	idx := tile.Index{Col: 1, Row: 1, Level: 1}
	for range 3 {
		if err := s.Put(ctx, idx, []byte("same")); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}
	got, _, _ := s.Get(ctx, idx)
	if string(got) != "same" {
		t.Fatalf("got %q", got)
	}
	entries, _ := os.ReadDir(filepath.Dir(s.path(idx)))
	if len(entries) != 1 {
		t.Fatalf("expected exactly one file (no temp leftovers), got %d", len(entries))
	}
}

func TestPut_ConcurrentDistinctKeys(t *testing.T) {
	s, _ := New(t.TempDir(), "ns", "png")
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := range 32 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			idx := tile.Index{Col: i % 8, Row: i / 8, Level: 5}
			if err := s.Put(ctx, idx, []byte{byte(i)}); err != nil {
				t.Errorf("Put %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	for i := range 32 {
		idx := tile.Index{Col: i % 8, Row: i / 8, Level: 5}
		got, ok, err := s.Get(ctx, idx)
		if err != nil || !ok || len(got) != 1 || got[0] != byte(i) {
			t.Fatalf("tile %d: got=%v ok=%v err=%v", i, got, ok, err)
		}
	}
}

func TestGet_CanceledContext(t *testing.T) {
	s, _ := New(t.TempDir(), "ns", "png")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, _, err := s.Get(ctx, tile.Index{}); err == nil {
		t.Fatalf("expected context error")
	}
}

func TestNamespacesDoNotCollide(t *testing.T) {
	root := t.TempDir()
	a, _ := New(root, "a", "png")
	b, _ := New(root, "b", "png")
	ctx := context.Background()
	idx := tile.Index{Col: 0, Row: 0, Level: 0}

	_ = a.Put(ctx, idx, []byte("A"))
	if _, ok, _ := b.Get(ctx, idx); ok {
		t.Fatalf("namespace b must not see namespace a's tile")
	}
}
