package memory

import (
	"testing"

	"github.com/stenvall/tilecache/internal/tile"
)

func idx(i int) tile.Index { return tile.Index{Col: i, Row: 0, Level: 18} }

func TestNew_Validation(t *testing.T) {
	if _, err := New(0, 0); err == nil {
		t.Fatalf("expected error for max=0")
	}
	if _, err := New(6, 5); err == nil {
		t.Fatalf("expected error for min>max")
	}
	if _, err := New(-1, 5); err == nil {
		t.Fatalf("expected error for negative min")
	}
	if _, err := New(5, 5); err != nil {
		t.Fatalf("min==max must be allowed: %v", err)
	}
}

func TestAdd_NoEvictionUpToMax(t *testing.T) {
	c, _ := New(5, 10)
	for i := range 10 {
		if n := c.Add(idx(i), []byte{byte(i)}); n != 0 {
			t.Fatalf("unexpected eviction of %d at insert %d", n, i)
		}
	}
	if c.Len() != 10 {
		t.Fatalf("len=%d want 10", c.Len())
	}
}

func TestAdd_HysteresisTrimsToMin(t *testing.T) {
	c, _ := New(5, 10)
	for i := range 10 {
		c.Add(idx(i), []byte{byte(i)})
	}
	if n := c.Add(idx(10), []byte{10}); n != 6 {
		t.Fatalf("evicted=%d want 6", n)
	}
	if c.Len() != 5 {
		t.Fatalf("len=%d want 5", c.Len())
	}
	// oldest six gone, newest five kept
	for i := range 6 {
		if c.Contains(idx(i)) {
			t.Fatalf("entry %d should have been evicted", i)
		}
	}
	for i := 6; i <= 10; i++ {
		if !c.Contains(idx(i)) {
			t.Fatalf("entry %d should have survived", i)
		}
	}
	if c.Evicted() != 6 {
		t.Fatalf("Evicted()=%d want 6", c.Evicted())
	}
}

func TestAdd_RecentlyAccessedSurvives(t *testing.T) {
	c, _ := New(9, 10)
	for i := range 10 {
		c.Add(idx(i), []byte{byte(i)})
	}
	// touch the oldest entry right before pressure
	if _, ok := c.Get(idx(0)); !ok {
		t.Fatalf("expected hit for entry 0")
	}
	c.Add(idx(10), []byte{10})

	if !c.Contains(idx(0)) {
		t.Fatalf("recently accessed entry 0 was evicted")
	}
	if c.Contains(idx(1)) || c.Contains(idx(2)) {
		t.Fatalf("least recently used entries 1 and 2 should have been evicted")
	}
	if c.Len() != 9 {
		t.Fatalf("len=%d want 9", c.Len())
	}
}

func TestPeek_DoesNotRefresh(t *testing.T) {
	c, _ := New(1, 2)
	c.Add(idx(0), []byte{0})
	c.Add(idx(1), []byte{1})
	if _, ok := c.Peek(idx(0)); !ok {
		t.Fatalf("expected peek hit")
	}
	c.Add(idx(2), []byte{2})
	if c.Contains(idx(0)) {
		t.Fatalf("peek must not refresh recency")
	}
}

func TestAdd_OverwriteKeepsSize(t *testing.T) {
	c, _ := New(1, 2)
	c.Add(idx(0), []byte("a"))
	c.Add(idx(0), []byte("b"))
	if c.Len() != 1 {
		t.Fatalf("len=%d want 1", c.Len())
	}
	if b, _ := c.Get(idx(0)); string(b) != "b" {
		t.Fatalf("value=%q want b", b)
	}
}

func TestPurge(t *testing.T) {
	c, _ := New(1, 4)
	c.Add(idx(0), nil)
	c.Add(idx(1), nil)
	c.Purge()
	if c.Len() != 0 {
		t.Fatalf("len=%d after purge", c.Len())
	}
}

func TestAdd_ZeroMinKeepsNewestEntry(t *testing.T) {
	c, _ := New(0, 2)
	c.Add(idx(0), []byte{0})
	c.Add(idx(1), []byte{1})
	if n := c.Add(idx(2), []byte{2}); n != 2 {
		t.Fatalf("evicted=%d want 2", n)
	}
	if c.Len() != 1 {
		t.Fatalf("len=%d want 1", c.Len())
	}
	if b, ok := c.Get(idx(2)); !ok || b[0] != 2 {
		t.Fatalf("newest entry must survive the trim")
	}
}
