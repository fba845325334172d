package cache

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (f *fakeClock) now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeClock) advance(d time.Duration) {
	f.mu.Lock()
	f.t = f.t.Add(d)
	f.mu.Unlock()
}

func newTestCache() (*Cache[string, int], *fakeClock) {
	clk := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := New[string, int]()
	c.now = clk.now
	return c, clk
}

func TestGetSetExpiry(t *testing.T) {
	c, clk := newTestCache()

	if _, ok := c.Get("a"); ok {
		t.Fatal("empty cache returned a value")
	}
	c.Set("a", 1, time.Minute)
	if v, ok := c.Get("a"); !ok || v != 1 {
		t.Fatalf("Get = %d, %v", v, ok)
	}

	clk.advance(59 * time.Second)
	if _, ok := c.Get("a"); !ok {
		t.Error("entry expired early")
	}
	clk.advance(time.Second)
	if _, ok := c.Get("a"); ok {
		t.Error("entry alive at ttl")
	}
}

func TestDelete(t *testing.T) {
	c, _ := newTestCache()
	c.Set("a", 1, time.Minute)
	c.Delete("a")
	if _, ok := c.Get("a"); ok {
		t.Error("deleted entry still present")
	}
	c.Delete("missing")
}

func TestGetOrSet_LoadsOnceWithinTTL(t *testing.T) {
	c, clk := newTestCache()
	var calls atomic.Int32
	load := func() (int, error) {
		calls.Add(1)
		return 42, nil
	}

	for range 5 {
		v, err := c.GetOrSet("k", time.Minute, load)
		if err != nil || v != 42 {
			t.Fatalf("GetOrSet = %d, %v", v, err)
		}
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("loader called %d times, want 1", n)
	}

	clk.advance(time.Minute)
	c.GetOrSet("k", time.Minute, load)
	if n := calls.Load(); n != 2 {
		t.Errorf("loader called %d times after expiry, want 2", n)
	}
}

func TestGetOrSet_ErrorNotCached(t *testing.T) {
	c, _ := newTestCache()
	boom := errors.New("boom")
	var calls int

	for range 2 {
		_, err := c.GetOrSet("k", time.Minute, func() (int, error) {
			calls++
			return 0, boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("err = %v", err)
		}
	}
	if calls != 2 {
		t.Errorf("loader called %d times, want 2", calls)
	}
	if c.Len() != 0 {
		t.Errorf("Len = %d, error must not be cached", c.Len())
	}
}

func TestSweep(t *testing.T) {
	c, clk := newTestCache()
	c.Set("short", 1, time.Second)
	c.Set("long", 2, time.Hour)

	clk.advance(time.Minute)
	if n := c.Sweep(); n != 1 {
		t.Errorf("Sweep removed %d, want 1", n)
	}
	if c.Len() != 1 {
		t.Errorf("Len = %d, want 1", c.Len())
	}
	if _, ok := c.Get("long"); !ok {
		t.Error("live entry swept")
	}
}

func TestConcurrentAccess(t *testing.T) {
	c := New[int, int]()
	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range 100 {
				c.Set(j, i, time.Minute)
				c.Get(j)
				c.Sweep()
			}
		}()
	}
	wg.Wait()
	if c.Len() != 100 {
		t.Errorf("Len = %d, want 100", c.Len())
	}
}
