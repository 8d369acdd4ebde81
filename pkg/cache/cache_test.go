package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestPriceCacheSetGet(t *testing.T) {
	c := NewPriceCache()

	if _, ok := c.Get("BTC/USDT"); ok {
		t.Error("empty cache returned a price")
	}

	c.Set("BTC/USDT", 65000.5)
	c.Set("ETH/USDT", 3200)

	got, ok := c.Get("BTC/USDT")
	if !ok || got != 65000.5 {
		t.Errorf("Get = %v, %v", got, ok)
	}
	if c.Len() != 2 {
		t.Errorf("Len = %d, want 2", c.Len())
	}

	// Later writes win.
	c.Set("BTC/USDT", 65100)
	got, _ = c.Get("BTC/USDT")
	if got != 65100 {
		t.Errorf("updated price = %v", got)
	}
}

func TestPriceCacheFreshness(t *testing.T) {
	c := NewPriceCache()
	c.Set("SOL/USDT", 150)

	if _, ok := c.GetFresh("SOL/USDT", time.Minute); !ok {
		t.Error("just-written price reported stale")
	}
	time.Sleep(20 * time.Millisecond)
	if _, ok := c.GetFresh("SOL/USDT", 5*time.Millisecond); ok {
		t.Error("aged price reported fresh")
	}
	// Stale entries stay readable through Get.
	if _, ok := c.Get("SOL/USDT"); !ok {
		t.Error("stale price dropped from Get")
	}
}

func TestPriceCacheConcurrent(t *testing.T) {
	c := NewPriceCache()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			sym := fmt.Sprintf("SYM%d/USDT", n)
			for j := 0; j < 200; j++ {
				c.Set(sym, float64(j))
				c.Get(sym)
				c.GetFresh(sym, time.Second)
			}
		}(i)
	}
	wg.Wait()
	if c.Len() != 8 {
		t.Errorf("Len = %d, want 8", c.Len())
	}
}

func TestTTLExpiry(t *testing.T) {
	c := NewTTL[string](20 * time.Millisecond)
	c.Set("k", "v")

	if got, ok := c.Get("k"); !ok || got != "v" {
		t.Errorf("Get = %q, %v", got, ok)
	}
	time.Sleep(30 * time.Millisecond)
	if _, ok := c.Get("k"); ok {
		t.Error("expired entry still served")
	}
}

func TestTTLSetRefreshes(t *testing.T) {
	c := NewTTL[int](40 * time.Millisecond)
	c.Set("k", 1)
	time.Sleep(25 * time.Millisecond)
	c.Set("k", 2)
	time.Sleep(25 * time.Millisecond)
	if got, ok := c.Get("k"); !ok || got != 2 {
		t.Errorf("refreshed entry = %v, %v", got, ok)
	}
}

func TestTTLInvalidate(t *testing.T) {
	c := NewTTL[int](time.Minute)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Invalidate("a")
	if _, ok := c.Get("a"); ok {
		t.Error("invalidated entry still served")
	}
	if _, ok := c.Get("b"); !ok {
		t.Error("unrelated entry lost")
	}
}

func TestTTLPurge(t *testing.T) {
	c := NewTTL[int](15 * time.Millisecond)
	c.Set("old1", 1)
	c.Set("old2", 2)
	time.Sleep(25 * time.Millisecond)
	c.Set("live", 3)

	if removed := c.Purge(); removed != 2 {
		t.Errorf("Purge removed %d, want 2", removed)
	}
	if _, ok := c.Get("live"); !ok {
		t.Error("live entry purged")
	}
}
