package tracker

import (
	"sync"
	"testing"
	"time"

	"execution-core/pkg/db"
)

func pos(owner, exchange, symbol string) *db.Position {
	return &db.Position{
		OwnerID:    owner,
		ExchangeID: exchange,
		Symbol:     symbol,
		Side:       "LONG",
		Qty:        1,
		EntryPrice: 100,
		EntryAt:    time.Now(),
	}
}

func TestAddHasRemove(t *testing.T) {
	tr := New()

	tr.Add(pos("o1", "binance-futures", "BTC/USDT"))
	if !tr.Has("o1", "binance-futures", "BTC/USDT") {
		t.Fatal("position not tracked after Add")
	}
	if tr.Has("o2", "binance-futures", "BTC/USDT") {
		t.Error("owner isolation broken")
	}
	if tr.Has("o1", "backpack", "BTC/USDT") {
		t.Error("exchange isolation broken")
	}

	removed := tr.Remove("o1", "binance-futures", "BTC/USDT")
	if removed == nil || removed.Symbol != "BTC/USDT" {
		t.Fatalf("unexpected removed: %+v", removed)
	}
	if tr.Has("o1", "binance-futures", "BTC/USDT") {
		t.Error("position still tracked after Remove")
	}

	// Removing again is a no-op.
	if again := tr.Remove("o1", "binance-futures", "BTC/USDT"); again != nil {
		t.Errorf("second remove returned %+v", again)
	}
}

func TestGetReturnsCopy(t *testing.T) {
	tr := New()
	tr.Add(pos("o1", "kite", "RELIANCE/INR"))

	got := tr.Get("o1", "kite", "RELIANCE/INR")
	got.Qty = 999

	if tr.Get("o1", "kite", "RELIANCE/INR").Qty == 999 {
		t.Error("Get leaked a mutable reference into the book")
	}
}

func TestReprice(t *testing.T) {
	tr := New()
	tr.Add(pos("o1", "capital", "GOLD/USD"))

	if !tr.Reprice("o1", "capital", "GOLD/USD", 110, 10, 10) {
		t.Fatal("reprice reported missing position")
	}
	p := tr.Get("o1", "capital", "GOLD/USD")
	if p.CurrentPrice != 110 || p.UnrealizedPnLUSD != 10 {
		t.Errorf("reprice not applied: %+v", p)
	}

	if tr.Reprice("o1", "capital", "SILVER/USD", 25, 0, 0) {
		t.Error("reprice of untracked tuple reported success")
	}
}

func TestLoadAndList(t *testing.T) {
	tr := New()
	tr.Load([]*db.Position{
		pos("o1", "binance-futures", "BTC/USDT"),
		pos("o1", "binance-futures", "ETH/USDT"),
		pos("o2", "backpack", "SOL/USDC"),
	})

	if tr.Len() != 3 {
		t.Fatalf("expected 3 positions, got %d", tr.Len())
	}
	if got := len(tr.ListByOwner("o1")); got != 2 {
		t.Errorf("expected 2 positions for o1, got %d", got)
	}
	if got := len(tr.ListAll()); got != 3 {
		t.Errorf("expected 3 positions total, got %d", got)
	}
}

func TestConcurrentAccess(t *testing.T) {
	tr := New()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				tr.Add(pos("o1", "binance-futures", "BTC/USDT"))
				tr.Has("o1", "binance-futures", "BTC/USDT")
				tr.Reprice("o1", "binance-futures", "BTC/USDT", 101, 1, 1)
				tr.ListAll()
				tr.Remove("o1", "binance-futures", "BTC/USDT")
			}
		}()
	}
	wg.Wait()
}
