package reconciler

import (
	"context"
	"errors"
	"testing"
	"time"

	"execution-core/internal/tracker"
	"execution-core/pkg/cache"
	"execution-core/pkg/db"
	"execution-core/pkg/exchanges/common"
)

type stubAdapter struct {
	tickers   map[string]float64
	tickerErr error
	positions []common.ExchangePosition
	posErr    error
}

func (s *stubAdapter) Capabilities() common.Capabilities { return common.Capabilities{} }
func (s *stubAdapter) GetBalance(context.Context) ([]common.AssetBalance, error) {
	return nil, nil
}
func (s *stubAdapter) GetAvailableMargin(context.Context) (float64, error) { return 0, nil }
func (s *stubAdapter) GetPositions(context.Context) ([]common.ExchangePosition, error) {
	return s.positions, s.posErr
}
func (s *stubAdapter) GetPosition(context.Context, string) (*common.ExchangePosition, error) {
	return nil, common.ErrNoPosition
}
func (s *stubAdapter) HasOpenPosition(context.Context, string) (bool, error) { return false, nil }
func (s *stubAdapter) GetTicker(_ context.Context, symbol string) (common.Ticker, error) {
	if s.tickerErr != nil {
		return common.Ticker{}, s.tickerErr
	}
	price, ok := s.tickers[symbol]
	if !ok {
		return common.Ticker{}, errors.New("unknown symbol")
	}
	return common.Ticker{Symbol: symbol, Last: price}, nil
}
func (s *stubAdapter) PlaceMarketOrder(context.Context, string, common.Side, float64) (common.OrderResult, error) {
	return common.OrderResult{}, nil
}
func (s *stubAdapter) PlaceLimitOrder(context.Context, string, common.Side, float64, float64) (common.OrderResult, error) {
	return common.OrderResult{}, nil
}
func (s *stubAdapter) PlaceStopLoss(context.Context, string, common.Side, float64, float64) (common.OrderResult, error) {
	return common.OrderResult{}, nil
}
func (s *stubAdapter) PlaceTakeProfit(context.Context, string, common.Side, float64, float64) (common.OrderResult, error) {
	return common.OrderResult{}, nil
}
func (s *stubAdapter) ClosePosition(context.Context, string, common.Side, float64) (common.OrderResult, error) {
	return common.OrderResult{}, nil
}
func (s *stubAdapter) CancelOrder(context.Context, string, string) error { return nil }
func (s *stubAdapter) GetOrder(context.Context, string, string) (common.OrderResult, error) {
	return common.OrderResult{}, common.ErrOrderNotFound
}

type stubSource struct {
	adapter common.Adapter
	err     error
	calls   int
}

func (s *stubSource) Adapter(context.Context, string, string, string) (common.Adapter, error) {
	s.calls++
	return s.adapter, s.err
}

type memStore struct {
	upserts []*db.Position
	deletes []string
}

func (m *memStore) UpsertPosition(_ context.Context, p *db.Position) error {
	cp := *p
	m.upserts = append(m.upserts, &cp)
	return nil
}

func (m *memStore) DeletePosition(_ context.Context, ownerID, exchangeID, symbol string) error {
	m.deletes = append(m.deletes, ownerID+"|"+exchangeID+"|"+symbol)
	return nil
}

func openPosition(symbol string, side common.Side, qty, entry, notional float64) *db.Position {
	return &db.Position{
		OwnerID:     "o1",
		ExchangeID:  "binance-futures",
		Symbol:      symbol,
		Side:        string(side),
		Qty:         qty,
		EntryPrice:  entry,
		EntryAt:     time.Now(),
		NotionalUSD: notional,
	}
}

func TestUnrealized(t *testing.T) {
	cases := []struct {
		name  string
		side  common.Side
		entry float64
		price float64
		qty   float64
		want  float64
	}{
		{"long gain", common.SideLong, 100, 110, 2, 20},
		{"long loss", common.SideLong, 100, 90, 2, -20},
		{"short gain", common.SideShort, 100, 90, 2, 20},
		{"short loss", common.SideShort, 100, 110, 2, -20},
		{"flat", common.SideLong, 100, 100, 5, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Unrealized(tc.side, tc.entry, tc.price, tc.qty); got != tc.want {
				t.Errorf("Unrealized = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestRunOnceUsesFreshCachePrice(t *testing.T) {
	tr := tracker.New()
	tr.Add(openPosition("BTC/USDT", common.SideLong, 0.02, 50000, 1000))

	prices := cache.NewPriceCache()
	prices.Set("BTC/USDT", 51000)

	store := &memStore{}
	source := &stubSource{adapter: &stubAdapter{}}
	r := New(tr, store, prices, source, time.Second, time.Minute)

	r.RunOnce(context.Background())

	if source.calls != 0 {
		t.Errorf("REST fallback used despite fresh cache price: %d calls", source.calls)
	}
	p := tr.Get("o1", "binance-futures", "BTC/USDT")
	if p.CurrentPrice != 51000 {
		t.Errorf("current price = %v", p.CurrentPrice)
	}
	if p.UnrealizedPnLUSD != 20 {
		t.Errorf("pnl = %v, want 20", p.UnrealizedPnLUSD)
	}
	if p.UnrealizedPnLPct != 2 {
		t.Errorf("pnl pct = %v, want 2", p.UnrealizedPnLPct)
	}
	if len(store.upserts) != 1 {
		t.Errorf("expected 1 snapshot upsert, got %d", len(store.upserts))
	}
}

func TestRunOnceFallsBackToREST(t *testing.T) {
	tr := tracker.New()
	tr.Add(openPosition("ETH/USDT", common.SideShort, 1, 3000, 3000))

	source := &stubSource{adapter: &stubAdapter{tickers: map[string]float64{"ETH/USDT": 2900}}}
	r := New(tr, &memStore{}, cache.NewPriceCache(), source, time.Second, time.Second)

	r.RunOnce(context.Background())

	if source.calls != 1 {
		t.Fatalf("expected 1 adapter resolution, got %d", source.calls)
	}
	p := tr.Get("o1", "binance-futures", "ETH/USDT")
	if p.UnrealizedPnLUSD != 100 {
		t.Errorf("short pnl = %v, want 100", p.UnrealizedPnLUSD)
	}
}

func TestRunOnceIsolatesFailures(t *testing.T) {
	tr := tracker.New()
	tr.Add(openPosition("BTC/USDT", common.SideLong, 1, 50000, 50000))
	tr.Add(openPosition("ETH/USDT", common.SideLong, 1, 3000, 3000))

	// Only ETH is priceable; BTC's lookup must fail without blocking it.
	prices := cache.NewPriceCache()
	prices.Set("ETH/USDT", 3300)
	source := &stubSource{err: errors.New("no credentials")}
	r := New(tr, &memStore{}, prices, source, time.Second, time.Minute)

	r.RunOnce(context.Background())

	if p := tr.Get("o1", "binance-futures", "ETH/USDT"); p.UnrealizedPnLUSD != 300 {
		t.Errorf("healthy position not repriced: %+v", p)
	}
	if p := tr.Get("o1", "binance-futures", "BTC/USDT"); p.CurrentPrice != 0 {
		t.Errorf("failed position should stay unpriced: %+v", p)
	}
}

func TestSyncDropsPositionsMissingOnExchange(t *testing.T) {
	tr := tracker.New()
	tr.Add(openPosition("BTC/USDT", common.SideLong, 0.5, 50000, 25000))

	source := &stubSource{adapter: &stubAdapter{}}
	store := &memStore{}
	r := New(tr, store, cache.NewPriceCache(), source, time.Second, time.Second)

	disc, err := r.Sync(context.Background(), "o1", "binance-futures", store)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if len(disc) != 1 || disc[0].Kind != "missing_on_exchange" {
		t.Fatalf("unexpected discrepancies: %+v", disc)
	}
	if tr.Has("o1", "binance-futures", "BTC/USDT") {
		t.Error("out-of-band close not dropped from book")
	}
	if len(store.deletes) != 1 {
		t.Errorf("snapshot not deleted: %v", store.deletes)
	}
}

func TestSyncAdoptsUntrackedPositions(t *testing.T) {
	tr := tracker.New()
	source := &stubSource{adapter: &stubAdapter{positions: []common.ExchangePosition{
		{Symbol: "SOL/USDT", Side: common.SideShort, Quantity: 10, EntryPrice: 150},
	}}}
	store := &memStore{}
	r := New(tr, store, cache.NewPriceCache(), source, time.Second, time.Second)

	disc, err := r.Sync(context.Background(), "o1", "binance-futures", store)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if len(disc) != 1 || disc[0].Kind != "untracked_on_exchange" {
		t.Fatalf("unexpected discrepancies: %+v", disc)
	}
	p := tr.Get("o1", "binance-futures", "SOL/USDT")
	if p == nil || p.Qty != 10 || p.Side != string(common.SideShort) {
		t.Errorf("venue position not adopted: %+v", p)
	}
}

func TestSyncAdoptsVenueQtyOnDrift(t *testing.T) {
	tr := tracker.New()
	tr.Add(openPosition("BTC/USDT", common.SideLong, 0.5, 50000, 25000))

	source := &stubSource{adapter: &stubAdapter{positions: []common.ExchangePosition{
		{Symbol: "BTC/USDT", Side: common.SideLong, Quantity: 0.3, EntryPrice: 50000},
	}}}
	r := New(tr, &memStore{}, cache.NewPriceCache(), source, time.Second, time.Second)

	disc, err := r.Sync(context.Background(), "o1", "binance-futures", nil)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if len(disc) != 1 || disc[0].Kind != "qty_mismatch" {
		t.Fatalf("unexpected discrepancies: %+v", disc)
	}
	if p := tr.Get("o1", "binance-futures", "BTC/USDT"); p.Qty != 0.3 {
		t.Errorf("venue qty not adopted: %+v", p)
	}
}
