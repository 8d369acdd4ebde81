package reconciler

import (
	"context"
	"log"
	"time"

	"execution-core/internal/tracker"
	"execution-core/pkg/cache"
	"execution-core/pkg/db"
	"execution-core/pkg/exchanges/common"
)

// AdapterSource resolves the exchange adapter for one owner.
type AdapterSource interface {
	Adapter(ctx context.Context, ownerID, exchangeID, environment string) (common.Adapter, error)
}

// Store persists position snapshots between runs.
type Store interface {
	UpsertPosition(ctx context.Context, p *db.Position) error
}

// Reconciler periodically re-prices every tracked position and keeps
// the persisted snapshots current. Prices come from the websocket
// cache when fresh, falling back to a REST ticker per exchange.
type Reconciler struct {
	tracker  *tracker.Tracker
	store    Store
	prices   *cache.PriceCache
	adapters AdapterSource

	interval    time.Duration
	priceMaxAge time.Duration
}

// New builds a Reconciler. interval and priceMaxAge fall back to
// 30s and 10s when zero.
func New(tr *tracker.Tracker, store Store, prices *cache.PriceCache, adapters AdapterSource, interval, priceMaxAge time.Duration) *Reconciler {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if priceMaxAge <= 0 {
		priceMaxAge = 10 * time.Second
	}
	return &Reconciler{
		tracker:     tr,
		store:       store,
		prices:      prices,
		adapters:    adapters,
		interval:    interval,
		priceMaxAge: priceMaxAge,
	}
}

// Run loops until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	log.Printf("reconciler: started, interval=%s", r.interval)
	for {
		select {
		case <-ctx.Done():
			log.Printf("reconciler: stopped")
			return
		case <-ticker.C:
			r.RunOnce(ctx)
		}
	}
}

// RunOnce re-prices every tracked position. A failure on one position
// never blocks the others.
func (r *Reconciler) RunOnce(ctx context.Context) {
	for _, p := range r.tracker.ListAll() {
		if err := r.reprice(ctx, p); err != nil {
			log.Printf("reconciler: reprice %s %s %s: %v", p.OwnerID, p.ExchangeID, p.Symbol, err)
		}
	}
}

func (r *Reconciler) reprice(ctx context.Context, p *db.Position) error {
	price, err := r.lookupPrice(ctx, p)
	if err != nil {
		return err
	}

	pnlUSD := Unrealized(common.Side(p.Side), p.EntryPrice, price, p.Qty)
	pnlPct := 0.0
	if p.NotionalUSD > 0 {
		pnlPct = pnlUSD / p.NotionalUSD * 100
	}

	if !r.tracker.Reprice(p.OwnerID, p.ExchangeID, p.Symbol, price, pnlUSD, pnlPct) {
		// Position closed while we were pricing it.
		return nil
	}

	p.CurrentPrice = price
	p.UnrealizedPnLUSD = pnlUSD
	p.UnrealizedPnLPct = pnlPct
	return r.store.UpsertPosition(ctx, p)
}

func (r *Reconciler) lookupPrice(ctx context.Context, p *db.Position) (float64, error) {
	if price, ok := r.prices.GetFresh(p.Symbol, r.priceMaxAge); ok {
		return price, nil
	}
	adapter, err := r.adapters.Adapter(ctx, p.OwnerID, p.ExchangeID, string(common.EnvProduction))
	if err != nil {
		return 0, err
	}
	tick, err := adapter.GetTicker(ctx, p.Symbol)
	if err != nil {
		return 0, err
	}
	r.prices.Set(p.Symbol, tick.Last)
	return tick.Last, nil
}

// Unrealized returns the signed PnL in quote currency for a position
// of the given side. Short positions profit when price falls.
func Unrealized(side common.Side, entry, price, qty float64) float64 {
	if side == common.SideShort {
		return (entry - price) * qty
	}
	return (price - entry) * qty
}
