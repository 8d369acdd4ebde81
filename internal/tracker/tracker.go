package tracker

import (
	"sync"

	"execution-core/pkg/db"
)

// Tracker is the in-memory book of open positions, keyed by
// (owner, exchange, symbol). It is the authority consulted before
// any entry or close; the database rows are a restart snapshot only.
type Tracker struct {
	mu        sync.RWMutex
	positions map[string]*db.Position
}

// New returns an empty tracker.
func New() *Tracker {
	return &Tracker{positions: make(map[string]*db.Position)}
}

func key(ownerID, exchangeID, symbol string) string {
	return ownerID + "|" + exchangeID + "|" + symbol
}

// Load seeds the book from persisted snapshots at startup.
func (t *Tracker) Load(positions []*db.Position) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, p := range positions {
		t.positions[key(p.OwnerID, p.ExchangeID, p.Symbol)] = p
	}
}

// Has reports whether an open position exists for the tuple.
func (t *Tracker) Has(ownerID, exchangeID, symbol string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.positions[key(ownerID, exchangeID, symbol)]
	return ok
}

// Get returns a copy of the tracked position, or nil when absent.
// Returning a copy keeps callers from mutating the book without the
// lock.
func (t *Tracker) Get(ownerID, exchangeID, symbol string) *db.Position {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.positions[key(ownerID, exchangeID, symbol)]
	if !ok {
		return nil
	}
	cp := *p
	return &cp
}

// Add records a newly opened position. An existing entry for the same
// tuple is replaced; the executor's per-key serialization makes that
// a reversal, never a race.
func (t *Tracker) Add(p *db.Position) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cp := *p
	t.positions[key(p.OwnerID, p.ExchangeID, p.Symbol)] = &cp
}

// Remove drops the position and returns the removed copy, or nil when
// nothing was tracked. Removing an absent tuple is not an error.
func (t *Tracker) Remove(ownerID, exchangeID, symbol string) *db.Position {
	t.mu.Lock()
	defer t.mu.Unlock()
	k := key(ownerID, exchangeID, symbol)
	p, ok := t.positions[k]
	if !ok {
		return nil
	}
	delete(t.positions, k)
	cp := *p
	return &cp
}

// Reprice updates the mark price and unrealized PnL for one position.
// Returns false when the tuple is not tracked.
func (t *Tracker) Reprice(ownerID, exchangeID, symbol string, price, pnlUSD, pnlPct float64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.positions[key(ownerID, exchangeID, symbol)]
	if !ok {
		return false
	}
	p.CurrentPrice = price
	p.UnrealizedPnLUSD = pnlUSD
	p.UnrealizedPnLPct = pnlPct
	return true
}

// ListAll returns copies of every tracked position.
func (t *Tracker) ListAll() []*db.Position {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*db.Position, 0, len(t.positions))
	for _, p := range t.positions {
		cp := *p
		out = append(out, &cp)
	}
	return out
}

// ListByOwner returns copies of one owner's positions.
func (t *Tracker) ListByOwner(ownerID string) []*db.Position {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []*db.Position
	for _, p := range t.positions {
		if p.OwnerID == ownerID {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out
}

// Len reports how many positions are tracked.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.positions)
}
