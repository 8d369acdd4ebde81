package reconciler

import (
	"context"
	"fmt"
	"log"
	"math"
	"time"

	"execution-core/pkg/db"
	"execution-core/pkg/exchanges/common"
)

// qtyTolerance absorbs venue rounding when comparing tracked and
// exchange-reported quantities.
const qtyTolerance = 1e-9

// Discrepancy describes one disagreement between the local book and
// an exchange.
type Discrepancy struct {
	OwnerID    string
	ExchangeID string
	Symbol     string
	Kind       string // "missing_on_exchange", "untracked_on_exchange", "qty_mismatch"
	TrackedQty float64
	VenueQty   float64
}

// PositionDeleter removes persisted snapshots for positions the
// exchange no longer reports.
type PositionDeleter interface {
	DeletePosition(ctx context.Context, ownerID, exchangeID, symbol string) error
}

// Sync compares one owner's tracked positions on one exchange against
// what the venue reports. Positions the venue no longer holds are
// dropped from the book (they were closed out-of-band, by a stop fill
// or manual action); venue positions we never tracked are adopted.
// The returned discrepancies describe every adjustment made.
func (r *Reconciler) Sync(ctx context.Context, ownerID, exchangeID string, deleter PositionDeleter) ([]Discrepancy, error) {
	adapter, err := r.adapters.Adapter(ctx, ownerID, exchangeID, string(common.EnvProduction))
	if err != nil {
		return nil, fmt.Errorf("resolve adapter: %w", err)
	}
	venuePositions, err := adapter.GetPositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch positions: %w", err)
	}

	venueBySymbol := make(map[string]common.ExchangePosition, len(venuePositions))
	for _, vp := range venuePositions {
		venueBySymbol[vp.Symbol] = vp
	}

	var out []Discrepancy

	for _, p := range r.tracker.ListByOwner(ownerID) {
		if p.ExchangeID != exchangeID {
			continue
		}
		vp, ok := venueBySymbol[p.Symbol]
		if !ok {
			out = append(out, Discrepancy{
				OwnerID: ownerID, ExchangeID: exchangeID, Symbol: p.Symbol,
				Kind: "missing_on_exchange", TrackedQty: p.Qty,
			})
			log.Printf("reconciler: %s %s closed out-of-band on %s, dropping from book", ownerID, p.Symbol, exchangeID)
			r.tracker.Remove(ownerID, exchangeID, p.Symbol)
			if deleter != nil {
				if err := deleter.DeletePosition(ctx, ownerID, exchangeID, p.Symbol); err != nil {
					log.Printf("reconciler: delete snapshot %s %s: %v", ownerID, p.Symbol, err)
				}
			}
			continue
		}
		delete(venueBySymbol, p.Symbol)
		if math.Abs(vp.Quantity-p.Qty) > qtyTolerance {
			out = append(out, Discrepancy{
				OwnerID: ownerID, ExchangeID: exchangeID, Symbol: p.Symbol,
				Kind: "qty_mismatch", TrackedQty: p.Qty, VenueQty: vp.Quantity,
			})
			log.Printf("reconciler: %s %s qty drift on %s: tracked=%v venue=%v, adopting venue qty",
				ownerID, p.Symbol, exchangeID, p.Qty, vp.Quantity)
			p.Qty = vp.Quantity
			r.tracker.Add(p)
			if err := r.store.UpsertPosition(ctx, p); err != nil {
				log.Printf("reconciler: persist qty drift %s %s: %v", ownerID, p.Symbol, err)
			}
		}
	}

	// Whatever is left on the venue has no tracked counterpart.
	for symbol, vp := range venueBySymbol {
		out = append(out, Discrepancy{
			OwnerID: ownerID, ExchangeID: exchangeID, Symbol: symbol,
			Kind: "untracked_on_exchange", VenueQty: vp.Quantity,
		})
		log.Printf("reconciler: adopting untracked %s position %s for %s", exchangeID, symbol, ownerID)
		p := &db.Position{
			OwnerID:     ownerID,
			ExchangeID:  exchangeID,
			Symbol:      symbol,
			Side:        string(vp.Side),
			Qty:         vp.Quantity,
			EntryPrice:  vp.EntryPrice,
			EntryAt:     time.Now().UTC(),
			NotionalUSD: vp.EntryPrice * vp.Quantity,
		}
		r.tracker.Add(p)
		if err := r.store.UpsertPosition(ctx, p); err != nil {
			log.Printf("reconciler: persist adopted %s %s: %v", ownerID, symbol, err)
		}
	}

	return out, nil
}
