package executor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"execution-core/internal/reconciler"
	"execution-core/internal/tracker"
	"execution-core/pkg/config"
	"execution-core/pkg/db"
	"execution-core/pkg/exchanges/common"
)

// Exit reasons recorded on trade records.
const (
	ExitManual     = "manual"
	ExitReversal   = "reversal"
	ExitStop       = "stop"
	ExitTakeProfit = "take-profit"
)

// defaultSettleDelay gives the venue a moment to settle a reversal
// close before the opposite side is opened.
const defaultSettleDelay = 500 * time.Millisecond

// Store is the persistence surface the executor needs.
type Store interface {
	UpsertPosition(ctx context.Context, p *db.Position) error
	DeletePosition(ctx context.Context, ownerID, exchangeID, symbol string) error
	InsertTradeRecord(ctx context.Context, t *db.TradeRecord) error
}

// Executor runs one trade intent end-to-end against a single owner's
// adapter. Instances are cheap; the Service builds one per intent and
// relies on per-tuple locking for serialization.
type Executor struct {
	adapter     common.Adapter
	tracker     *tracker.Tracker
	store       Store
	instruments *config.InstrumentTable

	marginBuffer float64
	settleDelay  time.Duration
	now          func() time.Time
}

// New builds an Executor. marginBuffer is the fraction of available
// margin held back from every entry (0.20 keeps 20% free).
func New(adapter common.Adapter, tr *tracker.Tracker, store Store, instruments *config.InstrumentTable, marginBuffer float64) *Executor {
	if marginBuffer <= 0 || marginBuffer >= 1 {
		marginBuffer = 0.20
	}
	return &Executor{
		adapter:      adapter,
		tracker:      tr,
		store:        store,
		instruments:  instruments,
		marginBuffer: marginBuffer,
		settleDelay:  defaultSettleDelay,
		now:          time.Now,
	}
}

// Execute dispatches one intent. The returned Result is always
// non-nil; hard failures additionally return a sentinel-wrapped error.
func (e *Executor) Execute(ctx context.Context, in *Intent) (*Result, error) {
	if in.Action == ActionClose {
		return e.Close(ctx, in, ExitManual)
	}
	return e.open(ctx, in)
}

func (e *Executor) open(ctx context.Context, in *Intent) (*Result, error) {
	side := in.Side()

	// Resolve any existing position for the tuple. The book may be
	// stale when the venue closed us out-of-band, so an exchange
	// check decides before we reject or reverse.
	if tracked := e.tracker.Get(in.OwnerID, in.ExchangeID, in.Symbol); tracked != nil {
		has, err := e.adapter.HasOpenPosition(ctx, in.Symbol)
		if err != nil {
			return rejected("position check failed"), fmt.Errorf("verify position: %w", err)
		}
		switch {
		case !has:
			log.Printf("executor: %s %s closed out-of-band on %s, dropping stale entry", in.OwnerID, in.Symbol, in.ExchangeID)
			e.tracker.Remove(in.OwnerID, in.ExchangeID, in.Symbol)
			if err := e.store.DeletePosition(ctx, in.OwnerID, in.ExchangeID, in.Symbol); err != nil {
				log.Printf("executor: drop stale snapshot %s %s: %v", in.OwnerID, in.Symbol, err)
			}
		case tracked.Side == string(side):
			return skipped("duplicate signal, position already open"), nil
		default:
			// Opposite side: close first, never stack.
			res, err := e.Close(ctx, in, ExitReversal)
			if err != nil || !res.Success {
				return rejected("reversal close failed: " + res.Message),
					fmt.Errorf("%w: %v", ErrReversalFailed, err)
			}
			if e.settleDelay > 0 {
				select {
				case <-ctx.Done():
					return rejected("cancelled during reversal settle"), ctx.Err()
				case <-time.After(e.settleDelay):
				}
			}
		}
	}

	// Margin gate, before any order leaves the process.
	available, err := e.adapter.GetAvailableMargin(ctx)
	if err != nil {
		return rejected("margin check failed"), fmt.Errorf("get margin: %w", err)
	}
	threshold := available * (1 - e.marginBuffer)
	if in.NotionalUSD > threshold {
		return rejected(fmt.Sprintf("insufficient margin: need %.2f, %.2f available after buffer", in.NotionalUSD, threshold)),
			fmt.Errorf("%w: notional %.2f exceeds %.2f", ErrInsufficientMargin, in.NotionalUSD, threshold)
	}

	// Price resolution.
	price := in.Price
	if in.OrderType != OrderTypeLimit {
		tick, err := e.adapter.GetTicker(ctx, in.Symbol)
		if err != nil {
			return rejected("price lookup failed"), fmt.Errorf("get ticker: %w", err)
		}
		price = tick.Last
	}
	if price <= 0 {
		return rejected("no usable price"), fmt.Errorf("%w: price %.8f", ErrValidation, price)
	}

	// Size calculation.
	instrument := e.instruments.Lookup(in.Symbol)
	qty := sizeQuantity(in.NotionalUSD, price, instrument.QtyPrecision)
	if qty <= 0 || qty < instrument.MinQty {
		return rejected("order size below instrument minimum"),
			fmt.Errorf("%w: qty %.8f below minimum %.8f", ErrValidation, qty, instrument.MinQty)
	}
	if instrument.MinNotional > 0 && in.NotionalUSD < instrument.MinNotional {
		return rejected("order notional below instrument minimum"),
			fmt.Errorf("%w: notional %.2f below minimum %.2f", ErrValidation, in.NotionalUSD, instrument.MinNotional)
	}

	// Entry order. A failure here aborts the intent.
	var order common.OrderResult
	if in.OrderType == OrderTypeLimit {
		order, err = e.adapter.PlaceLimitOrder(ctx, in.Symbol, side, qty, price)
	} else {
		order, err = e.adapter.PlaceMarketOrder(ctx, in.Symbol, side, qty)
	}
	if err != nil {
		if common.IsRejected(err) {
			return rejected("exchange rejected order: " + err.Error()),
				fmt.Errorf("%w: %v", ErrExchangeRejected, err)
		}
		return rejected("entry order failed"), fmt.Errorf("place entry: %w", err)
	}
	entryPrice := order.AvgFillPx
	if entryPrice <= 0 {
		entryPrice = price
	}

	// Bracket orders are best-effort: the entry has filled, so a
	// failed leg becomes a warning, never an abort.
	var warnings []string
	var stopOrderID, tpOrderID string
	if in.StopLossPct > 0 {
		stopPrice := bracketPrice(side, entryPrice, in.StopLossPct, true)
		res, err := e.adapter.PlaceStopLoss(ctx, in.Symbol, side, qty, stopPrice)
		if err != nil {
			log.Printf("executor: stop-loss for %s %s failed: %v", in.OwnerID, in.Symbol, err)
			warnings = append(warnings, "stop-loss order failed: "+err.Error())
		} else {
			stopOrderID = res.OrderID
		}
	}
	if in.TakeProfitPct > 0 {
		tpPrice := bracketPrice(side, entryPrice, in.TakeProfitPct, false)
		res, err := e.adapter.PlaceTakeProfit(ctx, in.Symbol, side, qty, tpPrice)
		if err != nil {
			log.Printf("executor: take-profit for %s %s failed: %v", in.OwnerID, in.Symbol, err)
			warnings = append(warnings, "take-profit order failed: "+err.Error())
		} else {
			tpOrderID = res.OrderID
		}
	}

	pos := &db.Position{
		OwnerID:           in.OwnerID,
		ExchangeID:        in.ExchangeID,
		Symbol:            in.Symbol,
		Side:              string(side),
		Qty:               qty,
		EntryPrice:        entryPrice,
		EntryAt:           e.now().UTC(),
		NotionalUSD:       in.NotionalUSD,
		StopOrderID:       stopOrderID,
		TakeProfitOrderID: tpOrderID,
		StopPct:           in.StopLossPct,
		TakeProfitPct:     in.TakeProfitPct,
		CurrentPrice:      entryPrice,
	}
	e.tracker.Add(pos)
	if err := e.store.UpsertPosition(ctx, pos); err != nil {
		log.Printf("executor: persist position %s %s: %v", in.OwnerID, in.Symbol, err)
		warnings = append(warnings, "position snapshot not persisted")
	}

	return &Result{
		Success:  true,
		Action:   ResultOpened,
		OrderID:  order.OrderID,
		Position: pos,
		Message:  fmt.Sprintf("opened %s %s qty=%v at %.2f", side, in.Symbol, qty, entryPrice),
		Warnings: warnings,
	}, nil
}

// Close flattens the position for the intent's symbol. The exchange
// is the source of truth for the quantity; the tracker supplies the
// entry price for realized PnL. Closing an already-flat symbol is a
// success, not an error.
func (e *Executor) Close(ctx context.Context, in *Intent, exitReason string) (*Result, error) {
	live, err := e.adapter.GetPosition(ctx, in.Symbol)
	if err != nil && !errors.Is(err, common.ErrNoPosition) {
		return rejected("position lookup failed"), fmt.Errorf("get position: %w", err)
	}

	tracked := e.tracker.Get(in.OwnerID, in.ExchangeID, in.Symbol)

	if live == nil || live.Quantity <= 0 {
		// Nothing on the venue. Drop any stale book entry quietly.
		if tracked != nil {
			e.tracker.Remove(in.OwnerID, in.ExchangeID, in.Symbol)
			if err := e.store.DeletePosition(ctx, in.OwnerID, in.ExchangeID, in.Symbol); err != nil {
				log.Printf("executor: delete stale snapshot %s %s: %v", in.OwnerID, in.Symbol, err)
			}
		}
		return &Result{Success: true, Action: ResultClosed, Message: "No position to close"}, nil
	}

	entryPrice := live.EntryPrice
	entryAt := e.now().UTC()
	notional := entryPrice * live.Quantity
	strategyID := in.StrategyID
	var stopID, tpID string
	if tracked != nil {
		entryPrice = tracked.EntryPrice
		entryAt = tracked.EntryAt
		notional = tracked.NotionalUSD
		stopID = tracked.StopOrderID
		tpID = tracked.TakeProfitOrderID
	}

	order, err := e.adapter.ClosePosition(ctx, in.Symbol, live.Side, live.Quantity)
	if err != nil {
		return rejected("close order failed"), fmt.Errorf("close position: %w", err)
	}

	// Resting bracket orders for the closed position are cancelled
	// best-effort; a leftover cancel failure is log-only.
	for _, orderID := range []string{stopID, tpID} {
		if orderID == "" {
			continue
		}
		if err := e.adapter.CancelOrder(ctx, in.Symbol, orderID); err != nil && !errors.Is(err, common.ErrOrderNotFound) {
			log.Printf("executor: cancel bracket %s on %s: %v", orderID, in.Symbol, err)
		}
	}

	exitPrice := order.AvgFillPx
	if exitPrice <= 0 {
		exitPrice = live.MarkPrice
	}
	if exitPrice <= 0 {
		if tick, err := e.adapter.GetTicker(ctx, in.Symbol); err == nil {
			exitPrice = tick.Last
		} else {
			log.Printf("executor: exit price lookup for %s: %v", in.Symbol, err)
			exitPrice = entryPrice
		}
	}

	pnlUSD := reconciler.Unrealized(live.Side, entryPrice, exitPrice, live.Quantity)
	pnlPct := 0.0
	if notional > 0 {
		pnlPct = pnlUSD / notional * 100
	}

	e.tracker.Remove(in.OwnerID, in.ExchangeID, in.Symbol)
	if err := e.store.DeletePosition(ctx, in.OwnerID, in.ExchangeID, in.Symbol); err != nil {
		log.Printf("executor: delete snapshot %s %s: %v", in.OwnerID, in.Symbol, err)
	}
	record := &db.TradeRecord{
		OwnerID:        in.OwnerID,
		ExchangeID:     in.ExchangeID,
		Symbol:         in.Symbol,
		Side:           string(live.Side),
		Qty:            live.Quantity,
		EntryPrice:     entryPrice,
		ExitPrice:      exitPrice,
		EntryAt:        entryAt,
		ExitAt:         e.now().UTC(),
		NotionalUSD:    notional,
		RealizedPnLUSD: pnlUSD,
		RealizedPnLPct: pnlPct,
		ExitReason:     exitReason,
		StrategyID:     strategyID,
	}
	if err := e.store.InsertTradeRecord(ctx, record); err != nil {
		log.Printf("executor: record trade %s %s: %v", in.OwnerID, in.Symbol, err)
	}

	return &Result{
		Success: true,
		Action:  ResultClosed,
		OrderID: order.OrderID,
		PnLUSD:  pnlUSD,
		Message: fmt.Sprintf("closed %s %s qty=%v at %.2f, pnl=%.2f", live.Side, in.Symbol, live.Quantity, exitPrice, pnlUSD),
	}, nil
}

// sizeQuantity converts a quote-currency notional into a base
// quantity truncated to the instrument's precision. Truncation keeps
// the order at or under the requested notional.
func sizeQuantity(notionalUSD, price float64, precision int) float64 {
	if price <= 0 {
		return 0
	}
	q := decimal.NewFromFloat(notionalUSD).
		Div(decimal.NewFromFloat(price)).
		Truncate(int32(precision))
	f, _ := q.Float64()
	return f
}

// bracketPrice derives a protective order price from the entry.
// Stops sit on the losing side of the entry, take-profits on the
// winning side; both flip with the position side.
func bracketPrice(side common.Side, entryPrice, pct float64, isStop bool) float64 {
	offset := entryPrice * pct / 100
	below := isStop
	if side == common.SideShort {
		below = !below
	}
	if below {
		return entryPrice - offset
	}
	return entryPrice + offset
}
