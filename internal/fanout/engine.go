package fanout

import (
	"context"
	"log"
	"sync"

	"github.com/google/uuid"

	"execution-core/internal/events"
	"execution-core/internal/executor"
	"execution-core/pkg/db"
	"execution-core/pkg/exchanges/common"
)

// Executor places follower orders without re-triggering replication.
type Executor interface {
	Execute(ctx context.Context, in *executor.Intent) (*executor.Result, error)
}

// AdapterSource resolves follower adapters for the pre-trade gates.
type AdapterSource interface {
	Adapter(ctx context.Context, ownerID, exchangeID, environment string) (common.Adapter, error)
}

// Store is the persistence surface the engine needs.
type Store interface {
	ListActiveFollowers(ctx context.Context, leaderID string) ([]*db.CopyRelationship, error)
	GetCopyRelationship(ctx context.Context, id string) (*db.CopyRelationship, error)
	InsertCopiedTrade(ctx context.Context, ct *db.CopiedTrade) error
	CloseCopiedTrade(ctx context.Context, id string, realizedPnL, feeEligible float64) error
	UpdateRelationshipEquity(ctx context.Context, id string, equity, highWaterMark float64) error
	SetRelationshipStatus(ctx context.Context, id, status string) error
}

// Engine replicates a leader's executed trades to every active
// follower. Followers are processed in parallel under a bounded
// worker count; every follower outcome is isolated and recorded.
type Engine struct {
	exec     Executor
	adapters AdapterSource
	store    Store
	bus      *events.Bus

	workers      int
	marginBuffer float64

	// open copied-trade ids by (relationship, symbol), so the close
	// leg can settle the row the open leg created.
	mu   sync.Mutex
	open map[string]string
}

// New builds an Engine. workers bounds parallel replication (default
// 4); marginBuffer mirrors the executor's pre-trade reserve.
func New(exec Executor, adapters AdapterSource, store Store, bus *events.Bus, workers int, marginBuffer float64) *Engine {
	if workers <= 0 {
		workers = 4
	}
	if marginBuffer <= 0 || marginBuffer >= 1 {
		marginBuffer = 0.20
	}
	return &Engine{
		exec:         exec,
		adapters:     adapters,
		store:        store,
		bus:          bus,
		workers:      workers,
		marginBuffer: marginBuffer,
		open:         make(map[string]string),
	}
}

// AfterTradeExecuted implements executor.Hook. It runs on a detached
// task after the leader's result has already been returned; nothing
// here can affect the leader's trade.
func (e *Engine) AfterTradeExecuted(ctx context.Context, in *executor.Intent, res *executor.Result) {
	if in.Source == "copy" {
		return
	}
	relationships, err := e.store.ListActiveFollowers(ctx, in.OwnerID)
	if err != nil {
		log.Printf("fanout: list followers for %s: %v", in.OwnerID, err)
		return
	}
	if len(relationships) == 0 {
		return
	}

	leaderTradeID := uuid.NewString()
	log.Printf("fanout: replicating %s %s %s to %d followers", in.OwnerID, in.Action, in.Symbol, len(relationships))

	sem := make(chan struct{}, e.workers)
	var wg sync.WaitGroup
	for _, rel := range relationships {
		wg.Add(1)
		sem <- struct{}{}
		go func(rel *db.CopyRelationship) {
			defer wg.Done()
			defer func() { <-sem }()
			defer func() {
				if rec := recover(); rec != nil {
					log.Printf("fanout: follower %s panicked: %v", rel.FollowerID, rec)
				}
			}()
			e.replicate(ctx, rel, in, res, leaderTradeID)
		}(rel)
	}
	wg.Wait()
}

func (e *Engine) replicate(ctx context.Context, rel *db.CopyRelationship, in *executor.Intent, res *executor.Result, leaderTradeID string) {
	scaled := in.NotionalUSD * rel.AllocationPct / 100

	// Re-validate the relationship: it may have been paused between
	// the leader's trade and this task running.
	current, err := e.store.GetCopyRelationship(ctx, rel.ID)
	if err != nil || current.Status != db.RelationshipActive {
		e.recordSkip(ctx, rel, leaderTradeID, scaled, "relationship no longer active")
		return
	}
	rel = current

	adapter, err := e.adapters.Adapter(ctx, rel.FollowerID, in.ExchangeID, in.Environment)
	if err != nil {
		e.recordSkip(ctx, rel, leaderTradeID, scaled, "credentials unavailable")
		return
	}

	isOpen := in.Action != executor.ActionClose

	if isOpen {
		available, err := adapter.GetAvailableMargin(ctx)
		if err != nil {
			e.recordSkip(ctx, rel, leaderTradeID, scaled, "margin check failed")
			return
		}
		if available-scaled < available*e.marginBuffer {
			e.recordSkip(ctx, rel, leaderTradeID, scaled, "insufficient margin")
			return
		}

		if paused := e.enforceDrawdown(ctx, rel); paused {
			e.recordSkip(ctx, rel, leaderTradeID, scaled, "drawdown limit exceeded")
			return
		}
	}

	followerIntent := *in
	followerIntent.OwnerID = rel.FollowerID
	followerIntent.NotionalUSD = scaled
	followerIntent.Source = "copy"
	followerIntent.StrategyID = rel.LeaderStrategyID

	result, err := e.exec.Execute(ctx, &followerIntent)
	if err != nil || !result.Success {
		reason := "execution failed"
		if result != nil && result.Message != "" {
			reason = result.Message
		}
		log.Printf("fanout: follower %s %s %s: %v", rel.FollowerID, in.Action, in.Symbol, err)
		e.record(ctx, &db.CopiedTrade{
			RelationshipID:    rel.ID,
			LeaderTradeID:     leaderTradeID,
			ScaledNotionalUSD: scaled,
			Status:            db.CopiedFailed,
			Reason:            reason,
		})
		return
	}

	if isOpen {
		ct := &db.CopiedTrade{
			RelationshipID:    rel.ID,
			LeaderTradeID:     leaderTradeID,
			FollowerOrderID:   result.OrderID,
			ScaledNotionalUSD: scaled,
			Status:            db.CopiedFilled,
		}
		e.record(ctx, ct)
		e.rememberOpen(rel.ID, in.Symbol, ct.ID)
		e.publish(events.EventCopyTradePlaced, events.CopyEvent{
			RelationshipID: rel.ID, FollowerID: rel.FollowerID, LeaderID: rel.LeaderID,
			Symbol: in.Symbol, NotionalUSD: scaled,
		})
		return
	}

	e.settleClose(ctx, rel, in.Symbol, result.PnLUSD, leaderTradeID, scaled)
}

// settleClose books the follower's realized PnL against the
// relationship's equity curve and computes the fee-eligible slice.
// Only profit above the prior high-water mark is billable.
func (e *Engine) settleClose(ctx context.Context, rel *db.CopyRelationship, symbol string, pnlUSD float64, leaderTradeID string, scaled float64) {
	priorHWM := rel.HighWaterMark
	newEquity := rel.CurrentEquity + pnlUSD
	feeEligible := newEquity - priorHWM
	if feeEligible < 0 {
		feeEligible = 0
	}
	newHWM := priorHWM
	if newEquity > newHWM {
		newHWM = newEquity
	}

	if err := e.store.UpdateRelationshipEquity(ctx, rel.ID, newEquity, newHWM); err != nil {
		log.Printf("fanout: update equity for %s: %v", rel.ID, err)
	}

	if openID, ok := e.takeOpen(rel.ID, symbol); ok {
		if err := e.store.CloseCopiedTrade(ctx, openID, pnlUSD, feeEligible); err != nil {
			log.Printf("fanout: close copied trade %s: %v", openID, err)
		}
	} else {
		e.record(ctx, &db.CopiedTrade{
			RelationshipID:    rel.ID,
			LeaderTradeID:     leaderTradeID,
			ScaledNotionalUSD: scaled,
			Status:            db.CopiedClosed,
			RealizedPnLUSD:    pnlUSD,
			FeeEligibleProfit: feeEligible,
		})
	}
}

// enforceDrawdown pauses the relationship when its equity has fallen
// too far below the high-water mark. Returns true when paused.
func (e *Engine) enforceDrawdown(ctx context.Context, rel *db.CopyRelationship) bool {
	if rel.MaxDrawdownStopPct <= 0 || rel.HighWaterMark <= 0 {
		return false
	}
	drawdownPct := (rel.HighWaterMark - rel.CurrentEquity) / rel.HighWaterMark * 100
	if drawdownPct <= rel.MaxDrawdownStopPct {
		return false
	}
	log.Printf("fanout: relationship %s drawdown %.1f%% exceeds %.1f%%, pausing",
		rel.ID, drawdownPct, rel.MaxDrawdownStopPct)
	if err := e.store.SetRelationshipStatus(ctx, rel.ID, db.RelationshipPaused); err != nil {
		log.Printf("fanout: pause relationship %s: %v", rel.ID, err)
	}
	e.publish(events.EventCopyPaused, events.CopyEvent{
		RelationshipID: rel.ID, FollowerID: rel.FollowerID, LeaderID: rel.LeaderID,
		Reason: "max drawdown exceeded",
	})
	return true
}

func (e *Engine) recordSkip(ctx context.Context, rel *db.CopyRelationship, leaderTradeID string, scaled float64, reason string) {
	log.Printf("fanout: skipping follower %s: %s", rel.FollowerID, reason)
	e.record(ctx, &db.CopiedTrade{
		RelationshipID:    rel.ID,
		LeaderTradeID:     leaderTradeID,
		ScaledNotionalUSD: scaled,
		Status:            db.CopiedSkipped,
		Reason:            reason,
	})
	e.publish(events.EventCopyTradeSkipped, events.CopyEvent{
		RelationshipID: rel.ID, FollowerID: rel.FollowerID, LeaderID: rel.LeaderID,
		NotionalUSD: scaled, Reason: reason,
	})
}

func (e *Engine) record(ctx context.Context, ct *db.CopiedTrade) {
	if err := e.store.InsertCopiedTrade(ctx, ct); err != nil {
		log.Printf("fanout: record copied trade for %s: %v", ct.RelationshipID, err)
	}
}

func (e *Engine) rememberOpen(relationshipID, symbol, copiedTradeID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.open[relationshipID+"|"+symbol] = copiedTradeID
}

func (e *Engine) takeOpen(relationshipID, symbol string) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	id, ok := e.open[relationshipID+"|"+symbol]
	if ok {
		delete(e.open, relationshipID+"|"+symbol)
	}
	return id, ok
}

func (e *Engine) publish(ev events.Event, payload any) {
	if e.bus != nil {
		e.bus.Publish(ev, payload)
	}
}

var _ executor.Hook = (*Engine)(nil)
