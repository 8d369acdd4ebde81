package executor

import (
	"context"
	"errors"
	"log"
	"time"

	"execution-core/internal/events"
	"execution-core/internal/tasks"
	"execution-core/internal/tracker"
	"execution-core/pkg/cache"
	"execution-core/pkg/config"
	"execution-core/pkg/exchanges/common"
)

// adapterTTL bounds how long a constructed adapter is reused. Session
// and token state lives inside the adapter, so reuse matters; the TTL
// keeps rotated credentials from being used forever.
const adapterTTL = 5 * time.Minute

// AdapterSource resolves and invalidates per-owner exchange adapters.
type AdapterSource interface {
	Adapter(ctx context.Context, ownerID, exchangeID, environment string) (common.Adapter, error)
	Invalidate(ownerID, exchangeID, environment string)
}

// Hook observes completed trades. The fan-out engine registers one to
// replicate leader trades; hooks run detached and never block or fail
// the originating trade.
type Hook interface {
	AfterTradeExecuted(ctx context.Context, in *Intent, res *Result)
}

// Service is the entry point for trade intents. It owns the per-tuple
// serialization, adapter reuse, and post-trade side effects.
type Service struct {
	adapters    AdapterSource
	tracker     *tracker.Tracker
	store       Store
	instruments *config.InstrumentTable
	bus         *events.Bus
	runner      *tasks.Runner

	marginBuffer float64
	enabled      bool

	locks        *keyLock
	adapterCache *cache.TTL[common.Adapter]
	hooks        []Hook
}

// NewService wires the executor service.
func NewService(adapters AdapterSource, tr *tracker.Tracker, store Store, instruments *config.InstrumentTable, bus *events.Bus, runner *tasks.Runner, marginBuffer float64, enabled bool) *Service {
	return &Service{
		adapters:     adapters,
		tracker:      tr,
		store:        store,
		instruments:  instruments,
		bus:          bus,
		runner:       runner,
		marginBuffer: marginBuffer,
		enabled:      enabled,
		locks:        newKeyLock(),
		adapterCache: cache.NewTTL[common.Adapter](adapterTTL),
	}
}

// AttachHook registers a post-trade hook. Not safe to call once
// intents are flowing; wire hooks at startup.
func (s *Service) AttachHook(h Hook) {
	s.hooks = append(s.hooks, h)
}

// Tracker exposes the position book for read-only consumers.
func (s *Service) Tracker() *tracker.Tracker {
	return s.tracker
}

// Submit executes one intent and fires post-trade hooks on success.
func (s *Service) Submit(ctx context.Context, in *Intent) (*Result, error) {
	res, err := s.Execute(ctx, in)
	if res.Success && res.Action != ResultSkipped && len(s.hooks) > 0 {
		inCopy := *in
		resCopy := *res
		for _, h := range s.hooks {
			hook := h
			s.runner.Go("post-trade hook", func(ctx context.Context) {
				hook.AfterTradeExecuted(ctx, &inCopy, &resCopy)
			})
		}
	}
	return res, err
}

// Execute runs one intent without post-trade hooks. The fan-out
// engine uses this for follower orders so a copied trade can never
// trigger another round of replication.
func (s *Service) Execute(ctx context.Context, in *Intent) (*Result, error) {
	in.Normalize()
	if err := in.Validate(); err != nil {
		return rejected(err.Error()), err
	}
	if !s.enabled {
		return rejected("execution disabled"), ErrExecutionDisabled
	}

	unlock := s.locks.Lock(in.OwnerID + "|" + in.ExchangeID + "|" + in.Symbol)
	defer unlock()

	adapter, err := s.adapter(ctx, in.OwnerID, in.ExchangeID, in.Environment)
	if err != nil {
		return rejected("no usable credentials"), err
	}

	exec := New(adapter, s.tracker, s.store, s.instruments, s.marginBuffer)
	res, err := exec.Execute(ctx, in)

	if errors.Is(err, common.ErrReauthorizationRequired) {
		// The stored token is dead; drop cached state so the next
		// attempt sees fresh credentials, and tell someone to
		// re-authorize.
		s.dropAdapter(in.OwnerID, in.ExchangeID, in.Environment)
		s.adapters.Invalidate(in.OwnerID, in.ExchangeID, in.Environment)
		s.publish(events.EventReauthRequired, events.TradeEvent{
			OwnerID: in.OwnerID, ExchangeID: in.ExchangeID, Symbol: in.Symbol,
			Action: in.Action, Message: "reauthorization required",
		})
	}

	s.publishResult(in, res)
	return res, err
}

func (s *Service) publishResult(in *Intent, res *Result) {
	ev := events.TradeEvent{
		OwnerID:    in.OwnerID,
		ExchangeID: in.ExchangeID,
		Symbol:     in.Symbol,
		Side:       string(in.Side()),
		Action:     res.Action,
		PnLUSD:     res.PnLUSD,
		Message:    res.Message,
	}
	switch res.Action {
	case ResultOpened:
		s.publish(events.EventTradeOpened, ev)
	case ResultClosed:
		s.publish(events.EventTradeClosed, ev)
	case ResultRejected:
		s.publish(events.EventTradeRejected, ev)
	}
}

func (s *Service) publish(e events.Event, payload any) {
	if s.bus != nil {
		s.bus.Publish(e, payload)
	}
}

func (s *Service) adapter(ctx context.Context, ownerID, exchangeID, environment string) (common.Adapter, error) {
	key := ownerID + "|" + exchangeID + "|" + environment
	if a, ok := s.adapterCache.Get(key); ok {
		return a, nil
	}
	a, err := s.adapters.Adapter(ctx, ownerID, exchangeID, environment)
	if err != nil {
		return nil, err
	}
	s.adapterCache.Set(key, a)
	return a, nil
}

func (s *Service) dropAdapter(ownerID, exchangeID, environment string) {
	s.adapterCache.Invalidate(ownerID + "|" + exchangeID + "|" + environment)
	log.Printf("executor: dropped cached adapter for owner=%s exchange=%s", ownerID, exchangeID)
}
