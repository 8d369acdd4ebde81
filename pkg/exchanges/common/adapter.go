package common

import "context"

// Adapter abstracts one broker/exchange account behind a fixed operation set.
// Implementations own authentication, signing, token refresh and symbol
// translation; callers never see venue-specific wire formats.
type Adapter interface {
	// Capabilities reports what this venue supports, resolved at construction.
	Capabilities() Capabilities

	GetBalance(ctx context.Context) ([]AssetBalance, error)
	GetAvailableMargin(ctx context.Context) (float64, error)

	GetPositions(ctx context.Context) ([]ExchangePosition, error)
	GetPosition(ctx context.Context, symbol string) (*ExchangePosition, error)
	HasOpenPosition(ctx context.Context, symbol string) (bool, error)

	GetTicker(ctx context.Context, symbol string) (Ticker, error)

	PlaceMarketOrder(ctx context.Context, symbol string, side Side, qty float64) (OrderResult, error)
	PlaceLimitOrder(ctx context.Context, symbol string, side Side, qty, price float64) (OrderResult, error)
	// PlaceStopLoss places a protective stop for an open position on side.
	PlaceStopLoss(ctx context.Context, symbol string, side Side, qty, stopPrice float64) (OrderResult, error)
	// PlaceTakeProfit places a protective take-profit for an open position on side.
	PlaceTakeProfit(ctx context.Context, symbol string, side Side, qty, price float64) (OrderResult, error)

	// ClosePosition submits the opposing market order for an open position on side.
	ClosePosition(ctx context.Context, symbol string, side Side, qty float64) (OrderResult, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
	GetOrder(ctx context.Context, symbol, orderID string) (OrderResult, error)
}

// Capabilities is a plain capability descriptor per adapter. Fields are fixed
// at construction time and checked by field access, never by reflection.
type Capabilities struct {
	ExchangeID           string
	SupportsStopOrders   bool
	SupportsTakeProfit   bool
	SupportsTrailingStop bool
	RequiresPassphrase   bool
	RequiresPIN          bool
	HasSandbox           bool
}
