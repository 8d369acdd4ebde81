package common

import "time"

// Side denotes position side.
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// Opposite returns the reversing side.
func (s Side) Opposite() Side {
	if s == SideLong {
		return SideShort
	}
	return SideLong
}

// OrderSide converts a position side into the order verb a venue expects.
func (s Side) OrderSide() string {
	if s == SideLong {
		return "BUY"
	}
	return "SELL"
}

// Environment selects live vs sandbox keys and base URLs.
type Environment string

const (
	EnvProduction Environment = "production"
	EnvSandbox    Environment = "sandbox"
)

// OrderStatus normalizes venue order status into a small set.
type OrderStatus string

const (
	StatusNew      OrderStatus = "NEW"
	StatusPartial  OrderStatus = "PARTIAL"
	StatusFilled   OrderStatus = "FILLED"
	StatusCanceled OrderStatus = "CANCELED"
	StatusRejected OrderStatus = "REJECTED"
	StatusUnknown  OrderStatus = "UNKNOWN"
)

// AssetBalance is one asset row from a venue account.
type AssetBalance struct {
	Asset     string
	Available float64
	Total     float64
}

// Ticker is a normalized top-of-book snapshot.
type Ticker struct {
	Symbol string
	Last   float64
	Bid    float64
	Ask    float64
	At     time.Time
}

// ExchangePosition is the venue's own view of an open position.
// Quantity is unsigned; Side carries direction.
type ExchangePosition struct {
	Symbol     string
	Side       Side
	Quantity   float64
	EntryPrice float64
	MarkPrice  float64
}

// OrderResult is the venue ack for any order verb.
type OrderResult struct {
	OrderID   string
	Symbol    string
	Side      Side
	Quantity  float64
	Price     float64
	Status    OrderStatus
	AvgFillPx float64
}
