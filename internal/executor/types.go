package executor

import (
	"fmt"
	"strings"

	"execution-core/pkg/db"
	"execution-core/pkg/exchanges/common"
)

// Intent actions.
const (
	ActionBuy   = "buy"
	ActionSell  = "sell"
	ActionClose = "close"
)

// Order types.
const (
	OrderTypeMarket = "market"
	OrderTypeLimit  = "limit"
)

// Intent is one normalized trade instruction, as delivered by the
// signal source.
type Intent struct {
	OwnerID     string  `json:"ownerId"`
	ExchangeID  string  `json:"exchangeId"`
	Environment string  `json:"environment,omitempty"`
	Symbol      string  `json:"symbol"`
	Action      string  `json:"action"`
	OrderType   string  `json:"orderType,omitempty"`
	Price       float64 `json:"price,omitempty"`
	NotionalUSD float64 `json:"notionalUsd,omitempty"`

	StopLossPct   float64 `json:"stopLossPercent,omitempty"`
	TakeProfitPct float64 `json:"takeProfitPercent,omitempty"`

	StrategyID string `json:"strategyId,omitempty"`
	Source     string `json:"source,omitempty"`
}

// Side maps the intent action onto a position side. Close intents
// have no side.
func (in *Intent) Side() common.Side {
	if in.Action == ActionSell {
		return common.SideShort
	}
	return common.SideLong
}

// Validate rejects malformed intents before any venue call.
func (in *Intent) Validate() error {
	if in.OwnerID == "" {
		return fmt.Errorf("%w: ownerId is required", ErrValidation)
	}
	if in.ExchangeID == "" {
		return fmt.Errorf("%w: exchangeId is required", ErrValidation)
	}
	if in.Symbol == "" {
		return fmt.Errorf("%w: symbol is required", ErrValidation)
	}
	switch in.Action {
	case ActionBuy, ActionSell:
		if in.NotionalUSD <= 0 {
			return fmt.Errorf("%w: notionalUsd must be positive", ErrValidation)
		}
	case ActionClose:
	default:
		return fmt.Errorf("%w: unknown action %q", ErrValidation, in.Action)
	}
	switch in.OrderType {
	case "", OrderTypeMarket:
	case OrderTypeLimit:
		if in.Action != ActionClose && in.Price <= 0 {
			return fmt.Errorf("%w: limit orders require a price", ErrValidation)
		}
	default:
		return fmt.Errorf("%w: unknown orderType %q", ErrValidation, in.OrderType)
	}
	return nil
}

// Normalize canonicalizes the symbol and defaults optional fields.
func (in *Intent) Normalize() {
	in.Symbol = common.NormalizeSymbol(in.Symbol)
	in.Action = strings.ToLower(strings.TrimSpace(in.Action))
	if in.OrderType == "" {
		in.OrderType = OrderTypeMarket
	}
	if in.Environment == "" {
		in.Environment = string(common.EnvProduction)
	}
}

// Result actions.
const (
	ResultOpened   = "opened"
	ResultClosed   = "closed"
	ResultSkipped  = "skipped"
	ResultRejected = "rejected"
)

// Result is the structured outcome returned for every intent.
type Result struct {
	Success  bool         `json:"success"`
	Action   string       `json:"action"`
	OrderID  string       `json:"orderId,omitempty"`
	Position *db.Position `json:"position,omitempty"`
	PnLUSD   float64      `json:"pnl,omitempty"`
	Message  string       `json:"message,omitempty"`
	Warnings []string     `json:"warnings,omitempty"`
}

func rejected(message string) *Result {
	return &Result{Action: ResultRejected, Message: message}
}

func skipped(message string) *Result {
	return &Result{Success: true, Action: ResultSkipped, Message: message}
}
