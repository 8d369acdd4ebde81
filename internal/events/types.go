package events

// Event enumerates high-level topics inside the execution core.
type Event string

const (
	EventTradeOpened      Event = "trade.opened"
	EventTradeClosed      Event = "trade.closed"
	EventTradeRejected    Event = "trade.rejected"
	EventCopyTradePlaced  Event = "copy.trade_placed"
	EventCopyTradeSkipped Event = "copy.trade_skipped"
	EventCopyPaused       Event = "copy.paused"
	EventReauthRequired   Event = "credential.reauth_required"
)

// TradeEvent is the payload for trade.* topics.
type TradeEvent struct {
	OwnerID    string  `json:"ownerId"`
	ExchangeID string  `json:"exchangeId"`
	Symbol     string  `json:"symbol"`
	Side       string  `json:"side,omitempty"`
	Action     string  `json:"action"`
	PnLUSD     float64 `json:"pnl,omitempty"`
	Message    string  `json:"message,omitempty"`
}

// CopyEvent is the payload for copy.* topics.
type CopyEvent struct {
	RelationshipID string  `json:"relationshipId"`
	FollowerID     string  `json:"followerId"`
	LeaderID       string  `json:"leaderId"`
	Symbol         string  `json:"symbol,omitempty"`
	NotionalUSD    float64 `json:"notionalUsd,omitempty"`
	Reason         string  `json:"reason,omitempty"`
}
