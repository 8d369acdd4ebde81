package db

import "time"

// Credential holds per-owner exchange credentials. Secret columns are
// stored sealed (enc:v<N>:...) and opened by the credential resolver,
// never by this package.
type Credential struct {
	ID            string
	OwnerID       string
	ExchangeID    string
	Environment   string
	APIKey        string
	APISecret     string
	Identifier    string
	Password      string
	PIN           string
	AccessToken   string
	TokenIssuedAt time.Time
	Label         string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Position is the persisted snapshot of one open position. The live
// copy lives in the in-memory tracker; rows here let the process
// resume after a restart.
type Position struct {
	OwnerID            string
	ExchangeID         string
	Symbol             string
	Side               string
	Qty                float64
	EntryPrice         float64
	EntryAt            time.Time
	NotionalUSD        float64
	StopOrderID        string
	TakeProfitOrderID  string
	StopPct            float64
	TakeProfitPct      float64
	CurrentPrice       float64
	UnrealizedPnLUSD   float64
	UnrealizedPnLPct   float64
	UpdatedAt          time.Time
}

// TradeRecord is an append-only row written when a position closes.
type TradeRecord struct {
	ID             string
	OwnerID        string
	ExchangeID     string
	Symbol         string
	Side           string
	Qty            float64
	EntryPrice     float64
	ExitPrice      float64
	EntryAt        time.Time
	ExitAt         time.Time
	NotionalUSD    float64
	RealizedPnLUSD float64
	RealizedPnLPct float64
	ExitReason     string
	StrategyID     string
	CreatedAt      time.Time
}

// Copy relationship status values.
const (
	RelationshipActive  = "active"
	RelationshipPaused  = "paused"
	RelationshipStopped = "stopped"
)

// CopyRelationship links a follower account to a leader. HighWaterMark
// and CurrentEquity feed drawdown enforcement and fee accounting.
type CopyRelationship struct {
	ID                 string
	FollowerID         string
	LeaderID           string
	LeaderStrategyID   string
	AllocationPct      float64
	MaxDrawdownStopPct float64
	HighWaterMark      float64
	CurrentEquity      float64
	Status             string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Copied trade status values.
const (
	CopiedFilled  = "filled"
	CopiedSkipped = "skipped"
	CopiedFailed  = "failed"
	CopiedClosed  = "closed"
)

// CopiedTrade records one fan-out replication attempt, filled or not.
type CopiedTrade struct {
	ID                string
	RelationshipID    string
	LeaderTradeID     string
	FollowerOrderID   string
	ScaledNotionalUSD float64
	Status            string
	Reason            string
	RealizedPnLUSD    float64
	FeeEligibleProfit float64
	CreatedAt         time.Time
	UpdatedAt         time.Time
}
