package db

import "fmt"

const schema = `
PRAGMA journal_mode=WAL;

CREATE TABLE IF NOT EXISTS credentials (
    id TEXT PRIMARY KEY,
    owner_id TEXT NOT NULL,
    exchange_id TEXT NOT NULL,
    environment TEXT NOT NULL DEFAULT 'production',
    api_key TEXT NOT NULL DEFAULT '',
    api_secret TEXT NOT NULL DEFAULT '',
    identifier TEXT NOT NULL DEFAULT '',
    password TEXT NOT NULL DEFAULT '',
    pin TEXT NOT NULL DEFAULT '',
    access_token TEXT NOT NULL DEFAULT '',
    token_issued_at DATETIME,
    label TEXT NOT NULL DEFAULT '',
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    UNIQUE(owner_id, exchange_id, environment)
);

CREATE TABLE IF NOT EXISTS positions (
    owner_id TEXT NOT NULL,
    exchange_id TEXT NOT NULL,
    symbol TEXT NOT NULL,
    side TEXT NOT NULL,
    qty REAL NOT NULL,
    entry_price REAL NOT NULL,
    entry_at DATETIME NOT NULL,
    notional_usd REAL NOT NULL,
    stop_order_id TEXT NOT NULL DEFAULT '',
    take_profit_order_id TEXT NOT NULL DEFAULT '',
    stop_pct REAL NOT NULL DEFAULT 0,
    take_profit_pct REAL NOT NULL DEFAULT 0,
    current_price REAL NOT NULL DEFAULT 0,
    unrealized_pnl_usd REAL NOT NULL DEFAULT 0,
    unrealized_pnl_pct REAL NOT NULL DEFAULT 0,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY(owner_id, exchange_id, symbol)
);

CREATE TABLE IF NOT EXISTS trade_records (
    id TEXT PRIMARY KEY,
    owner_id TEXT NOT NULL,
    exchange_id TEXT NOT NULL,
    symbol TEXT NOT NULL,
    side TEXT NOT NULL,
    qty REAL NOT NULL,
    entry_price REAL NOT NULL,
    exit_price REAL NOT NULL,
    entry_at DATETIME NOT NULL,
    exit_at DATETIME NOT NULL,
    notional_usd REAL NOT NULL,
    realized_pnl_usd REAL NOT NULL,
    realized_pnl_pct REAL NOT NULL,
    exit_reason TEXT NOT NULL,
    strategy_id TEXT NOT NULL DEFAULT '',
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_trade_records_owner ON trade_records(owner_id, created_at);

CREATE TABLE IF NOT EXISTS copy_relationships (
    id TEXT PRIMARY KEY,
    follower_id TEXT NOT NULL,
    leader_id TEXT NOT NULL,
    leader_strategy_id TEXT NOT NULL DEFAULT '',
    allocation_pct REAL NOT NULL,
    max_drawdown_stop_pct REAL NOT NULL DEFAULT 0,
    high_water_mark REAL NOT NULL DEFAULT 0,
    current_equity REAL NOT NULL DEFAULT 0,
    status TEXT NOT NULL DEFAULT 'active',
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_copy_relationships_leader ON copy_relationships(leader_id, status);

CREATE TABLE IF NOT EXISTS copied_trades (
    id TEXT PRIMARY KEY,
    relationship_id TEXT NOT NULL,
    leader_trade_id TEXT NOT NULL DEFAULT '',
    follower_order_id TEXT NOT NULL DEFAULT '',
    scaled_notional_usd REAL NOT NULL,
    status TEXT NOT NULL,
    reason TEXT NOT NULL DEFAULT '',
    realized_pnl_usd REAL NOT NULL DEFAULT 0,
    fee_eligible_profit REAL NOT NULL DEFAULT 0,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY(relationship_id) REFERENCES copy_relationships(id)
);

CREATE INDEX IF NOT EXISTS idx_copied_trades_rel ON copied_trades(relationship_id, created_at);
`

// ApplyMigrations creates all tables when missing.
func ApplyMigrations(d *Database) error {
	if _, err := d.DB.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
