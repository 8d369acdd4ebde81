package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// GetCredential returns the credential row for one (owner, exchange,
// environment) tuple. Secret columns come back still sealed.
func (d *Database) GetCredential(ctx context.Context, ownerID, exchangeID, environment string) (*Credential, error) {
	if ownerID == "" {
		return nil, ErrOwnerIDRequired
	}
	row := d.DB.QueryRowContext(ctx, `
		SELECT id, owner_id, exchange_id, environment, api_key, api_secret,
		       identifier, password, pin, access_token,
		       token_issued_at, label, created_at, updated_at
		FROM credentials
		WHERE owner_id = ? AND exchange_id = ? AND environment = ?`,
		ownerID, exchangeID, environment)

	// token_issued_at is selected bare (no COALESCE) so the driver keeps
	// the column's DATETIME decltype; NULL maps to the zero time below.
	var c Credential
	var issuedAt sql.NullTime
	err := row.Scan(&c.ID, &c.OwnerID, &c.ExchangeID, &c.Environment,
		&c.APIKey, &c.APISecret, &c.Identifier, &c.Password, &c.PIN,
		&c.AccessToken, &issuedAt, &c.Label, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get credential: %w", err)
	}
	c.TokenIssuedAt = issuedAt.Time
	return &c, nil
}

// UpsertCredential inserts or replaces the credential for the tuple.
func (d *Database) UpsertCredential(ctx context.Context, c *Credential) error {
	if c.OwnerID == "" {
		return ErrOwnerIDRequired
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO credentials (id, owner_id, exchange_id, environment, api_key, api_secret,
		                         identifier, password, pin, access_token, token_issued_at, label, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(owner_id, exchange_id, environment) DO UPDATE SET
		    api_key = excluded.api_key,
		    api_secret = excluded.api_secret,
		    identifier = excluded.identifier,
		    password = excluded.password,
		    pin = excluded.pin,
		    access_token = excluded.access_token,
		    token_issued_at = excluded.token_issued_at,
		    label = excluded.label,
		    updated_at = CURRENT_TIMESTAMP`,
		c.ID, c.OwnerID, c.ExchangeID, c.Environment, c.APIKey, c.APISecret,
		c.Identifier, c.Password, c.PIN, c.AccessToken, c.TokenIssuedAt, c.Label)
	if err != nil {
		return fmt.Errorf("upsert credential: %w", err)
	}
	return nil
}

// UpsertPosition writes the persisted snapshot for an open position.
func (d *Database) UpsertPosition(ctx context.Context, p *Position) error {
	if p.OwnerID == "" {
		return ErrOwnerIDRequired
	}
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO positions (owner_id, exchange_id, symbol, side, qty, entry_price, entry_at,
		                       notional_usd, stop_order_id, take_profit_order_id, stop_pct, take_profit_pct,
		                       current_price, unrealized_pnl_usd, unrealized_pnl_pct, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(owner_id, exchange_id, symbol) DO UPDATE SET
		    side = excluded.side,
		    qty = excluded.qty,
		    entry_price = excluded.entry_price,
		    entry_at = excluded.entry_at,
		    notional_usd = excluded.notional_usd,
		    stop_order_id = excluded.stop_order_id,
		    take_profit_order_id = excluded.take_profit_order_id,
		    stop_pct = excluded.stop_pct,
		    take_profit_pct = excluded.take_profit_pct,
		    current_price = excluded.current_price,
		    unrealized_pnl_usd = excluded.unrealized_pnl_usd,
		    unrealized_pnl_pct = excluded.unrealized_pnl_pct,
		    updated_at = CURRENT_TIMESTAMP`,
		p.OwnerID, p.ExchangeID, p.Symbol, p.Side, p.Qty, p.EntryPrice, p.EntryAt,
		p.NotionalUSD, p.StopOrderID, p.TakeProfitOrderID, p.StopPct, p.TakeProfitPct,
		p.CurrentPrice, p.UnrealizedPnLUSD, p.UnrealizedPnLPct)
	if err != nil {
		return fmt.Errorf("upsert position: %w", err)
	}
	return nil
}

// DeletePosition removes the snapshot after close. Missing rows are
// not an error: close must stay idempotent.
func (d *Database) DeletePosition(ctx context.Context, ownerID, exchangeID, symbol string) error {
	if ownerID == "" {
		return ErrOwnerIDRequired
	}
	_, err := d.DB.ExecContext(ctx,
		`DELETE FROM positions WHERE owner_id = ? AND exchange_id = ? AND symbol = ?`,
		ownerID, exchangeID, symbol)
	if err != nil {
		return fmt.Errorf("delete position: %w", err)
	}
	return nil
}

// ListPositions returns every persisted position, optionally scoped to
// one owner. An empty ownerID means all owners (startup reload).
func (d *Database) ListPositions(ctx context.Context, ownerID string) ([]*Position, error) {
	query := `
		SELECT owner_id, exchange_id, symbol, side, qty, entry_price, entry_at,
		       notional_usd, stop_order_id, take_profit_order_id, stop_pct, take_profit_pct,
		       current_price, unrealized_pnl_usd, unrealized_pnl_pct, updated_at
		FROM positions`
	args := []any{}
	if ownerID != "" {
		query += ` WHERE owner_id = ?`
		args = append(args, ownerID)
	}
	rows, err := d.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list positions: %w", err)
	}
	defer rows.Close()

	var out []*Position
	for rows.Next() {
		var p Position
		if err := rows.Scan(&p.OwnerID, &p.ExchangeID, &p.Symbol, &p.Side, &p.Qty,
			&p.EntryPrice, &p.EntryAt, &p.NotionalUSD, &p.StopOrderID, &p.TakeProfitOrderID,
			&p.StopPct, &p.TakeProfitPct, &p.CurrentPrice, &p.UnrealizedPnLUSD,
			&p.UnrealizedPnLPct, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

// InsertTradeRecord appends one closed-trade row.
func (d *Database) InsertTradeRecord(ctx context.Context, t *TradeRecord) error {
	if t.OwnerID == "" {
		return ErrOwnerIDRequired
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO trade_records (id, owner_id, exchange_id, symbol, side, qty,
		                           entry_price, exit_price, entry_at, exit_at, notional_usd,
		                           realized_pnl_usd, realized_pnl_pct, exit_reason, strategy_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.OwnerID, t.ExchangeID, t.Symbol, t.Side, t.Qty,
		t.EntryPrice, t.ExitPrice, t.EntryAt, t.ExitAt, t.NotionalUSD,
		t.RealizedPnLUSD, t.RealizedPnLPct, t.ExitReason, t.StrategyID)
	if err != nil {
		return fmt.Errorf("insert trade record: %w", err)
	}
	return nil
}

// ListTradeRecords returns an owner's closed trades, newest first.
func (d *Database) ListTradeRecords(ctx context.Context, ownerID string, limit int) ([]*TradeRecord, error) {
	if ownerID == "" {
		return nil, ErrOwnerIDRequired
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, owner_id, exchange_id, symbol, side, qty, entry_price, exit_price,
		       entry_at, exit_at, notional_usd, realized_pnl_usd, realized_pnl_pct,
		       exit_reason, strategy_id, created_at
		FROM trade_records WHERE owner_id = ?
		ORDER BY created_at DESC LIMIT ?`, ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("list trade records: %w", err)
	}
	defer rows.Close()

	var out []*TradeRecord
	for rows.Next() {
		var t TradeRecord
		if err := rows.Scan(&t.ID, &t.OwnerID, &t.ExchangeID, &t.Symbol, &t.Side, &t.Qty,
			&t.EntryPrice, &t.ExitPrice, &t.EntryAt, &t.ExitAt, &t.NotionalUSD,
			&t.RealizedPnLUSD, &t.RealizedPnLPct, &t.ExitReason, &t.StrategyID, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan trade record: %w", err)
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

// CreateCopyRelationship inserts a new follower-leader link.
func (d *Database) CreateCopyRelationship(ctx context.Context, r *CopyRelationship) error {
	if r.FollowerID == "" || r.LeaderID == "" {
		return ErrOwnerIDRequired
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Status == "" {
		r.Status = RelationshipActive
	}
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO copy_relationships (id, follower_id, leader_id, leader_strategy_id,
		                                allocation_pct, max_drawdown_stop_pct,
		                                high_water_mark, current_equity, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.FollowerID, r.LeaderID, r.LeaderStrategyID,
		r.AllocationPct, r.MaxDrawdownStopPct, r.HighWaterMark, r.CurrentEquity, r.Status)
	if err != nil {
		return fmt.Errorf("create copy relationship: %w", err)
	}
	return nil
}

// GetCopyRelationship returns one relationship by id.
func (d *Database) GetCopyRelationship(ctx context.Context, id string) (*CopyRelationship, error) {
	row := d.DB.QueryRowContext(ctx, `
		SELECT id, follower_id, leader_id, leader_strategy_id, allocation_pct,
		       max_drawdown_stop_pct, high_water_mark, current_equity, status,
		       created_at, updated_at
		FROM copy_relationships WHERE id = ?`, id)

	var r CopyRelationship
	err := row.Scan(&r.ID, &r.FollowerID, &r.LeaderID, &r.LeaderStrategyID,
		&r.AllocationPct, &r.MaxDrawdownStopPct, &r.HighWaterMark, &r.CurrentEquity,
		&r.Status, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get copy relationship: %w", err)
	}
	return &r, nil
}

// ListActiveFollowers returns every active relationship following the
// given leader.
func (d *Database) ListActiveFollowers(ctx context.Context, leaderID string) ([]*CopyRelationship, error) {
	if leaderID == "" {
		return nil, ErrOwnerIDRequired
	}
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, follower_id, leader_id, leader_strategy_id, allocation_pct,
		       max_drawdown_stop_pct, high_water_mark, current_equity, status,
		       created_at, updated_at
		FROM copy_relationships
		WHERE leader_id = ? AND status = ?`, leaderID, RelationshipActive)
	if err != nil {
		return nil, fmt.Errorf("list followers: %w", err)
	}
	defer rows.Close()

	var out []*CopyRelationship
	for rows.Next() {
		var r CopyRelationship
		if err := rows.Scan(&r.ID, &r.FollowerID, &r.LeaderID, &r.LeaderStrategyID,
			&r.AllocationPct, &r.MaxDrawdownStopPct, &r.HighWaterMark, &r.CurrentEquity,
			&r.Status, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan relationship: %w", err)
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

// UpdateRelationshipEquity writes the follower's latest equity and
// high-water mark after a copied trade settles.
func (d *Database) UpdateRelationshipEquity(ctx context.Context, id string, equity, highWaterMark float64) error {
	res, err := d.DB.ExecContext(ctx, `
		UPDATE copy_relationships
		SET current_equity = ?, high_water_mark = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`, equity, highWaterMark, id)
	if err != nil {
		return fmt.Errorf("update relationship equity: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetRelationshipStatus flips a relationship between active and
// paused. Drawdown enforcement uses this to auto-pause.
func (d *Database) SetRelationshipStatus(ctx context.Context, id, status string) error {
	res, err := d.DB.ExecContext(ctx, `
		UPDATE copy_relationships
		SET status = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("set relationship status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// InsertCopiedTrade records one replication attempt for a follower.
func (d *Database) InsertCopiedTrade(ctx context.Context, ct *CopiedTrade) error {
	if ct.ID == "" {
		ct.ID = uuid.NewString()
	}
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO copied_trades (id, relationship_id, leader_trade_id, follower_order_id,
		                           scaled_notional_usd, status, reason,
		                           realized_pnl_usd, fee_eligible_profit)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ct.ID, ct.RelationshipID, ct.LeaderTradeID, ct.FollowerOrderID,
		ct.ScaledNotionalUSD, ct.Status, ct.Reason,
		ct.RealizedPnLUSD, ct.FeeEligibleProfit)
	if err != nil {
		return fmt.Errorf("insert copied trade: %w", err)
	}
	return nil
}

// CloseCopiedTrade marks a copied trade closed and stores its settled
// numbers.
func (d *Database) CloseCopiedTrade(ctx context.Context, id string, realizedPnL, feeEligible float64) error {
	res, err := d.DB.ExecContext(ctx, `
		UPDATE copied_trades
		SET status = ?, realized_pnl_usd = ?, fee_eligible_profit = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`, CopiedClosed, realizedPnL, feeEligible, id)
	if err != nil {
		return fmt.Errorf("close copied trade: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
