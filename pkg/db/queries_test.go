package db

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func newTestDB(t *testing.T) *Database {
	t.Helper()
	d, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := ApplyMigrations(d); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func TestCredentialRoundTrip(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()

	cred := &Credential{
		OwnerID:     "owner-1",
		ExchangeID:  "binance-futures",
		Environment: "production",
		APIKey:      "enc:v1:abc",
		APISecret:   "enc:v1:def",
	}
	if err := d.UpsertCredential(ctx, cred); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := d.GetCredential(ctx, "owner-1", "binance-futures", "production")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.APIKey != "enc:v1:abc" || got.APISecret != "enc:v1:def" {
		t.Errorf("secrets mismatch: %+v", got)
	}

	// Second upsert for the same tuple replaces, not duplicates.
	cred.APIKey = "enc:v1:xyz"
	if err := d.UpsertCredential(ctx, cred); err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	got, err = d.GetCredential(ctx, "owner-1", "binance-futures", "production")
	if err != nil {
		t.Fatalf("get after upsert: %v", err)
	}
	if got.APIKey != "enc:v1:xyz" {
		t.Errorf("expected replaced key, got %q", got.APIKey)
	}
}

func TestGetCredentialNotFound(t *testing.T) {
	d := newTestDB(t)
	_, err := d.GetCredential(context.Background(), "owner-1", "kite", "production")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestGetCredentialRequiresOwner(t *testing.T) {
	d := newTestDB(t)
	_, err := d.GetCredential(context.Background(), "", "kite", "production")
	if !errors.Is(err, ErrOwnerIDRequired) {
		t.Errorf("expected ErrOwnerIDRequired, got %v", err)
	}
}

func TestPositionLifecycle(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()

	pos := &Position{
		OwnerID:     "owner-1",
		ExchangeID:  "binance-futures",
		Symbol:      "BTC/USDT",
		Side:        "LONG",
		Qty:         0.02,
		EntryPrice:  50000,
		EntryAt:     time.Now().UTC(),
		NotionalUSD: 1000,
	}
	if err := d.UpsertPosition(ctx, pos); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	list, err := d.ListPositions(ctx, "owner-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].Symbol != "BTC/USDT" {
		t.Fatalf("unexpected list: %+v", list)
	}

	// Re-pricing updates the same row.
	pos.CurrentPrice = 51000
	pos.UnrealizedPnLUSD = 20
	if err := d.UpsertPosition(ctx, pos); err != nil {
		t.Fatalf("reprice upsert: %v", err)
	}
	list, _ = d.ListPositions(ctx, "owner-1")
	if len(list) != 1 {
		t.Fatalf("upsert duplicated row: %d", len(list))
	}
	if list[0].UnrealizedPnLUSD != 20 {
		t.Errorf("pnl not updated: %+v", list[0])
	}

	if err := d.DeletePosition(ctx, "owner-1", "binance-futures", "BTC/USDT"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	// Deleting again must stay silent.
	if err := d.DeletePosition(ctx, "owner-1", "binance-futures", "BTC/USDT"); err != nil {
		t.Fatalf("second delete: %v", err)
	}
	list, _ = d.ListPositions(ctx, "owner-1")
	if len(list) != 0 {
		t.Errorf("position not deleted: %+v", list)
	}
}

func TestListPositionsAllOwners(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()

	for _, owner := range []string{"a", "b"} {
		p := &Position{OwnerID: owner, ExchangeID: "backpack", Symbol: "SOL/USDC",
			Side: "SHORT", Qty: 10, EntryPrice: 150, EntryAt: time.Now(), NotionalUSD: 1500}
		if err := d.UpsertPosition(ctx, p); err != nil {
			t.Fatalf("upsert %s: %v", owner, err)
		}
	}
	list, err := d.ListPositions(ctx, "")
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(list) != 2 {
		t.Errorf("expected 2 rows, got %d", len(list))
	}
}

func TestTradeRecordInsertAndList(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()

	rec := &TradeRecord{
		OwnerID:        "owner-1",
		ExchangeID:     "capital",
		Symbol:         "GOLD/USD",
		Side:           "LONG",
		Qty:            1,
		EntryPrice:     2400,
		ExitPrice:      2450,
		EntryAt:        time.Now().Add(-time.Hour),
		ExitAt:         time.Now(),
		NotionalUSD:    2400,
		RealizedPnLUSD: 50,
		RealizedPnLPct: 2.08,
		ExitReason:     "signal",
	}
	if err := d.InsertTradeRecord(ctx, rec); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if rec.ID == "" {
		t.Error("insert did not assign an id")
	}

	list, err := d.ListTradeRecords(ctx, "owner-1", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].RealizedPnLUSD != 50 {
		t.Errorf("unexpected records: %+v", list)
	}

	other, err := d.ListTradeRecords(ctx, "owner-2", 10)
	if err != nil {
		t.Fatalf("list other owner: %v", err)
	}
	if len(other) != 0 {
		t.Errorf("owner isolation broken: %+v", other)
	}
}

func TestCopyRelationshipFlow(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()

	rel := &CopyRelationship{
		FollowerID:         "follower-1",
		LeaderID:           "leader-1",
		AllocationPct:      50,
		MaxDrawdownStopPct: 20,
		HighWaterMark:      1000,
		CurrentEquity:      1000,
	}
	if err := d.CreateCopyRelationship(ctx, rel); err != nil {
		t.Fatalf("create: %v", err)
	}

	active, err := d.ListActiveFollowers(ctx, "leader-1")
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(active) != 1 || active[0].Status != RelationshipActive {
		t.Fatalf("unexpected active list: %+v", active)
	}

	if err := d.UpdateRelationshipEquity(ctx, rel.ID, 1500, 1500); err != nil {
		t.Fatalf("update equity: %v", err)
	}
	if err := d.SetRelationshipStatus(ctx, rel.ID, RelationshipPaused); err != nil {
		t.Fatalf("pause: %v", err)
	}

	active, _ = d.ListActiveFollowers(ctx, "leader-1")
	if len(active) != 0 {
		t.Errorf("paused relationship still listed: %+v", active)
	}

	if err := d.SetRelationshipStatus(ctx, "missing", RelationshipActive); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for missing id, got %v", err)
	}
}

func TestCopiedTradeFlow(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()

	rel := &CopyRelationship{FollowerID: "f", LeaderID: "l", AllocationPct: 25}
	if err := d.CreateCopyRelationship(ctx, rel); err != nil {
		t.Fatalf("create relationship: %v", err)
	}

	ct := &CopiedTrade{
		RelationshipID:    rel.ID,
		LeaderTradeID:     "trade-1",
		FollowerOrderID:   "order-9",
		ScaledNotionalUSD: 250,
		Status:            CopiedFilled,
	}
	if err := d.InsertCopiedTrade(ctx, ct); err != nil {
		t.Fatalf("insert copied trade: %v", err)
	}
	if err := d.CloseCopiedTrade(ctx, ct.ID, 30, 30); err != nil {
		t.Fatalf("close copied trade: %v", err)
	}
	if err := d.CloseCopiedTrade(ctx, "missing", 0, 0); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
