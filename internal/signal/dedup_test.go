package signal

import (
	"context"
	"testing"
	"time"

	"github.com/justinhsu1477/crypto-signal-trader-sub000/pkg/db"
)

func newDedupDB(t *testing.T) *db.TradeQueries {
	t.Helper()

	database, err := db.New(":memory:")
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	if err := db.ApplyMigrations(database); err != nil {
		t.Fatalf("Failed to apply migrations: %v", err)
	}
	return db.NewTradeQueries(database.DB)
}

func TestDeduplicatorWindow(t *testing.T) {
	trades := newDedupDB(t)
	ctx := context.Background()

	sig := &TradeSignal{
		Symbol: "BTCUSDT", Side: SideLong, Type: TypeEntry,
		EntryPriceLow: 95000, EntryPriceHigh: 96000, StopLoss: 93000,
	}

	if err := trades.Insert(ctx, &db.Trade{
		TradeID:       "t-1",
		UserID:        "user-a",
		Symbol:        "BTCUSDT",
		Side:          db.SideLong,
		EntryPrice:    95500,
		EntryQuantity: 0.1,
		Leverage:      10,
		StopLoss:      93000,
		TakeProfits:   "[]",
		Status:        db.StatusOpen,
		SignalHash:    GenerateHash(sig),
	}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	d := NewDeduplicator(trades, time.Minute)

	t.Run("repeat inside window is duplicate", func(t *testing.T) {
		if !d.IsDuplicate(ctx, sig, "user-a") {
			t.Error("expected duplicate inside 60s window")
		}
	})

	t.Run("other user unaffected", func(t *testing.T) {
		if d.IsDuplicate(ctx, sig, "user-b") {
			t.Error("dedup must be per user")
		}
	})

	t.Run("different signal passes", func(t *testing.T) {
		other := *sig
		other.StopLoss = 92000
		if d.IsDuplicate(ctx, &other, "user-a") {
			t.Error("different SL hashes differently and must pass")
		}
	})

	t.Run("outside window passes", func(t *testing.T) {
		late := NewDeduplicator(trades, time.Minute)
		late.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
		if late.IsDuplicate(ctx, sig, "user-a") {
			t.Error("hash older than the window must pass")
		}
	})
}
