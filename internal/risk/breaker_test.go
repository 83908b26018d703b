package risk

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/justinhsu1477/crypto-signal-trader-sub000/pkg/db"
)

func newBreakerDB(t *testing.T) *db.TradeQueries {
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

func closeWithNet(t *testing.T, q *db.TradeQueries, tradeID, userID string, net float64, exitTime time.Time) {
	t.Helper()

	if err := q.Insert(context.Background(), &db.Trade{
		TradeID: tradeID, UserID: userID, Symbol: "BTCUSDT", Side: db.SideLong,
		EntryPrice: 95000, EntryQuantity: 0.1, Leverage: 10,
		StopLoss: 93000, TakeProfits: "[]", Status: db.StatusOpen,
	}); err != nil {
		t.Fatalf("insert %s: %v", tradeID, err)
	}
	if err := q.Close(context.Background(), tradeID, db.CloseParams{
		ExitTime:   exitTime,
		ExitReason: "SL_TRIGGERED",
		NetProfit:  sql.NullFloat64{Float64: net, Valid: true},
	}); err != nil {
		t.Fatalf("close %s: %v", tradeID, err)
	}
}

func TestCircuitBreaker(t *testing.T) {
	trades := newBreakerDB(t)
	b := NewCircuitBreaker(trades)
	ctx := context.Background()

	t.Run("disabled limit always allows", func(t *testing.T) {
		ok, _, err := b.Allow(ctx, "user-a", 0)
		if err != nil || !ok {
			t.Errorf("ok=%v err=%v, want allowed with limit 0", ok, err)
		}
	})

	t.Run("loss below limit allows", func(t *testing.T) {
		closeWithNet(t, trades, "t-1", "user-a", -500, time.Now())
		ok, net, err := b.Allow(ctx, "user-a", 2000)
		if err != nil {
			t.Fatalf("Allow: %v", err)
		}
		if !ok || net != -500 {
			t.Errorf("ok=%v net=%v, want allowed with -500", ok, net)
		}
	})

	t.Run("loss at limit trips", func(t *testing.T) {
		closeWithNet(t, trades, "t-2", "user-a", -1500, time.Now())
		ok, net, err := b.Allow(ctx, "user-a", 2000)
		if err != nil {
			t.Fatalf("Allow: %v", err)
		}
		if ok || net != -2000 {
			t.Errorf("ok=%v net=%v, want tripped at -2000", ok, net)
		}
	})

	t.Run("profitable day never trips", func(t *testing.T) {
		closeWithNet(t, trades, "t-3", "user-b", 3000, time.Now())
		ok, _, err := b.Allow(ctx, "user-b", 100)
		if err != nil || !ok {
			t.Errorf("ok=%v err=%v, want allowed on a winning day", ok, err)
		}
	})

	t.Run("yesterday's loss ignored", func(t *testing.T) {
		closeWithNet(t, trades, "t-4", "user-c", -5000, time.Now().UTC().Add(-48*time.Hour))
		ok, net, err := b.Allow(ctx, "user-c", 2000)
		if err != nil {
			t.Fatalf("Allow: %v", err)
		}
		if !ok || net != 0 {
			t.Errorf("ok=%v net=%v, want allowed with 0 realised today", ok, net)
		}
	})
}
