package db

import (
	"context"
	"database/sql"
	"strings"
	"testing"
	"time"
)

func newTestDB(t *testing.T) *Database {
	t.Helper()

	database, err := New(":memory:")
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	if err := ApplyMigrations(database); err != nil {
		t.Fatalf("Failed to apply migrations: %v", err)
	}
	return database
}

func openTrade(userID, symbol string) *Trade {
	return &Trade{
		TradeID:       "trade-" + userID + "-" + symbol,
		UserID:        userID,
		Symbol:        symbol,
		Side:          SideLong,
		EntryPrice:    95000,
		EntryQuantity: 0.1,
		Leverage:      10,
		StopLoss:      93000,
		TakeProfits:   "[100000]",
		Status:        StatusOpen,
		SignalHash:    "hash-1",
	}
}

func TestTradeQueriesRequireUserID(t *testing.T) {
	database := newTestDB(t)
	q := NewTradeQueries(database.DB)
	ctx := context.Background()

	t.Run("GetOpenTrade requires userID", func(t *testing.T) {
		_, err := q.GetOpenTrade(ctx, "", "BTCUSDT")
		if err != ErrUserIDRequired {
			t.Errorf("expected ErrUserIDRequired, got %v", err)
		}
	})

	t.Run("GetOpenTrades requires userID", func(t *testing.T) {
		_, err := q.GetOpenTrades(ctx, "")
		if err != ErrUserIDRequired {
			t.Errorf("expected ErrUserIDRequired, got %v", err)
		}
	})

	t.Run("Insert requires userID", func(t *testing.T) {
		err := q.Insert(ctx, &Trade{TradeID: "x", Symbol: "BTCUSDT"})
		if err != ErrUserIDRequired {
			t.Errorf("expected ErrUserIDRequired, got %v", err)
		}
	})

	t.Run("Summarize requires userID", func(t *testing.T) {
		_, err := q.Summarize(ctx, "")
		if err != ErrUserIDRequired {
			t.Errorf("expected ErrUserIDRequired, got %v", err)
		}
	})
}

func TestTradeDataIsolation(t *testing.T) {
	database := newTestDB(t)
	q := NewTradeQueries(database.DB)
	ctx := context.Background()

	if err := q.Insert(ctx, openTrade("user-a", "BTCUSDT")); err != nil {
		t.Fatalf("Failed to insert trade A: %v", err)
	}
	if err := q.Insert(ctx, openTrade("user-b", "ETHUSDT")); err != nil {
		t.Fatalf("Failed to insert trade B: %v", err)
	}

	t.Run("User A sees only their trades", func(t *testing.T) {
		trades, err := q.GetOpenTrades(ctx, "user-a")
		if err != nil {
			t.Fatalf("GetOpenTrades: %v", err)
		}
		if len(trades) != 1 || trades[0].UserID != "user-a" {
			t.Errorf("expected 1 trade for user-a, got %d", len(trades))
		}
	})

	t.Run("Unknown user sees no trades", func(t *testing.T) {
		trades, err := q.GetOpenTrades(ctx, "user-unknown")
		if err != nil {
			t.Fatalf("GetOpenTrades: %v", err)
		}
		if len(trades) != 0 {
			t.Errorf("expected 0 trades, got %d", len(trades))
		}
	})
}

func TestOpenTradeUniquePerUserSymbol(t *testing.T) {
	database := newTestDB(t)
	q := NewTradeQueries(database.DB)
	ctx := context.Background()

	first := openTrade("user-a", "BTCUSDT")
	if err := q.Insert(ctx, first); err != nil {
		t.Fatalf("first insert: %v", err)
	}

	second := openTrade("user-a", "BTCUSDT")
	second.TradeID = "trade-dup"
	err := q.Insert(ctx, second)
	if err == nil {
		t.Fatal("expected unique index violation for second OPEN trade")
	}
	if !strings.Contains(strings.ToLower(err.Error()), "unique") {
		t.Errorf("expected unique constraint error, got %v", err)
	}

	// After closing, a fresh OPEN trade for the same pair is allowed.
	if err := q.Close(ctx, first.TradeID, CloseParams{
		ExitPrice:    sql.NullFloat64{Float64: 96000, Valid: true},
		ExitQuantity: sql.NullFloat64{Float64: 0.1, Valid: true},
		ExitTime:     time.Now(),
		ExitReason:   "MANUAL",
		GrossProfit:  sql.NullFloat64{Float64: 100, Valid: true},
		Commission:   sql.NullFloat64{Float64: 5, Valid: true},
		NetProfit:    sql.NullFloat64{Float64: 95, Valid: true},
	}); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := q.Insert(ctx, second); err != nil {
		t.Fatalf("insert after close: %v", err)
	}
}

func TestApplyDcaResetsPartialTracking(t *testing.T) {
	database := newTestDB(t)
	q := NewTradeQueries(database.DB)
	ctx := context.Background()

	tr := openTrade("user-a", "BTCUSDT")
	tr.EntryQuantity = 0.5
	if err := q.Insert(ctx, tr); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := q.PartialClose(ctx, tr.TradeID, 0.3, 0.2, "MANUAL_PARTIAL"); err != nil {
		t.Fatalf("partial close: %v", err)
	}

	if err := q.ApplyDca(ctx, tr.TradeID, 94250, 0.8, 12.0, 1, 92000); err != nil {
		t.Fatalf("apply dca: %v", err)
	}

	got, err := q.Get(ctx, tr.TradeID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.RemainingQuantity.Valid || got.TotalClosedQuantity.Valid {
		t.Error("expected partial tracking reset to NULL after DCA")
	}
	if got.EntryPrice != 94250 || got.EntryQuantity != 0.8 || got.DcaCount != 1 {
		t.Errorf("unexpected entry leg after DCA: price=%v qty=%v dca=%d",
			got.EntryPrice, got.EntryQuantity, got.DcaCount)
	}
	if got.EffectiveOpenQuantity() != 0.8 {
		t.Errorf("EffectiveOpenQuantity = %v, want 0.8", got.EffectiveOpenQuantity())
	}
}

func TestHasRecentSignalHash(t *testing.T) {
	database := newTestDB(t)
	q := NewTradeQueries(database.DB)
	ctx := context.Background()

	tr := openTrade("user-a", "BTCUSDT")
	tr.SignalHash = "sig-abc"
	if err := q.Insert(ctx, tr); err != nil {
		t.Fatalf("insert: %v", err)
	}

	recent, err := q.HasRecentSignalHash(ctx, "user-a", "sig-abc", time.Now().Add(-time.Minute))
	if err != nil {
		t.Fatalf("HasRecentSignalHash: %v", err)
	}
	if !recent {
		t.Error("expected duplicate inside window")
	}

	old, err := q.HasRecentSignalHash(ctx, "user-a", "sig-abc", time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("HasRecentSignalHash: %v", err)
	}
	if old {
		t.Error("expected no duplicate with future cutoff")
	}

	other, err := q.HasRecentSignalHash(ctx, "user-b", "sig-abc", time.Now().Add(-time.Minute))
	if err != nil {
		t.Fatalf("HasRecentSignalHash: %v", err)
	}
	if other {
		t.Error("dedup must be per user")
	}
}

func TestSummarizeCountsNullNetAsLoss(t *testing.T) {
	database := newTestDB(t)
	q := NewTradeQueries(database.DB)
	ctx := context.Background()

	win := openTrade("user-a", "BTCUSDT")
	win.TradeID = "t-win"
	if err := q.Insert(ctx, win); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := q.Close(ctx, "t-win", CloseParams{
		ExitPrice:   sql.NullFloat64{Float64: 96000, Valid: true},
		ExitTime:    time.Now(),
		ExitReason:  "TP_TRIGGERED",
		GrossProfit: sql.NullFloat64{Float64: 100, Valid: true},
		Commission:  sql.NullFloat64{Float64: 4, Valid: true},
		NetProfit:   sql.NullFloat64{Float64: 96, Valid: true},
	}); err != nil {
		t.Fatalf("close win: %v", err)
	}

	// Closed with accounting skipped: net_profit stays NULL.
	skip := openTrade("user-a", "ETHUSDT")
	skip.TradeID = "t-skip"
	if err := q.Insert(ctx, skip); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := q.Close(ctx, "t-skip", CloseParams{
		ExitTime:   time.Now(),
		ExitReason: "SL_TRIGGERED",
	}); err != nil {
		t.Fatalf("close skip: %v", err)
	}

	s, err := q.Summarize(ctx, "user-a")
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if s.Closed != 2 || s.Wins != 1 || s.Losses != 1 {
		t.Errorf("summary = %+v, want closed=2 wins=1 losses=1", s)
	}
	if s.TotalNet != 96 {
		t.Errorf("TotalNet = %v, want 96 (NULL contributes zero)", s.TotalNet)
	}
}

func TestRealisedNetSince(t *testing.T) {
	database := newTestDB(t)
	q := NewTradeQueries(database.DB)
	ctx := context.Background()

	tr := openTrade("user-a", "BTCUSDT")
	if err := q.Insert(ctx, tr); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := q.Close(ctx, tr.TradeID, CloseParams{
		ExitPrice:  sql.NullFloat64{Float64: 93000, Valid: true},
		ExitTime:   time.Now(),
		ExitReason: "SL_TRIGGERED",
		NetProfit:  sql.NullFloat64{Float64: -1028.1, Valid: true},
	}); err != nil {
		t.Fatalf("close: %v", err)
	}

	dayStart := time.Now().UTC().Truncate(24 * time.Hour)
	net, err := q.RealisedNetSince(ctx, "user-a", dayStart)
	if err != nil {
		t.Fatalf("RealisedNetSince: %v", err)
	}
	if net != -1028.1 {
		t.Errorf("net = %v, want -1028.1", net)
	}
}

func TestTradeEvents(t *testing.T) {
	database := newTestDB(t)
	q := NewTradeQueries(database.DB)
	ctx := context.Background()

	tr := openTrade("user-a", "BTCUSDT")
	if err := q.Insert(ctx, tr); err != nil {
		t.Fatalf("insert: %v", err)
	}

	events := []string{EventEntryPlaced, EventSLPlaced, EventTPPlaced}
	for _, kind := range events {
		if err := q.InsertEvent(ctx, &TradeEvent{
			TradeID:   tr.TradeID,
			EventType: kind,
			Side:      "BUY",
			Type:      "LIMIT",
			Price:     95000,
			Quantity:  0.1,
			Success:   true,
		}); err != nil {
			t.Fatalf("insert event %s: %v", kind, err)
		}
	}

	got, err := q.ListEvents(ctx, tr.TradeID)
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(got) != len(events) {
		t.Fatalf("expected %d events, got %d", len(events), len(got))
	}
	for i, kind := range events {
		if got[i].EventType != kind {
			t.Errorf("event %d = %s, want %s (insertion order)", i, got[i].EventType, kind)
		}
	}
}

func TestUserQueries(t *testing.T) {
	database := newTestDB(t)
	q := NewUserQueries(database.DB)
	ctx := context.Background()

	t.Run("Get requires userID", func(t *testing.T) {
		if _, err := q.Get(ctx, ""); err != ErrUserIDRequired {
			t.Errorf("expected ErrUserIDRequired, got %v", err)
		}
	})

	t.Run("Get unknown returns ErrNotFound", func(t *testing.T) {
		if _, err := q.Get(ctx, "nobody"); err != ErrNotFound {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("Upsert and credentials", func(t *testing.T) {
		u := &User{ID: "user-a", DisplayName: "A", AutoTradeEnabled: true, Enabled: true}
		if err := q.Upsert(ctx, u); err != nil {
			t.Fatalf("Upsert: %v", err)
		}

		got, err := q.Get(ctx, "user-a")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.HasAPIKey() {
			t.Error("fresh user should have no API key")
		}

		if err := q.SetCredentials(ctx, "user-a", "ENC[v1]:key", "ENC[v1]:secret", 1); err != nil {
			t.Fatalf("SetCredentials: %v", err)
		}
		got, _ = q.Get(ctx, "user-a")
		if !got.HasAPIKey() || got.KeyVersion != 1 {
			t.Errorf("credentials not stored: %+v", got)
		}
	})

	t.Run("Broadcast targets filter disabled users", func(t *testing.T) {
		if err := q.Upsert(ctx, &User{ID: "user-b", AutoTradeEnabled: false, Enabled: true}); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
		if err := q.Upsert(ctx, &User{ID: "user-c", AutoTradeEnabled: true, Enabled: false}); err != nil {
			t.Fatalf("Upsert: %v", err)
		}

		targets, err := q.ListBroadcastTargets(ctx)
		if err != nil {
			t.Fatalf("ListBroadcastTargets: %v", err)
		}
		if len(targets) != 1 || targets[0].ID != "user-a" {
			t.Errorf("expected only user-a, got %d targets", len(targets))
		}
	})

	t.Run("Settings round trip", func(t *testing.T) {
		if _, err := q.GetSettings(ctx, "user-a"); err != ErrNotFound {
			t.Errorf("expected ErrNotFound, got %v", err)
		}

		s := &UserSettings{
			UserID:         "user-a",
			RiskPercent:    sql.NullFloat64{Float64: 0.05, Valid: true},
			FixedLeverage:  sql.NullInt64{Int64: 20, Valid: true},
			AllowedSymbols: sql.NullString{String: `["BTCUSDT"]`, Valid: true},
			DedupEnabled:   sql.NullBool{Bool: false, Valid: true},
		}
		if err := q.UpsertSettings(ctx, s); err != nil {
			t.Fatalf("UpsertSettings: %v", err)
		}

		got, err := q.GetSettings(ctx, "user-a")
		if err != nil {
			t.Fatalf("GetSettings: %v", err)
		}
		if !got.RiskPercent.Valid || got.RiskPercent.Float64 != 0.05 {
			t.Errorf("RiskPercent = %+v, want 0.05", got.RiskPercent)
		}
		if got.MaxPositionUsdt.Valid {
			t.Error("MaxPositionUsdt should stay NULL")
		}
		if !got.DedupEnabled.Valid || got.DedupEnabled.Bool {
			t.Errorf("DedupEnabled = %+v, want explicit false", got.DedupEnabled)
		}
	})
}
