package executor

import (
	"context"
	"database/sql"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/justinhsu1477/crypto-signal-trader-sub000/internal/locks"
	"github.com/justinhsu1477/crypto-signal-trader-sub000/internal/notify"
	"github.com/justinhsu1477/crypto-signal-trader-sub000/internal/risk"
	"github.com/justinhsu1477/crypto-signal-trader-sub000/internal/settings"
	"github.com/justinhsu1477/crypto-signal-trader-sub000/internal/signal"
	"github.com/justinhsu1477/crypto-signal-trader-sub000/internal/trades"
	"github.com/justinhsu1477/crypto-signal-trader-sub000/pkg/cache"
	"github.com/justinhsu1477/crypto-signal-trader-sub000/pkg/config"
	"github.com/justinhsu1477/crypto-signal-trader-sub000/pkg/db"
	"github.com/justinhsu1477/crypto-signal-trader-sub000/pkg/exchanges/common"
)

// fakeVenue scripts venue responses and records every call.
type fakeVenue struct {
	balance      float64
	positionAmt  float64
	markPrice    float64
	hasOrders    bool
	openOrders   []common.OpenOrder
	queryErr     error

	entryFails      bool
	slFails         bool
	slErr           error
	tpFails         bool
	cancelFails     bool
	marketFails     bool
	cancelAllErr    error

	calls      []string
	nextID     int64
	stopPrices []float64
	tpPrices   []float64
}

func (f *fakeVenue) call(name string) { f.calls = append(f.calls, name) }

func (f *fakeVenue) order(ok bool, msg string) (common.OrderResult, error) {
	if !ok {
		return common.OrderResult{Success: false, ErrorMessage: msg}, nil
	}
	f.nextID++
	return common.OrderResult{Success: true, OrderID: f.nextID}, nil
}

func (f *fakeVenue) GetAvailableBalance(context.Context) (float64, error) {
	f.call("balance")
	return f.balance, f.queryErr
}

func (f *fakeVenue) GetCurrentPositionAmount(_ context.Context, _ string) (float64, error) {
	f.call("position")
	return f.positionAmt, f.queryErr
}

func (f *fakeVenue) HasOpenEntryOrders(context.Context, string) (bool, error) {
	f.call("hasOrders")
	return f.hasOrders, f.queryErr
}

func (f *fakeVenue) GetMarkPrice(context.Context, string) (float64, error) {
	f.call("mark")
	return f.markPrice, f.queryErr
}

func (f *fakeVenue) GetOpenOrders(context.Context, string) ([]common.OpenOrder, error) {
	f.call("openOrders")
	return f.openOrders, nil
}

func (f *fakeVenue) SetLeverage(context.Context, string, int) error  { f.call("leverage"); return nil }
func (f *fakeVenue) SetMarginType(context.Context, string, string) error {
	f.call("marginType")
	return nil
}

func (f *fakeVenue) PlaceLimitOrder(_ context.Context, _ string, _ common.Side, _, _ float64) (common.OrderResult, error) {
	f.call("limit")
	return f.order(!f.entryFails, "limit rejected")
}

func (f *fakeVenue) PlaceMarketOrder(_ context.Context, _ string, _ common.Side, _ float64, _ bool) (common.OrderResult, error) {
	f.call("market")
	return f.order(!f.marketFails, "market rejected")
}

func (f *fakeVenue) PlaceStopLoss(_ context.Context, _ string, _ common.Side, _, stopPrice float64) (common.OrderResult, error) {
	f.call("stopLoss")
	if f.slErr != nil {
		return common.OrderResult{}, f.slErr
	}
	if !f.slFails {
		f.stopPrices = append(f.stopPrices, stopPrice)
	}
	return f.order(!f.slFails, "sl rejected")
}

func (f *fakeVenue) PlaceTakeProfit(_ context.Context, _ string, _ common.Side, _, stopPrice float64) (common.OrderResult, error) {
	f.call("takeProfit")
	if !f.tpFails {
		f.tpPrices = append(f.tpPrices, stopPrice)
	}
	return f.order(!f.tpFails, "tp rejected")
}

func (f *fakeVenue) CancelOrder(context.Context, string, int64) (common.OrderResult, error) {
	f.call("cancel")
	return f.order(!f.cancelFails, "cancel rejected")
}

func (f *fakeVenue) CancelAllOrders(context.Context, string) error {
	f.call("cancelAll")
	return f.cancelAllErr
}

func (f *fakeVenue) called(name string) bool {
	for _, c := range f.calls {
		if c == name {
			return true
		}
	}
	return false
}

type fakeNotifier struct {
	titles  []string
	colours []notify.Colour
}

func (n *fakeNotifier) Notify(title, _ string, colour notify.Colour) {
	n.titles = append(n.titles, title)
	n.colours = append(n.colours, colour)
}

func (n *fakeNotifier) hasColour(c notify.Colour) bool {
	for _, got := range n.colours {
		if got == c {
			return true
		}
	}
	return false
}

type harness struct {
	exec     *Executor
	store    *trades.Store
	venue    *fakeVenue
	notifier *fakeNotifier
	users    *db.UserQueries
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	database, err := db.New(":memory:")
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := db.ApplyMigrations(database); err != nil {
		t.Fatalf("Failed to apply migrations: %v", err)
	}

	tradeQueries := db.NewTradeQueries(database.DB)
	userQueries := db.NewUserQueries(database.DB)
	store := trades.NewStore(tradeQueries)

	globals := config.DefaultSettings()
	globals.Risk.RiskPercent = 0.20
	globals.Risk.FixedLeverage = 20
	globals.Risk.MaxDailyLossUsdt = 0
	resolver := settings.NewResolver(globals, userQueries)

	filters := cache.NewShardedFilterCache()
	filters.Set("BTCUSDT", common.SymbolFilter{Symbol: "BTCUSDT", StepSize: 0.001})
	filters.Set("ETHUSDT", common.SymbolFilter{Symbol: "ETHUSDT", StepSize: 0.001})

	venue := &fakeVenue{balance: 1000, markPrice: 95000}
	notifier := &fakeNotifier{}

	exec := New(store,
		resolver,
		signal.NewDeduplicator(tradeQueries, time.Minute),
		risk.NewCircuitBreaker(tradeQueries),
		locks.NewRegistry(),
		filters,
		notifier)

	return &harness{exec: exec, store: store, venue: venue, notifier: notifier, users: userQueries}
}

func entrySignal() *signal.TradeSignal {
	return &signal.TradeSignal{
		Symbol:         "BTCUSDT",
		Side:           signal.SideLong,
		Type:           signal.TypeEntry,
		EntryPriceLow:  95000,
		EntryPriceHigh: 95000,
		StopLoss:       93000,
		TakeProfits:    []float64{100000},
	}
}

func TestEntryHappyPath(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res := h.exec.ExecuteSignal(ctx, h.venue, "user-a", entrySignal())
	if !res.Executed {
		t.Fatalf("entry rejected: %s", res.Reason)
	}
	// 1000 × 0.20 / 2000 = 0.1
	if math.Abs(res.Quantity-0.1) > 1e-9 {
		t.Errorf("qty = %v, want 0.1", res.Quantity)
	}

	tr, err := h.store.Queries().GetOpenTrade(ctx, "user-a", "BTCUSDT")
	if err != nil {
		t.Fatalf("GetOpenTrade: %v", err)
	}
	if tr.StopLoss != 93000 || tr.Status != db.StatusOpen {
		t.Errorf("trade = %+v", tr)
	}
	if len(h.venue.stopPrices) != 1 || h.venue.stopPrices[0] != 93000 {
		t.Errorf("SL placed at %v, want [93000]", h.venue.stopPrices)
	}
	if len(h.venue.tpPrices) != 1 || h.venue.tpPrices[0] != 100000 {
		t.Errorf("TP placed at %v, want [100000]", h.venue.tpPrices)
	}

	events, _ := h.store.Queries().ListEvents(ctx, tr.TradeID)
	kinds := map[string]bool{}
	for _, ev := range events {
		kinds[ev.EventType] = true
	}
	for _, want := range []string{db.EventEntryPlaced, db.EventSLPlaced, db.EventTPPlaced} {
		if !kinds[want] {
			t.Errorf("missing event %s", want)
		}
	}
}

func TestEntryDuplicateRejected(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first := h.exec.ExecuteSignal(ctx, h.venue, "user-a", entrySignal())
	if !first.Executed {
		t.Fatalf("first entry rejected: %s", first.Reason)
	}

	h.venue.calls = nil
	second := h.exec.ExecuteSignal(ctx, h.venue, "user-a", entrySignal())
	if second.Executed || second.Reason != ReasonDuplicate {
		t.Errorf("result = %+v, want rejection 重複", second)
	}
	if h.venue.called("limit") || h.venue.called("balance") {
		t.Errorf("duplicate must not reach the venue, calls = %v", h.venue.calls)
	}
}

func TestEntryWhitelistRejected(t *testing.T) {
	h := newHarness(t)

	sig := entrySignal()
	sig.Symbol = "DOGEUSDT"
	res := h.exec.ExecuteSignal(context.Background(), h.venue, "user-a", sig)
	if res.Executed || res.Reason != ReasonSymbolNotAllowed {
		t.Errorf("result = %+v, want whitelist rejection", res)
	}
}

func TestEntryCircuitBreaker(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if err := h.users.Upsert(ctx, &db.User{ID: "user-a", Enabled: true}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := h.users.UpsertSettings(ctx, &db.UserSettings{
		UserID:           "user-a",
		MaxDailyLossUsdt: sql.NullFloat64{Float64: 2000, Valid: true},
	}); err != nil {
		t.Fatalf("upsert settings: %v", err)
	}

	// Book a realised -2000 today on another symbol.
	seed, err := h.store.RecordEntry(ctx, trades.EntryParams{
		UserID: "user-a", Symbol: "ETHUSDT", Side: db.SideLong,
		EntryPrice: 3500, Quantity: 1, Leverage: 10, StopLoss: 3400, SignalHash: "seed",
	})
	if err != nil {
		t.Fatalf("seed entry: %v", err)
	}
	if err := h.store.Queries().Close(ctx, seed.TradeID, db.CloseParams{
		ExitTime: time.Now(), ExitReason: "SL_TRIGGERED",
		NetProfit: sql.NullFloat64{Float64: -2000, Valid: true},
	}); err != nil {
		t.Fatalf("seed close: %v", err)
	}

	res := h.exec.ExecuteSignal(ctx, h.venue, "user-a", entrySignal())
	if res.Executed || res.Reason != ReasonDailyLossLimit {
		t.Errorf("result = %+v, want 虧損已達上限", res)
	}
	if !h.notifier.hasColour(notify.ColourRed) {
		t.Error("circuit breaker must fire a red notification")
	}
	if h.venue.called("limit") {
		t.Error("no order may be placed past a tripped breaker")
	}
}

func TestEntryGuards(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*harness, *signal.TradeSignal)
		reason string
	}{
		{"existing position", func(h *harness, _ *signal.TradeSignal) { h.venue.positionAmt = 0.5 }, ReasonPositionExists},
		{"open entry orders", func(h *harness, _ *signal.TradeSignal) { h.venue.hasOrders = true }, ReasonOpenEntryOrders},
		{"missing stop loss", func(_ *harness, s *signal.TradeSignal) { s.StopLoss = 0 }, ReasonMissingStopLoss},
		{"stop on wrong side", func(_ *harness, s *signal.TradeSignal) { s.StopLoss = 96000 }, ReasonInvalidStopLoss},
		{"price deviation", func(h *harness, _ *signal.TradeSignal) { h.venue.markPrice = 120000 }, ReasonPriceDeviation},
		{"missing side", func(_ *harness, s *signal.TradeSignal) { s.Side = "" }, ReasonMissingSide},
		{"venue query failure", func(h *harness, _ *signal.TradeSignal) { h.venue.queryErr = errors.New("boom") }, ReasonPrecheckFailed},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			sig := entrySignal()
			tc.mutate(h, sig)

			res := h.exec.ExecuteSignal(context.Background(), h.venue, "user-a", sig)
			if res.Executed || res.Reason != tc.reason {
				t.Errorf("result = %+v, want reason %s", res, tc.reason)
			}
			if h.venue.called("limit") {
				t.Error("rejected entry must not place orders")
			}
		})
	}
}

func TestEntryFailSafeChain(t *testing.T) {
	t.Run("cancel succeeds", func(t *testing.T) {
		h := newHarness(t)
		h.venue.slFails = true

		res := h.exec.ExecuteSignal(context.Background(), h.venue, "user-a", entrySignal())
		if res.Executed || res.Reason != ReasonProtectionFailed {
			t.Errorf("result = %+v", res)
		}
		if !h.venue.called("cancel") {
			t.Error("entry must be cancelled after SL failure")
		}
		if h.venue.called("market") {
			t.Error("market close must not run when cancel succeeded")
		}
		if _, err := h.store.Queries().GetOpenTrade(context.Background(), "user-a", "BTCUSDT"); err != db.ErrNotFound {
			t.Errorf("no trade row may survive, got %v", err)
		}
	})

	t.Run("cancel fails, market close flattens", func(t *testing.T) {
		h := newHarness(t)
		h.venue.slFails = true
		h.venue.cancelFails = true

		res := h.exec.ExecuteSignal(context.Background(), h.venue, "user-a", entrySignal())
		if res.Executed {
			t.Errorf("result = %+v", res)
		}
		if !h.venue.called("market") {
			t.Error("expected fail-safe market close")
		}
	})

	t.Run("everything fails, critical alert", func(t *testing.T) {
		h := newHarness(t)
		h.venue.slFails = true
		h.venue.cancelFails = true
		h.venue.marketFails = true

		res := h.exec.ExecuteSignal(context.Background(), h.venue, "user-a", entrySignal())
		if res.Executed {
			t.Errorf("result = %+v", res)
		}
		if !h.notifier.hasColour(notify.ColourRed) {
			t.Error("expected red critical notification")
		}
	})
}

func TestEntryTPFailureNonFatal(t *testing.T) {
	h := newHarness(t)
	h.venue.tpFails = true

	res := h.exec.ExecuteSignal(context.Background(), h.venue, "user-a", entrySignal())
	if !res.Executed {
		t.Fatalf("TP failure must not block the entry: %s", res.Reason)
	}
	if !h.notifier.hasColour(notify.ColourYellow) {
		t.Error("expected yellow manual-TP notification")
	}
}

func TestDcaEntry(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.store.RecordEntry(ctx, trades.EntryParams{
		UserID: "user-a", Symbol: "BTCUSDT", Side: db.SideLong,
		EntryPrice: 95000, Quantity: 0.5, Leverage: 10,
		StopLoss: 93000, SignalHash: "seed",
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	h.venue.positionAmt = 0.5
	h.venue.balance = 10000
	h.venue.markPrice = 93000

	sig := entrySignal()
	sig.EntryPriceLow, sig.EntryPriceHigh = 93000, 93000
	sig.StopLoss = 91000
	sig.TakeProfits = nil
	sig.IsDca = true

	res := h.exec.ExecuteSignal(ctx, h.venue, "user-a", sig)
	if !res.Executed {
		t.Fatalf("dca rejected: %s", res.Reason)
	}

	tr, err := h.store.Queries().GetOpenTrade(ctx, "user-a", "BTCUSDT")
	if err != nil {
		t.Fatalf("GetOpenTrade: %v", err)
	}
	if tr.DcaCount != 1 {
		t.Errorf("dca count = %d, want 1", tr.DcaCount)
	}
	if tr.EntryPrice >= 95000 || tr.EntryPrice <= 93000 {
		t.Errorf("entry price = %v, want weighted average inside (93000, 95000)", tr.EntryPrice)
	}
	if tr.StopLoss != 91000 {
		t.Errorf("stop loss = %v, want signal's 91000", tr.StopLoss)
	}
}

func TestDcaGuards(t *testing.T) {
	t.Run("no position to average into", func(t *testing.T) {
		h := newHarness(t)
		sig := entrySignal()
		sig.IsDca = true
		res := h.exec.ExecuteSignal(context.Background(), h.venue, "user-a", sig)
		if res.Reason != ReasonNoPositionForDca {
			t.Errorf("reason = %s", res.Reason)
		}
	})

	t.Run("direction conflict", func(t *testing.T) {
		h := newHarness(t)
		ctx := context.Background()
		if _, err := h.store.RecordEntry(ctx, trades.EntryParams{
			UserID: "user-a", Symbol: "BTCUSDT", Side: db.SideLong,
			EntryPrice: 95000, Quantity: 0.5, Leverage: 10, StopLoss: 93000,
		}); err != nil {
			t.Fatalf("seed: %v", err)
		}
		h.venue.positionAmt = 0.5

		sig := entrySignal()
		sig.IsDca = true
		sig.Side = signal.SideShort
		sig.StopLoss = 97000
		res := h.exec.ExecuteSignal(ctx, h.venue, "user-a", sig)
		if res.Reason != ReasonDcaSideConflict {
			t.Errorf("reason = %s", res.Reason)
		}
	})

	t.Run("layer cap", func(t *testing.T) {
		h := newHarness(t)
		ctx := context.Background()
		if _, err := h.store.RecordEntry(ctx, trades.EntryParams{
			UserID: "user-a", Symbol: "BTCUSDT", Side: db.SideLong,
			EntryPrice: 95000, Quantity: 0.5, Leverage: 10, StopLoss: 93000,
		}); err != nil {
			t.Fatalf("seed: %v", err)
		}
		for i := 0; i < 3; i++ {
			if _, err := h.store.RecordDcaEntry(ctx, "user-a", "BTCUSDT", 94000, 0.1, 0, 0); err != nil {
				t.Fatalf("seed dca: %v", err)
			}
		}
		h.venue.positionAmt = 0.8

		sig := entrySignal()
		sig.IsDca = true
		res := h.exec.ExecuteSignal(ctx, h.venue, "user-a", sig)
		if res.Reason != ReasonMaxDcaReached {
			t.Errorf("reason = %s", res.Reason)
		}
	})
}

func TestMoveSL(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	seed, err := h.store.RecordEntry(ctx, trades.EntryParams{
		UserID: "user-a", Symbol: "BTCUSDT", Side: db.SideLong,
		EntryPrice: 95000, Quantity: 0.5, Leverage: 10, StopLoss: 93000,
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	h.venue.positionAmt = 0.5

	res := h.exec.ExecuteSignal(ctx, h.venue, "user-a", &signal.TradeSignal{
		Symbol: "BTCUSDT", Type: signal.TypeMoveSL, NewStopLoss: 94500,
	})
	if !res.Executed {
		t.Fatalf("move SL rejected: %s", res.Reason)
	}
	if !h.venue.called("cancelAll") {
		t.Error("old protection must be wiped first")
	}
	if len(h.venue.stopPrices) != 1 || h.venue.stopPrices[0] != 94500 {
		t.Errorf("SL placed at %v, want [94500]", h.venue.stopPrices)
	}

	tr, _ := h.store.Queries().Get(ctx, seed.TradeID)
	if tr.StopLoss != 94500 {
		t.Errorf("persisted SL = %v, want 94500", tr.StopLoss)
	}
}

func TestMoveSLDefaultsToCost(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.store.RecordEntry(ctx, trades.EntryParams{
		UserID: "user-a", Symbol: "BTCUSDT", Side: db.SideLong,
		EntryPrice: 95000, Quantity: 0.5, Leverage: 10, StopLoss: 93000,
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	h.venue.positionAmt = 0.5

	res := h.exec.ExecuteSignal(ctx, h.venue, "user-a", &signal.TradeSignal{
		Symbol: "BTCUSDT", Type: signal.TypeMoveSL, NewStopLoss: 0, NewTakeProfit: 102000,
	})
	if !res.Executed {
		t.Fatalf("move SL rejected: %s", res.Reason)
	}
	if len(h.venue.stopPrices) != 1 || h.venue.stopPrices[0] != 95000 {
		t.Errorf("SL placed at %v, want cost 95000", h.venue.stopPrices)
	}
	if len(h.venue.tpPrices) != 1 || h.venue.tpPrices[0] != 102000 {
		t.Errorf("TP placed at %v, want [102000]", h.venue.tpPrices)
	}
}

func TestCloseFull(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.store.RecordEntry(ctx, trades.EntryParams{
		UserID: "user-a", Symbol: "BTCUSDT", Side: db.SideLong,
		EntryPrice: 95000, Quantity: 1.0, Leverage: 10, StopLoss: 93000,
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	h.venue.positionAmt = 1.0

	res := h.exec.ExecuteSignal(ctx, h.venue, "user-a", &signal.TradeSignal{
		Symbol: "BTCUSDT", Type: signal.TypeClose,
	})
	if !res.Executed {
		t.Fatalf("close rejected: %s", res.Reason)
	}
	if !h.venue.called("market") {
		t.Error("full close uses a market order")
	}

	tr, err := h.store.Queries().GetOpenTrade(ctx, "user-a", "BTCUSDT")
	if err != db.ErrNotFound {
		t.Errorf("trade should be CLOSED, still open: %+v (%v)", tr, err)
	}
}

func TestClosePartialRehangsProtection(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.store.RecordEntry(ctx, trades.EntryParams{
		UserID: "user-a", Symbol: "BTCUSDT", Side: db.SideLong,
		EntryPrice: 95000, Quantity: 1.0, Leverage: 10, StopLoss: 93000,
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	h.venue.positionAmt = 1.0
	h.venue.openOrders = []common.OpenOrder{
		{Type: common.OrderTypeStopMarket, StopPrice: 93000},
		{Type: common.OrderTypeTakeProfitMarket, StopPrice: 100000},
	}

	res := h.exec.ExecuteSignal(ctx, h.venue, "user-a", &signal.TradeSignal{
		Symbol: "BTCUSDT", Type: signal.TypeClose, CloseRatio: 0.5,
	})
	if !res.Executed {
		t.Fatalf("partial close rejected: %s", res.Reason)
	}
	if math.Abs(res.Quantity-0.5) > 1e-9 {
		t.Errorf("close qty = %v, want 0.5", res.Quantity)
	}
	if !h.venue.called("limit") {
		t.Error("partial close uses a mark-anchored limit order")
	}
	if len(h.venue.stopPrices) != 1 || h.venue.stopPrices[0] != 93000 {
		t.Errorf("SL rehung at %v, want old 93000", h.venue.stopPrices)
	}
	if len(h.venue.tpPrices) != 1 || h.venue.tpPrices[0] != 100000 {
		t.Errorf("TP rehung at %v, want old 100000", h.venue.tpPrices)
	}

	tr, err := h.store.Queries().GetOpenTrade(ctx, "user-a", "BTCUSDT")
	if err != nil {
		t.Fatalf("trade must stay OPEN: %v", err)
	}
	if !tr.RemainingQuantity.Valid || math.Abs(tr.RemainingQuantity.Float64-0.5) > 1e-9 {
		t.Errorf("remaining = %+v, want 0.5", tr.RemainingQuantity)
	}
}

func TestCloseNoPositionNoFallback(t *testing.T) {
	h := newHarness(t)

	res := h.exec.ExecuteSignal(context.Background(), h.venue, "user-a", &signal.TradeSignal{
		Symbol: "BTCUSDT", Type: signal.TypeClose,
	})
	if res.Executed || res.Reason != ReasonNoPosition {
		t.Errorf("result = %+v", res)
	}
	if !h.venue.called("cancelAll") {
		t.Error("resting orders must still be wiped")
	}
}

func TestSymbolFallback(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// Only open trade is ETHUSDT; the CLOSE names BTCUSDT with no position.
	if _, err := h.store.RecordEntry(ctx, trades.EntryParams{
		UserID: "user-a", Symbol: "ETHUSDT", Side: db.SideLong,
		EntryPrice: 3500, Quantity: 1.0, Leverage: 10, StopLoss: 3400,
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	fb := &fallbackVenue{fakeVenue: h.venue}

	res := h.exec.ExecuteSignal(ctx, fb, "user-a", &signal.TradeSignal{
		Symbol: "BTCUSDT", Type: signal.TypeClose,
	})
	if !res.Executed {
		t.Fatalf("fallback close rejected: %s", res.Reason)
	}
	if res.Symbol != "ETHUSDT" {
		t.Errorf("symbol = %s, want fallback ETHUSDT", res.Symbol)
	}
	if !h.notifier.hasColour(notify.ColourYellow) {
		t.Error("fallback must fire a yellow notification")
	}
}

// fallbackVenue reports a flat BTCUSDT and a long position elsewhere,
// simulating a mis-symbolled close.
type fallbackVenue struct {
	*fakeVenue
}

func (f *fallbackVenue) GetCurrentPositionAmount(_ context.Context, symbol string) (float64, error) {
	if symbol == "BTCUSDT" {
		return 0, nil
	}
	return 1.0, nil
}

func TestCancel(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.store.RecordEntry(ctx, trades.EntryParams{
		UserID: "user-a", Symbol: "BTCUSDT", Side: db.SideLong,
		EntryPrice: 95000, Quantity: 0.5, Leverage: 10, StopLoss: 93000,
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	res := h.exec.ExecuteSignal(ctx, h.venue, "user-a", &signal.TradeSignal{
		Symbol: "BTCUSDT", Type: signal.TypeCancel,
	})
	if !res.Executed {
		t.Fatalf("cancel rejected: %s", res.Reason)
	}
	if !h.venue.called("cancelAll") {
		t.Error("cancel must wipe resting orders")
	}
	if _, err := h.store.Queries().GetOpenTrade(ctx, "user-a", "BTCUSDT"); err != db.ErrNotFound {
		t.Errorf("trade should be CANCELLED, got %v", err)
	}
}

func TestTriggerSignalUsesDefaultSymbol(t *testing.T) {
	h := newHarness(t)

	// Trigger-dialect signals carry no symbol; the default applies.
	res := h.exec.ExecuteSignal(context.Background(), h.venue, "user-a", &signal.TradeSignal{
		Side: signal.SideLong, Type: signal.TypeEntry,
		EntryPriceLow: 95000, EntryPriceHigh: 95000, StopLoss: 93000,
	})
	if !res.Executed {
		t.Fatalf("trigger entry rejected: %s", res.Reason)
	}
	if res.Symbol != "BTCUSDT" {
		t.Errorf("symbol = %s, want default BTCUSDT", res.Symbol)
	}
}
