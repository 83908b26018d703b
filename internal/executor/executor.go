// Package executor runs the trade state machine: ENTRY (with DCA), MOVE_SL,
// CLOSE and CANCEL, including the fail-safe escalation chain.
package executor

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strconv"

	"github.com/google/uuid"

	"github.com/justinhsu1477/crypto-signal-trader-sub000/internal/balance"
	"github.com/justinhsu1477/crypto-signal-trader-sub000/internal/locks"
	"github.com/justinhsu1477/crypto-signal-trader-sub000/internal/notify"
	"github.com/justinhsu1477/crypto-signal-trader-sub000/internal/risk"
	"github.com/justinhsu1477/crypto-signal-trader-sub000/internal/settings"
	"github.com/justinhsu1477/crypto-signal-trader-sub000/internal/signal"
	"github.com/justinhsu1477/crypto-signal-trader-sub000/internal/trades"
	"github.com/justinhsu1477/crypto-signal-trader-sub000/pkg/cache"
	"github.com/justinhsu1477/crypto-signal-trader-sub000/pkg/db"
	"github.com/justinhsu1477/crypto-signal-trader-sub000/pkg/exchanges/common"
	"github.com/justinhsu1477/crypto-signal-trader-sub000/pkg/i18n"
)

// Entry prices may deviate from the mark by at most 10%.
const maxPriceDeviation = 0.10

// Partial closes anchor their limit order at the mark price.
const marginTypeCross = "CROSSED"

// VenueClient is the slice of the exchange client the executor needs.
type VenueClient interface {
	GetAvailableBalance(ctx context.Context) (float64, error)
	GetCurrentPositionAmount(ctx context.Context, symbol string) (float64, error)
	HasOpenEntryOrders(ctx context.Context, symbol string) (bool, error)
	GetMarkPrice(ctx context.Context, symbol string) (float64, error)
	GetOpenOrders(ctx context.Context, symbol string) ([]common.OpenOrder, error)
	SetLeverage(ctx context.Context, symbol string, leverage int) error
	SetMarginType(ctx context.Context, symbol, marginType string) error
	PlaceLimitOrder(ctx context.Context, symbol string, side common.Side, quantity, price float64) (common.OrderResult, error)
	PlaceMarketOrder(ctx context.Context, symbol string, side common.Side, quantity float64, reduceOnly bool) (common.OrderResult, error)
	PlaceStopLoss(ctx context.Context, symbol string, side common.Side, quantity, stopPrice float64) (common.OrderResult, error)
	PlaceTakeProfit(ctx context.Context, symbol string, side common.Side, quantity, stopPrice float64) (common.OrderResult, error)
	CancelOrder(ctx context.Context, symbol string, orderID int64) (common.OrderResult, error)
	CancelAllOrders(ctx context.Context, symbol string) error
}

// Result is the outcome of one executor operation.
type Result struct {
	Executed bool
	Reason   string // set when rejected or failed
	TradeID  string
	Symbol   string
	Quantity float64
}

func rejected(reason string) Result {
	return Result{Reason: reason}
}

// Executor coordinates guards, sizing, venue calls and persistence. One
// instance serves all users; the venue client is supplied per call because
// every user trades with their own credentials.
type Executor struct {
	store    *trades.Store
	resolver *settings.Resolver
	dedup    *signal.Deduplicator
	sizer    *risk.Sizer
	breaker  *risk.CircuitBreaker
	locks    *locks.Registry
	filters  *cache.ShardedFilterCache
	notifier notify.Notifier
	balances *balance.Cache
}

// New creates an Executor.
func New(store *trades.Store, resolver *settings.Resolver, dedup *signal.Deduplicator,
	breaker *risk.CircuitBreaker, lockReg *locks.Registry, filters *cache.ShardedFilterCache,
	notifier notify.Notifier) *Executor {
	return &Executor{
		store:    store,
		resolver: resolver,
		dedup:    dedup,
		sizer:    risk.NewSizer(),
		breaker:  breaker,
		locks:    lockReg,
		filters:  filters,
		notifier: notifier,
	}
}

// SetBalanceCache wires the optional per-user balance snapshot cache. Every
// successful balance fetch refreshes it.
func (e *Executor) SetBalanceCache(c *balance.Cache) {
	e.balances = c
}

// OpenTrades lists the user's OPEN trades, for administrative close-outs.
func (e *Executor) OpenTrades(ctx context.Context, userID string) ([]*db.Trade, error) {
	return e.store.Queries().GetOpenTrades(ctx, userID)
}

// ExecuteSignal dispatches a parsed signal for one user.
func (e *Executor) ExecuteSignal(ctx context.Context, venue VenueClient, userID string, sig *signal.TradeSignal) Result {
	cfg := e.resolver.Resolve(ctx, userID)

	symbol := sig.Symbol
	if symbol == "" {
		symbol = cfg.DefaultSymbol
	}
	if symbol == "" {
		return rejected(ReasonMissingSymbol)
	}

	switch sig.Type {
	case signal.TypeEntry:
		return e.executeEntry(ctx, venue, &cfg, symbol, sig)
	case signal.TypeMoveSL:
		return e.executeMoveSL(ctx, venue, userID, symbol, sig)
	case signal.TypeClose:
		return e.executeClose(ctx, venue, userID, symbol, sig)
	case signal.TypeCancel:
		return e.executeCancel(ctx, venue, userID, symbol)
	default:
		return rejected(ReasonPrecheckFailed)
	}
}

// executeEntry implements the guarded entry ladder for fresh entries and DCA.
func (e *Executor) executeEntry(ctx context.Context, venue VenueClient, cfg *settings.EffectiveConfig, symbol string, sig *signal.TradeSignal) Result {
	userID := cfg.UserID
	unlock := e.locks.Lock(userID, symbol)
	defer unlock()

	// Guard 1: dedup and whitelist.
	if cfg.DedupEnabled && e.dedup.IsDuplicate(ctx, sig, userID) {
		return rejected(ReasonDuplicate)
	}
	if !cfg.SymbolAllowed(symbol) {
		return rejected(ReasonSymbolNotAllowed)
	}

	// Guard 2: balance.
	balanceUsdt, err := venue.GetAvailableBalance(ctx)
	if err != nil {
		log.Printf(i18n.Get("BalanceSyncFailed"), userID, err)
		return rejected(ReasonPrecheckFailed)
	}
	if e.balances != nil {
		e.balances.Record(userID, balanceUsdt)
	}

	// Guard 3: daily-loss circuit breaker.
	ok, realised, err := e.breaker.Allow(ctx, userID, cfg.MaxDailyLossUsdt)
	if err != nil {
		return rejected(ReasonPrecheckFailed)
	}
	if !ok {
		log.Printf(i18n.Get("CircuitBreakerTripped"), userID, -realised, cfg.MaxDailyLossUsdt)
		e.notifier.Notify("熔斷觸發", fmt.Sprintf("用戶 %s 當日虧損 %.2f 已達上限 %.2f，停止開倉", userID, -realised, cfg.MaxDailyLossUsdt), notify.ColourRed)
		return rejected(ReasonDailyLossLimit)
	}

	// Guard 4: venue position state.
	positionAmt, err := venue.GetCurrentPositionAmount(ctx, symbol)
	if err != nil {
		return rejected(ReasonPrecheckFailed)
	}

	var openTrade *db.Trade
	side := sig.Side
	if sig.IsDca {
		if positionAmt == 0 {
			return rejected(ReasonNoPositionForDca)
		}
		openTrade, err = e.store.Queries().GetOpenTrade(ctx, userID, symbol)
		if err != nil {
			return rejected(ReasonPrecheckFailed)
		}
		if side == "" {
			side = signal.Side(openTrade.Side)
		} else if string(side) != openTrade.Side {
			return rejected(ReasonDcaSideConflict)
		}
		if openTrade.DcaCount >= cfg.MaxDcaLayers {
			return rejected(ReasonMaxDcaReached)
		}
	} else {
		if positionAmt != 0 {
			return rejected(ReasonPositionExists)
		}
		hasOrders, err := venue.HasOpenEntryOrders(ctx, symbol)
		if err != nil {
			return rejected(ReasonPrecheckFailed)
		}
		if hasOrders {
			return rejected(ReasonOpenEntryOrders)
		}
	}
	if side == "" {
		return rejected(ReasonMissingSide)
	}

	// Guard 5: signal validation.
	entry := sig.EntryPrice()
	if sig.StopLoss <= 0 {
		return rejected(ReasonMissingStopLoss)
	}
	if side == signal.SideLong && sig.StopLoss >= entry {
		return rejected(ReasonInvalidStopLoss)
	}
	if side == signal.SideShort && sig.StopLoss <= entry {
		return rejected(ReasonInvalidStopLoss)
	}
	mark, err := venue.GetMarkPrice(ctx, symbol)
	if err != nil {
		return rejected(ReasonPrecheckFailed)
	}
	if dev := abs(entry-mark) / mark; dev > maxPriceDeviation {
		return rejected(ReasonPriceDeviation)
	}

	// Sizing.
	step := 0.0
	if f, ok := e.filters.Get(symbol); ok {
		step = f.StepSize
	}
	dcaLayer := 0
	if sig.IsDca {
		dcaLayer = openTrade.DcaCount + 1
	}
	qty, err := e.sizer.Quantity(risk.SizeInput{
		Balance:  balanceUsdt,
		Entry:    entry,
		StopLoss: sig.StopLoss,
		StepSize: step,
		DcaLayer: dcaLayer,
	}, cfg)
	if err != nil {
		return rejected(ReasonPrecheckFailed)
	}
	if qty <= 0 {
		log.Printf(i18n.Get("QuantityZero"), fmtFloat(step))
		return rejected(ReasonQuantityTooSmall)
	}

	// Leverage and margin mode are idempotent; "already set" is fine.
	if err := venue.SetLeverage(ctx, symbol, cfg.Leverage); err == nil {
		log.Printf(i18n.Get("LeverageSet"), symbol, cfg.Leverage)
	}
	if err := venue.SetMarginType(ctx, symbol, marginTypeCross); err == nil {
		log.Printf(i18n.Get("MarginTypeSet"), symbol, marginTypeCross)
	}

	return e.placeEntry(ctx, venue, cfg, symbol, side, entry, qty, balanceUsdt, sig, openTrade)
}

// placeEntry runs the order sequence: LIMIT entry, protective SL with the
// fail-safe chain, TPs, then persistence.
func (e *Executor) placeEntry(ctx context.Context, venue VenueClient, cfg *settings.EffectiveConfig,
	symbol string, side signal.Side, entry, qty, balance float64, sig *signal.TradeSignal, openTrade *db.Trade) Result {

	userID := cfg.UserID
	tradeID := uuid.NewString()
	if openTrade != nil {
		tradeID = openTrade.TradeID
	}

	entrySide := common.SideBuy
	if side == signal.SideShort {
		entrySide = common.SideSell
	}

	entryOrder, err := venue.PlaceLimitOrder(ctx, symbol, entrySide, qty, entry)
	if err != nil || !entryOrder.Success {
		msg := errText(entryOrder, err)
		log.Printf(i18n.Get("EntryFailed"), symbol, side, msg)
		e.store.RecordEvent(ctx, &db.TradeEvent{
			TradeID: tradeID, EventType: db.EventEntryFailed,
			Side: string(entrySide), Type: string(common.OrderTypeLimit),
			Price: entry, Quantity: qty, ErrorMessage: msg,
		})
		return rejected(ReasonEntryOrderFailed)
	}
	log.Printf(i18n.Get("EntryPlaced"), symbol, side, fmtFloat(qty), fmtFloat(entry), entryOrder.OrderID)
	e.store.RecordEvent(ctx, &db.TradeEvent{
		TradeID: tradeID, EventType: db.EventEntryPlaced,
		VenueOrderID: orderID(entryOrder), Side: string(entrySide),
		Type: string(common.OrderTypeLimit), Price: entry, Quantity: qty, Success: true,
	})

	// Protective stop. Failure here escalates: never leave a position naked.
	slOrder, slErr := venue.PlaceStopLoss(ctx, symbol, entrySide.Opposite(), qty, sig.StopLoss)
	if slErr != nil || !slOrder.Success {
		return e.failSafe(ctx, venue, tradeID, symbol, entrySide, qty, entryOrder, errText(slOrder, slErr))
	}
	log.Printf(i18n.Get("SLPlaced"), symbol, fmtFloat(sig.StopLoss), slOrder.OrderID)
	e.store.RecordEvent(ctx, &db.TradeEvent{
		TradeID: tradeID, EventType: db.EventSLPlaced,
		VenueOrderID: orderID(slOrder), Side: string(entrySide.Opposite()),
		Type: string(common.OrderTypeStopMarket), Price: sig.StopLoss, Quantity: qty, Success: true,
	})

	// Take profits are best-effort.
	for _, tp := range sig.TakeProfits {
		tpOrder, tpErr := venue.PlaceTakeProfit(ctx, symbol, entrySide.Opposite(), qty, tp)
		if tpErr != nil || !tpOrder.Success {
			msg := errText(tpOrder, tpErr)
			log.Printf(i18n.Get("TPFailed"), symbol, fmtFloat(tp), msg)
			e.store.RecordEvent(ctx, &db.TradeEvent{
				TradeID: tradeID, EventType: db.EventTPFailed,
				Side: string(entrySide.Opposite()), Type: string(common.OrderTypeTakeProfitMarket),
				Price: tp, Quantity: qty, ErrorMessage: msg,
			})
			e.notifier.Notify("止盈掛單失敗", fmt.Sprintf("%s @ %s 需要手動掛止盈", symbol, fmtFloat(tp)), notify.ColourYellow)
			continue
		}
		log.Printf(i18n.Get("TPPlaced"), symbol, fmtFloat(tp), tpOrder.OrderID)
		e.store.RecordEvent(ctx, &db.TradeEvent{
			TradeID: tradeID, EventType: db.EventTPPlaced,
			VenueOrderID: orderID(tpOrder), Side: string(entrySide.Opposite()),
			Type: string(common.OrderTypeTakeProfitMarket), Price: tp, Quantity: qty, Success: true,
		})
	}

	// Persist.
	if sig.IsDca {
		t, err := e.store.RecordDcaEntry(ctx, userID, symbol, entry, qty, entryOrder.Commission, sig.StopLoss)
		if err != nil {
			return rejected(ReasonPrecheckFailed)
		}
		e.store.RecordEvent(ctx, &db.TradeEvent{
			TradeID: t.TradeID, EventType: db.EventDcaEntry,
			VenueOrderID: orderID(entryOrder), Side: string(entrySide),
			Type: string(common.OrderTypeLimit), Price: entry, Quantity: qty, Success: true,
		})
		return Result{Executed: true, TradeID: t.TradeID, Symbol: symbol, Quantity: qty}
	}

	t, err := e.store.RecordEntry(ctx, trades.EntryParams{
		TradeID:      tradeID,
		UserID:       userID,
		Symbol:       symbol,
		Side:         string(side),
		EntryPrice:   entry,
		Quantity:     qty,
		Commission:   entryOrder.Commission,
		EntryOrderID: entryOrder.OrderID,
		Leverage:     cfg.Leverage,
		RiskAmount:   balance * cfg.RiskPercent,
		StopLoss:     sig.StopLoss,
		TakeProfits:  sig.TakeProfits,
		SignalHash:   signal.GenerateHash(sig),
		SourceAuthor: sig.Source.Author,
	})
	if err != nil {
		return rejected(ReasonPrecheckFailed)
	}
	return Result{Executed: true, TradeID: t.TradeID, Symbol: symbol, Quantity: qty}
}

// failSafe runs the escalation chain after a failed stop-loss placement:
// cancel the entry; if that fails, market-flatten; if that fails too, raise
// a critical alert. Strictly in this order.
func (e *Executor) failSafe(ctx context.Context, venue VenueClient, tradeID, symbol string,
	entrySide common.Side, qty float64, entryOrder common.OrderResult, slError string) Result {

	log.Printf(i18n.Get("SLFailed"), symbol, slError)
	e.store.RecordEvent(ctx, &db.TradeEvent{
		TradeID: tradeID, EventType: db.EventSLFailed,
		Side: string(entrySide.Opposite()), Type: string(common.OrderTypeStopMarket),
		Quantity: qty, ErrorMessage: slError,
	})

	cancel, err := venue.CancelOrder(ctx, symbol, entryOrder.OrderID)
	if err == nil && cancel.Success {
		e.store.RecordEvent(ctx, &db.TradeEvent{
			TradeID: tradeID, EventType: db.EventEntryFailed,
			VenueOrderID: orderID(entryOrder),
			ErrorMessage: "entry cancelled after stop-loss failure",
		})
		return rejected(ReasonProtectionFailed)
	}

	// The entry may be live. Flatten at market.
	log.Printf(i18n.Get("FailSafeClosing"), symbol, fmtFloat(qty))
	closeOrder, closeErr := venue.PlaceMarketOrder(ctx, symbol, entrySide.Opposite(), qty, true)
	if closeErr == nil && closeOrder.Success {
		log.Printf(i18n.Get("FailSafeCloseOK"), symbol)
		e.store.RecordEvent(ctx, &db.TradeEvent{
			TradeID: tradeID, EventType: db.EventFailSafeClose,
			VenueOrderID: orderID(closeOrder), Side: string(entrySide.Opposite()),
			Type: string(common.OrderTypeMarket), Quantity: qty, Success: true,
		})
		return rejected(ReasonProtectionFailed)
	}

	msg := errText(closeOrder, closeErr)
	log.Printf(i18n.Get("FailSafeCloseFail"), symbol, msg)
	e.store.RecordEvent(ctx, &db.TradeEvent{
		TradeID: tradeID, EventType: db.EventFailSafeClose,
		Side: string(entrySide.Opposite()), Type: string(common.OrderTypeMarket),
		Quantity: qty, ErrorMessage: msg,
	})
	e.notifier.Notify("緊急平倉失敗", fmt.Sprintf("%s 持倉可能無保護，請立即手動處理：%s", symbol, msg), notify.ColourRed)
	return rejected(ReasonProtectionFailed)
}

func orderID(r common.OrderResult) sql.NullInt64 {
	return sql.NullInt64{Int64: r.OrderID, Valid: r.OrderID != 0}
}

func errText(r common.OrderResult, err error) string {
	if err != nil {
		return err.Error()
	}
	if r.ErrorMessage != "" {
		return r.ErrorMessage
	}
	return "order not accepted"
}

func fmtFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
