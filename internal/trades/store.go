// Package trades owns trade lifecycle persistence and profit accounting.
// Row access lives in pkg/db; every decision (weighted averages, commission
// estimates, full-vs-partial splits) lives here.
package trades

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/justinhsu1477/crypto-signal-trader-sub000/pkg/db"
	"github.com/justinhsu1477/crypto-signal-trader-sub000/pkg/i18n"
)

// Fee estimates used when the venue does not report a USDT commission.
const (
	makerFeeRate = 0.0002 // entry LIMIT fills
	takerFeeRate = 0.0004 // market / stop exits
)

// Full-close threshold on the effective open quantity. Venue fills can be a
// hair under the recorded quantity after step-size flooring.
const fullCloseRatio = 0.999

// Store is the accounting layer over trade rows.
type Store struct {
	q   *db.TradeQueries
	now func() time.Time
}

// NewStore creates a Store.
func NewStore(q *db.TradeQueries) *Store {
	return &Store{q: q, now: time.Now}
}

// Queries exposes the underlying row access for read-only consumers.
func (s *Store) Queries() *db.TradeQueries {
	return s.q
}

// EncodeTakeProfits serialises TP levels as a JSON array.
func EncodeTakeProfits(tps []float64) string {
	if len(tps) == 0 {
		return "[]"
	}
	data, err := json.Marshal(tps)
	if err != nil {
		return "[]"
	}
	return string(data)
}

// DecodeTakeProfits parses the serialised TP list; bad data yields nil.
func DecodeTakeProfits(raw string) []float64 {
	var tps []float64
	if err := json.Unmarshal([]byte(raw), &tps); err != nil {
		return nil
	}
	return tps
}

// EntryParams describes a freshly filled entry. TradeID may be assigned by
// the caller so audit events can reference the trade before it is inserted.
type EntryParams struct {
	TradeID      string
	UserID       string
	Symbol       string
	Side         string
	EntryPrice   float64
	Quantity     float64
	Commission   float64 // venue-reported; 0 falls back to the maker estimate
	EntryOrderID int64
	Leverage     int
	RiskAmount   float64
	StopLoss     float64
	TakeProfits  []float64
	SignalHash   string
	SourceAuthor string
}

// RecordEntry inserts the OPEN trade for a fresh entry.
func (s *Store) RecordEntry(ctx context.Context, p EntryParams) (*db.Trade, error) {
	commission := p.Commission
	if commission <= 0 {
		commission = p.EntryPrice * p.Quantity * makerFeeRate
	}

	tradeID := p.TradeID
	if tradeID == "" {
		tradeID = uuid.NewString()
	}

	t := &db.Trade{
		TradeID:         tradeID,
		UserID:          p.UserID,
		Symbol:          p.Symbol,
		Side:            p.Side,
		EntryPrice:      p.EntryPrice,
		EntryQuantity:   p.Quantity,
		EntryCommission: commission,
		EntryOrderID:    sql.NullInt64{Int64: p.EntryOrderID, Valid: p.EntryOrderID != 0},
		EntryTime:       sql.NullTime{Time: s.now().UTC(), Valid: true},
		Leverage:        p.Leverage,
		RiskAmount:      p.RiskAmount,
		StopLoss:        p.StopLoss,
		TakeProfits:     EncodeTakeProfits(p.TakeProfits),
		Status:          db.StatusOpen,
		SignalHash:      p.SignalHash,
		SourceAuthorName: p.SourceAuthor,
	}
	if err := s.q.Insert(ctx, t); err != nil {
		return nil, err
	}
	log.Printf(i18n.Get("TradeOpened"), p.Symbol, p.Side, t.TradeID, fmtFloat(p.Quantity), fmtFloat(p.EntryPrice))
	return t, nil
}

// RecordDcaEntry folds an averaging fill into the open trade: the entry price
// becomes the weighted average over (effective open qty, new qty), partial
// tracking resets, dca_count increments. newStopLoss of 0 keeps the old stop.
func (s *Store) RecordDcaEntry(ctx context.Context, userID, symbol string, fillPrice, fillQty, commission, newStopLoss float64) (*db.Trade, error) {
	t, err := s.q.GetOpenTrade(ctx, userID, symbol)
	if err != nil {
		return nil, err
	}
	if fillQty <= 0 {
		return nil, fmt.Errorf("dca fill quantity %v is not positive", fillQty)
	}

	eff := t.EffectiveOpenQuantity()
	newQty := eff + fillQty
	newEntry := (t.EntryPrice*eff + fillPrice*fillQty) / newQty

	if commission <= 0 {
		commission = fillPrice * fillQty * makerFeeRate
	}
	sl := t.StopLoss
	if newStopLoss > 0 {
		sl = newStopLoss
	}

	if err := s.q.ApplyDca(ctx, t.TradeID, newEntry, newQty, t.EntryCommission+commission, t.DcaCount+1, sl); err != nil {
		return nil, err
	}
	log.Printf(i18n.Get("DcaApplied"), symbol, fmtFloat(newEntry), fmtFloat(newQty), t.DcaCount+1)
	return s.q.Get(ctx, t.TradeID)
}

// CloseFill describes the exit leg of a close.
type CloseFill struct {
	ExitPrice      float64
	FilledQty      float64 // 0 falls back to the effective open quantity
	ExitCommission float64 // venue-reported USDT; 0 falls back to the taker estimate
	ExitOrderID    int64
	Reason         string
	ExitTime       time.Time
}

// RecordClose marks the open trade CLOSED and books realised profit. A
// missing entry or exit price skips the profit computation and leaves the
// accounting columns NULL.
func (s *Store) RecordClose(ctx context.Context, userID, symbol string, fill CloseFill) (*db.Trade, error) {
	t, err := s.q.GetOpenTrade(ctx, userID, symbol)
	if err != nil {
		return nil, err
	}

	exitTime := fill.ExitTime
	if exitTime.IsZero() {
		exitTime = s.now().UTC()
	}

	p := db.CloseParams{
		ExitTime:   exitTime,
		ExitReason: fill.Reason,
	}
	if fill.ExitOrderID != 0 {
		p.ExitOrderID = sql.NullInt64{Int64: fill.ExitOrderID, Valid: true}
	}

	qty := fill.FilledQty
	if qty <= 0 {
		qty = t.EffectiveOpenQuantity()
	}

	if fill.ExitPrice > 0 && t.EntryPrice > 0 {
		direction := 1.0
		if t.Side == db.SideShort {
			direction = -1.0
		}
		gross := (fill.ExitPrice - t.EntryPrice) * qty * direction

		exitCommission := fill.ExitCommission
		if exitCommission <= 0 {
			exitCommission = fill.ExitPrice * qty * takerFeeRate
		}
		commission := t.EntryCommission + exitCommission

		p.ExitPrice = sql.NullFloat64{Float64: fill.ExitPrice, Valid: true}
		p.ExitQuantity = sql.NullFloat64{Float64: qty, Valid: true}
		p.ExitCommission = sql.NullFloat64{Float64: exitCommission, Valid: true}
		p.GrossProfit = sql.NullFloat64{Float64: gross, Valid: true}
		p.Commission = sql.NullFloat64{Float64: commission, Valid: true}
		p.NetProfit = sql.NullFloat64{Float64: gross - commission, Valid: true}
	} else {
		log.Printf(i18n.Get("AccountingSkipped"), symbol)
	}

	if err := s.q.Close(ctx, t.TradeID, p); err != nil {
		return nil, err
	}
	if p.NetProfit.Valid {
		log.Printf(i18n.Get("TradeClosed"), symbol, p.NetProfit.Float64, fill.Reason)
	}
	return s.q.Get(ctx, t.TradeID)
}

// RecordPartialClose books a partial exit: status stays OPEN, the closed
// quantity accumulates and the remainder is tracked. Profit is realised only
// on the final close.
func (s *Store) RecordPartialClose(ctx context.Context, userID, symbol string, closedQty float64, reason string) (*db.Trade, error) {
	t, err := s.q.GetOpenTrade(ctx, userID, symbol)
	if err != nil {
		return nil, err
	}
	if closedQty <= 0 {
		return nil, fmt.Errorf("partial close quantity %v is not positive", closedQty)
	}

	totalClosed := closedQty
	if t.TotalClosedQuantity.Valid {
		totalClosed += t.TotalClosedQuantity.Float64
	}
	remaining := t.EntryQuantity - totalClosed
	if remaining < 0 {
		remaining = 0
	}

	if err := s.q.PartialClose(ctx, t.TradeID, remaining, totalClosed, reason+"_PARTIAL"); err != nil {
		return nil, err
	}
	log.Printf(i18n.Get("PartialCloseDone"), symbol, fmtFloat(closedQty), fmtFloat(remaining))
	return s.q.Get(ctx, t.TradeID)
}

// RecordCloseFromStream reconciles a venue-reported protective fill. The fill
// counts as a full close when it covers at least 99.9% of the effective open
// quantity; anything less is a partial.
func (s *Store) RecordCloseFromStream(ctx context.Context, userID, symbol string, fill CloseFill) (*db.Trade, bool, error) {
	t, err := s.q.GetOpenTrade(ctx, userID, symbol)
	if err != nil {
		return nil, false, err
	}

	eff := t.EffectiveOpenQuantity()
	if fill.FilledQty >= fullCloseRatio*eff {
		closed, err := s.RecordClose(ctx, userID, symbol, fill)
		return closed, true, err
	}
	partial, err := s.RecordPartialClose(ctx, userID, symbol, fill.FilledQty, fill.Reason)
	return partial, false, err
}

// Cancel marks the open trade CANCELLED; no venue position remains.
func (s *Store) Cancel(ctx context.Context, userID, symbol, reason string) error {
	t, err := s.q.GetOpenTrade(ctx, userID, symbol)
	if err != nil {
		return err
	}
	if err := s.q.Cancel(ctx, t.TradeID, reason); err != nil {
		return err
	}
	log.Printf(i18n.Get("TradeCancelled"), symbol, reason)
	return nil
}

// UpdateProtection rewrites the stop and, when tps is non-nil, the TP list.
func (s *Store) UpdateProtection(ctx context.Context, tradeID string, stopLoss float64, tps []float64) error {
	if err := s.q.UpdateStopLoss(ctx, tradeID, stopLoss); err != nil {
		return err
	}
	if tps != nil {
		return s.q.UpdateTakeProfits(ctx, tradeID, EncodeTakeProfits(tps))
	}
	return nil
}

// RecordEvent appends an audit event for a trade.
func (s *Store) RecordEvent(ctx context.Context, ev *db.TradeEvent) {
	if err := s.q.InsertEvent(ctx, ev); err != nil {
		log.Printf("record trade event %s for %s: %v", ev.EventType, ev.TradeID, err)
	}
}

func fmtFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// PositionChecker reports the signed venue position for a symbol.
type PositionChecker func(ctx context.Context, symbol string) (float64, error)

// CleanupStaleTrades cancels OPEN trades whose venue position is flat.
// A checker error skips the trade; a trade is never cancelled under
// uncertainty. Returns how many trades were cleaned.
func (s *Store) CleanupStaleTrades(ctx context.Context, userID string, check PositionChecker) (int, error) {
	open, err := s.q.GetOpenTrades(ctx, userID)
	if err != nil {
		return 0, err
	}

	cleaned := 0
	for _, t := range open {
		amt, err := check(ctx, t.Symbol)
		if err != nil {
			log.Printf(i18n.Get("StaleCheckSkipped"), t.Symbol, err)
			continue
		}
		if amt != 0 {
			continue
		}
		if err := s.q.Cancel(ctx, t.TradeID, "STALE_CLEANUP"); err != nil {
			log.Printf("cleanup cancel %s: %v", t.TradeID, err)
			continue
		}
		log.Printf(i18n.Get("StaleTradeCleaned"), t.Symbol, t.TradeID)
		cleaned++
	}
	return cleaned, nil
}
