// Package db provides user-isolated persistence for trades, events and
// follower accounts.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var (
	ErrUserIDRequired = errors.New("user_id is required for data isolation")
	ErrNotFound       = errors.New("record not found")
)

const tradeColumns = `
	trade_id, user_id, symbol, side,
	entry_price, entry_quantity, COALESCE(entry_commission, 0), entry_order_id, entry_time,
	COALESCE(leverage, 1), COALESCE(risk_amount, 0), COALESCE(stop_loss, 0), COALESCE(take_profits, '[]'),
	remaining_quantity, total_closed_quantity, COALESCE(dca_count, 0),
	exit_price, exit_quantity, exit_commission, exit_order_id, exit_time, exit_reason,
	gross_profit, commission, net_profit,
	status, COALESCE(signal_hash, ''), COALESCE(source_author_name, ''),
	created_at, updated_at`

// TradeQueries provides row-level access to trades and trade_events.
// Accounting decisions (weighted averages, profit math) live above this
// layer; everything here is plain reads and writes.
type TradeQueries struct {
	db *sql.DB
}

// NewTradeQueries creates a TradeQueries instance.
func NewTradeQueries(db *sql.DB) *TradeQueries {
	return &TradeQueries{db: db}
}

func scanTrade(scan func(dest ...any) error) (*Trade, error) {
	var t Trade
	err := scan(
		&t.TradeID, &t.UserID, &t.Symbol, &t.Side,
		&t.EntryPrice, &t.EntryQuantity, &t.EntryCommission, &t.EntryOrderID, &t.EntryTime,
		&t.Leverage, &t.RiskAmount, &t.StopLoss, &t.TakeProfits,
		&t.RemainingQuantity, &t.TotalClosedQuantity, &t.DcaCount,
		&t.ExitPrice, &t.ExitQuantity, &t.ExitCommission, &t.ExitOrderID, &t.ExitTime, &t.ExitReason,
		&t.GrossProfit, &t.Commission, &t.NetProfit,
		&t.Status, &t.SignalHash, &t.SourceAuthorName,
		&t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// Insert stores a freshly opened trade.
func (q *TradeQueries) Insert(ctx context.Context, t *Trade) error {
	if t.UserID == "" {
		return ErrUserIDRequired
	}

	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now

	_, err := q.db.ExecContext(ctx, `
		INSERT INTO trades (
			trade_id, user_id, symbol, side,
			entry_price, entry_quantity, entry_commission, entry_order_id, entry_time,
			leverage, risk_amount, stop_loss, take_profits,
			dca_count, status, signal_hash, source_author_name,
			created_at, updated_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.TradeID, t.UserID, t.Symbol, t.Side,
		t.EntryPrice, t.EntryQuantity, t.EntryCommission, t.EntryOrderID, t.EntryTime,
		t.Leverage, t.RiskAmount, t.StopLoss, t.TakeProfits,
		t.DcaCount, t.Status, t.SignalHash, t.SourceAuthorName,
		t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert trade: %w", err)
	}
	return nil
}

// GetOpenTrade returns the single OPEN trade for (user, symbol), or ErrNotFound.
func (q *TradeQueries) GetOpenTrade(ctx context.Context, userID, symbol string) (*Trade, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}

	row := q.db.QueryRowContext(ctx, `
		SELECT `+tradeColumns+`
		FROM trades
		WHERE user_id = ? AND symbol = ? AND status = ?
	`, userID, symbol, StatusOpen)

	t, err := scanTrade(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query open trade: %w", err)
	}
	return t, nil
}

// GetOpenTrades returns every OPEN trade for a user.
func (q *TradeQueries) GetOpenTrades(ctx context.Context, userID string) ([]*Trade, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}

	rows, err := q.db.QueryContext(ctx, `
		SELECT `+tradeColumns+`
		FROM trades
		WHERE user_id = ? AND status = ?
		ORDER BY created_at DESC
	`, userID, StatusOpen)
	if err != nil {
		return nil, fmt.Errorf("query open trades: %w", err)
	}
	defer rows.Close()

	return collectTrades(rows)
}

// GetAllOpenTrades returns OPEN trades across all users (stale-trade sweep).
func (q *TradeQueries) GetAllOpenTrades(ctx context.Context) ([]*Trade, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT `+tradeColumns+`
		FROM trades
		WHERE status = ?
		ORDER BY user_id, created_at
	`, StatusOpen)
	if err != nil {
		return nil, fmt.Errorf("query all open trades: %w", err)
	}
	defer rows.Close()

	return collectTrades(rows)
}

// Get returns a trade by id.
func (q *TradeQueries) Get(ctx context.Context, tradeID string) (*Trade, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT `+tradeColumns+`
		FROM trades
		WHERE trade_id = ?
	`, tradeID)

	t, err := scanTrade(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query trade: %w", err)
	}
	return t, nil
}

// ListRecent returns the newest trades for a user.
func (q *TradeQueries) ListRecent(ctx context.Context, userID string, limit int) ([]*Trade, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}
	if limit <= 0 {
		limit = 50
	}

	rows, err := q.db.QueryContext(ctx, `
		SELECT `+tradeColumns+`
		FROM trades
		WHERE user_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent trades: %w", err)
	}
	defer rows.Close()

	return collectTrades(rows)
}

func collectTrades(rows *sql.Rows) ([]*Trade, error) {
	var trades []*Trade
	for rows.Next() {
		t, err := scanTrade(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// ApplyDca rewrites the entry leg after an averaging entry: new weighted
// entry price, combined quantity, accumulated commission, bumped dca_count,
// and cleared partial-close tracking.
func (q *TradeQueries) ApplyDca(ctx context.Context, tradeID string, entryPrice, entryQty, entryCommission float64, dcaCount int, stopLoss float64) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE trades SET
			entry_price = ?,
			entry_quantity = ?,
			entry_commission = ?,
			dca_count = ?,
			stop_loss = ?,
			remaining_quantity = NULL,
			total_closed_quantity = NULL,
			updated_at = ?
		WHERE trade_id = ? AND status = ?
	`, entryPrice, entryQty, entryCommission, dcaCount, stopLoss, time.Now().UTC(), tradeID, StatusOpen)
	if err != nil {
		return fmt.Errorf("apply dca: %w", err)
	}
	return requireRow(res)
}

// UpdateStopLoss replaces the protective stop on an open trade.
func (q *TradeQueries) UpdateStopLoss(ctx context.Context, tradeID string, stopLoss float64) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE trades SET stop_loss = ?, updated_at = ?
		WHERE trade_id = ? AND status = ?
	`, stopLoss, time.Now().UTC(), tradeID, StatusOpen)
	if err != nil {
		return fmt.Errorf("update stop loss: %w", err)
	}
	return requireRow(res)
}

// UpdateTakeProfits replaces the serialised take-profit list.
func (q *TradeQueries) UpdateTakeProfits(ctx context.Context, tradeID, takeProfitsJSON string) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE trades SET take_profits = ?, updated_at = ?
		WHERE trade_id = ? AND status = ?
	`, takeProfitsJSON, time.Now().UTC(), tradeID, StatusOpen)
	if err != nil {
		return fmt.Errorf("update take profits: %w", err)
	}
	return requireRow(res)
}

// CloseParams carries the exit leg written by Close. Profit fields stay NULL
// when accounting was skipped.
type CloseParams struct {
	ExitPrice      sql.NullFloat64
	ExitQuantity   sql.NullFloat64
	ExitCommission sql.NullFloat64
	ExitOrderID    sql.NullInt64
	ExitTime       time.Time
	ExitReason     string
	GrossProfit    sql.NullFloat64
	Commission     sql.NullFloat64
	NetProfit      sql.NullFloat64
}

// Close marks a trade CLOSED with its exit leg and accounting results.
func (q *TradeQueries) Close(ctx context.Context, tradeID string, p CloseParams) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE trades SET
			status = ?,
			exit_price = ?,
			exit_quantity = ?,
			exit_commission = ?,
			exit_order_id = ?,
			exit_time = ?,
			exit_reason = ?,
			gross_profit = ?,
			commission = ?,
			net_profit = ?,
			updated_at = ?
		WHERE trade_id = ? AND status = ?
	`, StatusClosed,
		p.ExitPrice, p.ExitQuantity, p.ExitCommission, p.ExitOrderID,
		p.ExitTime.UTC(), p.ExitReason,
		p.GrossProfit, p.Commission, p.NetProfit,
		time.Now().UTC(), tradeID, StatusOpen)
	if err != nil {
		return fmt.Errorf("close trade: %w", err)
	}
	return requireRow(res)
}

// PartialClose books a partial exit: the trade stays OPEN with updated
// remaining/total-closed tracking. Profit fields are not touched.
func (q *TradeQueries) PartialClose(ctx context.Context, tradeID string, remaining, totalClosed float64, exitReason string) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE trades SET
			remaining_quantity = ?,
			total_closed_quantity = ?,
			exit_reason = ?,
			updated_at = ?
		WHERE trade_id = ? AND status = ?
	`, remaining, totalClosed, exitReason, time.Now().UTC(), tradeID, StatusOpen)
	if err != nil {
		return fmt.Errorf("partial close trade: %w", err)
	}
	return requireRow(res)
}

// Cancel marks a trade CANCELLED (no venue position remains).
func (q *TradeQueries) Cancel(ctx context.Context, tradeID, exitReason string) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE trades SET
			status = ?,
			exit_reason = ?,
			exit_time = ?,
			updated_at = ?
		WHERE trade_id = ? AND status = ?
	`, StatusCancelled, exitReason, time.Now().UTC(), time.Now().UTC(), tradeID, StatusOpen)
	if err != nil {
		return fmt.Errorf("cancel trade: %w", err)
	}
	return requireRow(res)
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// HasRecentSignalHash reports whether a trade with the same signal hash was
// recorded for this user at or after the cutoff (deduplication window).
func (q *TradeQueries) HasRecentSignalHash(ctx context.Context, userID, signalHash string, since time.Time) (bool, error) {
	if userID == "" {
		return false, ErrUserIDRequired
	}
	if signalHash == "" {
		return false, nil
	}

	var n int
	err := q.db.QueryRowContext(ctx, `
		SELECT COUNT(1) FROM trades
		WHERE user_id = ? AND signal_hash = ? AND created_at >= ?
	`, userID, signalHash, since.UTC()).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("query signal hash: %w", err)
	}
	return n > 0, nil
}

// RealisedNetSince sums net_profit over trades closed at or after the cutoff.
// NULL net_profit rows contribute zero; the circuit breaker never fabricates
// a loss it cannot prove.
func (q *TradeQueries) RealisedNetSince(ctx context.Context, userID string, since time.Time) (float64, error) {
	if userID == "" {
		return 0, ErrUserIDRequired
	}

	var sum float64
	err := q.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(COALESCE(net_profit, 0)), 0) FROM trades
		WHERE user_id = ? AND status = ? AND exit_time >= ?
	`, userID, StatusClosed, since.UTC()).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("query realised net: %w", err)
	}
	return sum, nil
}

// TradeSummary aggregates a user's book for the status endpoint. A closed
// trade with NULL net_profit counts as a loss.
type TradeSummary struct {
	Open     int
	Closed   int
	Wins     int
	Losses   int
	TotalNet float64
}

// Summarize computes the per-user trade summary.
func (q *TradeQueries) Summarize(ctx context.Context, userID string) (TradeSummary, error) {
	var s TradeSummary
	if userID == "" {
		return s, ErrUserIDRequired
	}

	err := q.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN status = 'OPEN' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'CLOSED' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'CLOSED' AND net_profit > 0 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'CLOSED' AND (net_profit <= 0 OR net_profit IS NULL) THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'CLOSED' THEN COALESCE(net_profit, 0) ELSE 0 END), 0)
		FROM trades
		WHERE user_id = ?
	`, userID).Scan(&s.Open, &s.Closed, &s.Wins, &s.Losses, &s.TotalNet)
	if err != nil {
		return s, fmt.Errorf("summarize trades: %w", err)
	}
	return s, nil
}

// InsertEvent appends an audit event for a trade.
func (q *TradeQueries) InsertEvent(ctx context.Context, ev *TradeEvent) error {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}

	res, err := q.db.ExecContext(ctx, `
		INSERT INTO trade_events (
			trade_id, event_type, venue_order_id, side, type,
			price, quantity, success, error_message, detail, created_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, ev.TradeID, ev.EventType, ev.VenueOrderID, ev.Side, ev.Type,
		ev.Price, ev.Quantity, ev.Success, ev.ErrorMessage, ev.Detail, ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert trade event: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		ev.ID = id
	}
	return nil
}

// ListEvents returns the audit trail for a trade, oldest first.
func (q *TradeQueries) ListEvents(ctx context.Context, tradeID string) ([]TradeEvent, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, trade_id, event_type, venue_order_id,
		       COALESCE(side, ''), COALESCE(type, ''),
		       COALESCE(price, 0), COALESCE(quantity, 0),
		       success, COALESCE(error_message, ''), COALESCE(detail, ''), created_at
		FROM trade_events
		WHERE trade_id = ?
		ORDER BY id
	`, tradeID)
	if err != nil {
		return nil, fmt.Errorf("query trade events: %w", err)
	}
	defer rows.Close()

	var events []TradeEvent
	for rows.Next() {
		var ev TradeEvent
		if err := rows.Scan(&ev.ID, &ev.TradeID, &ev.EventType, &ev.VenueOrderID,
			&ev.Side, &ev.Type, &ev.Price, &ev.Quantity,
			&ev.Success, &ev.ErrorMessage, &ev.Detail, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan trade event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
