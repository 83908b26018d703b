package risk

import (
	"context"
	"fmt"
	"time"

	"github.com/justinhsu1477/crypto-signal-trader-sub000/pkg/db"
)

// CircuitBreaker gates new entries on the user's realised loss since the
// start of the current UTC day. A limit of 0 disables the gate.
type CircuitBreaker struct {
	trades *db.TradeQueries
	now    func() time.Time
}

// NewCircuitBreaker creates a CircuitBreaker over the trades store.
func NewCircuitBreaker(trades *db.TradeQueries) *CircuitBreaker {
	return &CircuitBreaker{trades: trades, now: time.Now}
}

// Allow reports whether a new entry may proceed. When the realised loss for
// the UTC day has reached the limit it returns false with the loss so far.
// Profitable days never trip the breaker.
func (b *CircuitBreaker) Allow(ctx context.Context, userID string, maxDailyLossUsdt float64) (bool, float64, error) {
	if maxDailyLossUsdt <= 0 {
		return true, 0, nil
	}

	dayStart := b.now().UTC().Truncate(24 * time.Hour)
	net, err := b.trades.RealisedNetSince(ctx, userID, dayStart)
	if err != nil {
		return false, 0, fmt.Errorf("realised net since %s: %w", dayStart.Format("2006-01-02"), err)
	}

	if net < 0 && -net >= maxDailyLossUsdt {
		return false, net, nil
	}
	return true, net, nil
}
