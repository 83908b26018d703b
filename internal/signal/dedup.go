package signal

import (
	"context"
	"log"
	"time"

	"github.com/justinhsu1477/crypto-signal-trader-sub000/pkg/db"
	"github.com/justinhsu1477/crypto-signal-trader-sub000/pkg/i18n"
)

// DefaultWindow is the rolling deduplication window.
const DefaultWindow = 60 * time.Second

// Deduplicator rejects repeats of the same signal hash for the same user
// inside a rolling window, backed by the trades table.
type Deduplicator struct {
	trades *db.TradeQueries
	window time.Duration
	now    func() time.Time
}

// NewDeduplicator creates a Deduplicator over the trades store.
func NewDeduplicator(trades *db.TradeQueries, window time.Duration) *Deduplicator {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Deduplicator{
		trades: trades,
		window: window,
		now:    time.Now,
	}
}

// IsDuplicate reports whether a trade with the same hash was recorded for
// this user inside the window. A lookup failure counts as not-duplicate:
// the hash is best-effort and must never block signal recording.
func (d *Deduplicator) IsDuplicate(ctx context.Context, sig *TradeSignal, userID string) bool {
	hash := GenerateHash(sig)
	since := d.now().Add(-d.window)

	dup, err := d.trades.HasRecentSignalHash(ctx, userID, hash, since)
	if err != nil {
		log.Printf("dedup check failed for %s: %v", sig.Symbol, err)
		return false
	}
	if dup {
		log.Printf(i18n.Get("SignalDuplicate"), sig.Symbol)
	}
	return dup
}
