// Package stream consumes the venue user-data WebSocket and reconciles
// protective fills into the trade store.
package stream

import (
	"log"
	"sync"
	"time"

	"github.com/justinhsu1477/crypto-signal-trader-sub000/internal/notify"
	"github.com/justinhsu1477/crypto-signal-trader-sub000/pkg/i18n"
)

// ReconnectCoordinator owns the reconnect bookkeeping: attempt counting,
// exponential backoff, alert once-semantics and pending-task coalescing.
// It never owns the socket; the consumer hands it a callback to run.
type ReconnectCoordinator struct {
	mu           sync.Mutex
	baseDelay    time.Duration
	maxDelay     time.Duration
	maxAttempts  int
	attempts     int
	alertSent    bool
	shuttingDown bool
	pending      *time.Timer

	notifier notify.Notifier

	// replaced in tests to observe scheduling without waiting
	afterFunc func(time.Duration, func()) *time.Timer
}

// NewReconnectCoordinator creates a coordinator with the given backoff tuning.
func NewReconnectCoordinator(baseDelay, maxDelay time.Duration, maxAttempts int, notifier notify.Notifier) *ReconnectCoordinator {
	return &ReconnectCoordinator{
		baseDelay:   baseDelay,
		maxDelay:    maxDelay,
		maxAttempts: maxAttempts,
		notifier:    notifier,
		afterFunc:   time.AfterFunc,
	}
}

// Delay returns the backoff for the given attempt (1-based):
// min(base × 2^(attempt−1), max).
func (c *ReconnectCoordinator) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := c.baseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= c.maxDelay {
			return c.maxDelay
		}
	}
	if d > c.maxDelay {
		return c.maxDelay
	}
	return d
}

// OnOpen resets the attempt counter and, when a disconnect alert had been
// fired, emits the green recovery notification.
func (c *ReconnectCoordinator) OnOpen() {
	c.mu.Lock()
	c.attempts = 0
	wasAlerted := c.alertSent
	c.alertSent = false
	c.mu.Unlock()

	log.Println(i18n.Get("StreamConnected"))
	if wasAlerted {
		c.notifier.Notify("資料流已恢復", i18n.Get("StreamRecovered"), notify.ColourGreen)
	}
}

// OnFailure fires the red disconnect alert exactly once per outage.
func (c *ReconnectCoordinator) OnFailure(err error) {
	c.mu.Lock()
	first := !c.alertSent
	c.alertSent = true
	c.mu.Unlock()

	log.Printf(i18n.Get("StreamDisconnected"), err)
	if first {
		c.notifier.Notify("資料流斷線", err.Error(), notify.ColourRed)
	}
}

// ScheduleReconnect queues connect after the backoff delay. A newer call
// cancels any pending one, so at most one task is ever outstanding. Past the
// attempt cap it stops scheduling and raises a critical alert.
func (c *ReconnectCoordinator) ScheduleReconnect(connect func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.shuttingDown {
		return
	}
	if c.pending != nil {
		c.pending.Stop()
		c.pending = nil
	}

	c.attempts++
	if c.attempts > c.maxAttempts {
		log.Printf(i18n.Get("StreamGaveUp"), c.maxAttempts)
		c.notifier.Notify("資料流重連失敗", "重連次數已用盡，需要手動重啟", notify.ColourRed)
		return
	}

	delay := c.Delay(c.attempts)
	log.Printf(i18n.Get("StreamReconnecting"), c.attempts, delay)
	c.pending = c.afterFunc(delay, connect)
}

// Shutdown suppresses all further scheduling and cancels any pending task.
func (c *ReconnectCoordinator) Shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shuttingDown = true
	if c.pending != nil {
		c.pending.Stop()
		c.pending = nil
	}
}

// Attempts reports the current attempt counter.
func (c *ReconnectCoordinator) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// AlertSent reports whether the disconnect alert has fired for this outage.
func (c *ReconnectCoordinator) AlertSent() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.alertSent
}
