package common

import (
	"log"
	"strconv"
	"sync"
	"time"
)

// RateLimiter mirrors the venue's request-weight window from response
// headers. It never blocks; it only reports usage so callers can back off
// before the venue starts answering 429.
type RateLimiter struct {
	mu        sync.RWMutex
	used      int
	limit     int
	window    time.Duration
	windowTop time.Time
}

// NewRateLimiter sets the weight budget per window (USDT-M futures allows
// 2400 weight per minute).
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{limit: limit, window: window, windowTop: time.Now()}
}

// UpdateFromHeader records the used weight the venue reported
// (X-MBX-USED-WEIGHT-1M). Non-numeric or empty values are ignored.
func (rl *RateLimiter) UpdateFromHeader(value string) {
	if value == "" {
		return
	}
	used, err := strconv.Atoi(value)
	if err != nil {
		return
	}

	rl.mu.Lock()
	if time.Since(rl.windowTop) >= rl.window {
		rl.windowTop = time.Now()
	}
	rl.used = used
	limit := rl.limit
	rl.mu.Unlock()

	pct := float64(used) / float64(limit) * 100
	switch {
	case pct >= 95:
		log.Printf("🚨 venue weight %d/%d (%.0f%%), ban threshold near", used, limit, pct)
	case pct >= 80:
		log.Printf("⚠️ venue weight %d/%d (%.0f%%)", used, limit, pct)
	}
}

// Usage returns the weight consumed in the current window.
func (rl *RateLimiter) Usage() (used, limit int, pct float64) {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	if time.Since(rl.windowTop) >= rl.window {
		return 0, rl.limit, 0
	}
	return rl.used, rl.limit, float64(rl.used) / float64(rl.limit) * 100
}

// ShouldDelay reports whether callers should hold non-critical requests.
func (rl *RateLimiter) ShouldDelay() bool {
	_, _, pct := rl.Usage()
	return pct >= 90
}
