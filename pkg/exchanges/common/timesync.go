package common

import (
	"context"
	"log"
	"sync"
	"time"
)

const defaultSyncInterval = 30 * time.Minute

// TimeSync keeps a running offset between local and venue clocks so that
// signed request timestamps stay inside the venue's recvWindow even when the
// host clock drifts.
type TimeSync struct {
	fetchServerTime func() (int64, error)

	mu       sync.RWMutex
	offsetMs int64
	lastSync time.Time
}

// NewTimeSync wraps a server-time fetcher. The offset stays zero until the
// first successful Sync, so callers fall back to the local clock.
func NewTimeSync(fetchServerTime func() (int64, error)) *TimeSync {
	return &TimeSync{fetchServerTime: fetchServerTime}
}

// Start syncs once, then keeps resyncing every 30 minutes until ctx ends.
func (ts *TimeSync) Start(ctx context.Context) {
	if err := ts.Sync(ctx); err != nil {
		log.Printf("⚠️ time sync: initial sync failed: %v", err)
	}

	go func() {
		ticker := time.NewTicker(defaultSyncInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := ts.Sync(ctx); err != nil {
					log.Printf("⚠️ time sync: resync failed: %v", err)
				}
			}
		}
	}()
}

// Sync measures the offset against the venue clock. Half the round trip is
// attributed to the outbound leg.
func (ts *TimeSync) Sync(_ context.Context) error {
	before := time.Now().UnixMilli()
	serverMs, err := ts.fetchServerTime()
	if err != nil {
		return err
	}
	after := time.Now().UnixMilli()

	localMidpoint := before + (after-before)/2

	ts.mu.Lock()
	ts.offsetMs = serverMs - localMidpoint
	ts.lastSync = time.Now()
	ts.mu.Unlock()
	return nil
}

// Now returns the current time in venue milliseconds.
func (ts *TimeSync) Now() int64 {
	return time.Now().UnixMilli() + ts.Offset()
}

// Offset returns the venue-minus-local offset in milliseconds. Zero means
// never synced (or perfectly aligned clocks).
func (ts *TimeSync) Offset() int64 {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return ts.offsetMs
}
