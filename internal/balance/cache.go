// Package balance keeps per-user balance snapshots for the status endpoint.
// Sizing never reads from here; the executor always fetches live.
package balance

import (
	"sync"
	"time"
)

// Snapshot is one user's last observed available balance.
type Snapshot struct {
	UserID    string    `json:"userId"`
	Available float64   `json:"availableUsdt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Cache holds the latest snapshot per user. Updated opportunistically after
// every executor balance fetch.
type Cache struct {
	mu        sync.RWMutex
	snapshots map[string]Snapshot
	now       func() time.Time
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{
		snapshots: make(map[string]Snapshot),
		now:       time.Now,
	}
}

// Record stores a fresh observation for a user.
func (c *Cache) Record(userID string, available float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snapshots[userID] = Snapshot{
		UserID:    userID,
		Available: available,
		UpdatedAt: c.now().UTC(),
	}
}

// Get returns the last snapshot for a user.
func (c *Cache) Get(userID string) (Snapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.snapshots[userID]
	return s, ok
}

// All returns every snapshot, for the status endpoint.
func (c *Cache) All() []Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Snapshot, 0, len(c.snapshots))
	for _, s := range c.snapshots {
		out = append(out, s)
	}
	return out
}
