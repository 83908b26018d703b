// Package cache holds venue symbol metadata so sizing does not re-fetch
// exchangeInfo on every signal.
package cache

import (
	"hash/fnv"
	"sync"
	"time"

	"github.com/justinhsu1477/crypto-signal-trader-sub000/pkg/exchanges/common"
)

const numShards = 16

// Filters older than this are considered stale and refreshed on access;
// refresh failures fall back to the last known values.
const DefaultMaxAge = 24 * time.Hour

// ShardedFilterCache is a sharded cache of per-symbol step/tick filters.
type ShardedFilterCache struct {
	shards [numShards]*filterShard
}

type filterShard struct {
	mu    sync.RWMutex
	items map[string]filterEntry
}

type filterEntry struct {
	filter    common.SymbolFilter
	updatedAt time.Time
}

// NewShardedFilterCache creates an empty filter cache.
func NewShardedFilterCache() *ShardedFilterCache {
	c := &ShardedFilterCache{}
	for i := 0; i < numShards; i++ {
		c.shards[i] = &filterShard{
			items: make(map[string]filterEntry),
		}
	}
	return c
}

func (c *ShardedFilterCache) getShard(key string) *filterShard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return c.shards[h.Sum32()%numShards]
}

// Set stores the filter for a symbol.
func (c *ShardedFilterCache) Set(symbol string, f common.SymbolFilter) {
	shard := c.getShard(symbol)
	shard.mu.Lock()
	shard.items[symbol] = filterEntry{
		filter:    f,
		updatedAt: time.Now(),
	}
	shard.mu.Unlock()
}

// SetAll replaces filters for every symbol in the map (one exchangeInfo pass).
func (c *ShardedFilterCache) SetAll(filters map[string]common.SymbolFilter) {
	for sym, f := range filters {
		c.Set(sym, f)
	}
}

// Get retrieves the filter for a symbol.
func (c *ShardedFilterCache) Get(symbol string) (common.SymbolFilter, bool) {
	shard := c.getShard(symbol)
	shard.mu.RLock()
	entry, ok := shard.items[symbol]
	shard.mu.RUnlock()
	return entry.filter, ok
}

// GetWithAge retrieves the filter and how long ago it was refreshed.
func (c *ShardedFilterCache) GetWithAge(symbol string) (common.SymbolFilter, time.Duration, bool) {
	shard := c.getShard(symbol)
	shard.mu.RLock()
	entry, ok := shard.items[symbol]
	shard.mu.RUnlock()
	if !ok {
		return common.SymbolFilter{}, 0, false
	}
	return entry.filter, time.Since(entry.updatedAt), true
}

// IsStale reports whether the symbol needs a refresh (missing or older than
// maxAge).
func (c *ShardedFilterCache) IsStale(symbol string, maxAge time.Duration) bool {
	_, age, ok := c.GetWithAge(symbol)
	return !ok || age > maxAge
}

// Delete removes a symbol from the cache.
func (c *ShardedFilterCache) Delete(symbol string) {
	shard := c.getShard(symbol)
	shard.mu.Lock()
	delete(shard.items, symbol)
	shard.mu.Unlock()
}

// Len returns total items across all shards.
func (c *ShardedFilterCache) Len() int {
	total := 0
	for _, shard := range c.shards {
		shard.mu.RLock()
		total += len(shard.items)
		shard.mu.RUnlock()
	}
	return total
}

// Stats summarises cache population for the status endpoint.
type Stats struct {
	TotalItems int           `json:"total_items"`
	OldestAge  time.Duration `json:"oldest_age"`
}

// Stats returns cache statistics.
func (c *ShardedFilterCache) Stats() Stats {
	stats := Stats{}
	var oldest time.Time

	for _, shard := range c.shards {
		shard.mu.RLock()
		stats.TotalItems += len(shard.items)
		for _, entry := range shard.items {
			if oldest.IsZero() || entry.updatedAt.Before(oldest) {
				oldest = entry.updatedAt
			}
		}
		shard.mu.RUnlock()
	}

	if !oldest.IsZero() {
		stats.OldestAge = time.Since(oldest)
	}
	return stats
}
