package market

import (
	"sort"
	"sync"
	"time"
)

// Cache keeps the latest snapshot per market id for a TTL.
type Cache struct {
	mu      sync.RWMutex
	markets map[string]cacheEntry
	ttl     time.Duration
	now     func() time.Time
}

type cacheEntry struct {
	data      Snapshot
	fetchedAt time.Time
}

func NewCache(ttl time.Duration) *Cache {
	return &Cache{
		markets: make(map[string]cacheEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (c *Cache) Get(id string) (Snapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.markets[id]
	if !ok || c.now().Sub(entry.fetchedAt) > c.ttl {
		return Snapshot{}, false
	}
	return entry.data, true
}

func (c *Cache) SetAll(markets []Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for _, s := range markets {
		c.markets[s.ID] = cacheEntry{data: s, fetchedAt: now}
	}
}

// All returns all non-expired entries ordered by id. Expired entries are
// dropped as a side effect.
func (c *Cache) All() []Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	result := make([]Snapshot, 0, len(c.markets))
	for id, entry := range c.markets {
		if now.Sub(entry.fetchedAt) > c.ttl {
			delete(c.markets, id)
			continue
		}
		result = append(result, entry.data)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}
