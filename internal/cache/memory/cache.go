// Package memory keeps fetched pages in process memory for tests and dry runs.
package memory

import (
	"context"
	"sync"

	"github.com/TontonTremblay/cvpr-scrape2plot/internal/crawler"
)

// Cache implements crawler.Cache with a map.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]crawler.CacheEntry
}

// New returns an empty Cache.
func New() *Cache {
	return &Cache{entries: make(map[string]crawler.CacheEntry)}
}

// Get returns the entry stored under key.
func (c *Cache) Get(_ context.Context, key string) (crawler.CacheEntry, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[key]
	if !ok {
		return crawler.CacheEntry{}, false, nil
	}
	entry.Body = append([]byte(nil), entry.Body...)
	return entry, true, nil
}

// Put stores a copy of entry under key.
func (c *Cache) Put(_ context.Context, key string, entry crawler.CacheEntry) error {
	entry.Body = append([]byte(nil), entry.Body...)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry
	return nil
}

// Len reports how many entries are cached.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
