package cache

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryCache is an in-process Cache used by unit tests. Rate-limit counters
// ignore expiry; markers behave exactly like the Redis keys.
type MemoryCache struct {
	mu       sync.Mutex
	markers  map[uuid.UUID]bool
	counters map[string]int64
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		markers:  make(map[uuid.UUID]bool),
		counters: make(map[string]int64),
	}
}

func (c *MemoryCache) Ping(_ context.Context) error { return nil }

func (c *MemoryCache) RequestCancel(_ context.Context, jobID uuid.UUID) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.markers[jobID] {
		return false, nil
	}
	c.markers[jobID] = true
	return true, nil
}

func (c *MemoryCache) CancelRequested(_ context.Context, jobID uuid.UUID) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.markers[jobID], nil
}

func (c *MemoryCache) ClearCancel(_ context.Context, jobID uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.markers, jobID)
	return nil
}

func (c *MemoryCache) IncrWithExpiry(_ context.Context, key string, _ time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counters[key]++
	return c.counters[key], nil
}

var _ Cache = (*MemoryCache)(nil)
