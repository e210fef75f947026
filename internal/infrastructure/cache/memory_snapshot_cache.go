package cache

import (
	"context"
	"time"

	"github.com/erp/costing/internal/domain/inventory"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// DefaultSnapshotCacheSize bounds the in-process cache when no size is configured
const DefaultSnapshotCacheSize = 10000

// MemorySnapshotCache is a bounded, TTL-expiring in-process SnapshotCache
// with least-recently-used eviction. Suitable for single-instance deployments.
type MemorySnapshotCache struct {
	lru *expirable.LRU[inventory.SnapshotKey, inventory.CostSnapshot]
}

// NewMemorySnapshotCache creates a cache holding at most capacity snapshots.
// A ttl of zero keeps entries until they are evicted.
func NewMemorySnapshotCache(capacity int, ttl time.Duration) *MemorySnapshotCache {
	if capacity <= 0 {
		capacity = DefaultSnapshotCacheSize
	}
	return &MemorySnapshotCache{
		lru: expirable.NewLRU[inventory.SnapshotKey, inventory.CostSnapshot](capacity, nil, ttl),
	}
}

func (c *MemorySnapshotCache) Get(_ context.Context, key inventory.SnapshotKey) (*inventory.CostSnapshot, error) {
	snap, ok := c.lru.Get(normalize(key))
	if !ok {
		return nil, nil
	}
	return &snap, nil
}

func (c *MemorySnapshotCache) Set(_ context.Context, key inventory.SnapshotKey, snap inventory.CostSnapshot) error {
	c.lru.Add(normalize(key), snap)
	return nil
}

// Len returns the number of cached snapshots, including expired ones not yet purged
func (c *MemorySnapshotCache) Len() int {
	return c.lru.Len()
}

// Close drops every cached snapshot. Safe to call multiple times.
func (c *MemorySnapshotCache) Close() error {
	c.lru.Purge()
	return nil
}

// normalize makes keys for the same instant in different zones equal
func normalize(key inventory.SnapshotKey) inventory.SnapshotKey {
	key.AsOf = key.AsOf.UTC()
	return key
}

var _ inventory.SnapshotCache = (*MemorySnapshotCache)(nil)
