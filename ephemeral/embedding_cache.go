package ephemeral

import (
	"context"
	"encoding/json"
	"time"
)

// EmbeddingCache backs the `embcache:{workspace}:{query_hash}` namespace.
// Entries expire by TTL but eviction is additionally
// bounded by a per-workspace FIFO cap tracked in a companion index key, so a
// workspace with many distinct queries can't grow the cache unbounded before
// TTLs catch up.
type EmbeddingCache struct {
	s        Store
	ttl      time.Duration
	capacity int
}

func NewEmbeddingCache(s Store, ttl time.Duration, capacity int) *EmbeddingCache {
	return &EmbeddingCache{s: s, ttl: ttl, capacity: capacity}
}

func cacheKey(workspaceID, queryHash string) string {
	return "embcache:" + workspaceID + ":" + queryHash
}

func indexKey(workspaceID string) string {
	return "embcache_index:" + workspaceID
}

func (c *EmbeddingCache) Get(ctx context.Context, workspaceID, queryHash string) ([]float32, bool, error) {
	raw, ok, err := c.s.Get(ctx, cacheKey(workspaceID, queryHash))
	if err != nil || !ok {
		return nil, false, err
	}
	var vec []float32
	if err := json.Unmarshal(raw, &vec); err != nil {
		return nil, false, err
	}
	return vec, true, nil
}

func (c *EmbeddingCache) Put(ctx context.Context, workspaceID, queryHash string, vector []float32) error {
	encoded, err := json.Marshal(vector)
	if err != nil {
		return err
	}
	if err := c.s.Set(ctx, cacheKey(workspaceID, queryHash), encoded, c.ttl); err != nil {
		return err
	}

	raw, ok, err := c.s.Get(ctx, indexKey(workspaceID))
	if err != nil {
		return err
	}
	var order []string
	if ok {
		if err := json.Unmarshal(raw, &order); err != nil {
			return err
		}
	}
	order = append(order, queryHash)
	for len(order) > c.capacity {
		evict := order[0]
		order = order[1:]
		_ = c.s.Delete(ctx, cacheKey(workspaceID, evict))
	}
	encodedOrder, err := json.Marshal(order)
	if err != nil {
		return err
	}
	return c.s.Set(ctx, indexKey(workspaceID), encodedOrder, 0)
}
