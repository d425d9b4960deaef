// Package ephemeral implements C3: the key-value store for deduplication,
// debounce buffers, rate-limit counters, and the embedding cache. Each
// namespace sits behind a small capability interface, with an in-memory
// test double so callers never depend on a live Valkey instance in unit
// tests.
package ephemeral

import (
	"context"
	"time"
)

// Store is the minimal KV+TTL capability every namespace in this package is
// built on. One Valkey-backed implementation (Client) and one in-memory
// implementation (MemoryStore) satisfy it.
type Store interface {
	// SetNX sets key to value with the given TTL only if key is absent.
	// Returns true if this call won the race — the atomic set-if-absent
	// dedup and distributed locks are built on.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// Incr atomically increments key by 1, setting ttl only on first creation.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
	// Publish/Subscribe back the scheduler's reactive wake-up.
	Publish(ctx context.Context, channel string, message []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, func(), error)
}

// DedupStore is the capability interface named ("Global
// ephemeral managers"): a seam so the router depends on behavior, not on
// Store's full surface.
type DedupStore interface {
	// MarkSeen returns true if providerMessageID is newly seen for
	// workspace, false if it is a duplicate within the TTL window.
	MarkSeen(ctx context.Context, workspaceID, providerMessageID string) (bool, error)
}

type dedupStore struct{ s Store }

func NewDedupStore(s Store) DedupStore { return &dedupStore{s: s} }

const dedupTTL = time.Hour

func (d *dedupStore) MarkSeen(ctx context.Context, workspaceID, providerMessageID string) (bool, error) {
	key := "dedup:" + workspaceID + ":" + providerMessageID
	return d.s.SetNX(ctx, key, []byte("1"), dedupTTL)
}
