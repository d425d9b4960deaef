package ephemeral

import (
	"context"
	"strconv"
	"time"
)

// RateLimiter wraps the per-contact and per-workspace minute-bucket
// counters behind a capability interface.
type RateLimiter interface {
	// Allow increments the per-contact and per-workspace buckets for the
	// current minute and reports whether the contact is still under its
	// limit (perContactLimit) and the workspace under 10x that limit.
	Allow(ctx context.Context, workspaceID, contact string, perContactLimit int) (bool, error)
}

const rateLimitTTL = 70 * time.Second

type rateLimiter struct{ s Store }

func NewRateLimiter(s Store) RateLimiter { return &rateLimiter{s: s} }

func (r *rateLimiter) Allow(ctx context.Context, workspaceID, contact string, perContactLimit int) (bool, error) {
	bucket := strconv.FormatInt(time.Now().UTC().Unix()/60, 10)
	contactKey := "ratelimit:" + workspaceID + ":" + contact + ":" + bucket
	workspaceKey := "ratelimit:" + workspaceID + ":" + bucket

	contactCount, err := r.s.Incr(ctx, contactKey, rateLimitTTL)
	if err != nil {
		return false, err
	}
	workspaceCount, err := r.s.Incr(ctx, workspaceKey, rateLimitTTL)
	if err != nil {
		return false, err
	}
	if contactCount > int64(perContactLimit) {
		return false, nil
	}
	if workspaceCount > int64(perContactLimit*10) {
		return false, nil
	}
	return true, nil
}
