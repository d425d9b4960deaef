package orchestrator

import (
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
)

// RateGuard enforces the per-conversation minimum inter-call spacing of
// (default 400 ms ± 30 ms jitter). Exceeding it yields a retry-after
// the HTTP layer maps to 429.
type RateGuard struct {
	spacing time.Duration
	jitter  time.Duration

	mu       sync.Mutex
	lastCall map[uuid.UUID]time.Time
}

func NewRateGuard(spacing, jitter time.Duration) *RateGuard {
	if spacing <= 0 {
		spacing = 400 * time.Millisecond
	}
	if jitter < 0 {
		jitter = 30 * time.Millisecond
	}
	return &RateGuard{
		spacing:  spacing,
		jitter:   jitter,
		lastCall: make(map[uuid.UUID]time.Time),
	}
}

// Allow records the call when admitted; otherwise it returns how long the
// caller should wait before retrying.
func (g *RateGuard) Allow(conversationID uuid.UUID) (bool, time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now()
	minGap := g.spacing
	if g.jitter > 0 {
		minGap += time.Duration(rand.Int63n(int64(2*g.jitter))) - g.jitter
	}
	if last, ok := g.lastCall[conversationID]; ok {
		if gap := now.Sub(last); gap < minGap {
			return false, minGap - gap
		}
	}
	g.lastCall[conversationID] = now

	// Opportunistic cleanup keeps the map bounded without a sweeper task.
	if len(g.lastCall) > 10000 {
		cutoff := now.Add(-time.Minute)
		for id, t := range g.lastCall {
			if t.Before(cutoff) {
				delete(g.lastCall, id)
			}
		}
	}
	return true, 0
}
