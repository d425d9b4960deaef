package scheduler

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"

	"github.com/loomwire/loomwire/apperr"
)

// BreakerSet holds one circuit breaker per (workspace, job_type), the
// per-tenant shield in front of the embedding backend.
// Built on sony/gobreaker (grounded on jordigilh-kubernaut's usage) with the
// same semantics as a hand-rolled failure-timestamp deque:
// ≥ fails failures within window opens the breaker for cooldown; any
// success closes it again.
type BreakerSet struct {
	fails    int
	window   time.Duration
	cooldown time.Duration

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

func NewBreakerSet(fails int, window, cooldown time.Duration) *BreakerSet {
	if fails <= 0 {
		fails = 5
	}
	if window <= 0 {
		window = time.Minute
	}
	if cooldown <= 0 {
		cooldown = 45 * time.Second
	}
	return &BreakerSet{
		fails:    fails,
		window:   window,
		cooldown: cooldown,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

// Guards reports whether jobType runs under a breaker. Only embed calls an
// external backend per attempt; extract and chunk fail for local reasons
// that a breaker would just delay.
func (s *BreakerSet) Guards(jobType string) bool { return jobType == "embed" }

func (s *BreakerSet) breaker(workspaceID uuid.UUID, jobType string) *gobreaker.CircuitBreaker {
	key := workspaceID.String() + ":" + jobType
	s.mu.Lock()
	defer s.mu.Unlock()
	if cb, ok := s.breakers[key]; ok {
		return cb
	}
	fails := uint32(s.fails)
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:     key,
		Interval: s.window,
		Timeout:  s.cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.TotalFailures >= fails
		},
	})
	s.breakers[key] = cb
	return cb
}

// Do runs fn under the workspace's breaker. A rejection while open is
// surfaced as apperr.CircuitOpenError so the dispatcher records the failure
// as a retry without having touched the backend.
func (s *BreakerSet) Do(workspaceID uuid.UUID, jobType string, fn func() error) error {
	cb := s.breaker(workspaceID, jobType)
	_, err := cb.Execute(func() (any, error) { return nil, fn() })
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return apperr.CircuitOpenError("circuit_breaker_open: embedding backend unhealthy for workspace " + workspaceID.String())
	}
	return err
}
