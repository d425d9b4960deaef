package scheduler

import (
	"math"
	"math/rand"
	"time"
)

// Backoff computes the delay before retry number `retries`:
// base·factor^retries plus uniform(0, jitter). The result always lands in
// [base·factor^n, base·factor^n + jitter].
func Backoff(baseSeconds, factor, jitterSeconds float64, retries int) time.Duration {
	if baseSeconds <= 0 {
		baseSeconds = 1
	}
	if factor <= 0 {
		factor = 2
	}
	delay := baseSeconds * math.Pow(factor, float64(retries))
	if jitterSeconds > 0 {
		delay += rand.Float64() * jitterSeconds
	}
	return time.Duration(delay * float64(time.Second))
}
