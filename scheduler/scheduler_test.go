package scheduler

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomwire/loomwire/apperr"
)

func TestBackoffWindow(t *testing.T) {
	tests := []struct {
		name    string
		base    float64
		factor  float64
		jitter  float64
		retries int
	}{
		{name: "first retry", base: 5, factor: 3, jitter: 2, retries: 1},
		{name: "third retry", base: 5, factor: 3, jitter: 2, retries: 3},
		{name: "no jitter", base: 10, factor: 2, jitter: 0, retries: 2},
		{name: "zero retries", base: 5, factor: 3, jitter: 2, retries: 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			// Sample repeatedly; jitter must stay within [0, jitter].
			for i := 0; i < 50; i++ {
				d := Backoff(tc.base, tc.factor, tc.jitter, tc.retries)
				lo := tc.base
				for n := 0; n < tc.retries; n++ {
					lo *= tc.factor
				}
				hi := lo + tc.jitter
				assert.GreaterOrEqual(t, d, time.Duration(lo*float64(time.Second)))
				assert.LessOrEqual(t, d, time.Duration(hi*float64(time.Second)))
			}
		})
	}
}

func TestBackoffDefaultsOnBadInput(t *testing.T) {
	d := Backoff(0, 0, 0, 1)
	assert.Greater(t, d, time.Duration(0))
}

func TestBreakerOpensAfterFailures(t *testing.T) {
	set := NewBreakerSet(3, time.Minute, time.Minute)
	ws := uuid.New()
	boom := errors.New("backend down")

	for i := 0; i < 3; i++ {
		err := set.Do(ws, "embed", func() error { return boom })
		require.ErrorIs(t, err, boom)
	}

	// Breaker is now open: the function must not run.
	called := false
	err := set.Do(ws, "embed", func() error { called = true; return nil })
	var open apperr.CircuitOpenError
	require.ErrorAs(t, err, &open)
	assert.False(t, called)
}

func TestBreakerIsPerWorkspace(t *testing.T) {
	set := NewBreakerSet(2, time.Minute, time.Minute)
	sick, healthy := uuid.New(), uuid.New()
	boom := errors.New("backend down")

	for i := 0; i < 2; i++ {
		_ = set.Do(sick, "embed", func() error { return boom })
	}
	err := set.Do(sick, "embed", func() error { return nil })
	var open apperr.CircuitOpenError
	require.ErrorAs(t, err, &open)

	// A different workspace is unaffected.
	err = set.Do(healthy, "embed", func() error { return nil })
	require.NoError(t, err)
}

func TestBreakerGuardsOnlyEmbed(t *testing.T) {
	set := NewBreakerSet(1, time.Minute, time.Minute)
	assert.True(t, set.Guards("embed"))
	assert.False(t, set.Guards("extract"))
	assert.False(t, set.Guards("chunk"))
}
