package msgworker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolDispatchNonBlocking(t *testing.T) {
	pool := NewPool(2, 10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)
	defer pool.Stop()

	start := time.Now()
	ok := pool.TryDispatch(Job{
		WorkspaceID:     "ws",
		ConversationKey: "contact-1",
		Handler: func(ctx context.Context) error {
			time.Sleep(100 * time.Millisecond)
			return nil
		},
	})
	require.True(t, ok)
	assert.Less(t, time.Since(start), 10*time.Millisecond)
}

func TestPoolSameConversationIsSequential(t *testing.T) {
	pool := NewPool(4, 100)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		i := i
		wg.Add(1)
		require.True(t, pool.TryDispatch(Job{
			WorkspaceID:     "ws",
			ConversationKey: "same-contact",
			Handler: func(ctx context.Context) error {
				defer wg.Done()
				time.Sleep(time.Millisecond)
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				return nil
			},
		}))
	}
	wg.Wait()
	pool.Stop()

	require.Len(t, order, 10)
	for i, v := range order {
		assert.Equal(t, i, v, "same-conversation jobs must run FIFO")
	}
}

func TestPoolShardIsStable(t *testing.T) {
	pool := NewPool(8, 10)
	a := pool.shardFor("ws", "contact-a")
	for i := 0; i < 20; i++ {
		assert.Equal(t, a, pool.shardFor("ws", "contact-a"))
	}
}

func TestPoolBackpressure(t *testing.T) {
	pool := NewPool(1, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)

	block := make(chan struct{})
	// Occupy the worker, then fill its single queue slot.
	require.True(t, pool.TryDispatch(Job{ConversationKey: "c", Handler: func(ctx context.Context) error {
		<-block
		return nil
	}}))
	// Give the worker a moment to pick up the first job.
	time.Sleep(10 * time.Millisecond)
	require.True(t, pool.TryDispatch(Job{ConversationKey: "c", Handler: func(ctx context.Context) error { return nil }}))

	// Queue is full now: the next dispatch must be rejected, not block.
	assert.False(t, pool.TryDispatch(Job{ConversationKey: "c", Handler: func(ctx context.Context) error { return nil }}))
	assert.Equal(t, int64(1), pool.GetStats().TotalDropped)
	close(block)
	pool.Stop()
}

func TestPoolStopIsIdempotent(t *testing.T) {
	pool := NewPool(2, 10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)
	pool.Stop()
	pool.Stop()
	assert.False(t, pool.TryDispatch(Job{ConversationKey: "c", Handler: func(ctx context.Context) error { return nil }}))
}
