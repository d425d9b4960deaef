package ephemeral

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDedupStoreMarkSeen(t *testing.T) {
	s := NewMemoryStore()
	dedup := NewDedupStore(s)
	ctx := context.Background()

	first, err := dedup.MarkSeen(ctx, "ws1", "SMx1")
	require.NoError(t, err)
	require.True(t, first)

	second, err := dedup.MarkSeen(ctx, "ws1", "SMx1")
	require.NoError(t, err)
	require.False(t, second)

	otherWorkspace, err := dedup.MarkSeen(ctx, "ws2", "SMx1")
	require.NoError(t, err)
	require.True(t, otherWorkspace, "dedup is workspace-scoped")
}

func TestDebounceBufferAppendAndFlush(t *testing.T) {
	s := NewMemoryStore()
	buf := NewDebounceBuffer(s)
	ctx := context.Background()

	_, err := buf.Append(ctx, "ws1", "+54911", BufferedMessage{ProviderMessageID: "m1", Text: "Hola"}, time.Second, 5)
	require.NoError(t, err)
	held, err := buf.Append(ctx, "ws1", "+54911", BufferedMessage{ProviderMessageID: "m2", Text: "quiero pedir"}, time.Second, 5)
	require.NoError(t, err)
	require.Len(t, held, 2)

	flushed, err := buf.Flush(ctx, "ws1", "+54911")
	require.NoError(t, err)
	require.Len(t, flushed, 2)
	require.Equal(t, "Hola", flushed[0].Text)

	again, err := buf.Flush(ctx, "ws1", "+54911")
	require.NoError(t, err)
	require.Empty(t, again)
}

func TestDebounceBufferTruncatesToCap(t *testing.T) {
	s := NewMemoryStore()
	buf := NewDebounceBuffer(s)
	ctx := context.Background()

	var held []BufferedMessage
	var err error
	for i := 0; i < 7; i++ {
		held, err = buf.Append(ctx, "ws1", "+54911",
			BufferedMessage{ProviderMessageID: string(rune('a' + i)), Text: "msg"}, time.Second, 5)
		require.NoError(t, err)
	}
	require.Len(t, held, 5)
	// The oldest entries were dropped; the newest survive.
	require.Equal(t, "c", held[0].ProviderMessageID)
	require.Equal(t, "g", held[4].ProviderMessageID)
}

func TestRateLimiterPerContactAndWorkspace(t *testing.T) {
	s := NewMemoryStore()
	rl := NewRateLimiter(s)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := rl.Allow(ctx, "ws1", "+54911", 3)
		require.NoError(t, err)
		require.True(t, ok)
	}
	ok, err := rl.Allow(ctx, "ws1", "+54911", 3)
	require.NoError(t, err)
	require.False(t, ok, "fourth call within the same minute exceeds the per-contact limit of 3")
}

func TestEmbeddingCacheFIFOEviction(t *testing.T) {
	s := NewMemoryStore()
	cache := NewEmbeddingCache(s, time.Minute, 2)
	ctx := context.Background()

	require.NoError(t, cache.Put(ctx, "ws1", "hash-a", []float32{1, 2}))
	require.NoError(t, cache.Put(ctx, "ws1", "hash-b", []float32{3, 4}))
	require.NoError(t, cache.Put(ctx, "ws1", "hash-c", []float32{5, 6}))

	_, ok, err := cache.Get(ctx, "ws1", "hash-a")
	require.NoError(t, err)
	require.False(t, ok, "oldest entry is FIFO-evicted once capacity is exceeded")

	vec, ok, err := cache.Get(ctx, "ws1", "hash-c")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []float32{5, 6}, vec)
}
