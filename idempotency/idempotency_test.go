package idempotency

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryMarkProcessed(t *testing.T) {
	m := NewMemory()
	defer m.Close()
	ctx := context.Background()

	t.Run("new key", func(t *testing.T) {
		isNew, err := m.MarkProcessed(ctx, "batch-1", time.Hour)
		require.NoError(t, err)
		assert.True(t, isNew)
	})

	t.Run("duplicate key", func(t *testing.T) {
		_, err := m.MarkProcessed(ctx, "batch-2", time.Hour)
		require.NoError(t, err)

		isNew, err := m.MarkProcessed(ctx, "batch-2", time.Hour)
		require.NoError(t, err)
		assert.False(t, isNew)

		done, err := m.IsProcessed(ctx, "batch-2")
		require.NoError(t, err)
		assert.True(t, done)
	})

	t.Run("release allows retry", func(t *testing.T) {
		_, err := m.MarkProcessed(ctx, "batch-3", time.Hour)
		require.NoError(t, err)
		require.NoError(t, m.Release(ctx, "batch-3"))

		isNew, err := m.MarkProcessed(ctx, "batch-3", time.Hour)
		require.NoError(t, err)
		assert.True(t, isNew)
	})
}

func TestMemoryExpiry(t *testing.T) {
	m := NewMemory()
	defer m.Close()
	ctx := context.Background()

	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	_, err := m.MarkProcessed(ctx, "batch", time.Minute)
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	done, err := m.IsProcessed(ctx, "batch")
	require.NoError(t, err)
	assert.False(t, done)

	m.cleanup()
	assert.Zero(t, m.Len())

	isNew, err := m.MarkProcessed(ctx, "batch", time.Minute)
	require.NoError(t, err)
	assert.True(t, isNew)
}

func TestMemoryConcurrentMark(t *testing.T) {
	m := NewMemory()
	defer m.Close()
	ctx := context.Background()

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := m.MarkProcessed(ctx, "same", time.Hour); ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
}

func TestMemoryCloseTwice(t *testing.T) {
	m := NewMemory()
	assert.NoError(t, m.Close())
	assert.NoError(t, m.Close())
}
