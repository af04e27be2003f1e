package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/legout/flowerpower-mqtt/metric"
)

func newTestPool(t *testing.T, workers, queueSize int, processor func(context.Context, int) error, opts ...Option[int]) *Pool[int] {
	t.Helper()
	pool, err := NewPool(workers, queueSize, processor, opts...)
	require.NoError(t, err)
	return pool
}

func TestNewPool_Defaults(t *testing.T) {
	pool := newTestPool(t, 0, 0, func(context.Context, int) error { return nil })
	stats := pool.Stats()
	assert.Equal(t, 4, stats.Workers)
	assert.Equal(t, 256, stats.QueueSize)
}

func TestNewPool_NilProcessor(t *testing.T) {
	_, err := NewPool[int](1, 1, nil)
	assert.ErrorIs(t, err, ErrNilProcessor)
}

func TestPool_SubmitBeforeStart(t *testing.T) {
	pool := newTestPool(t, 1, 1, func(context.Context, int) error { return nil })
	assert.ErrorIs(t, pool.Submit(1), ErrPoolNotStarted)
}

func TestPool_ProcessesWork(t *testing.T) {
	var sum atomic.Int64
	var wg sync.WaitGroup

	pool := newTestPool(t, 2, 100, func(_ context.Context, n int) error {
		sum.Add(int64(n))
		wg.Done()
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, pool.Start(ctx))

	total := 0
	for i := 1; i <= 50; i++ {
		wg.Add(1)
		require.NoError(t, pool.Submit(i))
		total += i
	}
	wg.Wait()

	assert.Equal(t, int64(total), sum.Load())
	stats := pool.Stats()
	assert.Equal(t, int64(50), stats.Submitted)
	assert.Equal(t, int64(50), stats.Processed)
	assert.Zero(t, stats.Failed)

	require.NoError(t, pool.Stop(time.Second))
}

func TestPool_QueueFull(t *testing.T) {
	block := make(chan struct{})
	pool := newTestPool(t, 1, 1, func(_ context.Context, _ int) error {
		<-block
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, pool.Start(ctx))

	// First item occupies the worker, second fills the queue.
	require.NoError(t, pool.Submit(1))
	require.Eventually(t, func() bool {
		return pool.Submit(2) == nil
	}, time.Second, time.Millisecond)

	err := pool.Submit(3)
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.GreaterOrEqual(t, pool.Stats().Dropped, int64(1))

	close(block)
	require.NoError(t, pool.Stop(time.Second))
}

func TestPool_FailedWorkCounted(t *testing.T) {
	var wg sync.WaitGroup
	pool := newTestPool(t, 1, 10, func(_ context.Context, n int) error {
		defer wg.Done()
		if n%2 == 0 {
			return errors.New("even numbers fail")
		}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, pool.Start(ctx))

	for i := 1; i <= 10; i++ {
		wg.Add(1)
		require.NoError(t, pool.Submit(i))
	}
	wg.Wait()

	stats := pool.Stats()
	assert.Equal(t, int64(10), stats.Processed)
	assert.Equal(t, int64(5), stats.Failed)

	require.NoError(t, pool.Stop(time.Second))
}

func TestPool_StartTwice(t *testing.T) {
	pool := newTestPool(t, 1, 1, func(context.Context, int) error { return nil })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, pool.Start(ctx))
	assert.ErrorIs(t, pool.Start(ctx), ErrPoolAlreadyStarted)
	require.NoError(t, pool.Stop(time.Second))
}

func TestPool_StopTimeoutReportsInFlight(t *testing.T) {
	started := make(chan struct{})
	block := make(chan struct{})
	defer close(block)

	pool := newTestPool(t, 1, 10, func(_ context.Context, _ int) error {
		close(started)
		<-block
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, pool.Start(ctx))
	require.NoError(t, pool.Submit(1))
	<-started

	err := pool.Stop(10 * time.Millisecond)
	assert.ErrorIs(t, err, ErrStopTimeout)
	assert.Equal(t, int64(1), pool.Stats().InFlight)
}

func TestPool_SubmitAfterStop(t *testing.T) {
	pool := newTestPool(t, 1, 1, func(context.Context, int) error { return nil })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, pool.Start(ctx))
	require.NoError(t, pool.Stop(time.Second))

	assert.ErrorIs(t, pool.Submit(1), ErrPoolStopped)
}

func TestPool_MetricsReleasedOnStop(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	processor := func(context.Context, int) error { return nil }

	first := newTestPool(t, 1, 1, processor, WithMetricsRegistry[int](registry, "dispatch"))
	require.NoError(t, first.Start(context.Background()))

	// The prefix is taken while the first pool is alive.
	_, err := NewPool(1, 1, processor, WithMetricsRegistry[int](registry, "dispatch"))
	require.Error(t, err)

	require.NoError(t, first.Stop(time.Second))

	// Stop released the registrations, so a replacement pool exports
	// fresh collectors under the same prefix.
	second := newTestPool(t, 1, 1, processor, WithMetricsRegistry[int](registry, "dispatch"))
	require.NoError(t, second.Start(context.Background()))
	require.NoError(t, second.Submit(1))
	require.NoError(t, second.Stop(time.Second))
}
