package jobqueue

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/legout/flowerpower-mqtt/errors"
	"github.com/legout/flowerpower-mqtt/pipeline"
)

func TestMemoryQueue_Enqueue(t *testing.T) {
	q := NewMemoryQueue(10, nil)

	job, err := q.Enqueue(context.Background(), "temp_proc", pipeline.Inputs{"topic": "sensors/room1"})
	require.NoError(t, err)
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, "temp_proc", job.Pipeline)
	assert.False(t, job.EnqueuedAt.IsZero())
	assert.Equal(t, 1, q.Pending())
}

func TestMemoryQueue_EnqueueFull(t *testing.T) {
	q := NewMemoryQueue(2, nil)

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, err := q.Enqueue(ctx, "p", nil)
		require.NoError(t, err)
	}

	_, err := q.Enqueue(ctx, "p", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrQueueUnavailable)
}

func TestMemoryQueue_EnqueueAfterClose(t *testing.T) {
	q := NewMemoryQueue(2, nil)
	q.Close()

	_, err := q.Enqueue(context.Background(), "p", nil)
	assert.ErrorIs(t, err, errors.ErrQueueUnavailable)
}

func TestMemoryQueue_WorkersDrainJobs(t *testing.T) {
	q := NewMemoryQueue(100, nil)
	engine := pipeline.NewFuncEngine()

	var executed atomic.Int64
	done := make(chan struct{})
	require.NoError(t, engine.Register("count", func(_ context.Context, _ pipeline.Inputs) (pipeline.Outputs, error) {
		if executed.Add(1) == 20 {
			close(done)
		}
		return nil, nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, q.Start(ctx, engine, 4))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := q.Enqueue(ctx, "count", nil)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("workers drained %d of 20 jobs", executed.Load())
	}
}

func TestMemoryQueue_ConcurrentEnqueueClose(t *testing.T) {
	q := NewMemoryQueue(4, nil)

	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			for j := 0; j < 200; j++ {
				if _, err := q.Enqueue(context.Background(), "p", nil); err != nil {
					assert.ErrorIs(t, err, errors.ErrQueueUnavailable)
				}
			}
		}()
	}

	close(start)
	q.Close()
	wg.Wait()

	_, err := q.Enqueue(context.Background(), "p", nil)
	assert.ErrorIs(t, err, errors.ErrQueueUnavailable)
}

func TestMemoryQueue_RestartAfterWorkersExit(t *testing.T) {
	q := NewMemoryQueue(10, nil)
	engine := pipeline.NewFuncEngine()

	var executed atomic.Int64
	require.NoError(t, engine.Register("count", func(context.Context, pipeline.Inputs) (pipeline.Outputs, error) {
		executed.Add(1)
		return nil, nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, q.Start(ctx, engine, 2))
	cancel()

	// Once the cancelled worker set exits, Start must succeed again so
	// accepted jobs always have workers behind them.
	require.Eventually(t, func() bool {
		return q.Start(context.Background(), engine, 2) == nil
	}, 2*time.Second, 5*time.Millisecond)

	_, err := q.Enqueue(context.Background(), "count", nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return executed.Load() == 1
	}, 2*time.Second, 5*time.Millisecond)

	q.Close()
}

func TestMemoryQueue_StartAfterClose(t *testing.T) {
	q := NewMemoryQueue(10, nil)
	q.Close()

	err := q.Start(context.Background(), pipeline.NewFuncEngine(), 1)
	assert.ErrorIs(t, err, errors.ErrQueueUnavailable)
}

func TestMemoryQueue_StartTwice(t *testing.T) {
	q := NewMemoryQueue(10, nil)
	engine := pipeline.NewFuncEngine()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, q.Start(ctx, engine, 1))
	assert.ErrorIs(t, q.Start(ctx, engine, 1), errors.ErrAlreadyStarted)
}

func TestSubjectToken(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"temp_proc", "temp_proc"},
		{"orders.created", "orders_created"},
		{"a/b c", "a_b_c"},
		{"", "unnamed"},
	}
	for _, test := range tests {
		assert.Equal(t, test.want, subjectToken(test.in))
	}
}
