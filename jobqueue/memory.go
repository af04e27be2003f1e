package jobqueue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/legout/flowerpower-mqtt/errors"
	"github.com/legout/flowerpower-mqtt/pipeline"
)

// MemoryQueue is a channel-backed queue for queue-less deployments and
// tests. Enqueue never blocks; a full queue fails with ErrQueueUnavailable
// so the router records the dispatch as failed instead of stalling the
// message path.
type MemoryQueue struct {
	jobs   chan Job
	logger *slog.Logger

	// mu serializes Enqueue against Close so a send can never race the
	// channel close, and guards the worker generation bookkeeping.
	mu      sync.Mutex
	started bool
	closed  bool
	workers *sync.WaitGroup
}

// NewMemoryQueue creates a memory queue holding at most capacity pending jobs
func NewMemoryQueue(capacity int, logger *slog.Logger) *MemoryQueue {
	if capacity <= 0 {
		capacity = 1000
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryQueue{
		jobs:   make(chan Job, capacity),
		logger: logger,
	}
}

// Enqueue implements Queue. The send happens under the queue mutex; Close
// takes the same mutex before closing the channel, so an in-flight
// Enqueue either lands before the close or fails with ErrQueueUnavailable.
func (q *MemoryQueue) Enqueue(_ context.Context, pipelineName string, inputs pipeline.Inputs) (Job, error) {
	job := newJob(pipelineName, inputs)

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return Job{}, errors.WrapTransient(
			errors.ErrQueueUnavailable, "MemoryQueue", "Enqueue", "queue closed")
	}

	select {
	case q.jobs <- job:
		return job, nil
	default:
		return Job{}, errors.WrapTransient(
			fmt.Errorf("%w: queue at capacity %d", errors.ErrQueueUnavailable, cap(q.jobs)),
			"MemoryQueue", "Enqueue", "capacity check")
	}
}

// Pending returns the number of jobs waiting to run.
func (q *MemoryQueue) Pending() int {
	return len(q.jobs)
}

// Start launches workers draining the queue against engine. Job failures
// are logged and dropped; per the fire-and-forget contract they are not
// reported back to the dispatcher. When the worker set exits, because ctx
// was cancelled, the queue becomes startable again so jobs are never
// accepted without workers to run them.
func (q *MemoryQueue) Start(ctx context.Context, engine pipeline.Engine, workers int) error {
	if workers <= 0 {
		workers = 4
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return errors.WrapTransient(
			errors.ErrQueueUnavailable, "MemoryQueue", "Start", "queue closed")
	}
	if q.started {
		return errors.ErrAlreadyStarted
	}
	q.started = true

	wg := &sync.WaitGroup{}
	q.workers = wg
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go q.worker(ctx, engine, wg)
	}

	go func() {
		wg.Wait()
		q.mu.Lock()
		if q.workers == wg {
			q.started = false
			q.workers = nil
		}
		q.mu.Unlock()
	}()

	return nil
}

func (q *MemoryQueue) worker(ctx context.Context, engine pipeline.Engine, wg *sync.WaitGroup) {
	defer wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-q.jobs:
			if !ok {
				return
			}
			if _, err := engine.Execute(ctx, job.Pipeline, job.Inputs); err != nil {
				q.logger.Warn("background job failed",
					"job_id", job.ID,
					"pipeline", job.Pipeline,
					"error", err)
			}
		}
	}
}

// Close stops accepting jobs and waits for workers to drain.
func (q *MemoryQueue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.jobs)
	wg := q.workers
	q.mu.Unlock()

	if wg != nil {
		wg.Wait()
	}
}
