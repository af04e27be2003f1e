// Package jobqueue defines the background job queue capability consumed
// by the dispatch router for async execution, plus two implementations:
// a channel-backed in-memory queue and a NATS JetStream-backed queue.
//
// The contract is fire-and-forget: enqueue(pipeline, inputs) -> job handle.
// The eventual success or failure of an accepted job is not observed by
// the dispatcher; statistics for background jobs mean "accepted for
// execution", not "completed successfully".
package jobqueue

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/legout/flowerpower-mqtt/pipeline"
)

// Job is the handle returned by a successful enqueue.
type Job struct {
	ID         string          `json:"id"`
	Pipeline   string          `json:"pipeline"`
	Inputs     pipeline.Inputs `json:"inputs"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

// Queue accepts pipeline jobs for background execution. Implementations
// must be safe for concurrent use. Enqueue fails with ErrQueueUnavailable
// when the queue cannot accept work.
type Queue interface {
	Enqueue(ctx context.Context, pipelineName string, inputs pipeline.Inputs) (Job, error)
}

// newJob builds a job handle with a fresh id.
func newJob(pipelineName string, inputs pipeline.Inputs) Job {
	return Job{
		ID:         uuid.New().String(),
		Pipeline:   pipelineName,
		Inputs:     inputs,
		EnqueuedAt: time.Now(),
	}
}
