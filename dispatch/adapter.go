package dispatch

import (
	"context"
	stderrors "errors"

	"github.com/legout/flowerpower-mqtt/errors"
	"github.com/legout/flowerpower-mqtt/jobqueue"
	"github.com/legout/flowerpower-mqtt/pipeline"
)

// Result is the normalized outcome of one adapter run. For immediate
// executions Outputs holds the pipeline result; for background dispatches
// Job holds the accepted job handle and the run's eventual success or
// failure is not observed (fire-and-forget).
type Result struct {
	Outputs pipeline.Outputs
	Job     jobqueue.Job
}

// Adapter presents "run now and wait" and "enqueue for later" behind one
// capability, normalizing failure reporting back to the router.
type Adapter struct {
	engine pipeline.Engine
	queue  jobqueue.Queue
}

// NewAdapter creates an execution adapter. queue may be nil; background
// dispatches then fail with ErrQueueUnavailable, which the router records
// as an execution failure.
func NewAdapter(engine pipeline.Engine, queue jobqueue.Queue) *Adapter {
	return &Adapter{engine: engine, queue: queue}
}

// QueueEnabled reports whether background dispatch is available.
func (a *Adapter) QueueEnabled() bool {
	return a.queue != nil
}

// Run executes pipelineName with inputs under the resolved mode.
func (a *Adapter) Run(ctx context.Context, pipelineName string, inputs pipeline.Inputs, mode ResolvedMode) (Result, error) {
	if mode == ResolvedImmediate {
		outputs, err := a.engine.Execute(ctx, pipelineName, inputs)
		if err != nil {
			return Result{}, err
		}
		return Result{Outputs: outputs}, nil
	}

	if a.queue == nil {
		return Result{}, errors.WrapTransient(
			errors.ErrQueueUnavailable, "Adapter", "Run", "no job queue configured")
	}

	job, err := a.queue.Enqueue(ctx, pipelineName, inputs)
	if err != nil {
		return Result{}, err
	}
	return Result{Job: job}, nil
}

// classifyError maps a dispatch failure onto its ErrorKind.
func classifyError(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case stderrors.Is(err, errors.ErrPipelineNotFound):
		return KindPipelineNotFound
	case stderrors.Is(err, errors.ErrQueueUnavailable), stderrors.Is(err, errors.ErrQueueFull):
		return KindQueueUnavailable
	default:
		return KindPipelineExecutionFailed
	}
}
