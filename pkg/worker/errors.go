package worker

import "errors"

// Pool lifecycle and submission errors
var (
	// ErrNilProcessor indicates a pool was created without a processor function
	ErrNilProcessor = errors.New("worker: processor function cannot be nil")
	// ErrPoolNotStarted indicates work was submitted before Start
	ErrPoolNotStarted = errors.New("worker: pool not started")
	// ErrPoolAlreadyStarted indicates Start was called twice
	ErrPoolAlreadyStarted = errors.New("worker: pool already started")
	// ErrPoolStopped indicates work was submitted after Stop
	ErrPoolStopped = errors.New("worker: pool stopped")
	// ErrQueueFull indicates the work queue is at capacity
	ErrQueueFull = errors.New("worker: queue full")
	// ErrStopTimeout indicates workers did not finish within the stop timeout
	ErrStopTimeout = errors.New("worker: stop timeout exceeded")
)
