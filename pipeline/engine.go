// Package pipeline defines the pipeline-engine capability consumed by the
// dispatch router, plus a local in-process engine backed by registered Go
// functions. The wire contract is execute(name, inputs) -> outputs; the
// engine may fail with ErrPipelineNotFound or ErrPipelineExecutionFailed.
package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/legout/flowerpower-mqtt/errors"
)

// Inputs is the key/value payload handed to a pipeline run. The dispatch
// router populates at minimum: "payload", "topic", "qos" and "timestamp".
type Inputs map[string]any

// Outputs is the key/value result of a pipeline run.
type Outputs map[string]any

// Engine executes named pipelines. Implementations must be safe for
// concurrent use; Execute blocks until the run completes or fails.
type Engine interface {
	// Execute runs the named pipeline with the given inputs. It returns
	// ErrPipelineNotFound for unknown names and wraps downstream run
	// failures as ErrPipelineExecutionFailed.
	Execute(ctx context.Context, name string, inputs Inputs) (Outputs, error)
}

// Func is a pipeline implemented as a plain Go function.
type Func func(ctx context.Context, inputs Inputs) (Outputs, error)

// FuncEngine is a local Engine backed by a registry of Go functions. It
// lets the listener run end-to-end without an external pipeline process
// and is the engine used throughout the tests.
type FuncEngine struct {
	mu        sync.RWMutex
	pipelines map[string]Func
}

// NewFuncEngine creates an empty function-backed engine
func NewFuncEngine() *FuncEngine {
	return &FuncEngine{
		pipelines: make(map[string]Func),
	}
}

// Register adds or replaces a pipeline function under name.
func (e *FuncEngine) Register(name string, fn Func) error {
	if name == "" {
		return errors.WrapInvalid(
			fmt.Errorf("%w: empty pipeline name", errors.ErrInvalidConfig),
			"FuncEngine", "Register", "name validation")
	}
	if fn == nil {
		return errors.WrapInvalid(
			fmt.Errorf("%w: nil pipeline func for %q", errors.ErrInvalidConfig, name),
			"FuncEngine", "Register", "func validation")
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.pipelines[name] = fn
	return nil
}

// Names returns the registered pipeline names.
func (e *FuncEngine) Names() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	names := make([]string, 0, len(e.pipelines))
	for name := range e.pipelines {
		names = append(names, name)
	}
	return names
}

// Execute implements Engine.
func (e *FuncEngine) Execute(ctx context.Context, name string, inputs Inputs) (Outputs, error) {
	e.mu.RLock()
	fn, ok := e.pipelines[name]
	e.mu.RUnlock()

	if !ok {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: %q", errors.ErrPipelineNotFound, name),
			"FuncEngine", "Execute", "pipeline lookup")
	}

	outputs, err := fn(ctx, inputs)
	if err != nil {
		return nil, errors.Wrap(
			fmt.Errorf("%w: %v", errors.ErrPipelineExecutionFailed, err),
			"FuncEngine", "Execute", fmt.Sprintf("pipeline %q", name))
	}
	return outputs, nil
}
