package pipeline

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/legout/flowerpower-mqtt/errors"
)

func TestFuncEngine_Execute(t *testing.T) {
	engine := NewFuncEngine()

	err := engine.Register("double", func(_ context.Context, inputs Inputs) (Outputs, error) {
		v := inputs["value"].(int)
		return Outputs{"result": v * 2}, nil
	})
	require.NoError(t, err)

	outputs, err := engine.Execute(context.Background(), "double", Inputs{"value": 21})
	require.NoError(t, err)
	assert.Equal(t, 42, outputs["result"])
}

func TestFuncEngine_ExecuteNotFound(t *testing.T) {
	engine := NewFuncEngine()

	_, err := engine.Execute(context.Background(), "missing", Inputs{})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrPipelineNotFound)
}

func TestFuncEngine_ExecuteFailure(t *testing.T) {
	engine := NewFuncEngine()

	require.NoError(t, engine.Register("broken", func(_ context.Context, _ Inputs) (Outputs, error) {
		return nil, fmt.Errorf("downstream blew up")
	}))

	_, err := engine.Execute(context.Background(), "broken", Inputs{})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrPipelineExecutionFailed)
	assert.Contains(t, err.Error(), "downstream blew up")
}

func TestFuncEngine_RegisterValidation(t *testing.T) {
	engine := NewFuncEngine()

	assert.ErrorIs(t, engine.Register("", func(_ context.Context, _ Inputs) (Outputs, error) {
		return nil, nil
	}), errors.ErrInvalidConfig)
	assert.ErrorIs(t, engine.Register("nilfn", nil), errors.ErrInvalidConfig)
}

func TestFuncEngine_ConcurrentExecute(t *testing.T) {
	engine := NewFuncEngine()

	require.NoError(t, engine.Register("echo", func(_ context.Context, inputs Inputs) (Outputs, error) {
		return Outputs{"echo": inputs["value"]}, nil
	}))

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				outputs, err := engine.Execute(context.Background(), "echo", Inputs{"value": i})
				if err != nil {
					t.Error(err)
					return
				}
				if outputs["echo"] != i {
					t.Errorf("expected %d, got %v", i, outputs["echo"])
					return
				}
			}
		}(i)
	}
	wg.Wait()
}
