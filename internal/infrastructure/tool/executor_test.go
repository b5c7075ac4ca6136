package tool

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	domaintool "github.com/agentforge/runtime/internal/domain/tool"
)

func echoTool(name string) domaintool.Tool {
	return domaintool.NewFuncTool(domaintool.Meta{Name: name}, nil,
		func(ctx context.Context, args map[string]any, execCtx domaintool.ExecContext) (any, error) {
			return "ok", nil
		})
}

func TestParallelExecutor_ExecuteAll_DispatchesExactlyMax(t *testing.T) {
	registry := domaintool.NewInMemoryRegistry()
	require.NoError(t, registry.Register(echoTool("t")))

	exec := NewParallelExecutor(registry, 25, zap.NewNop())

	calls := make([]Call, 30)
	for i := range calls {
		calls[i] = Call{ID: "c" + string(rune('a'+i)), Name: "t"}
	}

	var started int32
	outcomes := exec.ExecuteAll(context.Background(), calls, domaintool.ExecContext{}, func(Call) {
		atomic.AddInt32(&started, 1)
	})

	require.Len(t, outcomes, 30)
	assert.Equal(t, int32(25), started, "onStart fires only for the dispatched batch")

	var ran, queued int
	for _, o := range outcomes {
		if o.Queued {
			queued++
			assert.False(t, o.Ran)
			assert.Nil(t, o.Result)
		} else {
			ran++
			assert.True(t, o.Ran)
			assert.Equal(t, "ok", o.Result)
		}
	}
	assert.Equal(t, 25, ran, "exactly maxConcurrent calls execute this step")
	assert.Equal(t, 5, queued, "the remainder is left pending for a later step")
}

func TestParallelExecutor_ExecuteAll_UnderCapRunsAll(t *testing.T) {
	registry := domaintool.NewInMemoryRegistry()
	require.NoError(t, registry.Register(echoTool("t")))

	exec := NewParallelExecutor(registry, 25, zap.NewNop())
	calls := []Call{{ID: "c1", Name: "t"}, {ID: "c2", Name: "t"}}

	outcomes := exec.ExecuteAll(context.Background(), calls, domaintool.ExecContext{}, nil)

	require.Len(t, outcomes, 2)
	for _, o := range outcomes {
		assert.True(t, o.Ran)
		assert.False(t, o.Queued)
	}
}

func TestParallelExecutor_ExecuteAll_SubagentSpawnIsNotRanNotQueued(t *testing.T) {
	registry := domaintool.NewInMemoryRegistry()
	spawnTool := domaintool.NewFuncTool(domaintool.Meta{Name: "task"}, nil,
		func(ctx context.Context, args map[string]any, execCtx domaintool.ExecContext) (any, error) {
			return nil, nil
		})
	require.NoError(t, registry.Register(spawnTool))

	exec := NewParallelExecutor(registry, 25, zap.NewNop())
	outcomes := exec.ExecuteAll(context.Background(), []Call{{ID: "c1", Name: "task"}}, domaintool.ExecContext{}, nil)

	require.Len(t, outcomes, 1)
	assert.False(t, outcomes[0].Ran)
	assert.False(t, outcomes[0].Queued)
	assert.NoError(t, outcomes[0].Err)
}
