package tool

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	domaintool "github.com/agentforge/runtime/internal/domain/tool"
)

// Call is one pending tool invocation, as produced by a model's tool_calls
// response (spec §4.6 step 4g).
type Call struct {
	ID   string
	Name string
	Args map[string]any
}

// Outcome is the result of one settled call. Err is set on tool throw
// (TOOL_ERROR); a nil Result with a nil Err is the "no result yet" signal
// (subagent spawns), which the step loop must not turn into an event.
type Outcome struct {
	CallID string
	Result any
	Err    error
	Ran    bool // false for the nil/nil "no result yet" case and for queued calls
	Queued bool // batch exceeded maxConcurrent; not attempted this step
}

// ParallelExecutor runs up to maxConcurrent tool calls at once. Grounded on
// the teacher's Executor (internal/infrastructure/tool/executor.go): same
// lookup-then-invoke-then-log shape, generalized to run a batch
// concurrently under a semaphore instead of one call at a time.
type ParallelExecutor struct {
	registry      domaintool.Registry
	maxConcurrent int
	timeout       time.Duration
	logger        *zap.Logger
}

func NewParallelExecutor(registry domaintool.Registry, maxConcurrent int, logger *zap.Logger) *ParallelExecutor {
	if maxConcurrent <= 0 {
		maxConcurrent = 25
	}
	return &ParallelExecutor{registry: registry, maxConcurrent: maxConcurrent, logger: logger}
}

// WithTimeout bounds every individual call's Execute with a per-call
// deadline (spec §4.6's tool step must not be able to hang the run forever).
// Zero leaves calls unbounded beyond whatever ctx the caller passed in.
func (e *ParallelExecutor) WithTimeout(timeout time.Duration) *ParallelExecutor {
	e.timeout = timeout
	return e
}

// ExecuteAll runs up to maxConcurrent pending calls concurrently and
// returns results in the same order as calls; any calls beyond
// maxConcurrent are left unattempted (Outcome.Queued) for the caller to
// retry on a later step, per spec §8's "more than N calls produces exactly
// N per step, queuing the rest". onStart is invoked synchronously before a
// dispatched call's goroutine starts, giving the caller a chance to emit
// TOOL_START and run onToolStart hooks in call order; queued calls get no
// onStart this step.
func (e *ParallelExecutor) ExecuteAll(ctx context.Context, calls []Call, execCtx domaintool.ExecContext, onStart func(Call)) []Outcome {
	results := make([]Outcome, len(calls))
	dispatched := len(calls)
	if dispatched > e.maxConcurrent {
		dispatched = e.maxConcurrent
	}

	var wg sync.WaitGroup
	for i := 0; i < dispatched; i++ {
		call := calls[i]
		if onStart != nil {
			onStart(call)
		}
		wg.Add(1)
		go func(idx int, c Call) {
			defer wg.Done()
			results[idx] = e.executeOne(ctx, c, execCtx)
		}(i, call)
	}
	wg.Wait()

	for i := dispatched; i < len(calls); i++ {
		results[i] = Outcome{CallID: calls[i].ID, Queued: true}
	}
	return results
}

func (e *ParallelExecutor) executeOne(ctx context.Context, call Call, execCtx domaintool.ExecContext) Outcome {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	start := time.Now()
	t, ok := e.registry.Get(call.Name)
	if !ok {
		e.logger.Warn("tool not found", zap.String("tool", call.Name), zap.String("call_id", call.ID))
		return Outcome{CallID: call.ID, Err: &toolNotFoundError{name: call.Name}, Ran: true}
	}

	execCtx.CallID = call.ID
	result, err := t.Execute(ctx, call.Args, execCtx)
	duration := time.Since(start)

	if err != nil {
		e.logger.Warn("tool execution error",
			zap.String("tool", call.Name), zap.String("call_id", call.ID),
			zap.Duration("duration", duration), zap.Error(err))
		return Outcome{CallID: call.ID, Err: err, Ran: true}
	}
	if result == nil {
		// subagent spawn tools resolve asynchronously; no event yet.
		return Outcome{CallID: call.ID, Ran: false}
	}

	e.logger.Debug("tool execution finished",
		zap.String("tool", call.Name), zap.String("call_id", call.ID), zap.Duration("duration", duration))
	return Outcome{CallID: call.ID, Result: result, Ran: true}
}

type toolNotFoundError struct{ name string }

func (e *toolNotFoundError) Error() string { return "tool not found: " + e.name }
