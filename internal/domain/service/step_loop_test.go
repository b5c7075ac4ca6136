package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/agentforge/runtime/internal/domain/entity"
	domaintool "github.com/agentforge/runtime/internal/domain/tool"
)

// fakeAppender is an in-memory EventAppender assigning monotonic seqs,
// standing in for the repository.EventStore slice the real agent runtime
// uses.
type fakeAppender struct {
	events []entity.Event
}

func (f *fakeAppender) AppendEvent(ctx context.Context, agentID string, e entity.Event) (uint64, error) {
	e.Seq = uint64(len(f.events) + 1)
	f.events = append(f.events, e)
	return e.Seq, nil
}

// fakeStepProvider replays a queued sequence of responses, one per Invoke
// call, so a test can script a multi-step conversation (tool call then
// final reply).
type fakeStepProvider struct {
	replies []ModelResponse
	calls   int
}

func (p *fakeStepProvider) Invoke(ctx context.Context, req ModelRequest) (ModelResponse, error) {
	if p.calls >= len(p.replies) {
		return ModelResponse{}, errors.New("fakeStepProvider: no more scripted replies")
	}
	resp := p.replies[p.calls]
	p.calls++
	return resp, nil
}

func textReply(text string) ModelResponse {
	return ModelResponse{Message: entity.Message{Role: entity.RoleAssistant, Parts: []entity.Part{{Type: entity.PartText, Text: text}}}}
}

func toolCallReply(callID, name string, args map[string]any) ModelResponse {
	return ModelResponse{Message: entity.Message{
		Role:  entity.RoleAssistant,
		Parts: []entity.Part{{Type: entity.PartToolCall, ToolCallID: callID, ToolCallName: name, ToolCallArgs: args}},
	}}
}

// fakeToolExecutor runs each call through a per-name outcome function,
// mirroring infrastructure/tool.ParallelExecutor's contract without the
// concurrency.
type fakeToolExecutor struct {
	outcomes map[string]ToolOutcome // keyed by call ID
	started  []string
}

func (f *fakeToolExecutor) ExecuteAll(ctx context.Context, calls []ToolCallRequest, execCtx domaintool.ExecContext, onStart func(ToolCallRequest)) []ToolOutcome {
	out := make([]ToolOutcome, 0, len(calls))
	for _, c := range calls {
		onStart(c)
		f.started = append(f.started, c.ID)
		o, ok := f.outcomes[c.ID]
		if !ok {
			o = ToolOutcome{CallID: c.ID, Ran: true}
		}
		out = append(out, o)
	}
	return out
}

func newTestLoop(t *testing.T, provider Provider, tools ToolExecutor, vars map[string]any) *StepLoop {
	t.Helper()
	proj := entity.Projection{Status: entity.StatusRunning}
	return NewStepLoop("agent-1", "agency-1", proj, StepLoop{
		Provider: provider,
		Tools:    tools,
		Registry: domaintool.NewInMemoryRegistry(),
		Events:   &fakeAppender{},
		Hooks:    NewHookDispatcher(zap.NewNop()),
		Logger:   zap.NewNop(),
		Vars:     vars,
	})
}

func TestStepLoop_Run_CompletesOnNoToolCalls(t *testing.T) {
	provider := &fakeStepProvider{replies: []ModelResponse{textReply("done")}}
	loop := newTestLoop(t, provider, &fakeToolExecutor{}, nil)

	loop.Run(context.Background())

	assert.Equal(t, entity.StatusCompleted, loop.Projection().Status)
	assert.Equal(t, 1, provider.calls)
}

func TestStepLoop_Run_IterationLimitExceeded(t *testing.T) {
	proj := entity.Projection{Status: entity.StatusRunning, Step: 0}
	loop := NewStepLoop("agent-1", "agency-1", proj, StepLoop{
		IterationLimit: 1,
		Provider:       &fakeStepProvider{replies: []ModelResponse{textReply("should not be reached")}},
		Tools:          &fakeToolExecutor{},
		Registry:       domaintool.NewInMemoryRegistry(),
		Events:         &fakeAppender{},
		Hooks:          NewHookDispatcher(zap.NewNop()),
		Logger:         zap.NewNop(),
	})
	loop.step = 1 // already at the configured limit

	loop.Run(context.Background())

	assert.Equal(t, entity.StatusError, loop.Projection().Status)
	assert.Equal(t, "max_iterations_exceeded", loop.Projection().LastError)
}

func TestStepLoop_Run_ToolCallThenCompletes(t *testing.T) {
	provider := &fakeStepProvider{replies: []ModelResponse{
		toolCallReply("call_1", "fs_read", map[string]any{"path": "/tmp/x"}),
		textReply("all done"),
	}}
	tools := &fakeToolExecutor{outcomes: map[string]ToolOutcome{
		"call_1": {CallID: "call_1", Ran: true, Result: "file contents"},
	}}
	loop := newTestLoop(t, provider, tools, nil)

	loop.Run(context.Background())

	assert.Equal(t, entity.StatusCompleted, loop.Projection().Status)
	assert.Equal(t, 2, provider.calls)
	assert.Equal(t, []string{"call_1"}, tools.started)
	assert.Empty(t, loop.Projection().PendingToolCalls)
}

func TestStepLoop_Run_ToolErrorRecordedAndLoopContinues(t *testing.T) {
	provider := &fakeStepProvider{replies: []ModelResponse{
		toolCallReply("call_1", "fs_write", nil),
		textReply("recovered"),
	}}
	tools := &fakeToolExecutor{outcomes: map[string]ToolOutcome{
		"call_1": {CallID: "call_1", Ran: true, Err: errors.New("permission denied")},
	}}
	loop := newTestLoop(t, provider, tools, nil)

	loop.Run(context.Background())

	assert.Equal(t, entity.StatusCompleted, loop.Projection().Status)
	found := false
	for _, m := range loop.Projection().Messages {
		if m.Role == entity.RoleTool && m.Parts[0].ToolResponse == "Error: permission denied" {
			found = true
		}
	}
	assert.True(t, found, "expected a tool-error message in the projected transcript")
}

func TestStepLoop_Run_HITLGatingPausesBeforeToolExecution(t *testing.T) {
	provider := &fakeStepProvider{replies: []ModelResponse{
		toolCallReply("call_1", "fs_write", map[string]any{"path": "/etc/passwd"}),
	}}
	tools := &fakeToolExecutor{}
	loop := newTestLoop(t, provider, tools, map[string]any{"HITL_TOOLS": []string{"fs_write"}})

	loop.Run(context.Background())

	assert.Equal(t, entity.StatusPaused, loop.Projection().Status)
	assert.Equal(t, "hitl", loop.Projection().LastError)
	assert.Empty(t, tools.started, "gated tool must not execute before approval")
}

func TestStepLoop_Approve_RejectedRecordsErrorAndResumes(t *testing.T) {
	proj := entity.Projection{Status: entity.StatusPaused, LastError: "hitl", PendingToolCalls: []string{"call_1"}}
	loop := NewStepLoop("agent-1", "agency-1", proj, StepLoop{
		Provider: &fakeStepProvider{},
		Tools:    &fakeToolExecutor{},
		Registry: domaintool.NewInMemoryRegistry(),
		Events:   &fakeAppender{},
		Hooks:    NewHookDispatcher(zap.NewNop()),
		Logger:   zap.NewNop(),
	})
	loop.pendingCalls = []entity.Part{{Type: entity.PartToolCall, ToolCallID: "call_1", ToolCallName: "fs_write"}}

	require.NoError(t, loop.Approve(context.Background(), false, nil))

	assert.Equal(t, entity.StatusRunning, loop.Projection().Status)
	assert.Empty(t, loop.Projection().PendingToolCalls)
}

func TestStepLoop_Approve_RequiresPausedHitlState(t *testing.T) {
	loop := newTestLoop(t, &fakeStepProvider{}, &fakeToolExecutor{}, nil)
	err := loop.Approve(context.Background(), true, nil)
	assert.Error(t, err)
}

func TestStepLoop_Cancel_TransitionsRunningToCanceled(t *testing.T) {
	loop := newTestLoop(t, &fakeStepProvider{}, &fakeToolExecutor{}, nil)
	require.NoError(t, loop.Cancel(context.Background()))
	assert.Equal(t, entity.StatusCanceled, loop.Projection().Status)
}

func TestStepLoop_Cancel_RejectsTerminalState(t *testing.T) {
	proj := entity.Projection{Status: entity.StatusCompleted}
	loop := NewStepLoop("agent-1", "agency-1", proj, StepLoop{
		Provider: &fakeStepProvider{},
		Tools:    &fakeToolExecutor{},
		Registry: domaintool.NewInMemoryRegistry(),
		Events:   &fakeAppender{},
		Hooks:    NewHookDispatcher(zap.NewNop()),
		Logger:   zap.NewNop(),
	})
	assert.Error(t, loop.Cancel(context.Background()))
}
