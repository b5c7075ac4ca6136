package application

import (
	"context"

	"github.com/agentforge/runtime/internal/domain/service"
	domaintool "github.com/agentforge/runtime/internal/domain/tool"
	infrallm "github.com/agentforge/runtime/internal/infrastructure/llm"
	infratool "github.com/agentforge/runtime/internal/infrastructure/tool"
)

// toolExecutorAdaptor satisfies service.ToolExecutor by translating the
// step loop's ToolCallRequest/ToolOutcome types into the infrastructure
// tool package's Call/Outcome (identical field sets, distinct named types
// per step_loop.go's documented reason: domain/service stays free of an
// infrastructure import).
type toolExecutorAdaptor struct {
	exec *infratool.ParallelExecutor
}

func newToolExecutorAdaptor(exec *infratool.ParallelExecutor) *toolExecutorAdaptor {
	return &toolExecutorAdaptor{exec: exec}
}

func (a *toolExecutorAdaptor) ExecuteAll(
	ctx context.Context,
	calls []service.ToolCallRequest,
	execCtx domaintool.ExecContext,
	onStart func(service.ToolCallRequest),
) []service.ToolOutcome {
	infraCalls := make([]infratool.Call, len(calls))
	for i, c := range calls {
		infraCalls[i] = infratool.Call{ID: c.ID, Name: c.Name, Args: c.Args}
	}

	var infraOnStart func(infratool.Call)
	if onStart != nil {
		infraOnStart = func(c infratool.Call) {
			onStart(service.ToolCallRequest{ID: c.ID, Name: c.Name, Args: c.Args})
		}
	}

	outcomes := a.exec.ExecuteAll(ctx, infraCalls, execCtx, infraOnStart)
	out := make([]service.ToolOutcome, len(outcomes))
	for i, o := range outcomes {
		out[i] = service.ToolOutcome{CallID: o.CallID, Result: o.Result, Err: o.Err, Ran: o.Ran, Queued: o.Queued}
	}
	return out
}

// providerAdaptor satisfies service.Provider by translating the step
// loop's ModelRequest/ModelResponse into infrastructure/llm's, which carry
// the same fields plus the wider set (ToolChoice, ResponseFormat, Stop)
// the step loop does not yet populate.
type providerAdaptor struct {
	provider infrallm.Provider
}

func newProviderAdaptor(provider infrallm.Provider) *providerAdaptor {
	return &providerAdaptor{provider: provider}
}

func (a *providerAdaptor) Invoke(ctx context.Context, req service.ModelRequest) (service.ModelResponse, error) {
	toolDefs := make([]infrallm.ToolDef, len(req.ToolDefs))
	for i, td := range req.ToolDefs {
		toolDefs[i] = infrallm.ToolDef{Name: td.Name, Description: td.Description, Parameters: td.Parameters}
	}

	infraReq := infrallm.ModelRequest{
		Model:        req.Model,
		SystemPrompt: req.SystemPrompt,
		Messages:     req.Messages,
		ToolDefs:     toolDefs,
		Temperature:  req.Temperature,
		MaxTokens:    req.MaxTokens,
	}

	resp, err := a.provider.Invoke(ctx, infraReq)
	if err != nil {
		return service.ModelResponse{}, err
	}

	out := service.ModelResponse{Message: resp.Message}
	out.Usage.InputTokens = resp.Usage.InputTokens
	out.Usage.OutputTokens = resp.Usage.OutputTokens
	return out, nil
}
