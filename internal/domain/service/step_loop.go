package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/agentforge/runtime/internal/domain/entity"
	domaintool "github.com/agentforge/runtime/internal/domain/tool"
)

// defaultIterationLimit is the default step cap (spec §4.6), the same value
// as the agent.iteration_limit config default. NewStepLoop does not
// substitute it for a zero IterationLimit: zero means unlimited.
const defaultIterationLimit = 200

// defaultToolConcurrency is the default N passed to the ParallelExecutor
// (spec §4.6 step 5).
const defaultToolConcurrency = 25

// EventAppender is the narrow slice of EventStore the step loop needs:
// append one event and learn its assigned seq.
type EventAppender interface {
	AppendEvent(ctx context.Context, agentID string, e entity.Event) (uint64, error)
}

// ToolExecutor runs a batch of pending tool calls concurrently, matching
// internal/infrastructure/tool.ParallelExecutor's contract without the
// step loop importing the infrastructure package directly.
type ToolExecutor interface {
	ExecuteAll(ctx context.Context, calls []ToolCallRequest, execCtx domaintool.ExecContext, onStart func(ToolCallRequest)) []ToolOutcome
}

// ToolCallRequest mirrors infrastructure/tool.Call; redeclared here so this
// package's public step-loop API depends only on domain types.
type ToolCallRequest struct {
	ID   string
	Name string
	Args map[string]any
}

// ToolOutcome mirrors infrastructure/tool.Outcome.
type ToolOutcome struct {
	CallID string
	Result any
	Err    error
	Ran    bool
	Queued bool // concurrency cap reached this step; retry next step
}

// Provider is the subset of infrastructure/llm.Provider the step loop
// calls, redeclared here to keep domain/service free of an infrastructure
// import. infrastructure/llm.Provider does not satisfy it directly (its
// request/response types differ); the composition root wraps it in an
// adaptor.
type Provider interface {
	Invoke(ctx context.Context, req ModelRequest) (ModelResponse, error)
}

// ModelRequest/ModelResponse carry a subset of infrastructure/llm's
// ModelRequest/ModelResponse fields; they are distinct named types, so the
// composition root converts between them (see internal/application for
// the adaptor).
type ModelRequest struct {
	Model          string
	SystemPrompt   string
	Messages       []entity.Message
	ToolDefs       []ToolDef
	Temperature    *float64
	MaxTokens      *int
}

type ToolDef struct {
	Name        string
	Description string
	Parameters  map[string]any
}

type ModelResponse struct {
	Message entity.Message
	Usage   struct {
		InputTokens  int64
		OutputTokens int64
	}
}

// StepLoop runs one Agent actor's ReAct cycle (spec §4.6), single-threaded
// per agent. Grounded on the teacher's run loop shape (invoke/tick/action
// dispatch driving a state machine) generalized from coding-agent specific
// tool execution to the spec's model-call/tool-batch alternation.
type StepLoop struct {
	AgentID        string
	AgencyID       string
	IterationLimit int // 0 = unlimited
	ToolConcurrency int

	Provider   Provider
	Tools      ToolExecutor
	Registry   domaintool.Registry
	Events     EventAppender
	Hooks      *HookDispatcher
	Logger     *zap.Logger

	BasePrompt string
	Model      string
	Vars       map[string]any

	projection  entity.Projection
	step        int
	pendingCalls []entity.Part
	hitlCleared bool
}

// NewStepLoop constructs a loop seeded from the agent's current projection.
func NewStepLoop(agentID, agencyID string, proj entity.Projection, deps StepLoop) *StepLoop {
	deps.AgentID = agentID
	deps.AgencyID = agencyID
	deps.projection = proj
	deps.step = proj.Step
	if deps.ToolConcurrency == 0 {
		deps.ToolConcurrency = defaultToolConcurrency
	}
	return &deps
}

// Projection returns the loop's current in-memory projection.
func (l *StepLoop) Projection() entity.Projection { return l.projection }

// ApplyExternal folds an event appended outside the loop's own step1/emit
// path (the composition root's invoked/resumed/user-message control
// events, already persisted by the caller) into the loop's in-memory
// projection, so the next Run call resumes from the right state.
func (l *StepLoop) ApplyExternal(e entity.Event) {
	l.projection = Apply(l.projection, e)
}

// Run drives steps until the agent pauses, completes, errors, or the
// context is canceled. It is the caller's responsibility (the Agent actor)
// to invoke Run again on the next tick/alarm while status stays running.
func (l *StepLoop) Run(ctx context.Context) {
	if l.projection.Status != entity.StatusRunning {
		return
	}

	for {
		if ctx.Err() != nil {
			return
		}
		cont := l.step1()
		if !cont {
			return
		}
	}
}

// step1 runs exactly one step (spec §4.6 numbered list) and reports
// whether the loop should continue immediately (true) or return control to
// the caller (false: paused, completed, canceled, or errored).
func (l *StepLoop) step1() bool {
	ctx := context.Background()

	if l.IterationLimit > 0 && l.step >= l.IterationLimit {
		l.transitionError(ctx, "runtime_error", "max_iterations_exceeded")
		return false
	}

	l.emit(ctx, entity.EventAgentStep, map[string]any{"step": l.step})
	l.projection.Step = l.step
	l.step++

	pctx := l.pluginContext()
	l.Hooks.DispatchTick(pctx)
	if pctx.Paused {
		l.transitionPaused(ctx, pctx.PauseReason)
		return false
	}

	if len(l.projection.PendingToolCalls) == 0 {
		return l.modelPhase(ctx)
	}
	return l.toolPhase(ctx)
}

func (l *StepLoop) modelPhase(ctx context.Context) bool {
	plan := NewModelPlan(l.BasePrompt)
	pctx := l.pluginContext()
	l.Hooks.DispatchBeforeModel(pctx, plan)

	for _, t := range plan.EphemeralTools() {
		_ = l.Registry.Register(t)
	}

	req := ModelRequest{
		Model:        l.Model,
		SystemPrompt: plan.SystemPrompt(),
		Messages:     l.projection.Messages,
		ToolDefs:     toolDefsFrom(l.Registry.All()),
		Temperature:  plan.Temperature,
		MaxTokens:    plan.MaxTokens,
	}

	resp, err := l.Provider.Invoke(ctx, req)
	if err != nil {
		l.transitionError(ctx, "runtime_error", err.Error())
		return false
	}

	pctx = l.pluginContext()
	l.Hooks.DispatchOnModelResult(pctx, resp.Message)
	if pctx.Paused {
		l.transitionPaused(ctx, pctx.PauseReason)
		return false
	}

	l.emit(ctx, entity.EventInferenceDetails, map[string]any{
		"input":  map[string]any{"messages": messagesToAny(req.Messages)},
		"output": messageToAny(resp.Message),
		// float64, the number shape Apply reads (and a JSON round trip yields).
		"usage": map[string]any{
			"inputTokens":  float64(resp.Usage.InputTokens),
			"outputTokens": float64(resp.Usage.OutputTokens),
		},
	})
	l.emit(ctx, entity.EventContentMessage, map[string]any{"message": messageToAny(resp.Message)})

	calls := resp.Message.ToolCalls()
	if len(calls) == 0 {
		l.complete(ctx, resp.Message)
		return false
	}

	pending := make([]string, 0, len(calls))
	for _, c := range calls {
		pending = append(pending, c.ToolCallID)
	}
	l.projection.PendingToolCalls = pending
	l.pendingCalls = calls
	return true
}

// hitlTools reads the HITL_TOOLS var (spec S4: "Vars {HITL_TOOLS:[...]}"),
// accepting either a []string or the []any shape JSON decoding produces.
func (l *StepLoop) hitlTools() map[string]bool {
	raw, ok := l.Vars["HITL_TOOLS"]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []string:
		m := make(map[string]bool, len(v))
		for _, s := range v {
			m[s] = true
		}
		return m
	case []any:
		m := make(map[string]bool, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				m[s] = true
			}
		}
		return m
	default:
		return nil
	}
}

// hitlGated returns the pending calls whose name is in HITL_TOOLS.
func (l *StepLoop) hitlGated() []entity.Part {
	tools := l.hitlTools()
	if len(tools) == 0 {
		return nil
	}
	var gated []entity.Part
	for _, c := range l.pendingCalls {
		if tools[c.ToolCallName] {
			gated = append(gated, c)
		}
	}
	return gated
}

func (l *StepLoop) toolPhase(ctx context.Context) bool {
	if !l.hitlCleared {
		if gated := l.hitlGated(); len(gated) > 0 {
			l.transitionPaused(ctx, "hitl")
			return false
		}
	}
	l.hitlCleared = false

	calls := make([]ToolCallRequest, 0, len(l.pendingCalls))
	for _, c := range l.pendingCalls {
		calls = append(calls, ToolCallRequest{ID: c.ToolCallID, Name: c.ToolCallName, Args: InterpolateArgs(c.ToolCallArgs, l.Vars)})
	}

	execCtx := domaintool.ExecContext{AgentID: l.AgentID, AgencyID: l.AgencyID}
	onStart := func(c ToolCallRequest) {
		pctx := l.pluginContext()
		l.Hooks.DispatchOnToolStart(pctx, ToolCall{ID: c.ID, Name: c.Name, Args: c.Args})
		l.emit(ctx, entity.EventToolStart, map[string]any{"toolCallId": c.ID, "name": c.Name, "args": c.Args})
	}

	outcomes := l.Tools.ExecuteAll(ctx, calls, execCtx, onStart)

	var stillPending []entity.Part
	awaitingSubagent := false
	for i, out := range outcomes {
		call := calls[i]
		tc := ToolCall{ID: call.ID, Name: call.Name, Args: call.Args}
		pctx := l.pluginContext()

		switch {
		case out.Queued:
			// concurrency cap reached this step: left pending, retried
			// next step, no event emitted yet.
			stillPending = append(stillPending, l.pendingCalls[i])
		case !out.Ran:
			// subagent spawn: no result yet; the call stays recorded in
			// PendingToolCalls until the TOOL_FINISH delivered through
			// SubagentCoordinator.ReportResult removes it, and the run
			// pauses so the step loop doesn't spin.
			awaitingSubagent = true
		case out.Err != nil:
			l.emit(ctx, entity.EventToolError, map[string]any{
				"toolCallId": call.ID, "type": "tool_execution_error", "message": out.Err.Error(),
			})
			l.Hooks.DispatchOnToolError(pctx, tc, out.Err)
			l.projection.PendingToolCalls = removeToolCall(l.projection.PendingToolCalls, call.ID)
		default:
			l.emit(ctx, entity.EventToolFinish, map[string]any{
				"toolCallId": call.ID, "response": out.Result,
			})
			l.Hooks.DispatchOnToolResult(pctx, tc, out.Result)
			l.projection.PendingToolCalls = removeToolCall(l.projection.PendingToolCalls, call.ID)
		}
	}
	l.pendingCalls = stillPending

	if awaitingSubagent {
		l.transitionPaused(ctx, "subagent")
		return false
	}

	if l.projection.Status != entity.StatusRunning {
		return false
	}
	return true
}

func (l *StepLoop) complete(ctx context.Context, final entity.Message) {
	pctx := l.pluginContext()
	l.Hooks.DispatchOnRunComplete(pctx, final)
	l.projection.Status = entity.StatusCompleted
	l.projection.PendingToolCalls = nil
	l.emit(ctx, entity.EventAgentCompleted, map[string]any{})
}

func (l *StepLoop) transitionPaused(ctx context.Context, reason string) {
	l.projection.Status = entity.StatusPaused
	l.projection.LastError = reason
	l.emit(ctx, entity.EventAgentPaused, map[string]any{"reason": reason})
}

func (l *StepLoop) transitionError(ctx context.Context, kind, message string) {
	l.projection.Status = entity.StatusError
	l.projection.PendingToolCalls = nil
	l.projection.LastError = message
	l.emit(ctx, entity.EventAgentError, map[string]any{"type": kind, "message": message})
}

// Cancel implements action("cancel") (spec §4.6 Cancellation): running or
// paused transitions to canceled; in-flight tool calls are left to finish,
// their outcomes discarded at the next step boundary since PendingToolCalls
// is cleared immediately.
func (l *StepLoop) Cancel(ctx context.Context) error {
	if l.projection.Status != entity.StatusRunning && l.projection.Status != entity.StatusPaused {
		return fmt.Errorf("cannot cancel agent in status %q", l.projection.Status)
	}
	l.projection.Status = entity.StatusCanceled
	l.projection.PendingToolCalls = nil
	l.emit(ctx, entity.EventAgentCanceled, map[string]any{})
	return nil
}

// Approve implements action("approve", {approved, modifiedToolCalls})
// (spec §4.6, scenario S4): a rejected call is recorded as a tool error and
// skipped; an approved call may carry modifiedToolCalls overriding its
// args before the gate releases and the pending batch executes.
func (l *StepLoop) Approve(ctx context.Context, approved bool, modified []ToolCallRequest) error {
	if l.projection.Status != entity.StatusPaused || l.projection.LastError != "hitl" {
		return fmt.Errorf("agent is not awaiting hitl approval")
	}

	if !approved {
		for _, c := range l.pendingCalls {
			l.emit(ctx, entity.EventToolError, map[string]any{
				"toolCallId": c.ToolCallID, "type": "hitl_rejected", "message": "tool call rejected by approver",
			})
			l.projection.PendingToolCalls = removeToolCall(l.projection.PendingToolCalls, c.ToolCallID)
		}
		l.pendingCalls = nil
		l.projection.Status = entity.StatusRunning
		l.emit(ctx, entity.EventAgentResumed, map[string]any{})
		return nil
	}

	byID := make(map[string]map[string]any, len(modified))
	for _, m := range modified {
		byID[m.ID] = m.Args
	}
	for i, c := range l.pendingCalls {
		if args, ok := byID[c.ToolCallID]; ok {
			l.pendingCalls[i].ToolCallArgs = args
		}
	}

	l.hitlCleared = true
	l.projection.Status = entity.StatusRunning
	l.emit(ctx, entity.EventAgentResumed, map[string]any{})
	return nil
}

func (l *StepLoop) emit(ctx context.Context, t entity.EventType, data map[string]any) {
	e := entity.NewEvent(t, data)
	seq, err := l.Events.AppendEvent(ctx, l.AgentID, e)
	if err != nil {
		l.Logger.Error("failed to append event", zap.String("agent_id", l.AgentID), zap.Error(err))
		return
	}
	e.Seq = seq
	l.projection = Apply(l.projection, e)
	pctx := l.pluginContext()
	l.Hooks.DispatchOnEvent(pctx, e)
}

func (l *StepLoop) pluginContext() *PluginContext {
	return &PluginContext{
		AgentID:  l.AgentID,
		AgencyID: l.AgencyID,
		RunState: entity.RunState{Status: l.projection.Status, Step: l.projection.Step, Reason: l.projection.LastError},
		Vars:     l.Vars,
		Logger:   l.Logger,
	}
}

func toolDefsFrom(tools []domaintool.Tool) []ToolDef {
	out := make([]ToolDef, 0, len(tools))
	for _, t := range tools {
		m := t.Meta()
		out = append(out, ToolDef{Name: m.Name, Description: m.Description, Parameters: m.Parameters})
	}
	return out
}

func messagesToAny(msgs []entity.Message) []any {
	out := make([]any, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, messageToAny(m))
	}
	return out
}

func messageToAny(m entity.Message) map[string]any {
	parts := make([]any, 0, len(m.Parts))
	for _, p := range m.Parts {
		parts = append(parts, map[string]any{
			"type":               string(p.Type),
			"text":               p.Text,
			"toolCallId":         p.ToolCallID,
			"toolCallName":       p.ToolCallName,
			"toolCallArgs":       p.ToolCallArgs,
			"toolCallResponseFor": p.ToolResponseFor,
			"toolCallResponse":   p.ToolResponse,
			"mediaUrl":           p.MediaURL,
			"mediaKind":          p.MediaKind,
		})
	}
	return map[string]any{
		"role":         string(m.Role),
		"parts":        parts,
		"finishReason": m.FinishReason,
	}
}
