package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/agentforge/runtime/internal/domain/entity"
)

// ChildSpawner is the narrow surface the subagent coordinator needs from
// the owning Agency actor: allocate and invoke a child agent (spec §4.9
// "Spawn an agent"). Implemented at the application/wiring layer, where
// the real Agent actor construction lives.
type ChildSpawner interface {
	SpawnChild(ctx context.Context, agencyID, agentType, parentID string, firstMessage string, parentVar map[string]any) (childID string, err error)
	InvokeChild(ctx context.Context, childID, message string, parentVar map[string]any) error
	IsChild(ctx context.Context, parentID, childID string) (bool, error)
	// DeliverResult hands a synthetic tool-result message to the parent
	// agent's pending tool call. It does not resume the parent's run.
	DeliverResult(ctx context.Context, parentID, toolCallID string, payload any) error
	CancelChild(ctx context.Context, childID string) error
}

// waiter records one outstanding task()/message_agent() call awaiting a
// child's report (spec §4.7: "waiter row (token -> toolCallId, childId)").
type waiter struct {
	ToolCallID string
	ChildID    string
}

// SubagentCoordinator implements the tool.SubagentCoordinator contract
// (internal/infrastructure/tool/subagent_tool.go) plus the subagent_result
// and cancel_subagents action handling (ReportResult, CancelAll), owning
// the per-agent waiter table. One instance
// is scoped to a single parent agent, mirroring the teacher's per-thread
// Spawner instance (internal/domain/agent/spawner.go), generalized from a
// synchronous call/return into the spec's async token/waiter handshake.
type SubagentCoordinator struct {
	mu       sync.Mutex
	agentID  string
	agencyID string
	spawner  ChildSpawner
	waiters  map[string]waiter // token -> waiter
}

func NewSubagentCoordinator(agentID, agencyID string, spawner ChildSpawner) *SubagentCoordinator {
	return &SubagentCoordinator{
		agentID:  agentID,
		agencyID: agencyID,
		spawner:  spawner,
		waiters:  make(map[string]waiter),
	}
}

func newToken() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// SpawnChild implements tool.SubagentCoordinator.SpawnChild: spawns a fresh
// child of subagentType, invokes it with description, and registers a
// waiter keyed by a new one-time token and the originating tool call id.
func (c *SubagentCoordinator) SpawnChild(ctx context.Context, toolCallID, description, subagentType string) (string, error) {
	token := newToken()
	parentVar := map[string]any{"threadId": c.agentID, "token": token}

	childID, err := c.spawner.SpawnChild(ctx, c.agencyID, subagentType, c.agentID, description, parentVar)
	if err != nil {
		return "", fmt.Errorf("spawn child: %w", err)
	}

	c.mu.Lock()
	c.waiters[token] = waiter{ToolCallID: toolCallID, ChildID: childID}
	c.mu.Unlock()

	return token, nil
}

// ReinvokeChild implements tool.SubagentCoordinator.ReinvokeChild.
func (c *SubagentCoordinator) ReinvokeChild(ctx context.Context, toolCallID, agentID, message string) (string, error) {
	ok, err := c.spawner.IsChild(ctx, c.agentID, agentID)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("agent %s is not a child of %s", agentID, c.agentID)
	}

	token := newToken()
	parentVar := map[string]any{"threadId": c.agentID, "token": token}
	if err := c.spawner.InvokeChild(ctx, agentID, message, parentVar); err != nil {
		return "", err
	}

	c.mu.Lock()
	c.waiters[token] = waiter{ToolCallID: toolCallID, ChildID: agentID}
	c.mu.Unlock()

	return token, nil
}

// HasWaiters reports whether any task()/message_agent() call is still
// outstanding, used by the subagent_reporter plugin's resume decision.
func (c *SubagentCoordinator) HasWaiters() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters) > 0
}

// ReportResult implements the subagent_result action (spec §4.7): validates
// the (token, childId) pair, deletes the waiter, and delivers the result to
// the parent via ChildSpawner.DeliverResult. Returns whether any waiters
// remain after this one is removed.
func (c *SubagentCoordinator) ReportResult(ctx context.Context, token, childID string, result any) (remaining bool, err error) {
	c.mu.Lock()
	w, ok := c.waiters[token]
	if !ok || w.ChildID != childID {
		c.mu.Unlock()
		return false, fmt.Errorf("no matching waiter for token")
	}
	delete(c.waiters, token)
	remaining = len(c.waiters) > 0
	c.mu.Unlock()

	payload, err := json.Marshal(map[string]any{"agentId": childID, "result": result})
	if err != nil {
		return remaining, err
	}
	var decoded any
	_ = json.Unmarshal(payload, &decoded)

	if err := c.spawner.DeliverResult(ctx, c.agentID, w.ToolCallID, decoded); err != nil {
		return remaining, err
	}
	return remaining, nil
}

// CancelAll implements the cancel_subagents action: cancels every waited-on
// child and clears the waiter table.
func (c *SubagentCoordinator) CancelAll(ctx context.Context) {
	c.mu.Lock()
	waiters := c.waiters
	c.waiters = make(map[string]waiter)
	c.mu.Unlock()

	for _, w := range waiters {
		_ = c.spawner.CancelChild(ctx, w.ChildID)
	}
}

// SubagentReporterPlugin attaches a coordinator to the parent agent's
// plugin pipeline, implementing Hooks like any other extension (spec
// §4.7's subagent_reporter plugin). The subagent_result/cancel_subagents
// actions themselves are handled by the application layer calling the
// coordinator directly.
type SubagentReporterPlugin struct {
	PluginBase
	Coordinator *SubagentCoordinator
}

func NewSubagentReporterPlugin(coord *SubagentCoordinator) *SubagentReporterPlugin {
	return &SubagentReporterPlugin{
		PluginBase:  PluginBase{PluginName: "subagent_reporter", PluginTags: []string{"system"}},
		Coordinator: coord,
	}
}

// OnTick clears ctx.Paused when it sees the run paused for a subagent with
// no waiters left. Ticks are dispatched only while the run is running, so
// this case does not arise from the step loop; the paused parent is
// resumed by the application layer's subagent_result action once
// ReportResult reports no remaining waiters.
func (p *SubagentReporterPlugin) OnTick(ctx *PluginContext) {
	if ctx.RunState.Status == entity.StatusPaused && ctx.RunState.Reason == "subagent" && !p.Coordinator.HasWaiters() {
		ctx.Paused = false
	}
}
