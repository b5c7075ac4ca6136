package tool

import (
	"context"
	"fmt"

	domaintool "github.com/agentforge/runtime/internal/domain/tool"
)

// SubagentCoordinator is the narrow surface the subagent tools need from
// the owning agent (implemented by internal/domain/service's SubagentCoordinator).
// Grounded on the teacher's Spawner interface (internal/domain/agent/
// spawner.go), replacing its synchronous Spawn with the spec's async
// token/waiter handshake (spec §4.7).
type SubagentCoordinator interface {
	// SpawnChild asks the Agency to spawn a child agent of subagentType,
	// invoke it with description, record the parent relation, and
	// register a waiter row keyed by the returned token and toolCallID.
	// Returns the one-time token.
	SpawnChild(ctx context.Context, toolCallID, description, subagentType string) (token string, err error)
	// ReinvokeChild verifies agentID is a child of the calling agent,
	// sends it message, and registers a fresh waiter token.
	ReinvokeChild(ctx context.Context, toolCallID, agentID, message string) (token string, err error)
}

// NewTaskTool builds the `task` tool (spec §4.7). It always returns
// (nil, nil): the result arrives later via the parent's subagent_result
// action once the child completes.
func NewTaskTool(coord SubagentCoordinator) domaintool.Tool {
	return domaintool.NewFuncTool(
		domaintool.Meta{
			Name:        "task",
			Description: "Delegate a task to a new subagent of the given type; pauses this agent until the subagent reports.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"description":  map[string]any{"type": "string"},
					"subagentType": map[string]any{"type": "string"},
				},
				"required": []string{"description", "subagentType"},
			},
		},
		[]string{"subagent", "@default"},
		func(ctx context.Context, args map[string]any, execCtx domaintool.ExecContext) (any, error) {
			description, _ := args["description"].(string)
			subagentType, _ := args["subagentType"].(string)
			if description == "" || subagentType == "" {
				return nil, fmt.Errorf("description and subagentType are required")
			}
			_, err := coord.SpawnChild(ctx, execCtx.CallID, description, subagentType)
			return nil, err
		},
	)
}

// NewMessageAgentTool builds the `message_agent` tool (spec §4.7).
func NewMessageAgentTool(coord SubagentCoordinator) domaintool.Tool {
	return domaintool.NewFuncTool(
		domaintool.Meta{
			Name:        "message_agent",
			Description: "Send a follow-up message to a child agent spawned via task; pauses this agent until it reports again.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"agentId": map[string]any{"type": "string"},
					"message": map[string]any{"type": "string"},
				},
				"required": []string{"agentId", "message"},
			},
		},
		[]string{"subagent"},
		func(ctx context.Context, args map[string]any, execCtx domaintool.ExecContext) (any, error) {
			agentID, _ := args["agentId"].(string)
			message, _ := args["message"].(string)
			if agentID == "" || message == "" {
				return nil, fmt.Errorf("agentId and message are required")
			}
			_, err := coord.ReinvokeChild(ctx, execCtx.CallID, agentID, message)
			return nil, err
		},
	)
}
