package application

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/agentforge/runtime/internal/domain/entity"
	"github.com/agentforge/runtime/internal/domain/repository"
	"github.com/agentforge/runtime/internal/domain/service"
	domaintool "github.com/agentforge/runtime/internal/domain/tool"
	apperrors "github.com/agentforge/runtime/pkg/errors"
)

// AgentRuntime is the in-process realization of one Agent actor: a
// StepLoop plus the event store it persists to, serialized behind a mutex
// so the same agent never runs two steps concurrently (spec §3 "each
// Agent actor processes its mailbox strictly sequentially"). Grounded on
// spec §9's note that the Agency<->Agent contract only needs FIFO
// delivery and close notification, which an in-process call satisfies
// trivially without a real transport.
type AgentRuntime struct {
	mu sync.Mutex

	id        string
	agencyID  string
	agentType string

	loop        *service.StepLoop
	events      repository.EventStore
	registry    domaintool.Registry
	coordinator *service.SubagentCoordinator

	snapshotThreshold int
	lastSnapshotStep  int

	logger *zap.Logger

	// onEvent fans out every persisted event to WebSocket subscribers
	// (spec §6 "/agency/:id/ws"); nil in tests.
	onEvent func(entity.Event)
}

type agentRuntimeDeps struct {
	ID                string
	AgencyID          string
	AgentType         string
	Projection        entity.Projection
	Provider          service.Provider
	Tools             service.ToolExecutor
	Registry          domaintool.Registry
	Events            repository.EventStore
	Hooks             *service.HookDispatcher
	Coordinator       *service.SubagentCoordinator
	BasePrompt        string
	Model             string
	Vars              map[string]any
	IterationLimit    int
	ToolConcurrency   int
	SnapshotThreshold int
	Logger            *zap.Logger
	OnEvent           func(entity.Event)
}

func newAgentRuntime(d agentRuntimeDeps) *AgentRuntime {
	rt := &AgentRuntime{
		id:                d.ID,
		agencyID:          d.AgencyID,
		agentType:         d.AgentType,
		events:            d.Events,
		registry:          d.Registry,
		coordinator:       d.Coordinator,
		snapshotThreshold: d.SnapshotThreshold,
		logger:            d.Logger,
		onEvent:           d.OnEvent,
	}

	rt.loop = service.NewStepLoop(d.ID, d.AgencyID, d.Projection, service.StepLoop{
		IterationLimit:  d.IterationLimit,
		ToolConcurrency: d.ToolConcurrency,
		Provider:        d.Provider,
		Tools:           d.Tools,
		Registry:        d.Registry,
		Events:          &observingEventStore{EventStore: d.Events, onEvent: d.OnEvent},
		Hooks:           d.Hooks,
		Logger:          d.Logger,
		BasePrompt:      d.BasePrompt,
		Model:           d.Model,
		Vars:            d.Vars,
	})
	rt.lastSnapshotStep = d.Projection.Step
	return rt
}

// observingEventStore wraps a repository.EventStore so every event the
// step loop appends is also broadcast to this agent's subscribers, without
// the step loop itself knowing about WebSocket fan-out.
type observingEventStore struct {
	repository.EventStore
	onEvent func(entity.Event)
}

func (o *observingEventStore) AppendEvent(ctx context.Context, agentID string, e entity.Event) (uint64, error) {
	seq, err := o.EventStore.AppendEvent(ctx, agentID, e)
	if err != nil {
		return 0, err
	}
	if o.onEvent != nil {
		e.Seq = seq
		o.onEvent(e)
	}
	return seq, nil
}

// ID, AgentType expose identity for registry bookkeeping.
func (rt *AgentRuntime) ID() string        { return rt.id }
func (rt *AgentRuntime) AgentType() string  { return rt.agentType }

// Projection returns a point-in-time copy of the agent's current state.
func (rt *AgentRuntime) Projection() entity.Projection {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.loop.Projection()
}

// State implements `GET /agency/:id/agent/:aid/state` (spec §6).
func (rt *AgentRuntime) State() entity.RunState {
	p := rt.Projection()
	return entity.RunState{Status: p.Status, Step: p.Step, Reason: p.LastError}
}

// Invoke implements the register/invoke Agency->Agent contract operation
// (spec §4.6, §6 `/agency/:id/agent/:aid/invoke`): appends the user message,
// transitions to running (from idle/completed/error/canceled) or resumed
// (from paused), and drives the loop to its next suspension point. Runs
// synchronously within the caller's goroutine: the Agency dispatches each
// invoke on its own goroutine so the HTTP handler does not block.
func (rt *AgentRuntime) Invoke(ctx context.Context, message string) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	proj := rt.loop.Projection()
	if proj.Status == entity.StatusRunning {
		return apperrors.NewConflictError("agent is already running")
	}

	if message != "" {
		msg := entity.Message{Role: entity.RoleUser, Parts: []entity.Part{{Type: entity.PartText, Text: message}}}
		rt.appendRaw(ctx, entity.EventUserMessage, map[string]any{"message": messageToPayload(msg)})
	}

	if proj.Status == entity.StatusPaused {
		rt.appendRaw(ctx, entity.EventAgentResumed, map[string]any{})
	} else {
		rt.appendRaw(ctx, entity.EventAgentInvoked, map[string]any{})
	}

	rt.loop.Run(ctx)
	rt.maybeSnapshot(ctx)
	return nil
}

// Action implements `/agency/:id/agent/:aid/action` (spec §4.6 Cancellation,
// §4.7 subagent_result/cancel_subagents). Unknown actions are a validation
// error; the fixed action set mirrors what the runtime's own plugins
// understand since Hooks has no generic action-dispatch hook.
func (rt *AgentRuntime) Action(ctx context.Context, action string, payload map[string]any) error {
	switch action {
	case "cancel":
		rt.mu.Lock()
		defer rt.mu.Unlock()
		return rt.loop.Cancel(ctx)

	case "subagent_result":
		token, _ := payload["token"].(string)
		childID, _ := payload["agentId"].(string)
		if rt.coordinator == nil {
			return apperrors.NewValidationError("agent has no subagent coordinator")
		}
		remaining, err := rt.coordinator.ReportResult(ctx, token, childID, payload["result"])
		if err != nil {
			return err
		}
		if !remaining {
			rt.mu.Lock()
			defer rt.mu.Unlock()
			if rt.loop.Projection().Status == entity.StatusPaused {
				rt.appendRaw(ctx, entity.EventAgentResumed, map[string]any{})
				rt.loop.Run(ctx)
				rt.maybeSnapshot(ctx)
			}
		}
		return nil

	case "approve":
		approved, _ := payload["approved"].(bool)
		var modified []service.ToolCallRequest
		if raw, ok := payload["modifiedToolCalls"].([]any); ok {
			for _, m := range raw {
				mm, ok := m.(map[string]any)
				if !ok {
					continue
				}
				id, _ := mm["id"].(string)
				args, _ := mm["args"].(map[string]any)
				modified = append(modified, service.ToolCallRequest{ID: id, Args: args})
			}
		}
		rt.mu.Lock()
		defer rt.mu.Unlock()
		if err := rt.loop.Approve(ctx, approved, modified); err != nil {
			return err
		}
		rt.loop.Run(ctx)
		rt.maybeSnapshot(ctx)
		return nil

	case "cancel_subagents":
		if rt.coordinator != nil {
			rt.coordinator.CancelAll(ctx)
		}
		return nil

	default:
		return apperrors.NewValidationError(fmt.Sprintf("unknown action %q", action))
	}
}

// deliverToolResult is called by the Agency's ChildSpawner.DeliverResult
// implementation once a subagent reports: it synthesizes the parent's
// pending tool-result message. Resuming the agent is left to Action's
// subagent_result case. Grounded on the teacher's tool-result event shape
// (EventToolFinish) reused verbatim for the synthetic delivery.
func (rt *AgentRuntime) deliverToolResult(ctx context.Context, toolCallID string, payload any) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.appendRaw(ctx, entity.EventToolFinish, map[string]any{"toolCallId": toolCallID, "response": payload})
	return nil
}

// appendRaw emits a control event (invoked/resumed/user-message) directly
// against the underlying store and folds it into the loop's projection,
// mirroring what StepLoop.emit does for loop-internal events. Must be
// called with rt.mu held.
func (rt *AgentRuntime) appendRaw(ctx context.Context, t entity.EventType, data map[string]any) {
	e := entity.NewEvent(t, data)
	seq, err := rt.events.AppendEvent(ctx, rt.id, e)
	if err != nil {
		rt.logger.Error("failed to append control event", zap.String("agent_id", rt.id), zap.Error(err))
		return
	}
	e.Seq = seq
	if rt.onEvent != nil {
		rt.onEvent(e)
	}
	rt.loop.ApplyExternal(e)
}

// maybeSnapshot persists a snapshot once the agent has advanced at least
// snapshotThreshold steps since the last one (spec §4.2 snapshotting).
// Must be called with rt.mu held.
func (rt *AgentRuntime) maybeSnapshot(ctx context.Context) {
	if rt.snapshotThreshold <= 0 {
		return
	}
	proj := rt.loop.Projection()
	if proj.Step-rt.lastSnapshotStep < rt.snapshotThreshold {
		return
	}
	maxSeq, err := rt.events.MaxSeq(ctx, rt.id)
	if err != nil {
		return
	}
	if err := rt.events.AddSnapshot(ctx, rt.id, entity.Snapshot{LastEventSeq: maxSeq, State: proj, CreatedAt: time.Now().UTC()}); err != nil {
		rt.logger.Warn("snapshot failed", zap.String("agent_id", rt.id), zap.Error(err))
		return
	}
	rt.lastSnapshotStep = proj.Step
	_ = rt.events.PruneSnapshots(ctx, rt.id, 3)
}

// Export implements `GET /agency/:id/agent/:aid/export` (spec §6, used by
// fork): returns every event, optionally the latest snapshot.
func (rt *AgentRuntime) Export(ctx context.Context, includeSnapshot bool) ([]entity.Event, *entity.Snapshot, error) {
	events, err := rt.events.ListEvents(ctx, rt.id)
	if err != nil {
		return nil, nil, err
	}
	if !includeSnapshot {
		return events, nil, nil
	}
	snap, err := rt.events.LatestSnapshot(ctx, rt.id)
	if err != nil {
		return events, nil, nil
	}
	return events, snap, nil
}

func messageToPayload(m entity.Message) map[string]any {
	parts := make([]any, 0, len(m.Parts))
	for _, p := range m.Parts {
		parts = append(parts, map[string]any{"type": string(p.Type), "text": p.Text})
	}
	return map[string]any{"role": string(m.Role), "parts": parts}
}

// newForkToken builds the fork bearer token: base64(sourceId:targetId:
// timestamp:agencyId) (spec §6 fork operation).
func newForkToken(sourceID, targetID, agencyID string, at time.Time) string {
	raw := fmt.Sprintf("%s:%s:%d:%s", sourceID, targetID, at.Unix(), agencyID)
	return base64.URLEncoding.EncodeToString([]byte(raw))
}

// verifyForkToken checks a bearer token presented to /internal/copy-events:
// well-formed, addressed to expectedTarget within expectedAgency, and not
// older than ttl (spec §6: "verify equals expected target, equals this
// agency, within a fixed age window"; §9 recommends a 60s window).
func verifyForkToken(token, expectedTarget, expectedAgency string, ttl time.Duration) bool {
	raw, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return false
	}
	parts := strings.SplitN(string(raw), ":", 4)
	if len(parts) != 4 {
		return false
	}
	_, targetID, tsRaw, agencyID := parts[0], parts[1], parts[2], parts[3]
	if targetID != expectedTarget || agencyID != expectedAgency {
		return false
	}
	ts, err := strconv.ParseInt(tsRaw, 10, 64)
	if err != nil {
		return false
	}
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	return time.Since(time.Unix(ts, 0)) <= ttl
}
