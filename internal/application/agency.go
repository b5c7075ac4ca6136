package application

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/agentforge/runtime/internal/domain/agent"
	"github.com/agentforge/runtime/internal/domain/entity"
	"github.com/agentforge/runtime/internal/domain/repository"
	"github.com/agentforge/runtime/internal/domain/service"
	domaintool "github.com/agentforge/runtime/internal/domain/tool"
	"github.com/agentforge/runtime/internal/infrastructure/config"
	infrallm "github.com/agentforge/runtime/internal/infrastructure/llm"
	"github.com/agentforge/runtime/internal/infrastructure/plugin"
	infratool "github.com/agentforge/runtime/internal/infrastructure/tool"
	apperrors "github.com/agentforge/runtime/pkg/errors"
	"github.com/agentforge/runtime/pkg/safego"
)

// sharedDeps is the set of process-wide collaborators every Agency shares:
// one event/agency store pair, one LLM provider, one plugin loader, and the
// static config (spec §3: "an Agency actor owns exactly the blueprints,
// agent identities... for one tenant" — everything else is infrastructure
// shared across tenants).
type sharedDeps struct {
	store    repository.AgencyStore
	events   repository.EventStore
	provider infrallm.Provider
	plugins  *plugin.Loader
	cfg      *config.Config
	logger   *zap.Logger
	dataDir  string // filesystem root for fs routing and per-agency mcp.json
}

// childToken records the parent/waiter-token pair supplied at spawn time so
// a completed child's result can be routed back without the child holding
// any reference to its parent beyond this Agency-held mapping (spec §9
// Design Notes: "children hold no back-reference beyond parent={id,token}
// injected at spawn").
type childToken struct {
	ParentID string
	Token    string
}

// Agency is the in-process realization of one tenant's actor: the single
// owner of its blueprints, agent identities, schedules, vars, and MCP
// catalog (spec §3 Ownership). Grounded on the teacher's single top-level
// App composition root, narrowed to per-tenant scope and instantiated once
// per agency by AgencyRegistry.
type Agency struct {
	deps sharedDeps

	id   string
	name string

	mu          sync.RWMutex
	agents      map[string]*AgentRuntime
	childTokens map[string]childToken

	tree       *agent.Tree
	mcp        *infratool.MCPManager
	vars       *service.AgencyVars
	scheduler  *service.Scheduler

	subMu       sync.RWMutex
	subscribers map[string]*wsSubscriber
}

func newAgency(id, name string, deps sharedDeps) *Agency {
	a := &Agency{
		deps:        deps,
		id:          id,
		name:        name,
		agents:      make(map[string]*AgentRuntime),
		childTokens: make(map[string]childToken),
		tree:        agent.NewTree(),
		mcp:         infratool.NewMCPManager(deps.dataDir, id, deps.logger),
		vars:        service.NewAgencyVars(deps.store, id),
		subscribers: make(map[string]*wsSubscriber),
	}
	a.scheduler = service.NewScheduler(deps.store, a, deps.logger)
	return a
}

// ID and Name expose identity for the registry and REST layer.
func (a *Agency) ID() string   { return a.id }
func (a *Agency) Name() string { return a.name }

// restore rebuilds in-memory state (tree, scheduler alarms, agent
// runtimes) from persisted rows, called once when an agency is first
// touched after process start (spec §4.1: events/rows are authoritative,
// the actor's in-memory state is a rebuildable projection).
func (a *Agency) restore(ctx context.Context) error {
	a.mcp.LoadFromDisk(ctx)

	threads, err := a.deps.store.ListAgents(ctx, a.id)
	if err != nil {
		return fmt.Errorf("list agents: %w", err)
	}
	// Parents must be registered into the tree before their children; a
	// fixed-point pass handles arbitrary persisted order cheaply since
	// agency agent counts are small relative to event volume.
	remaining := threads
	for len(remaining) > 0 {
		progressed := false
		var next []*entity.AgentThread
		for _, th := range remaining {
			if th.RelatedAgentID != "" {
				if _, ok := a.tree.Get(th.RelatedAgentID); !ok {
					next = append(next, th)
					continue
				}
			}
			if _, err := a.tree.Register(th.ID, th.AgentType, th.RelatedAgentID, th.CreatedAt); err != nil {
				a.deps.logger.Warn("failed to restore agent into tree", zap.String("agent_id", th.ID), zap.Error(err))
			}
			if err := a.restoreRuntime(ctx, th); err != nil {
				a.deps.logger.Warn("failed to restore agent runtime", zap.String("agent_id", th.ID), zap.Error(err))
			}
			progressed = true
		}
		if !progressed {
			for _, th := range next {
				a.deps.logger.Warn("dropping agent thread with unresolved parent", zap.String("agent_id", th.ID))
			}
			break
		}
		remaining = next
	}
	return nil
}

func (a *Agency) restoreRuntime(ctx context.Context, th *entity.AgentThread) error {
	bp, err := a.deps.store.GetBlueprint(ctx, a.id, th.AgentType)
	if err != nil {
		return err
	}
	proj, err := a.projectionFor(ctx, th.ID)
	if err != nil {
		return err
	}
	rt, err := a.buildRuntime(ctx, th.ID, th.AgentType, bp, proj)
	if err != nil {
		return err
	}
	a.mu.Lock()
	a.agents[th.ID] = rt
	a.mu.Unlock()
	return nil
}

// projectionFor replays an agent's full event log, resuming from its
// latest snapshot when one exists (spec §4.2, invariant 1).
func (a *Agency) projectionFor(ctx context.Context, agentID string) (entity.Projection, error) {
	snap, err := a.deps.events.LatestSnapshot(ctx, agentID)
	if err == nil && snap != nil {
		tail, err := a.deps.events.EventsAfter(ctx, agentID, snap.LastEventSeq)
		if err != nil {
			return entity.Projection{}, err
		}
		return service.ProjectFromSnapshot(snap.State, snap.LastEventSeq, tail), nil
	}
	events, err := a.deps.events.ListEvents(ctx, agentID)
	if err != nil {
		return entity.Projection{}, err
	}
	return service.Project(events), nil
}

// UpsertBlueprint implements the create-or-upsert rule of `POST /agency/:id/
// blueprints` (spec §4.9): the first write creates, subsequent
// writes merge over it, preserving createdAt.
func (a *Agency) UpsertBlueprint(ctx context.Context, name, promptText string, capabilities []string, model string, vars map[string]any) (*entity.Blueprint, error) {
	next, err := entity.NewBlueprint(name, promptText, capabilities, model, vars)
	if err != nil {
		return nil, err
	}
	if existing, err := a.deps.store.GetBlueprint(ctx, a.id, name); err == nil {
		next = existing.MergeOver(next)
	}
	if err := a.deps.store.UpsertBlueprint(ctx, a.id, next); err != nil {
		return nil, err
	}
	return next, nil
}

func (a *Agency) ListBlueprints(ctx context.Context) ([]*entity.Blueprint, error) {
	return a.deps.store.ListBlueprints(ctx, a.id)
}

func (a *Agency) GetBlueprint(ctx context.Context, name string) (*entity.Blueprint, error) {
	return a.deps.store.GetBlueprint(ctx, a.id, name)
}

func (a *Agency) DeleteBlueprint(ctx context.Context, name string) error {
	return a.deps.store.DeleteBlueprint(ctx, a.id, name)
}

// SpawnAgent implements `POST /agency/:id/agents` (spec §4.9): allocates a
// fresh agent of blueprint agentType, persists its identity, registers it
// in the tree, and optionally kicks off its first run.
func (a *Agency) SpawnAgent(ctx context.Context, agentType, parentID string, metadata map[string]any, firstMessage string) (*AgentRuntime, error) {
	bp, err := a.deps.store.GetBlueprint(ctx, a.id, agentType)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	thread := entity.NewAgentThread(id, a.id, agentType, metadata, parentID)
	if err := a.deps.store.SaveAgent(ctx, a.id, thread); err != nil {
		return nil, err
	}
	if _, err := a.tree.Register(id, agentType, parentID, thread.CreatedAt); err != nil {
		return nil, err
	}

	rt, err := a.buildRuntime(ctx, id, agentType, bp, entity.Projection{Status: entity.StatusIdle})
	if err != nil {
		return nil, err
	}
	a.mu.Lock()
	a.agents[id] = rt
	a.mu.Unlock()

	if firstMessage != "" {
		safego.Go(a.deps.logger, "agent-initial-invoke", func() {
			if err := rt.Invoke(context.Background(), firstMessage); err != nil {
				a.deps.logger.Error("initial invoke failed", zap.String("agent_id", id), zap.Error(err))
			}
		})
	}
	return rt, nil
}

// buildRuntime assembles a fresh StepLoop-backed AgentRuntime for one
// agent thread: its own tool registry (resolved from the blueprint's
// capability patterns), its own SubagentCoordinator, and a HookDispatcher
// seeded from every loaded plugin plus the built-in subagent reporter and
// auto-report hooks.
func (a *Agency) buildRuntime(ctx context.Context, id, agentType string, bp *entity.Blueprint, proj entity.Projection) (*AgentRuntime, error) {
	catalog := domaintool.NewInMemoryRegistry()
	infratool.RegisterBuiltins(catalog, a.agentHomeDir(id))

	coord := service.NewSubagentCoordinator(id, a.id, a)
	catalog.Register(infratool.NewTaskTool(coord))
	catalog.Register(infratool.NewMessageAgentTool(coord))

	resolved := service.ResolveCapabilities(bp.Capabilities(), catalog, a.mcp)
	registry := domaintool.NewInMemoryRegistry()
	for _, t := range resolved {
		if err := registry.Register(t); err != nil {
			return nil, err
		}
	}

	executor := infratool.NewParallelExecutor(registry, a.deps.cfg.Agent.MaxParallelTools, a.deps.logger).
		WithTimeout(a.deps.cfg.Agent.ToolTimeout)

	hooks := service.NewHookDispatcher(a.deps.logger)
	for _, h := range a.deps.plugins.All() {
		hooks.Add(h)
	}
	hooks.Add(service.NewSubagentReporterPlugin(coord))
	hooks.Add(&subagentAutoReportHook{agency: a})

	model := bp.Model()
	if model == "" {
		model = a.deps.cfg.Provider.Model
	}

	vars := map[string]any{}
	if all, err := a.vars.All(ctx); err == nil {
		for k, v := range all {
			vars[k] = v
		}
	}
	for k, v := range bp.Vars() {
		vars[k] = v
	}
	if len(a.deps.cfg.Agent.HITLTools) > 0 {
		if _, ok := vars["HITL_TOOLS"]; !ok {
			vars["HITL_TOOLS"] = a.deps.cfg.Agent.HITLTools
		}
	}

	return newAgentRuntime(agentRuntimeDeps{
		ID:                id,
		AgencyID:          a.id,
		AgentType:         agentType,
		Projection:        proj,
		Provider:          newProviderAdaptor(a.deps.provider),
		Tools:             newToolExecutorAdaptor(executor),
		Registry:          registry,
		Events:            a.deps.events,
		Hooks:             hooks,
		Coordinator:       coord,
		BasePrompt:        bp.Prompt(),
		Model:             model,
		Vars:              vars,
		IterationLimit:    a.deps.cfg.Agent.IterationLimit,
		ToolConcurrency:   a.deps.cfg.Agent.MaxParallelTools,
		SnapshotThreshold: a.deps.cfg.Agent.SnapshotThreshold,
		Logger:            a.deps.logger,
		OnEvent:           func(e entity.Event) { a.broadcastEvent(id, e) },
	}), nil
}

func (a *Agency) agentHomeDir(agentID string) string {
	return filepath.Join(a.deps.dataDir, "agencies", a.id, "agents", agentID)
}

func (a *Agency) sharedDir() string {
	return filepath.Join(a.deps.dataDir, "agencies", a.id, "shared")
}

func (a *Agency) getAgent(id string) (*AgentRuntime, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	rt, ok := a.agents[id]
	return rt, ok
}

// Agent exposes one live agent runtime to the HTTP layer (spec §6's
// per-agent endpoints all resolve through the owning Agency first, never
// directly by agent id, preserving cross-agency isolation).
func (a *Agency) Agent(id string) (*AgentRuntime, bool) { return a.getAgent(id) }

// ListAgentSummaries implements `GET /agency/:id/agents`.
func (a *Agency) ListAgentSummaries(ctx context.Context) ([]*entity.AgentThread, error) {
	return a.deps.store.ListAgents(ctx, a.id)
}

// AgentTree implements `GET /agency/:id/agents/:aid/tree`.
func (a *Agency) AgentTree(aid string) (agent.Node, []agent.Node, []agent.Node, error) {
	node, ok := a.tree.Get(aid)
	if !ok {
		return agent.Node{}, nil, nil, apperrors.NewNotFoundError("agent", aid)
	}
	return node, a.tree.Ancestors(aid), a.tree.Descendants(aid), nil
}

// Forest implements `GET /agency/:id/agents/tree` (no id): one tree per
// root agent, each carrying its descendants.
func (a *Agency) Forest() []agent.Node {
	return a.tree.Roots()
}

// DeleteAgent cancels (if running) and removes one agent. Parent/child
// links are a relation, not ownership (spec §3): deleting a parent does
// not cascade to its children.
func (a *Agency) DeleteAgent(ctx context.Context, id string) error {
	if rt, ok := a.getAgent(id); ok {
		_ = rt.Action(ctx, "cancel", nil)
	}
	a.mu.Lock()
	delete(a.agents, id)
	a.mu.Unlock()
	a.tree.Remove(id)
	return a.deps.store.DeleteAgent(ctx, a.id, id)
}

// Fork implements `POST /agency/:id/agent/:aid/fork {at?, id?}` (spec §6,
// S6): allocates the target thread, mints a fork token, and immediately
// exercises the guarded `/internal/copy-events` path with it — the two-
// step contract is real (CopyEvents independently verifies the token), it
// just happens not to need an actual network hop between the two agents
// being the same process (spec §9's transport-abstraction note).
func (a *Agency) Fork(ctx context.Context, sourceID string, at *uint64, explicitID string) (targetID, token string, err error) {
	source, err := a.deps.store.GetAgent(ctx, a.id, sourceID)
	if err != nil {
		return "", "", err
	}

	cut := at
	if cut == nil {
		maxSeq, err := a.deps.events.MaxSeq(ctx, sourceID)
		if err != nil {
			return "", "", err
		}
		cut = &maxSeq
	}

	targetID = explicitID
	if targetID == "" {
		targetID = uuid.NewString()
	}
	thread := entity.NewAgentThread(targetID, a.id, source.AgentType, map[string]any{"forkedFrom": sourceID}, "")
	thread.ForkedFrom = sourceID
	thread.ForkedAt = *cut
	if err := a.deps.store.SaveAgent(ctx, a.id, thread); err != nil {
		return "", "", err
	}
	if _, err := a.tree.Register(targetID, source.AgentType, "", thread.CreatedAt); err != nil {
		return "", "", err
	}

	token = newForkToken(sourceID, targetID, a.id, time.Now().UTC())
	if err := a.CopyEvents(ctx, sourceID, targetID, token, *cut); err != nil {
		return "", "", err
	}
	return targetID, token, nil
}

// CopyEvents implements the guarded `/internal/copy-events` endpoint
// (spec §6): verifies the fork token, copies events up to cut from source
// into target, and builds the target's runtime from the copied log.
func (a *Agency) CopyEvents(ctx context.Context, sourceID, targetID, token string, cut uint64) error {
	if !verifyForkToken(token, targetID, a.id, a.deps.cfg.Agent.ForkTokenTTL) {
		return apperrors.NewForkUnauthorizedError()
	}

	all, err := a.deps.events.EventsAfter(ctx, sourceID, 0)
	if err != nil {
		return err
	}
	toCopy := make([]entity.Event, 0, len(all))
	for _, e := range all {
		if e.Seq <= cut {
			toCopy = append(toCopy, e)
		}
	}
	if _, err := a.deps.events.AddEvents(ctx, targetID, toCopy); err != nil {
		return err
	}

	th, err := a.deps.store.GetAgent(ctx, a.id, targetID)
	if err != nil {
		return err
	}
	bp, err := a.deps.store.GetBlueprint(ctx, a.id, th.AgentType)
	if err != nil {
		return err
	}
	proj, err := a.projectionFor(ctx, targetID)
	if err != nil {
		return err
	}
	rt, err := a.buildRuntime(ctx, targetID, th.AgentType, bp, proj)
	if err != nil {
		return err
	}
	a.mu.Lock()
	a.agents[targetID] = rt
	a.mu.Unlock()
	return nil
}

// --- service.ChildSpawner ---------------------------------------------

func (a *Agency) SpawnChild(ctx context.Context, agencyID, agentType, parentID, firstMessage string, parentVar map[string]any) (string, error) {
	rt, err := a.SpawnAgent(ctx, agentType, parentID, map[string]any{"spawnedBy": "task"}, "")
	if err != nil {
		return "", err
	}
	token, _ := parentVar["token"].(string)
	a.mu.Lock()
	a.childTokens[rt.ID()] = childToken{ParentID: parentID, Token: token}
	a.mu.Unlock()

	safego.Go(a.deps.logger, "agent-child-invoke", func() {
		if err := rt.Invoke(context.Background(), firstMessage); err != nil {
			a.deps.logger.Error("child invoke failed", zap.String("agent_id", rt.ID()), zap.Error(err))
		}
	})
	return rt.ID(), nil
}

func (a *Agency) InvokeChild(ctx context.Context, childID, message string, parentVar map[string]any) error {
	rt, ok := a.getAgent(childID)
	if !ok {
		return apperrors.NewNotFoundError("agent", childID)
	}
	token, _ := parentVar["token"].(string)
	parentID, _ := parentVar["threadId"].(string)
	a.mu.Lock()
	a.childTokens[childID] = childToken{ParentID: parentID, Token: token}
	a.mu.Unlock()

	safego.Go(a.deps.logger, "agent-child-reinvoke", func() {
		if err := rt.Invoke(context.Background(), message); err != nil {
			a.deps.logger.Error("child re-invoke failed", zap.String("agent_id", childID), zap.Error(err))
		}
	})
	return nil
}

func (a *Agency) IsChild(ctx context.Context, parentID, childID string) (bool, error) {
	node, ok := a.tree.Get(childID)
	if !ok {
		return false, nil
	}
	return node.ParentID == parentID, nil
}

func (a *Agency) DeliverResult(ctx context.Context, parentID, toolCallID string, payload any) error {
	rt, ok := a.getAgent(parentID)
	if !ok {
		return apperrors.NewNotFoundError("agent", parentID)
	}
	return rt.deliverToolResult(ctx, toolCallID, payload)
}

func (a *Agency) CancelChild(ctx context.Context, childID string) error {
	rt, ok := a.getAgent(childID)
	if !ok {
		return nil
	}
	return rt.Action(ctx, "cancel", nil)
}

// reportChildResult is invoked by subagentAutoReportHook when a child
// agent (one this Agency spawned on another's behalf) reaches
// OnRunComplete: it resolves the recorded parent/token pair and delivers
// the result as if action("subagent_result") had been called externally.
func (a *Agency) reportChildResult(ctx context.Context, childID string, result any) {
	a.mu.Lock()
	tok, ok := a.childTokens[childID]
	if ok {
		delete(a.childTokens, childID)
	}
	a.mu.Unlock()
	if !ok {
		return
	}
	parentRT, ok := a.getAgent(tok.ParentID)
	if !ok {
		return
	}
	if err := parentRT.Action(ctx, "subagent_result", map[string]any{
		"token": tok.Token, "agentId": childID, "result": result,
	}); err != nil {
		a.deps.logger.Warn("failed to deliver subagent result", zap.String("child_id", childID), zap.Error(err))
	}
}

// subagentAutoReportHook is added to every agent's HookDispatcher; it is a
// no-op unless the completing agent happens to be a tracked child (spec
// §4.7: the child itself holds no parent reference, so this is driven by
// the Agency's own bookkeeping rather than anything the child does).
type subagentAutoReportHook struct {
	service.PluginBase
	agency *Agency
}

func (h *subagentAutoReportHook) OnRunComplete(ctx *service.PluginContext, final entity.Message) {
	h.agency.reportChildResult(context.Background(), ctx.AgentID, final.TextContent())
}

// --- service.ScheduleSpawner --------------------------------------------

func (a *Agency) SpawnScheduled(ctx context.Context, agencyID, agentType string, input any) (string, error) {
	message := ""
	switch v := input.(type) {
	case string:
		message = v
	case nil:
		message = ""
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		message = string(encoded)
	}
	rt, err := a.SpawnAgent(ctx, agentType, "", map[string]any{"spawnedBy": "schedule"}, "")
	if err != nil {
		return "", err
	}
	if err := rt.Invoke(ctx, message); err != nil {
		return "", err
	}
	return rt.ID(), nil
}

// --- schedules -----------------------------------------------------------

func (a *Agency) CreateSchedule(ctx context.Context, s *entity.Schedule) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	s.CreatedAt = time.Now().UTC()
	s.UpdatedAt = s.CreatedAt
	if s.Status == "" {
		s.Status = entity.ScheduleActive
	}
	if s.OverlapPolicy == "" {
		s.OverlapPolicy = entity.OverlapSkip
	}
	if err := a.scheduler.Arm(ctx, a.id, s); err != nil {
		return err
	}
	return nil
}

func (a *Agency) ListSchedules(ctx context.Context) ([]*entity.Schedule, error) {
	return a.deps.store.ListSchedules(ctx, a.id)
}

func (a *Agency) GetSchedule(ctx context.Context, id string) (*entity.Schedule, error) {
	return a.deps.store.GetSchedule(ctx, a.id, id)
}

func (a *Agency) DeleteSchedule(ctx context.Context, id string) error {
	return a.deps.store.DeleteSchedule(ctx, a.id, id)
}

func (a *Agency) PauseSchedule(ctx context.Context, id string) error {
	s, err := a.deps.store.GetSchedule(ctx, a.id, id)
	if err != nil {
		return err
	}
	s.Status = entity.SchedulePaused
	return a.scheduler.Arm(ctx, a.id, s)
}

func (a *Agency) ResumeSchedule(ctx context.Context, id string) error {
	s, err := a.deps.store.GetSchedule(ctx, a.id, id)
	if err != nil {
		return err
	}
	s.Status = entity.ScheduleActive
	return a.scheduler.Arm(ctx, a.id, s)
}

func (a *Agency) TriggerSchedule(ctx context.Context, id string) error {
	return a.scheduler.Fire(ctx, a.id, id, true)
}

func (a *Agency) ListScheduleRuns(ctx context.Context, scheduleID string, limit int) ([]*entity.ScheduleRun, error) {
	return a.deps.store.ListScheduleRuns(ctx, scheduleID, limit)
}

// tick is called by the poll loop (application.App) once per
// ScheduleConfig.PollInterval: every due, active schedule fires.
func (a *Agency) tick(ctx context.Context) {
	schedules, err := a.deps.store.ListSchedules(ctx, a.id)
	if err != nil {
		return
	}
	now := time.Now().UTC()
	for _, s := range schedules {
		if s.Status != entity.ScheduleActive || s.NextRunAt == nil || s.NextRunAt.After(now) {
			continue
		}
		if err := a.scheduler.Fire(ctx, a.id, s.ID, false); err != nil {
			a.deps.logger.Warn("schedule fire failed", zap.String("schedule_id", s.ID), zap.Error(err))
		}
	}
}

// --- vars ------------------------------------------------------------

func (a *Agency) GetVar(ctx context.Context, key string) (any, bool, error) {
	return a.vars.Get(ctx, key)
}
func (a *Agency) SetVar(ctx context.Context, key string, value any) error {
	return a.vars.Set(ctx, key, value)
}
func (a *Agency) DeleteVar(ctx context.Context, key string) error { return a.vars.Delete(ctx, key) }
func (a *Agency) AllVars(ctx context.Context) (map[string]any, error) {
	return a.vars.All(ctx)
}

// --- MCP ---------------------------------------------------------------

func (a *Agency) AddMCPServer(ctx context.Context, id, name, url string, headers map[string]string) error {
	return a.mcp.AddServer(ctx, id, name, url, headers, true)
}

func (a *Agency) RemoveMCPServer(id string) error { return a.mcp.RemoveServer(id) }

func (a *Agency) ListMCPServers() []infratool.ServerSummary { return a.mcp.ListServers() }

// CallMCPTool implements `POST /agency/:id/mcp/call` (spec §6): a direct,
// agent-less invocation of one remote tool, used by operators probing a
// newly added server before wiring it into any blueprint's capabilities.
func (a *Agency) CallMCPTool(ctx context.Context, serverID, toolName string, args map[string]any) (any, error) {
	t, ok := a.mcp.Tool(serverID, toolName)
	if !ok {
		return nil, apperrors.NewNotFoundError("mcp tool", serverID+":"+toolName)
	}
	return t.Execute(ctx, args, domaintool.ExecContext{AgencyID: a.id})
}

// --- filesystem ----------------------------------------------------------

// resolveFSPath implements spec §4.9's routing rule: `~/` is the caller's
// own home, `/shared/...` is tenant-wide, `/agents/<id>/...` is readable by
// anyone but writable only by the owning agent.
func (a *Agency) resolveFSPath(callerAgentID, p string) (resolved string, writable bool, err error) {
	switch {
	case p == "~" || strings.HasPrefix(p, "~/"):
		rel := strings.TrimPrefix(strings.TrimPrefix(p, "~"), "/")
		return filepath.Join(a.agentHomeDir(callerAgentID), filepath.Clean("/"+rel)), true, nil

	case p == "/shared" || strings.HasPrefix(p, "/shared/"):
		rel := strings.TrimPrefix(strings.TrimPrefix(p, "/shared"), "/")
		return filepath.Join(a.sharedDir(), filepath.Clean("/"+rel)), true, nil

	case strings.HasPrefix(p, "/agents/"):
		rest := strings.TrimPrefix(p, "/agents/")
		parts := strings.SplitN(rest, "/", 2)
		targetID := parts[0]
		rel := ""
		if len(parts) > 1 {
			rel = parts[1]
		}
		return filepath.Join(a.agentHomeDir(targetID), filepath.Clean("/"+rel)), targetID == callerAgentID, nil

	default:
		return "", false, apperrors.NewValidationError("fs path must start with ~/, /shared/, or /agents/<id>/")
	}
}

func (a *Agency) FSList(callerAgentID, path string) ([]string, error) {
	full, _, err := a.resolveFSPath(callerAgentID, path)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(full)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names, nil
}

func (a *Agency) FSRead(callerAgentID, path string) ([]byte, error) {
	full, _, err := a.resolveFSPath(callerAgentID, path)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(full)
}

func (a *Agency) FSWrite(callerAgentID, path string, content []byte) error {
	full, writable, err := a.resolveFSPath(callerAgentID, path)
	if err != nil {
		return err
	}
	if !writable {
		return apperrors.NewForbiddenError("path is not writable by this agent")
	}
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return err
	}
	return os.WriteFile(full, content, 0644)
}

func (a *Agency) FSDelete(callerAgentID, path string) error {
	full, writable, err := a.resolveFSPath(callerAgentID, path)
	if err != nil {
		return err
	}
	if !writable {
		return apperrors.NewForbiddenError("path is not writable by this agent")
	}
	return os.RemoveAll(full)
}
