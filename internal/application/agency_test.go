package application

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/agentforge/runtime/internal/domain/entity"
	"github.com/agentforge/runtime/internal/infrastructure/config"
	infrallm "github.com/agentforge/runtime/internal/infrastructure/llm"
	infraplugin "github.com/agentforge/runtime/internal/infrastructure/plugin"
)

// fakeProvider answers every Invoke with a fixed assistant reply and no
// tool calls, so a StepLoop.Run reaches completion after exactly one step.
// Grounded on the teacher's own fake-provider test doubles for the LLM
// adaptor layer (infrastructure/llm's provider_test.go fixtures).
type fakeProvider struct {
	reply string
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) Invoke(ctx context.Context, req infrallm.ModelRequest) (infrallm.ModelResponse, error) {
	return infrallm.ModelResponse{
		Message: entity.Message{
			Role:  entity.RoleAssistant,
			Parts: []entity.Part{{Type: entity.PartText, Text: p.reply}},
		},
	}, nil
}

func (p *fakeProvider) Stream(ctx context.Context, req infrallm.ModelRequest, onDelta infrallm.DeltaFunc) (infrallm.ModelResponse, error) {
	return p.Invoke(ctx, req)
}

func newTestDeps(t *testing.T) sharedDeps {
	t.Helper()
	loader, err := infraplugin.NewLoader(&infraplugin.LoaderConfig{PluginDir: t.TempDir(), EnableHotLoad: false}, zap.NewNop())
	require.NoError(t, err)

	return sharedDeps{
		store:    newMemStore(),
		events:   newMemStore(),
		provider: &fakeProvider{reply: "done"},
		plugins:  loader,
		cfg: &config.Config{
			Agent: config.AgentConfig{MaxParallelTools: 4, SnapshotThreshold: 2},
		},
		logger:  zap.NewNop(),
		dataDir: t.TempDir(),
	}
}

func newTestAgency(t *testing.T) *Agency {
	t.Helper()
	return newAgency("agency-1", "Agency One", newTestDeps(t))
}

func TestUpsertBlueprint_CreateThenMerge(t *testing.T) {
	ctx := context.Background()
	a := newTestAgency(t)

	bp, err := a.UpsertBlueprint(ctx, "assistant", "You are helpful.", []string{"fs_read"}, "", map[string]any{"k": "v"})
	require.NoError(t, err)
	created := bp.CreatedAt()

	// Re-upsert with a different prompt: name already exists, so this must
	// merge over the prior record rather than replacing createdAt.
	bp2, err := a.UpsertBlueprint(ctx, "assistant", "You are extra helpful.", []string{"fs_read", "fs_write"}, "gpt-4", nil)
	require.NoError(t, err)

	assert.Equal(t, "You are extra helpful.", bp2.Prompt())
	assert.Equal(t, []string{"fs_read", "fs_write"}, bp2.Capabilities())
	assert.Equal(t, created, bp2.CreatedAt(), "merge must preserve the original createdAt")
}

func TestUpsertBlueprint_InvalidName(t *testing.T) {
	a := newTestAgency(t)
	_, err := a.UpsertBlueprint(context.Background(), "not a valid name!", "prompt", nil, "", nil)
	assert.Error(t, err)
}

func TestSpawnAgent_RegistersInTreeAndStore(t *testing.T) {
	ctx := context.Background()
	a := newTestAgency(t)
	_, err := a.UpsertBlueprint(ctx, "worker", "prompt", nil, "", nil)
	require.NoError(t, err)

	rt, err := a.SpawnAgent(ctx, "worker", "", map[string]any{"x": 1}, "")
	require.NoError(t, err)
	require.NotNil(t, rt)

	_, ok := a.Agent(rt.ID())
	assert.True(t, ok, "spawned agent must be retrievable")

	threads, err := a.ListAgentSummaries(ctx)
	require.NoError(t, err)
	assert.Len(t, threads, 1)
	assert.Equal(t, rt.ID(), threads[0].ID)

	node, ancestors, descendants, err := a.AgentTree(rt.ID())
	require.NoError(t, err)
	assert.Equal(t, rt.ID(), node.ID)
	assert.Empty(t, ancestors)
	assert.Empty(t, descendants)
}

func TestSpawnAgent_UnknownBlueprint(t *testing.T) {
	a := newTestAgency(t)
	_, err := a.SpawnAgent(context.Background(), "ghost", "", nil, "")
	assert.Error(t, err)
}

func TestInvoke_CompletesOnNoToolCalls(t *testing.T) {
	ctx := context.Background()
	a := newTestAgency(t)
	_, err := a.UpsertBlueprint(ctx, "worker", "prompt", nil, "", nil)
	require.NoError(t, err)

	rt, err := a.SpawnAgent(ctx, "worker", "", nil, "")
	require.NoError(t, err)

	require.NoError(t, rt.Invoke(ctx, "hello"))
	state := rt.State()
	assert.Equal(t, entity.StatusCompleted, state.Status)
}

func TestInvoke_CompletedRunIsNotLeftRunning(t *testing.T) {
	ctx := context.Background()
	a := newTestAgency(t)
	_, err := a.UpsertBlueprint(ctx, "worker", "prompt", nil, "", nil)
	require.NoError(t, err)
	rt, err := a.SpawnAgent(ctx, "worker", "", nil, "")
	require.NoError(t, err)
	require.NoError(t, rt.Invoke(ctx, "hello"))

	// Invoke's already-running guard is not exercised here: forcing a
	// "running" state requires reaching directly into the loop, which
	// invoke does not expose. This checks the publicly observable side:
	// completion of the first invoke moves status away from running, so a
	// later invoke is not rejected by that guard.
	assert.Equal(t, entity.StatusCompleted, rt.State().Status)
}

func TestDeleteAgent_RemovesFromTreeAndStore(t *testing.T) {
	ctx := context.Background()
	a := newTestAgency(t)
	_, err := a.UpsertBlueprint(ctx, "worker", "prompt", nil, "", nil)
	require.NoError(t, err)
	rt, err := a.SpawnAgent(ctx, "worker", "", nil, "")
	require.NoError(t, err)

	require.NoError(t, a.DeleteAgent(ctx, rt.ID()))

	_, ok := a.Agent(rt.ID())
	assert.False(t, ok)
	threads, err := a.ListAgentSummaries(ctx)
	require.NoError(t, err)
	assert.Empty(t, threads)
}

func TestFork_CopiesEventsUpToCut(t *testing.T) {
	ctx := context.Background()
	a := newTestAgency(t)
	_, err := a.UpsertBlueprint(ctx, "worker", "prompt", nil, "", nil)
	require.NoError(t, err)
	rt, err := a.SpawnAgent(ctx, "worker", "", nil, "")
	require.NoError(t, err)
	require.NoError(t, rt.Invoke(ctx, "first message"))

	sourceMax, err := a.deps.events.MaxSeq(ctx, rt.ID())
	require.NoError(t, err)
	require.Greater(t, sourceMax, uint64(0))

	targetID, token, err := a.Fork(ctx, rt.ID(), nil, "")
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	target, ok := a.Agent(targetID)
	require.True(t, ok)
	events, _, err := target.Export(ctx, false)
	require.NoError(t, err)
	assert.NotEmpty(t, events)
	assert.Equal(t, sourceMax, events[len(events)-1].Seq)
}

func TestFork_CopyEventsRejectsBadToken(t *testing.T) {
	ctx := context.Background()
	a := newTestAgency(t)
	_, err := a.UpsertBlueprint(ctx, "worker", "prompt", nil, "", nil)
	require.NoError(t, err)
	rt, err := a.SpawnAgent(ctx, "worker", "", nil, "")
	require.NoError(t, err)

	err = a.CopyEvents(ctx, rt.ID(), "some-target", "not-a-real-token", 0)
	assert.Error(t, err)
}

func TestVars_SetGetDelete(t *testing.T) {
	ctx := context.Background()
	a := newTestAgency(t)

	require.NoError(t, a.SetVar(ctx, "region", "us-east"))
	v, ok, err := a.GetVar(ctx, "region")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "us-east", v)

	require.NoError(t, a.DeleteVar(ctx, "region"))
	_, ok, err = a.GetVar(ctx, "region")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMCPServers_AddListRemove(t *testing.T) {
	a := newTestAgency(t)
	require.NoError(t, a.AddMCPServer(context.Background(), "srv-1", "demo", "http://127.0.0.1:0", nil))

	servers := a.ListMCPServers()
	require.Len(t, servers, 1)
	assert.Equal(t, "srv-1", servers[0].ID)

	require.NoError(t, a.RemoveMCPServer("srv-1"))
	assert.Empty(t, a.ListMCPServers())
}

func TestFSRoutes_HomeSharedAndCrossAgent(t *testing.T) {
	a := newTestAgency(t)

	require.NoError(t, a.FSWrite("agent-a", "~/note.txt", []byte("mine")))
	content, err := a.FSRead("agent-a", "~/note.txt")
	require.NoError(t, err)
	assert.Equal(t, "mine", string(content))

	require.NoError(t, a.FSWrite("agent-a", "/shared/shared.txt", []byte("shared")))
	content, err = a.FSRead("agent-b", "/shared/shared.txt")
	require.NoError(t, err)
	assert.Equal(t, "shared", string(content))

	// agent-b may read agent-a's home through /agents/ but not write it.
	content, err = a.FSRead("agent-b", "/agents/agent-a/note.txt")
	require.NoError(t, err)
	assert.Equal(t, "mine", string(content))
	err = a.FSWrite("agent-b", "/agents/agent-a/intrude.txt", []byte("nope"))
	assert.Error(t, err)
}

func TestCreateSchedule_DefaultsApplied(t *testing.T) {
	ctx := context.Background()
	a := newTestAgency(t)
	s := &entity.Schedule{Name: "nightly", AgentType: "worker", Type: entity.ScheduleCron, Cron: "0 0 * * *"}
	require.NoError(t, a.CreateSchedule(ctx, s))
	assert.NotEmpty(t, s.ID)
	assert.Equal(t, entity.ScheduleActive, s.Status)
	assert.Equal(t, entity.OverlapSkip, s.OverlapPolicy)

	schedules, err := a.ListSchedules(ctx)
	require.NoError(t, err)
	assert.Len(t, schedules, 1)
}
