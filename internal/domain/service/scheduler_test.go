package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/agentforge/runtime/internal/domain/entity"
)

func TestNextRunAt_OnceInFuture(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	runAt := now.Add(time.Hour)
	s := &entity.Schedule{Type: entity.ScheduleOnce, RunAt: &runAt}

	next, err := NextRunAt(s, now)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.True(t, next.Equal(runAt))
}

func TestNextRunAt_OncePastReturnsNil(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	runAt := now.Add(-time.Hour)
	s := &entity.Schedule{Type: entity.ScheduleOnce, RunAt: &runAt}

	next, err := NextRunAt(s, now)
	require.NoError(t, err)
	assert.Nil(t, next)
}

func TestNextRunAt_CronComputesNextFire(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) // a Thursday
	s := &entity.Schedule{Type: entity.ScheduleCron, Cron: "0 0 * * *"}

	next, err := NextRunAt(s, now)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC), next.UTC())
}

func TestNextRunAt_CronInvalidExpression(t *testing.T) {
	s := &entity.Schedule{Type: entity.ScheduleCron, Cron: "not a cron expression"}
	_, err := NextRunAt(s, time.Now())
	assert.Error(t, err)
}

func TestNextRunAt_IntervalPastLastRunCountsFromNow(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	last := now.Add(-30 * time.Second)
	s := &entity.Schedule{Type: entity.ScheduleInterval, IntervalMS: 60_000, LastRunAt: &last}

	// the base is max(now, lastRunAt): a lastRunAt before now is outweighed.
	next, err := NextRunAt(s, now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(time.Minute), *next)
}

func TestNextRunAt_UnknownType(t *testing.T) {
	s := &entity.Schedule{Type: "bogus"}
	_, err := NextRunAt(s, time.Now())
	assert.Error(t, err)
}

// fakeScheduleStore is a minimal repository.AgencyStore stub covering only
// the schedule/run methods Scheduler touches.
type fakeScheduleStore struct {
	mu         sync.Mutex
	schedules  map[string]*entity.Schedule
	runs       map[string]*entity.ScheduleRun // keyed by run ID, upsert semantics
	runningCnt int64
}

func newFakeScheduleStore() *fakeScheduleStore {
	return &fakeScheduleStore{schedules: map[string]*entity.Schedule{}, runs: map[string]*entity.ScheduleRun{}}
}

// runList returns a stable snapshot of saved runs for assertions.
func (f *fakeScheduleStore) runList() []*entity.ScheduleRun {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*entity.ScheduleRun, 0, len(f.runs))
	for _, r := range f.runs {
		out = append(out, r)
	}
	return out
}

func (f *fakeScheduleStore) GetSchedule(ctx context.Context, agencyID, id string) (*entity.Schedule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.schedules[id]
	if !ok {
		return nil, errors.New("not found")
	}
	cp := *s
	return &cp, nil
}
func (f *fakeScheduleStore) SaveSchedule(ctx context.Context, agencyID string, s *entity.Schedule) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *s
	f.schedules[s.ID] = &cp
	return nil
}
func (f *fakeScheduleStore) SaveScheduleRun(ctx context.Context, run *entity.ScheduleRun) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *run
	f.runs[run.ID] = &cp
	return nil
}
func (f *fakeScheduleStore) CountRunningRuns(ctx context.Context, scheduleID string) (int64, error) {
	return f.runningCnt, nil
}

// Unused AgencyStore methods, present only to satisfy the interface.
func (f *fakeScheduleStore) UpsertBlueprint(context.Context, string, *entity.Blueprint) error { return nil }
func (f *fakeScheduleStore) GetBlueprint(context.Context, string, string) (*entity.Blueprint, error) {
	return nil, errors.New("unused")
}
func (f *fakeScheduleStore) ListBlueprints(context.Context, string) ([]*entity.Blueprint, error) {
	return nil, nil
}
func (f *fakeScheduleStore) DeleteBlueprint(context.Context, string, string) error { return nil }
func (f *fakeScheduleStore) SaveAgent(context.Context, string, *entity.AgentThread) error { return nil }
func (f *fakeScheduleStore) GetAgent(context.Context, string, string) (*entity.AgentThread, error) {
	return nil, errors.New("unused")
}
func (f *fakeScheduleStore) ListAgents(context.Context, string) ([]*entity.AgentThread, error) {
	return nil, nil
}
func (f *fakeScheduleStore) DeleteAgent(context.Context, string, string) error { return nil }
func (f *fakeScheduleStore) ListSchedules(context.Context, string) ([]*entity.Schedule, error) {
	return nil, nil
}
func (f *fakeScheduleStore) DeleteSchedule(context.Context, string, string) error { return nil }
func (f *fakeScheduleStore) ListScheduleRuns(context.Context, string, int) ([]*entity.ScheduleRun, error) {
	return nil, nil
}
func (f *fakeScheduleStore) GetVar(context.Context, string, string) (string, bool, error) {
	return "", false, nil
}
func (f *fakeScheduleStore) SetVar(context.Context, string, string, string) error { return nil }
func (f *fakeScheduleStore) DeleteVar(context.Context, string, string) error      { return nil }
func (f *fakeScheduleStore) ListVars(context.Context, string) (map[string]string, error) {
	return nil, nil
}
func (f *fakeScheduleStore) ListAgencies(context.Context) ([]string, error) { return nil, nil }
func (f *fakeScheduleStore) CreateAgency(context.Context, string, string) error { return nil }
func (f *fakeScheduleStore) DeleteAgency(context.Context, string) error        { return nil }

type fakeSpawner struct {
	calls int
	err   error
}

func (s *fakeSpawner) SpawnScheduled(ctx context.Context, agencyID, agentType string, input any) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	return "spawned-agent", nil
}

func TestScheduler_Fire_SpawnsAndAdvancesCron(t *testing.T) {
	store := newFakeScheduleStore()
	sched := &entity.Schedule{
		ID: "s1", Type: entity.ScheduleCron, Cron: "0 0 * * *",
		Status: entity.ScheduleActive, OverlapPolicy: entity.OverlapAllow,
	}
	require.NoError(t, store.SaveSchedule(context.Background(), "a1", sched))

	spawner := &fakeSpawner{}
	s := NewScheduler(store, spawner, zap.NewNop())
	require.NoError(t, s.Fire(context.Background(), "a1", "s1", false))

	assert.Equal(t, 1, spawner.calls)
	runs := store.runList()
	require.Len(t, runs, 1)
	assert.Equal(t, entity.RunCompleted, runs[0].Status)
	assert.Equal(t, "spawned-agent", runs[0].AgentID)

	updated, err := store.GetSchedule(context.Background(), "a1", "s1")
	require.NoError(t, err)
	assert.NotNil(t, updated.NextRunAt)
	assert.NotNil(t, updated.LastRunAt)
}

func TestScheduler_Fire_OnceDisablesAfterRun(t *testing.T) {
	store := newFakeScheduleStore()
	runAt := time.Now().Add(time.Hour)
	sched := &entity.Schedule{
		ID: "s2", Type: entity.ScheduleOnce, RunAt: &runAt,
		Status: entity.ScheduleActive, OverlapPolicy: entity.OverlapAllow,
	}
	require.NoError(t, store.SaveSchedule(context.Background(), "a1", sched))

	s := NewScheduler(store, &fakeSpawner{}, zap.NewNop())
	require.NoError(t, s.Fire(context.Background(), "a1", "s2", true))

	updated, err := store.GetSchedule(context.Background(), "a1", "s2")
	require.NoError(t, err)
	assert.Equal(t, entity.ScheduleDisabled, updated.Status)
	assert.Nil(t, updated.NextRunAt)
}

func TestScheduler_Fire_SkipPolicySkipsWhenAlreadyRunning(t *testing.T) {
	store := newFakeScheduleStore()
	store.runningCnt = 1
	sched := &entity.Schedule{
		ID: "s3", Type: entity.ScheduleInterval, IntervalMS: 1000,
		Status: entity.ScheduleActive, OverlapPolicy: entity.OverlapSkip,
	}
	require.NoError(t, store.SaveSchedule(context.Background(), "a1", sched))

	spawner := &fakeSpawner{}
	s := NewScheduler(store, spawner, zap.NewNop())
	require.NoError(t, s.Fire(context.Background(), "a1", "s3", false))

	assert.Zero(t, spawner.calls, "skip policy must not spawn while a run is already active")
	assert.Empty(t, store.runList())
}

func TestScheduler_Fire_RetriesSpawnFailures(t *testing.T) {
	store := newFakeScheduleStore()
	sched := &entity.Schedule{
		ID: "s4", Type: entity.ScheduleInterval, IntervalMS: 1000,
		Status: entity.ScheduleActive, OverlapPolicy: entity.OverlapAllow, MaxRetries: 2,
	}
	require.NoError(t, store.SaveSchedule(context.Background(), "a1", sched))

	spawner := &fakeSpawner{err: errors.New("transient spawn failure")}
	s := NewScheduler(store, spawner, zap.NewNop())
	require.NoError(t, s.Fire(context.Background(), "a1", "s4", false))

	assert.Equal(t, 3, spawner.calls, "MaxRetries=2 means 3 total attempts")
	runs := store.runList()
	require.Len(t, runs, 1)
	assert.Equal(t, entity.RunFailed, runs[0].Status)
}

func TestScheduler_Fire_QueuePolicyDefersWhenAlreadyRunning(t *testing.T) {
	store := newFakeScheduleStore()
	store.runningCnt = 1
	sched := &entity.Schedule{
		ID: "s6", Type: entity.ScheduleInterval, IntervalMS: 1000,
		Status: entity.ScheduleActive, OverlapPolicy: entity.OverlapQueue,
	}
	require.NoError(t, store.SaveSchedule(context.Background(), "a1", sched))

	spawner := &fakeSpawner{}
	s := NewScheduler(store, spawner, zap.NewNop())
	require.NoError(t, s.Fire(context.Background(), "a1", "s6", false))

	assert.Zero(t, spawner.calls, "queue policy must not spawn while a run is already active")
	assert.Empty(t, store.runList())

	updated, err := store.GetSchedule(context.Background(), "a1", "s6")
	require.NoError(t, err)
	assert.True(t, updated.DeferredRun, "queue policy must record exactly one deferred run request")
}

func TestScheduler_Fire_QueuePolicyFulfillsDeferredRunAfterActiveFinishes(t *testing.T) {
	store := newFakeScheduleStore()
	sched := &entity.Schedule{
		ID: "s7", Type: entity.ScheduleInterval, IntervalMS: 1000,
		Status: entity.ScheduleActive, OverlapPolicy: entity.OverlapQueue, DeferredRun: true,
	}
	require.NoError(t, store.SaveSchedule(context.Background(), "a1", sched))

	spawner := &fakeSpawner{}
	s := NewScheduler(store, spawner, zap.NewNop())
	require.NoError(t, s.Fire(context.Background(), "a1", "s7", false))

	assert.Equal(t, 2, spawner.calls, "the triggering run plus the deferred run")
	runs := store.runList()
	require.Len(t, runs, 2)

	updated, err := store.GetSchedule(context.Background(), "a1", "s7")
	require.NoError(t, err)
	assert.False(t, updated.DeferredRun, "deferred run slot is cleared once fulfilled")
}

func TestScheduler_Fire_InactiveScheduleNoOp(t *testing.T) {
	store := newFakeScheduleStore()
	sched := &entity.Schedule{ID: "s5", Type: entity.ScheduleOnce, Status: entity.SchedulePaused}
	require.NoError(t, store.SaveSchedule(context.Background(), "a1", sched))

	spawner := &fakeSpawner{}
	s := NewScheduler(store, spawner, zap.NewNop())
	require.NoError(t, s.Fire(context.Background(), "a1", "s5", false))
	assert.Zero(t, spawner.calls)
}
