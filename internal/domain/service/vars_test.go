package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentforge/runtime/internal/domain/entity"
)

// fakeVarsStore implements only the repository.AgencyStore var methods for
// real; every other method is a stub satisfying the interface.
type fakeVarsStore struct {
	mu   sync.Mutex
	vars map[string]map[string]string // agencyID -> key -> raw JSON
}

func newFakeVarsStore() *fakeVarsStore {
	return &fakeVarsStore{vars: map[string]map[string]string{}}
}

func (f *fakeVarsStore) GetVar(ctx context.Context, agencyID, key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.vars[agencyID]
	if !ok {
		return "", false, nil
	}
	v, ok := m[key]
	return v, ok, nil
}

func (f *fakeVarsStore) SetVar(ctx context.Context, agencyID, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.vars[agencyID]
	if !ok {
		m = map[string]string{}
		f.vars[agencyID] = m
	}
	m[key] = value
	return nil
}

func (f *fakeVarsStore) DeleteVar(ctx context.Context, agencyID, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.vars[agencyID], key)
	return nil
}

func (f *fakeVarsStore) ListVars(ctx context.Context, agencyID string) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]string, len(f.vars[agencyID]))
	for k, v := range f.vars[agencyID] {
		out[k] = v
	}
	return out, nil
}

// Unused AgencyStore methods, present only to satisfy the interface.
func (f *fakeVarsStore) UpsertBlueprint(context.Context, string, *entity.Blueprint) error { return nil }
func (f *fakeVarsStore) GetBlueprint(context.Context, string, string) (*entity.Blueprint, error) {
	return nil, errors.New("unused")
}
func (f *fakeVarsStore) ListBlueprints(context.Context, string) ([]*entity.Blueprint, error) {
	return nil, nil
}
func (f *fakeVarsStore) DeleteBlueprint(context.Context, string, string) error { return nil }
func (f *fakeVarsStore) SaveAgent(context.Context, string, *entity.AgentThread) error { return nil }
func (f *fakeVarsStore) GetAgent(context.Context, string, string) (*entity.AgentThread, error) {
	return nil, errors.New("unused")
}
func (f *fakeVarsStore) ListAgents(context.Context, string) ([]*entity.AgentThread, error) {
	return nil, nil
}
func (f *fakeVarsStore) DeleteAgent(context.Context, string, string) error { return nil }
func (f *fakeVarsStore) SaveSchedule(context.Context, string, *entity.Schedule) error { return nil }
func (f *fakeVarsStore) GetSchedule(context.Context, string, string) (*entity.Schedule, error) {
	return nil, errors.New("unused")
}
func (f *fakeVarsStore) ListSchedules(context.Context, string) ([]*entity.Schedule, error) {
	return nil, nil
}
func (f *fakeVarsStore) DeleteSchedule(context.Context, string, string) error { return nil }
func (f *fakeVarsStore) SaveScheduleRun(context.Context, *entity.ScheduleRun) error { return nil }
func (f *fakeVarsStore) ListScheduleRuns(context.Context, string, int) ([]*entity.ScheduleRun, error) {
	return nil, nil
}
func (f *fakeVarsStore) CountRunningRuns(context.Context, string) (int64, error) { return 0, nil }
func (f *fakeVarsStore) ListAgencies(context.Context) ([]string, error)         { return nil, nil }
func (f *fakeVarsStore) CreateAgency(context.Context, string, string) error     { return nil }
func (f *fakeVarsStore) DeleteAgency(context.Context, string) error             { return nil }

func TestAgencyVars_SetThenGetRoundTripsJSONValue(t *testing.T) {
	store := newFakeVarsStore()
	vars := NewAgencyVars(store, "a1")

	require.NoError(t, vars.Set(context.Background(), "region", "us-east"))
	val, ok, err := vars.Get(context.Background(), "region")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "us-east", val)
}

func TestAgencyVars_SetThenGetPreservesNumberType(t *testing.T) {
	store := newFakeVarsStore()
	vars := NewAgencyVars(store, "a1")

	require.NoError(t, vars.Set(context.Background(), "limit", 42))
	val, ok, err := vars.Get(context.Background(), "limit")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, float64(42), val)
}

func TestAgencyVars_GetMissingKeyReturnsFalse(t *testing.T) {
	store := newFakeVarsStore()
	vars := NewAgencyVars(store, "a1")

	_, ok, err := vars.Get(context.Background(), "nope")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAgencyVars_DeleteRemovesKey(t *testing.T) {
	store := newFakeVarsStore()
	vars := NewAgencyVars(store, "a1")

	require.NoError(t, vars.Set(context.Background(), "k", "v"))
	require.NoError(t, vars.Delete(context.Background(), "k"))
	_, ok, err := vars.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAgencyVars_AllEnumeratesAcrossDecodedValues(t *testing.T) {
	store := newFakeVarsStore()
	vars := NewAgencyVars(store, "a1")

	require.NoError(t, vars.Set(context.Background(), "region", "us-east"))
	require.NoError(t, vars.Set(context.Background(), "limit", 10))

	all, err := vars.All(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "us-east", all["region"])
	assert.Equal(t, float64(10), all["limit"])
}

func TestAgencyVars_IsolatedPerAgency(t *testing.T) {
	store := newFakeVarsStore()
	a1 := NewAgencyVars(store, "a1")
	a2 := NewAgencyVars(store, "a2")

	require.NoError(t, a1.Set(context.Background(), "k", "a1-value"))
	_, ok, err := a2.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.False(t, ok)
}
