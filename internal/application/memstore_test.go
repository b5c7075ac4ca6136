package application

import (
	"context"
	"sync"

	"github.com/agentforge/runtime/internal/domain/entity"
	apperrors "github.com/agentforge/runtime/pkg/errors"
)

// memStore is an in-memory repository.AgencyStore + repository.EventStore
// fake used by this package's tests, grounded on the teacher's own
// in-memory repository test doubles (pattern: a mutex-guarded map per
// entity kind, no persistence). It exists purely to exercise Agency/
// AgencyRegistry logic without a real gorm/sqlite backend.
type memStore struct {
	mu sync.Mutex

	agencies   map[string]string // id -> name
	blueprints map[string]map[string]*entity.Blueprint
	agents     map[string]map[string]*entity.AgentThread
	schedules  map[string]map[string]*entity.Schedule
	runs       []*entity.ScheduleRun
	vars       map[string]map[string]string

	events    map[string][]entity.Event
	snapshots map[string][]entity.Snapshot
	kv        map[string]map[string]string // agentID -> "prefix:key" -> value
}

func newMemStore() *memStore {
	return &memStore{
		agencies:   map[string]string{},
		blueprints: map[string]map[string]*entity.Blueprint{},
		agents:     map[string]map[string]*entity.AgentThread{},
		schedules:  map[string]map[string]*entity.Schedule{},
		vars:       map[string]map[string]string{},
		events:     map[string][]entity.Event{},
		snapshots:  map[string][]entity.Snapshot{},
		kv:         map[string]map[string]string{},
	}
}

// --- repository.AgencyStore ---------------------------------------------

func (s *memStore) UpsertBlueprint(ctx context.Context, agencyID string, bp *entity.Blueprint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.blueprints[agencyID] == nil {
		s.blueprints[agencyID] = map[string]*entity.Blueprint{}
	}
	s.blueprints[agencyID][bp.Name()] = bp
	return nil
}

func (s *memStore) GetBlueprint(ctx context.Context, agencyID, name string) (*entity.Blueprint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bp, ok := s.blueprints[agencyID][name]
	if !ok {
		return nil, apperrors.NewNotFoundError("blueprint", name)
	}
	return bp, nil
}

func (s *memStore) ListBlueprints(ctx context.Context, agencyID string) ([]*entity.Blueprint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*entity.Blueprint, 0, len(s.blueprints[agencyID]))
	for _, bp := range s.blueprints[agencyID] {
		out = append(out, bp)
	}
	return out, nil
}

func (s *memStore) DeleteBlueprint(ctx context.Context, agencyID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blueprints[agencyID], name)
	return nil
}

func (s *memStore) SaveAgent(ctx context.Context, agencyID string, a *entity.AgentThread) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.agents[agencyID] == nil {
		s.agents[agencyID] = map[string]*entity.AgentThread{}
	}
	s.agents[agencyID][a.ID] = a
	return nil
}

func (s *memStore) GetAgent(ctx context.Context, agencyID, agentID string) (*entity.AgentThread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[agencyID][agentID]
	if !ok {
		return nil, apperrors.NewNotFoundError("agent", agentID)
	}
	return a, nil
}

func (s *memStore) ListAgents(ctx context.Context, agencyID string) ([]*entity.AgentThread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*entity.AgentThread, 0, len(s.agents[agencyID]))
	for _, a := range s.agents[agencyID] {
		out = append(out, a)
	}
	return out, nil
}

func (s *memStore) DeleteAgent(ctx context.Context, agencyID, agentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.agents[agencyID], agentID)
	return nil
}

func (s *memStore) SaveSchedule(ctx context.Context, agencyID string, sch *entity.Schedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.schedules[agencyID] == nil {
		s.schedules[agencyID] = map[string]*entity.Schedule{}
	}
	s.schedules[agencyID][sch.ID] = sch
	return nil
}

func (s *memStore) GetSchedule(ctx context.Context, agencyID, scheduleID string) (*entity.Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sch, ok := s.schedules[agencyID][scheduleID]
	if !ok {
		return nil, apperrors.NewNotFoundError("schedule", scheduleID)
	}
	return sch, nil
}

func (s *memStore) ListSchedules(ctx context.Context, agencyID string) ([]*entity.Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*entity.Schedule, 0, len(s.schedules[agencyID]))
	for _, sch := range s.schedules[agencyID] {
		out = append(out, sch)
	}
	return out, nil
}

func (s *memStore) DeleteSchedule(ctx context.Context, agencyID, scheduleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.schedules[agencyID], scheduleID)
	return nil
}

func (s *memStore) SaveScheduleRun(ctx context.Context, run *entity.ScheduleRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, run)
	return nil
}

func (s *memStore) ListScheduleRuns(ctx context.Context, scheduleID string, limit int) ([]*entity.ScheduleRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*entity.ScheduleRun
	for _, r := range s.runs {
		if r.ScheduleID == scheduleID {
			out = append(out, r)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *memStore) CountRunningRuns(ctx context.Context, scheduleID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, r := range s.runs {
		if r.ScheduleID == scheduleID && r.Status == entity.RunRunning {
			n++
		}
	}
	return n, nil
}

func (s *memStore) GetVar(ctx context.Context, agencyID, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.vars[agencyID][key]
	return v, ok, nil
}

func (s *memStore) SetVar(ctx context.Context, agencyID, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.vars[agencyID] == nil {
		s.vars[agencyID] = map[string]string{}
	}
	s.vars[agencyID][key] = value
	return nil
}

func (s *memStore) DeleteVar(ctx context.Context, agencyID, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.vars[agencyID], key)
	return nil
}

func (s *memStore) ListVars(ctx context.Context, agencyID string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string]string{}
	for k, v := range s.vars[agencyID] {
		out[k] = v
	}
	return out, nil
}

func (s *memStore) ListAgencies(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.agencies))
	for id := range s.agencies {
		out = append(out, id)
	}
	return out, nil
}

func (s *memStore) CreateAgency(ctx context.Context, id, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agencies[id] = name
	return nil
}

func (s *memStore) DeleteAgency(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.agencies, id)
	return nil
}

// --- repository.EventStore ------------------------------------------------

func (s *memStore) AppendEvent(ctx context.Context, agentID string, e entity.Event) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.Seq = uint64(len(s.events[agentID]) + 1)
	s.events[agentID] = append(s.events[agentID], e)
	return e.Seq, nil
}

func (s *memStore) ListEvents(ctx context.Context, agentID string) ([]entity.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]entity.Event(nil), s.events[agentID]...), nil
}

func (s *memStore) EventsAfter(ctx context.Context, agentID string, seq uint64) ([]entity.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []entity.Event
	for _, e := range s.events[agentID] {
		if e.Seq > seq {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *memStore) MaxSeq(ctx context.Context, agentID string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	evs := s.events[agentID]
	if len(evs) == 0 {
		return 0, nil
	}
	return evs[len(evs)-1].Seq, nil
}

func (s *memStore) EventCount(ctx context.Context, agentID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.events[agentID])), nil
}

func (s *memStore) AddSnapshot(ctx context.Context, agentID string, snap entity.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[agentID] = append(s.snapshots[agentID], snap)
	return nil
}

func (s *memStore) LatestSnapshot(ctx context.Context, agentID string) (*entity.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snaps := s.snapshots[agentID]
	if len(snaps) == 0 {
		return nil, nil
	}
	snap := snaps[len(snaps)-1]
	return &snap, nil
}

func (s *memStore) SnapshotAt(ctx context.Context, agentID string, seq uint64) (*entity.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *entity.Snapshot
	for i, snap := range s.snapshots[agentID] {
		if snap.LastEventSeq <= seq {
			best = &s.snapshots[agentID][i]
		}
	}
	return best, nil
}

func (s *memStore) PruneSnapshots(ctx context.Context, agentID string, keep int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snaps := s.snapshots[agentID]
	if len(snaps) > keep {
		s.snapshots[agentID] = snaps[len(snaps)-keep:]
	}
	return nil
}

func (s *memStore) AddEvents(ctx context.Context, agentID string, events []entity.Event) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	base := uint64(len(s.events[agentID]))
	for _, e := range events {
		base++
		e.Seq = base
		s.events[agentID] = append(s.events[agentID], e)
	}
	return len(events), nil
}

func (s *memStore) kvKey(prefix, key string) string { return prefix + ":" + key }

func (s *memStore) KVGet(ctx context.Context, agentID, prefix, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.kv[agentID][s.kvKey(prefix, key)]
	return v, ok, nil
}

func (s *memStore) KVSet(ctx context.Context, agentID, prefix, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.kv[agentID] == nil {
		s.kv[agentID] = map[string]string{}
	}
	s.kv[agentID][s.kvKey(prefix, key)] = value
	return nil
}

func (s *memStore) KVDelete(ctx context.Context, agentID, prefix, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.kv[agentID], s.kvKey(prefix, key))
	return nil
}

func (s *memStore) KVList(ctx context.Context, agentID, prefix string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string]string{}
	p := prefix + ":"
	for k, v := range s.kv[agentID] {
		if len(k) > len(p) && k[:len(p)] == p {
			out[k[len(p):]] = v
		}
	}
	return out, nil
}
