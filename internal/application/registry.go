package application

import (
	"context"
	"sync"

	"go.uber.org/zap"

	apperrors "github.com/agentforge/runtime/pkg/errors"
)

// AgencyRegistry owns the collaborators every Agency shares — the store,
// event log, LLM provider, plugin loader, and static config — and the
// live `map[string]*Agency` of tenant actors built on top of them.
// Grounded on the teacher's single `App` struct, split into the
// process-wide singletons (this type) and the per-tenant actor (Agency).
type AgencyRegistry struct {
	deps sharedDeps

	mu        sync.RWMutex
	agencies  map[string]*Agency
}

func NewAgencyRegistry(deps sharedDeps) *AgencyRegistry {
	return &AgencyRegistry{deps: deps, agencies: make(map[string]*Agency)}
}

// Bootstrap restores every persisted agency's in-memory actor state after
// process start (spec §4.1: actors are rebuilt from persisted rows, not
// themselves persisted).
func (r *AgencyRegistry) Bootstrap(ctx context.Context) error {
	ids, err := r.deps.store.ListAgencies(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		a := newAgency(id, id, r.deps)
		if err := a.restore(ctx); err != nil {
			r.deps.logger.Error("failed to restore agency", zap.String("agency_id", id), zap.Error(err))
			continue
		}
		r.mu.Lock()
		r.agencies[id] = a
		r.mu.Unlock()
	}
	return nil
}

// Create implements `POST /agencies` (spec §6): allocates a fresh tenant
// actor and persists its identity row.
func (r *AgencyRegistry) Create(ctx context.Context, id, name string) (*Agency, error) {
	r.mu.RLock()
	_, exists := r.agencies[id]
	r.mu.RUnlock()
	if exists {
		return nil, apperrors.NewConflictError("agency already exists")
	}
	if err := r.deps.store.CreateAgency(ctx, id, name); err != nil {
		return nil, err
	}
	a := newAgency(id, name, r.deps)
	for _, srv := range r.deps.cfg.MCP.Servers {
		if !srv.Enabled {
			continue
		}
		if err := a.AddMCPServer(ctx, srv.ID, srv.Name, srv.URL, nil); err != nil {
			r.deps.logger.Warn("failed to seed default mcp server",
				zap.String("agency_id", id), zap.String("server_id", srv.ID), zap.Error(err))
		}
	}
	r.mu.Lock()
	r.agencies[id] = a
	r.mu.Unlock()
	return a, nil
}

func (r *AgencyRegistry) Get(id string) (*Agency, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agencies[id]
	return a, ok
}

func (r *AgencyRegistry) MustGet(id string) (*Agency, error) {
	a, ok := r.Get(id)
	if !ok {
		return nil, apperrors.NewNotFoundError("agency", id)
	}
	return a, nil
}

func (r *AgencyRegistry) List() []*Agency {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Agency, 0, len(r.agencies))
	for _, a := range r.agencies {
		out = append(out, a)
	}
	return out
}

// Delete implements `DELETE /agency/:agencyId`: cancels every live agent then
// drops the tenant's persisted rows. Cross-agency isolation (spec §3)
// means this never touches another tenant's state.
func (r *AgencyRegistry) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	a, ok := r.agencies[id]
	delete(r.agencies, id)
	r.mu.Unlock()
	if !ok {
		return apperrors.NewNotFoundError("agency", id)
	}
	threads, err := a.ListAgentSummaries(ctx)
	if err == nil {
		for _, th := range threads {
			_ = a.DeleteAgent(ctx, th.ID)
		}
	}
	return r.deps.store.DeleteAgency(ctx, id)
}

// Tick drives every agency's schedule poll once per
// config.ScheduleConfig.PollInterval (see App.scheduleLoop).
func (r *AgencyRegistry) Tick(ctx context.Context) {
	for _, a := range r.List() {
		a.tick(ctx)
	}
}
