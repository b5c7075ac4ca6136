package service

import (
	"context"
	"encoding/json"

	"github.com/agentforge/runtime/internal/domain/repository"
)

// varsKVPrefix is a KV namespace name for the agency-scoped vars
// dictionary. AgencyVars does not use it: it reads and writes through
// repository.AgencyStore's per-agency var methods.
const varsKVPrefix = "vars"

// AgencyVars is the typed dictionary interface over an Agency's persisted
// vars (spec §3), backed by repository.AgencyStore's plain string KV so any
// JSON-representable value (string, number, bool, array, object) round
// trips through Get/Set.
type AgencyVars struct {
	store    repository.AgencyStore
	agencyID string
}

func NewAgencyVars(store repository.AgencyStore, agencyID string) *AgencyVars {
	return &AgencyVars{store: store, agencyID: agencyID}
}

func (v *AgencyVars) Get(ctx context.Context, key string) (any, bool, error) {
	raw, ok, err := v.store.GetVar(ctx, v.agencyID, key)
	if err != nil || !ok {
		return nil, ok, err
	}
	var val any
	if err := json.Unmarshal([]byte(raw), &val); err != nil {
		return raw, true, nil
	}
	return val, true, nil
}

func (v *AgencyVars) Set(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return v.store.SetVar(ctx, v.agencyID, key, string(raw))
}

func (v *AgencyVars) Delete(ctx context.Context, key string) error {
	return v.store.DeleteVar(ctx, v.agencyID, key)
}

// All enumerates every var under this agency's prefix; spec §9 requires
// full enumeration to scan all keys, which AgencyStore.ListVars already
// does per-agency.
func (v *AgencyVars) All(ctx context.Context) (map[string]any, error) {
	raw, err := v.store.ListVars(ctx, v.agencyID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]any, len(raw))
	for k, s := range raw {
		var val any
		if err := json.Unmarshal([]byte(s), &val); err != nil {
			out[k] = s
			continue
		}
		out[k] = val
	}
	return out, nil
}
