package repository

import (
	"context"

	"github.com/agentforge/runtime/internal/domain/entity"
)

// EventStore is the per-agent append-only event log and snapshot store
// (spec §4.1). Implementations MUST chunk batch writes to respect the
// backing store's per-batch parameter limit (grounded on gorm's default
// placeholder limits, honored by the sqlite/postgres backed implementation
// in internal/infrastructure/persistence).
type EventStore interface {
	AppendEvent(ctx context.Context, agentID string, e entity.Event) (uint64, error)
	ListEvents(ctx context.Context, agentID string) ([]entity.Event, error)
	EventsAfter(ctx context.Context, agentID string, seq uint64) ([]entity.Event, error)
	MaxSeq(ctx context.Context, agentID string) (uint64, error)
	EventCount(ctx context.Context, agentID string) (int64, error)

	AddSnapshot(ctx context.Context, agentID string, snap entity.Snapshot) error
	LatestSnapshot(ctx context.Context, agentID string) (*entity.Snapshot, error)
	SnapshotAt(ctx context.Context, agentID string, seq uint64) (*entity.Snapshot, error)
	PruneSnapshots(ctx context.Context, agentID string, keep int) error

	// AddEvents copies a slice of another agent's events into agentID's
	// log, reassigning seq numbers starting after the current max. Used by
	// the fork operation (§4.7/S6).
	AddEvents(ctx context.Context, agentID string, events []entity.Event) (int, error)

	// KV-backed Info / RunState / Vars reflective mapping (§3, §9 Design
	// Notes "reflective vars mapping").
	KVGet(ctx context.Context, agentID, prefix, key string) (string, bool, error)
	KVSet(ctx context.Context, agentID, prefix, key, value string) error
	KVDelete(ctx context.Context, agentID, prefix, key string) error
	KVList(ctx context.Context, agentID, prefix string) (map[string]string, error)
}
