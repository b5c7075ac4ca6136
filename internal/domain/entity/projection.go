package entity

import "time"

// Projection is the derived state folded from an agent's event log (see
// service.Project in internal/domain/service/projection.go — this type is
// the pure fold's output, kept in entity so both the service and
// persistence layers can reference it without an import cycle).
type Projection struct {
	Messages          []Message
	Status            Status
	Step              int
	PendingToolCalls  []string
	TotalInputTokens  int64
	TotalOutputTokens int64
	InferenceCount    int
	LastError         string
}

// Snapshot caches a Projection at a given event sequence number, letting
// replay start from snapshot+tail instead of the full log.
type Snapshot struct {
	LastEventSeq uint64
	State        Projection
	CreatedAt    time.Time
}
