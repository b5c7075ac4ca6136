package entity

import "time"

// AgentThread is an agent instance: the conversation/run actor owning one
// event log, its projection snapshots, and its pending-tool queue.
//
// Parent/child subagent links are a relation, not ownership: deleting a
// parent does not cascade-delete RelatedAgentID children (see spec §3
// Ownership and §4.7 Subagent coordination).
type AgentThread struct {
	ID              string
	AgencyID        string
	AgentType       string // blueprint name
	CreatedAt       time.Time
	Metadata        map[string]any
	RelatedAgentID  string // parent, if spawned as a subagent; empty for scheduled runs and forks
	ForkedFrom      string
	ForkedAt        uint64
}

// NewAgentThread constructs a fresh, not-yet-registered agent thread.
func NewAgentThread(id, agencyID, agentType string, metadata map[string]any, relatedAgentID string) *AgentThread {
	if metadata == nil {
		metadata = map[string]any{}
	}
	return &AgentThread{
		ID:             id,
		AgencyID:       agencyID,
		AgentType:      agentType,
		CreatedAt:      time.Now().UTC(),
		Metadata:       metadata,
		RelatedAgentID: relatedAgentID,
	}
}
