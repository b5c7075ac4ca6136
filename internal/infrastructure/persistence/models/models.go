package models

import "time"

// EventModel is the per-agent append-only event row (spec §4.1, §6
// "events(seq PK, type, data JSON, ts)"). seq is scoped per agent, not
// globally unique, so the primary key is the (agent_id, seq) pair.
type EventModel struct {
	AgentID string    `gorm:"primaryKey;size:64"`
	Seq     uint64    `gorm:"primaryKey;autoIncrement:false"`
	Type    string    `gorm:"size:64;index"`
	Data    string    `gorm:"type:text"` // JSON
	TS      time.Time `gorm:"index"`
}

func (EventModel) TableName() string { return "events" }

// SnapshotModel caches a Projection at a given seq for faster replay.
type SnapshotModel struct {
	AgentID      string    `gorm:"primaryKey;size:64"`
	LastEventSeq uint64    `gorm:"primaryKey;autoIncrement:false"`
	State        string    `gorm:"type:text"` // JSON entity.Projection
	CreatedAt    time.Time
}

func (SnapshotModel) TableName() string { return "snapshots" }

// KVModel backs the Info/RunState/Vars reflective mappings (spec §3, §9).
type KVModel struct {
	AgentID string `gorm:"primaryKey;size:64"`
	Prefix  string `gorm:"primaryKey;size:32"`
	Key     string `gorm:"primaryKey;size:128"`
	Value   string `gorm:"type:text"`
}

func (KVModel) TableName() string { return "agent_kv" }

// BlueprintModel persists an Agency's dynamic blueprints.
type BlueprintModel struct {
	AgencyID     string `gorm:"primaryKey;size:64"`
	Name         string `gorm:"primaryKey;size:128"`
	Prompt       string `gorm:"type:text"`
	Capabilities string `gorm:"type:text"` // JSON []string
	Model        string `gorm:"size:128"`
	Vars         string `gorm:"type:text"` // JSON map[string]any
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (BlueprintModel) TableName() string { return "blueprints" }

// AgentRecordModel persists the Agency-owned registry entry for an agent
// identity (not its event log, which lives in EventModel/SnapshotModel
// scoped by AgentID).
type AgentRecordModel struct {
	ID             string `gorm:"primaryKey;size:64"`
	AgencyID       string `gorm:"index;size:64"`
	Type           string `gorm:"size:128"`
	CreatedAt      time.Time
	Metadata       string `gorm:"type:text"` // JSON
	RelatedAgentID string `gorm:"size:64;index"`
	ForkedFrom     string `gorm:"size:64"`
	ForkedAt       uint64
}

func (AgentRecordModel) TableName() string { return "agents" }

// ScheduleModel persists a Schedule (spec §3, §6 "agent_schedules").
type ScheduleModel struct {
	ID            string `gorm:"primaryKey;size:64"`
	AgencyID      string `gorm:"index;size:64"`
	Name          string `gorm:"size:128"`
	AgentType     string `gorm:"size:128"`
	Input         string `gorm:"type:text"` // JSON
	Type          string `gorm:"size:16"`
	RunAt         *time.Time
	Cron          string `gorm:"size:128"`
	Timezone      string `gorm:"size:64"`
	IntervalMS    int64
	Status        string `gorm:"size:16;index"`
	OverlapPolicy string `gorm:"size:16"`
	MaxRetries    int
	TimeoutMS     int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
	LastRunAt     *time.Time
	NextRunAt     *time.Time `gorm:"index"`
	DeferredRun   bool
}

func (ScheduleModel) TableName() string { return "agent_schedules" }

// ScheduleRunModel persists one execution attempt of a Schedule.
type ScheduleRunModel struct {
	ID          string `gorm:"primaryKey;size:64"`
	ScheduleID  string `gorm:"index;size:64"`
	AgentID     string `gorm:"size:64"`
	Status      string `gorm:"size:16"`
	ScheduledAt time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	Error       string `gorm:"type:text"`
	RetryCount  int
}

func (ScheduleRunModel) TableName() string { return "schedule_runs" }

// AgencyVarModel persists per-agency mutable vars (KV, `_vars:*` prefix in
// spec §6's persisted state layout).
type AgencyVarModel struct {
	AgencyID string `gorm:"primaryKey;size:64"`
	Key      string `gorm:"primaryKey;size:128"`
	Value    string `gorm:"type:text"`
}

func (AgencyVarModel) TableName() string { return "agency_vars" }

// AgencyModel is the root tenant record.
type AgencyModel struct {
	ID        string `gorm:"primaryKey;size:64"`
	Name      string `gorm:"size:128;uniqueIndex"`
	CreatedAt time.Time
}

func (AgencyModel) TableName() string { return "agencies" }
