package entity

import "time"

type ScheduleType string

const (
	ScheduleOnce     ScheduleType = "once"
	ScheduleCron     ScheduleType = "cron"
	ScheduleInterval ScheduleType = "interval"
)

type ScheduleStatus string

const (
	ScheduleActive   ScheduleStatus = "active"
	SchedulePaused   ScheduleStatus = "paused"
	ScheduleDisabled ScheduleStatus = "disabled"
)

type OverlapPolicy string

const (
	OverlapSkip  OverlapPolicy = "skip"
	OverlapQueue OverlapPolicy = "queue"
	OverlapAllow OverlapPolicy = "allow"
)

// Schedule drives cron/interval/one-shot agent runs. Persisted in the
// owning Agency. See SPEC_FULL.md §13.1 for the `queue` overlap policy's
// resolved semantics (one deferred run, not an unbounded FIFO).
type Schedule struct {
	ID            string
	Name          string
	AgentType     string
	Input         any
	Type          ScheduleType
	RunAt         *time.Time // once
	Cron          string     // cron
	Timezone      string
	IntervalMS    int64 // interval
	Status        ScheduleStatus
	OverlapPolicy OverlapPolicy
	MaxRetries    int
	TimeoutMS     int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
	LastRunAt     *time.Time
	NextRunAt     *time.Time

	// DeferredRun records a pending run request recorded while OverlapQueue
	// policy was in effect and a run was already active.
	DeferredRun bool
}

type ScheduleRunStatus string

const (
	RunPending   ScheduleRunStatus = "pending"
	RunRunning   ScheduleRunStatus = "running"
	RunCompleted ScheduleRunStatus = "completed"
	RunFailed    ScheduleRunStatus = "failed"
	RunSkipped   ScheduleRunStatus = "skipped"
)

// ScheduleRun is one execution attempt of a Schedule.
type ScheduleRun struct {
	ID          string
	ScheduleID  string
	AgentID     string
	Status      ScheduleRunStatus
	ScheduledAt time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	Error       string
	RetryCount  int
}
