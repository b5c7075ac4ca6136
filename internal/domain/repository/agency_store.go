package repository

import (
	"context"

	"github.com/agentforge/runtime/internal/domain/entity"
)

// AgencyStore persists the per-tenant state an Agency actor exclusively
// owns: blueprints, agent identities, schedules, schedule runs, and vars
// (spec §3 Ownership, §4.9).
type AgencyStore interface {
	UpsertBlueprint(ctx context.Context, agencyID string, bp *entity.Blueprint) error
	GetBlueprint(ctx context.Context, agencyID, name string) (*entity.Blueprint, error)
	ListBlueprints(ctx context.Context, agencyID string) ([]*entity.Blueprint, error)
	DeleteBlueprint(ctx context.Context, agencyID, name string) error

	SaveAgent(ctx context.Context, agencyID string, a *entity.AgentThread) error
	GetAgent(ctx context.Context, agencyID, agentID string) (*entity.AgentThread, error)
	ListAgents(ctx context.Context, agencyID string) ([]*entity.AgentThread, error)
	DeleteAgent(ctx context.Context, agencyID, agentID string) error

	SaveSchedule(ctx context.Context, agencyID string, s *entity.Schedule) error
	GetSchedule(ctx context.Context, agencyID, scheduleID string) (*entity.Schedule, error)
	ListSchedules(ctx context.Context, agencyID string) ([]*entity.Schedule, error)
	DeleteSchedule(ctx context.Context, agencyID, scheduleID string) error

	SaveScheduleRun(ctx context.Context, run *entity.ScheduleRun) error
	ListScheduleRuns(ctx context.Context, scheduleID string, limit int) ([]*entity.ScheduleRun, error)
	CountRunningRuns(ctx context.Context, scheduleID string) (int64, error)

	GetVar(ctx context.Context, agencyID, key string) (string, bool, error)
	SetVar(ctx context.Context, agencyID, key, value string) error
	DeleteVar(ctx context.Context, agencyID, key string) error
	ListVars(ctx context.Context, agencyID string) (map[string]string, error)

	ListAgencies(ctx context.Context) ([]string, error)
	CreateAgency(ctx context.Context, id, name string) error
	DeleteAgency(ctx context.Context, id string) error
}
