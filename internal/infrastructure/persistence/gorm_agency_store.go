package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/agentforge/runtime/internal/domain/entity"
	"github.com/agentforge/runtime/internal/infrastructure/persistence/models"
	domainErrors "github.com/agentforge/runtime/pkg/errors"
)

// GormAgencyStore implements repository.AgencyStore, grounded on
// persistence/gorm_agent_repository.go's toModel/toEntity conversion
// pattern and its gorm.ErrRecordNotFound -> domainErrors.NewNotFoundError
// wrapping convention.
type GormAgencyStore struct {
	db *gorm.DB
}

func NewGormAgencyStore(db *gorm.DB) *GormAgencyStore {
	return &GormAgencyStore{db: db}
}

// --- Blueprints ---

func (s *GormAgencyStore) UpsertBlueprint(ctx context.Context, agencyID string, bp *entity.Blueprint) error {
	caps, err := json.Marshal(bp.Capabilities())
	if err != nil {
		return err
	}
	vars, err := json.Marshal(bp.Vars())
	if err != nil {
		return err
	}
	m := models.BlueprintModel{
		AgencyID:     agencyID,
		Name:         bp.Name(),
		Prompt:       bp.Prompt(),
		Capabilities: string(caps),
		Model:        bp.Model(),
		Vars:         string(vars),
		CreatedAt:    bp.CreatedAt(),
		UpdatedAt:    bp.UpdatedAt(),
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&m).Error
}

func (s *GormAgencyStore) GetBlueprint(ctx context.Context, agencyID, name string) (*entity.Blueprint, error) {
	var m models.BlueprintModel
	err := s.db.WithContext(ctx).Where("agency_id = ? AND name = ?", agencyID, name).First(&m).Error
	if err == gorm.ErrRecordNotFound {
		return nil, domainErrors.NewNotFoundError("blueprint", name)
	}
	if err != nil {
		return nil, err
	}
	return blueprintToEntity(m)
}

func (s *GormAgencyStore) ListBlueprints(ctx context.Context, agencyID string) ([]*entity.Blueprint, error) {
	var rows []models.BlueprintModel
	if err := s.db.WithContext(ctx).Where("agency_id = ?", agencyID).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*entity.Blueprint, 0, len(rows))
	for _, r := range rows {
		bp, err := blueprintToEntity(r)
		if err != nil {
			return nil, err
		}
		out = append(out, bp)
	}
	return out, nil
}

func (s *GormAgencyStore) DeleteBlueprint(ctx context.Context, agencyID, name string) error {
	return s.db.WithContext(ctx).Delete(&models.BlueprintModel{}, "agency_id = ? AND name = ?", agencyID, name).Error
}

func blueprintToEntity(m models.BlueprintModel) (*entity.Blueprint, error) {
	var caps []string
	if m.Capabilities != "" {
		if err := json.Unmarshal([]byte(m.Capabilities), &caps); err != nil {
			return nil, err
		}
	}
	var vars map[string]any
	if m.Vars != "" {
		if err := json.Unmarshal([]byte(m.Vars), &vars); err != nil {
			return nil, err
		}
	}
	return entity.ReconstructBlueprint(m.Name, m.Prompt, caps, m.Model, vars, m.CreatedAt, m.UpdatedAt), nil
}

// --- Agents ---

func (s *GormAgencyStore) SaveAgent(ctx context.Context, agencyID string, a *entity.AgentThread) error {
	meta, err := json.Marshal(a.Metadata)
	if err != nil {
		return err
	}
	m := models.AgentRecordModel{
		ID:             a.ID,
		AgencyID:       agencyID,
		Type:           a.AgentType,
		CreatedAt:      a.CreatedAt,
		Metadata:       string(meta),
		RelatedAgentID: a.RelatedAgentID,
		ForkedFrom:     a.ForkedFrom,
		ForkedAt:       a.ForkedAt,
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&m).Error
}

func (s *GormAgencyStore) GetAgent(ctx context.Context, agencyID, agentID string) (*entity.AgentThread, error) {
	var m models.AgentRecordModel
	err := s.db.WithContext(ctx).Where("agency_id = ? AND id = ?", agencyID, agentID).First(&m).Error
	if err == gorm.ErrRecordNotFound {
		return nil, domainErrors.NewNotFoundError("agent", agentID)
	}
	if err != nil {
		return nil, err
	}
	return agentToEntity(m)
}

func (s *GormAgencyStore) ListAgents(ctx context.Context, agencyID string) ([]*entity.AgentThread, error) {
	var rows []models.AgentRecordModel
	if err := s.db.WithContext(ctx).Where("agency_id = ?", agencyID).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*entity.AgentThread, 0, len(rows))
	for _, r := range rows {
		a, err := agentToEntity(r)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func (s *GormAgencyStore) DeleteAgent(ctx context.Context, agencyID, agentID string) error {
	return s.db.WithContext(ctx).Delete(&models.AgentRecordModel{}, "agency_id = ? AND id = ?", agencyID, agentID).Error
}

func agentToEntity(m models.AgentRecordModel) (*entity.AgentThread, error) {
	var meta map[string]any
	if m.Metadata != "" {
		if err := json.Unmarshal([]byte(m.Metadata), &meta); err != nil {
			return nil, err
		}
	}
	return &entity.AgentThread{
		ID: m.ID, AgencyID: m.AgencyID, AgentType: m.Type, CreatedAt: m.CreatedAt,
		Metadata: meta, RelatedAgentID: m.RelatedAgentID, ForkedFrom: m.ForkedFrom, ForkedAt: m.ForkedAt,
	}, nil
}

// --- Schedules ---

func (s *GormAgencyStore) SaveSchedule(ctx context.Context, agencyID string, sch *entity.Schedule) error {
	input, err := json.Marshal(sch.Input)
	if err != nil {
		return err
	}
	m := models.ScheduleModel{
		ID: sch.ID, AgencyID: agencyID, Name: sch.Name, AgentType: sch.AgentType, Input: string(input),
		Type: string(sch.Type), RunAt: sch.RunAt, Cron: sch.Cron, Timezone: sch.Timezone,
		IntervalMS: sch.IntervalMS, Status: string(sch.Status), OverlapPolicy: string(sch.OverlapPolicy),
		MaxRetries: sch.MaxRetries, TimeoutMS: sch.TimeoutMS, CreatedAt: sch.CreatedAt, UpdatedAt: sch.UpdatedAt,
		LastRunAt: sch.LastRunAt, NextRunAt: sch.NextRunAt, DeferredRun: sch.DeferredRun,
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&m).Error
}

func (s *GormAgencyStore) GetSchedule(ctx context.Context, agencyID, scheduleID string) (*entity.Schedule, error) {
	var m models.ScheduleModel
	err := s.db.WithContext(ctx).Where("agency_id = ? AND id = ?", agencyID, scheduleID).First(&m).Error
	if err == gorm.ErrRecordNotFound {
		return nil, domainErrors.NewNotFoundError("schedule", scheduleID)
	}
	if err != nil {
		return nil, err
	}
	return scheduleToEntity(m)
}

func (s *GormAgencyStore) ListSchedules(ctx context.Context, agencyID string) ([]*entity.Schedule, error) {
	var rows []models.ScheduleModel
	if err := s.db.WithContext(ctx).Where("agency_id = ?", agencyID).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*entity.Schedule, 0, len(rows))
	for _, r := range rows {
		sch, err := scheduleToEntity(r)
		if err != nil {
			return nil, err
		}
		out = append(out, sch)
	}
	return out, nil
}

func (s *GormAgencyStore) DeleteSchedule(ctx context.Context, agencyID, scheduleID string) error {
	return s.db.WithContext(ctx).Delete(&models.ScheduleModel{}, "agency_id = ? AND id = ?", agencyID, scheduleID).Error
}

func scheduleToEntity(m models.ScheduleModel) (*entity.Schedule, error) {
	var input any
	if m.Input != "" {
		if err := json.Unmarshal([]byte(m.Input), &input); err != nil {
			return nil, err
		}
	}
	return &entity.Schedule{
		ID: m.ID, Name: m.Name, AgentType: m.AgentType, Input: input, Type: entity.ScheduleType(m.Type),
		RunAt: m.RunAt, Cron: m.Cron, Timezone: m.Timezone, IntervalMS: m.IntervalMS,
		Status: entity.ScheduleStatus(m.Status), OverlapPolicy: entity.OverlapPolicy(m.OverlapPolicy),
		MaxRetries: m.MaxRetries, TimeoutMS: m.TimeoutMS, CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt,
		LastRunAt: m.LastRunAt, NextRunAt: m.NextRunAt, DeferredRun: m.DeferredRun,
	}, nil
}

// --- Schedule runs ---

func (s *GormAgencyStore) SaveScheduleRun(ctx context.Context, run *entity.ScheduleRun) error {
	m := models.ScheduleRunModel{
		ID: run.ID, ScheduleID: run.ScheduleID, AgentID: run.AgentID, Status: string(run.Status),
		ScheduledAt: run.ScheduledAt, StartedAt: run.StartedAt, CompletedAt: run.CompletedAt,
		Error: run.Error, RetryCount: run.RetryCount,
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&m).Error
}

func (s *GormAgencyStore) ListScheduleRuns(ctx context.Context, scheduleID string, limit int) ([]*entity.ScheduleRun, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []models.ScheduleRunModel
	if err := s.db.WithContext(ctx).Where("schedule_id = ?", scheduleID).
		Order("scheduled_at desc").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*entity.ScheduleRun, 0, len(rows))
	for _, r := range rows {
		out = append(out, &entity.ScheduleRun{
			ID: r.ID, ScheduleID: r.ScheduleID, AgentID: r.AgentID, Status: entity.ScheduleRunStatus(r.Status),
			ScheduledAt: r.ScheduledAt, StartedAt: r.StartedAt, CompletedAt: r.CompletedAt,
			Error: r.Error, RetryCount: r.RetryCount,
		})
	}
	return out, nil
}

func (s *GormAgencyStore) CountRunningRuns(ctx context.Context, scheduleID string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.ScheduleRunModel{}).
		Where("schedule_id = ? AND status = ?", scheduleID, string(entity.RunRunning)).Count(&count).Error
	return count, err
}

// --- Vars ---

func (s *GormAgencyStore) GetVar(ctx context.Context, agencyID, key string) (string, bool, error) {
	var m models.AgencyVarModel
	err := s.db.WithContext(ctx).Where("agency_id = ? AND key = ?", agencyID, key).First(&m).Error
	if err == gorm.ErrRecordNotFound {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return m.Value, true, nil
}

func (s *GormAgencyStore) SetVar(ctx context.Context, agencyID, key, value string) error {
	m := models.AgencyVarModel{AgencyID: agencyID, Key: key, Value: value}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&m).Error
}

func (s *GormAgencyStore) DeleteVar(ctx context.Context, agencyID, key string) error {
	return s.db.WithContext(ctx).Delete(&models.AgencyVarModel{}, "agency_id = ? AND key = ?", agencyID, key).Error
}

func (s *GormAgencyStore) ListVars(ctx context.Context, agencyID string) (map[string]string, error) {
	var rows []models.AgencyVarModel
	if err := s.db.WithContext(ctx).Where("agency_id = ?", agencyID).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[string]string, len(rows))
	for _, r := range rows {
		out[r.Key] = r.Value
	}
	return out, nil
}

// --- Agencies ---

func (s *GormAgencyStore) ListAgencies(ctx context.Context) ([]string, error) {
	var rows []models.AgencyModel
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.ID)
	}
	return out, nil
}

func (s *GormAgencyStore) CreateAgency(ctx context.Context, id, name string) error {
	var existing models.AgencyModel
	err := s.db.WithContext(ctx).Where("name = ?", name).First(&existing).Error
	if err == nil {
		return domainErrors.NewConflictError(fmt.Sprintf("agency %q already exists", name))
	}
	if err != gorm.ErrRecordNotFound {
		return err
	}
	return s.db.WithContext(ctx).Create(&models.AgencyModel{ID: id, Name: name, CreatedAt: time.Now().UTC()}).Error
}

func (s *GormAgencyStore) DeleteAgency(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Delete(&models.AgencyModel{}, "id = ?", id).Error
}
