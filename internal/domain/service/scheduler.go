package service

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/agentforge/runtime/internal/domain/entity"
	"github.com/agentforge/runtime/internal/domain/repository"
)

// cronParser accepts the standard five-field form plus the optional
// seconds field and named descriptors (@hourly, @daily, ...), grounded on
// the pack's robfig/cron/v3 usage for NextRunAt computation (spec §4.8).
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ScheduleSpawner is the narrow surface the scheduler needs to start a run
// (spec §4.8 step 3: "Spawn a new agent of S.agentType with S.input").
type ScheduleSpawner interface {
	SpawnScheduled(ctx context.Context, agencyID, agentType string, input any) (agentID string, err error)
}

// NextRunAt computes a schedule's next firing time per spec §4.8.
func NextRunAt(s *entity.Schedule, now time.Time) (*time.Time, error) {
	switch s.Type {
	case entity.ScheduleOnce:
		if s.RunAt == nil || !s.RunAt.After(now) {
			return nil, nil
		}
		t := *s.RunAt
		return &t, nil

	case entity.ScheduleCron:
		if s.Cron == "" {
			return nil, fmt.Errorf("cron schedule missing expression")
		}
		loc := now.Location()
		if s.Timezone != "" {
			if tz, err := time.LoadLocation(s.Timezone); err == nil {
				loc = tz
			}
		}
		schedule, err := cronParser.Parse(s.Cron)
		if err != nil {
			return nil, fmt.Errorf("parse cron expression: %w", err)
		}
		next := schedule.Next(now.In(loc))
		if next.IsZero() {
			return nil, nil
		}
		return &next, nil

	case entity.ScheduleInterval:
		if s.IntervalMS <= 0 {
			return nil, fmt.Errorf("interval schedule missing intervalMs")
		}
		base := now
		if s.LastRunAt != nil && s.LastRunAt.After(base) {
			base = *s.LastRunAt
		}
		next := base.Add(time.Duration(s.IntervalMS) * time.Millisecond)
		return &next, nil

	default:
		return nil, fmt.Errorf("unknown schedule type %q", s.Type)
	}
}

// Scheduler executes armed schedules on alarm, applying overlap policy and
// advancing nextRunAt (spec §4.8). Grounded on the cron-expression handling
// in the pack's robfig/cron/v3-backed schedule type, generalized from a
// single in-process ticker loop into a per-alarm executor the Agency actor
// drives (one alarm per Schedule, matching the actor-per-tenant model).
type Scheduler struct {
	store   repository.AgencyStore
	spawner ScheduleSpawner
	logger  *zap.Logger
}

func NewScheduler(store repository.AgencyStore, spawner ScheduleSpawner, logger *zap.Logger) *Scheduler {
	return &Scheduler{store: store, spawner: spawner, logger: logger}
}

// Fire handles one alarm for scheduleID (spec §4.8 Executor, steps 1-5).
// manual bypasses the overlap policy (spec: "Manual trigger bypasses
// overlap policy").
func (s *Scheduler) Fire(ctx context.Context, agencyID, scheduleID string, manual bool) error {
	sched, err := s.store.GetSchedule(ctx, agencyID, scheduleID)
	if err != nil {
		return err
	}
	if sched.Status != entity.ScheduleActive {
		return nil
	}

	if !manual {
		switch sched.OverlapPolicy {
		case entity.OverlapSkip:
			running, err := s.store.CountRunningRuns(ctx, scheduleID)
			if err != nil {
				return err
			}
			if running > 0 {
				return s.advance(ctx, agencyID, sched)
			}
		case entity.OverlapQueue:
			running, err := s.store.CountRunningRuns(ctx, scheduleID)
			if err != nil {
				return err
			}
			if running > 0 {
				// Another run is still active: record the (single) deferred
				// request instead of spawning now (spec §13.1).
				if err := s.RequestDeferredRun(ctx, agencyID, sched); err != nil {
					return err
				}
				return s.advance(ctx, agencyID, sched)
			}
		case entity.OverlapAllow:
			// no coordination.
		}
	}

	if err := s.runOnce(ctx, agencyID, sched); err != nil {
		return err
	}

	// A deferred request recorded by an earlier alarm that found another
	// run active (as loaded into sched at the start of Fire) fires exactly
	// once now that this run has finished (spec §13.1: a single deferred
	// slot, not an unbounded FIFO).
	if sched.DeferredRun {
		sched.DeferredRun = false
		if err := s.runOnce(ctx, agencyID, sched); err != nil {
			s.logger.Error("deferred schedule run failed", zap.String("schedule_id", sched.ID), zap.Error(err))
		}
	}

	return s.advance(ctx, agencyID, sched)
}

// runOnce persists a running ScheduleRun row, spawns the agent, and
// persists the settled outcome, updating sched.LastRunAt. Split out of
// Fire so the queue policy's deferred-run fulfillment can invoke it a
// second time without re-running the overlap-policy checks.
func (s *Scheduler) runOnce(ctx context.Context, agencyID string, sched *entity.Schedule) error {
	now := time.Now().UTC()
	run := &entity.ScheduleRun{
		ID:          newToken(),
		ScheduleID:  sched.ID,
		Status:      entity.RunRunning,
		ScheduledAt: now,
		StartedAt:   &now,
	}
	if err := s.store.SaveScheduleRun(ctx, run); err != nil {
		return err
	}

	agentID, spawnErr := s.runWithRetry(ctx, agencyID, sched)
	completed := time.Now().UTC()
	run.CompletedAt = &completed
	if spawnErr != nil {
		run.Status = entity.RunFailed
		run.Error = spawnErr.Error()
	} else {
		run.Status = entity.RunCompleted
		run.AgentID = agentID
	}
	if err := s.store.SaveScheduleRun(ctx, run); err != nil {
		s.logger.Error("failed to persist schedule run outcome", zap.Error(err))
	}

	sched.LastRunAt = &now
	return nil
}

// runWithRetry retries only infrastructural spawn failures, not
// agent-level failures, up to sched.MaxRetries (spec §4.8 step 4).
func (s *Scheduler) runWithRetry(ctx context.Context, agencyID string, sched *entity.Schedule) (string, error) {
	attempts := sched.MaxRetries + 1
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		agentID, err := s.spawner.SpawnScheduled(ctx, agencyID, sched.AgentType, sched.Input)
		if err == nil {
			return agentID, nil
		}
		lastErr = err
		s.logger.Warn("scheduled spawn failed, retrying",
			zap.String("schedule_id", sched.ID), zap.Int("attempt", i+1), zap.Error(err))
	}
	return "", lastErr
}

// advance implements spec §4.8 step 5: once -> disabled; others ->
// recompute nextRunAt and persist. Does not touch DeferredRun: Fire owns
// clearing that flag, at the moment it actually spawns the deferred run,
// not on every advance (a queue-policy deferral recorded just before this
// call must survive it).
func (s *Scheduler) advance(ctx context.Context, agencyID string, sched *entity.Schedule) error {
	if sched.Type == entity.ScheduleOnce {
		sched.Status = entity.ScheduleDisabled
		sched.NextRunAt = nil
		return s.store.SaveSchedule(ctx, agencyID, sched)
	}

	next, err := NextRunAt(sched, time.Now().UTC())
	if err != nil {
		s.logger.Error("failed to compute next run", zap.String("schedule_id", sched.ID), zap.Error(err))
		sched.Status = entity.ScheduleDisabled
		sched.NextRunAt = nil
		return s.store.SaveSchedule(ctx, agencyID, sched)
	}
	sched.NextRunAt = next
	return s.store.SaveSchedule(ctx, agencyID, sched)
}

// Arm computes and persists the initial nextRunAt for a newly created or
// reactivated active schedule (spec §4.8's opening paragraph).
func (s *Scheduler) Arm(ctx context.Context, agencyID string, sched *entity.Schedule) error {
	if sched.Status != entity.ScheduleActive {
		sched.NextRunAt = nil
		return s.store.SaveSchedule(ctx, agencyID, sched)
	}
	next, err := NextRunAt(sched, time.Now().UTC())
	if err != nil {
		return err
	}
	sched.NextRunAt = next
	return s.store.SaveSchedule(ctx, agencyID, sched)
}

// RequestDeferredRun records a queue-policy deferral request (spec §13.1's
// resolved "queue" semantics: at most one deferred run, not a FIFO).
func (s *Scheduler) RequestDeferredRun(ctx context.Context, agencyID string, sched *entity.Schedule) error {
	if sched.DeferredRun {
		return nil
	}
	sched.DeferredRun = true
	return s.store.SaveSchedule(ctx, agencyID, sched)
}
