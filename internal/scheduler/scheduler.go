// Package scheduler runs connector jobs. One goroutine drives two paths
// off a single ticker: cron entries create and execute schedule jobs when
// they come due, and a pending-job poll picks up manual and collector jobs
// (and any cron job whose inline execution never happened).
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/identrail/identrail/internal/cron"
	"github.com/identrail/identrail/internal/jobs"
	"github.com/identrail/identrail/internal/store"
)

type schedulerStore interface {
	ListScheduledConnectorInstances(ctx context.Context) ([]store.ConnectorInstance, error)
	GetConnectorInstance(ctx context.Context, id uuid.UUID) (store.ConnectorInstance, error)
	CreateJob(ctx context.Context, instanceID uuid.UUID, triggeredBy store.TriggerOrigin) (store.Job, error)
	ListPendingJobs(ctx context.Context) ([]store.Job, error)
}

type jobExecutor interface {
	Execute(ctx context.Context, jobID uuid.UUID) error
}

// entry is one registered cron schedule and its next fire time.
type entry struct {
	schedule cron.Schedule
	expr     string
	next     time.Time
}

type Scheduler struct {
	store           schedulerStore
	executor        jobExecutor
	pollInterval    time.Duration
	refreshInterval time.Duration
	logger          *slog.Logger
	now             func() time.Time

	entries     map[uuid.UUID]*entry
	lastRefresh time.Time
}

func New(st schedulerStore, executor jobExecutor, pollInterval, refreshInterval time.Duration, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		store:           st,
		executor:        executor,
		pollInterval:    pollInterval,
		refreshInterval: refreshInterval,
		logger:          logger,
		now:             time.Now,
		entries:         make(map[uuid.UUID]*entry),
	}
}

// Run blocks until ctx is canceled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler started",
		"poll_interval", s.pollInterval,
		"schedule_refresh_interval", s.refreshInterval)

	s.refresh(ctx)
	s.tick(ctx)

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return nil
		case <-ticker.C:
			if s.now().Sub(s.lastRefresh) >= s.refreshInterval {
				s.refresh(ctx)
			}
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	s.runDueEntries(ctx)
	s.pollPendingJobs(ctx)
}

// refresh rebuilds the cron entry set from the database so operator edits
// to instances take effect without a restart.
func (s *Scheduler) refresh(ctx context.Context) {
	s.lastRefresh = s.now()

	instances, err := s.store.ListScheduledConnectorInstances(ctx)
	if err != nil {
		s.logger.Error("could not list scheduled instances", "error", err)
		return
	}

	seen := make(map[uuid.UUID]bool, len(instances))
	for _, instance := range instances {
		seen[instance.ID] = true

		if existing, ok := s.entries[instance.ID]; ok && existing.expr == instance.CronExpression {
			continue
		}
		schedule, err := cron.Parse(instance.CronExpression)
		if err != nil {
			s.logger.Warn("invalid cron expression",
				"connector_instance_id", instance.ID,
				"cron_expression", instance.CronExpression,
				"error", err)
			delete(s.entries, instance.ID)
			continue
		}
		s.entries[instance.ID] = &entry{
			schedule: schedule,
			expr:     instance.CronExpression,
			next:     schedule.Next(s.now()),
		}
		s.logger.Info("schedule registered",
			"connector_instance_id", instance.ID,
			"cron_expression", instance.CronExpression)
	}

	for id := range s.entries {
		if !seen[id] {
			delete(s.entries, id)
			s.logger.Info("schedule removed", "connector_instance_id", id)
		}
	}
}

func (s *Scheduler) runDueEntries(ctx context.Context) {
	now := s.now()
	for id, e := range s.entries {
		if e.next.IsZero() || e.next.After(now) {
			continue
		}
		e.next = e.schedule.Next(now)
		s.fire(ctx, id)
	}
}

// fire re-loads the instance at fire time: the stored entry may be stale.
func (s *Scheduler) fire(ctx context.Context, instanceID uuid.UUID) {
	instance, err := s.store.GetConnectorInstance(ctx, instanceID)
	if errors.Is(err, store.ErrNotFound) {
		s.logger.Warn("scheduled instance no longer exists", "connector_instance_id", instanceID)
		delete(s.entries, instanceID)
		return
	}
	if err != nil {
		s.logger.Error("could not load instance", "connector_instance_id", instanceID, "error", err)
		return
	}
	if !instance.IsEnabled {
		s.logger.Info("instance disabled, skipping run", "connector_instance_id", instanceID)
		return
	}

	job, err := s.store.CreateJob(ctx, instance.ID, store.TriggerSchedule)
	if err != nil {
		s.logger.Error("could not create scheduled job", "connector_instance_id", instanceID, "error", err)
		return
	}
	s.logger.Info("scheduled job created",
		"job_id", job.ID, "connector_instance_id", instance.ID, "name", instance.Name)

	s.execute(ctx, job.ID)
}

// pollPendingJobs executes pending jobs oldest first. This is the only
// path manual and collector jobs take.
func (s *Scheduler) pollPendingJobs(ctx context.Context) {
	pending, err := s.store.ListPendingJobs(ctx)
	if err != nil {
		s.logger.Error("could not list pending jobs", "error", err)
		return
	}
	for _, job := range pending {
		if ctx.Err() != nil {
			return
		}
		s.execute(ctx, job.ID)
	}
}

func (s *Scheduler) execute(ctx context.Context, jobID uuid.UUID) {
	err := s.executor.Execute(ctx, jobID)
	switch {
	case err == nil:
	case errors.Is(err, jobs.ErrJobClaimed):
		// Another path got there first.
	default:
		s.logger.Error("job execution failed", "job_id", jobID, "error", err)
	}
}
