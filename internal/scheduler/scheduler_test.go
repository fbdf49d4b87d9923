package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/identrail/identrail/internal/jobs"
	"github.com/identrail/identrail/internal/store"
)

type stubStore struct {
	scheduled []store.ConnectorInstance
	instances map[uuid.UUID]store.ConnectorInstance
	pending   []store.Job
	created   []store.Job
}

func newStubStore() *stubStore {
	return &stubStore{instances: make(map[uuid.UUID]store.ConnectorInstance)}
}

func (s *stubStore) addScheduled(cronExpr string, enabled bool) store.ConnectorInstance {
	inst := store.ConnectorInstance{
		ID:             uuid.New(),
		Name:           "inst-" + cronExpr,
		CronExpression: cronExpr,
		IsEnabled:      enabled,
	}
	s.scheduled = append(s.scheduled, inst)
	s.instances[inst.ID] = inst
	return inst
}

func (s *stubStore) ListScheduledConnectorInstances(context.Context) ([]store.ConnectorInstance, error) {
	return s.scheduled, nil
}

func (s *stubStore) GetConnectorInstance(_ context.Context, id uuid.UUID) (store.ConnectorInstance, error) {
	inst, ok := s.instances[id]
	if !ok {
		return store.ConnectorInstance{}, store.ErrNotFound
	}
	return inst, nil
}

func (s *stubStore) CreateJob(_ context.Context, instanceID uuid.UUID, triggeredBy store.TriggerOrigin) (store.Job, error) {
	job := store.Job{
		ID:                  uuid.New(),
		ConnectorInstanceID: instanceID,
		Status:              store.JobStatusPending,
		TriggeredBy:         triggeredBy,
	}
	s.created = append(s.created, job)
	return job, nil
}

func (s *stubStore) ListPendingJobs(context.Context) ([]store.Job, error) {
	return s.pending, nil
}

type stubExecutor struct {
	executed []uuid.UUID
	err      error
}

func (e *stubExecutor) Execute(_ context.Context, jobID uuid.UUID) error {
	e.executed = append(e.executed, jobID)
	return e.err
}

func newScheduler(st *stubStore, exec *stubExecutor, at time.Time) *Scheduler {
	s := New(st, exec, 15*time.Second, time.Minute, nil)
	s.now = func() time.Time { return at }
	return s
}

func TestRefreshRegistersValidSchedules(t *testing.T) {
	st := newStubStore()
	st.addScheduled("*/15 * * * *", true)
	st.addScheduled("61 * * * *", true) // invalid, skipped

	s := newScheduler(st, &stubExecutor{}, time.Date(2026, 3, 9, 10, 7, 0, 0, time.UTC))
	s.refresh(context.Background())

	if len(s.entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(s.entries))
	}
}

func TestRefreshTracksEdits(t *testing.T) {
	st := newStubStore()
	inst := st.addScheduled("0 * * * *", true)

	now := time.Date(2026, 3, 9, 10, 7, 0, 0, time.UTC)
	s := newScheduler(st, &stubExecutor{}, now)
	s.refresh(context.Background())

	// Operator edits the expression.
	inst.CronExpression = "30 * * * *"
	st.scheduled[0] = inst
	st.instances[inst.ID] = inst
	s.refresh(context.Background())

	e := s.entries[inst.ID]
	if e == nil || e.expr != "30 * * * *" {
		t.Fatalf("entry not reparsed: %+v", e)
	}
	want := time.Date(2026, 3, 9, 10, 30, 0, 0, time.UTC)
	if !e.next.Equal(want) {
		t.Errorf("next = %s, want %s", e.next, want)
	}

	// Instance drops off the schedule entirely.
	st.scheduled = nil
	s.refresh(context.Background())
	if len(s.entries) != 0 {
		t.Errorf("entries not cleared: %d", len(s.entries))
	}
}

func TestDueEntryCreatesAndRunsScheduleJob(t *testing.T) {
	st := newStubStore()
	inst := st.addScheduled("*/15 * * * *", true)
	exec := &stubExecutor{}

	now := time.Date(2026, 3, 9, 10, 14, 0, 0, time.UTC)
	s := newScheduler(st, exec, now)
	s.refresh(context.Background())
	s.tick(context.Background())
	if len(st.created) != 0 {
		t.Fatal("fired before due time")
	}

	now = time.Date(2026, 3, 9, 10, 15, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	s.tick(context.Background())

	if len(st.created) != 1 {
		t.Fatalf("created %d jobs, want 1", len(st.created))
	}
	job := st.created[0]
	if job.TriggeredBy != store.TriggerSchedule {
		t.Errorf("triggered_by = %q", job.TriggeredBy)
	}
	if job.ConnectorInstanceID != inst.ID {
		t.Error("job created for wrong instance")
	}
	if len(exec.executed) != 1 || exec.executed[0] != job.ID {
		t.Errorf("executed = %v", exec.executed)
	}

	// Same tick again: next fire has advanced, nothing new.
	s.tick(context.Background())
	if len(st.created) != 1 {
		t.Errorf("entry fired twice in the same window")
	}
}

func TestDueEntryDisabledInstanceSkipped(t *testing.T) {
	st := newStubStore()
	inst := st.addScheduled("* * * * *", true)
	exec := &stubExecutor{}

	now := time.Date(2026, 3, 9, 10, 14, 0, 0, time.UTC)
	s := newScheduler(st, exec, now)
	s.refresh(context.Background())

	// Disabled between refresh and fire.
	inst.IsEnabled = false
	st.instances[inst.ID] = inst

	s.now = func() time.Time { return now.Add(time.Minute) }
	s.tick(context.Background())

	if len(st.created) != 0 {
		t.Error("job created for disabled instance")
	}
	if _, ok := s.entries[inst.ID]; !ok {
		t.Error("entry dropped; disabled instances keep their schedule")
	}
}

func TestDueEntryDeletedInstanceDropped(t *testing.T) {
	st := newStubStore()
	inst := st.addScheduled("* * * * *", true)

	now := time.Date(2026, 3, 9, 10, 14, 0, 0, time.UTC)
	s := newScheduler(st, &stubExecutor{}, now)
	s.refresh(context.Background())

	delete(st.instances, inst.ID)
	s.now = func() time.Time { return now.Add(time.Minute) }
	s.tick(context.Background())

	if _, ok := s.entries[inst.ID]; ok {
		t.Error("entry kept for deleted instance")
	}
}

func TestPollExecutesPendingJobs(t *testing.T) {
	st := newStubStore()
	st.pending = []store.Job{
		{ID: uuid.New(), Status: store.JobStatusPending},
		{ID: uuid.New(), Status: store.JobStatusPending},
	}
	exec := &stubExecutor{}

	s := newScheduler(st, exec, time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC))
	s.pollPendingJobs(context.Background())

	if len(exec.executed) != 2 {
		t.Fatalf("executed %d jobs, want 2", len(exec.executed))
	}
	if exec.executed[0] != st.pending[0].ID {
		t.Error("jobs not executed oldest first")
	}
}

func TestPollToleratesClaimedJobs(t *testing.T) {
	st := newStubStore()
	st.pending = []store.Job{{ID: uuid.New()}, {ID: uuid.New()}}
	exec := &stubExecutor{err: jobs.ErrJobClaimed}

	s := newScheduler(st, exec, time.Now())
	s.pollPendingJobs(context.Background())

	if len(exec.executed) != 2 {
		t.Errorf("claimed job stopped the poll: executed %d", len(exec.executed))
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	s := New(newStubStore(), &stubExecutor{}, time.Millisecond, time.Minute, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run returned %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}
