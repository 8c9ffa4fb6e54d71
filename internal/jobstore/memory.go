package jobstore

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"reporthub/internal/tabular"
	"reporthub/internal/trigger"
)

// Memory is the in-process store. It is the default for tests and for
// single-process deployments that accept losing job state on restart.
type Memory struct {
	mu    sync.Mutex
	jobs  map[string]*Job
	order []string

	// now is swappable for deterministic tests.
	now func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		jobs: map[string]*Job{},
		now:  time.Now,
	}
}

// SetClock overrides the store's clock. Test use only.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
}

func (m *Memory) Create(_ context.Context, cfg Config, sched trigger.Schedule, snapshot tabular.Frame) (Job, error) {
	if err := validateCreate(cfg, sched); err != nil {
		return Job{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	j := &Job{
		ID:        uuid.NewString(),
		Config:    cfg,
		Schedule:  sched,
		State:     StateActive,
		NextRunAt: trigger.NextRun(sched, now, time.Time{}),
		CreatedAt: now,
		snapshot:  snapshot,
	}
	m.jobs[j.ID] = j
	m.order = append(m.order, j.ID)
	return *j, nil
}

func (m *Memory) Get(_ context.Context, id string) (Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return Job{}, ErrNotFound
	}
	return *j, nil
}

func (m *Memory) List(_ context.Context) ([]Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Job, 0, len(m.order))
	for _, id := range m.order {
		if j, ok := m.jobs[id]; ok {
			out = append(out, *j)
		}
	}
	return out, nil
}

func (m *Memory) MarkRunning(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return false, ErrNotFound
	}
	if j.State == StatePaused {
		return false, ErrPaused
	}
	if j.Running {
		return false, nil
	}
	j.Running = true
	return true, nil
}

func (m *Memory) RecordResult(_ context.Context, id string, out Outcome, nextRun time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		// Deleted mid-run; the in-flight run's result write is a no-op.
		return nil
	}
	j.Running = false
	j.LastRunAt = out.StartedAt
	res := out
	j.LastRes = &res
	j.NextRunAt = nextRun
	return nil
}

func (m *Memory) ClearRunning(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j, ok := m.jobs[id]; ok {
		j.Running = false
	}
	return nil
}

func (m *Memory) UpdateSnapshot(_ context.Context, id string, snapshot tabular.Frame) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j, ok := m.jobs[id]; ok {
		j.snapshot = snapshot
	}
	return nil
}

func (m *Memory) SetState(_ context.Context, id string, state State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return ErrNotFound
	}
	j.State = state
	return nil
}

func (m *Memory) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[id]; !ok {
		return ErrNotFound
	}
	delete(m.jobs, id)
	for i, oid := range m.order {
		if oid == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}

func (m *Memory) Close() error { return nil }
