package scheduler

import (
	"context"
	"errors"

	"reporthub/internal/eventbus"
	"reporthub/internal/jobstore"
	"reporthub/internal/tabular"
	"reporthub/internal/trigger"
	logx "reporthub/pkg/logx"
)

// The control surface. The HTTP layer (internal/server) is a thin adapter
// over these methods; anything else that wants to manage jobs programmatically
// uses them directly.

// CreateJob validates and persists a new job. The snapshot is the data the
// caller already previewed, so the first run never depends on a refresh.
func (s *Service) CreateJob(ctx context.Context, cfg jobstore.Config, sched trigger.Schedule, snapshot tabular.Frame) (jobstore.Job, error) {
	job, err := s.store.Create(ctx, cfg, sched, snapshot)
	if err != nil {
		return jobstore.Job{}, err
	}
	s.log.Info("job created",
		logx.String("job", job.ID),
		logx.String("name", cfg.Name),
		logx.String("schedule", sched.String()),
		logx.Time("next_run", job.NextRunAt))
	return job, nil
}

func (s *Service) GetJob(ctx context.Context, id string) (jobstore.Job, error) {
	return s.store.Get(ctx, id)
}

// ListJobs returns all jobs in creation order.
func (s *Service) ListJobs(ctx context.Context) ([]jobstore.Job, error) {
	return s.store.List(ctx)
}

// RunNow triggers a job immediately, bypassing the due-time check but
// respecting the same exclusivity guard as the loop. Returns
// ErrAlreadyRunning when a run is in flight, jobstore.ErrPaused for paused
// jobs, jobstore.ErrNotFound for stale ids.
func (s *Service) RunNow(ctx context.Context, id string) error {
	ok, err := s.store.MarkRunning(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		s.publish("job.skipped", JobEvent{JobID: id, At: s.now(), Error: "already_running"})
		return ErrAlreadyRunning
	}
	job, err := s.store.Get(ctx, id)
	if err != nil {
		// Deleted between the guard and the read leaves no flag to clear.
		// Any other read failure does: release the guard or the job stays
		// "running" until a restart sweep.
		if !errors.Is(err, jobstore.ErrNotFound) {
			if cerr := s.store.ClearRunning(ctx, id); cerr != nil {
				s.log.Error("releasing run guard failed", logx.String("job", id), logx.Err(cerr))
			}
		}
		return err
	}
	s.log.Info("manual run triggered", logx.String("job", id), logx.String("name", job.Config.Name))
	s.dispatch(job, true)
	return nil
}

func (s *Service) Pause(ctx context.Context, id string) error {
	if err := s.store.SetState(ctx, id, jobstore.StatePaused); err != nil {
		return err
	}
	s.log.Info("job paused", logx.String("job", id))
	return nil
}

func (s *Service) Resume(ctx context.Context, id string) error {
	if err := s.store.SetState(ctx, id, jobstore.StateActive); err != nil {
		return err
	}
	s.log.Info("job resumed", logx.String("job", id))
	return nil
}

// DeleteJob removes a job. Safe with a run in flight: the run completes and
// its result write becomes a no-op against the absent record.
func (s *Service) DeleteJob(ctx context.Context, id string) error {
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	s.log.Info("job deleted", logx.String("job", id))
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: "job.deleted", Time: s.now(), Data: JobEvent{JobID: id, At: s.now()}})
	}
	return nil
}
