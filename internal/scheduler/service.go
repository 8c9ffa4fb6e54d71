package scheduler

import (
	"context"
	"time"

	"reporthub/internal/jobstore"
	"reporthub/internal/trigger"
	logx "reporthub/pkg/logx"
)

// Start begins the tick loop. Idempotent; a second Start while running is a
// no-op.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.stopCh != nil {
		s.mu.Unlock()
		return
	}
	s.runCtx = ctx
	s.stopCh = make(chan struct{})
	s.loopDone = make(chan struct{})
	stopCh := s.stopCh
	loopDone := s.loopDone
	tick := s.cfg.Tick
	s.mu.Unlock()

	go func() {
		defer close(loopDone)
		t := time.NewTicker(tick)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stopCh:
				return
			case <-t.C:
				s.tick(ctx, stopCh)
			}
		}
	}()

	s.log.Info("scheduler started", logx.Duration("tick", tick))
}

// Stop stops the tick loop and waits for in-flight runs, bounded by ctx.
// Runs that outlive ctx are abandoned; their record_result writes still land
// because the store outlives the scheduler.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	start := time.Now()

	s.mu.Lock()
	stopCh := s.stopCh
	loopDone := s.loopDone
	s.stopCh = nil
	s.loopDone = nil
	s.mu.Unlock()

	if stopCh == nil {
		return
	}
	close(stopCh)
	<-loopDone

	done := make(chan struct{})
	go func() {
		s.runs.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.log.Info("scheduler stopped", logx.Duration("took", time.Since(start)))
	case <-ctx.Done():
		s.log.Warn("scheduler stop timed out waiting for runs", logx.Any("err", ctx.Err()))
	}
}

// tick dispatches every due job that wins the running guard. It never blocks
// on pipeline work.
func (s *Service) tick(ctx context.Context, stopCh <-chan struct{}) {
	now := s.now()
	jobs, err := s.store.List(ctx)
	if err != nil {
		s.log.Error("tick: listing jobs failed", logx.Err(err))
		return
	}

	for _, job := range jobs {
		select {
		case <-stopCh:
			return
		default:
		}

		if job.State != jobstore.StateActive || job.NextRunAt.After(now) {
			continue
		}
		ok, err := s.store.MarkRunning(ctx, job.ID)
		if err != nil || !ok {
			// Already running, deleted, or paused since we listed; all mean
			// "not ours this tick".
			continue
		}
		s.dispatch(job, false)
	}
}

// dispatch launches one pipeline run. Caller must have won MarkRunning.
func (s *Service) dispatch(job jobstore.Job, manual bool) {
	s.mu.Lock()
	runCtx := s.runCtx
	s.mu.Unlock()

	s.runs.Add(1)
	go func() {
		defer s.runs.Done()
		s.runOne(runCtx, job, manual)
	}()
}

func (s *Service) runOne(ctx context.Context, job jobstore.Job, manual bool) {
	s.publish("job.started", JobEvent{JobID: job.ID, Name: job.Config.Name, At: s.now()})
	s.log.Debug("run started", logx.String("job", job.ID), logx.String("name", job.Config.Name), logx.Bool("manual", manual))

	out := s.runner.Run(ctx, job)

	// Reschedule from this run: completion time is "now", this run's start is
	// the last run. Failures reschedule exactly like successes, so a failing
	// job keeps retrying on its normal cadence, never silently auto-paused.
	completion := s.now()
	next := trigger.NextRun(job.Schedule, completion, out.StartedAt)
	if err := s.store.RecordResult(ctx, job.ID, out, next); err != nil {
		s.log.Error("record result failed", logx.String("job", job.ID), logx.Err(err))
	}

	rec := RunRecord{
		JobID:     job.ID,
		Name:      job.Config.Name,
		StartedAt: out.StartedAt,
		Duration:  out.Duration,
		Success:   out.Success,
		Stage:     out.Stage,
		Reason:    out.Reason,
		Manual:    manual,
	}
	s.appendHistory(rec)

	if out.Success {
		s.log.Info("run completed",
			logx.String("job", job.ID),
			logx.String("name", job.Config.Name),
			logx.Duration("dur", out.Duration),
			logx.Time("next_run", next),
			logx.Bool("degraded", out.RefreshWarning != ""))
		s.publish("job.finished", JobEvent{JobID: job.ID, Name: job.Config.Name, At: completion, Duration: out.Duration})
	} else {
		s.log.Warn("run failed",
			logx.String("job", job.ID),
			logx.String("name", job.Config.Name),
			logx.String("stage", string(out.Stage)),
			logx.String("reason", out.Reason),
			logx.Time("next_run", next))
		s.publish("job.failed", JobEvent{JobID: job.ID, Name: job.Config.Name, At: completion, Duration: out.Duration, Stage: out.Stage, Error: out.Reason})
	}
}
