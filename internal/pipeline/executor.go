// Package pipeline drives the four report stages for one job run:
// refresh data → analyze → render → deliver.
//
// The executor is single-attempt orchestration plus accurate failure
// attribution. It never retries; retry policy belongs to the collaborator
// being called. It is never invoked concurrently for the same job id; the
// job store's MarkRunning guard enforces that by construction.
package pipeline

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"reporthub/internal/jobstore"
	"reporthub/internal/tabular"
	logx "reporthub/pkg/logx"
)

type Config struct {
	// StageTimeout bounds each collaborator call. 0 applies the default.
	StageTimeout time.Duration

	// MaxRunDuration is the hard upper bound on one whole run. A run that
	// exceeds it resolves to a timeout failure even if a collaborator ignores
	// its context, so the job's running flag always clears.
	MaxRunDuration time.Duration
}

func (c Config) withDefaults() Config {
	if c.StageTimeout <= 0 {
		c.StageTimeout = time.Minute
	}
	if c.MaxRunDuration <= 0 {
		c.MaxRunDuration = 5 * time.Minute
	}
	return c
}

type Executor struct {
	cfg     Config
	fetch   Fetcher
	analyze Analyzer
	render  Renderer
	deliver Deliverer
	store   jobstore.Store
	log     logx.Logger
}

func NewExecutor(cfg Config, fetch Fetcher, analyze Analyzer, render Renderer, deliver Deliverer, store jobstore.Store, log logx.Logger) *Executor {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Executor{
		cfg:     cfg.withDefaults(),
		fetch:   fetch,
		analyze: analyze,
		render:  render,
		deliver: deliver,
		store:   store,
		log:     log,
	}
}

// Run executes one pipeline pass for the job and returns the outcome. It
// never panics and never blocks past MaxRunDuration: a stuck collaborator is
// abandoned and the run resolves to a timeout failure.
func (e *Executor) Run(ctx context.Context, job jobstore.Job) jobstore.Outcome {
	start := time.Now()

	runCtx, cancel := context.WithTimeout(ctx, e.cfg.MaxRunDuration)
	defer cancel()

	done := make(chan jobstore.Outcome, 1)
	go func() {
		// stage tracks where the run is, so a collaborator panic is
		// attributed to the stage that raised it.
		stage := jobstore.StageRefresh
		defer func() {
			if r := recover(); r != nil {
				e.log.Error("pipeline panic", logx.String("job", job.ID), logx.String("stage", string(stage)), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
				done <- jobstore.Outcome{
					Stage:     stage,
					Reason:    fmt.Sprintf("panic: %v", r),
					StartedAt: start,
					Duration:  time.Since(start),
				}
			}
		}()
		done <- e.runStages(runCtx, job, start, &stage)
	}()

	select {
	case out := <-done:
		return out
	case <-runCtx.Done():
		// The stage goroutine may still be blocked inside a collaborator; we
		// abandon it so the job's running flag can clear on schedule. A
		// cancelled parent is shutdown, not a hang, and reads differently.
		if ctx.Err() != nil {
			e.log.Info("run cancelled", logx.String("job", job.ID))
			return jobstore.Outcome{
				Stage:     jobstore.StageCancelled,
				Reason:    "run cancelled before completion",
				StartedAt: start,
				Duration:  time.Since(start),
			}
		}
		e.log.Warn("run exceeded hard deadline", logx.String("job", job.ID), logx.Duration("max", e.cfg.MaxRunDuration))
		return jobstore.Outcome{
			Stage:     jobstore.StageTimeout,
			Reason:    fmt.Sprintf("run exceeded %s", e.cfg.MaxRunDuration),
			StartedAt: start,
			Duration:  time.Since(start),
		}
	}
}

func (e *Executor) runStages(ctx context.Context, job jobstore.Job, start time.Time, stage *jobstore.Stage) jobstore.Outcome {
	log := e.log.With(logx.String("job", job.ID), logx.String("name", job.Config.Name))

	// Stage 1: refresh. A refresh failure degrades to the last-known snapshot
	// instead of aborting: stale-but-valid data still makes a useful report.
	frame := job.Snapshot()
	refreshWarning := ""
	if job.Config.AutoRefresh {
		fresh, err := e.callFetch(ctx, job.Config.Source)
		switch {
		case err == nil:
			frame = fresh
			if e.store != nil {
				if uerr := e.store.UpdateSnapshot(ctx, job.ID, fresh); uerr != nil {
					log.Warn("snapshot update failed", logx.Err(uerr))
				}
			}
		default:
			refreshWarning = err.Error()
			log.Warn("refresh failed, using last snapshot", logx.Err(err), logx.Time("snapshot_age", frame.FetchedAt))
		}
	}

	// Stage 2: analyze. No insights, no report.
	*stage = jobstore.StageAnalyze
	insights, err := e.callAnalyze(ctx, frame, job.Config.Language)
	if err != nil {
		return failed(jobstore.StageAnalyze, err, refreshWarning, start)
	}

	// Stage 3: render.
	*stage = jobstore.StageRender
	artifact, err := e.callRender(ctx, frame, insights, RenderOptions{
		ReportName:     job.Config.Name,
		Language:       job.Config.Language,
		IncludeCharts:  job.Config.IncludeCharts,
		IncludeRawData: job.Config.IncludeRawData,
	})
	if err != nil {
		return failed(jobstore.StageRender, err, refreshWarning, start)
	}

	// Stage 4: deliver. Distinguished from render/analyze failures so
	// operators can tell "nothing to send" from "couldn't send it".
	*stage = jobstore.StageDeliver
	if err := e.callDeliver(ctx, job.Config.Recipient, artifact); err != nil {
		return failed(jobstore.StageDeliver, err, refreshWarning, start)
	}

	log.Debug("pipeline completed", logx.Duration("dur", time.Since(start)), logx.Bool("degraded", refreshWarning != ""))
	return jobstore.Outcome{
		Success:        true,
		RefreshWarning: refreshWarning,
		StartedAt:      start,
		Duration:       time.Since(start),
	}
}

func failed(stage jobstore.Stage, err error, refreshWarning string, start time.Time) jobstore.Outcome {
	return jobstore.Outcome{
		Stage:          stage,
		Reason:         err.Error(),
		RefreshWarning: refreshWarning,
		StartedAt:      start,
		Duration:       time.Since(start),
	}
}

func (e *Executor) callFetch(ctx context.Context, src jobstore.SourceRef) (tabular.Frame, error) {
	sctx, cancel := context.WithTimeout(ctx, e.cfg.StageTimeout)
	defer cancel()
	return e.fetch.Fetch(sctx, src)
}

func (e *Executor) callAnalyze(ctx context.Context, frame tabular.Frame, language string) (string, error) {
	sctx, cancel := context.WithTimeout(ctx, e.cfg.StageTimeout)
	defer cancel()
	return e.analyze.Analyze(sctx, frame, language)
}

func (e *Executor) callRender(ctx context.Context, frame tabular.Frame, insights string, opts RenderOptions) (Artifact, error) {
	sctx, cancel := context.WithTimeout(ctx, e.cfg.StageTimeout)
	defer cancel()
	return e.render.Render(sctx, frame, insights, opts)
}

func (e *Executor) callDeliver(ctx context.Context, recipient string, a Artifact) error {
	sctx, cancel := context.WithTimeout(ctx, e.cfg.StageTimeout)
	defer cancel()
	return e.deliver.Deliver(sctx, recipient, a)
}
