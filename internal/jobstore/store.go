package jobstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"reporthub/internal/tabular"
	"reporthub/internal/trigger"
	logx "reporthub/pkg/logx"
)

var (
	// ErrNotFound means the job id is absent (never existed or deleted).
	ErrNotFound = errors.New("job not found")
	// ErrPaused is returned by MarkRunning for paused jobs.
	ErrPaused = errors.New("job is paused")
	// ErrInvalid wraps creation-time validation failures. Invalid jobs are
	// rejected before anything is persisted.
	ErrInvalid = errors.New("invalid job")
)

// Store is the persistence API shared by the scheduler loop and the control
// API. Per job id, MarkRunning / RecordResult / SetState / Delete are
// linearizable with respect to each other.
type Store interface {
	// Create validates the schedule, computes the initial next run, persists
	// the job with its initial snapshot, and returns the stored record.
	Create(ctx context.Context, cfg Config, sched trigger.Schedule, snapshot tabular.Frame) (Job, error)

	Get(ctx context.Context, id string) (Job, error)

	// List returns all jobs in creation order.
	List(ctx context.Context) ([]Job, error)

	// MarkRunning atomically flips the running flag. It reports false when the
	// job is already running; absent jobs return ErrNotFound and paused jobs
	// ErrPaused. This is the concurrency guard: exactly one caller wins.
	MarkRunning(ctx context.Context, id string) (bool, error)

	// RecordResult clears the running flag, records the outcome as the last
	// result, sets last_run_at from the outcome, and installs the freshly
	// computed next run. It no-ops silently when the job was deleted mid-run.
	RecordResult(ctx context.Context, id string, out Outcome, nextRun time.Time) error

	// ClearRunning drops the running flag without touching schedule or
	// results, for callers that won MarkRunning but never launched the run.
	// Silent no-op when the job is gone.
	ClearRunning(ctx context.Context, id string) error

	// UpdateSnapshot replaces the job's last-known data snapshot. Silent no-op
	// when the job is gone (a refresh can race with deletion).
	UpdateSnapshot(ctx context.Context, id string, snapshot tabular.Frame) error

	SetState(ctx context.Context, id string, state State) error

	Delete(ctx context.Context, id string) error

	Close() error
}

// Config-driven store construction, mirroring how the storage drivers are
// selected elsewhere in this codebase.
type Options struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Open initializes the configured store. An empty or "memory" driver returns
// the in-memory store; callers should treat that as single-process only.
func Open(opts Options, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	driver := strings.ToLower(strings.TrimSpace(opts.Driver))
	switch driver {
	case "", "memory":
		return NewMemory(), nil
	case "sqlite", "sqlite3":
		return openSQLite(opts, log)
	default:
		return nil, errors.New("unknown jobstore driver: " + driver)
	}
}

func validateCreate(cfg Config, sched trigger.Schedule) error {
	if strings.TrimSpace(cfg.Name) == "" {
		return fmt.Errorf("%w: name required", ErrInvalid)
	}
	if strings.TrimSpace(cfg.Recipient) == "" {
		return fmt.Errorf("%w: recipient required", ErrInvalid)
	}
	if err := sched.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}
