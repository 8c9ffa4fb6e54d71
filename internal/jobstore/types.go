package jobstore

import (
	"time"

	"reporthub/internal/tabular"
	"reporthub/internal/trigger"
)

// State is the user-controlled job lifecycle state.
type State string

const (
	StateActive State = "active"
	StatePaused State = "paused"
)

// SourceRef locates the tabular data source for a job.
//
// The scheduler core treats this as opaque and hands it to the fetch
// collaborator; CredentialRef names a credential held by the credential
// store, never the secret itself.
type SourceRef struct {
	SheetURL      string `json:"sheet_url"`
	Worksheet     string `json:"worksheet,omitempty"`
	CredentialRef string `json:"credential_ref,omitempty"`
}

// Config is everything the pipeline needs to produce and deliver one report.
type Config struct {
	Name           string    `json:"name"`
	Recipient      string    `json:"recipient"`
	Language       string    `json:"language"`
	IncludeCharts  bool      `json:"include_charts"`
	IncludeRawData bool      `json:"include_raw_data"`
	AutoRefresh    bool      `json:"auto_refresh"`
	Source         SourceRef `json:"source"`
}

// Stage names the pipeline stage an outcome refers to.
type Stage string

const (
	StageRefresh   Stage = "refresh"
	StageAnalyze   Stage = "analyze"
	StageRender    Stage = "render"
	StageDeliver   Stage = "deliver"
	StageTimeout   Stage = "timeout"
	StageCancelled Stage = "cancelled"
)

// Outcome is the recorded result of one pipeline execution.
//
// Stage and Reason are set only for failures. RefreshWarning is set when the
// refresh stage failed but the run continued on the previous snapshot;
// degraded, not failed.
type Outcome struct {
	Success        bool          `json:"success"`
	Stage          Stage         `json:"stage,omitempty"`
	Reason         string        `json:"reason,omitempty"`
	RefreshWarning string        `json:"refresh_warning,omitempty"`
	StartedAt      time.Time     `json:"started_at"`
	Duration       time.Duration `json:"duration"`
}

// Job is the unit of recurring work: configuration + schedule + run-state.
//
// LastRunAt is zero when the job has never run. NextRunAt is always set while
// the job exists; for paused jobs the loop ignores it but it is preserved so
// resuming restores a sane schedule.
type Job struct {
	ID        string           `json:"id"`
	Config    Config           `json:"config"`
	Schedule  trigger.Schedule `json:"schedule"`
	State     State            `json:"state"`
	Running   bool             `json:"running"`
	LastRunAt time.Time        `json:"last_run_at,omitzero"`
	NextRunAt time.Time        `json:"next_run_at"`
	LastRes   *Outcome         `json:"last_result,omitempty"`
	CreatedAt time.Time        `json:"created_at"`

	snapshot tabular.Frame
}

// Snapshot returns the job's last-known data snapshot.
func (j Job) Snapshot() tabular.Frame { return j.snapshot }
