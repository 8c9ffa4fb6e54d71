package server

import (
	"time"

	"reporthub/internal/jobstore"
	"reporthub/internal/tabular"
	"reporthub/internal/trigger"
)

type createJobRequest struct {
	Name           string             `json:"name"`
	Recipient      string             `json:"recipient"`
	Language       string             `json:"language,omitempty"`
	IncludeCharts  bool               `json:"include_charts,omitempty"`
	IncludeRawData bool               `json:"include_raw_data,omitempty"`
	AutoRefresh    bool               `json:"auto_refresh,omitempty"`
	Source         jobstore.SourceRef `json:"source"`
	Schedule       trigger.Schedule   `json:"schedule"`

	// Preview carries the rows the caller already fetched while setting the
	// job up. When absent the server takes the initial snapshot itself.
	Preview [][]string `json:"preview,omitempty"`
}

func (r createJobRequest) config() jobstore.Config {
	lang := r.Language
	if lang == "" {
		lang = "en"
	}
	return jobstore.Config{
		Name:           r.Name,
		Recipient:      r.Recipient,
		Language:       lang,
		IncludeCharts:  r.IncludeCharts,
		IncludeRawData: r.IncludeRawData,
		AutoRefresh:    r.AutoRefresh,
		Source:         r.Source,
	}
}

// jobView is the API shape of a job. The raw snapshot stays server-side;
// clients get its profile.
type jobView struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	State      jobstore.State    `json:"state"`
	Recipient  string            `json:"recipient"`
	Language   string            `json:"language"`
	Schedule   trigger.Schedule  `json:"schedule"`
	Running    bool              `json:"running"`
	LastRunAt  time.Time         `json:"last_run_at,omitzero"`
	NextRunAt  time.Time         `json:"next_run_at"`
	LastResult *jobstore.Outcome `json:"last_result,omitempty"`
	Snapshot   snapshotView      `json:"snapshot"`
}

type snapshotView struct {
	tabular.Stats
	FetchedAt time.Time `json:"fetched_at,omitzero"`
}

func viewOf(j jobstore.Job) jobView {
	snap := j.Snapshot()
	return jobView{
		ID:         j.ID,
		Name:       j.Config.Name,
		State:      j.State,
		Recipient:  j.Config.Recipient,
		Language:   j.Config.Language,
		Schedule:   j.Schedule,
		Running:    j.Running,
		LastRunAt:  j.LastRunAt,
		NextRunAt:  j.NextRunAt,
		LastResult: j.LastRes,
		Snapshot:   snapshotView{Stats: snap.Stats(), FetchedAt: snap.FetchedAt},
	}
}
