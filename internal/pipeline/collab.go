package pipeline

import (
	"context"

	"reporthub/internal/jobstore"
	"reporthub/internal/tabular"
)

// The executor treats the four stages as opaque capability calls. Concrete
// transports (spreadsheet API, AI completion endpoint, mail API) live behind
// these interfaces; the bundled HTTP clients are default implementations,
// not the contract.

// Fetcher re-fetches the tabular snapshot for a job's data source.
type Fetcher interface {
	Fetch(ctx context.Context, src jobstore.SourceRef) (tabular.Frame, error)
}

// Analyzer produces insight text for a snapshot in the requested language.
type Analyzer interface {
	Analyze(ctx context.Context, frame tabular.Frame, language string) (string, error)
}

// RenderOptions are the per-job output switches.
type RenderOptions struct {
	ReportName     string
	Language       string
	IncludeCharts  bool
	IncludeRawData bool
}

// Artifact is one rendered report, ready for delivery.
type Artifact struct {
	Subject string
	HTML    string
	Text    string

	// Optional binary attachment (e.g. a PDF export).
	Attachment     []byte
	AttachmentName string
	AttachmentMIME string
}

// Renderer builds the deliverable from data and insights.
type Renderer interface {
	Render(ctx context.Context, frame tabular.Frame, insights string, opts RenderOptions) (Artifact, error)
}

// Deliverer hands the artifact to the configured recipient.
type Deliverer interface {
	Deliver(ctx context.Context, recipient string, a Artifact) error
}
