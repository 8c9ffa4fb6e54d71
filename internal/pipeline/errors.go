package pipeline

import "errors"

// Fetch failure classification. Both are recoverable at the refresh stage
// (the run falls back to the last-known snapshot), but operators care which
// one happened: unreachable and unauthorized have very different fixes.
var (
	ErrConnectivity = errors.New("data source unreachable")
	ErrPermission   = errors.New("data source permission denied")
)
