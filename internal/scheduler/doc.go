// Package scheduler owns the control loop and the job control surface.
//
// The loop wakes on a fixed tick, asks the job store for due active jobs,
// wins the per-job MarkRunning guard, and dispatches one pipeline run per due
// job without blocking the tick. Manual run-now requests go through the
// identical guard, so a manual trigger can never race a scheduled firing of
// the same job.
package scheduler
