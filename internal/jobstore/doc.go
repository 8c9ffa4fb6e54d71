// Package jobstore owns the durable representation of report jobs.
//
// It currently supports:
//   - "memory": in-process map, single-process only (state dies with the process)
//   - "sqlite": SQLite database file, durable across restarts
//
// All mutations funnel through the Store's atomic operations so the
// at-most-one-concurrent-run invariant holds for the scheduler loop and the
// control API at the same time.
package jobstore
