package jobstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"reporthub/internal/tabular"
	"reporthub/internal/trigger"
	logx "reporthub/pkg/logx"
)

func testConfig(name string) Config {
	return Config{
		Name:        name,
		Recipient:   "ops@example.com",
		Language:    "en",
		AutoRefresh: true,
		Source:      SourceRef{SheetURL: "https://docs.google.com/spreadsheets/d/abc123/edit"},
	}
}

func testFrame() tabular.Frame {
	return tabular.New([][]string{{"A", "B"}, {"1", "x"}}, time.Now())
}

// runStoreSuite exercises the Store contract against any driver.
func runStoreSuite(t *testing.T, open func(t *testing.T) Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("create validates schedule", func(t *testing.T) {
		s := open(t)
		if _, err := s.Create(ctx, testConfig("bad"), trigger.Interval(0), testFrame()); err == nil {
			t.Fatal("expected validation error for zero interval")
		}
		if _, err := s.Create(ctx, Config{}, trigger.Interval(time.Minute), testFrame()); err == nil {
			t.Fatal("expected validation error for empty config")
		}
	})

	t.Run("create computes initial next run", func(t *testing.T) {
		s := open(t)
		j, err := s.Create(ctx, testConfig("j1"), trigger.Interval(5*time.Minute), testFrame())
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		if j.ID == "" {
			t.Fatal("missing id")
		}
		// Interval jobs fire immediately on creation.
		if j.NextRunAt.After(time.Now().Add(time.Second)) {
			t.Fatalf("NextRunAt = %v, expected ~now", j.NextRunAt)
		}
		if j.State != StateActive {
			t.Fatalf("State = %q", j.State)
		}
	})

	t.Run("list keeps creation order", func(t *testing.T) {
		s := open(t)
		var ids []string
		for _, name := range []string{"a", "b", "c"} {
			j, err := s.Create(ctx, testConfig(name), trigger.Daily(9, 0), testFrame())
			if err != nil {
				t.Fatalf("Create: %v", err)
			}
			ids = append(ids, j.ID)
		}
		jobs, err := s.List(ctx)
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if len(jobs) != 3 {
			t.Fatalf("len = %d", len(jobs))
		}
		for i := range ids {
			if jobs[i].ID != ids[i] {
				t.Fatalf("order broken at %d: %s != %s", i, jobs[i].ID, ids[i])
			}
		}
	})

	t.Run("mark running is exclusive", func(t *testing.T) {
		s := open(t)
		j, _ := s.Create(ctx, testConfig("excl"), trigger.Interval(time.Minute), testFrame())

		ok, err := s.MarkRunning(ctx, j.ID)
		if err != nil || !ok {
			t.Fatalf("first MarkRunning = %v, %v", ok, err)
		}
		ok, err = s.MarkRunning(ctx, j.ID)
		if err != nil || ok {
			t.Fatalf("second MarkRunning = %v, %v; want false, nil", ok, err)
		}

		if _, err := s.MarkRunning(ctx, "no-such-id"); err != ErrNotFound {
			t.Fatalf("absent id err = %v, want ErrNotFound", err)
		}
	})

	t.Run("mark running rejects paused", func(t *testing.T) {
		s := open(t)
		j, _ := s.Create(ctx, testConfig("paused"), trigger.Interval(time.Minute), testFrame())
		if err := s.SetState(ctx, j.ID, StatePaused); err != nil {
			t.Fatalf("SetState: %v", err)
		}
		if _, err := s.MarkRunning(ctx, j.ID); err != ErrPaused {
			t.Fatalf("err = %v, want ErrPaused", err)
		}
		if err := s.SetState(ctx, j.ID, StateActive); err != nil {
			t.Fatalf("SetState: %v", err)
		}
		if ok, err := s.MarkRunning(ctx, j.ID); err != nil || !ok {
			t.Fatalf("MarkRunning after resume = %v, %v", ok, err)
		}
	})

	t.Run("clear running releases the guard untouched", func(t *testing.T) {
		s := open(t)
		j, _ := s.Create(ctx, testConfig("clr"), trigger.Interval(time.Minute), testFrame())
		if ok, _ := s.MarkRunning(ctx, j.ID); !ok {
			t.Fatal("MarkRunning failed")
		}
		before, err := s.Get(ctx, j.ID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if err := s.ClearRunning(ctx, j.ID); err != nil {
			t.Fatalf("ClearRunning: %v", err)
		}
		got, err := s.Get(ctx, j.ID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.Running {
			t.Fatal("running flag still set")
		}
		if !got.NextRunAt.Equal(before.NextRunAt) || got.LastRes != nil {
			t.Fatal("ClearRunning touched schedule or results")
		}
		if ok, err := s.MarkRunning(ctx, j.ID); err != nil || !ok {
			t.Fatalf("MarkRunning after clear = %v, %v", ok, err)
		}
		if err := s.ClearRunning(ctx, "no-such-id"); err != nil {
			t.Fatalf("ClearRunning on absent id = %v, want nil", err)
		}
	})

	t.Run("record result clears running and installs next run", func(t *testing.T) {
		s := open(t)
		j, _ := s.Create(ctx, testConfig("rr"), trigger.Interval(time.Minute), testFrame())
		if ok, _ := s.MarkRunning(ctx, j.ID); !ok {
			t.Fatal("MarkRunning failed")
		}

		started := time.Now().Truncate(time.Millisecond)
		next := started.Add(time.Minute)
		out := Outcome{Success: true, StartedAt: started, Duration: 2 * time.Second}
		if err := s.RecordResult(ctx, j.ID, out, next); err != nil {
			t.Fatalf("RecordResult: %v", err)
		}

		got, err := s.Get(ctx, j.ID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.Running {
			t.Fatal("running flag not cleared")
		}
		if !got.LastRunAt.Equal(started) {
			t.Fatalf("LastRunAt = %v, want %v", got.LastRunAt, started)
		}
		if !got.NextRunAt.Equal(next) {
			t.Fatalf("NextRunAt = %v, want %v", got.NextRunAt, next)
		}
		if got.LastRes == nil || !got.LastRes.Success {
			t.Fatalf("LastRes = %+v", got.LastRes)
		}
	})

	t.Run("record result after delete is a no-op", func(t *testing.T) {
		s := open(t)
		j, _ := s.Create(ctx, testConfig("del"), trigger.Interval(time.Minute), testFrame())
		if ok, _ := s.MarkRunning(ctx, j.ID); !ok {
			t.Fatal("MarkRunning failed")
		}
		if err := s.Delete(ctx, j.ID); err != nil {
			t.Fatalf("Delete: %v", err)
		}
		out := Outcome{Success: true, StartedAt: time.Now()}
		if err := s.RecordResult(ctx, j.ID, out, time.Now().Add(time.Minute)); err != nil {
			t.Fatalf("RecordResult after delete: %v", err)
		}
		if _, err := s.Get(ctx, j.ID); err != ErrNotFound {
			t.Fatalf("Get after delete = %v, want ErrNotFound", err)
		}
	})

	t.Run("snapshot update", func(t *testing.T) {
		s := open(t)
		j, _ := s.Create(ctx, testConfig("snap"), trigger.Daily(9, 0), testFrame())
		fresh := tabular.New([][]string{{"A"}, {"42"}, {"43"}}, time.Now())
		if err := s.UpdateSnapshot(ctx, j.ID, fresh); err != nil {
			t.Fatalf("UpdateSnapshot: %v", err)
		}
		got, _ := s.Get(ctx, j.ID)
		if len(got.Snapshot().Rows) != 2 {
			t.Fatalf("snapshot rows = %d, want 2", len(got.Snapshot().Rows))
		}
		// Updating a deleted job's snapshot must not error.
		if err := s.UpdateSnapshot(ctx, "gone", fresh); err != nil {
			t.Fatalf("UpdateSnapshot on absent job: %v", err)
		}
	})

	t.Run("delete absent", func(t *testing.T) {
		s := open(t)
		if err := s.Delete(ctx, "nope"); err != ErrNotFound {
			t.Fatalf("err = %v, want ErrNotFound", err)
		}
	})
}

func TestMemoryStore(t *testing.T) {
	t.Parallel()
	runStoreSuite(t, func(t *testing.T) Store { return NewMemory() })
}

func TestSQLiteStore(t *testing.T) {
	t.Parallel()
	runStoreSuite(t, func(t *testing.T) Store {
		s, err := Open(Options{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "jobs.db")}, logx.Nop())
		if err != nil {
			t.Fatalf("open sqlite store: %v", err)
		}
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestSQLiteSurvivesReopen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "jobs.db")

	s, err := Open(Options{Driver: "sqlite", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	j, err := s.Create(ctx, testConfig("persist"), trigger.Weekly(time.Monday, 9, 0), testFrame())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	// Simulate dying mid-run: running flag left set.
	if ok, _ := s.MarkRunning(ctx, j.ID); !ok {
		t.Fatal("MarkRunning failed")
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s2, err := Open(Options{Driver: "sqlite", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	got, err := s2.Get(ctx, j.ID)
	if err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
	if got.Schedule != j.Schedule {
		t.Fatalf("schedule = %+v, want %+v", got.Schedule, j.Schedule)
	}
	if got.Running {
		t.Fatal("stale running flag not cleared on reopen")
	}
	if len(got.Snapshot().Rows) != 1 {
		t.Fatalf("snapshot rows = %d", len(got.Snapshot().Rows))
	}
}

func TestMemoryMarkRunningConcurrent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemory()
	j, _ := s.Create(ctx, testConfig("race"), trigger.Interval(time.Minute), testFrame())

	const n = 32
	wins := make(chan bool, n)
	for i := 0; i < n; i++ {
		go func() {
			ok, err := s.MarkRunning(ctx, j.ID)
			wins <- ok && err == nil
		}()
	}
	won := 0
	for i := 0; i < n; i++ {
		if <-wins {
			won++
		}
	}
	if won != 1 {
		t.Fatalf("winners = %d, want exactly 1", won)
	}
}
