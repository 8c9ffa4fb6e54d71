package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"reporthub/internal/jobstore"
	"reporthub/internal/tabular"
	"reporthub/internal/trigger"
	logx "reporthub/pkg/logx"
)

// blockingRunner lets a test hold a run open and observe run counts.
type blockingRunner struct {
	release chan struct{}
	started chan string

	runs atomic.Int32
	fail error
}

func newBlockingRunner() *blockingRunner {
	return &blockingRunner{
		release: make(chan struct{}),
		started: make(chan string, 64),
	}
}

func (r *blockingRunner) Run(_ context.Context, job jobstore.Job) jobstore.Outcome {
	r.runs.Add(1)
	start := time.Now()
	select {
	case r.started <- job.ID:
	default:
	}
	<-r.release
	out := jobstore.Outcome{Success: r.fail == nil, StartedAt: start, Duration: time.Since(start)}
	if r.fail != nil {
		out.Stage = jobstore.StageAnalyze
		out.Reason = r.fail.Error()
	}
	return out
}

type instantRunner struct {
	runs atomic.Int32
	fail error
}

func (r *instantRunner) Run(_ context.Context, _ jobstore.Job) jobstore.Outcome {
	r.runs.Add(1)
	out := jobstore.Outcome{Success: r.fail == nil, StartedAt: time.Now()}
	if r.fail != nil {
		out.Stage = jobstore.StageDeliver
		out.Reason = r.fail.Error()
	}
	return out
}

func newTestService(t *testing.T, store jobstore.Store, runner Runner) *Service {
	t.Helper()
	s := New(Config{Tick: 10 * time.Millisecond}, store, runner, logx.Nop(), nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s
}

func createJob(t *testing.T, s *Service, sched trigger.Schedule) jobstore.Job {
	t.Helper()
	cfg := jobstore.Config{
		Name:      "test report",
		Recipient: "ops@example.com",
		Language:  "en",
		Source:    jobstore.SourceRef{SheetURL: "https://docs.google.com/spreadsheets/d/x/edit"},
	}
	snap := tabular.New([][]string{{"A"}, {"1"}}, time.Now())
	job, err := s.CreateJob(context.Background(), cfg, sched, snap)
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	return job
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestLoopFiresDueJobAndReschedules(t *testing.T) {
	t.Parallel()
	store := jobstore.NewMemory()
	runner := &instantRunner{}
	s := newTestService(t, store, runner)
	job := createJob(t, s, trigger.Interval(time.Hour))

	s.Start(context.Background())
	// Interval jobs are due immediately on creation.
	waitFor(t, 2*time.Second, func() bool { return runner.runs.Load() >= 1 })

	waitFor(t, 2*time.Second, func() bool {
		got, err := store.Get(context.Background(), job.ID)
		return err == nil && !got.Running && !got.LastRunAt.IsZero()
	})

	got, _ := store.Get(context.Background(), job.ID)
	if got.LastRes == nil || !got.LastRes.Success {
		t.Fatalf("LastRes = %+v", got.LastRes)
	}
	// Rescheduled one interval ahead, not immediately.
	if until := time.Until(got.NextRunAt); until < 50*time.Minute {
		t.Fatalf("NextRunAt only %s away, want ~1h", until)
	}
	// And exactly one run fired.
	time.Sleep(50 * time.Millisecond)
	if n := runner.runs.Load(); n != 1 {
		t.Fatalf("runs = %d, want 1", n)
	}
}

func TestExclusivityUnderConcurrentRunNowAndTick(t *testing.T) {
	t.Parallel()
	store := jobstore.NewMemory()
	runner := newBlockingRunner()
	s := newTestService(t, store, runner)
	job := createJob(t, s, trigger.Interval(time.Second))

	s.Start(context.Background())

	// Hammer RunNow while the loop also considers the due job. Exactly one
	// execution may be in flight at any instant.
	var already atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.RunNow(context.Background(), job.ID); errors.Is(err, ErrAlreadyRunning) {
				already.Add(1)
			}
		}()
	}
	wg.Wait()

	// Give the loop a few ticks to also try.
	time.Sleep(50 * time.Millisecond)
	if n := runner.runs.Load(); n != 1 {
		t.Fatalf("in-flight runs started = %d, want exactly 1", n)
	}
	// Either the loop or one manual call won; everyone else was refused.
	if n := already.Load(); n < 15 {
		t.Fatalf("AlreadyRunning observed %d times, want >= 15", n)
	}

	close(runner.release)
	waitFor(t, 2*time.Second, func() bool {
		got, err := store.Get(context.Background(), job.ID)
		return err == nil && !got.Running
	})
}

func TestPauseStopsSelectionResumeRestores(t *testing.T) {
	t.Parallel()
	store := jobstore.NewMemory()
	runner := &instantRunner{}
	s := newTestService(t, store, runner)
	job := createJob(t, s, trigger.Interval(time.Second))

	if err := s.Pause(context.Background(), job.ID); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	s.Start(context.Background())

	// next_run_at is in the past the whole time, but the paused job must not fire.
	time.Sleep(100 * time.Millisecond)
	if n := runner.runs.Load(); n != 0 {
		t.Fatalf("paused job ran %d times", n)
	}

	// RunNow on a paused job is rejected.
	if err := s.RunNow(context.Background(), job.ID); !errors.Is(err, jobstore.ErrPaused) {
		t.Fatalf("RunNow on paused = %v, want ErrPaused", err)
	}

	if err := s.Resume(context.Background(), job.ID); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool { return runner.runs.Load() >= 1 })
}

func TestDeleteWithRunInFlight(t *testing.T) {
	t.Parallel()
	store := jobstore.NewMemory()
	runner := newBlockingRunner()
	s := newTestService(t, store, runner)
	job := createJob(t, s, trigger.Interval(time.Second))

	s.Start(context.Background())
	<-runner.started // a run is now in flight

	if err := s.DeleteJob(context.Background(), job.ID); err != nil {
		t.Fatalf("DeleteJob: %v", err)
	}
	jobs, _ := s.ListJobs(context.Background())
	if len(jobs) != 0 {
		t.Fatalf("job still listed after delete: %d", len(jobs))
	}

	// The in-flight run completes without error; its result write no-ops.
	close(runner.release)
	time.Sleep(50 * time.Millisecond)
	if _, err := store.Get(context.Background(), job.ID); !errors.Is(err, jobstore.ErrNotFound) {
		t.Fatalf("job resurrected after delete: %v", err)
	}
}

func TestFailedRunKeepsSchedule(t *testing.T) {
	t.Parallel()
	store := jobstore.NewMemory()
	runner := &instantRunner{fail: errors.New("mail api down")}
	s := newTestService(t, store, runner)
	job := createJob(t, s, trigger.Interval(time.Second))

	s.Start(context.Background())
	waitFor(t, 2*time.Second, func() bool {
		got, err := store.Get(context.Background(), job.ID)
		return err == nil && got.LastRes != nil
	})

	got, _ := store.Get(context.Background(), job.ID)
	if got.LastRes.Success {
		t.Fatal("expected failed outcome")
	}
	if got.LastRes.Stage != jobstore.StageDeliver {
		t.Fatalf("stage = %q", got.LastRes.Stage)
	}
	if got.State != jobstore.StateActive {
		t.Fatal("failing job must stay active (no auto-pause)")
	}
	// Still scheduled for a future attempt.
	waitFor(t, 2*time.Second, func() bool { return runner.runs.Load() >= 2 })
}

func TestRunNowNotFound(t *testing.T) {
	t.Parallel()
	store := jobstore.NewMemory()
	s := newTestService(t, store, &instantRunner{})
	if err := s.RunNow(context.Background(), "nope"); !errors.Is(err, jobstore.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestHistoryRecordsRuns(t *testing.T) {
	t.Parallel()
	store := jobstore.NewMemory()
	runner := &instantRunner{}
	s := newTestService(t, store, runner)
	job := createJob(t, s, trigger.Daily(9, 0))

	if err := s.RunNow(context.Background(), job.ID); err != nil {
		t.Fatalf("RunNow: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool { return len(s.History()) == 1 })

	rec := s.History()[0]
	if rec.JobID != job.ID || !rec.Success || !rec.Manual {
		t.Fatalf("record = %+v", rec)
	}
}

func TestStartIsIdempotent(t *testing.T) {
	t.Parallel()
	store := jobstore.NewMemory()
	s := newTestService(t, store, &instantRunner{})
	s.Start(context.Background())
	s.Start(context.Background())
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
	s.Stop(ctx) // double stop is safe
}

func TestApplyConcurrentWithHistoryWrites(t *testing.T) {
	t.Parallel()

	s := New(Config{Tick: 10 * time.Millisecond, HistorySize: 5}, jobstore.NewMemory(), &instantRunner{}, logx.Nop(), nil)

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			s.Apply(Config{Tick: 10 * time.Millisecond, HistorySize: 1 + i%5})
		}
	}()

	// A run that started before a config swap records its history after it.
	for i := 0; i < 500; i++ {
		s.appendHistory(RunRecord{JobID: "j", Name: "test report", StartedAt: time.Now(), Success: true})
	}
	close(stop)
	wg.Wait()

	if n := len(s.History()); n == 0 || n > 5 {
		t.Fatalf("history length = %d, want 1..5 per the applied bounds", n)
	}
}

// flakyGetStore fails reads on demand; everything else passes through.
type flakyGetStore struct {
	jobstore.Store
	failGet atomic.Bool
}

func (f *flakyGetStore) Get(ctx context.Context, id string) (jobstore.Job, error) {
	if f.failGet.Load() {
		return jobstore.Job{}, errors.New("disk i/o error")
	}
	return f.Store.Get(ctx, id)
}

func TestRunNowReleasesGuardWhenReadFails(t *testing.T) {
	t.Parallel()

	store := &flakyGetStore{Store: jobstore.NewMemory()}
	runner := &instantRunner{}
	s := newTestService(t, store, runner)
	job := createJob(t, s, trigger.Interval(time.Hour))

	store.failGet.Store(true)
	if err := s.RunNow(context.Background(), job.ID); err == nil {
		t.Fatal("expected read error to surface")
	}
	store.failGet.Store(false)

	// The guard must be free again: a retry wins MarkRunning and runs.
	if err := s.RunNow(context.Background(), job.ID); err != nil {
		t.Fatalf("RunNow after transient read failure: %v", err)
	}
	waitFor(t, time.Second, func() bool { return runner.runs.Load() == 1 })

	got, err := store.Get(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Running {
		t.Fatal("running flag still set after completed retry")
	}
}
