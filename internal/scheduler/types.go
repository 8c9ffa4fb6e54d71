package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"reporthub/internal/eventbus"
	"reporthub/internal/jobstore"
	logx "reporthub/pkg/logx"
)

// ErrAlreadyRunning is the control-plane signal (not a fault) that a run for
// this job is currently in flight.
var ErrAlreadyRunning = errors.New("job already running")

// Config controls the scheduler loop.
type Config struct {
	// Tick is the polling period for due jobs. Next-run times are computed
	// from elapsed-since-last-run, so tick granularity affects firing latency
	// but never causes drift or catch-up backlogs.
	Tick time.Duration

	// HistorySize bounds the in-memory run history ring.
	HistorySize int
}

func (c Config) withDefaults() Config {
	if c.Tick <= 0 {
		c.Tick = 5 * time.Second
	}
	if c.HistorySize <= 0 {
		c.HistorySize = 200
	}
	return c
}

// Runner executes one pipeline pass for a job. Satisfied by
// *pipeline.Executor; tests substitute fakes.
type Runner interface {
	Run(ctx context.Context, job jobstore.Job) jobstore.Outcome
}

// RunRecord is one entry of the run history ring, kept for operators.
type RunRecord struct {
	JobID     string         `json:"job_id"`
	Name      string         `json:"name"`
	StartedAt time.Time      `json:"started_at"`
	Duration  time.Duration  `json:"duration"`
	Success   bool           `json:"success"`
	Stage     jobstore.Stage `json:"stage,omitempty"`
	Reason    string         `json:"reason,omitempty"`
	Manual    bool           `json:"manual,omitempty"`
}

// JobEvent is published on the event bus for job lifecycle events.
type JobEvent struct {
	JobID    string         `json:"job_id"`
	Name     string         `json:"name"`
	At       time.Time      `json:"at"`
	Duration time.Duration  `json:"duration,omitempty"`
	Stage    jobstore.Stage `json:"stage,omitempty"`
	Error    string         `json:"error,omitempty"`
}

// Service is the scheduler: one control loop plus one goroutine per
// in-flight job run. Construct once, pass by reference to the control
// surface, Start/Stop with the process lifecycle.
type Service struct {
	mu  sync.Mutex
	cfg Config
	log logx.Logger
	bus eventbus.Bus

	store  jobstore.Store
	runner Runner

	// now is swappable for deterministic tests.
	now func() time.Time

	// runCtx is the context runs execute under. Runs must not die with an
	// HTTP request, so RunNow dispatches on this instead of the caller's ctx.
	runCtx context.Context

	stopCh   chan struct{}
	loopDone chan struct{}
	runs     sync.WaitGroup

	// histSize mirrors cfg.HistorySize under hmu so late-finishing runs never
	// touch cfg, which Apply rewrites under mu.
	hmu      sync.Mutex
	histSize int
	history  []RunRecord
}

func New(cfg Config, store jobstore.Store, runner Runner, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = cfg.withDefaults()
	return &Service{
		cfg:      cfg,
		log:      log,
		bus:      bus,
		store:    store,
		runner:   runner,
		now:      time.Now,
		runCtx:   context.Background(),
		histSize: cfg.HistorySize,
	}
}

// Apply swaps the loop configuration. A running loop keeps its old tick
// until restarted; callers that need the new tick live stop and re-start the
// service around Apply.
func (s *Service) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
	s.hmu.Lock()
	s.histSize = cfg.HistorySize
	s.hmu.Unlock()
}

// History returns a copy of the recent run records, newest last.
func (s *Service) History() []RunRecord {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	out := make([]RunRecord, len(s.history))
	copy(out, s.history)
	return out
}

func (s *Service) appendHistory(r RunRecord) {
	s.hmu.Lock()
	s.history = append(s.history, r)
	if len(s.history) > s.histSize {
		s.history = s.history[len(s.history)-s.histSize:]
	}
	s.hmu.Unlock()
}

func (s *Service) publish(typ string, ev JobEvent) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: ev.At, Data: ev})
}
