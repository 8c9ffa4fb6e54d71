package jobstore

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"reporthub/internal/tabular"
	"reporthub/internal/trigger"
	logx "reporthub/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(opts Options, log logx.Logger) (Store, error) {
	if strings.TrimSpace(opts.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := opts.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	// Basic pragmas.
	if opts.BusyTimeout > 0 {
		ms := opts.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	// A process that died mid-run leaves running flags set; nothing is
	// actually in flight after a restart, so clear them.
	if res, err := db.Exec(`UPDATE jobs SET running = 0 WHERE running = 1`); err == nil {
		if n, _ := res.RowsAffected(); n > 0 {
			log.Warn("cleared stale running flags after restart", logx.Int64("jobs", n))
		}
	}

	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Create(ctx context.Context, cfg Config, sched trigger.Schedule, snapshot tabular.Frame) (Job, error) {
	if err := validateCreate(cfg, sched); err != nil {
		return Job{}, err
	}

	now := time.Now()
	j := Job{
		ID:        uuid.NewString(),
		Config:    cfg,
		Schedule:  sched,
		State:     StateActive,
		NextRunAt: trigger.NextRun(sched, now, time.Time{}),
		CreatedAt: now,
		snapshot:  snapshot,
	}

	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return Job{}, err
	}
	schedJSON, err := json.Marshal(sched)
	if err != nil {
		return Job{}, err
	}
	snapJSON, err := json.Marshal(snapshot)
	if err != nil {
		return Job{}, err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO jobs(id, name, config, schedule, state, running, next_run_at, snapshot, created_at)
		 VALUES(?,?,?,?,?,0,?,?,?)`,
		j.ID, cfg.Name, string(cfgJSON), string(schedJSON), string(j.State),
		j.NextRunAt.UnixMilli(), string(snapJSON), now.UnixMilli(),
	)
	if err != nil {
		return Job{}, err
	}
	return j, nil
}

const jobColumns = `id, config, schedule, state, running, last_run_at, next_run_at, last_result, snapshot, created_at`

func (s *sqliteStore) Get(ctx context.Context, id string) (Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Job{}, ErrNotFound
	}
	return j, err
}

func (s *sqliteStore) List(ctx context.Context) ([]Job, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM jobs ORDER BY created_at, rowid`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (s *sqliteStore) MarkRunning(ctx context.Context, id string) (bool, error) {
	// The single UPDATE is the indivisible check-and-set; the follow-up SELECT
	// only classifies why it did not apply.
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET running = 1 WHERE id = ? AND running = 0 AND state = ?`,
		id, string(StateActive),
	)
	if err != nil {
		return false, err
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return true, nil
	}

	var state string
	err = s.db.QueryRowContext(ctx, `SELECT state FROM jobs WHERE id = ?`, id).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return false, ErrNotFound
	}
	if err != nil {
		return false, err
	}
	if State(state) == StatePaused {
		return false, ErrPaused
	}
	return false, nil
}

func (s *sqliteStore) RecordResult(ctx context.Context, id string, out Outcome, nextRun time.Time) error {
	resJSON, err := json.Marshal(out)
	if err != nil {
		return err
	}
	// Zero rows affected means the job was deleted mid-run; that is fine.
	_, err = s.db.ExecContext(ctx,
		`UPDATE jobs SET running = 0, last_run_at = ?, last_result = ?, next_run_at = ? WHERE id = ?`,
		out.StartedAt.UnixMilli(), string(resJSON), nextRun.UnixMilli(), id,
	)
	return err
}

func (s *sqliteStore) ClearRunning(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE jobs SET running = 0 WHERE id = ?`, id)
	return err
}

func (s *sqliteStore) UpdateSnapshot(ctx context.Context, id string, snapshot tabular.Frame) error {
	snapJSON, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `UPDATE jobs SET snapshot = ? WHERE id = ?`, string(snapJSON), id)
	return err
}

func (s *sqliteStore) SetState(ctx context.Context, id string, state State) error {
	res, err := s.db.ExecContext(ctx, `UPDATE jobs SET state = ? WHERE id = ?`, string(state), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqliteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(r rowScanner) (Job, error) {
	var (
		j          Job
		cfgJSON    string
		schedJSON  string
		state      string
		running    int
		lastRun    sql.NullInt64
		nextRun    int64
		lastResult sql.NullString
		snapJSON   string
		createdAt  int64
	)
	if err := r.Scan(&j.ID, &cfgJSON, &schedJSON, &state, &running, &lastRun, &nextRun, &lastResult, &snapJSON, &createdAt); err != nil {
		return Job{}, err
	}
	if err := json.Unmarshal([]byte(cfgJSON), &j.Config); err != nil {
		return Job{}, fmt.Errorf("job %s: bad config: %w", j.ID, err)
	}
	if err := json.Unmarshal([]byte(schedJSON), &j.Schedule); err != nil {
		return Job{}, fmt.Errorf("job %s: bad schedule: %w", j.ID, err)
	}
	if err := json.Unmarshal([]byte(snapJSON), &j.snapshot); err != nil {
		return Job{}, fmt.Errorf("job %s: bad snapshot: %w", j.ID, err)
	}
	if lastResult.Valid && lastResult.String != "" {
		var out Outcome
		if err := json.Unmarshal([]byte(lastResult.String), &out); err != nil {
			return Job{}, fmt.Errorf("job %s: bad last result: %w", j.ID, err)
		}
		j.LastRes = &out
	}
	j.State = State(state)
	j.Running = running != 0
	if lastRun.Valid {
		j.LastRunAt = time.UnixMilli(lastRun.Int64)
	}
	j.NextRunAt = time.UnixMilli(nextRun)
	j.CreatedAt = time.UnixMilli(createdAt)
	return j, nil
}
