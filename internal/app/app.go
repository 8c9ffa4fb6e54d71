// Package app wires configuration, storage, the pipeline collaborators, the
// scheduler, and the control API into one process.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"reporthub/internal/analyzer"
	"reporthub/internal/config"
	"reporthub/internal/connector/sheets"
	"reporthub/internal/deliver"
	"reporthub/internal/eventbus"
	"reporthub/internal/jobstore"
	"reporthub/internal/observability/pprof"
	"reporthub/internal/pipeline"
	"reporthub/internal/render"
	rtsup "reporthub/internal/runtime/supervisor"
	"reporthub/internal/scheduler"
	"reporthub/internal/server"
	logx "reporthub/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store jobstore.Store
	sched *scheduler.Service
	srv   *server.Server
	prof  *pprof.Service
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logs, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	storeOpts, err := mapStoreOptions(cfg)
	if err != nil {
		return nil, err
	}
	store, err := jobstore.Open(storeOpts, logs.Logger().With(logx.String("comp", "jobstore")))
	if err != nil {
		return nil, err
	}

	fetcher, err := buildFetcher(cfg, logs)
	if err != nil {
		return nil, err
	}
	deliverer, err := buildDeliverer(cfg, logs)
	if err != nil {
		return nil, err
	}
	anCfg, err := mapAnalyzerConfig(cfg)
	if err != nil {
		return nil, err
	}
	pipeCfg, err := mapPipelineConfig(cfg)
	if err != nil {
		return nil, err
	}
	exec := pipeline.NewExecutor(pipeCfg,
		fetcher,
		analyzer.New(anCfg, logs.Logger().With(logx.String("comp", "analyzer"))),
		render.New(),
		deliverer,
		store,
		logs.Logger().With(logx.String("comp", "pipeline")))

	schedCfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		return nil, err
	}
	sched := scheduler.New(schedCfg, store, exec,
		logs.Logger().With(logx.String("comp", "scheduler")), bus)

	srvCfg, err := mapServerConfig(cfg)
	if err != nil {
		return nil, err
	}
	srv := server.New(srvCfg, sched, fetcher,
		logs.Logger().With(logx.String("comp", "server")))

	var prof *pprof.Service
	if cfg.Pprof != nil {
		pc, err := mapPprofConfig(cfg.Pprof)
		if err != nil {
			return nil, err
		}
		prof = pprof.New(pc, logs.Logger().With(logx.String("comp", "pprof")))
	}

	return &App{
		cfgm:  cfgm,
		log:   log,
		logs:  logs,
		bus:   bus,
		store: store,
		sched: sched,
		srv:   srv,
		prof:  prof,
	}, nil
}

func buildFetcher(cfg *config.Config, logs *logx.Service) (pipeline.Fetcher, error) {
	sc, err := mapSheetsConfig(cfg)
	if err != nil {
		return nil, err
	}
	return sheets.New(sc, logs.Logger().With(logx.String("comp", "sheets"))), nil
}

func buildDeliverer(cfg *config.Config, logs *logx.Service) (pipeline.Deliverer, error) {
	ec, err := mapEmailConfig(cfg)
	if err != nil {
		return nil, err
	}
	email := deliver.NewEmail(ec, logs.Logger().With(logx.String("comp", "email")))

	var tg pipeline.Deliverer
	if cfg.Telegram != nil {
		t, err := deliver.NewTelegram(deliver.TelegramConfig{Token: cfg.Telegram.Token},
			logs.Logger().With(logx.String("comp", "telegram")))
		if err != nil {
			return nil, fmt.Errorf("telegram channel: %w", err)
		}
		tg = t
	}
	return deliver.NewDispatcher(email, tg), nil
}

// Start brings up the scheduler loop, the control API, config watching, and
// systemd notification. It returns once everything is running.
func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	// The store is opened once; driver changes need a restart, so reject them
	// at reload time instead of silently ignoring them.
	initial := a.cfgm.Get()
	a.cfgm.SetValidator(func(_ context.Context, c *config.Config) error {
		if initial != nil && c.Store != initial.Store {
			return fmt.Errorf("store config changed; restart required")
		}
		return nil
	})

	a.sched.Start(a.sup.Context())
	if err := a.srv.Start(a.sup.Context()); err != nil {
		return err
	}
	if a.prof != nil {
		// A broken profiling listener must not take the scheduler down.
		if err := a.prof.Start(a.sup.Context()); err != nil {
			a.log.Warn("pprof start failed", logx.Err(err))
		}
	}

	a.startEventLog()
	a.startReloadLoop()
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})
	a.startWatchdog()

	if sent, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Warn("sd_notify ready failed", logx.Err(err))
	} else if sent {
		a.log.Debug("sd_notify ready sent")
	}

	a.log.Info("app started")
	return nil
}

// startEventLog mirrors job lifecycle events into the debug log.
func (a *App) startEventLog() {
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})
}

// startReloadLoop applies committed config reloads: logging always live,
// scheduler tick via a loop restart.
func (a *App) startReloadLoop() {
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts; only the newest config matters.
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
						continue
					default:
					}
					break
				}
				a.applyReload(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})
}

func (a *App) applyReload(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Debug("config reload received, no effective changes")
		return
	}

	changed := func(name string) bool {
		for _, s := range sections {
			if s == name {
				return true
			}
		}
		return false
	}

	if changed("logging") {
		a.logs.Apply(logx.Config{
			Level:   newCfg.Logging.Level,
			Console: newCfg.Logging.Console,
			File: logx.FileConfig{
				Enabled: newCfg.Logging.File.Enabled,
				Path:    newCfg.Logging.File.Path,
			},
		})
	}

	if changed("scheduler") {
		if schedCfg, err := mapSchedulerConfig(newCfg); err != nil {
			a.log.Warn("invalid scheduler config; keeping previous", logx.Err(err))
		} else {
			stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			a.sched.Stop(stopCtx)
			cancel()
			a.sched.Apply(schedCfg)
			a.sched.Start(ctx)
		}
	}

	// Collaborator and server sections are constructed once; changing them
	// needs a restart, which the operator will see in this warning.
	for _, s := range sections {
		switch s {
		case "logging", "scheduler":
		default:
			a.log.Warn("config section changed; restart required",
				logx.String("section", s))
		}
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

// startWatchdog feeds the systemd watchdog when one is armed.
func (a *App) startWatchdog() {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval == 0 {
		return
	}
	// Notify at half the arm interval, the usual sd_watchdog cadence.
	tick := interval / 2
	a.sup.Go0("systemd.watchdog", func(c context.Context) {
		t := time.NewTicker(tick)
		defer t.Stop()
		for {
			select {
			case <-c.Done():
				return
			case <-t.C:
				if _, err := daemon.SdNotify(false, daemon.SdNotifyWatchdog); err != nil {
					a.log.Warn("sd_notify watchdog failed", logx.Err(err))
				}
			}
		}
	})
	a.log.Info("systemd watchdog armed", logx.Duration("interval", interval))
}

// Stop shuts down in dependency order: stop intake (server), drain runs
// (scheduler), then release the store and the log sinks.
func (a *App) Stop(ctx context.Context) error {
	daemon.SdNotify(false, daemon.SdNotifyStopping)

	if a.prof != nil {
		a.prof.Stop(ctx)
	}
	a.srv.Stop(ctx)
	a.sched.Stop(ctx)

	if a.sup != nil {
		if err := a.sup.Stop(ctx); err != nil && ctx.Err() == nil {
			a.log.Warn("supervisor stopped with error", logx.Err(err))
		}
	}
	if err := a.store.Close(); err != nil {
		a.log.Warn("store close failed", logx.Err(err))
	}
	a.log.Info("app stopped")
	return a.logs.Close()
}

// Err reports the first fatal error from a supervised loop.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Done exposes the supervisor context so main can exit if a fatal error
// cancels the app from the inside.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		return nil
	}
	return a.sup.Context().Done()
}
