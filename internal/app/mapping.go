package app

import (
	"reporthub/internal/analyzer"
	"reporthub/internal/config"
	"reporthub/internal/connector/sheets"
	"reporthub/internal/deliver"
	"reporthub/internal/jobstore"
	"reporthub/internal/observability/pprof"
	"reporthub/internal/pipeline"
	"reporthub/internal/scheduler"
	"reporthub/internal/server"
)

// Config sections carry durations as strings; these helpers turn each
// section into the typed config its component takes. Parse errors cannot
// happen here for a config that passed Validate, but the durations are still
// threaded through the checked parser so the two paths cannot drift.

func mapStoreOptions(cfg *config.Config) (jobstore.Options, error) {
	busy, err := config.ParseDurationField("store.busy_timeout", cfg.Store.BusyTimeout)
	if err != nil {
		return jobstore.Options{}, err
	}
	return jobstore.Options{
		Driver:      cfg.Store.Driver,
		Path:        cfg.Store.Path,
		BusyTimeout: busy,
	}, nil
}

func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	tick, err := config.ParseDurationField("scheduler.tick", cfg.Scheduler.Tick)
	if err != nil {
		return scheduler.Config{}, err
	}
	return scheduler.Config{Tick: tick, HistorySize: cfg.Scheduler.HistorySize}, nil
}

func mapPipelineConfig(cfg *config.Config) (pipeline.Config, error) {
	stage, err := config.ParseDurationField("pipeline.stage_timeout", cfg.Pipeline.StageTimeout)
	if err != nil {
		return pipeline.Config{}, err
	}
	maxRun, err := config.ParseDurationField("pipeline.max_run_duration", cfg.Pipeline.MaxRunDuration)
	if err != nil {
		return pipeline.Config{}, err
	}
	return pipeline.Config{StageTimeout: stage, MaxRunDuration: maxRun}, nil
}

func mapSheetsConfig(cfg *config.Config) (sheets.Config, error) {
	timeout, err := config.ParseDurationField("sheets.timeout", cfg.Sheets.Timeout)
	if err != nil {
		return sheets.Config{}, err
	}
	base, err := config.ParseDurationField("sheets.retry_base", cfg.Sheets.RetryBase)
	if err != nil {
		return sheets.Config{}, err
	}
	return sheets.Config{
		BaseURL:      cfg.Sheets.BaseURL,
		Token:        cfg.Sheets.Token,
		DefaultRange: cfg.Sheets.DefaultRange,
		RatePerSec:   cfg.Sheets.RatePerSec,
		Timeout:      timeout,
		RetryMax:     cfg.Sheets.RetryMax,
		RetryBase:    base,
	}, nil
}

func mapAnalyzerConfig(cfg *config.Config) (analyzer.Config, error) {
	timeout, err := config.ParseDurationField("analyzer.timeout", cfg.Analyzer.Timeout)
	if err != nil {
		return analyzer.Config{}, err
	}
	return analyzer.Config{
		BaseURL:   cfg.Analyzer.BaseURL,
		APIKey:    cfg.Analyzer.APIKey,
		Model:     cfg.Analyzer.Model,
		Timeout:   timeout,
		MaxTokens: cfg.Analyzer.MaxTokens,
	}, nil
}

func mapEmailConfig(cfg *config.Config) (deliver.EmailConfig, error) {
	timeout, err := config.ParseDurationField("email.timeout", cfg.Email.Timeout)
	if err != nil {
		return deliver.EmailConfig{}, err
	}
	return deliver.EmailConfig{
		BaseURL:     cfg.Email.BaseURL,
		APIKey:      cfg.Email.APIKey,
		FromAddress: cfg.Email.FromAddress,
		FromName:    cfg.Email.FromName,
		Timeout:     timeout,
	}, nil
}

func mapServerConfig(cfg *config.Config) (server.Config, error) {
	read, err := config.ParseDurationField("server.read_timeout", cfg.Server.ReadTimeout)
	if err != nil {
		return server.Config{}, err
	}
	write, err := config.ParseDurationField("server.write_timeout", cfg.Server.WriteTimeout)
	if err != nil {
		return server.Config{}, err
	}
	shutdown, err := config.ParseDurationField("server.shutdown_timeout", cfg.Server.ShutdownTimeout)
	if err != nil {
		return server.Config{}, err
	}
	return server.Config{
		Addr:            cfg.Server.Addr,
		ReadTimeout:     read,
		WriteTimeout:    write,
		ShutdownTimeout: shutdown,
	}, nil
}

func mapPprofConfig(cfg *config.PprofConfig) (pprof.Config, error) {
	read, err := config.ParseDurationField("pprof.read_timeout", cfg.ReadTimeout)
	if err != nil {
		return pprof.Config{}, err
	}
	write, err := config.ParseDurationField("pprof.write_timeout", cfg.WriteTimeout)
	if err != nil {
		return pprof.Config{}, err
	}
	return pprof.Config{
		Addr:         cfg.Addr,
		Token:        cfg.Token,
		ReadTimeout:  read,
		WriteTimeout: write,
	}, nil
}
