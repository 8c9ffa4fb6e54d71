package config

import (
	"strings"

	logx "reporthub/pkg/logx"
)

// SummarizeChange returns the changed top-level sections plus structured
// attrs safe to log. Secrets (tokens, api keys) are reported as set/unset,
// never as values.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	var changed []string
	var attrs []logx.Field

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled))
	}
	if oldCfg.Store != newCfg.Store {
		changed = append(changed, "store")
		attrs = append(attrs, logx.String("store.driver", newCfg.Store.Driver))
	}
	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		attrs = append(attrs, logx.String("scheduler.tick", newCfg.Scheduler.Tick))
	}
	if oldCfg.Pipeline != newCfg.Pipeline {
		changed = append(changed, "pipeline")
		attrs = append(attrs,
			logx.String("pipeline.stage_timeout", newCfg.Pipeline.StageTimeout),
			logx.String("pipeline.max_run_duration", newCfg.Pipeline.MaxRunDuration))
	}
	if oldCfg.Sheets != newCfg.Sheets {
		changed = append(changed, "sheets")
		attrs = append(attrs,
			logx.String("sheets.base_url", newCfg.Sheets.BaseURL),
			logx.Bool("sheets.token_set", strings.TrimSpace(newCfg.Sheets.Token) != ""))
	}
	if oldCfg.Analyzer != newCfg.Analyzer {
		changed = append(changed, "analyzer")
		attrs = append(attrs,
			logx.String("analyzer.model", newCfg.Analyzer.Model),
			logx.Bool("analyzer.key_set", strings.TrimSpace(newCfg.Analyzer.APIKey) != ""))
	}
	if oldCfg.Email != newCfg.Email {
		changed = append(changed, "email")
		attrs = append(attrs,
			logx.String("email.from", newCfg.Email.FromAddress),
			logx.Bool("email.key_set", strings.TrimSpace(newCfg.Email.APIKey) != ""))
	}
	if telegramChanged(oldCfg.Telegram, newCfg.Telegram) {
		changed = append(changed, "telegram")
		attrs = append(attrs, logx.Bool("telegram.enabled", newCfg.Telegram != nil))
	}
	if oldCfg.Server != newCfg.Server {
		changed = append(changed, "server")
		attrs = append(attrs, logx.String("server.addr", newCfg.Server.Addr))
	}
	if pprofChanged(oldCfg.Pprof, newCfg.Pprof) {
		changed = append(changed, "pprof")
		attrs = append(attrs, logx.Bool("pprof.enabled", newCfg.Pprof != nil))
	}
	return changed, attrs
}

func pprofChanged(a, b *PprofConfig) bool {
	if (a == nil) != (b == nil) {
		return true
	}
	return a != nil && *a != *b
}

func telegramChanged(a, b *TelegramConfig) bool {
	if (a == nil) != (b == nil) {
		return true
	}
	return a != nil && *a != *b
}
