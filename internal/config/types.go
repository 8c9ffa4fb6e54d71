// Package config loads, validates, and hot-reloads the service configuration.
// Files may be JSON or YAML; YAML is normalized to JSON so both formats share
// one strict decoder. All durations are Go duration strings ("30s", "5m").
package config

import (
	"fmt"
	"strings"
)

type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Store     StoreConfig     `json:"store"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Pipeline  PipelineConfig  `json:"pipeline"`
	Sheets    SheetsConfig    `json:"sheets"`
	Analyzer  AnalyzerConfig  `json:"analyzer"`
	Email     EmailConfig     `json:"email"`
	Telegram  *TelegramConfig `json:"telegram,omitempty"`
	Server    ServerConfig    `json:"server"`
	Pprof     *PprofConfig    `json:"pprof,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StoreConfig selects the job store driver.
//
// Example:
//
//	"store": { "driver": "sqlite", "path": "./reporthub.db" }
type StoreConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

type SchedulerConfig struct {
	// Tick is the due-job polling period. Sub-minute ticks are fine; next-run
	// math never queues missed ticks, so a coarse tick only adds latency.
	Tick        string `json:"tick,omitempty"`
	HistorySize int    `json:"history_size,omitempty"`
}

type PipelineConfig struct {
	StageTimeout   string `json:"stage_timeout,omitempty"`
	MaxRunDuration string `json:"max_run_duration,omitempty"`
}

type SheetsConfig struct {
	BaseURL      string  `json:"base_url,omitempty"`
	Token        string  `json:"token,omitempty"`
	DefaultRange string  `json:"default_range,omitempty"`
	RatePerSec   float64 `json:"rate_per_sec,omitempty"`
	Timeout      string  `json:"timeout,omitempty"`
	RetryMax     int     `json:"retry_max,omitempty"`
	RetryBase    string  `json:"retry_base,omitempty"`
}

type AnalyzerConfig struct {
	BaseURL   string `json:"base_url,omitempty"`
	APIKey    string `json:"api_key"`
	Model     string `json:"model,omitempty"`
	Timeout   string `json:"timeout,omitempty"`
	MaxTokens int    `json:"max_tokens,omitempty"`
}

type EmailConfig struct {
	BaseURL     string `json:"base_url,omitempty"`
	APIKey      string `json:"api_key"`
	FromAddress string `json:"from_address"`
	FromName    string `json:"from_name,omitempty"`
	Timeout     string `json:"timeout,omitempty"`
}

// TelegramConfig enables the optional Telegram delivery channel. Omitting the
// section leaves tg: recipients unroutable.
type TelegramConfig struct {
	Token string `json:"token"`
}

type ServerConfig struct {
	Addr            string `json:"addr,omitempty"`
	ReadTimeout     string `json:"read_timeout,omitempty"`
	WriteTimeout    string `json:"write_timeout,omitempty"`
	ShutdownTimeout string `json:"shutdown_timeout,omitempty"`
}

// PprofConfig enables the optional profiling listener. A non-loopback addr
// requires a token.
type PprofConfig struct {
	Addr         string `json:"addr,omitempty"`
	Token        string `json:"token,omitempty"`
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
}

// Validate rejects configs that cannot possibly run. Per-field defaults are
// applied by the components themselves, so only cross-field and format errors
// live here.
func (c *Config) Validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Store.Driver)) {
	case "", "memory":
	case "sqlite", "sqlite3":
		if strings.TrimSpace(c.Store.Path) == "" {
			return fmt.Errorf("store.path required for sqlite driver")
		}
	default:
		return fmt.Errorf("store.driver: unknown driver %q", c.Store.Driver)
	}

	if strings.TrimSpace(c.Email.FromAddress) == "" {
		return fmt.Errorf("email.from_address required")
	}
	if c.Telegram != nil && strings.TrimSpace(c.Telegram.Token) == "" {
		return fmt.Errorf("telegram.token required when telegram section is present")
	}

	for _, d := range []struct{ path, raw string }{
		{"store.busy_timeout", c.Store.BusyTimeout},
		{"scheduler.tick", c.Scheduler.Tick},
		{"pipeline.stage_timeout", c.Pipeline.StageTimeout},
		{"pipeline.max_run_duration", c.Pipeline.MaxRunDuration},
		{"sheets.timeout", c.Sheets.Timeout},
		{"sheets.retry_base", c.Sheets.RetryBase},
		{"analyzer.timeout", c.Analyzer.Timeout},
		{"email.timeout", c.Email.Timeout},
		{"server.read_timeout", c.Server.ReadTimeout},
		{"server.write_timeout", c.Server.WriteTimeout},
		{"server.shutdown_timeout", c.Server.ShutdownTimeout},
	} {
		if _, err := ParseDurationField(d.path, d.raw); err != nil {
			return err
		}
	}
	if c.Pprof != nil {
		for _, d := range []struct{ path, raw string }{
			{"pprof.read_timeout", c.Pprof.ReadTimeout},
			{"pprof.write_timeout", c.Pprof.WriteTimeout},
		} {
			if _, err := ParseDurationField(d.path, d.raw); err != nil {
				return err
			}
		}
	}
	return nil
}
