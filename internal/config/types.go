package config

import (
	"errors"
	"time"

	"github.com/ahostbr/kuroryuu-public-sub001/internal/audit"
	"github.com/ahostbr/kuroryuu-public-sub001/internal/executor"
	"github.com/ahostbr/kuroryuu-public-sub001/internal/notify"
	"github.com/ahostbr/kuroryuu-public-sub001/pkg/logx"
)

// Config is the daemon configuration, read from a JSON or YAML file.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Executor  ExecutorConfig  `json:"executor"`
	Notifier  *NotifierConfig `json:"notifier,omitempty"`
	Audit     *AuditConfig    `json:"audit,omitempty"`
	HTTP      *HTTPConfig     `json:"http,omitempty"`
}

type LoggingConfig struct {
	Level    string `json:"level,omitempty"`
	Console  bool   `json:"console"`
	File     bool   `json:"file,omitempty"`
	FilePath string `json:"file_path,omitempty"`
}

// SchedulerConfig controls the data directory and the scan clock.
type SchedulerConfig struct {
	DataDir string `json:"data_dir"`
	// TickInterval is a Go duration string; default "30s".
	TickInterval string `json:"tick_interval,omitempty"`
}

type ExecutorConfig struct {
	AgentBinary  string `json:"agent_binary,omitempty"`
	DefaultModel string `json:"default_model,omitempty"`
}

// NotifierConfig controls the async notification pipeline. If the whole
// section is omitted, notifications are disabled.
type NotifierConfig struct {
	Enabled     bool   `json:"enabled"`
	QueueSize   int    `json:"queue_size,omitempty"`
	RatePerSec  int    `json:"rate_per_sec,omitempty"`
	SendTimeout string `json:"send_timeout,omitempty"`

	// Command is an optional notify-send style binary to invoke per
	// notification.
	Command string `json:"command,omitempty"`

	Telegram *TelegramConfig `json:"telegram,omitempty"`
}

type TelegramConfig struct {
	Token  string `json:"token"`
	ChatID int64  `json:"chat_id"`
}

// AuditConfig controls the run audit trail. Driver "file" or "sqlite";
// omitted section disables auditing.
type AuditConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// HTTPConfig controls the optional admin HTTP surface. Prefer binding to
// localhost.
type HTTPConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default: "127.0.0.1:8095"
}

// Validate checks the fields that cannot be defaulted away.
func (c *Config) Validate() error {
	if c.Scheduler.DataDir == "" {
		return errors.New("scheduler.data_dir is required")
	}
	if _, err := parseDuration("scheduler.tick_interval", c.Scheduler.TickInterval); err != nil {
		return err
	}
	if c.Notifier != nil {
		if _, err := parseDuration("notifier.send_timeout", c.Notifier.SendTimeout); err != nil {
			return err
		}
		if c.Notifier.Telegram != nil && (c.Notifier.Telegram.Token == "" || c.Notifier.Telegram.ChatID == 0) {
			return errors.New("notifier.telegram requires token and chat_id")
		}
	}
	if c.Audit != nil {
		if _, err := parseDuration("audit.busy_timeout", c.Audit.BusyTimeout); err != nil {
			return err
		}
	}
	return nil
}

// LogConfig translates the logging section for pkg/logx.
func (c *Config) LogConfig() logx.Config {
	return logx.Config{
		Level:   c.Logging.Level,
		Console: c.Logging.Console,
		File: logx.FileConfig{
			Enabled: c.Logging.File,
			Path:    c.Logging.FilePath,
		},
	}
}

// TickInterval returns the parsed scan interval, defaulting to 30s.
func (c *Config) TickInterval() time.Duration {
	d, err := parseDurationDefault("scheduler.tick_interval", c.Scheduler.TickInterval, 30*time.Second)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// ExecConfig translates the executor section.
func (c *Config) ExecConfig() executor.Config {
	return executor.Config{
		AgentBinary:  c.Executor.AgentBinary,
		DefaultModel: c.Executor.DefaultModel,
	}
}

// NotifyConfig translates the notifier section. A missing section yields a
// disabled pipeline.
func (c *Config) NotifyConfig() notify.Config {
	if c.Notifier == nil {
		return notify.Config{}
	}
	timeout, _ := parseDuration("notifier.send_timeout", c.Notifier.SendTimeout)
	return notify.Config{
		Enabled:     c.Notifier.Enabled,
		QueueSize:   c.Notifier.QueueSize,
		RatePerSec:  c.Notifier.RatePerSec,
		SendTimeout: timeout,
	}
}

// AuditOpenConfig translates the audit section. A missing section disables
// auditing.
func (c *Config) AuditOpenConfig() audit.Config {
	if c.Audit == nil {
		return audit.Config{}
	}
	busy, _ := parseDuration("audit.busy_timeout", c.Audit.BusyTimeout)
	return audit.Config{
		Driver:      c.Audit.Driver,
		Path:        c.Audit.Path,
		BusyTimeout: busy,
	}
}

// HTTPAddr returns the admin bind address, or "" when the surface is off.
func (c *Config) HTTPAddr() string {
	if c.HTTP == nil || !c.HTTP.Enabled {
		return ""
	}
	if c.HTTP.Addr == "" {
		return "127.0.0.1:8095"
	}
	return c.HTTP.Addr
}
