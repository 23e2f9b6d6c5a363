package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadJSON(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.json", `{
		"logging": {"level": "debug", "console": true},
		"scheduler": {"data_dir": "/var/lib/sched", "tick_interval": "15s"},
		"executor": {"agent_binary": "agent", "default_model": "fast"},
		"audit": {"driver": "file", "path": "/var/lib/sched/audit.jsonl"},
		"http": {"enabled": true}
	}`)

	m := NewManager(path)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Scheduler.DataDir != "/var/lib/sched" {
		t.Fatalf("dataDir = %q", cfg.Scheduler.DataDir)
	}
	if got := cfg.TickInterval(); got != 15*time.Second {
		t.Fatalf("tick = %s", got)
	}
	if cfg.HTTPAddr() != "127.0.0.1:8095" {
		t.Fatalf("http addr = %q", cfg.HTTPAddr())
	}
	if cfg.AuditOpenConfig().Driver != "file" {
		t.Fatalf("audit = %+v", cfg.AuditOpenConfig())
	}
	if m.Get() != cfg {
		t.Fatal("Get should return the committed config")
	}
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.yaml", `
logging:
  level: info
  console: true
scheduler:
  data_dir: ./data
notifier:
  enabled: true
  rate_per_sec: 5
  send_timeout: 3s
  telegram:
    token: "123:abc"
    chat_id: 42
`)
	cfg, err := NewManager(path).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := cfg.TickInterval(); got != 30*time.Second {
		t.Fatalf("default tick = %s", got)
	}
	nc := cfg.NotifyConfig()
	if !nc.Enabled || nc.RatePerSec != 5 || nc.SendTimeout != 3*time.Second {
		t.Fatalf("notify cfg = %+v", nc)
	}
	if cfg.Notifier.Telegram.ChatID != 42 {
		t.Fatalf("telegram = %+v", cfg.Notifier.Telegram)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.json", `{"scheduler": {"data_dir": "x", "workers": 4}}`)
	if _, err := NewManager(path).Load(); err == nil || !strings.Contains(err.Error(), "unknown field") {
		t.Fatalf("err = %v, want unknown field", err)
	}
}

func TestLoadValidation(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name, body, want string
	}{
		{"missing data dir", `{"scheduler": {}}`, "data_dir"},
		{"bad tick", `{"scheduler": {"data_dir": "x", "tick_interval": "soon"}}`, "tick_interval"},
		{"negative timeout", `{"scheduler": {"data_dir": "x"}, "notifier": {"enabled": true, "send_timeout": "-1s"}}`, "send_timeout"},
		{"telegram incomplete", `{"scheduler": {"data_dir": "x"}, "notifier": {"enabled": true, "telegram": {"token": "t", "chat_id": 0}}}`, "chat_id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, "config.json", tt.body)
			if _, err := NewManager(path).Load(); err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestReloadPublishesOnChange(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.json", `{"scheduler": {"data_dir": "a"}}`)
	m := NewManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatal(err)
	}
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	// Unchanged content does not publish.
	m.reload()
	select {
	case cfg := <-ch:
		t.Fatalf("unexpected publish: %+v", cfg)
	default:
	}

	if err := os.WriteFile(path, []byte(`{"scheduler": {"data_dir": "b"}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	m.reload()
	select {
	case cfg := <-ch:
		if cfg.Scheduler.DataDir != "b" {
			t.Fatalf("published = %+v", cfg)
		}
	case <-time.After(time.Second):
		t.Fatal("no publish after content change")
	}

	// A broken edit keeps the last good config.
	if err := os.WriteFile(path, []byte(`{"scheduler": `), 0o644); err != nil {
		t.Fatal(err)
	}
	m.reload()
	if m.Get().Scheduler.DataDir != "b" {
		t.Fatal("bad reload must not clobber committed config")
	}
}
