package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// clearEnv сбрасывает переменные, которые читает applyEnv.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"CONVEYOR_PIPELINE", "CONVEYOR_STORE", "DB_URL", "CONVEYOR_BADGER_PATH",
		"RABBITMQ_URL", "CONVEYOR_CONCURRENCY", "CONVEYOR_HTTP_ADDR", "CONVEYOR_API_URL",
	} {
		t.Setenv(key, "")
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "conveyor.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	clearEnv(t)

	cfg, path, exists, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if exists {
		t.Error("file should be reported missing")
	}
	if !strings.HasSuffix(path, "absent.toml") {
		t.Errorf("unexpected path %s", path)
	}

	if cfg.Store.Backend != BackendPostgres {
		t.Errorf("expected postgres backend, got %s", cfg.Store.Backend)
	}
	if cfg.Workers.Concurrency != defaultConcurrency {
		t.Errorf("expected concurrency %d, got %d", defaultConcurrency, cfg.Workers.Concurrency)
	}
	if cfg.Workers.LeaseTimeout.Duration != 10*time.Minute {
		t.Errorf("expected lease 10m, got %s", cfg.Workers.LeaseTimeout)
	}
	if !filepath.IsAbs(cfg.Pipeline) {
		t.Errorf("pipeline path should be absolute, got %s", cfg.Pipeline)
	}
	if strings.HasPrefix(cfg.Scheduler.LockPath, "~") {
		t.Errorf("lock path should be expanded, got %s", cfg.Scheduler.LockPath)
	}
}

func TestLoad_File(t *testing.T) {
	clearEnv(t)

	path := writeConfig(t, `
pipeline = "/etc/conveyor/nightly.yaml"

[store]
backend = "Badger"
badger_path = ""

[rabbitmq]
enabled = false

[workers]
concurrency = 8
idle_wait = "500ms"

[scheduler]
cron = "@daily"
workers = 2

[environment]
prefixes = ["APP_", " ", "CONVEYOR_"]
`)

	cfg, _, exists, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !exists {
		t.Error("file should be reported present")
	}

	if cfg.Pipeline != "/etc/conveyor/nightly.yaml" {
		t.Errorf("unexpected pipeline %s", cfg.Pipeline)
	}
	if cfg.Store.Backend != BackendBadger {
		t.Errorf("expected badger backend, got %s", cfg.Store.Backend)
	}
	if cfg.Store.BadgerPath != "" {
		t.Errorf("empty badger path should stay empty, got %s", cfg.Store.BadgerPath)
	}
	if cfg.RabbitMQ.Enabled {
		t.Error("rabbitmq should be disabled")
	}
	if cfg.Workers.Concurrency != 8 {
		t.Errorf("expected concurrency 8, got %d", cfg.Workers.Concurrency)
	}
	if cfg.Workers.IdleWait.Duration != 500*time.Millisecond {
		t.Errorf("expected idle wait 500ms, got %s", cfg.Workers.IdleWait)
	}
	// Не указанное в файле остаётся по умолчанию
	if cfg.Workers.LeaseTimeout.Duration != defaultLeaseTimeout {
		t.Errorf("expected default lease, got %s", cfg.Workers.LeaseTimeout)
	}
	if got := strings.Join(cfg.Environment.Prefixes, ","); got != "APP_,CONVEYOR_" {
		t.Errorf("expected blank prefixes dropped, got %q", got)
	}
	if err := cfg.ValidateScheduler(); err != nil {
		t.Errorf("scheduler with embedded workers should be valid: %v", err)
	}
	if err := cfg.ValidateWorker(); !errors.Is(err, ErrSingleProcess) {
		t.Errorf("expected ErrSingleProcess for worker, got %v", err)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("DB_URL", "postgresql://other/db")
	t.Setenv("CONVEYOR_CONCURRENCY", "16")
	t.Setenv("CONVEYOR_API_URL", "http://conveyor:9000/")

	path := writeConfig(t, `
[workers]
concurrency = 2
`)

	cfg, _, _, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Store.DSN != "postgresql://other/db" {
		t.Errorf("DB_URL should override dsn, got %s", cfg.Store.DSN)
	}
	if cfg.Workers.Concurrency != 16 {
		t.Errorf("CONVEYOR_CONCURRENCY should override file, got %d", cfg.Workers.Concurrency)
	}
	if cfg.HTTP.APIURL != "http://conveyor:9000" {
		t.Errorf("trailing slash should be trimmed, got %s", cfg.HTTP.APIURL)
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		env     map[string]string
	}{
		{name: "unknown field", content: "[store]\nbackend = \"postgres\"\nunknown = 1\n"},
		{name: "unknown backend", content: "[store]\nbackend = \"redis\"\n"},
		{name: "bad duration", content: "[workers]\nidle_wait = \"soon\"\n"},
		{name: "zero concurrency", content: "[workers]\nconcurrency = 0\n"},
		{name: "negative poll", content: "[scheduler]\npoll_interval = \"-1s\"\n"},
		{name: "bad cron", content: "[scheduler]\ncron = \"every day\"\n"},
		{name: "rabbit without url", content: "[rabbitmq]\nenabled = true\nurl = \"\"\n"},
		{name: "bad concurrency env", content: "", env: map[string]string{"CONVEYOR_CONCURRENCY": "many"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			if _, _, _, err := Load(writeConfig(t, tt.content)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestValidateScheduler_BadgerNeedsWorkers(t *testing.T) {
	cfg := Default()
	cfg.Store.Backend = BackendBadger

	if err := cfg.ValidateScheduler(); !errors.Is(err, ErrSingleProcess) {
		t.Errorf("expected ErrSingleProcess, got %v", err)
	}

	cfg.Scheduler.Workers = 1
	if err := cfg.ValidateScheduler(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestValidateWorker_Postgres(t *testing.T) {
	cfg := Default()
	if err := cfg.ValidateWorker(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestDuration_MarshalText(t *testing.T) {
	d := Duration{90 * time.Second}

	text, err := d.MarshalText()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(text) != "1m30s" {
		t.Errorf("expected 1m30s, got %s", text)
	}
}

func TestSampleConfigParses(t *testing.T) {
	var cfg Config
	decoder := toml.NewDecoder(strings.NewReader(SampleConfig()))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&cfg); err != nil {
		t.Fatalf("sample config should decode: %v", err)
	}

	def := Default()
	if cfg.Store.DSN != def.Store.DSN {
		t.Errorf("sample dsn %q differs from default %q", cfg.Store.DSN, def.Store.DSN)
	}
	if cfg.Scheduler.AdvisoryLockID != def.Scheduler.AdvisoryLockID {
		t.Errorf("sample advisory lock id %d differs from default", cfg.Scheduler.AdvisoryLockID)
	}
	if cfg.Workers.LeaseTimeout != def.Workers.LeaseTimeout {
		t.Errorf("sample lease %s differs from default", cfg.Workers.LeaseTimeout)
	}
}
