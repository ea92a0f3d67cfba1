package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to create test file: %v", err)
	}
	return path
}

func TestLoadValidFile(t *testing.T) {
	path := writeConfig(t, `
state_dir: /var/lib/tandem
registry:
  backend: redis
  redis:
    addr: redis.internal:6379
    db: 2
providers:
  claude:
    projects_dir: /data/claude
    project: myproj
  gemini:
    sessions_dir: /data/gemini
sync:
  lock_ttl: 45s
  debounce: 500ms
  max_concurrent: 8
metrics:
  enabled: true
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.StateDir != "/var/lib/tandem" {
		t.Errorf("StateDir = %q", cfg.StateDir)
	}
	if cfg.Registry.Backend != "redis" || cfg.Registry.Redis.Addr != "redis.internal:6379" || cfg.Registry.Redis.DB != 2 {
		t.Errorf("registry = %+v", cfg.Registry)
	}
	if cfg.Providers.Claude.Project != "myproj" {
		t.Errorf("claude project = %q", cfg.Providers.Claude.Project)
	}
	if cfg.Sync.LockTTL.Std() != 45*time.Second {
		t.Errorf("lock_ttl = %v", cfg.Sync.LockTTL.Std())
	}
	if cfg.Sync.Debounce.Std() != 500*time.Millisecond {
		t.Errorf("debounce = %v", cfg.Sync.Debounce.Std())
	}
	if cfg.Sync.MaxConcurrent != 8 {
		t.Errorf("max_concurrent = %d", cfg.Sync.MaxConcurrent)
	}
	if !cfg.Metrics.Enabled {
		t.Error("metrics not enabled")
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "state_dir: /tmp/t\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Registry.Backend != "file" {
		t.Errorf("default backend = %q", cfg.Registry.Backend)
	}
	if cfg.Registry.Redis.Prefix != "tandem:" {
		t.Errorf("default redis prefix = %q", cfg.Registry.Redis.Prefix)
	}
	if cfg.Sync.LockTTL.Std() != 30*time.Second {
		t.Errorf("default lock_ttl = %v", cfg.Sync.LockTTL.Std())
	}
	if cfg.Sync.Schedule != "@every 5m" {
		t.Errorf("default schedule = %q", cfg.Sync.Schedule)
	}
	if cfg.Sync.MaxConcurrent != 4 || cfg.Sync.RateLimit != 2 {
		t.Errorf("sync defaults = %+v", cfg.Sync)
	}
	if cfg.Metrics.Addr != ":9464" {
		t.Errorf("default metrics addr = %q", cfg.Metrics.Addr)
	}
	if cfg.Log.MaxSizeMB != 10 || cfg.Log.MaxBackups != 3 {
		t.Errorf("log defaults = %+v", cfg.Log)
	}
}

func TestLoadNonexistentFile(t *testing.T) {
	if _, err := Load("/nonexistent/path/config.yaml"); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	path := writeConfig(t, "registry:\n  backend: etcd\n")
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "backend") {
		t.Errorf("Load() error = %v, want unknown backend", err)
	}
}

func TestLoadRejectsInvalidDuration(t *testing.T) {
	path := writeConfig(t, "sync:\n  lock_ttl: banana\n")
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "duration") {
		t.Errorf("Load() error = %v, want duration parse failure", err)
	}
}

func TestLoadFileSizeLimit(t *testing.T) {
	path := writeConfig(t, strings.Repeat("x: value\n", 200000)) // ~1.8MB
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "exceeds maximum") {
		t.Errorf("Load() error = %v, want size limit", err)
	}
}

func TestLoadDepthLimit(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 40; i++ {
		b.WriteString(strings.Repeat("  ", i))
		b.WriteString("a:\n")
	}
	b.WriteString(strings.Repeat("  ", 40))
	b.WriteString("v: 1\n")

	path := writeConfig(t, b.String())
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "depth") {
		t.Errorf("Load() error = %v, want depth limit", err)
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	if got := expandPath("~/x/y"); got != filepath.Join(home, "x/y") {
		t.Errorf("expandPath(~/x/y) = %q", got)
	}
	if got := expandPath("/abs/path"); got != "/abs/path" {
		t.Errorf("expandPath(/abs/path) = %q", got)
	}
	if got := expandPath(""); got != "" {
		t.Errorf("expandPath(\"\") = %q", got)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.StateDir = "/tmp/t"
	cfg.Sync.LockTTL = Duration(time.Minute)

	path := filepath.Join(t.TempDir(), "out.yaml")
	if err := Save(cfg, path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.StateDir != "/tmp/t" || loaded.Sync.LockTTL.Std() != time.Minute {
		t.Errorf("round trip = %+v", loaded)
	}
}
