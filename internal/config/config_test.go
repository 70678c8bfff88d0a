package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"PLOTWEAVE_BACKEND_URL",
		"PLOTWEAVE_HEARTBEAT_INTERVAL",
		"PLOTWEAVE_MAX_FRAME_BYTES",
		"PLOTWEAVE_LOG_LEVEL",
	} {
		// Setenv registers restoration; unsetting afterwards lets .env
		// files populate the key during the test.
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func writeConfig(t *testing.T, projectDir, body string) {
	t.Helper()
	dir := filepath.Join(projectDir, Dir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(strings.TrimSpace(body)), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadDefaultsWhenMissing(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.BackendURL() != DefaultBackendURL {
		t.Fatalf("expected default backend url, got %q", cfg.BackendURL())
	}
	if cfg.HeartbeatInterval() != 15*time.Second {
		t.Fatalf("expected 15s heartbeat, got %s", cfg.HeartbeatInterval())
	}
	if cfg.MaxFrameBytes() != DefaultMaxFrameBytes {
		t.Fatalf("unexpected frame limit %d", cfg.MaxFrameBytes())
	}
	if cfg.LogLevel() != "info" || !cfg.RenderMarkdown() {
		t.Fatalf("unexpected defaults: level=%s markdown=%v", cfg.LogLevel(), cfg.RenderMarkdown())
	}
}

func TestLoadParsesYaml(t *testing.T) {
	clearEnv(t)
	projectDir := t.TempDir()
	writeConfig(t, projectDir, `
version: 1
backend:
  url: https://plotweave.example.com/
  heartbeat_interval: 30s
logging:
  level: DEBUG
ui:
  render_markdown: false
devserver:
  port: 9001
`)
	cfg, err := Load(projectDir)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.BackendURL() != "https://plotweave.example.com" {
		t.Fatalf("expected trailing slash trimmed, got %q", cfg.BackendURL())
	}
	if cfg.HeartbeatInterval() != 30*time.Second {
		t.Fatalf("expected 30s, got %s", cfg.HeartbeatInterval())
	}
	if cfg.MaxFrameBytes() != DefaultMaxFrameBytes {
		t.Fatalf("omitted keys should keep defaults, got %d", cfg.MaxFrameBytes())
	}
	if cfg.LogLevel() != "debug" {
		t.Fatalf("expected level lowered, got %q", cfg.LogLevel())
	}
	if cfg.RenderMarkdown() {
		t.Fatalf("expected markdown disabled")
	}
	if cfg.Project.DevServer.Port != 9001 {
		t.Fatalf("expected devserver port 9001, got %d", cfg.Project.DevServer.Port)
	}
}

func TestLoadValidation(t *testing.T) {
	cases := map[string]string{
		"bad scheme": "backend:\n  url: ftp://example.com",
		"no host":    "backend:\n  url: http://",
		"bad level":  "logging:\n  level: loud",
		"bad port":   "devserver:\n  port: 70000",
		"bad yaml":   "backend: [",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			clearEnv(t)
			projectDir := t.TempDir()
			writeConfig(t, projectDir, body)
			if _, err := Load(projectDir); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestEnvOverrides(t *testing.T) {
	clearEnv(t)
	projectDir := t.TempDir()
	writeConfig(t, projectDir, "backend:\n  url: http://from-file:8000")
	t.Setenv("PLOTWEAVE_BACKEND_URL", "http://from-env:9000")
	t.Setenv("PLOTWEAVE_HEARTBEAT_INTERVAL", "2s")
	t.Setenv("PLOTWEAVE_LOG_LEVEL", "warn")

	cfg, err := Load(projectDir)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.BackendURL() != "http://from-env:9000" {
		t.Fatalf("env should win over file, got %q", cfg.BackendURL())
	}
	if cfg.HeartbeatInterval() != 2*time.Second {
		t.Fatalf("expected 2s, got %s", cfg.HeartbeatInterval())
	}
	if cfg.LogLevel() != "warn" {
		t.Fatalf("expected warn, got %q", cfg.LogLevel())
	}
}

func TestDotEnvIsLoaded(t *testing.T) {
	clearEnv(t)
	projectDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(projectDir, ".env"), []byte("PLOTWEAVE_BACKEND_URL=http://dotenv:7000\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(projectDir)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.BackendURL() != "http://dotenv:7000" {
		t.Fatalf("expected .env value, got %q", cfg.BackendURL())
	}
}

func TestInitDirWritesDefaults(t *testing.T) {
	clearEnv(t)
	projectDir := t.TempDir()
	if err := InitDir(projectDir); err != nil {
		t.Fatalf("InitDir returned error: %v", err)
	}
	if _, err := os.Stat(filepath.Join(projectDir, Dir, "logs")); err != nil {
		t.Fatalf("logs dir missing: %v", err)
	}
	cfg, err := Load(projectDir)
	if err != nil {
		t.Fatalf("default config should load: %v", err)
	}
	if cfg.Project.DevServer.Port != 8000 {
		t.Fatalf("expected devserver port from default file, got %d", cfg.Project.DevServer.Port)
	}

	// A second call must not clobber user edits.
	writeConfig(t, projectDir, "logging:\n  level: error")
	if err := InitDir(projectDir); err != nil {
		t.Fatal(err)
	}
	cfg, err = Load(projectDir)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.LogLevel() != "error" {
		t.Fatalf("InitDir overwrote config, level=%q", cfg.LogLevel())
	}
}
