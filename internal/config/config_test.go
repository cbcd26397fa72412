package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "overseer.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `{
		"server": {"port": 9090, "log_level": "debug"},
		"runner": {"endpoint": "http://localhost:7000/run"},
		"database": {
			"postgres": {"dsn": "postgres://localhost/overseer"},
			"redis": {"url": "redis://localhost:6379"}
		},
		"orchestrator": {"max_iterations": 7, "needs_iteration_score": 0.3}
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("got port %d, want 9090", cfg.Server.Port)
	}
	if cfg.Runner.Endpoint != "http://localhost:7000/run" {
		t.Errorf("got endpoint %q", cfg.Runner.Endpoint)
	}
	if cfg.Orchestrator.MaxIterations != 7 {
		t.Errorf("got max iterations %d, want 7", cfg.Orchestrator.MaxIterations)
	}
	if cfg.Orchestrator.NeedsIterationScore != 0.3 {
		t.Errorf("got score %v, want 0.3", cfg.Orchestrator.NeedsIterationScore)
	}
}

func TestLoadEnvSubstitution(t *testing.T) {
	t.Setenv("TEST_PG_DSN", "postgres://fromenv/db")

	path := writeConfig(t, `{
		"database": {
			"postgres": {"dsn": "${TEST_PG_DSN}"},
			"redis": {"url": "${TEST_REDIS_URL:redis://default:6379}"}
		}
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Database.Postgres.DSN != "postgres://fromenv/db" {
		t.Errorf("got dsn %q, want env value", cfg.Database.Postgres.DSN)
	}
	if cfg.Database.Redis.URL != "redis://default:6379" {
		t.Errorf("got url %q, want fallback default", cfg.Database.Redis.URL)
	}
}

func TestLoadDefaultsPort(t *testing.T) {
	path := writeConfig(t, `{}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("got port %d, want default 8080", cfg.Server.Port)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadInvalidJSON(t *testing.T) {
	path := writeConfig(t, `{not json`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}
