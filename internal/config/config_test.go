package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	t.Setenv("INSPECTOR_REGION", "")
	t.Setenv("AWS_REGION", "")
	t.Setenv("AWS_DEFAULT_REGION", "eu-west-2")

	cfg := Default()
	if cfg.Region != "eu-west-2" {
		t.Fatalf("expected region from AWS_DEFAULT_REGION, got %q", cfg.Region)
	}
	if cfg.Server.Port != 8100 || cfg.Logs.Padding != 2*time.Minute || cfg.Cache.TTL != time.Minute {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
}

func TestRegionPrecedence(t *testing.T) {
	t.Setenv("INSPECTOR_REGION", "ap-south-1")
	t.Setenv("AWS_REGION", "us-west-2")
	t.Setenv("AWS_DEFAULT_REGION", "eu-west-2")

	if cfg := Default(); cfg.Region != "ap-south-1" {
		t.Fatalf("expected INSPECTOR_REGION to win, got %q", cfg.Region)
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
region: us-west-1
limits:
  max_executions: 20
logs:
  padding: 30s
server:
  port: 9000
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("INSPECTOR_REGION", "")
	t.Setenv("INSPECTOR_HTTP_PORT", "9100")
	t.Setenv("INSPECTOR_CACHE_TTL", "5s")
	t.Setenv("INSPECTOR_LOG_RATE", "not-a-number")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Region != "us-west-1" {
		t.Fatalf("expected region from file, got %q", cfg.Region)
	}
	if cfg.Limits.MaxExecutions != 20 || cfg.Limits.DefaultExecutions != 15 {
		t.Fatalf("unexpected limits %+v", cfg.Limits)
	}
	if cfg.Logs.Padding != 30*time.Second {
		t.Fatalf("expected padding from file, got %s", cfg.Logs.Padding)
	}
	if cfg.Server.Port != 9100 || cfg.Cache.TTL != 5*time.Second {
		t.Fatalf("expected env overrides, got %+v", cfg)
	}
	if cfg.Logs.RatePerSecond != 5 {
		t.Fatalf("invalid rate must be ignored, got %v", cfg.Logs.RatePerSecond)
	}
}

func TestLoadMissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("missing file should not fail: %v", err)
	}
	if cfg.Limits.MaxEvents != 1000 {
		t.Fatalf("expected defaults, got %+v", cfg.Limits)
	}
}

func TestLoadInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("limits: [oops"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected a parse error")
	}
}

func TestLimitsClamp(t *testing.T) {
	l := Default().Limits
	tests := []struct {
		name string
		got  int
		want int
	}{
		{"executions default", l.Executions(0), 15},
		{"executions negative", l.Executions(-3), 1},
		{"executions max", l.Executions(80), 50},
		{"executions passthrough", l.Executions(7), 7},
		{"events default", l.Events(0), 500},
		{"events max", l.Events(5000), 1000},
		{"log lines default", l.LogLines(0), 200},
		{"log lines max", l.LogLines(501), 500},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s: got %d, want %d", tt.name, tt.got, tt.want)
		}
	}
}
