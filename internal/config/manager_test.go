package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestParseYAML(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
logging:
  level: debug
  console: true
jobs:
  enabled: true
  retry_backoff: 10s
posts:
  conflict_window: 5m
  daily_limits:
    twitter: 100
platforms:
  twitter:
    enabled: true
    rate_per_sec: 2
storage:
  driver: sqlite
  path: ./postflow.db
`)
	cfg, err := NewManager(path).Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Logging.Level != "debug" || !cfg.Logging.Console {
		t.Fatalf("logging = %+v", cfg.Logging)
	}
	if cfg.Jobs.RetryBackoff != "10s" {
		t.Fatalf("retry_backoff = %q", cfg.Jobs.RetryBackoff)
	}
	if cfg.Posts.DailyLimits["twitter"] != 100 {
		t.Fatalf("daily_limits = %v", cfg.Posts.DailyLimits)
	}
	if p, ok := cfg.Platforms["twitter"]; !ok || p.RatePerSec != 2 {
		t.Fatalf("platforms = %v", cfg.Platforms)
	}
	if cfg.Storage == nil || cfg.Storage.Driver != "sqlite" {
		t.Fatalf("storage = %+v", cfg.Storage)
	}
	if cfg.Metrics != nil {
		t.Fatalf("metrics should be unset, got %+v", cfg.Metrics)
	}
}

func TestParseJSON(t *testing.T) {
	path := writeConfig(t, "config.json", `{"logging":{"level":"info","console":false,"file":{"enabled":false}},"jobs":{"enabled":false},"posts":{}}`)
	cfg, err := NewManager(path).Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Logging.Level != "info" {
		t.Fatalf("level = %q", cfg.Logging.Level)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, "config.yaml", "logging:\n  level: info\nnot_a_field: 1\n")
	if _, err := NewManager(path).Parse(); err == nil {
		t.Fatal("expected unknown-field error")
	}
}

func TestParseRejectsTrailingData(t *testing.T) {
	path := writeConfig(t, "config.json", `{"logging":{"level":"info","console":true,"file":{"enabled":false}},"jobs":{"enabled":false},"posts":{}} {}`)
	if _, err := NewManager(path).Parse(); err == nil {
		t.Fatal("expected trailing-data error")
	}
}

func TestLoadCommits(t *testing.T) {
	path := writeConfig(t, "config.yaml", "logging:\n  level: warn\njobs:\n  enabled: false\nposts: {}\n")
	m := NewManager(path)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := m.Get(); got != cfg {
		t.Fatalf("Get returned %p, want committed %p", got, cfg)
	}
}

func TestParseDurationField(t *testing.T) {
	cases := []struct {
		raw     string
		want    time.Duration
		wantErr bool
	}{
		{"", 0, false},
		{"  ", 0, false},
		{"500ms", 500 * time.Millisecond, false},
		{"10s", 10 * time.Second, false},
		{"-5s", 0, true},
		{"nope", 0, true},
	}
	for _, tc := range cases {
		got, err := ParseDurationField("x", tc.raw)
		if tc.wantErr {
			if err == nil {
				t.Errorf("%q: expected error", tc.raw)
			}
			continue
		}
		if err != nil {
			t.Errorf("%q: %v", tc.raw, err)
			continue
		}
		if got != tc.want {
			t.Errorf("%q: got %v, want %v", tc.raw, got, tc.want)
		}
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	def := 5 * time.Second
	if d, err := ParseDurationOrDefault("x", "", def); err != nil || d != def {
		t.Fatalf("empty: got %v, %v", d, err)
	}
	if d, err := ParseDurationOrDefault("x", "2s", def); err != nil || d != 2*time.Second {
		t.Fatalf("set: got %v, %v", d, err)
	}
	if _, err := ParseDurationOrDefault("x", "bad", def); err == nil {
		t.Fatal("expected error")
	}
}
