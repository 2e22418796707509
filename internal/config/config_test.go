package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Notifier.DailyCap != 100 || cfg.GraceWindow() != 48*time.Hour {
		t.Fatalf("unexpected notifier defaults: %+v", cfg.Notifier)
	}
	if got := cfg.PaceInterval(); got != 1500*time.Millisecond {
		t.Fatalf("expected 1.5s pacing, got %v", got)
	}
	if len(cfg.Vendor.Sockets) != 4 || cfg.Vendor.AltHosts[0] != "pg.asrock.com" {
		t.Fatalf("unexpected vendor defaults: %+v", cfg.Vendor)
	}
	if cfg.DB.DSN != "" || cfg.Mirror.Kind != "" {
		t.Fatalf("expected memory store and no mirror by default")
	}
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
  api_key: secret
vendor:
  sockets: ["am5"]
http:
  timeout_seconds: 30
  pace_ms: 0
headless:
  enabled: true
  attempts: 5
  no_sandbox: true
checker:
  rounds: 3
notifier:
  daily_cap: 10
  grace_hours: 24
db:
  dsn: postgres://localhost/bios
snapshot:
  path: /var/lib/bios/models.json
mirror:
  kind: gcs
  gcs_bucket: bios-mirror
email:
  host: smtp.example.com
  from: alerts@example.com
redis:
  addr: localhost:6379
  lock_ttl_minutes: 30
logging:
  development: false
  level: debug
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 || cfg.Server.APIKey != "secret" {
		t.Fatalf("expected server overrides, got %+v", cfg.Server)
	}
	if len(cfg.Vendor.Sockets) != 1 || cfg.Vendor.Sockets[0] != "am5" {
		t.Fatalf("expected socket override, got %v", cfg.Vendor.Sockets)
	}
	if cfg.PaceInterval() != 0 {
		t.Fatalf("expected pacing disabled")
	}
	if !cfg.Headless.NoSandbox || cfg.Headless.Attempts != 5 {
		t.Fatalf("expected headless overrides, got %+v", cfg.Headless)
	}
	if cfg.Checker.Rounds != 3 || cfg.GraceWindow() != 24*time.Hour {
		t.Fatalf("expected checker/notifier overrides")
	}
	if cfg.Mirror.GCSBucket != "bios-mirror" || cfg.Mirror.ObjectName != "models.json" {
		t.Fatalf("expected mirror overrides with default object name, got %+v", cfg.Mirror)
	}
	if cfg.LockTTL() != 30*time.Minute {
		t.Fatalf("expected lock ttl 30m, got %v", cfg.LockTTL())
	}
	if cfg.Logging.Development || cfg.Logging.Level != "debug" {
		t.Fatalf("expected logging overrides, got %+v", cfg.Logging)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("BIOSNOTIFIER_NOTIFIER_DAILY_CAP", "7")
	t.Setenv("BIOSNOTIFIER_EMAIL_SITE_URL", "https://bios.example")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Notifier.DailyCap != 7 {
		t.Fatalf("expected env cap 7, got %d", cfg.Notifier.DailyCap)
	}
	if cfg.Email.SiteURL != "https://bios.example" {
		t.Fatalf("expected env site url, got %q", cfg.Email.SiteURL)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server:   ServerConfig{Port: 8080},
		HTTP:     HTTPConfig{TimeoutSeconds: 10},
		Checker:  CheckerConfig{Rounds: 2},
		Notifier: NotifierConfig{DailyCap: 100, GraceHours: 48},
		Snapshot: SnapshotConfig{Path: "models.json"},
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("base config should be valid: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"invalid port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"invalid timeout", func(c *Config) { c.HTTP.TimeoutSeconds = 0 }, "http.timeout_seconds"},
		{"negative pace", func(c *Config) { c.HTTP.PaceMillis = -1 }, "http.pace_ms"},
		{"headless without attempts", func(c *Config) { c.Headless.Enabled = true }, "headless.attempts"},
		{"no rounds", func(c *Config) { c.Checker.Rounds = 0 }, "checker.rounds"},
		{"no cap", func(c *Config) { c.Notifier.DailyCap = 0 }, "notifier.daily_cap"},
		{"no grace", func(c *Config) { c.Notifier.GraceHours = 0 }, "notifier.grace_hours"},
		{"no snapshot", func(c *Config) { c.Snapshot.Path = "" }, "snapshot.path"},
		{"gcs without bucket", func(c *Config) { c.Mirror.Kind = "gcs" }, "mirror.gcs_bucket"},
		{"local without dir", func(c *Config) { c.Mirror.Kind = "local" }, "mirror.local_dir"},
		{"unknown mirror", func(c *Config) { c.Mirror.Kind = "git" }, "mirror.kind"},
		{"smtp without sender", func(c *Config) { c.Email.Host = "smtp.example.com" }, "email.from"},
		{"half pubsub", func(c *Config) { c.Report.PubSubTopic = "runs" }, "report.pubsub"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
