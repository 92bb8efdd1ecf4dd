package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MrEthical07/portalauth"
)

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("", nil)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Listen != ":8080" || cfg.Directory.Driver != "memory" || cfg.Delivery.Driver != "log" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.needsRedis() {
		t.Fatal("defaults should not need redis")
	}

	ec := cfg.EngineConfig()
	if ec.Challenge.Digits != 6 || ec.Challenge.TTL != 10*time.Minute || ec.Challenge.MaxAttempts != 3 {
		t.Fatalf("unexpected challenge defaults: %+v", ec.Challenge)
	}
	if ec.Session.IdleTimeout != 30*time.Minute || !ec.Session.InvalidateOnPasswordReset {
		t.Fatalf("unexpected session defaults: %+v", ec.Session)
	}
	if err := ec.Validate(); err != nil {
		t.Fatalf("engine config invalid: %v", err)
	}
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "portal.yaml")
	yaml := `
listen: ":9000"
log:
  level: debug
  format: text
directory:
  driver: postgres
  postgres_dsn: postgres://portal@db/portal
  migrate: true
auth:
  code_ttl: 5m
  session_store: redis
bootstrap:
  admin_username: root
  admin_password: rootpass
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadConfig(path, envMap(map[string]string{
		"PORTAL_LISTEN":       ":9100",
		"PORTAL_IDLE_TIMEOUT": "45m",
		"PORTAL_RATE_LIMIT":   "true",
		"PORTAL_REDIS_DB":     "2",
		"PORTAL_LOG_FORMAT":   "",
	}))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Listen != ":9100" {
		t.Fatalf("env should override listen, got %q", cfg.Listen)
	}
	if cfg.Log.Format != "text" {
		t.Fatalf("empty env value must not override, got %q", cfg.Log.Format)
	}
	if cfg.Directory.Driver != "postgres" || !cfg.Directory.Migrate {
		t.Fatalf("unexpected directory: %+v", cfg.Directory)
	}
	if cfg.Redis.DB != 2 || !cfg.needsRedis() {
		t.Fatalf("unexpected redis: %+v", cfg.Redis)
	}

	ec := cfg.EngineConfig()
	if ec.Challenge.TTL != 5*time.Minute || ec.Session.IdleTimeout != 45*time.Minute {
		t.Fatalf("unexpected durations: ttl=%s idle=%s", ec.Challenge.TTL, ec.Session.IdleTimeout)
	}
	if ec.Session.Store != portalauth.BackendRedis || !ec.RateLimit.Enabled {
		t.Fatalf("unexpected engine config: %+v", ec)
	}
	// Untouched engine fields keep their defaults.
	if ec.Challenge.Digits != 6 || ec.Challenge.Store != portalauth.BackendMemory {
		t.Fatalf("expected defaults preserved: %+v", ec.Challenge)
	}
}

func TestLoadConfigRejects(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"bad duration", map[string]string{"PORTAL_CODE_TTL": "ten"}, "PORTAL_CODE_TTL"},
		{"bad bool", map[string]string{"PORTAL_AUDIT": "maybe"}, "PORTAL_AUDIT"},
		{"bad redis db", map[string]string{"PORTAL_REDIS_DB": "x"}, "PORTAL_REDIS_DB"},
		{"bad level", map[string]string{"PORTAL_LOG_LEVEL": "loud"}, "log level"},
		{"bad format", map[string]string{"PORTAL_LOG_FORMAT": "xml"}, "log format"},
		{"postgres without dsn", map[string]string{"PORTAL_DIRECTORY_DRIVER": "postgres"}, "postgres_dsn"},
		{"mysql without addr", map[string]string{"PORTAL_DIRECTORY_DRIVER": "mysql"}, "mysql"},
		{"unknown directory", map[string]string{"PORTAL_DIRECTORY_DRIVER": "ldap"}, "directory driver"},
		{"amqp without url", map[string]string{"PORTAL_DELIVERY_DRIVER": "amqp"}, "amqp_url"},
		{"unknown delivery", map[string]string{"PORTAL_DELIVERY_DRIVER": "fax"}, "delivery driver"},
		{"half bootstrap", map[string]string{"PORTAL_ADMIN_USERNAME": "root"}, "bootstrap"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadConfig("", envMap(tc.env))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error mentioning %q, got %v", tc.want, err)
			}
		})
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"), nil); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestParseLevel(t *testing.T) {
	for _, s := range []string{"debug", "INFO", "", "warn", "warning", " error "} {
		if _, err := parseLevel(s); err != nil {
			t.Fatalf("parseLevel(%q): %v", s, err)
		}
	}
	if _, err := parseLevel("trace"); err == nil {
		t.Fatal("expected error for trace")
	}
}
