package portalauth

import (
	"testing"
	"time"

	"github.com/MrEthical07/portalauth/authz"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Challenge.Digits != 6 || cfg.Challenge.TTL != 10*time.Minute || cfg.Challenge.MaxAttempts != 3 {
		t.Fatalf("unexpected challenge defaults: %+v", cfg.Challenge)
	}
	if cfg.Session.IdleTimeout != 30*time.Minute {
		t.Fatalf("unexpected idle timeout: %v", cfg.Session.IdleTimeout)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantValid bool
	}{
		{
			name:      "argon2 memory too low",
			mutate:    func(c *Config) { c.Password.Memory = 1024 },
			wantValid: false,
		},
		{
			name:      "password max below min",
			mutate:    func(c *Config) { c.Password.MinLength, c.Password.MaxLength = 10, 8 },
			wantValid: false,
		},
		{
			name:      "password max too large",
			mutate:    func(c *Config) { c.Password.MaxLength = 4096 },
			wantValid: false,
		},
		{
			name:      "eight digit codes",
			mutate:    func(c *Config) { c.Challenge.Digits = 8 },
			wantValid: true,
		},
		{
			name:      "three digit codes",
			mutate:    func(c *Config) { c.Challenge.Digits = 3 },
			wantValid: false,
		},
		{
			name:      "zero challenge ttl",
			mutate:    func(c *Config) { c.Challenge.TTL = 0 },
			wantValid: false,
		},
		{
			name:      "zero attempts",
			mutate:    func(c *Config) { c.Challenge.MaxAttempts = 0 },
			wantValid: false,
		},
		{
			name:      "unknown challenge store",
			mutate:    func(c *Config) { c.Challenge.Store = "etcd" },
			wantValid: false,
		},
		{
			name: "redis challenge store without prefix",
			mutate: func(c *Config) {
				c.Challenge.Store = BackendRedis
				c.Challenge.RedisPrefix = ""
			},
			wantValid: false,
		},
		{
			name: "shared redis prefix",
			mutate: func(c *Config) {
				c.Challenge.Store = BackendRedis
				c.Session.Store = BackendRedis
				c.Session.RedisPrefix = c.Challenge.RedisPrefix
			},
			wantValid: false,
		},
		{
			name:      "zero idle timeout",
			mutate:    func(c *Config) { c.Session.IdleTimeout = 0 },
			wantValid: false,
		},
		{
			name:      "negative sweep interval",
			mutate:    func(c *Config) { c.Session.SweepInterval = -time.Second },
			wantValid: false,
		},
		{
			name:      "sweeping disabled",
			mutate:    func(c *Config) { c.Session.SweepInterval = 0 },
			wantValid: true,
		},
		{
			name:      "no self registrable roles",
			mutate:    func(c *Config) { c.Registration.SelfRegistrableRoles = nil },
			wantValid: false,
		},
		{
			name: "unknown self registrable role",
			mutate: func(c *Config) {
				c.Registration.SelfRegistrableRoles = []authz.Role{"dean"}
			},
			wantValid: false,
		},
		{
			name:      "default course above max",
			mutate:    func(c *Config) { c.Registration.DefaultCourse = 7 },
			wantValid: false,
		},
		{
			name: "rate limit without cooldown",
			mutate: func(c *Config) {
				c.RateLimit.Enabled = true
				c.RateLimit.LoginCooldown = 0
			},
			wantValid: false,
		},
		{
			name: "rate limit with login limit off",
			mutate: func(c *Config) {
				c.RateLimit.Enabled = true
				c.RateLimit.MaxLoginFailures = 0
				c.RateLimit.LoginCooldown = 0
			},
			wantValid: true,
		},
		{
			name: "audit without buffer",
			mutate: func(c *Config) {
				c.Audit.Enabled = true
				c.Audit.BufferSize = 0
			},
			wantValid: false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.wantValid && err != nil {
				t.Fatalf("expected valid config, got %v", err)
			}
			if !tc.wantValid && err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestCloneConfigCopiesRoles(t *testing.T) {
	cfg := DefaultConfig()
	clone := cloneConfig(cfg)
	clone.Registration.SelfRegistrableRoles[0] = authz.RoleAdministrator

	if cfg.Registration.SelfRegistrableRoles[0] != authz.RoleStudent {
		t.Fatal("clone shares the roles slice with the original")
	}
}

func TestUsesRedis(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.usesRedis() {
		t.Fatal("default config should not need redis")
	}
	cfg.RateLimit.Enabled = true
	if !cfg.usesRedis() {
		t.Fatal("rate limiting needs redis")
	}
}
