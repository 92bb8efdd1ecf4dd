package portalauth

import (
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/portalauth/authz"
)

// Config is the complete engine configuration. Start from DefaultConfig and
// override fields; Build validates the result.
type Config struct {
	Password     PasswordConfig
	Challenge    ChallengeConfig
	Session      SessionConfig
	Registration RegistrationConfig
	RateLimit    RateLimitConfig
	Audit        AuditConfig
	Metrics      MetricsConfig
}

// Backend selects where a store keeps its state.
type Backend string

const (
	BackendMemory Backend = "memory"
	BackendRedis  Backend = "redis"
)

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig holds the Argon2id cost parameters and the password
// policy. AcceptBcrypt and AcceptLegacySHA256 let migrated accounts log in;
// with UpgradeOnLogin their digests are rewritten to Argon2id.
type PasswordConfig struct {
	Memory      uint32 // in KB
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32

	MinLength int
	MaxLength int // bytes

	UpgradeOnLogin     bool
	AcceptBcrypt       bool
	AcceptLegacySHA256 bool
}

/*
====================================
CHALLENGE CONFIG
====================================
*/

// ChallengeConfig controls verification codes.
type ChallengeConfig struct {
	Digits      int
	TTL         time.Duration
	MaxAttempts int
	Store       Backend
	RedisPrefix string
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig controls session lifetime and storage.
type SessionConfig struct {
	IdleTimeout time.Duration
	// InvalidateOnPasswordReset drops every session of the user once a reset
	// completes.
	InvalidateOnPasswordReset bool
	// SweepInterval runs a background sweep of the memory stores. Zero
	// disables it.
	SweepInterval time.Duration
	Store         Backend
	RedisPrefix   string
}

/*
====================================
REGISTRATION CONFIG
====================================
*/

// RegistrationConfig controls self-registration.
type RegistrationConfig struct {
	// SelfRegistrableRoles are the roles Register accepts. Other roles can
	// only be created through ProvisionAccount.
	SelfRegistrableRoles []authz.Role
	DefaultCourse        int
	MaxCourse            int
	MaxUsernameLength    int
}

/*
====================================
RATE LIMIT CONFIG
====================================
*/

// RateLimitConfig enables Redis-backed limits on login failures and reset
// requests. Enabling it requires a Redis client.
type RateLimitConfig struct {
	Enabled          bool
	EnableIPThrottle bool

	MaxLoginFailures int
	LoginCooldown    time.Duration

	MaxResetRequests int
	ResetWindow      time.Duration
}

// AuditConfig controls the asynchronous audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
	// DrainTimeout bounds how long Close keeps delivering buffered events.
	// Zero waits for the buffer to empty.
	DrainTimeout time.Duration
}

// MetricsConfig controls in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns the portal defaults: six-digit codes valid for ten
// minutes with three attempts, and sessions that expire after thirty idle
// minutes, all kept in memory.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		Password: PasswordConfig{
			Memory:             64 * 1024,
			Time:               3,
			Parallelism:        2,
			SaltLength:         16,
			KeyLength:          32,
			MinLength:          6,
			MaxLength:          128,
			UpgradeOnLogin:     true,
			AcceptBcrypt:       true,
			AcceptLegacySHA256: true,
		},
		Challenge: ChallengeConfig{
			Digits:      6,
			TTL:         10 * time.Minute,
			MaxAttempts: 3,
			Store:       BackendMemory,
			RedisPrefix: "ac",
		},
		Session: SessionConfig{
			IdleTimeout:               30 * time.Minute,
			InvalidateOnPasswordReset: true,
			SweepInterval:             time.Minute,
			Store:                     BackendMemory,
			RedisPrefix:               "as",
		},
		Registration: RegistrationConfig{
			SelfRegistrableRoles: []authz.Role{
				authz.RoleStudent,
				authz.RoleClassRepresentative,
				authz.RoleTeacher,
			},
			DefaultCourse:     1,
			MaxCourse:         6,
			MaxUsernameLength: 64,
		},
		RateLimit: RateLimitConfig{
			Enabled:          false,
			EnableIPThrottle: true,
			MaxLoginFailures: 5,
			LoginCooldown:    15 * time.Minute,
			MaxResetRequests: 3,
			ResetWindow:      time.Hour,
		},
		Audit: AuditConfig{
			Enabled:      false,
			BufferSize:   1024,
			DropIfFull:   true,
			DrainTimeout: 5 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	if cfg.Registration.SelfRegistrableRoles != nil {
		out.Registration.SelfRegistrableRoles = append([]authz.Role(nil), cfg.Registration.SelfRegistrableRoles...)
	}
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	// Password
	if c.Password.Memory < 8*1024 {
		return errors.New("Password Memory must be >= 8192 KB")
	}
	if c.Password.Time < 1 {
		return errors.New("Password Time must be >= 1")
	}
	if c.Password.Parallelism < 1 {
		return errors.New("Password Parallelism must be >= 1")
	}
	if c.Password.SaltLength < 16 {
		return errors.New("Password SaltLength must be >= 16")
	}
	if c.Password.KeyLength < 16 {
		return errors.New("Password KeyLength must be >= 16")
	}
	if c.Password.MinLength < 1 {
		return errors.New("Password MinLength must be >= 1")
	}
	if c.Password.MaxLength < c.Password.MinLength {
		return errors.New("Password MaxLength must be >= MinLength")
	}
	if c.Password.MaxLength > 1024 {
		return errors.New("Password MaxLength must be <= 1024")
	}

	// Challenge
	if c.Challenge.Digits < 4 || c.Challenge.Digits > 10 {
		return errors.New("Challenge Digits must be between 4 and 10")
	}
	if c.Challenge.TTL <= 0 {
		return errors.New("Challenge TTL must be > 0")
	}
	if c.Challenge.MaxAttempts < 1 || c.Challenge.MaxAttempts > 0xFFFF {
		return errors.New("Challenge MaxAttempts must be between 1 and 65535")
	}
	if err := validateBackend("Challenge", c.Challenge.Store, c.Challenge.RedisPrefix); err != nil {
		return err
	}

	// Session
	if c.Session.IdleTimeout <= 0 {
		return errors.New("Session IdleTimeout must be > 0")
	}
	if c.Session.SweepInterval < 0 {
		return errors.New("Session SweepInterval must be >= 0")
	}
	if err := validateBackend("Session", c.Session.Store, c.Session.RedisPrefix); err != nil {
		return err
	}
	if c.Session.Store == BackendRedis && c.Challenge.Store == BackendRedis &&
		c.Session.RedisPrefix == c.Challenge.RedisPrefix {
		return errors.New("Session and Challenge RedisPrefix must differ")
	}

	// Registration
	if len(c.Registration.SelfRegistrableRoles) == 0 {
		return errors.New("Registration SelfRegistrableRoles must not be empty")
	}
	for _, r := range c.Registration.SelfRegistrableRoles {
		if !r.Valid() {
			return fmt.Errorf("Registration SelfRegistrableRoles contains unknown role %q", r)
		}
	}
	if c.Registration.MaxCourse < 1 {
		return errors.New("Registration MaxCourse must be >= 1")
	}
	if c.Registration.DefaultCourse < 1 || c.Registration.DefaultCourse > c.Registration.MaxCourse {
		return errors.New("Registration DefaultCourse must be between 1 and MaxCourse")
	}
	if c.Registration.MaxUsernameLength < 1 {
		return errors.New("Registration MaxUsernameLength must be >= 1")
	}

	// Rate limits
	if c.RateLimit.Enabled {
		if c.RateLimit.MaxLoginFailures < 0 || c.RateLimit.MaxResetRequests < 0 {
			return errors.New("RateLimit maxima must be >= 0")
		}
		if c.RateLimit.MaxLoginFailures > 0 && c.RateLimit.LoginCooldown <= 0 {
			return errors.New("RateLimit LoginCooldown must be > 0 when MaxLoginFailures is set")
		}
		if c.RateLimit.MaxResetRequests > 0 && c.RateLimit.ResetWindow <= 0 {
			return errors.New("RateLimit ResetWindow must be > 0 when MaxResetRequests is set")
		}
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}
	if c.Audit.DrainTimeout < 0 {
		return errors.New("Audit DrainTimeout must be >= 0")
	}

	return nil
}

func validateBackend(section string, b Backend, prefix string) error {
	switch b {
	case BackendMemory:
		return nil
	case BackendRedis:
		if prefix == "" {
			return fmt.Errorf("%s RedisPrefix must not be empty", section)
		}
		return nil
	default:
		return fmt.Errorf("%s Store must be %q or %q", section, BackendMemory, BackendRedis)
	}
}

func (c *Config) usesRedis() bool {
	return c.Challenge.Store == BackendRedis || c.Session.Store == BackendRedis || c.RateLimit.Enabled
}
