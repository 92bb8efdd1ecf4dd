package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/MrEthical07/portalauth"
	"gopkg.in/yaml.v3"
)

// Config is the daemon configuration. It is read from a YAML file, then
// PORTAL_* environment variables override single fields.
type Config struct {
	Listen string `yaml:"listen"`
	// SecureCookies marks the session cookie Secure. Enable behind TLS.
	SecureCookies bool `yaml:"secure_cookies"`

	Log       LogConfig       `yaml:"log"`
	Redis     RedisConfig     `yaml:"redis"`
	Directory DirectoryConfig `yaml:"directory"`
	Delivery  DeliveryConfig  `yaml:"delivery"`
	Auth      AuthConfig      `yaml:"auth"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Bootstrap BootstrapConfig `yaml:"bootstrap"`
}

type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is json or text.
	Format string `yaml:"format"`
}

// RedisConfig is only used when a store or the rate limiter needs Redis.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type DirectoryConfig struct {
	// Driver is memory, postgres or mysql.
	Driver   string      `yaml:"driver"`
	Postgres string      `yaml:"postgres_dsn"`
	MySQL    MySQLConfig `yaml:"mysql"`
	Migrate  bool        `yaml:"migrate"`
}

type MySQLConfig struct {
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Addr     string `yaml:"addr"`
	Name     string `yaml:"name"`
}

type DeliveryConfig struct {
	// Driver is log or amqp.
	Driver     string `yaml:"driver"`
	AMQPURL    string `yaml:"amqp_url"`
	EmailQueue string `yaml:"email_queue"`
	SMSQueue   string `yaml:"sms_queue"`
}

type AuthConfig struct {
	CodeDigits        int           `yaml:"code_digits"`
	CodeTTL           time.Duration `yaml:"code_ttl"`
	MaxAttempts       int           `yaml:"max_attempts"`
	IdleTimeout       time.Duration `yaml:"idle_timeout"`
	ChallengeStore    string        `yaml:"challenge_store"`
	SessionStore      string        `yaml:"session_store"`
	RateLimit         bool          `yaml:"rate_limit"`
	Audit             bool          `yaml:"audit"`
	LatencyHistograms bool          `yaml:"latency_histograms"`
	// KeepSessionsOnReset leaves sessions alive after a password reset.
	KeepSessionsOnReset bool `yaml:"keep_sessions_on_reset"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// BootstrapConfig provisions an administrator at startup when the username
// is not taken yet.
type BootstrapConfig struct {
	AdminUsername string `yaml:"admin_username"`
	AdminPassword string `yaml:"admin_password"`
}

// DefaultConfig runs everything in memory and logs codes instead of sending
// them.
func DefaultConfig() Config {
	engine := portalauth.DefaultConfig()
	return Config{
		Listen: ":8080",
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Directory: DirectoryConfig{
			Driver: "memory",
		},
		Delivery: DeliveryConfig{
			Driver:     "log",
			EmailQueue: "portal.codes.email",
			SMSQueue:   "portal.codes.sms",
		},
		Auth: AuthConfig{
			CodeDigits:     engine.Challenge.Digits,
			CodeTTL:        engine.Challenge.TTL,
			MaxAttempts:    engine.Challenge.MaxAttempts,
			IdleTimeout:    engine.Session.IdleTimeout,
			ChallengeStore: string(portalauth.BackendMemory),
			SessionStore:   string(portalauth.BackendMemory),
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// LoadConfig reads path over the defaults and applies environment
// overrides. An empty path skips the file.
func LoadConfig(path string, lookup func(string) (string, bool)) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(lookup); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if lookup == nil {
		return nil
	}
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	boolean := func(key string, dst *bool) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = b
		return nil
	}
	duration := func(key string, dst *time.Duration) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = d
		return nil
	}

	str("PORTAL_LISTEN", &c.Listen)
	str("PORTAL_LOG_LEVEL", &c.Log.Level)
	str("PORTAL_LOG_FORMAT", &c.Log.Format)
	str("PORTAL_REDIS_ADDR", &c.Redis.Addr)
	str("PORTAL_REDIS_PASSWORD", &c.Redis.Password)
	str("PORTAL_DIRECTORY_DRIVER", &c.Directory.Driver)
	str("PORTAL_POSTGRES_DSN", &c.Directory.Postgres)
	str("PORTAL_MYSQL_USER", &c.Directory.MySQL.User)
	str("PORTAL_MYSQL_PASSWORD", &c.Directory.MySQL.Password)
	str("PORTAL_MYSQL_ADDR", &c.Directory.MySQL.Addr)
	str("PORTAL_MYSQL_NAME", &c.Directory.MySQL.Name)
	str("PORTAL_DELIVERY_DRIVER", &c.Delivery.Driver)
	str("PORTAL_AMQP_URL", &c.Delivery.AMQPURL)
	str("PORTAL_CHALLENGE_STORE", &c.Auth.ChallengeStore)
	str("PORTAL_SESSION_STORE", &c.Auth.SessionStore)
	str("PORTAL_ADMIN_USERNAME", &c.Bootstrap.AdminUsername)
	str("PORTAL_ADMIN_PASSWORD", &c.Bootstrap.AdminPassword)

	var errs []error
	errs = append(errs,
		boolean("PORTAL_SECURE_COOKIES", &c.SecureCookies),
		boolean("PORTAL_DIRECTORY_MIGRATE", &c.Directory.Migrate),
		boolean("PORTAL_RATE_LIMIT", &c.Auth.RateLimit),
		boolean("PORTAL_AUDIT", &c.Auth.Audit),
		duration("PORTAL_CODE_TTL", &c.Auth.CodeTTL),
		duration("PORTAL_IDLE_TIMEOUT", &c.Auth.IdleTimeout),
	)
	if v, ok := lookup("PORTAL_REDIS_DB"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("PORTAL_REDIS_DB: %w", err))
		} else {
			c.Redis.DB = n
		}
	}
	return errors.Join(errs...)
}

// Validate checks the daemon-level settings. Engine settings are checked
// again by the engine builder.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return errors.New("listen address is required")
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("log format must be json or text, got %q", c.Log.Format)
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}

	switch c.Directory.Driver {
	case "memory":
	case "postgres":
		if c.Directory.Postgres == "" {
			return errors.New("directory postgres_dsn is required for the postgres driver")
		}
	case "mysql":
		if c.Directory.MySQL.Addr == "" || c.Directory.MySQL.Name == "" {
			return errors.New("directory mysql addr and name are required for the mysql driver")
		}
	default:
		return fmt.Errorf("directory driver must be memory, postgres or mysql, got %q", c.Directory.Driver)
	}

	switch c.Delivery.Driver {
	case "log":
	case "amqp":
		if c.Delivery.AMQPURL == "" {
			return errors.New("delivery amqp_url is required for the amqp driver")
		}
		if c.Delivery.EmailQueue == "" || c.Delivery.SMSQueue == "" {
			return errors.New("delivery email_queue and sms_queue are required for the amqp driver")
		}
	default:
		return fmt.Errorf("delivery driver must be log or amqp, got %q", c.Delivery.Driver)
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return errors.New("metrics path must start with /")
	}
	if (c.Bootstrap.AdminUsername == "") != (c.Bootstrap.AdminPassword == "") {
		return errors.New("bootstrap admin_username and admin_password must be set together")
	}
	return nil
}

// EngineConfig maps the daemon settings onto the engine defaults.
func (c *Config) EngineConfig() portalauth.Config {
	cfg := portalauth.DefaultConfig()
	cfg.Challenge.Digits = c.Auth.CodeDigits
	cfg.Challenge.TTL = c.Auth.CodeTTL
	cfg.Challenge.MaxAttempts = c.Auth.MaxAttempts
	cfg.Challenge.Store = portalauth.Backend(c.Auth.ChallengeStore)
	cfg.Session.IdleTimeout = c.Auth.IdleTimeout
	cfg.Session.Store = portalauth.Backend(c.Auth.SessionStore)
	cfg.Session.InvalidateOnPasswordReset = !c.Auth.KeepSessionsOnReset
	cfg.RateLimit.Enabled = c.Auth.RateLimit
	cfg.Audit.Enabled = c.Auth.Audit
	cfg.Metrics.Enabled = c.Metrics.Enabled
	cfg.Metrics.EnableLatencyHistograms = c.Auth.LatencyHistograms
	return cfg
}

func (c *Config) needsRedis() bool {
	ec := c.EngineConfig()
	return ec.Challenge.Store == portalauth.BackendRedis ||
		ec.Session.Store == portalauth.BackendRedis ||
		ec.RateLimit.Enabled
}
