package portalauth

import (
	"context"
	"errors"
	"log/slog"

	"github.com/MrEthical07/portalauth/challenge"
	"github.com/MrEthical07/portalauth/delivery"
	"github.com/MrEthical07/portalauth/internal/audit"
	"github.com/MrEthical07/portalauth/internal/clock"
	"github.com/MrEthical07/portalauth/internal/rate"
	"github.com/MrEthical07/portalauth/password"
	"github.com/MrEthical07/portalauth/session"
	"github.com/redis/go-redis/v9"
)

// dummyPassword is hashed once at build time so Login can spend the same
// work on unknown identifiers as on real accounts.
const dummyPassword = "portalauth-timing-equalizer"

// Builder assembles an Engine. A Builder can be used once.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	directory UserDirectory
	sender    delivery.Sender
	auditSink AuditSink
	logger    *slog.Logger
	clock     Clock

	codeGenerator func(digits int) (string, error)
	tokenSource   func() (string, error)

	built bool
}

// New returns a Builder preloaded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis supplies the client used by Redis-backed stores and the rate
// limiter. It is only required when the config selects one of them.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

func (b *Builder) WithDirectory(dir UserDirectory) *Builder {
	b.directory = dir
	return b
}

// WithDelivery sets the adapter that hands codes to users.
func (b *Builder) WithDelivery(sender delivery.Sender) *Builder {
	b.sender = sender
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

func (b *Builder) WithClock(c Clock) *Builder {
	b.clock = c
	return b
}

// WithCodeGenerator replaces the random code generator. Tests use it to
// issue known codes.
func (b *Builder) WithCodeGenerator(fn func(digits int) (string, error)) *Builder {
	b.codeGenerator = fn
	return b
}

func (b *Builder) WithTokenSource(fn func() (string, error)) *Builder {
	b.tokenSource = fn
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires the engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if b.redis == nil && cfg.usesRedis() {
		if cfg.RateLimit.Enabled {
			return nil, errors.New("RateLimit requires redis client")
		}
		return nil, errors.New("redis store selected but no redis client provided")
	}
	if b.directory == nil {
		return nil, errors.New("user directory required")
	}
	if b.sender == nil {
		return nil, errors.New("delivery sender required")
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}
	var clk clock.Clock = clock.Real()
	if b.clock != nil {
		clk = b.clock
	}

	// -------- PASSWORD HASHER --------
	primary, err := password.NewArgon2(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		return nil, err
	}
	var legacy []password.Verifier
	if cfg.Password.AcceptBcrypt {
		legacy = append(legacy, password.Bcrypt{})
	}
	if cfg.Password.AcceptLegacySHA256 {
		legacy = append(legacy, password.LegacySHA256{})
	}
	hasher := password.NewChain(primary, legacy...)
	dummyHash, err := hasher.Hash(dummyPassword)
	if err != nil {
		return nil, err
	}

	// -------- CHALLENGES --------
	var challengeStore challenge.Store
	var challengeMemory *challenge.MemoryStore
	if cfg.Challenge.Store == BackendRedis {
		challengeStore = challenge.NewRedisStore(b.redis, cfg.Challenge.RedisPrefix)
	} else {
		challengeMemory = challenge.NewMemoryStore()
		challengeStore = challengeMemory
	}
	challengeOpts := []challenge.Option{challenge.WithClock(clk)}
	if b.codeGenerator != nil {
		challengeOpts = append(challengeOpts, challenge.WithCodeGenerator(b.codeGenerator))
	}
	challenges, err := challenge.NewManager(challengeStore, b.sender, challenge.Config{
		Digits:      cfg.Challenge.Digits,
		TTL:         cfg.Challenge.TTL,
		MaxAttempts: cfg.Challenge.MaxAttempts,
	}, challengeOpts...)
	if err != nil {
		return nil, err
	}

	// -------- SESSIONS --------
	var sessionStore session.Store
	if cfg.Session.Store == BackendRedis {
		sessionStore = session.NewRedisStore(b.redis, cfg.Session.RedisPrefix)
	} else {
		sessionStore = session.NewMemoryStore()
	}
	sessionOpts := []session.Option{session.WithClock(clk), session.WithLogger(logger)}
	if b.tokenSource != nil {
		sessionOpts = append(sessionOpts, session.WithTokenSource(b.tokenSource))
	}
	sessions, err := session.NewManager(sessionStore, session.Config{
		IdleTimeout: cfg.Session.IdleTimeout,
	}, sessionOpts...)
	if err != nil {
		return nil, err
	}

	engine := &Engine{
		config:          cloneConfig(cfg),
		logger:          logger,
		clock:           clk,
		directory:       b.directory,
		hasher:          hasher,
		dummyHash:       dummyHash,
		challenges:      challenges,
		challengeMemory: challengeMemory,
		sessions:        sessions,
		audit: audit.NewDispatcher(audit.Config{
			Enabled:      cfg.Audit.Enabled,
			BufferSize:   cfg.Audit.BufferSize,
			DropIfFull:   cfg.Audit.DropIfFull,
			DrainTimeout: cfg.Audit.DrainTimeout,
			Logger:       logger,
		}, b.auditSink),
		metrics: NewMetrics(cfg.Metrics),
	}

	if cfg.RateLimit.Enabled {
		engine.limiter = rate.New(b.redis, rate.Config{
			EnableIPThrottle: cfg.RateLimit.EnableIPThrottle,
			MaxLoginFailures: cfg.RateLimit.MaxLoginFailures,
			LoginCooldown:    cfg.RateLimit.LoginCooldown,
			MaxRequests:      cfg.RateLimit.MaxResetRequests,
			RequestWindow:    cfg.RateLimit.ResetWindow,
		})
	}

	if cfg.Session.SweepInterval > 0 {
		ctx, cancel := context.WithCancel(context.Background())
		engine.stopSweep = cancel
		engine.sweepDone = engine.startSweepers(ctx, cfg.Session.SweepInterval)
	}

	b.built = true

	return engine, nil
}
