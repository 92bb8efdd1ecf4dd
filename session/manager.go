package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrEthical07/portalauth/internal"
	"github.com/MrEthical07/portalauth/internal/clock"
)

const createMaxAttempts = 3

// Config controls session lifetime.
type Config struct {
	// IdleTimeout is how long a session survives without activity.
	IdleTimeout time.Duration
}

// DefaultConfig returns a thirty minute idle timeout.
func DefaultConfig() Config {
	return Config{IdleTimeout: 30 * time.Minute}
}

// Manager mints, validates, and revokes opaque session tokens.
type Manager struct {
	store    Store
	idle     time.Duration
	clock    clock.Clock
	newToken func() (string, error)
	logger   *slog.Logger
}

// Option customizes a Manager.
type Option func(*Manager)

func WithClock(c clock.Clock) Option {
	return func(m *Manager) {
		if c != nil {
			m.clock = c
		}
	}
}

// WithTokenSource replaces the random token generator, for tests.
func WithTokenSource(fn func() (string, error)) Option {
	return func(m *Manager) {
		if fn != nil {
			m.newToken = fn
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

func NewManager(store Store, cfg Config, opts ...Option) (*Manager, error) {
	if store == nil {
		return nil, errors.New("session store is required")
	}
	if cfg.IdleTimeout <= 0 {
		return nil, errors.New("session idle timeout must be > 0")
	}

	m := &Manager{
		store:    store,
		idle:     cfg.IdleTimeout,
		clock:    clock.Real(),
		newToken: internal.NewToken,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Create starts a session for userID and returns its token.
func (m *Manager) Create(ctx context.Context, userID string) (string, error) {
	if userID == "" {
		return "", errors.New("session user id is empty")
	}

	now := m.clock.Now()
	sess := Session{
		UserID:       userID,
		CreatedAt:    now,
		LastActivity: now,
		IdleTimeout:  m.idle,
	}

	for i := 0; i < createMaxAttempts; i++ {
		token, err := m.newToken()
		if err != nil {
			return "", fmt.Errorf("mint session token: %w", err)
		}
		ok, err := m.store.Insert(ctx, internal.HashSecret(token), sess)
		if err != nil {
			return "", err
		}
		if ok {
			return token, nil
		}
	}
	return "", ErrTokenCollision
}

// Validate resolves token to its user and records the activity. It returns
// ErrSessionNotFound or ErrSessionExpired for tokens that do not
// authenticate; any other error is a store failure.
func (m *Manager) Validate(ctx context.Context, token string) (string, error) {
	sess, err := m.Lookup(ctx, token)
	if err != nil {
		return "", err
	}
	return sess.UserID, nil
}

// Lookup is Validate returning the whole session.
func (m *Manager) Lookup(ctx context.Context, token string) (Session, error) {
	if token == "" {
		return Session{}, ErrSessionNotFound
	}
	return m.store.Touch(ctx, internal.HashSecret(token), m.clock.Now())
}

// Invalidate removes the session behind token. Unknown tokens are not an
// error.
func (m *Manager) Invalidate(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	return m.store.Delete(ctx, internal.HashSecret(token))
}

// InvalidateUser removes every session owned by userID.
func (m *Manager) InvalidateUser(ctx context.Context, userID string) (int, error) {
	if userID == "" {
		return 0, nil
	}
	return m.store.DeleteUser(ctx, userID)
}

// Sweep removes sessions that are dead now.
func (m *Manager) Sweep(ctx context.Context) (int, error) {
	return m.store.Sweep(ctx, m.clock.Now())
}

// StartSweeper runs Sweep every interval until ctx is done. The returned
// channel is closed when the goroutine exits.
func (m *Manager) StartSweeper(ctx context.Context, interval time.Duration) <-chan struct{} {
	done := make(chan struct{})
	if interval <= 0 {
		close(done)
		return done
	}

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				removed, err := m.Sweep(ctx)
				if err != nil {
					m.logger.Warn("session sweep failed", "err", err)
					continue
				}
				if removed > 0 {
					m.logger.Debug("session sweep", "removed", removed)
				}
			}
		}
	}()
	return done
}

// IdleTimeout returns the configured idle timeout.
func (m *Manager) IdleTimeout() time.Duration {
	return m.idle
}
