package challenge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/portalauth/authz"
	"github.com/MrEthical07/portalauth/delivery"
	"github.com/MrEthical07/portalauth/internal"
	"github.com/MrEthical07/portalauth/internal/clock"
)

// Config controls code shape and lifetime.
type Config struct {
	Digits      int
	TTL         time.Duration
	MaxAttempts int
}

// DefaultConfig: six digits, ten minutes, three attempts.
func DefaultConfig() Config {
	return Config{
		Digits:      6,
		TTL:         10 * time.Minute,
		MaxAttempts: 3,
	}
}

func (c Config) validate() error {
	if c.Digits < 4 || c.Digits > 10 {
		return errors.New("challenge digits must be between 4 and 10")
	}
	if c.TTL <= 0 {
		return errors.New("challenge TTL must be > 0")
	}
	if c.MaxAttempts <= 0 || c.MaxAttempts > 0xFFFF {
		return errors.New("challenge max attempts must be between 1 and 65535")
	}
	return nil
}

// IssueRequest describes a challenge to create. An empty Channel is
// derived from the identifier.
type IssueRequest struct {
	Identifier string
	Channel    delivery.Channel
	Role       authz.Role
	Purpose    Purpose
}

// Issued describes a stored challenge. Code is the plaintext that was
// handed to the delivery adapter.
type Issued struct {
	Code      string
	Channel   delivery.Channel
	ExpiresAt time.Time
	Remaining int
}

// Manager issues and validates one-time codes.
type Manager struct {
	store    Store
	sender   delivery.Sender
	cfg      Config
	clock    clock.Clock
	generate func(digits int) (string, error)
}

// Option customizes a Manager.
type Option func(*Manager)

// WithClock replaces the time source.
func WithClock(c clock.Clock) Option {
	return func(m *Manager) {
		if c != nil {
			m.clock = c
		}
	}
}

// WithCodeGenerator replaces the random code source, for tests.
func WithCodeGenerator(fn func(digits int) (string, error)) Option {
	return func(m *Manager) {
		if fn != nil {
			m.generate = fn
		}
	}
}

// NewManager validates cfg and wires store and sender.
func NewManager(store Store, sender delivery.Sender, cfg Config, opts ...Option) (*Manager, error) {
	if store == nil {
		return nil, errors.New("challenge store is required")
	}
	if sender == nil {
		return nil, errors.New("delivery sender is required")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	m := &Manager{
		store:    store,
		sender:   sender,
		cfg:      cfg,
		clock:    clock.Real(),
		generate: internal.NewOTP,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Issue stores a fresh challenge for req.Identifier, replacing any live
// one, and then dispatches the code. The store write completes before
// delivery starts, and no lock is held while the sender runs. When delivery
// fails the challenge stays stored and the returned error wraps
// ErrDeliveryFailed, so the caller can offer a resend.
func (m *Manager) Issue(ctx context.Context, req IssueRequest) (Issued, error) {
	if req.Identifier == "" || !req.Purpose.Valid() || !req.Role.Valid() {
		return Issued{}, ErrInvalidRequest
	}

	channel := req.Channel
	if channel == "" {
		derived, err := delivery.ChannelFor(req.Identifier)
		if err != nil {
			return Issued{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		channel = derived
	}
	if !channel.Valid() {
		return Issued{}, fmt.Errorf("%w: unknown channel %q", ErrInvalidRequest, channel)
	}

	code, err := m.generate(m.cfg.Digits)
	if err != nil {
		return Issued{}, fmt.Errorf("generate code: %w", err)
	}
	if !internal.IsNumericCode(code, m.cfg.Digits) {
		return Issued{}, fmt.Errorf("generate code: malformed code of length %d", len(code))
	}

	now := m.clock.Now()
	c := Challenge{
		Identifier: req.Identifier,
		CodeHash:   internal.HashSecret(code),
		Role:       req.Role,
		Channel:    channel,
		Purpose:    req.Purpose,
		IssuedAt:   now,
		ExpiresAt:  now.Add(m.cfg.TTL),
		Remaining:  m.cfg.MaxAttempts,
	}
	if err := m.store.Put(ctx, c); err != nil {
		return Issued{}, err
	}

	issued := Issued{
		Code:      code,
		Channel:   channel,
		ExpiresAt: c.ExpiresAt,
		Remaining: c.Remaining,
	}

	if err := m.sender.Deliver(ctx, delivery.Message{
		Identifier: req.Identifier,
		Channel:    channel,
		Code:       code,
		Purpose:    string(req.Purpose),
		ExpiresAt:  c.ExpiresAt,
	}); err != nil {
		return issued, fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}

	return issued, nil
}

// Validate checks code against the live challenge for identifier. The
// error is reserved for store failures; every user-facing result is an
// Outcome. Submissions that are not well-formed codes still cost an attempt.
func (m *Manager) Validate(ctx context.Context, identifier, code string, purpose Purpose) (Result, error) {
	if identifier == "" {
		return Result{Outcome: NotFound}, nil
	}
	return m.store.Attempt(ctx, identifier, internal.HashSecret(code), purpose, m.clock.Now())
}

// Peek returns the live challenge for identifier without consuming an
// attempt. Expired challenges are reported as absent.
func (m *Manager) Peek(ctx context.Context, identifier string) (Challenge, bool, error) {
	c, ok, err := m.store.Get(ctx, identifier)
	if err != nil || !ok {
		return Challenge{}, false, err
	}
	if m.clock.Now().After(c.ExpiresAt) {
		return Challenge{}, false, nil
	}
	return c, true, nil
}

// Discard removes any challenge for identifier.
func (m *Manager) Discard(ctx context.Context, identifier string) error {
	return m.store.Delete(ctx, identifier)
}

// Config returns the manager's configuration.
func (m *Manager) Config() Config {
	return m.cfg
}
