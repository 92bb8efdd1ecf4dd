package session

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrSessionNotFound is returned for tokens that map to no session.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionExpired is returned the first time a dead session is
	// touched. The session is removed in the same step.
	ErrSessionExpired = errors.New("session expired")
	// ErrTokenCollision is returned when freshly minted tokens keep hitting
	// existing sessions.
	ErrTokenCollision = errors.New("session token collision")
	// ErrStoreUnavailable wraps backend failures.
	ErrStoreUnavailable = errors.New("session store unavailable")
)

// Key is the SHA-256 of a session token.
type Key = [32]byte

// Store persists sessions. Every method must be safe for concurrent use,
// and operations on one key must be serialized.
type Store interface {
	// Insert stores s under key unless the key is taken. It reports
	// whether the insert happened.
	Insert(ctx context.Context, key Key, s Session) (bool, error)
	// Touch loads the session, removes it with ErrSessionExpired when it is
	// dead at now, and otherwise advances LastActivity to now.
	Touch(ctx context.Context, key Key, now time.Time) (Session, error)
	// Delete removes the session if present.
	Delete(ctx context.Context, key Key) error
	// DeleteUser removes every session of userID and reports how many
	// were removed.
	DeleteUser(ctx context.Context, userID string) (int, error)
	// Sweep removes sessions that are dead at now.
	Sweep(ctx context.Context, now time.Time) (int, error)
}
