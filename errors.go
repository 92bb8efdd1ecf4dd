package portalauth

import (
	"errors"

	"github.com/MrEthical07/portalauth/challenge"
)

var (
	// ErrEngineNotReady is returned by methods called on a nil or partially
	// built Engine.
	ErrEngineNotReady = errors.New("engine not initialized")
	// ErrInvalidRequest wraps input validation failures.
	ErrInvalidRequest = errors.New("invalid request")
	ErrUserNotFound   = errors.New("user not found")
	// ErrInvalidCredentials: the account exists but the password is wrong.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrRoleMismatch: the account's role differs from the one the caller
	// asked for.
	ErrRoleMismatch      = errors.New("role mismatch")
	ErrAccountUnverified = errors.New("account unverified")
	ErrAlreadyVerified   = errors.New("account already verified")
	// ErrIdentifierNotDeliverable is returned when a code is requested for
	// something that is neither an email address nor a phone number.
	ErrIdentifierNotDeliverable = errors.New("identifier cannot receive codes")
	// ErrChannelMismatch: the requested channel cannot reach the identifier.
	ErrChannelMismatch = errors.New("channel does not match identifier")
	// ErrDuplicateIdentifier is wrapped with the name of the taken field.
	ErrDuplicateIdentifier = errors.New("identifier already registered")
	ErrPasswordPolicy      = errors.New("password policy violation")
	ErrPasswordReuse       = errors.New("new password must be different from current password")
	// ErrDeliveryFailed is challenge.ErrDeliveryFailed, so either can be
	// matched with errors.Is.
	ErrDeliveryFailed = challenge.ErrDeliveryFailed
	// ErrUnauthenticated covers every token that does not resolve to a live
	// session of an existing account.
	ErrUnauthenticated    = errors.New("unauthenticated")
	ErrForbidden          = errors.New("forbidden")
	ErrNotTeacher         = errors.New("account is not a teacher")
	ErrLoginRateLimited   = errors.New("login rate limited")
	ErrResetRateLimited   = errors.New("password reset rate limited")
	ErrBackendUnavailable = errors.New("backend unavailable")
)
