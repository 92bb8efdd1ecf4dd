package challenge

import (
	"context"
	"crypto/subtle"
	"errors"
	"time"

	"github.com/MrEthical07/portalauth/authz"
	"github.com/MrEthical07/portalauth/delivery"
)

// Purpose separates registration codes from password reset codes. Both share
// the one-live-challenge-per-identifier slot.
type Purpose string

const (
	PurposeVerify Purpose = "verify"
	PurposeReset  Purpose = "reset"
)

func (p Purpose) Valid() bool {
	return p == PurposeVerify || p == PurposeReset
}

// Outcome is the result of one validation attempt. The zero value is
// NotFound so an unset Result never reads as a success.
type Outcome int

const (
	NotFound Outcome = iota
	Success
	CodeMismatch
	Expired
	AttemptsExhausted
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case CodeMismatch:
		return "code_mismatch"
	case Expired:
		return "expired"
	case AttemptsExhausted:
		return "attempts_exhausted"
	default:
		return "not_found"
	}
}

var (
	// ErrInvalidRequest is returned for malformed issue requests.
	ErrInvalidRequest = errors.New("invalid challenge request")
	// ErrDeliveryFailed reports that the code could not be handed to the
	// delivery adapter. The challenge is stored regardless.
	ErrDeliveryFailed = errors.New("could not deliver code")
	// ErrStoreUnavailable wraps backend failures of a Store.
	ErrStoreUnavailable = errors.New("challenge store unavailable")
)

// Challenge is the stored state of one live code. The code itself is never
// kept, only its SHA-256.
type Challenge struct {
	Identifier string
	CodeHash   [32]byte
	Role       authz.Role
	Channel    delivery.Channel
	Purpose    Purpose
	IssuedAt   time.Time
	ExpiresAt  time.Time
	Remaining  int
}

// Result is what Validate reports back. Role is set only on Success;
// Remaining is meaningful on CodeMismatch.
type Result struct {
	Outcome   Outcome
	Role      authz.Role
	Remaining int
}

// Store persists challenges keyed by identifier. Put replaces whatever is
// stored for the identifier. Attempt must apply the whole
// decrement/expiry/compare/delete sequence atomically for one identifier.
type Store interface {
	Put(ctx context.Context, c Challenge) error
	Get(ctx context.Context, identifier string) (Challenge, bool, error)
	Delete(ctx context.Context, identifier string) error
	Attempt(ctx context.Context, identifier string, codeHash [32]byte, purpose Purpose, now time.Time) (Result, error)
}

// apply runs one attempt against c in place. keep reports whether the
// challenge survives the attempt.
func apply(c *Challenge, codeHash [32]byte, purpose Purpose, now time.Time) (res Result, keep bool) {
	if c.Purpose != purpose {
		// Codes of the other flow neither match nor cost an attempt.
		return Result{Outcome: NotFound}, true
	}

	c.Remaining--
	if c.Remaining < 0 {
		c.Remaining = 0
	}

	if now.After(c.ExpiresAt) {
		return Result{Outcome: Expired}, false
	}

	if subtle.ConstantTimeCompare(c.CodeHash[:], codeHash[:]) == 1 {
		return Result{Outcome: Success, Role: c.Role, Remaining: c.Remaining}, false
	}

	if c.Remaining == 0 {
		return Result{Outcome: AttemptsExhausted}, false
	}
	return Result{Outcome: CodeMismatch, Remaining: c.Remaining}, true
}
